// Package fsutil holds the durable file writes shared by the job store and
// the definition files.
package fsutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// EnsureDir creates dir and syncs it and its parent.
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := syncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		return syncDir(parent)
	}
	return nil
}

// WriteFileAtomic writes data to a hidden temp file next to path, syncs it
// and renames it into place. Readers see either the old or the new content.
// The temp name starts with a dot so directory watchers can skip it.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

// Hidden reports whether a base name is a dotfile, which includes the temp
// files written by WriteFileAtomic.
func Hidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
