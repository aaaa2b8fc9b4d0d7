package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// FileMonitor reports file events under a directory tree.
type FileMonitor struct {
	root   string
	emit   func(FileEvent)
	logger *slog.Logger
	now    func() time.Time

	// dirs is the set of watched directories. Only the Run goroutine
	// touches it.
	dirs map[string]bool
}

// NewFileMonitor returns a monitor for root. emit is called from the Run
// goroutine for every event and must not block for long.
func NewFileMonitor(root string, emit func(FileEvent), opts ...Option) (*FileMonitor, error) {
	if emit == nil {
		return nil, fmt.Errorf("file monitor: emit function is nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("file monitor: %w", err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &FileMonitor{
		root:   abs,
		emit:   emit,
		logger: o.logger.With("component", "file-monitor"),
		now:    o.now,
		dirs:   map[string]bool{},
	}, nil
}

// Root returns the absolute managed root.
func (m *FileMonitor) Root() string { return m.root }

// Run watches until ctx is cancelled. The watches are in place before ready
// is closed, so a file written after ready is never missed. ready may be nil.
func (m *FileMonitor) Run(ctx context.Context, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file monitor: %w", err)
	}
	defer w.Close()

	if err := m.watchTree(w, m.root, false); err != nil {
		return fmt.Errorf("file monitor: watch %s: %w", m.root, err)
	}
	m.logger.Info("watching managed root", "path", m.root, "dirs", len(m.dirs))
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			m.handle(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("watch error", "error", err)
		}
	}
}

func (m *FileMonitor) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	path := norm.NFC.String(ev.Name)
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Gone again before we looked.
			return
		}
		if info.IsDir() {
			// Files may have landed in the new directory before the
			// watch was added; report them as created.
			if err := m.watchTree(w, ev.Name, true); err != nil {
				m.logger.Warn("could not watch new directory", "path", path, "error", err)
			}
			return
		}
		m.send(path, FileCreated)
	case ev.Has(fsnotify.Write):
		if m.dirs[path] {
			return
		}
		m.send(path, FileModified)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if m.dirs[path] {
			m.forgetTree(w, path)
			return
		}
		m.send(path, FileDeleted)
	}
}

func (m *FileMonitor) send(path string, typ FileEventType) {
	m.logger.Debug("file event", "path", path, "type", typ)
	m.emit(FileEvent{Path: path, Type: typ, Time: m.now()})
}

// watchTree adds a watch on every directory under dir. With report set,
// regular files found on the way are emitted as created.
func (m *FileMonitor) watchTree(w *fsnotify.Watcher, dir string, report bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != dir {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return err
			}
			m.dirs[norm.NFC.String(path)] = true
			return nil
		}
		if report && d.Type().IsRegular() {
			m.send(norm.NFC.String(path), FileCreated)
		}
		return nil
	})
}

// forgetTree drops a removed directory and everything below it from the
// watched set. fsnotify drops the kernel watches itself.
func (m *FileMonitor) forgetTree(w *fsnotify.Watcher, dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range m.dirs {
		if d == dir || len(d) > len(prefix) && d[:len(prefix)] == prefix {
			delete(m.dirs, d)
			_ = w.Remove(d)
		}
	}
}
