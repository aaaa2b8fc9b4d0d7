package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meow/internal/testutil"
)

type fileCollector struct {
	mu     sync.Mutex
	events []FileEvent
}

func (c *fileCollector) emit(ev FileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *fileCollector) has(path string, typ FileEventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Path == path && ev.Type == typ {
			return true
		}
	}
	return false
}

func (c *fileCollector) any(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Path == path {
			return true
		}
	}
	return false
}

func startFileMonitor(t *testing.T, root string) *fileCollector {
	t.Helper()
	c := &fileCollector{}
	m, err := NewFileMonitor(root, c.emit)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, ready) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	<-ready
	return c
}

func TestNewFileMonitorRequiresEmit(t *testing.T) {
	_, err := NewFileMonitor(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestFileMonitorReportsLifecycle(t *testing.T) {
	root := t.TempDir()
	c := startFileMonitor(t, root)

	path := filepath.Join(root, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	testutil.Eventually(t, func() bool { return c.has(path, FileCreated) }, "create")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(" again")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	testutil.Eventually(t, func() bool { return c.has(path, FileModified) }, "modify")

	require.NoError(t, os.Remove(path))
	testutil.Eventually(t, func() bool { return c.has(path, FileDeleted) }, "delete")
}

func TestFileMonitorWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	c := startFileMonitor(t, root)

	dir := filepath.Join(root, "start", "nested")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	testutil.Eventually(t, func() bool { return c.has(path, FileCreated) })
	assert.False(t, c.any(dir), "directories are never reported")
}

func TestFileMonitorReportsMoveAsDeleteAndCreate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	src := filepath.Join(root, "a", "data.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	c := startFileMonitor(t, root)

	dst := filepath.Join(root, "b", "data.txt")
	require.NoError(t, os.Rename(src, dst))
	testutil.Eventually(t, func() bool { return c.has(dst, FileCreated) }, "destination created")
	testutil.Eventually(t, func() bool { return c.has(src, FileDeleted) }, "source deleted")
}

func TestFileMonitorReportsFilesInMovedInDirectory(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "data.txt"), []byte("x"), 0o644))

	c := startFileMonitor(t, root)

	dst := filepath.Join(root, "incoming")
	require.NoError(t, os.Rename(outside, dst))
	testutil.Eventually(t, func() bool { return c.has(filepath.Join(dst, "data.txt"), FileCreated) })
}
