package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/meow/internal/fsutil"
)

// StateMonitor reports pattern and recipe definition changes under a state
// root.
type StateMonitor struct {
	dir    string
	emit   func(StateEvent)
	logger *slog.Logger
}

// NewStateMonitor returns a monitor for stateDir. The patterns/ and recipes/
// subdirectories are created if missing.
func NewStateMonitor(stateDir string, emit func(StateEvent), opts ...Option) (*StateMonitor, error) {
	if emit == nil {
		return nil, fmt.Errorf("state monitor: emit function is nil")
	}
	abs, err := filepath.Abs(stateDir)
	if err != nil {
		return nil, fmt.Errorf("state monitor: %w", err)
	}
	if err := EnsureStateDirs(abs); err != nil {
		return nil, fmt.Errorf("state monitor: %w", err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &StateMonitor{
		dir:    abs,
		emit:   emit,
		logger: o.logger.With("component", "state-monitor"),
	}, nil
}

// Dir returns the absolute state root.
func (m *StateMonitor) Dir() string { return m.dir }

// Run first reports every definition already on disk, then watches until
// ctx is cancelled. ready is closed once the initial definitions have been
// emitted and the watches are in place; it may be nil.
func (m *StateMonitor) Run(ctx context.Context, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("state monitor: %w", err)
	}
	defer w.Close()

	for _, kind := range []Kind{KindPattern, KindRecipe} {
		dir := filepath.Join(m.dir, kindDir(kind))
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("state monitor: watch %s: %w", dir, err)
		}
		files, err := definitionFiles(dir)
		if err != nil {
			return fmt.Errorf("state monitor: %w", err)
		}
		for _, path := range files {
			m.load(kind, path)
		}
	}
	m.logger.Info("watching definitions", "path", m.dir)
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
			m.handle(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("watch error", "error", err)
		}
	}
}

func (m *StateMonitor) handle(ev fsnotify.Event) {
	if fsutil.Hidden(filepath.Base(ev.Name)) {
		return
	}
	kind, ok := m.kindOf(ev.Name)
	if !ok {
		m.logger.Debug("ignoring nested definition event", "path", ev.Name)
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		m.load(kind, ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		name := DefinitionName(ev.Name)
		m.logger.Debug("definition removed", "kind", kind, "name", name)
		m.emit(StateEvent{Op: StateDeleted, Kind: kind, Name: name})
	}
}

// kindOf maps a path directly inside patterns/ or recipes/ to its kind.
func (m *StateMonitor) kindOf(path string) (Kind, bool) {
	switch filepath.Dir(path) {
	case filepath.Join(m.dir, PatternsDir):
		return KindPattern, true
	case filepath.Join(m.dir, RecipesDir):
		return KindRecipe, true
	}
	return "", false
}

func (m *StateMonitor) load(kind Kind, path string) {
	switch kind {
	case KindPattern:
		p, err := ReadPattern(path)
		if err != nil {
			m.logger.Warn("dropping malformed pattern", "path", path, "error", err)
			return
		}
		m.emit(StateEvent{Op: StateCreate, Kind: kind, Name: p.Name, Pattern: p})
	case KindRecipe:
		r, err := ReadRecipe(path)
		if err != nil {
			m.logger.Warn("dropping malformed recipe", "path", path, "error", err)
			return
		}
		m.emit(StateEvent{Op: StateCreate, Kind: kind, Name: r.Name, Recipe: r})
	}
}
