// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package prefs holds the user preferences of the display, stored in a small YAML, TOML or JSON
// file that can be edited while the program runs.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/wneessen/whereami/internal/coordfmt"
	"github.com/wneessen/whereami/internal/logger"
)

// KeyFormat is the preference key selecting the coordinate display format.
const KeyFormat = "format"

var ErrLoggerRequired = errors.New("logger is required")

// Store is a read-mostly view on the preferences file. Reads never block on file I/O; the
// current values are swapped in whenever the file is (re)loaded.
type Store struct {
	log  *logger.Logger
	path string

	// mu guards viper. Every load creates a new instance, which is never shared with another
	// goroutine.
	mu    sync.Mutex
	viper *viper.Viper

	format    atomic.Int32
	listeners []func(coordfmt.Format)
}

// New loads the preferences from path. A missing file is not an error; all preferences then
// have their default values.
func New(log *logger.Logger, path string) (*Store, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	store := &Store{log: log, path: path}
	v, err := store.load()
	if err != nil {
		return nil, err
	}
	store.viper = v
	store.refresh()
	return store, nil
}

// Format returns the current coordinate display format.
func (s *Store) Format() coordfmt.Format {
	return coordfmt.Format(s.format.Load())
}

// SetFormat persists a new display format and notifies the listeners.
func (s *Store) SetFormat(f coordfmt.Format) error {
	s.mu.Lock()
	v, err := s.load()
	if err != nil {
		s.log.Warn("overwriting unreadable preferences", logger.Err(err))
		v = s.newViper()
	}
	v.Set(KeyFormat, f.String())
	if err = os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	if err = v.WriteConfigAs(s.path); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to write preferences to %q: %w", s.path, err)
	}
	s.viper = v
	s.mu.Unlock()

	s.refresh()
	return nil
}

// OnChange registers fn to be called with the new format whenever the preferences changed.
// Changes of the file are reported from the watcher goroutine.
func (s *Store) OnChange(fn func(coordfmt.Format)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Watch reloads the preferences whenever the file is written until ctx is cancelled. The
// directory of the file must exist.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create preferences watcher: %w", err)
	}
	// Editors often replace the file, so the directory is watched.
	if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch preferences: %w", err)
	}
	go s.watch(ctx, watcher)
	return nil
}

func (s *Store) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()
	file := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != file || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.log.Debug("preferences changed", slog.String("file", event.Name), slog.String("op", event.Op.String()))
			s.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("preferences watcher failed", logger.Err(err))
		}
	}
}

// reload swaps in the current content of the file. An unreadable file keeps the old values.
func (s *Store) reload() {
	s.mu.Lock()
	v, err := s.load()
	if err == nil {
		s.viper = v
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("keeping previous preferences", logger.Err(err))
		return
	}
	s.refresh()
}

// load reads the file into a new viper instance.
func (s *Store) load() (*viper.Viper, error) {
	v := s.newViper()
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read preferences from %q: %w", s.path, err)
		}
	}
	return v, nil
}

func (s *Store) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetDefault(KeyFormat, coordfmt.PrefDegrees)
	return v
}

// refresh re-reads the values from viper and notifies the listeners if the format changed.
func (s *Store) refresh() {
	s.mu.Lock()
	format := coordfmt.ParseFormat(s.viper.GetString(KeyFormat))
	listeners := append([]func(coordfmt.Format){}, s.listeners...)
	s.mu.Unlock()

	if old := coordfmt.Format(s.format.Swap(int32(format))); old == format {
		return
	}
	s.log.Debug("coordinate display format selected", slog.String("format", format.String()))
	for _, fn := range listeners {
		fn(format)
	}
}
