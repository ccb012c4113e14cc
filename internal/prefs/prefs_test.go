// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package prefs

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/whereami/internal/coordfmt"
	"github.com/wneessen/whereami/internal/logger"
)

func TestNew(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)

	t.Run("missing file selects degrees", func(t *testing.T) {
		store, err := New(log, filepath.Join(t.TempDir(), "preferences.yaml"))
		if err != nil {
			t.Fatalf("failed to create preference store: %s", err)
		}
		if store.Format() != coordfmt.Degrees {
			t.Errorf("expected format to be %s, got %s", coordfmt.Degrees, store.Format())
		}
	})
	t.Run("stored preference values are parsed", func(t *testing.T) {
		tests := []struct {
			value string
			want  coordfmt.Format
		}{
			{"degrees", coordfmt.Degrees},
			{"minutes", coordfmt.DegreesMinutes},
			{"seconds", coordfmt.DegreesMinutesSeconds},
			{"SECONDS", coordfmt.DegreesMinutesSeconds},
			{"radians", coordfmt.Degrees},
			{`""`, coordfmt.Degrees},
		}
		for _, tc := range tests {
			t.Run(tc.value, func(t *testing.T) {
				path := writePrefs(t, "format: "+tc.value+"\n")
				store, err := New(log, path)
				if err != nil {
					t.Fatalf("failed to create preference store: %s", err)
				}
				if store.Format() != tc.want {
					t.Errorf("expected format to be %s, got %s", tc.want, store.Format())
				}
			})
		}
	})
	t.Run("broken file fails", func(t *testing.T) {
		path := writePrefs(t, "format: [minutes\n")
		if _, err := New(log, path); err == nil {
			t.Error("expected broken preferences file to fail")
		}
	})
	t.Run("nil logger fails", func(t *testing.T) {
		if _, err := New(nil, "preferences.yaml"); err == nil {
			t.Error("expected missing logger to fail")
		}
	})
}

func TestStore_SetFormat(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	path := filepath.Join(t.TempDir(), "whereami", "preferences.yaml")

	store, err := New(log, path)
	if err != nil {
		t.Fatalf("failed to create preference store: %s", err)
	}
	var notified []coordfmt.Format
	store.OnChange(func(f coordfmt.Format) {
		notified = append(notified, f)
	})

	if err = store.SetFormat(coordfmt.DegreesMinutesSeconds); err != nil {
		t.Fatalf("failed to set format: %s", err)
	}
	if store.Format() != coordfmt.DegreesMinutesSeconds {
		t.Errorf("expected format to be %s, got %s", coordfmt.DegreesMinutesSeconds, store.Format())
	}
	if len(notified) != 1 || notified[0] != coordfmt.DegreesMinutesSeconds {
		t.Errorf("expected exactly one change notification, got %v", notified)
	}

	// Setting the same value again is not a change
	if err = store.SetFormat(coordfmt.DegreesMinutesSeconds); err != nil {
		t.Fatalf("failed to set format: %s", err)
	}
	if len(notified) != 1 {
		t.Errorf("expected no further change notification, got %v", notified)
	}

	reloaded, err := New(log, path)
	if err != nil {
		t.Fatalf("failed to reload preference store: %s", err)
	}
	if reloaded.Format() != coordfmt.DegreesMinutesSeconds {
		t.Errorf("expected persisted format to be %s, got %s", coordfmt.DegreesMinutesSeconds,
			reloaded.Format())
	}
}

func TestStore_Watch(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	t.Run("missing directory fails", func(t *testing.T) {
		store, err := New(log, filepath.Join(t.TempDir(), "missing", "preferences.yaml"))
		if err != nil {
			t.Fatalf("failed to create preference store: %s", err)
		}
		if err = store.Watch(t.Context()); err == nil {
			t.Error("expected watching a missing directory to fail")
		}
	})
	t.Run("edited file changes the format", func(t *testing.T) {
		path := writePrefs(t, "format: degrees\n")
		store, err := New(log, path)
		if err != nil {
			t.Fatalf("failed to create preference store: %s", err)
		}
		changes := make(chan coordfmt.Format, 4)
		store.OnChange(func(f coordfmt.Format) {
			changes <- f
		})
		if err = store.Watch(t.Context()); err != nil {
			t.Fatalf("failed to watch preferences: %s", err)
		}

		if err = os.WriteFile(path, []byte("format: seconds\n"), 0o600); err != nil {
			t.Fatalf("failed to write preferences file: %s", err)
		}
		select {
		case f := <-changes:
			if f != coordfmt.DegreesMinutesSeconds {
				t.Errorf("expected format to change to %s, got %s", coordfmt.DegreesMinutesSeconds, f)
			}
		case <-time.After(time.Second * 5):
			t.Fatal("format change was not reported")
		}
		if store.Format() != coordfmt.DegreesMinutesSeconds {
			t.Errorf("expected format to be %s, got %s", coordfmt.DegreesMinutesSeconds, store.Format())
		}
	})
	t.Run("edit after a stored format is not shadowed", func(t *testing.T) {
		path := writePrefs(t, "format: degrees\n")
		store, err := New(log, path)
		if err != nil {
			t.Fatalf("failed to create preference store: %s", err)
		}
		if err = store.SetFormat(coordfmt.DegreesMinutes); err != nil {
			t.Fatalf("failed to set format: %s", err)
		}
		if err = store.Watch(t.Context()); err != nil {
			t.Fatalf("failed to watch preferences: %s", err)
		}
		if err = os.WriteFile(path, []byte("format: seconds\n"), 0o600); err != nil {
			t.Fatalf("failed to write preferences file: %s", err)
		}
		deadline := time.Now().Add(time.Second * 5)
		for store.Format() != coordfmt.DegreesMinutesSeconds && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond * 10)
		}
		if store.Format() != coordfmt.DegreesMinutesSeconds {
			t.Errorf("expected format to be %s, got %s", coordfmt.DegreesMinutesSeconds, store.Format())
		}
	})
	t.Run("formats are stored while the file is watched", func(t *testing.T) {
		path := writePrefs(t, "format: degrees\n")
		store, err := New(log, path)
		if err != nil {
			t.Fatalf("failed to create preference store: %s", err)
		}
		if err = store.Watch(t.Context()); err != nil {
			t.Fatalf("failed to watch preferences: %s", err)
		}

		formats := []coordfmt.Format{coordfmt.Degrees, coordfmt.DegreesMinutes, coordfmt.DegreesMinutesSeconds}
		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range 50 {
					if err := store.SetFormat(formats[(i+j)%len(formats)]); err != nil {
						t.Errorf("failed to set format: %s", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		if err = store.SetFormat(coordfmt.DegreesMinutes); err != nil {
			t.Fatalf("failed to set format: %s", err)
		}
		reloaded, err := New(log, path)
		if err != nil {
			t.Fatalf("failed to reload preference store: %s", err)
		}
		if reloaded.Format() != coordfmt.DegreesMinutes {
			t.Errorf("expected persisted format to be %s, got %s", coordfmt.DegreesMinutes, reloaded.Format())
		}
	})
}

func writePrefs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write preferences file: %s", err)
	}
	return path
}
