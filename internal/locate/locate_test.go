// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package locate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wneessen/whereami/internal/geobus"
	"github.com/wneessen/whereami/internal/logger"
	"github.com/wneessen/whereami/internal/metrics"
	"github.com/wneessen/whereami/internal/permission"
)

type fakeProvider struct {
	name     string
	lat, lon float64
	acc      float64
	delay    time.Duration
	silent   bool
	calls    atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	p.calls.Add(1)
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		if !p.silent {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.delay):
			}
			r := geobus.Result{
				Key: key, Lat: p.lat, Lon: p.lon, AccuracyMeters: p.acc, Source: p.name,
				At: time.Now(), TTL: time.Hour,
			}
			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
		}
		<-ctx.Done()
	}()
	return out
}

// sequenceAuthorizer answers Check with the given states in order, repeating the last one.
type sequenceAuthorizer struct {
	mu       sync.Mutex
	checks   []permission.Status
	request  permission.Status
	requests int
}

func (a *sequenceAuthorizer) Check(context.Context) (permission.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := a.checks[0]
	if len(a.checks) > 1 {
		a.checks = a.checks[1:]
	}
	return status, nil
}

func (a *sequenceAuthorizer) Request(context.Context) (permission.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests++
	return a.request, nil
}

// failingAuthorizer fails like a permission service that cannot be reached.
type failingAuthorizer struct {
	err error
}

func (a failingAuthorizer) Check(context.Context) (permission.Status, error) {
	return permission.Undetermined, a.err
}

func (a failingAuthorizer) Request(context.Context) (permission.Status, error) {
	return permission.Undetermined, a.err
}

type recordingResolver struct {
	calls    int
	accuracy permission.Accuracy
}

func (r *recordingResolver) ResolveSettings(_ context.Context, want permission.Accuracy) error {
	r.calls++
	r.accuracy = want
	return permission.ErrNotResolvable
}

func TestNew(t *testing.T) {
	bus := testBus(t)
	tests := []struct {
		name string
		log  *logger.Logger
		conf Config
		want error
	}{
		{"nil logger fails", nil, Config{Bus: bus, Authorizer: permission.Static{}}, ErrLoggerRequired},
		{"nil bus fails", testLogger(), Config{Authorizer: permission.Static{}}, ErrBusRequired},
		{"nil authorizer fails", testLogger(), Config{Bus: bus}, ErrAuthorizerRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.log, tc.conf); !errors.Is(err, tc.want) {
				t.Errorf("expected error to be %s, got %v", tc.want, err)
			}
		})
	}
	t.Run("defaults are applied", func(t *testing.T) {
		fetcher, err := New(testLogger(), Config{Bus: bus, Authorizer: permission.Static{Allow: true}})
		if err != nil {
			t.Fatalf("failed to create fetcher: %s", err)
		}
		if fetcher.conf.Timeout != DefaultTimeout {
			t.Errorf("expected timeout to be %s, got %s", DefaultTimeout, fetcher.conf.Timeout)
		}
		if fetcher.conf.Key != DefaultKey {
			t.Errorf("expected key to be %s, got %s", DefaultKey, fetcher.conf.Key)
		}
		if _, ok := fetcher.Last(); ok {
			t.Error("expected no held fix")
		}
	})
}

func TestFetcher_Fetch(t *testing.T) {
	t.Run("first fix is held and emitted", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			provider := &fakeProvider{name: "gpsd", lat: -33.8688, lon: 151.2093, acc: 12, delay: time.Second}
			reg := prometheus.NewRegistry()
			var emitted []Fix
			fetcher := testFetcher(t, Config{
				Providers:  []geobus.Provider{provider},
				Authorizer: permission.Static{Allow: true},
				Metrics:    metrics.NewMetrics(reg),
				OnFix:      func(fix Fix) { emitted = append(emitted, fix) },
			})

			fix, err := fetcher.Fetch(t.Context())
			if err != nil {
				t.Fatalf("failed to fetch location: %s", err)
			}
			if fix.Lat != -33.8688 || fix.Lon != 151.2093 {
				t.Errorf("expected -33.8688,151.2093, got %f,%f", fix.Lat, fix.Lon)
			}
			if acc, ok := fix.Accuracy.Get(); !ok || acc != 12 {
				t.Errorf("expected accuracy of 12m, got %s", fix.Accuracy)
			}
			if !fix.Time.IsSet() {
				t.Error("expected fix time to be set")
			}
			if fix.Alt.IsSet() {
				t.Error("expected altitude to be unset")
			}
			if fix.Source != "gpsd" {
				t.Errorf("expected source to be gpsd, got %s", fix.Source)
			}
			last, ok := fetcher.Last()
			if !ok || last != fix {
				t.Errorf("expected held fix to be %+v, got %+v", fix, last)
			}
			if len(emitted) != 1 || emitted[0] != fix {
				t.Errorf("expected fix to be emitted once, got %v", emitted)
			}
			if got := testutil.ToFloat64(fetcher.metrics.LocationFixes.WithLabelValues("gpsd")); got != 1 {
				t.Errorf("expected 1 counted fix, got %f", got)
			}
		})
	})
	t.Run("permission denial never starts providers", func(t *testing.T) {
		provider := &fakeProvider{name: "gpsd", lat: 1, lon: 1, acc: 10}
		fetcher := testFetcher(t, Config{
			Providers:  []geobus.Provider{provider},
			Authorizer: permission.Static{Allow: false},
		})
		_, err := fetcher.Fetch(t.Context())
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected error to be %s, got %v", ErrPermissionDenied, err)
		}
		if calls := provider.calls.Load(); calls != 0 {
			t.Errorf("expected provider to never be started, got %d calls", calls)
		}
		if _, ok := fetcher.Last(); ok {
			t.Error("expected no held fix")
		}
	})
	t.Run("undetermined permission is requested", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			in := make(chan string, 1)
			in <- "y"
			prompt := permission.NewPrompt(in, bytes.NewBuffer(nil), "Allow?")
			fetcher := testFetcher(t, Config{
				Providers:  []geobus.Provider{&fakeProvider{name: "file", lat: 1, lon: 2, acc: 100}},
				Authorizer: prompt,
			})
			if _, err := fetcher.Fetch(t.Context()); err != nil {
				t.Fatalf("failed to fetch location: %s", err)
			}
			if status, _ := prompt.Check(t.Context()); status != permission.Granted {
				t.Errorf("expected permission to be granted, got %s", status)
			}
		})
	})
	t.Run("closed prompt is a denial", func(t *testing.T) {
		in := make(chan string)
		close(in)
		fetcher := testFetcher(t, Config{
			Providers:  []geobus.Provider{&fakeProvider{name: "file", lat: 1, lon: 2, acc: 100}},
			Authorizer: permission.NewPrompt(in, bytes.NewBuffer(nil), "Allow?"),
		})
		_, err := fetcher.Fetch(t.Context())
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected error to be %s, got %v", ErrPermissionDenied, err)
		}
	})
	t.Run("failing permission service is unavailable, not denied", func(t *testing.T) {
		provider := &fakeProvider{name: "gpsd", lat: 1, lon: 1, acc: 10}
		busErr := errors.New("dbus: connection refused")
		reg := prometheus.NewRegistry()
		fetcher := testFetcher(t, Config{
			Providers:  []geobus.Provider{provider},
			Authorizer: failingAuthorizer{err: busErr},
			Metrics:    metrics.NewMetrics(reg),
		})
		_, err := fetcher.Fetch(t.Context())
		if !errors.Is(err, ErrLocationUnavailable) {
			t.Errorf("expected error to be %s, got %v", ErrLocationUnavailable, err)
		}
		if errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected error not to be %s, got %v", ErrPermissionDenied, err)
		}
		if !errors.Is(err, busErr) {
			t.Errorf("expected error to wrap %s, got %v", busErr, err)
		}
		if calls := provider.calls.Load(); calls != 0 {
			t.Errorf("expected provider to never be started, got %d calls", calls)
		}
		if got := testutil.ToFloat64(fetcher.metrics.FetchFailures.WithLabelValues("unavailable")); got != 1 {
			t.Errorf("expected 1 unavailable failure, got %f", got)
		}
	})
	t.Run("no fix in time is unavailable", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			provider := &fakeProvider{name: "gpsd", silent: true}
			fetcher := testFetcher(t, Config{
				Providers:  []geobus.Provider{provider},
				Authorizer: permission.Static{Allow: true},
			})
			start := time.Now()
			_, err := fetcher.Fetch(t.Context())
			if !errors.Is(err, ErrLocationUnavailable) {
				t.Fatalf("expected error to be %s, got %v", ErrLocationUnavailable, err)
			}
			if waited := time.Since(start); waited != DefaultTimeout {
				t.Errorf("expected fetch to wait %s, waited %s", DefaultTimeout, waited)
			}
			if calls := provider.calls.Load(); calls != 1 {
				t.Errorf("expected provider to be started once, got %d", calls)
			}
		})
	})
	t.Run("revoked permission is reported", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			auth := &sequenceAuthorizer{checks: []permission.Status{permission.Granted, permission.Denied}}
			fetcher := testFetcher(t, Config{
				Providers:  []geobus.Provider{&fakeProvider{name: "gpsd", silent: true}},
				Authorizer: auth,
				Timeout:    time.Second,
			})
			_, err := fetcher.Fetch(t.Context())
			if !errors.Is(err, ErrPermissionRevoked) {
				t.Errorf("expected error to be %s, got %v", ErrPermissionRevoked, err)
			}
			if auth.requests != 0 {
				t.Errorf("expected no permission request, got %d", auth.requests)
			}
		})
	})
	t.Run("no providers is unavailable", func(t *testing.T) {
		fetcher := testFetcher(t, Config{Authorizer: permission.Static{Allow: true}})
		_, err := fetcher.Fetch(t.Context())
		if !errors.Is(err, ErrLocationUnavailable) {
			t.Errorf("expected error to be %s, got %v", ErrLocationUnavailable, err)
		}
	})
	t.Run("unsatisfied settings are resolved and the fetch continues", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			resolver := &recordingResolver{}
			fetcher := testFetcher(t, Config{
				Providers:        []geobus.Provider{&fakeProvider{name: "geoip", lat: 1, lon: 2, acc: 15000}},
				Authorizer:       permission.Static{Allow: true},
				Settings:         permission.StaticSettings{Available: permission.AccuracyCity},
				SettingsResolver: resolver,
				Accuracy:         permission.AccuracyExact,
			})
			fix, err := fetcher.Fetch(t.Context())
			if err != nil {
				t.Fatalf("failed to fetch location: %s", err)
			}
			if fix.Source != "geoip" {
				t.Errorf("expected source to be geoip, got %s", fix.Source)
			}
			if resolver.calls != 1 || resolver.accuracy != permission.AccuracyExact {
				t.Errorf("expected one resolution for exact accuracy, got %d for %s", resolver.calls,
					resolver.accuracy)
			}
		})
	})
	t.Run("satisfied settings are not resolved", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			resolver := &recordingResolver{}
			fetcher := testFetcher(t, Config{
				Providers:        []geobus.Provider{&fakeProvider{name: "gpsd", lat: 1, lon: 2, acc: 5}},
				Authorizer:       permission.Static{Allow: true},
				Settings:         permission.StaticSettings{Available: permission.AccuracyExact},
				SettingsResolver: resolver,
				Accuracy:         permission.AccuracyExact,
			})
			if _, err := fetcher.Fetch(t.Context()); err != nil {
				t.Fatalf("failed to fetch location: %s", err)
			}
			if resolver.calls != 0 {
				t.Errorf("expected no resolution, got %d", resolver.calls)
			}
		})
	})
	t.Run("stale best result is not reused", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := testBus(t)
			bus.Publish(geobus.Result{
				Key: DefaultKey, Lat: 10, Lon: 10, AccuracyMeters: 5, Source: "old",
				At: time.Now().Add(-time.Minute), TTL: time.Hour,
			})
			fetcher, err := New(testLogger(), Config{
				Bus:        bus,
				Providers:  []geobus.Provider{&fakeProvider{name: "new", lat: 1, lon: 2, acc: 100}},
				Authorizer: permission.Static{Allow: true},
			})
			if err != nil {
				t.Fatalf("failed to create fetcher: %s", err)
			}
			fix, err := fetcher.Fetch(t.Context())
			if err != nil {
				t.Fatalf("failed to fetch location: %s", err)
			}
			if fix.Source != "new" {
				t.Errorf("expected a fresh fix, got one from %s", fix.Source)
			}
		})
	})
	t.Run("recent best result is reused", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := testBus(t)
			bus.Publish(geobus.Result{
				Key: DefaultKey, Lat: 10, Lon: 10, AccuracyMeters: 5, Source: "recent",
				At: time.Now(), TTL: time.Hour,
			})
			fetcher, err := New(testLogger(), Config{
				Bus:        bus,
				Providers:  []geobus.Provider{&fakeProvider{name: "slow", silent: true}},
				Authorizer: permission.Static{Allow: true},
			})
			if err != nil {
				t.Fatalf("failed to create fetcher: %s", err)
			}
			start := time.Now()
			fix, err := fetcher.Fetch(t.Context())
			if err != nil {
				t.Fatalf("failed to fetch location: %s", err)
			}
			if fix.Source != "recent" {
				t.Errorf("expected the recent fix, got one from %s", fix.Source)
			}
			if time.Since(start) != 0 {
				t.Errorf("expected no wait, waited %s", time.Since(start))
			}
		})
	})
}

func TestFetcher_LocateAndHold(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var emitted []Fix
		fetcher := testFetcher(t, Config{
			Providers:  []geobus.Provider{&fakeProvider{name: "gpsd", lat: 1, lon: 2, acc: 5}},
			Authorizer: permission.Static{Allow: true},
			OnFix:      func(fix Fix) { emitted = append(emitted, fix) },
		})

		fix, err := fetcher.Locate(t.Context())
		if err != nil {
			t.Fatalf("failed to locate: %s", err)
		}
		if _, ok := fetcher.Last(); ok {
			t.Error("expected located fix not to be held yet")
		}
		if len(emitted) != 0 {
			t.Errorf("expected no emitted fix, got %v", emitted)
		}

		fetcher.Hold(fix)
		last, ok := fetcher.Last()
		if !ok || last != fix {
			t.Errorf("expected held fix to be %+v, got %+v", fix, last)
		}
		if len(emitted) != 1 {
			t.Errorf("expected fix to be emitted once, got %v", emitted)
		}
	})
}

func TestFetcher_Stop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fetcher := testFetcher(t, Config{
			Providers:  []geobus.Provider{&fakeProvider{name: "gpsd", silent: true}},
			Authorizer: permission.Static{Allow: true},
		})

		errChan := make(chan error, 1)
		go func() {
			_, err := fetcher.Fetch(t.Context())
			errChan <- err
		}()
		synctest.Wait()
		fetcher.Stop()

		err := <-errChan
		if !errors.Is(err, ErrLocationUnavailable) {
			t.Errorf("expected error to be %s, got %v", ErrLocationUnavailable, err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected error to wrap %s, got %v", context.Canceled, err)
		}
		// Stopping without an outstanding subscription is a no-op
		fetcher.Stop()
	})
}

func TestFetcher_FetchReplacesSubscription(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		provider := &fakeProvider{name: "gpsd", lat: 1, lon: 2, acc: 5, delay: time.Second * 5}
		fetcher := testFetcher(t, Config{
			Providers:  []geobus.Provider{provider},
			Authorizer: permission.Static{Allow: true},
		})

		firstErr := make(chan error, 1)
		go func() {
			_, err := fetcher.Fetch(t.Context())
			firstErr <- err
		}()
		synctest.Wait()

		if _, err := fetcher.Fetch(t.Context()); err != nil {
			t.Fatalf("failed to fetch location: %s", err)
		}
		if err := <-firstErr; !errors.Is(err, ErrLocationUnavailable) {
			t.Errorf("expected replaced fetch to be unavailable, got %v", err)
		}
	})
}

func testFetcher(t *testing.T, conf Config) *Fetcher {
	t.Helper()
	conf.Bus = testBus(t)
	fetcher, err := New(testLogger(), conf)
	if err != nil {
		t.Fatalf("failed to create fetcher: %s", err)
	}
	return fetcher
}

func testBus(t *testing.T) *geobus.GeoBus {
	t.Helper()
	bus, err := geobus.New(testLogger())
	if err != nil {
		t.Fatalf("failed to create bus: %s", err)
	}
	return bus
}

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}
