// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package locate obtains a single location fix from the geolocation bus, after checking the
// location permission and the location settings.
package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wneessen/whereami/internal/geobus"
	"github.com/wneessen/whereami/internal/logger"
	"github.com/wneessen/whereami/internal/metrics"
	"github.com/wneessen/whereami/internal/permission"
	"github.com/wneessen/whereami/internal/vartype"
)

const (
	// DefaultTimeout is how long a fetch waits for the first fix.
	DefaultTimeout = time.Second * 10
	// DefaultMaxAge is the age up to which a known best result is reused.
	DefaultMaxAge = time.Second * 30
	// DefaultKey is the bus key the fetcher subscribes to.
	DefaultKey = "whereami"

	subscriptionSize = 4
)

var (
	// ErrPermissionDenied is returned when the user refused the location permission or closed
	// the prompt without an answer.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPermissionRevoked is returned when the permission was withdrawn while waiting for a fix.
	ErrPermissionRevoked = errors.New("location permission revoked while waiting for a fix")
	// ErrLocationUnavailable is returned when no fix could be obtained. It is not fatal; a later
	// fetch may succeed.
	ErrLocationUnavailable = errors.New("location unavailable")

	// Returned by New for an incomplete configuration.
	ErrLoggerRequired     = errors.New("logger is required")
	ErrBusRequired        = errors.New("geolocation bus is required")
	ErrAuthorizerRequired = errors.New("permission authorizer is required")
)

// Fix is a single location report. Sources differ in what they report, so accuracy, altitude
// and time are optional.
type Fix struct {
	Lat      float64
	Lon      float64
	Alt      vartype.VarFloat64
	Accuracy vartype.VarFloat64
	Time     vartype.VarTime
	Source   string
}

// FixFromResult converts a bus result into a Fix.
func FixFromResult(r geobus.Result) Fix {
	fix := Fix{Lat: r.Lat, Lon: r.Lon, Source: r.Source}
	if r.AccuracyMeters > 0 {
		fix.Accuracy.Set(r.AccuracyMeters)
	}
	if r.Alt != 0 {
		fix.Alt.Set(r.Alt)
	}
	if !r.At.IsZero() {
		fix.Time.Set(r.At)
	}
	return fix
}

// Config configures a Fetcher. Bus, Providers and Authorizer are required; everything else is
// optional.
type Config struct {
	Bus        *geobus.GeoBus
	Providers  []geobus.Provider
	Authorizer permission.Authorizer

	// Settings and SettingsResolver check and fix the location settings for Accuracy.
	Settings         permission.SettingsChecker
	SettingsResolver permission.SettingsResolver
	Accuracy         permission.Accuracy

	Key     string
	Timeout time.Duration
	MaxAge  time.Duration
	Metrics *metrics.Metrics

	// OnFix is called with every new fix after the held fix was replaced.
	OnFix func(Fix)
}

// Fetcher runs the location fetch flow and holds the last fix it obtained.
type Fetcher struct {
	conf         Config
	log          *logger.Logger
	orchestrator *geobus.Orchestrator
	metrics      *metrics.Metrics

	mu         sync.Mutex
	last       Fix
	haveLast   bool
	cancel     context.CancelFunc
	generation uint64
}

// New returns a Fetcher for the given configuration.
func New(log *logger.Logger, conf Config) (*Fetcher, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	if conf.Bus == nil {
		return nil, ErrBusRequired
	}
	if conf.Authorizer == nil {
		return nil, ErrAuthorizerRequired
	}
	if conf.Key == "" {
		conf.Key = DefaultKey
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.MaxAge <= 0 {
		conf.MaxAge = DefaultMaxAge
	}
	if conf.Metrics == nil {
		conf.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	return &Fetcher{
		conf:         conf,
		log:          log,
		orchestrator: conf.Bus.NewOrchestrator(conf.Providers),
		metrics:      conf.Metrics,
	}, nil
}

// Last returns the held fix and whether there is one.
func (f *Fetcher) Last() (Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.haveLast
}

// Stop cancels the outstanding subscription, if any. A Fetch waiting for a fix returns
// ErrLocationUnavailable.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

// Fetch obtains a single fix and holds it. It returns ErrPermissionDenied without starting any
// location provider when the permission is not granted. When no fix arrives in time, it returns
// ErrLocationUnavailable, or ErrPermissionRevoked if the permission was withdrawn meanwhile.
func (f *Fetcher) Fetch(ctx context.Context) (Fix, error) {
	fix, err := f.Locate(ctx)
	if err != nil {
		return Fix{}, err
	}
	f.Hold(fix)
	return fix, nil
}

// Locate runs the same flow as Fetch but leaves the held fix alone. The caller decides with Hold
// whether the fix becomes the held one.
func (f *Fetcher) Locate(ctx context.Context) (Fix, error) {
	if err := f.authorize(ctx); err != nil {
		reason := "unavailable"
		if errors.Is(err, ErrPermissionDenied) {
			reason = "permission-denied"
		}
		f.metrics.FetchFailures.WithLabelValues(reason).Inc()
		return Fix{}, err
	}
	f.checkSettings(ctx)

	fix, err := f.await(ctx)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) && f.revoked(ctx) {
			f.metrics.FetchFailures.WithLabelValues("permission-revoked").Inc()
			return Fix{}, ErrPermissionRevoked
		}
		f.metrics.FetchFailures.WithLabelValues("unavailable").Inc()
		return Fix{}, err
	}

	f.metrics.LocationFixes.WithLabelValues(fix.Source).Inc()
	f.log.Debug("location fix obtained", slog.Float64("lat", fix.Lat), slog.Float64("lon", fix.Lon),
		slog.String("source", fix.Source))
	return fix, nil
}

// Hold overwrites the held fix with fix and calls OnFix.
func (f *Fetcher) Hold(fix Fix) {
	f.mu.Lock()
	f.last = fix
	f.haveLast = true
	f.mu.Unlock()

	if f.conf.OnFix != nil {
		f.conf.OnFix(fix)
	}
}

// authorize checks the permission and asks for it if it was not granted yet. Only an explicit
// denial or a prompt closed without an answer is a denial; a failing permission service makes
// the location unavailable.
func (f *Fetcher) authorize(ctx context.Context) error {
	status, err := f.conf.Authorizer.Check(ctx)
	if err != nil {
		f.log.Debug("failed to check location permission", logger.Err(err))
	}
	if status == permission.Granted {
		return nil
	}

	f.log.Debug("requesting location permission", slog.Int("request_code", permission.RequestCodePermission))
	status, err = f.conf.Authorizer.Request(ctx)
	switch {
	case errors.Is(err, permission.ErrPromptClosed):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	case status == permission.Granted:
		return nil
	case status == permission.Denied:
		return ErrPermissionDenied
	default:
		return fmt.Errorf("%w: location permission undetermined", ErrLocationUnavailable)
	}
}

// checkSettings verifies the location settings. Unsatisfied settings are resolved if possible;
// either way the fetch continues with whatever accuracy is available.
func (f *Fetcher) checkSettings(ctx context.Context) {
	if f.conf.Settings == nil {
		return
	}
	err := f.conf.Settings.CheckSettings(ctx, f.conf.Accuracy)
	if err == nil {
		return
	}
	if !errors.Is(err, permission.ErrSettingsUnsatisfied) || f.conf.SettingsResolver == nil {
		f.log.Debug("location settings unsatisfied, continuing", logger.Err(err))
		return
	}

	f.log.Debug("requesting location settings resolution", slog.Int("request_code", permission.RequestCodeSettings),
		slog.String("accuracy", f.conf.Accuracy.String()))
	if err = f.conf.SettingsResolver.ResolveSettings(ctx, f.conf.Accuracy); err != nil {
		f.log.Warn("location settings not resolved, continuing with the available accuracy", logger.Err(err))
	}
}

// await replaces the outstanding subscription, starts the providers and waits for the first
// result. The providers are stopped before it returns.
func (f *Fetcher) await(ctx context.Context) (Fix, error) {
	if len(f.conf.Providers) == 0 {
		return Fix{}, fmt.Errorf("%w: no location provider configured", ErrLocationUnavailable)
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.conf.Timeout)
	generation := f.replaceSubscription(cancel)
	defer f.releaseSubscription(generation)

	if best, ok := f.conf.Bus.Best(f.conf.Key); ok && time.Since(best.At) > f.conf.MaxAge {
		f.conf.Bus.Reset(f.conf.Key)
	}
	sub, unsub := f.conf.Bus.Subscribe(f.conf.Key, subscriptionSize)
	defer unsub()

	trackDone := make(chan struct{})
	go func() {
		defer close(trackDone)
		f.orchestrator.Track(waitCtx, f.conf.Key)
	}()
	defer func() {
		cancel()
		<-trackDone
	}()

	select {
	case r, ok := <-sub:
		if !ok {
			return Fix{}, fmt.Errorf("%w: subscription closed", ErrLocationUnavailable)
		}
		return FixFromResult(r), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return Fix{}, ctx.Err()
		}
		return Fix{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, context.Cause(waitCtx))
	}
}

func (f *Fetcher) replaceSubscription(cancel context.CancelFunc) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.generation++
	return f.generation
}

func (f *Fetcher) releaseSubscription(generation uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation == generation {
		f.cancel = nil
	}
}

// revoked reports whether the permission is no longer granted.
func (f *Fetcher) revoked(ctx context.Context) bool {
	status, err := f.conf.Authorizer.Check(ctx)
	return err == nil && status != permission.Granted
}
