// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Orchestrator coordinates the tracking and publication of geolocation results from multiple
// providers through a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track runs all providers concurrently for the given key and publishes their results until
// ctx is cancelled. It returns after every provider goroutine has exited.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			o.trackProvider(ctx, p, key)
		}(p)
	}
	<-ctx.Done()
	wg.Wait()
}

// trackProvider continuously tracks a Provider for geolocation data, publishing results to
// the GeoBus and implementing backoff.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lookupChan, err := o.safeLookup(ctx, p, key)
		if err != nil {
			o.Bus.logger.Error("geolocation provider failed", slog.String("provider", p.Name()),
				slog.Any("error", err))
		}
		if lookupChan == nil {
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if !o.drain(ctx, lookupChan) {
			return
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// drain publishes results from ch until it is closed. It returns false if ctx was cancelled.
func (o *Orchestrator) drain(ctx context.Context, ch <-chan Result) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case r, ok := <-ch:
			if !ok {
				return true
			}
			o.Bus.logger.Debug("received geolocation result", slog.String("provider", r.Source),
				slog.Float64("lat", r.Lat), slog.Float64("lon", r.Lon),
				slog.Float64("accuracy", r.AccuracyMeters))
			o.Bus.Publish(r)
		}
	}
}

// safeLookup invokes the LookupStream method on a Provider and recovers from potential panics.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = fmt.Errorf("provider %s panicked: %v", provider.Name(), r)
		}
	}()
	return provider.LookupStream(ctx, key), nil
}
