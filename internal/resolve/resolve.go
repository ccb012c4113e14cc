// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package resolve turns a location fix into a street address on a background goroutine and
// delivers the outcome to a Receiver exactly once.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/wneessen/whereami/internal/geocode"
	"github.com/wneessen/whereami/internal/locate"
	"github.com/wneessen/whereami/internal/logger"
	"github.com/wneessen/whereami/internal/metrics"
)

// maxCandidates is the number of address candidates requested from the geocoder.
const maxCandidates = 1

// LineSeparator joins the address lines of a resolved address.
const LineSeparator = "\n"

var (
	// ErrNoLocation is returned by Dispatch when there is no fix to resolve.
	ErrNoLocation = errors.New("location not yet available")

	// Returned by New and Dispatch for missing dependencies.
	ErrLoggerRequired   = errors.New("logger is required")
	ErrGeocoderRequired = errors.New("geocoder is required")
	ErrReceiverRequired = errors.New("receiver is required")
)

// Resolver runs reverse geocoding requests. Concurrent requests for the same coordinate share a
// single geocoder call.
type Resolver struct {
	log      *logger.Logger
	geocoder geocode.Geocoder
	metrics  *metrics.Metrics
	group    singleflight.Group
	wg       sync.WaitGroup
}

// New returns a Resolver using geocoder. A nil m registers the metrics with a private registry.
func New(log *logger.Logger, geocoder geocode.Geocoder, m *metrics.Metrics) (*Resolver, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	if geocoder == nil {
		return nil, ErrGeocoderRequired
	}
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}
	return &Resolver{log: log, geocoder: geocoder, metrics: m}, nil
}

// Dispatch resolves the address of fix in the background and sends the outcome to recv. A nil
// fix is not dispatched and returns ErrNoLocation. The background work is not cancelled with
// ctx; its outcome is dropped if recv was closed meanwhile.
func (r *Resolver) Dispatch(ctx context.Context, fix *locate.Fix, recv *Receiver) (*Request, error) {
	if fix == nil {
		return nil, ErrNoLocation
	}
	if recv == nil {
		return nil, ErrReceiverRequired
	}

	req := newRequest(*fix)
	req.dispatch()
	r.log.Debug("address resolution dispatched", slog.String("request_id", req.ID.String()),
		slog.Float64("lat", fix.Lat), slog.Float64("lon", fix.Lon))

	workCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		outcome := r.resolve(workCtx, req)
		req.complete(outcome)

		dropped := !recv.Send(outcome)
		if dropped {
			r.metrics.DroppedDeliveries.Inc()
			r.log.Debug("receiver gone, dropping address outcome", slog.String("request_id", req.ID.String()))
		}
		req.deliver(dropped)
	}()

	return req, nil
}

// Resolve resolves the address of fix synchronously.
func (r *Resolver) Resolve(ctx context.Context, fix locate.Fix) Outcome {
	return r.resolve(ctx, newRequest(fix))
}

// Wait blocks until all dispatched requests were delivered.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) resolve(ctx context.Context, req *Request) Outcome {
	key := fmt.Sprintf("%.5f,%.5f", req.Fix.Lat, req.Fix.Lon)
	result, err, shared := r.group.Do(key, func() (any, error) {
		return r.reverse(ctx, req.Fix.Lat, req.Fix.Lon)
	})
	if shared {
		r.log.Debug("address resolution shared with a concurrent request",
			slog.String("request_id", req.ID.String()))
	}

	var addresses []geocode.Address
	if err == nil {
		addresses, _ = result.([]geocode.Address)
	}
	outcome := outcomeOf(addresses, err)
	r.metrics.AddressResolutions.WithLabelValues(outcome.label()).Inc()

	attrs := []any{slog.String("request_id", req.ID.String()), slog.String("geocoder", r.geocoder.Name())}
	if err != nil {
		attrs = append(attrs, logger.Err(err))
	}
	if !outcome.Resolved() {
		attrs = append(attrs, slog.String("reason", outcome.Reason.String()))
		r.log.Debug("address resolution failed", attrs...)
		return outcome
	}
	r.log.Debug("address resolved", attrs...)
	return outcome
}

func (r *Resolver) reverse(ctx context.Context, lat, lon float64) ([]geocode.Address, error) {
	r.metrics.ResolutionsInFlight.Inc()
	defer r.metrics.ResolutionsInFlight.Dec()

	start := time.Now()
	defer func() {
		r.metrics.GeocodeSeconds.WithLabelValues(r.geocoder.Name()).Observe(time.Since(start).Seconds())
	}()
	return r.geocoder.Reverse(ctx, lat, lon, maxCandidates)
}

// outcomeOf maps the geocoder answer to an Outcome. Invalid coordinates are checked first since
// the coordinate validation runs before any I/O; every other error counts as a missing network.
func outcomeOf(addresses []geocode.Address, err error) Outcome {
	switch {
	case errors.Is(err, geocode.ErrInvalidCoordinate):
		return failed(ReasonInvalidCoordinate)
	case err != nil:
		return failed(ReasonNoNetwork)
	case len(addresses) == 0:
		return failed(ReasonNotFound)
	}

	lines := addresses[0].Lines()
	if len(lines) == 0 {
		return failed(ReasonNotFound)
	}
	return resolved(strings.Join(lines, LineSeparator))
}
