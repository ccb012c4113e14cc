// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/whereami/internal/geobus"
)

const (
	name        = "gpsd"
	DefaultAddr = "localhost:2947"

	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
)

// ErrWatchEnded is returned by the watch function when gpsd closed the connection.
var ErrWatchEnded = errors.New("gpsd watch ended")

// Fix represents a single TPV report from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode gpsd.Mode
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= gpsd.Mode2D
}

// Coordinate returns the truncated position of the fix.
func (f Fix) Coordinate() geobus.Coordinate {
	return geobus.Coordinate{
		Lat: geobus.Truncate(f.Lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(f.Lon, geobus.TruncPrecision),
		Acc: geobus.Truncate(f.Acc, geobus.TruncPrecision),
	}
}

// watchFunc streams fixes to onFix until ctx is done or the connection ends.
type watchFunc func(ctx context.Context, addr string, onFix func(Fix)) error

type GeolocationGPSDProvider struct {
	name    string
	addr    string
	period  time.Duration
	ttl     time.Duration
	watchFn watchFunc
}

// NewGeolocationGPSDProvider returns a provider that watches the gpsd daemon at addr. An empty
// addr selects DefaultAddr.
func NewGeolocationGPSDProvider(addr string) *GeolocationGPSDProvider {
	if addr == "" {
		addr = DefaultAddr
	}
	return &GeolocationGPSDProvider{
		name:    name,
		addr:    addr,
		period:  time.Second * 30,
		ttl:     time.Minute * 2,
		watchFn: watch,
	}
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// LookupStream watches gpsd and emits a result for every fix of at least 2D quality that moved
// significantly. Lost connections are re-established after the provider period.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	go func() {
		defer close(out)
		state := geobus.GeolocationState{}

		onFix := func(fix Fix) {
			if !fix.Has2DFix() {
				return
			}
			coord := fix.Coordinate()
			if !state.HasChanged(coord) {
				return
			}
			state.Update(coord)

			select {
			case <-ctx.Done():
			case out <- p.createResult(key, coord):
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_ = p.watchFn(ctx, p.addr, onFix)

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGPSDProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

// watch dials gpsd and forwards TPV reports. The session has no Close method, so a cancelled
// context only stops the forwarding; the connection is torn down when gpsd or the process ends.
func watch(ctx context.Context, addr string, onFix func(Fix)) error {
	session, err := gpsd.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", addr, err)
	}

	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		onFix(fixFromTPV(tpv))
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrWatchEnded
	}
}

func fixFromTPV(tpv *gpsd.TPVReport) Fix {
	return Fix{
		Lat:  tpv.Lat,
		Lon:  tpv.Lon,
		Alt:  tpv.Alt,
		Acc:  horizontalAccuracyMeters(tpv.Epx, tpv.Epy, tpv.Mode),
		Mode: tpv.Mode,
	}
}

func horizontalAccuracyMeters(epx, epy float64, mode gpsd.Mode) float64 {
	if epx > 0 && epy > 0 {
		// sqrt(epx² + epy²)
		return math.Hypot(epx, epy)
	}
	switch mode {
	case gpsd.Mode3D:
		return fallbackAccuracy3DFix
	case gpsd.Mode2D:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
