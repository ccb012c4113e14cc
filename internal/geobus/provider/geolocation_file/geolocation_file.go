// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/whereami/internal/geobus"
)

const (
	name = "geolocation_file"
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider reads a fixed position from a file. Each non-comment line has the
// form "lat,lon" or "lat,lon,accuracy"; the first valid line wins. Without an accuracy column
// the position is considered accurate to the postal code.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn func() (geobus.Coordinate, error)
}

// NewGeolocationFileProvider initializes a GeolocationFileProvider with a file path and default update
// interval and TTL settings.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.readFile
	return provider
}

// Name returns the name of the GeolocationFileProvider instance.
func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// LookupStream re-reads the file periodically and emits a result whenever the position in it
// changed. The stream is closed when ctx ends.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			coord, err := p.locateFn()
			if err != nil {
				continue
			}

			// Only emit if values changed or it's the first read
			if state.HasChanged(coord) {
				state.Update(coord)
				r := p.createResult(key, coord)

				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationFileProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

// readFile reads the first valid coordinate from the file at the configured path.
func (p *GeolocationFileProvider) readFile() (geobus.Coordinate, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		coord, ok := parseLine(line)
		if !ok {
			continue
		}
		return coord, nil
	}
	return geobus.Coordinate{}, ErrNoCoordinates
}

func parseLine(line string) (geobus.Coordinate, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return geobus.Coordinate{}, false
	}
	coord := geobus.Coordinate{Acc: geobus.AccuracyZip}
	var err error
	if coord.Lat, err = strconv.ParseFloat(strings.TrimSpace(fields[0]), 64); err != nil {
		return coord, false
	}
	if coord.Lon, err = strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err != nil {
		return coord, false
	}
	if len(fields) == 3 {
		acc, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil || acc <= 0 {
			return coord, false
		}
		coord.Acc = acc
	}
	return coord, coord.Valid()
}
