// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoip

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/whereami/internal/geobus"
	"github.com/wneessen/whereami/internal/http"
)

const (
	APIEndpoint   = "https://reallyfreegeoip.org/json/"
	LookupTimeout = time.Second * 5
	name          = "geoip"
)

type GeolocationGeoIPProvider struct {
	name     string
	http     *http.Client
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MetroCode   int     `json:"metro_code"`
}

// Accuracy estimates the radius of the result from the most specific field the API filled.
func (r APIResult) Accuracy() float64 {
	switch {
	case r.ZipCode != "":
		return geobus.AccuracyZip
	case r.City != "":
		return geobus.AccuracyCity
	case r.RegionCode != "":
		return geobus.AccuracyRegion
	case r.CountryCode != "":
		return geobus.AccuracyCountry
	default:
		return geobus.AccuracyUnknown
	}
}

func NewGeolocationGeoIPProvider(http *http.Client) *GeolocationGeoIPProvider {
	provider := &GeolocationGeoIPProvider{
		name:   name,
		http:   http,
		period: 30 * time.Minute,
		ttl:    60 * time.Minute,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationGeoIPProvider) Name() string {
	return p.name
}

// LookupStream periodically looks up the position of the public IP address and emits a result
// whenever it moved significantly.
func (p *GeolocationGeoIPProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
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

			coord, err := p.locateFn(ctx)
			if err != nil {
				continue
			}

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
func (p *GeolocationGeoIPProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

func (p *GeolocationGeoIPProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	result := new(APIResult)
	if _, err := p.http.GetWithTimeout(ctx, APIEndpoint, result, nil, nil, LookupTimeout); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	return geobus.Coordinate{
		Lat: geobus.Truncate(result.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Longitude, geobus.TruncPrecision),
		Acc: result.Accuracy(),
	}, nil
}
