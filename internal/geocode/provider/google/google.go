// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"googlemaps.github.io/maps"

	"github.com/wneessen/whereami/internal/geocode"
	"github.com/wneessen/whereami/internal/http"
)

const name = "google"

var ErrAPIKeyRequired = errors.New("API key is required for Google provider")

// APIClient is the part of the Google Maps client the provider needs.
type APIClient interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Google reverse geocodes through the Google Maps Geocoding API.
type Google struct {
	client APIClient
	lang   language.Tag
}

// New creates a Google Maps client sharing the transport of client. A positive rateLimit caps
// the requests per second.
func New(client *http.Client, lang language.Tag, apikey string, rateLimit int) (*Google, error) {
	if apikey == "" {
		return nil, ErrAPIKeyRequired
	}

	clientOpts := []maps.ClientOption{
		maps.WithAPIKey(apikey),
	}
	if client != nil {
		clientOpts = append(clientOpts, maps.WithHTTPClient(client.Client))
	}
	if rateLimit > 0 {
		clientOpts = append(clientOpts, maps.WithRateLimit(rateLimit))
	}

	mapsClient, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return NewWithClient(mapsClient, lang), nil
}

// NewWithClient returns a provider using the given API client.
func NewWithClient(client APIClient, lang language.Tag) *Google {
	return &Google{client: client, lang: lang}
}

func (g *Google) Name() string {
	return name
}

func (g *Google) Reverse(ctx context.Context, lat, lon float64, max int) ([]geocode.Address, error) {
	if err := geocode.ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, nil
	}

	req := &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: lat, Lng: lon},
		Language: g.lang.String(),
	}
	results, err := g.client.ReverseGeocode(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	addresses := make([]geocode.Address, 0, min(len(results), max))
	for _, result := range results {
		if len(addresses) == max {
			break
		}
		addresses = append(addresses, toAddress(result))
	}
	return addresses, nil
}

// classify maps the API status carried in the error text to the geocode errors.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ZERO_RESULTS"):
		return nil
	case strings.Contains(msg, "INVALID_REQUEST"):
		return fmt.Errorf("%w: %s rejected the request: %w", geocode.ErrInvalidCoordinate, name, err)
	default:
		return fmt.Errorf("%w: %s: %w", geocode.ErrServiceUnavailable, name, err)
	}
}

func toAddress(result maps.GeocodingResult) geocode.Address {
	address := geocode.Address{
		Latitude:    result.Geometry.Location.Lat,
		Longitude:   result.Geometry.Location.Lng,
		DisplayName: result.FormattedAddress,
	}
	if result.FormattedAddress != "" {
		address.AddressLines = []string{result.FormattedAddress}
	}
	for _, comp := range result.AddressComponents {
		for _, kind := range comp.Types {
			switch kind {
			case "street_number":
				address.HouseNumber = comp.LongName
			case "route":
				address.Street = comp.LongName
			case "sublocality", "sublocality_level_1":
				address.Suburb = comp.LongName
			case "locality", "postal_town":
				if address.City == "" {
					address.City = comp.LongName
				}
			case "administrative_area_level_2":
				address.CityDistrict = comp.LongName
			case "administrative_area_level_1":
				address.State = comp.LongName
			case "country":
				address.Country = comp.LongName
			case "postal_code":
				address.Postcode = comp.LongName
			}
		}
	}
	return address
}
