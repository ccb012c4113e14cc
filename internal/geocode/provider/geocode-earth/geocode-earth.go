// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocodeearth

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/whereami/internal/geocode"
	"github.com/wneessen/whereami/internal/http"
)

const (
	APIEndpoint = "https://api.geocode.earth/v1/reverse"
	APITimeout  = time.Second * 10
	name        = "geocode-earth"
)

var ErrAPIKeyRequired = errors.New("geocode.earth requires an API key")

type GeocodeEarth struct {
	apikey   string
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type Response struct {
	Features []Feature `json:"features"`
	Type     string    `json:"type"`
}

type Feature struct {
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
	Type       string     `json:"type"`
}

// Geometry is a GeoJSON point; Coordinates holds longitude first.
type Geometry struct {
	Coordinates []float64 `json:"coordinates"`
	Type        string    `json:"type"`
}

type Properties struct {
	DisplayName  string `json:"label"`
	City         string `json:"locality"`
	CityDistrict string `json:"county"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	HouseNumber  string `json:"housenumber"`
	Municipality string `json:"neighbourhood"`
	Suburb       string `json:"borough"`
	Postcode     string `json:"postalcode"`
	Road         string `json:"street"`
	State        string `json:"region"`
	StateCode    string `json:"region_a"`
}

func New(client *http.Client, lang language.Tag, apikey string) (*GeocodeEarth, error) {
	if apikey == "" {
		return nil, ErrAPIKeyRequired
	}
	return &GeocodeEarth{
		apikey:   apikey,
		lang:     lang,
		http:     client,
		endpoint: APIEndpoint,
	}, nil
}

func (g *GeocodeEarth) Name() string {
	return name
}

func (g *GeocodeEarth) Reverse(ctx context.Context, lat, lon float64, max int) ([]geocode.Address, error) {
	if err := geocode.ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("api_key", g.apikey)
	query.Set("point.lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("point.lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("size", strconv.Itoa(max))
	query.Set("lang", g.lang.String())

	var response Response
	if _, err := g.http.GetWithTimeout(ctx, g.endpoint, &response, query, nil, APITimeout); err != nil {
		return nil, geocode.ClassifyError(name, err)
	}

	addresses := make([]geocode.Address, 0, min(len(response.Features), max))
	for _, feature := range response.Features {
		if len(addresses) == max {
			break
		}
		address := toAddress(feature.Properties)
		address.Latitude, address.Longitude = lat, lon
		if len(feature.Geometry.Coordinates) == 2 {
			address.Longitude, address.Latitude = feature.Geometry.Coordinates[0], feature.Geometry.Coordinates[1]
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}

func toAddress(result Properties) geocode.Address {
	return geocode.Address{
		DisplayName:  result.DisplayName,
		Country:      result.Country,
		State:        result.State,
		Municipality: result.Municipality,
		CityDistrict: result.CityDistrict,
		Postcode:     result.Postcode,
		City:         result.City,
		Suburb:       result.Suburb,
		Street:       result.Road,
		HouseNumber:  result.HouseNumber,
	}
}
