// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/whereami/internal/geocode"
	"github.com/wneessen/whereami/internal/http"
)

const (
	APIReverseEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout         = time.Second * 10
	name               = "osm-nominatim"
)

// Nominatim reverse geocodes through the OpenStreetMap Nominatim API. The API answers with at
// most one candidate.
type Nominatim struct {
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type ReverseResult struct {
	Error       string  `json:"error"`
	APILat      string  `json:"lat"`
	APILon      string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
}

type Address struct {
	HouseNumber  string `json:"house_number"`
	Road         string `json:"road"`
	Suburb       string `json:"suburb"`
	Municipality string `json:"municipality"`
	CityDistrict string `json:"city_district"`
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	State        string `json:"state"`
	ISO31662Lvl4 string `json:"ISO3166-2-lvl4"`
	Postcode     string `json:"postcode"`
	Country      string `json:"country"`
}

func New(client *http.Client, lang language.Tag) *Nominatim {
	return &Nominatim{
		lang:     lang,
		http:     client,
		endpoint: APIReverseEndpoint,
	}
}

func (n *Nominatim) Name() string {
	return name
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64, max int) ([]geocode.Address, error) {
	if err := geocode.ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("addressdetails", "1")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("accept-language", n.lang.String())

	var result ReverseResult
	if _, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout); err != nil {
		return nil, geocode.ClassifyError(name, err)
	}

	// Nominatim answers "Unable to geocode" with a 200 status
	if result.Error != "" {
		return nil, nil
	}

	address := geocode.Address{
		DisplayName:  result.DisplayName,
		Country:      result.Address.Country,
		State:        result.Address.State,
		Municipality: result.Address.Municipality,
		CityDistrict: result.Address.CityDistrict,
		Postcode:     result.Address.Postcode,
		City:         result.Address.City,
		Suburb:       result.Address.Suburb,
		Street:       result.Address.Road,
		HouseNumber:  result.Address.HouseNumber,
	}
	if address.City == "" {
		address.City = result.Address.Town
	}
	if address.City == "" {
		address.City = result.Address.Village
	}

	var err error
	address.Latitude, err = strconv.ParseFloat(result.APILat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse latitude from Nominatim API response: %w",
			geocode.ErrServiceUnavailable, err)
	}
	address.Longitude, err = strconv.ParseFloat(result.APILon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse longitude from Nominatim API response: %w",
			geocode.ErrServiceUnavailable, err)
	}

	return []geocode.Address{address}, nil
}
