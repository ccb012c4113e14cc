// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/whereami/internal/geocode"
	"github.com/wneessen/whereami/internal/http"
)

const (
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

var ErrAPIKeyRequired = errors.New("OpenCage requires an API key")

type OpenCage struct {
	apikey   string
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type Response struct {
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

type Result struct {
	Components  Components `json:"components"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	NomalizedCity string `json:"_normalized_city"`
	City          string `json:"city"`
	CityDistrict  string `json:"city_district"`
	Country       string `json:"country"`
	CountryCode   string `json:"country_code"`
	HouseNumber   string `json:"house_number"`
	Municipality  string `json:"municipality"`
	Postcode      string `json:"postcode"`
	Road          string `json:"road"`
	State         string `json:"state"`
	StateCode     string `json:"state_code"`
	Suburb        string `json:"suburb"`
	Town          string `json:"town"`
	Village       string `json:"village"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) (*OpenCage, error) {
	if apikey == "" {
		return nil, ErrAPIKeyRequired
	}
	return &OpenCage{
		apikey:   apikey,
		lang:     lang,
		http:     client,
		endpoint: APIEndpoint,
	}, nil
}

func (o *OpenCage) Name() string {
	return name
}

func (o *OpenCage) Reverse(ctx context.Context, lat, lon float64, max int) ([]geocode.Address, error) {
	if err := geocode.ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", fmt.Sprintf("%s,%s", strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64)))
	query.Set("limit", strconv.Itoa(max))
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())

	var response Response
	if _, err := o.http.GetWithTimeout(ctx, o.endpoint, &response, query, nil, APITimeout); err != nil {
		return nil, geocode.ClassifyError(name, err)
	}

	addresses := make([]geocode.Address, 0, min(len(response.Results), max))
	for _, result := range response.Results {
		if len(addresses) == max {
			break
		}
		addresses = append(addresses, toAddress(result))
	}
	return addresses, nil
}

func toAddress(result Result) geocode.Address {
	comp := result.Components
	address := geocode.Address{
		Latitude:     result.Geometry.Lat,
		Longitude:    result.Geometry.Lon,
		DisplayName:  result.DisplayName,
		Country:      comp.Country,
		State:        comp.State,
		Municipality: comp.Municipality,
		CityDistrict: comp.CityDistrict,
		Postcode:     comp.Postcode,
		City:         comp.NomalizedCity,
		Suburb:       comp.Suburb,
		Street:       comp.Road,
		HouseNumber:  comp.HouseNumber,
	}
	for _, city := range []string{comp.City, comp.Town, comp.Village} {
		if address.City != "" {
			break
		}
		address.City = city
	}
	return address
}
