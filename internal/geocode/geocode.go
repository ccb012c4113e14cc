// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	stdhttp "net/http"
	"strings"

	"github.com/wneessen/whereami/internal/http"
)

var (
	// ErrServiceUnavailable is returned when the geocoding service could not be reached or failed
	// to answer.
	ErrServiceUnavailable = errors.New("geocoding service unavailable")

	// ErrInvalidCoordinate is returned for coordinates outside the valid range, or when the service
	// rejected the request.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Address is a single reverse geocoding candidate.
type Address struct {
	Latitude     float64
	Longitude    float64
	DisplayName  string
	Country      string
	State        string
	Municipality string
	CityDistrict string
	Postcode     string
	City         string
	Suburb       string
	Street       string
	HouseNumber  string

	// AddressLines holds preformatted lines when the provider supplies them.
	AddressLines []string
}

// Lines returns the ordered address lines of the candidate. Preformatted lines win; otherwise the
// lines are composed from the components, falling back to the display name.
func (a Address) Lines() []string {
	if len(a.AddressLines) > 0 {
		return a.AddressLines
	}

	var lines []string
	add := func(parts ...string) {
		var nonEmpty []string
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				nonEmpty = append(nonEmpty, part)
			}
		}
		if len(nonEmpty) > 0 {
			lines = append(lines, strings.Join(nonEmpty, " "))
		}
	}
	add(a.Street, a.HouseNumber)
	if a.Suburb != "" && a.Suburb != a.City {
		add(a.Suburb)
	}
	add(a.Postcode, a.City)
	if a.State != "" && a.State != a.City {
		add(a.State)
	}
	add(a.Country)

	if len(lines) == 0 && a.DisplayName != "" {
		return []string{a.DisplayName}
	}
	return lines
}

// Geocoder turns a coordinate into at most max address candidates. An empty result without an
// error means that nothing was found.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64, max int) ([]Address, error)
}

// ValidateCoordinate checks that lat and lon are within the valid range.
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: %f,%f", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

// ClassifyError wraps an HTTP client error into ErrInvalidCoordinate when the service rejected
// the request as malformed (400, 422) and into ErrServiceUnavailable otherwise. Authentication
// and quota failures count as an unavailable service.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *http.StatusError
	if errors.As(err, &statusErr) && statusErr.IsClientError() &&
		(statusErr.Code == stdhttp.StatusBadRequest || statusErr.Code == stdhttp.StatusUnprocessableEntity) {
		return fmt.Errorf("%w: %s rejected the request: %w", ErrInvalidCoordinate, provider, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, provider, err)
}
