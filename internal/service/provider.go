// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/wneessen/whereami/internal/config"
	"github.com/wneessen/whereami/internal/geobus"
	"github.com/wneessen/whereami/internal/geobus/provider/geoip"
	"github.com/wneessen/whereami/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/whereami/internal/geobus/provider/gpsd"
	"github.com/wneessen/whereami/internal/geobus/provider/ichnaea"
	"github.com/wneessen/whereami/internal/geobus/provider/nmea"
	"github.com/wneessen/whereami/internal/geocode"
	geocodeearth "github.com/wneessen/whereami/internal/geocode/provider/geocode-earth"
	"github.com/wneessen/whereami/internal/geocode/provider/google"
	"github.com/wneessen/whereami/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/whereami/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/whereami/internal/http"
	"github.com/wneessen/whereami/internal/logger"
	"github.com/wneessen/whereami/internal/permission"
)

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.GeoLocation.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(s.config.GeoLocation.File))
	}

	if !s.config.GeoLocation.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.config.GeoLocation.GPSDAddr))
	}

	if s.config.GeoLocation.NMEAPort != "" {
		provider = append(provider, nmea.NewGeolocationNMEAProvider(s.config.GeoLocation.NMEAPort,
			s.config.GeoLocation.NMEABaud))
	}

	if !s.config.GeoLocation.DisableGeoIP {
		provider = append(provider, geoip.NewGeolocationGeoIPProvider(httpClient))
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient, s.config.GeoLocation.ICHNAEAEndpoint)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("no geolocation providers enabled")
	}

	return provider, nil
}

func (s *Service) selectGeocodeProvider(conf *config.Config, log *logger.Logger, lang language.Tag) (geocode.Geocoder, error) {
	var (
		geocoder geocode.Geocoder
		err      error
	)

	switch strings.ToLower(conf.GeoCoder.Provider) {
	case config.GeocoderNominatim:
		geocoder = nominatim.New(http.New(log), lang)
	case config.GeocoderOpenCage:
		geocoder, err = opencage.New(http.New(log), lang, conf.GeoCoder.APIKey)
	case config.GeocoderGeocodeEarth:
		geocoder, err = geocodeearth.New(http.New(log), lang, conf.GeoCoder.APIKey)
	case config.GeocoderGoogle:
		geocoder, err = google.New(http.New(log), lang, conf.GeoCoder.APIKey, conf.GeoCoder.RateLimit)
	default:
		return nil, fmt.Errorf("unsupported geocoder type: %s", conf.GeoCoder.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s geocoder: %w", conf.GeoCoder.Provider, err)
	}

	return geocode.NewCachedGeocoder(geocoder, conf.GeoCoder.CacheTTLHit, conf.GeoCoder.CacheTTLMiss), nil
}

// selectAuthorizer returns the permission authorizer and the location settings checks for the
// configured permission mode. Prompts read their answers from lines.
func (s *Service) selectAuthorizer(lines <-chan string, providers []geobus.Provider) (permission.Authorizer,
	permission.SettingsChecker, permission.SettingsResolver, error,
) {
	accuracy := permission.ParseAccuracy(s.config.Location.Accuracy)
	var (
		authorizer permission.Authorizer
		checker    permission.SettingsChecker = permission.StaticSettings{Available: availableAccuracy(providers)}
		resolvable bool
	)

	switch strings.ToLower(s.config.Location.Permission) {
	case config.PermissionAllow:
		authorizer = permission.Static{Allow: true}
	case config.PermissionDeny:
		authorizer = permission.Static{Allow: false}
	case config.PermissionPrompt:
		authorizer = permission.NewPrompt(lines, s.output, s.presenter.Notice(questionPermission))
	case config.PermissionGeoClue:
		geoclue := permission.NewGeoClue(s.config.Location.DesktopID, accuracy)
		authorizer = geoclue
		checker = geoclue
		resolvable = true
	default:
		return nil, nil, nil, fmt.Errorf("unsupported permission mode: %s", s.config.Location.Permission)
	}

	// The accuracy of the configured providers cannot be changed by the user at runtime.
	if !resolvable || s.config.Location.DisableSettingsPrompt {
		return authorizer, checker, nil, nil
	}
	resolver := permission.PromptSettings{
		Checker:  checker,
		In:       lines,
		Out:      s.output,
		Question: s.presenter.Notice(questionSettings),
	}
	return authorizer, checker, resolver, nil
}

// availableAccuracy returns the best accuracy level the providers can deliver.
func availableAccuracy(providers []geobus.Provider) permission.Accuracy {
	best := permission.AccuracyNone
	for _, p := range providers {
		var acc permission.Accuracy
		switch p.(type) {
		case *gpsd.GeolocationGPSDProvider, *nmea.GeolocationNMEAProvider,
			*geolocation_file.GeolocationFileProvider:
			acc = permission.AccuracyExact
		case *ichnaea.GeolocationICHNAEAProvider:
			acc = permission.AccuracyStreet
		case *geoip.GeolocationGeoIPProvider:
			acc = permission.AccuracyCity
		default:
			acc = permission.AccuracyCountry
		}
		if acc > best {
			best = acc
		}
	}
	return best
}
