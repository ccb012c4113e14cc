// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/whereami/internal/geobus"
	"github.com/wneessen/whereami/internal/http"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	wifiScanTime    = time.Minute * 2
	name            = "ichnaea"
)

var ErrHTTPClientRequired = errors.New("http client is required")

// scanner is the part of the nl80211 client the provider needs.
type scanner interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

// GeolocationICHNAEAProvider locates the host through an Ichnaea compatible API (BeaconDB by
// default), using the visible WiFi access points and the public IP address.
type GeolocationICHNAEAProvider struct {
	name     string
	endpoint string
	http     *http.Client
	wlan     scanner
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type apiRequest struct {
	ConsiderIP   bool              `json:"considerIp"`
	Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

// NewGeolocationICHNAEAProvider returns a provider querying endpoint. An empty endpoint selects
// DefaultEndpoint.
func NewGeolocationICHNAEAProvider(http *http.Client, endpoint string) (*GeolocationICHNAEAProvider, error) {
	if http == nil {
		return nil, ErrHTTPClientRequired
	}
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return newProvider(http, wlan, endpoint), nil
}

func newProvider(http *http.Client, wlan scanner, endpoint string) *GeolocationICHNAEAProvider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	provider := &GeolocationICHNAEAProvider{
		name:     name,
		endpoint: endpoint,
		http:     http,
		wlan:     wlan,
		period:   time.Minute * 5,
		ttl:      time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return p.name
}

// LookupStream scans for access points in the background and periodically asks the API for
// the position, emitting a result whenever it moved significantly.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go p.monitorWifiAccessPoints(ctx)
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
func (p *GeolocationICHNAEAProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

func (p *GeolocationICHNAEAProvider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false

		list, err := p.wifiAccessPoints()
		if err != nil {
			continue
		}
		p.apLock.Lock()
		p.aps = list
		p.apLock.Unlock()
	}
}

// wifiAccessPoints lists the access points visible to all station interfaces. Hidden networks
// and networks that opted out with the "_nomap" suffix are skipped.
func (p *GeolocationICHNAEAProvider) wifiAccessPoints() ([]WirelessNetwork, error) {
	if p.wlan == nil {
		return nil, nil
	}
	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var list []WirelessNetwork
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	req := apiRequest{
		ConsiderIP:   true,
		Accesspoints: wifiList,
	}
	bodyBuffer := bytes.NewBuffer(nil)
	if err := json.NewEncoder(bodyBuffer).Encode(req); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	if _, err := p.http.PostWithTimeout(ctx, p.endpoint, result, bodyBuffer, nil, lookupTimeout); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	return geobus.Coordinate{
		Lat: geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
		Acc: geobus.Truncate(result.Accuracy, geobus.TruncPrecision),
	}, nil
}
