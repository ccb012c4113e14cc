// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/whereami/internal/geobus"
)

const (
	testFile = "../../../../testdata/geolocation"
	testLat  = 40.7185
	testLon  = -74.0025
)

func TestNewGeolocationFileProvider(t *testing.T) {
	t.Run("new geolocation file provider succeeds", func(t *testing.T) {
		provider := NewGeolocationFileProvider(testFile)
		if provider == nil {
			t.Fatal("expected provider to be non-nil")
		}
	})
}

func TestGeolocationFileProvider_Name(t *testing.T) {
	provider := NewGeolocationFileProvider(testFile)
	if !strings.EqualFold(provider.Name(), name) {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestGeolocationFileProvider_readFile(t *testing.T) {
	t.Run("read file succeeds", func(t *testing.T) {
		provider := NewGeolocationFileProvider(testFile)
		coord, err := provider.readFile()
		if err != nil {
			t.Fatalf("failed to read file: %s", err)
		}
		if coord.Lat != testLat {
			t.Errorf("expected latitude to be %f, got %f", testLat, coord.Lat)
		}
		if coord.Lon != testLon {
			t.Errorf("expected longitude to be %f, got %f", testLon, coord.Lon)
		}
		if coord.Acc != geobus.AccuracyZip {
			t.Errorf("expected default accuracy %d, got %f", geobus.AccuracyZip, coord.Acc)
		}
	})
	t.Run("read file with accuracy column succeeds", func(t *testing.T) {
		provider := NewGeolocationFileProvider(testFile + "_accuracy")
		coord, err := provider.readFile()
		if err != nil {
			t.Fatalf("failed to read file: %s", err)
		}
		if coord.Lat != -33.8688 || coord.Lon != 151.2093 {
			t.Errorf("expected -33.8688,151.2093, got %f,%f", coord.Lat, coord.Lon)
		}
		if coord.Acc != 12.5 {
			t.Errorf("expected accuracy 12.5, got %f", coord.Acc)
		}
	})
	t.Run("read of non-existent file fails", func(t *testing.T) {
		provider := NewGeolocationFileProvider("non-existent.txt")
		if _, err := provider.readFile(); err == nil {
			t.Error("expected error, but didn't get one")
		}
	})
	t.Run("reading invalid file fails", func(t *testing.T) {
		provider := NewGeolocationFileProvider(testFile + "_nocoord")
		_, err := provider.readFile()
		if !errors.Is(err, ErrNoCoordinates) {
			t.Errorf("expected error to be %s, got %v", ErrNoCoordinates, err)
		}
	})
}

func TestGeolocationFileProvider_LookupStream(t *testing.T) {
	t.Run("reading fails on first run but then succeeds", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			runs := 0
			provider := NewGeolocationFileProvider(testFile)
			provider.locateFn = func() (geobus.Coordinate, error) {
				runs++
				if runs == 1 {
					return geobus.Coordinate{}, errors.New("intentionally failing")
				}
				return geobus.Coordinate{Lat: testLat, Lon: testLon, Acc: geobus.AccuracyZip}, nil
			}

			out := provider.LookupStream(ctx, "test")
			var result geobus.Result
			select {
			case result = <-out:
			case <-time.After(time.Hour):
				t.Fatal("expected a result")
			}
			cancel()
			synctest.Wait()

			if result.Lat != testLat || result.Lon != testLon {
				t.Errorf("expected %f,%f, got %f,%f", testLat, testLon, result.Lat, result.Lon)
			}
			if result.Source != name {
				t.Errorf("expected source %s, got %s", name, result.Source)
			}
			if result.Key != "test" {
				t.Errorf("expected key test, got %s", result.Key)
			}
			if runs != 2 {
				t.Errorf("expected 2 runs, got %d", runs)
			}
		})
	})
	t.Run("unchanged positions are emitted only once", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := NewGeolocationFileProvider(testFile)
			provider.locateFn = func() (geobus.Coordinate, error) {
				return geobus.Coordinate{Lat: testLat, Lon: testLon, Acc: geobus.AccuracyZip}, nil
			}
			out := provider.LookupStream(ctx, "test")
			<-out
			time.Sleep(provider.period * 3)
			synctest.Wait()
			select {
			case <-out:
				t.Error("expected no second result")
			default:
			}
		})
	})
}
