// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nmea

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/wneessen/whereami/internal/geobus"
)

const (
	name            = "nmea"
	DefaultBaudRate = 9600

	// hdopMeters is the assumed user equivalent range error of a consumer receiver.
	hdopMeters       = 5.0
	fallbackAccuracy = 25
)

// openFunc opens the serial device at path.
type openFunc func(path string, baud int) (io.ReadCloser, error)

// GeolocationNMEAProvider reads NMEA 0183 sentences from a GPS receiver attached to a serial port.
type GeolocationNMEAProvider struct {
	name   string
	port   string
	baud   int
	period time.Duration
	ttl    time.Duration
	openFn openFunc
}

// fix is the state accumulated from RMC and GGA sentences.
type fix struct {
	lat, lon float64
	hdop     float64
	valid    bool
}

func (f fix) coordinate() geobus.Coordinate {
	acc := float64(fallbackAccuracy)
	if f.hdop > 0 {
		acc = f.hdop * hdopMeters
	}
	return geobus.Coordinate{
		Lat: geobus.Truncate(f.lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(f.lon, geobus.TruncPrecision),
		Acc: geobus.Truncate(acc, geobus.TruncPrecision),
	}
}

// NewGeolocationNMEAProvider returns a provider for the serial device at port. A zero baud
// rate selects DefaultBaudRate.
func NewGeolocationNMEAProvider(port string, baud int) *GeolocationNMEAProvider {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &GeolocationNMEAProvider{
		name:   name,
		port:   port,
		baud:   baud,
		period: time.Second * 30,
		ttl:    time.Minute * 2,
		openFn: openSerial,
	}
}

func (p *GeolocationNMEAProvider) Name() string {
	return p.name
}

// LookupStream reads sentences from the serial port and emits a result for every valid fix that
// moved significantly. The port is reopened after the provider period when reading fails.
func (p *GeolocationNMEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_ = p.read(ctx, func(coord geobus.Coordinate) bool {
				if !state.HasChanged(coord) {
					return true
				}
				state.Update(coord)
				select {
				case <-ctx.Done():
					return false
				case out <- p.createResult(key, coord):
					return true
				}
			})

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()
	return out
}

// read opens the port and hands every valid coordinate to emit until the port fails, ctx is
// done or emit returns false.
func (p *GeolocationNMEAProvider) read(ctx context.Context, emit func(geobus.Coordinate) bool) error {
	port, err := p.openFn(p.port, p.baud)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()

	var current fix
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") || !validChecksum(line) {
			continue
		}
		if !current.apply(line) {
			continue
		}
		if !emit(current.coordinate()) {
			return nil
		}
	}
	if err = scanner.Err(); err != nil {
		return fmt.Errorf("failed to read NMEA data from %s: %w", p.port, err)
	}
	return io.EOF
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationNMEAProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

// apply updates f from a checksummed sentence and reports whether f now holds a new valid
// position.
func (f *fix) apply(line string) bool {
	parts := splitSentence(line)
	if len(parts) == 0 || len(parts[0]) < 5 {
		return false
	}
	switch parts[0][2:] {
	case "RMC":
		// RMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a
		if len(parts) < 7 {
			return false
		}
		f.valid = parts[2] == "A"
		if !f.valid {
			return false
		}
		return f.setPosition(parts[3], parts[4], parts[5], parts[6])
	case "GGA":
		// GGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,q,ss,h.h,a.a,M,...
		if len(parts) < 9 {
			return false
		}
		quality, err := strconv.Atoi(parts[6])
		if err != nil || quality == 0 {
			f.valid = false
			return false
		}
		if hdop, err := strconv.ParseFloat(parts[8], 64); err == nil {
			f.hdop = hdop
		}
		f.valid = true
		return f.setPosition(parts[2], parts[3], parts[4], parts[5])
	default:
		return false
	}
}

func (f *fix) setPosition(lat, latDir, lon, lonDir string) bool {
	la, ok := parseCoordinate(lat, latDir)
	if !ok {
		return false
	}
	lo, ok := parseCoordinate(lon, lonDir)
	if !ok {
		return false
	}
	f.lat, f.lon = la, lo
	return geobus.Coordinate{Lat: la, Lon: lo}.Valid()
}

// splitSentence strips the leading "$" and the checksum suffix and splits the fields.
func splitSentence(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	return strings.Split(strings.TrimPrefix(line, "$"), ",")
}

// parseCoordinate converts the NMEA (d)ddmm.mmmm format to decimal degrees.
func parseCoordinate(raw, dir string) (float64, bool) {
	if raw == "" || dir == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(val / 100)
	result := deg + (val-deg*100)/60

	switch dir {
	case "N", "E":
	case "S", "W":
		result = -result
	default:
		return 0, false
	}
	return result, true
}

// validChecksum checks the XOR checksum following the "*".
func validChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 1 || idx+3 > len(line) {
		return false
	}
	var calc byte
	for i := 1; i < idx; i++ {
		calc ^= line[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}

func openSerial(path string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err = port.SetReadTimeout(serial.NoTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	return port, nil
}
