// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package coordfmt renders latitude and longitude values as decimal degrees, degrees and
// minutes, or degrees, minutes and seconds.
package coordfmt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format selects how a coordinate value is rendered.
type Format int

const (
	// Degrees renders "DDD.DDDDD".
	Degrees Format = iota
	// DegreesMinutes renders "DDD:MM.MMMMM".
	DegreesMinutes
	// DegreesMinutesSeconds renders "DDD:MM:SS.SSSSS".
	DegreesMinutesSeconds
)

// Preference values as stored in the preferences file.
const (
	PrefDegrees = "degrees"
	PrefMinutes = "minutes"
	PrefSeconds = "seconds"
)

// maxFractionDigits is the number of fractional digits of the last field.
const maxFractionDigits = 5

// ErrOutOfRange is returned by Convert for values outside of [-180, 180] and for NaN or infinite
// values.
var ErrOutOfRange = errors.New("coordinate value out of range")

// ParseFormat maps a stored preference value to a Format. Absent or unknown values select
// Degrees.
func ParseFormat(value string) Format {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case PrefMinutes:
		return DegreesMinutes
	case PrefSeconds:
		return DegreesMinutesSeconds
	default:
		return Degrees
	}
}

// String returns the preference value of f.
func (f Format) String() string {
	switch f {
	case DegreesMinutes:
		return PrefMinutes
	case DegreesMinutesSeconds:
		return PrefSeconds
	default:
		return PrefDegrees
	}
}

// Convert renders value in the given format. Negative values carry a leading "-", fields are
// separated by ":" and the last field has at most five fractional digits without trailing
// zeros. Values outside of -180..180 and NaN are rejected.
func Convert(value float64, f Format) (string, error) {
	if math.IsNaN(value) || value < -180 || value > 180 {
		return "", fmt.Errorf("%w: %v", ErrOutOfRange, value)
	}

	var sb strings.Builder
	if value < 0 {
		sb.WriteByte('-')
		value = -value
	}

	if f == DegreesMinutes || f == DegreesMinutesSeconds {
		degrees := math.Floor(value)
		sb.WriteString(strconv.Itoa(int(degrees)))
		sb.WriteByte(':')
		value = (value - degrees) * 60

		if f == DegreesMinutesSeconds {
			minutes := math.Floor(value)
			sb.WriteString(strconv.Itoa(int(minutes)))
			sb.WriteByte(':')
			value = (value - minutes) * 60
		}
	}
	sb.WriteString(formatFraction(value))
	return sb.String(), nil
}

// Pair renders a latitude and a longitude in the same format.
func Pair(lat, lon float64, f Format) (string, string, error) {
	latStr, err := Convert(lat, f)
	if err != nil {
		return "", "", fmt.Errorf("failed to format latitude: %w", err)
	}
	lonStr, err := Convert(lon, f)
	if err != nil {
		return "", "", fmt.Errorf("failed to format longitude: %w", err)
	}
	return latStr, lonStr, nil
}

// formatFraction renders a non-negative value with at most five fractional digits. Trailing
// zeros are dropped and a pure fraction has no leading zero, so 0.5 renders as ".5" and 0 as "0".
func formatFraction(value float64) string {
	s := strconv.FormatFloat(value, 'f', maxFractionDigits, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	switch {
	case s == "" || s == "0":
		return "0"
	case strings.HasPrefix(s, "0."):
		return s[1:]
	default:
		return s
	}
}
