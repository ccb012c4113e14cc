// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package coordfmt

import (
	"errors"
	"math"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		value string
		want  Format
	}{
		{"degrees", Degrees},
		{"minutes", DegreesMinutes},
		{"seconds", DegreesMinutesSeconds},
		{" Minutes ", DegreesMinutes},
		{"", Degrees},
		{"radians", Degrees},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			if got := ParseFormat(tc.value); got != tc.want {
				t.Errorf("expected format %s, got %s", tc.want, got)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	for _, f := range []Format{Degrees, DegreesMinutes, DegreesMinutesSeconds} {
		if got := ParseFormat(f.String()); got != f {
			t.Errorf("expected %s to parse back to itself, got %s", f, got)
		}
	}
	if Format(42).String() != PrefDegrees {
		t.Errorf("expected unknown format to render as %s", PrefDegrees)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		format Format
		want   string
	}{
		{"sydney latitude in degrees", -33.8688, Degrees, "-33.8688"},
		{"sydney latitude in minutes", -33.8688, DegreesMinutes, "-33:52.128"},
		{"sydney latitude in seconds", -33.8688, DegreesMinutesSeconds, "-33:52:7.68"},
		{"sydney longitude in degrees", 151.2093, Degrees, "151.2093"},
		{"sydney longitude in minutes", 151.2093, DegreesMinutes, "151:12.558"},
		{"sydney longitude in seconds", 151.2093, DegreesMinutesSeconds, "151:12:33.48"},
		{"five fractional digits", 12.3456789, Degrees, "12.34568"},
		{"whole degrees", 10, Degrees, "10"},
		{"zero", 0, Degrees, "0"},
		{"zero in minutes", 0, DegreesMinutes, "0:0"},
		{"pure fraction drops the leading zero", 0.5, Degrees, ".5"},
		{"negative pure fraction", -0.25, Degrees, "-.25"},
		{"boundary", 180, DegreesMinutesSeconds, "180:0:0"},
		{"negative boundary", -180, Degrees, "-180"},
		{"tiny value rounds to zero", 0.000001, Degrees, "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Convert(tc.value, tc.format)
			if err != nil {
				t.Fatalf("failed to convert %f: %s", tc.value, err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestConvert_deterministic(t *testing.T) {
	for _, f := range []Format{Degrees, DegreesMinutes, DegreesMinutesSeconds} {
		first, _ := Convert(-33.8688, f)
		for range 10 {
			if got, _ := Convert(-33.8688, f); got != first {
				t.Fatalf("expected stable output %q, got %q", first, got)
			}
		}
	}
}

func TestConvert_outOfRange(t *testing.T) {
	for _, value := range []float64{-180.0001, 180.0001, math.NaN(), math.Inf(1)} {
		if _, err := Convert(value, Degrees); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("expected error to be %s for %v, got %v", ErrOutOfRange, value, err)
		}
	}
}

func TestPair(t *testing.T) {
	t.Run("both values are formatted", func(t *testing.T) {
		lat, lon, err := Pair(-33.8688, 151.2093, DegreesMinutes)
		if err != nil {
			t.Fatal(err)
		}
		if lat != "-33:52.128" || lon != "151:12.558" {
			t.Errorf("expected -33:52.128/151:12.558, got %s/%s", lat, lon)
		}
	})
	t.Run("invalid longitude fails", func(t *testing.T) {
		if _, _, err := Pair(0, 200, Degrees); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("expected error to be %s, got %v", ErrOutOfRange, err)
		}
	})
}
