// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package permission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrSettingsUnsatisfied is returned when the location settings do not allow the requested
	// accuracy.
	ErrSettingsUnsatisfied = errors.New("location settings do not satisfy the requested accuracy")

	// ErrNotResolvable is returned when unsatisfied settings cannot be changed by the user.
	ErrNotResolvable = errors.New("location settings cannot be resolved")
)

// Accuracy is a location accuracy level. The values match the GeoClue accuracy levels.
type Accuracy uint32

const (
	AccuracyNone         Accuracy = 0
	AccuracyCountry      Accuracy = 1
	AccuracyCity         Accuracy = 4
	AccuracyNeighborhood Accuracy = 5
	AccuracyStreet       Accuracy = 6
	AccuracyExact        Accuracy = 8
)

// ParseAccuracy maps a configuration value to an Accuracy. Unknown values select AccuracyExact.
func ParseAccuracy(value string) Accuracy {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none":
		return AccuracyNone
	case "country":
		return AccuracyCountry
	case "city":
		return AccuracyCity
	case "neighborhood":
		return AccuracyNeighborhood
	case "street":
		return AccuracyStreet
	default:
		return AccuracyExact
	}
}

func (a Accuracy) String() string {
	switch a {
	case AccuracyNone:
		return "none"
	case AccuracyCountry:
		return "country"
	case AccuracyCity:
		return "city"
	case AccuracyNeighborhood:
		return "neighborhood"
	case AccuracyStreet:
		return "street"
	case AccuracyExact:
		return "exact"
	default:
		return fmt.Sprintf("level %d", uint32(a))
	}
}

// SettingsChecker reports whether the system can provide locations of the requested accuracy.
type SettingsChecker interface {
	CheckSettings(ctx context.Context, want Accuracy) error
}

// SettingsResolver asks the user to change the location settings so that the requested accuracy
// becomes available.
type SettingsResolver interface {
	ResolveSettings(ctx context.Context, want Accuracy) error
}

// StaticSettings reports a fixed available accuracy, e.g. the best accuracy of the configured
// location sources.
type StaticSettings struct {
	Available Accuracy
}

func (s StaticSettings) CheckSettings(_ context.Context, want Accuracy) error {
	if s.Available < want {
		return fmt.Errorf("%w: %s requested, %s available", ErrSettingsUnsatisfied, want, s.Available)
	}
	return nil
}

// PromptSettings asks the user to fix the location settings (e.g. to start gpsd) and checks the
// settings again once the user confirmed. Any answer other than an empty line or "y" dismisses
// the request.
type PromptSettings struct {
	Checker  SettingsChecker
	In       <-chan string
	Out      io.Writer
	Question string
}

func (p PromptSettings) ResolveSettings(ctx context.Context, want Accuracy) error {
	if p.Checker == nil {
		return ErrNotResolvable
	}
	answer, err := ask(ctx, p.In, p.Out, p.Question+" [Y/n] ")
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "", "y", "yes", "j", "ja":
		return p.Checker.CheckSettings(ctx, want)
	default:
		return fmt.Errorf("%w: dismissed by the user", ErrSettingsUnsatisfied)
	}
}
