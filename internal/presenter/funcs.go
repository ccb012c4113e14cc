// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
)

func (p *Presenter) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    p.timeFormat,
		"localizedTime": p.localizedTime,
		"age":           p.age,
		"floatFormat":   p.floatFormat,
		"meters":        p.meters,
		"loc":           p.loc,
		"label":         p.label,
		"indent":        p.indent,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

func (p *Presenter) loc(val string) string {
	val = strings.ToLower(val)
	if raw, ok := i18nVars[val]; ok {
		return p.localizer.Get(raw)
	}
	return val
}

// label returns the localized label followed by a colon, padded so that the values of all
// labels line up.
func (p *Presenter) label(val string) string {
	text := p.loc(val)
	pad := p.labelWidth - runewidth.StringWidth(text)
	if pad < 0 {
		pad = 0
	}
	return text + ":" + strings.Repeat(" ", pad)
}

func (p *Presenter) localizedTime(val time.Time) string {
	return p.humanizer.FormatTime(val, humanize.TimeFormat)
}

// age renders the time passed since val in natural language, e.g. "2 minutes ago".
func (p *Presenter) age(val time.Time) string {
	return p.humanizer.NaturalTime(val)
}

func (p *Presenter) timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func (p *Presenter) floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return fmt.Sprintf("%.*f", precision, math.Trunc(val*pow)/pow)
}

// meters renders a distance in meters, switching to kilometers from 10 km on.
func (p *Presenter) meters(val float64) string {
	if val >= 10000 {
		return fmt.Sprintf("%.0f km", val/1000)
	}
	return fmt.Sprintf("%.0f m", val)
}

// indent aligns every line but the first of val with the values following a label.
func (p *Presenter) indent(val string) string {
	return strings.ReplaceAll(val, "\n", "\n"+strings.Repeat(" ", p.labelWidth+2))
}

// maxLabelWidth returns the display width of the widest localized label.
func (p *Presenter) maxLabelWidth() int {
	width := 0
	for key := range i18nVars {
		if w := runewidth.StringWidth(p.loc(key)); w > width {
			width = w
		}
	}
	return width
}
