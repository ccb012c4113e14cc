// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"

	"github.com/wneessen/whereami/internal/config"
	"github.com/wneessen/whereami/internal/coordfmt"
	"github.com/wneessen/whereami/internal/locate"
	"github.com/wneessen/whereami/internal/vartype"
)

// TemplateContext is the data the display templates are executed with.
type TemplateContext struct {
	HasFix bool

	// Latitude and Longitude are rendered in Format.
	Latitude  string
	Longitude string
	Format    string
	Lat, Lon  float64

	Altitude vartype.VarFloat64
	Accuracy vartype.VarFloat64
	FixTime  vartype.VarTime
	Source   string

	Address      string
	AddressLines []string
}

type Presenter struct {
	localizer  *spreak.Localizer
	humanizer  *humanize.Humanizer
	labelWidth int

	text    *template.Template
	address *template.Template
}

// New parses the display templates of conf and renders them once with sample data, so that
// template errors surface at startup.
func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	pres := &Presenter{
		localizer: loc,
		humanizer: collection.CreateHumanizer(loc.Language()),
	}
	pres.labelWidth = pres.maxLabelWidth()

	if pres.text, err = template.New("text").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Text); err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	if pres.address, err = template.New("address").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Address); err != nil {
		return nil, fmt.Errorf("failed to parse address template: %w", err)
	}

	sample, err := pres.BuildContext(locate.Fix{
		Lat: -33.8688, Lon: 151.2093, Source: "sample",
		Accuracy: vartype.NewVariable(10.0), Time: vartype.NewVariable(time.Now()),
	}, true, coordfmt.Degrees, "1 Example St\nSydney NSW\nAustralia")
	if err != nil {
		return nil, fmt.Errorf("failed to build sample context: %w", err)
	}
	if _, err = pres.Render(sample); err != nil {
		return nil, err
	}
	if _, err = pres.RenderAddress(sample); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext prepares the template data for fix. haveFix is false as long as no fix was
// obtained; the coordinates are then left empty.
func (p *Presenter) BuildContext(fix locate.Fix, haveFix bool, format coordfmt.Format, address string) (TemplateContext, error) {
	tplCtx := TemplateContext{
		HasFix:  haveFix,
		Format:  format.String(),
		Address: address,
	}
	if address != "" {
		tplCtx.AddressLines = strings.Split(address, "\n")
	}
	if !haveFix {
		return tplCtx, nil
	}

	lat, lon, err := coordfmt.Pair(fix.Lat, fix.Lon, format)
	if err != nil {
		return tplCtx, fmt.Errorf("failed to format coordinates: %w", err)
	}
	tplCtx.Latitude = lat
	tplCtx.Longitude = lon
	tplCtx.Lat = fix.Lat
	tplCtx.Lon = fix.Lon
	tplCtx.Altitude = fix.Alt
	tplCtx.Accuracy = fix.Accuracy
	tplCtx.FixTime = fix.Time
	tplCtx.Source = fix.Source
	return tplCtx, nil
}

// Render executes the main display template.
func (p *Presenter) Render(tplCtx TemplateContext) (string, error) {
	buf := bytes.NewBuffer(nil)
	if err := p.text.Execute(buf, tplCtx); err != nil {
		return "", fmt.Errorf("failed to render text template: %w", err)
	}
	return buf.String(), nil
}

// RenderAddress executes the address template.
func (p *Presenter) RenderAddress(tplCtx TemplateContext) (string, error) {
	buf := bytes.NewBuffer(nil)
	if err := p.address.Execute(buf, tplCtx); err != nil {
		return "", fmt.Errorf("failed to render address template: %w", err)
	}
	return buf.String(), nil
}

// Notice returns the localized form of a user-visible message.
func (p *Presenter) Notice(msg string) string {
	return p.localizer.Get(msg)
}
