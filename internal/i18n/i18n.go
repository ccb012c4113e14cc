// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package i18n provides the translations of the labels, notices and prompts.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/Xuanwo/go-locale"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/wneessen/whereami/internal/logger"
)

// Domain is the gettext domain of the catalogs in locale/<lang>/LC_MESSAGES.
const Domain = "whereami"

//go:embed locale
var locales embed.FS

// New returns a Localizer for loc. An empty loc is detected from the environment. A locale that
// cannot be detected or parsed is logged and English is used instead.
func New(log *logger.Logger, loc string) (*spreak.Localizer, error) {
	tag, err := languageTag(loc)
	if err != nil && log != nil {
		log.Warn("using English translations", logger.Err(err))
	}

	localeFS, err := fs.Sub(locales, "locale")
	if err != nil {
		return nil, fmt.Errorf("failed to load locales: %w", err)
	}

	bundle, err := spreak.NewBundle(
		spreak.WithSourceLanguage(language.English),
		spreak.WithFallbackLanguage(language.English),
		spreak.WithDefaultDomain(Domain),
		spreak.WithDomainFs(Domain, localeFS),
		spreak.WithLanguage(tag),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create i18n bundle: %w", err)
	}
	return spreak.NewLocalizer(bundle, tag), nil
}

func languageTag(loc string) (language.Tag, error) {
	if loc == "" {
		tag, err := locale.Detect()
		if err != nil {
			return language.English, fmt.Errorf("failed to detect locale: %w", err)
		}
		return tag, nil
	}
	tag, err := language.Parse(loc)
	if err != nil {
		return language.English, fmt.Errorf("invalid locale %q: %w", loc, err)
	}
	return tag, nil
}
