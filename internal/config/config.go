// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
)

const (
	configEnv = "WHEREAMI"
	// AppName is the name of the config directory below the user's config directory.
	AppName        = "whereami"
	DefaultTextTpl = `{{if .HasFix}}{{label "latitude"}} {{.Latitude}}
{{label "longitude"}} {{.Longitude}}
{{if .Accuracy.IsSet}}{{label "accuracy"}} {{meters .Accuracy.Value}}
{{end}}{{label "source"}} {{.Source}}
{{if .FixTime.IsSet}}{{label "age"}} {{age .FixTime.Value}}
{{end}}{{end}}`
	DefaultAddressTpl = `{{label "address"}} {{indent .Address}}`
)

// Permission modes
const (
	PermissionPrompt  = "prompt"
	PermissionAllow   = "allow"
	PermissionDeny    = "deny"
	PermissionGeoClue = "geoclue"
)

// Supported geocoders
const (
	GeocoderNominatim    = "nominatim"
	GeocoderOpenCage     = "opencage"
	GeocoderGeocodeEarth = "geocode-earth"
	GeocoderGoogle       = "google"
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Location struct {
		// Allowed values: prompt, allow, deny, geoclue
		Permission string `fig:"permission" default:"prompt"`
		// Allowed values: none, country, city, neighborhood, street, exact
		Accuracy              string        `fig:"accuracy" default:"exact"`
		DisableSettingsPrompt bool          `fig:"disable_settings_prompt"`
		Timeout               time.Duration `fig:"timeout" default:"10s"`
		MaxAge                time.Duration `fig:"max_age" default:"30s"`
		DesktopID             string        `fig:"desktop_id" default:"whereami"`
	} `fig:"location"`

	GeoLocation struct {
		File                   string `fig:"file"`
		GPSDAddr               string `fig:"gpsd_addr" default:"localhost:2947"`
		NMEAPort               string `fig:"nmea_port"`
		NMEABaud               int    `fig:"nmea_baud" default:"9600"`
		ICHNAEAEndpoint        string `fig:"ichnaea_endpoint"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
	} `fig:"geolocation"`

	GeoCoder struct {
		// Allowed values: nominatim, opencage, geocode-earth, google
		Provider     string        `fig:"provider" default:"nominatim"`
		APIKey       string        `fig:"apikey"`
		RateLimit    int           `fig:"rate_limit" default:"10"`
		CacheTTLHit  time.Duration `fig:"cache_ttl_hit" default:"24h"`
		CacheTTLMiss time.Duration `fig:"cache_ttl_miss" default:"10m"`
	} `fig:"geocoder"`

	Preferences struct {
		File string `fig:"file"`
	} `fig:"preferences"`

	Intervals struct {
		// Zero disables the periodic refresh
		Refresh    time.Duration `fig:"refresh"`
		CachePurge time.Duration `fig:"cache_purge" default:"1h"`
	} `fig:"intervals"`

	Metrics struct {
		Addr string `fig:"addr"`
	} `fig:"metrics"`

	Templates struct {
		Text    string `fig:"text"`
		Address string `fig:"address"`
	} `fig:"templates"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// LoadEnvFile adds the variables of a dotenv file to the environment, e.g. to keep the geocoder
// API key out of the config file. Variables that are already set win. A missing file is ignored.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}

	switch strings.ToLower(c.Location.Permission) {
	case PermissionPrompt, PermissionAllow, PermissionDeny, PermissionGeoClue:
	default:
		return fmt.Errorf("invalid location permission mode: %s", c.Location.Permission)
	}
	switch strings.ToLower(c.Location.Accuracy) {
	case "none", "country", "city", "neighborhood", "street", "exact":
	default:
		return fmt.Errorf("invalid location accuracy: %s", c.Location.Accuracy)
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("invalid location timeout: %s", c.Location.Timeout)
	}
	if c.Location.MaxAge < 0 {
		return fmt.Errorf("invalid location max age: %s", c.Location.MaxAge)
	}
	if c.GeoLocation.NMEABaud <= 0 {
		return fmt.Errorf("invalid NMEA baud rate: %d", c.GeoLocation.NMEABaud)
	}

	switch strings.ToLower(c.GeoCoder.Provider) {
	case GeocoderNominatim:
	case GeocoderOpenCage, GeocoderGeocodeEarth, GeocoderGoogle:
		if c.GeoCoder.APIKey == "" {
			return fmt.Errorf("%s geocoder requires an API key", c.GeoCoder.Provider)
		}
	default:
		return fmt.Errorf("unsupported geocoder: %s", c.GeoCoder.Provider)
	}
	if c.GeoCoder.RateLimit < 1 {
		return fmt.Errorf("invalid geocoder rate limit: %d", c.GeoCoder.RateLimit)
	}
	if c.Intervals.Refresh < 0 {
		return fmt.Errorf("invalid refresh interval: %s", c.Intervals.Refresh)
	}
	if c.Intervals.CachePurge <= 0 {
		return fmt.Errorf("invalid cache purge interval: %s", c.Intervals.CachePurge)
	}

	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Address == "" {
		c.Templates.Address = DefaultAddressTpl
	}

	configDir, _ := os.UserConfigDir()
	if c.GeoLocation.File == "" {
		c.GeoLocation.File = filepath.Join(configDir, AppName, "geolocation")
	}
	if c.Preferences.File == "" {
		c.Preferences.File = filepath.Join(configDir, AppName, "preferences.yaml")
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
