// Package config layers defaults, an optional YAML file, environment variables
// and command line overrides into one validated Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the loaded configuration cannot drive a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Links backends.
const (
	BackendNone  = "none"
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	Google  GoogleConfig
	CalDAV  CalDAVConfig
	Sync    SyncConfig
	Links   LinksConfig
	Metrics MetricsConfig
	Log     LogConfig
}

type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	CredentialsFile string
	TokenFile       string `validate:"required"`
	CalendarID      string `validate:"required"`
}

type CalDAVConfig struct {
	URL      string `validate:"required,url"`
	Username string
	Password string
	// Calendar is a display name or path; empty picks the first calendar that holds events.
	Calendar string
}

type SyncConfig struct {
	Authority          string `validate:"oneof=a b"`
	WindowDays         int    `validate:"min=1,max=366"`
	FloatingTimezone   string `validate:"required"`
	Placeholder        string
	PreferNearestStart bool
	TimezoneFile       string
}

// LinksConfig selects where A-to-B correlations are remembered between runs.
type LinksConfig struct {
	Backend       string `validate:"oneof=none file redis"`
	File          string `validate:"required_if=Backend file"`
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int `validate:"min=0"`
	RedisKey      string
}

type MetricsConfig struct {
	// Listen is the address /metrics is served on in scheduled modes. Empty disables it.
	Listen string
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

// envBindings keeps the variable names independent of the key layout.
var envBindings = map[string]string{
	"google.client_id":          "GOOGLE_CLIENT_ID",
	"google.client_secret":      "GOOGLE_CLIENT_SECRET",
	"google.credentials_file":   "GOOGLE_CREDENTIALS_FILE",
	"google.token_file":         "GOOGLE_TOKEN_FILE",
	"google.calendar_id":        "GOOGLE_CALENDAR_ID",
	"caldav.url":                "CALDAV_URL",
	"caldav.username":           "CALDAV_USERNAME",
	"caldav.password":           "CALDAV_PASSWORD",
	"caldav.calendar":           "CALDAV_CALENDAR",
	"sync.authority":            "SYNC_AUTHORITY",
	"sync.window_days":          "SYNC_WINDOW_DAYS",
	"sync.floating_timezone":    "PRIMARY_TIMEZONE",
	"sync.placeholder":          "SYNC_PLACEHOLDER",
	"sync.prefer_nearest_start": "SYNC_PREFER_NEAREST_START",
	"sync.timezone_file":        "TIMEZONE_FILE",
	"links.backend":             "LINKS_BACKEND",
	"links.file":                "LINKS_FILE",
	"links.redis_addr":          "REDIS_ADDR",
	"links.redis_password":      "REDIS_PASSWORD",
	"links.redis_db":            "REDIS_DB",
	"links.redis_key":           "REDIS_KEY",
	"metrics.listen":            "METRICS_LISTEN",
	"log.level":                 "LOG_LEVEL",
}

// Load reads the configuration. An empty path looks for caldavsync.yaml in the
// working directory and tolerates its absence. Overrides are keyed like the
// file ("sync.authority") and win over everything else.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("caldavsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	cfg.Google = GoogleConfig{
		ClientID:        v.GetString("google.client_id"),
		ClientSecret:    v.GetString("google.client_secret"),
		CredentialsFile: v.GetString("google.credentials_file"),
		TokenFile:       v.GetString("google.token_file"),
		CalendarID:      v.GetString("google.calendar_id"),
	}
	cfg.CalDAV = CalDAVConfig{
		URL:      v.GetString("caldav.url"),
		Username: v.GetString("caldav.username"),
		Password: v.GetString("caldav.password"),
		Calendar: v.GetString("caldav.calendar"),
	}
	cfg.Sync = SyncConfig{
		Authority:          strings.ToLower(v.GetString("sync.authority")),
		WindowDays:         v.GetInt("sync.window_days"),
		FloatingTimezone:   v.GetString("sync.floating_timezone"),
		Placeholder:        v.GetString("sync.placeholder"),
		PreferNearestStart: v.GetBool("sync.prefer_nearest_start"),
		TimezoneFile:       v.GetString("sync.timezone_file"),
	}
	cfg.Links = LinksConfig{
		Backend:       strings.ToLower(v.GetString("links.backend")),
		File:          v.GetString("links.file"),
		RedisAddr:     v.GetString("links.redis_addr"),
		RedisPassword: v.GetString("links.redis_password"),
		RedisDB:       v.GetInt("links.redis_db"),
		RedisKey:      v.GetString("links.redis_key"),
	}
	cfg.Metrics = MetricsConfig{Listen: v.GetString("metrics.listen")}
	cfg.Log = LogConfig{Level: strings.ToLower(v.GetString("log.level"))}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google.credentials_file", "credentials.json")
	v.SetDefault("google.token_file", "token.json")
	v.SetDefault("google.calendar_id", "primary")
	v.SetDefault("sync.authority", "b")
	v.SetDefault("sync.window_days", 30)
	v.SetDefault("sync.floating_timezone", "UTC")
	v.SetDefault("sync.placeholder", "No Title")
	v.SetDefault("sync.prefer_nearest_start", false)
	v.SetDefault("links.backend", BackendFile)
	v.SetDefault("links.file", "links.json")
	v.SetDefault("links.redis_key", "caldavsync:links")
	v.SetDefault("log.level", "info")
}

// Validate checks everything a sync run needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.FloatingLocation(); err != nil {
		return err
	}
	if c.Google.ClientID == "" && c.Google.CredentialsFile == "" {
		return fmt.Errorf("%w: GOOGLE_CLIENT_ID or a credentials file is required", ErrInvalidConfig)
	}
	return nil
}

// Window is the reconciliation horizon.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Sync.WindowDays) * 24 * time.Hour
}

// FloatingLocation is the zone bare CalDAV times are read and written in.
func (c *Config) FloatingLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Sync.FloatingTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone '%s': %v", ErrInvalidConfig, c.Sync.FloatingTimezone, err)
	}
	return loc, nil
}
