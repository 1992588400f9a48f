package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"weatherview/internal/cache"
	"weatherview/internal/owm"
)

type Config struct {
	Port string `mapstructure:"port"`

	OpenWeatherAPIKey string        `mapstructure:"openweather_api_key"`
	OWMBaseURL        string        `mapstructure:"owm_base_url"`
	OWMGeoBaseURL     string        `mapstructure:"owm_geo_base_url"`
	Units             string        `mapstructure:"owm_units"`
	HTTPTimeout       time.Duration `mapstructure:"owm_http_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	GeolocationTimeout time.Duration `mapstructure:"geolocation_timeout"`
	GeoIPBaseURL       string        `mapstructure:"geoip_base_url"`

	GeocodeCacheTTL time.Duration `mapstructure:"geocode_cache_ttl"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`

	MQTTBrokerURL   string `mapstructure:"mqtt_broker_url"`
	MQTTTopicPrefix string `mapstructure:"mqtt_topic_prefix"`

	ViewIdleTTL  time.Duration `mapstructure:"view_idle_ttl"`
	Timezone     string        `mapstructure:"timezone"`
	OTLPEndpoint string        `mapstructure:"otel_exporter_otlp_endpoint"`

	// Location is Timezone resolved; nil means time.Local.
	Location *time.Location `mapstructure:"-"`
}

var defaults = map[string]any{
	"port":                        "8095",
	"openweather_api_key":         "",
	"owm_base_url":                owm.DefaultBaseURL,
	"owm_geo_base_url":            owm.DefaultGeoBaseURL,
	"owm_units":                   "metric",
	"owm_http_timeout":            "15s",
	"log_level":                   "info",
	"log_format":                  "text",
	"geolocation_timeout":         "10s",
	"geoip_base_url":              "",
	"geocode_cache_ttl":           "15m",
	"redis_addr":                  "",
	"redis_password":              "",
	"redis_db":                    0,
	"mqtt_broker_url":             "",
	"mqtt_topic_prefix":           "weatherview",
	"view_idle_ttl":               "30m",
	"timezone":                    "",
	"otel_exporter_otlp_endpoint": "",
}

// Load reads defaults, then the optional YAML file named by WEATHERVIEW_CONFIG,
// then environment variables.
func Load() (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	if err := v.BindEnv("port", "PORT", "WEATHERVIEW_PORT"); err != nil {
		return Config{}, err
	}

	if path := strings.TrimSpace(os.Getenv("WEATHERVIEW_CONFIG")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	c.Units = strings.ToLower(strings.TrimSpace(c.Units))
	switch c.Units {
	case "metric", "imperial", "standard":
	default:
		errs = append(errs, fmt.Errorf("OWM_UNITS must be metric, imperial or standard, got %q", c.Units))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("OWM_HTTP_TIMEOUT must be positive"))
	}
	if c.GeolocationTimeout <= 0 {
		errs = append(errs, errors.New("GEOLOCATION_TIMEOUT must be positive"))
	}
	if c.ViewIdleTTL < 0 {
		errs = append(errs, errors.New("VIEW_IDLE_TTL must not be negative"))
	}
	if c.GeocodeCacheTTL < 0 {
		errs = append(errs, errors.New("GEOCODE_CACHE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) OWMConfig(store cache.Store) owm.Config {
	return owm.Config{
		APIKey:     c.OpenWeatherAPIKey,
		BaseURL:    c.OWMBaseURL,
		GeoBaseURL: c.OWMGeoBaseURL,
		Units:      c.Units,
		HTTPClient: &http.Client{Timeout: c.HTTPTimeout},
		Cache:      store,
	}
}
