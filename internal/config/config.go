// Package config loads isspass settings from defaults, an optional YAML
// file, and ISSPASS_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ISSPASS_"

	// ConfigPathEnvVar names the YAML file to load when no path is given.
	ConfigPathEnvVar = EnvPrefix + "CONFIG"
)

// Config is the complete application configuration.
type Config struct {
	Upstream UpstreamConfig `koanf:"upstream"`
	FlyOver  FlyOverConfig  `koanf:"flyover"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
}

// UpstreamConfig locates the three lookup services.
type UpstreamConfig struct {
	IPURL      string        `koanf:"ip_url" validate:"required,url"`
	GeoURL     string        `koanf:"geo_url" validate:"required,url"`
	FlyOverURL string        `koanf:"flyover_url" validate:"required,url"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
}

// FlyOverConfig selects where pass predictions come from.
type FlyOverConfig struct {
	Provider     string        `koanf:"provider" validate:"oneof=http local"`
	TLEURL       string        `koanf:"tle_url" validate:"required,url"`
	TLEMaxAge    time.Duration `koanf:"tle_max_age" validate:"gt=0"`
	Horizon      time.Duration `koanf:"horizon" validate:"gt=0"`
	MinElevation float64       `koanf:"min_elevation" validate:"gte=0,lt=90"`
	MaxPasses    int           `koanf:"max_passes" validate:"gte=1,lte=100"`
	AltitudeM    float64       `koanf:"altitude_m" validate:"gte=-500,lte=10000"`
}

// BreakerConfig configures the per-step circuit breakers.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxRequests      uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
}

// ServerConfig configures the HTTP service mode.
type ServerConfig struct {
	Addr       string  `koanf:"addr" validate:"required"`
	TrustProxy bool    `koanf:"trust_proxy"`
	RateLimit  float64 `koanf:"rate_limit" validate:"gte=0"` // requests per second per client, 0 disables
	RateBurst  int     `koanf:"rate_burst" validate:"gte=1"`
}

// AuthConfig holds optional bearer token authentication for the service.
type AuthConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token" validate:"required_if=Enabled true"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json text"` // empty picks by mode
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			IPURL:      "https://api.ipify.org",
			GeoURL:     "http://ipwho.is",
			FlyOverURL: "https://iss-pass.herokuapp.com",
			Timeout:    10 * time.Second,
		},
		FlyOver: FlyOverConfig{
			Provider:     "http",
			TLEURL:       "https://celestrak.org/NORAD/elements/gp.php?CATNR=25544&FORMAT=tle",
			TLEMaxAge:    12 * time.Hour,
			Horizon:      72 * time.Hour,
			MinElevation: 10,
			MaxPasses:    5,
			AltitudeM:    100,
		},
		Breaker: BreakerConfig{
			Enabled:          false,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 1,
			RateBurst: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path names an optional YAML file; when
// empty, ISSPASS_CONFIG is consulted.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps ISSPASS_UPSTREAM_IP_URL to upstream.ip_url. Section names
// contain no underscores, so the first one separates section from field.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key == "config" {
		return ""
	}
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return ""
	}
	return section + "." + field
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SlogLevel returns the configured level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
