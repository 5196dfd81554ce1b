// Package config loads service settings. Values come from built-in defaults,
// then an optional YAML file named by CONFIG_FILE, then the environment
// (a .env file in the working directory is loaded first when present).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	DBMigrate   bool   `yaml:"dbMigrate"`
	RedisURL    string `yaml:"redisUrl"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	Auth     AuthConfig     `yaml:"auth"`
	Geocoder GeocoderConfig `yaml:"geocoder"`

	WebhookMaxAttempts int           `yaml:"webhookMaxAttempts"`
	LivenessWindow     time.Duration `yaml:"livenessWindow"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmacSecret"`
}

type GeocoderConfig struct {
	URL       string        `yaml:"url"`
	Scope     string        `yaml:"scope"`
	RPS       float64       `yaml:"rps"`
	UserAgent string        `yaml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cacheTtl"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		LogLevel:  "info",
		LogFormat: "text",
		RateRPS:   20,
		RateBurst: 40,
		Auth:      AuthConfig{Mode: "dev"},
		Geocoder: GeocoderConfig{
			URL:       "https://nominatim.openstreetmap.org",
			Scope:     "Rio Verde, GO",
			RPS:       1,
			UserAgent: "zonedispatch/1.0",
			Timeout:   10 * time.Second,
			CacheTTL:  24 * time.Hour,
		},
		WebhookMaxAttempts: 8,
		LivenessWindow:     45 * time.Second,
	}
}

// Load reads .env, CONFIG_FILE and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.Getenv)
}

// LoadFrom applies the YAML file at path (skipped when empty) and then the
// variables returned by getenv on top of Default.
func LoadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if cfg.LivenessWindow <= 0 {
		return Config{}, errors.New("livenessWindow must be positive")
	}
	if cfg.Auth.Mode == "hmac" && cfg.Auth.HMACSecret == "" {
		return Config{}, errors.New("AUTH_HMAC_SECRET is required when AUTH_MODE=hmac")
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("GEOCODER_URL", &cfg.Geocoder.URL)
	str("GEOCODER_SCOPE", &cfg.Geocoder.Scope)
	str("GEOCODER_USER_AGENT", &cfg.Geocoder.UserAgent)

	if v := strings.TrimSpace(getenv("DB_MIGRATE")); v != "" {
		cfg.DBMigrate = v != "false" && v != "0"
	}

	var err error
	num := func(key string, dst *float64) {
		v := strings.TrimSpace(getenv(key))
		if v == "" || err != nil {
			return
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil || f < 0 {
			err = fmt.Errorf("%s: invalid number %q", key, v)
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 0 {
			err = fmt.Errorf("%s: invalid integer %q", key, v)
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" || err != nil {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s: invalid duration %q", key, v)
			return
		}
		*dst = d
	}
	num("RATE_RPS", &cfg.RateRPS)
	integer("RATE_BURST", &cfg.RateBurst)
	num("GEOCODER_RPS", &cfg.Geocoder.RPS)
	dur("GEOCODER_TIMEOUT", &cfg.Geocoder.Timeout)
	dur("GEOCODER_CACHE_TTL", &cfg.Geocoder.CacheTTL)
	integer("WEBHOOK_MAX_ATTEMPTS", &cfg.WebhookMaxAttempts)
	dur("LIVENESS_WINDOW", &cfg.LivenessWindow)
	return err
}
