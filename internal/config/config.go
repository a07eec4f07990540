// Package config loads kioskd settings from KIOSKVOTE_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "KIOSKVOTE_"

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"
	StoreMemory   = "memory"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	Store    string
	DSN      string
	BoltPath string

	AuthSalt     string
	AuthCacheTTL time.Duration

	EligibilityURL      string
	EligibilityUID      string
	EligibilityPassword string
	EligibilityTimeout  time.Duration
	EligibilityFixtures string

	OverridesPath string
	Debug         bool

	RateBurst  int
	RatePerSec float64
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		Store:              StorePostgres,
		BoltPath:           "kioskvote.db",
		AuthCacheTTL:       30 * time.Second,
		EligibilityTimeout: 10 * time.Second,
		RateBurst:          20,
		RatePerSec:         10,
	}
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration through getenv, which is usually os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	get := func(key string) string { return strings.TrimSpace(getenv(envPrefix + key)) }

	str := func(key string, dst *string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("STORE", &cfg.Store)
	str("DSN", &cfg.DSN)
	str("BOLT_PATH", &cfg.BoltPath)
	str("AUTH_SALT", &cfg.AuthSalt)
	str("ELIGIBILITY_URL", &cfg.EligibilityURL)
	str("ELIGIBILITY_UID", &cfg.EligibilityUID)
	str("ELIGIBILITY_PASSWORD", &cfg.EligibilityPassword)
	str("ELIGIBILITY_FIXTURES", &cfg.EligibilityFixtures)
	str("OVERRIDES_PATH", &cfg.OverridesPath)
	cfg.Store = strings.ToLower(cfg.Store)

	var errs []error
	dur := func(key string, dst *time.Duration) {
		v := get(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = d
	}
	dur("AUTH_CACHE_TTL", &cfg.AuthCacheTTL)
	dur("ELIGIBILITY_TIMEOUT", &cfg.EligibilityTimeout)

	if v := get("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDEBUG: %w", envPrefix, err))
		}
		cfg.Debug = b
	}
	if v := get("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_BURST: %w", envPrefix, err))
		}
		cfg.RateBurst = n
	}
	if v := get("RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_PER_SEC: %w", envPrefix, err))
		}
		cfg.RatePerSec = f
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks settings required to serve traffic.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres, StoreSQLite:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("%sDSN is required for store %q", envPrefix, c.Store))
		}
	case StoreBolt:
		if c.BoltPath == "" {
			errs = append(errs, fmt.Errorf("%sBOLT_PATH is required for store bolt", envPrefix))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.AuthSalt == "" {
		errs = append(errs, fmt.Errorf("%sAUTH_SALT is required", envPrefix))
	}
	if c.EligibilityURL == "" && c.EligibilityFixtures == "" {
		errs = append(errs, fmt.Errorf("one of %sELIGIBILITY_URL or %sELIGIBILITY_FIXTURES is required", envPrefix, envPrefix))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	return errors.Join(errs...)
}
