package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults mirror the original deployment: short-lived access tokens,
// week-long refresh tokens, bcrypt cost 12.
const (
	defaultAddr       = ":8080"
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultLeeway     = 30 * time.Second
	defaultBcryptCost = 12
	defaultRateBurst  = 10
	defaultRatePerSec = 5
)

// Config is the process-wide configuration, loaded once at startup and
// immutable afterwards. Components receive the pieces they need through
// construction, never by reading the environment themselves.
type Config struct {
	Addr       string
	PGDSN      string
	SigningKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	BcryptCost int

	RateBurst  int
	RatePerSec int

	// CORSOrigins lists browser origins allowed to call the API.
	// Empty keeps cross-origin access disabled.
	CORSOrigins []string
}

// Load reads WORKLANE_* environment variables. The signing key is the
// only required value.
func Load() (Config, error) {
	cfg := Config{
		Addr:       envOr("WORKLANE_ADDR", defaultAddr),
		PGDSN:      strings.TrimSpace(os.Getenv("WORKLANE_PG_DSN")),
		AccessTTL:  defaultAccessTTL,
		RefreshTTL: defaultRefreshTTL,
		Leeway:     defaultLeeway,
		BcryptCost: defaultBcryptCost,
		RateBurst:  defaultRateBurst,
		RatePerSec: defaultRatePerSec,
	}

	key := strings.TrimSpace(os.Getenv("WORKLANE_AUTH_SECRET"))
	if key == "" {
		return Config{}, errors.New("WORKLANE_AUTH_SECRET is not configured")
	}
	cfg.SigningKey = []byte(key)

	var err error
	if cfg.AccessTTL, err = envDuration("WORKLANE_ACCESS_TTL", cfg.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration("WORKLANE_REFRESH_TTL", cfg.RefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.Leeway, err = envDuration("WORKLANE_TOKEN_LEEWAY", cfg.Leeway); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = envInt("WORKLANE_BCRYPT_COST", cfg.BcryptCost); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = envInt("WORKLANE_RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = envInt("WORKLANE_RATE_PER_SEC", cfg.RatePerSec); err != nil {
		return Config{}, err
	}
	cfg.CORSOrigins = envList("WORKLANE_CORS_ORIGINS")
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func envList(name string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(name string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return n, nil
}
