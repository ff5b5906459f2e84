// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Sentinel errors for required settings.
var (
	ErrMissingDatabaseURL        = errors.New("missing DATABASE_URL environment variable")
	ErrMissingSpotifyCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET environment variable")
)

// Config holds every setting the service reads. Provider credentials are
// handed to the ingestion core; loading them is the only place the
// environment is consulted.
type Config struct {
	DatabaseURL string
	Addr        string

	SpotifyClientID     string
	SpotifyClientSecret string
	// ServiceRefreshToken is the system-level credential for fallback
	// lookups, independent of any end user's connection.
	ServiceRefreshToken string

	AppleDeveloperToken string

	GeniusAccessToken string
	DiscogsKey        string
	DiscogsSecret     string

	IngestInterval time.Duration
	IngestTimeout  time.Duration
	Workers        int
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		Addr:                envDefault("ADDR", "127.0.0.1:8090"),
		SpotifyClientID:     os.Getenv("SPOTIFY_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_SECRET"),
		ServiceRefreshToken: os.Getenv("SERVICE_SPOTIFY_REFRESH_TOKEN"),
		AppleDeveloperToken: os.Getenv("APPLE_DEVELOPER_TOKEN"),
		GeniusAccessToken:   os.Getenv("GENIUS_ACCESS_TOKEN"),
		DiscogsKey:          os.Getenv("DISCOGS_KEY"),
		DiscogsSecret:       os.Getenv("DISCOGS_SECRET"),
		IngestInterval:      15 * time.Minute,
		IngestTimeout:       5 * time.Minute,
		Workers:             4,
	}

	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		return nil, ErrMissingSpotifyCredentials
	}

	if v := os.Getenv("INGEST_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing INGEST_INTERVAL: %w", err)
		}
		cfg.IngestInterval = d
	}
	if v := os.Getenv("INGEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing INGEST_TIMEOUT: %w", err)
		}
		cfg.IngestTimeout = d
	}
	if v := os.Getenv("INGEST_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("parsing INGEST_WORKERS: %q is not a positive integer", v)
		}
		cfg.Workers = n
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
