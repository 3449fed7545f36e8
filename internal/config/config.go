// Package config loads service configuration from environment variables.
// Configuration is read once at startup and passed down explicitly; nothing
// reads the environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Defaults for optional settings.
const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultBranch       = "main"
	DefaultClearHour    = 16
	DefaultClearMinute  = 59
	DefaultSyncInterval = 5 * time.Minute
)

// Sentinel errors for missing required variables.
var (
	ErrMissingSpotifyCredentials = errors.New("missing SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET environment variable")
	ErrMissingRefreshTokens      = errors.New("missing SPOTIFY_REFRESH_TOKENS environment variable")
	ErrMissingGitHubToken        = errors.New("missing GITHUB_TOKEN environment variable")
	ErrMissingGitHubRepo         = errors.New("missing GITHUB_REPO environment variable")
)

// UserToken holds the pre-provisioned refresh token for one tracked user.
type UserToken struct {
	RefreshToken string `json:"refreshToken"`
}

// Config holds all service configuration.
type Config struct {
	Addr string

	SpotifyClientID     string
	SpotifyClientSecret string
	// RefreshTokens maps a user label to its Spotify refresh token.
	RefreshTokens map[string]UserToken

	GitHubToken  string
	GitHubRepo   string // "owner/name"
	GitHubBranch string

	ClearPassword  string
	BackupPassword string

	ClearHour    int
	ClearMinute  int
	SyncInterval time.Duration
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:                getEnv("ADDR", DefaultAddr),
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		GitHubRepo:          os.Getenv("GITHUB_REPO"),
		GitHubBranch:        getEnv("GITHUB_BRANCH", DefaultBranch),
		ClearPassword:       os.Getenv("CLEAR_PASSWORD"),
		BackupPassword:      os.Getenv("BACKUP_PASSWORD"),
		ClearHour:           DefaultClearHour,
		ClearMinute:         DefaultClearMinute,
		SyncInterval:        DefaultSyncInterval,
	}

	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		return nil, ErrMissingSpotifyCredentials
	}
	if cfg.GitHubToken == "" {
		return nil, ErrMissingGitHubToken
	}
	if cfg.GitHubRepo == "" {
		return nil, ErrMissingGitHubRepo
	}

	rawTokens := os.Getenv("SPOTIFY_REFRESH_TOKENS")
	if rawTokens == "" {
		return nil, ErrMissingRefreshTokens
	}
	if err := json.Unmarshal([]byte(rawTokens), &cfg.RefreshTokens); err != nil {
		return nil, fmt.Errorf("parsing SPOTIFY_REFRESH_TOKENS: %w", err)
	}

	var err error
	if cfg.ClearHour, err = getEnvInt("CLEAR_HOUR", DefaultClearHour); err != nil {
		return nil, err
	}
	if cfg.ClearMinute, err = getEnvInt("CLEAR_MINUTE", DefaultClearMinute); err != nil {
		return nil, err
	}

	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing SYNC_INTERVAL: %w", err)
		}
		cfg.SyncInterval = d
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
