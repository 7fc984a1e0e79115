package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"news/internal/session"
)

type Config struct {
	Port               string
	DatabaseURL        string
	PublicOrigin       string
	IDProviderURL      string
	OAuthClientID      string
	StateSecret        string
	SessionCookieName  string
	SessionTTL         time.Duration
	CorsAllowedOrigins []string
	LogLevel           string
	LogFormat          string
	RateLimitPerMinute int
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Only malformed values are errors;
// settings required by a particular command are checked by Validate.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		value := strings.TrimSpace(getenv(key))
		if value == "" {
			return fallback
		}
		return value
	}

	cfg := Config{
		Port:               get("PORT", "8080"),
		DatabaseURL:        get("DATABASE_URL", "data/news.db"),
		PublicOrigin:       strings.TrimRight(get("PUBLIC_ORIGIN", "http://localhost:8080"), "/"),
		IDProviderURL:      get("ID_PROVIDER_URL", "https://id.rawkode.academy"),
		OAuthClientID:      get("OAUTH_CLIENT_ID", "rawkode-news"),
		StateSecret:        get("STATE_SECRET", ""),
		SessionCookieName:  get("SESSION_COOKIE_NAME", "news-session"),
		CorsAllowedOrigins: splitCSV(get("CORS_ALLOWED_ORIGINS", "")),
		LogLevel:           get("LOG_LEVEL", "info"),
		LogFormat:          get("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.SessionTTL, err = time.ParseDuration(get("SESSION_TTL", session.DefaultDuration.String())); err != nil {
		return Config{}, fmt.Errorf("SESSION_TTL: %w", err)
	}
	if cfg.SessionTTL < time.Minute {
		return Config{}, errors.New("SESSION_TTL must be at least 1m")
	}
	if cfg.RateLimitPerMinute, err = strconv.Atoi(get("RATE_LIMIT_PER_MINUTE", "120")); err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", err)
	}
	if cfg.RateLimitPerMinute < 0 {
		return Config{}, errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return cfg, nil
}

// Validate checks what the HTTP server needs on top of FromEnv.
func (c Config) Validate() error {
	if len(c.StateSecret) < 16 {
		return errors.New("STATE_SECRET must be at least 16 characters")
	}
	for name, raw := range map[string]string{"PUBLIC_ORIGIN": c.PublicOrigin, "ID_PROVIDER_URL": c.IDProviderURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL", name)
		}
	}
	for _, origin := range c.CorsAllowedOrigins {
		if origin == "*" {
			return errors.New("CORS_ALLOWED_ORIGINS cannot be * with cookie sessions")
		}
	}
	return nil
}

// Secure reports whether cookies should carry the Secure flag.
func (c Config) Secure() bool {
	return strings.HasPrefix(c.PublicOrigin, "https://")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
