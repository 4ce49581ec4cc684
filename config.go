package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// config is read from the environment (optionally seeded from .env). Keys are
// the lower-cased variable names: DB_URL → db_url.
type config struct {
	Addr  string `koanf:"addr"`
	Store string `koanf:"store"` // postgres | memory
	DBURL string `koanf:"db_url"`

	OpenAIAPIKey          string `koanf:"openai_api_key"`
	OpenAIBaseURL         string `koanf:"openai_base_url"`
	OpenAIModel           string `koanf:"openai_model"`
	OpenAITranscribeModel string `koanf:"openai_transcribe_model"`

	ClerkIssuer  string `koanf:"clerk_issuer"`
	ClerkJWKSURL string `koanf:"clerk_jwks_url"`

	StravaClientID     string `koanf:"strava_client_id"`
	StravaClientSecret string `koanf:"strava_client_secret"`
	StravaRedirectURL  string `koanf:"strava_redirect_url"`

	AWSRegion    string `koanf:"aws_region"`
	SESEmail     string `koanf:"ses_email"`
	ReminderCron string `koanf:"reminder_cron"`
	AppURL       string `koanf:"app_url"`

	CoachRatePerMin float64 `koanf:"coach_rate_per_min"`
	AdminUsers      string  `koanf:"admin_users"` // comma-separated usernames

	LogFormat string `koanf:"log_format"` // json | console
	LogLevel  string `koanf:"log_level"`
}

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// loadConfig loads .env files (missing files are fine), overlays the process
// environment and applies defaults.
func loadConfig(envFiles ...string) (config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg config
	if err := k.Unmarshal("", &cfg); err != nil {
		return config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Store == "" {
		c.Store = storePostgres
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = "https://api.openai.com"
	}
	c.OpenAIBaseURL = strings.TrimRight(c.OpenAIBaseURL, "/")
	if c.OpenAIModel == "" {
		c.OpenAIModel = "gpt-4o-mini"
	}
	if c.OpenAITranscribeModel == "" {
		c.OpenAITranscribeModel = "whisper-1"
	}
	if c.ReminderCron == "" {
		c.ReminderCron = "0 0 19 * * *"
	}
	if c.CoachRatePerMin <= 0 {
		c.CoachRatePerMin = 6
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c config) validate() error {
	switch c.Store {
	case storePostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL is required when STORE=postgres")
		}
	case storeMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", storePostgres, storeMemory, c.Store)
	}
	strava := []string{c.StravaClientID, c.StravaClientSecret, c.StravaRedirectURL}
	set := 0
	for _, v := range strava {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(strava) {
		return errors.New("STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET and STRAVA_REDIRECT_URL must be set together")
	}
	if c.ClerkJWKSURL != "" && c.ClerkIssuer == "" {
		return errors.New("CLERK_JWKS_URL requires CLERK_ISSUER")
	}
	return nil
}

func (c config) stravaEnabled() bool { return c.StravaClientID != "" }

func (c config) remindersEnabled() bool { return c.SESEmail != "" }

// adminUsernames parses ADMIN_USERS into a set.
func (c config) adminUsernames() map[string]bool {
	out := map[string]bool{}
	for _, name := range strings.Split(c.AdminUsers, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = true
		}
	}
	return out
}

// newLogger builds the process logger: JSON in production, console for local runs.
func newLogger(format, level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}
