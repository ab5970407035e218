package config

import (
	"bufio"
	"errors"
	"fmt"
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
	ConfigPathEnvVar  = "CONFIG_PATH"
	defaultConfigPath = "config.yaml"
)

type Config struct {
	BaseURL      string           `koanf:"base_url" validate:"omitempty,url"`
	ServerAddr   string           `koanf:"server_addr" validate:"required"`
	CookieSecure bool             `koanf:"cookie_secure"`
	Database     DatabaseConfig   `koanf:"database"`
	Logging      LoggingConfig    `koanf:"logging"`
	Sentry       SentryConfig     `koanf:"sentry"`
	Strava       StravaConfig     `koanf:"strava"`
	Peakbagger   PeakbaggerConfig `koanf:"peakbagger"`
	Worker       WorkerConfig     `koanf:"worker"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite memory"`
	Path   string `koanf:"path" validate:"required_if=Driver sqlite"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

type SentryConfig struct {
	DSN         string `koanf:"dsn"`
	Environment string `koanf:"environment"`
}

type StravaConfig struct {
	ClientID            string `koanf:"client_id"`
	ClientSecret        string `koanf:"client_secret"`
	BaseURL             string `koanf:"base_url" validate:"required,url"`
	AuthBaseURL         string `koanf:"auth_base_url" validate:"required,url"`
	RedirectURL         string `koanf:"redirect_url" validate:"omitempty,url"`
	VerifyToken         string `koanf:"verify_token"`
	WebhookSecret       string `koanf:"webhook_secret"`
	WebhookCallbackURL  string `koanf:"webhook_callback_url" validate:"omitempty,url"`
	WebhookAutoRegister bool   `koanf:"webhook_auto_register"`
	WebhookAutoReplace  bool   `koanf:"webhook_auto_replace"`
}

type PeakbaggerConfig struct {
	BaseURL           string  `koanf:"base_url" validate:"required,url"`
	TimeoutSeconds    int     `koanf:"timeout_seconds" validate:"gte=0"`
	CacheHours        int     `koanf:"cache_hours" validate:"gte=0"`
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
}

type WorkerConfig struct {
	PollIntervalMS int `koanf:"poll_interval_ms" validate:"gt=0"`
	MaxAttempts    int `koanf:"max_attempts" validate:"gt=0"`
}

func (c PeakbaggerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c PeakbaggerConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheHours) * time.Hour
}

func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func defaults() Config {
	return Config{
		ServerAddr: ":8080",
		Database:   DatabaseConfig{Driver: "sqlite", Path: "peaklogger.db"},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Strava: StravaConfig{
			BaseURL:     "https://www.strava.com/api/v3",
			AuthBaseURL: "https://www.strava.com",
		},
		Peakbagger: PeakbaggerConfig{
			BaseURL:           "https://peakbagger.com/m",
			TimeoutSeconds:    15,
			CacheHours:        24,
			RequestsPerSecond: 2,
		},
		Worker: WorkerConfig{PollIntervalMS: 2000, MaxAttempts: 5},
	}
}

// envKeys maps flat environment names onto koanf paths.
var envKeys = map[string]string{
	"BASE_URL":                       "base_url",
	"SERVER_ADDR":                    "server_addr",
	"COOKIE_SECURE":                  "cookie_secure",
	"DATABASE_DRIVER":                "database.driver",
	"DATABASE_PATH":                  "database.path",
	"LOG_LEVEL":                      "logging.level",
	"LOG_FORMAT":                     "logging.format",
	"SENTRY_DSN":                     "sentry.dsn",
	"SENTRY_ENVIRONMENT":             "sentry.environment",
	"STRAVA_CLIENT_ID":               "strava.client_id",
	"STRAVA_CLIENT_SECRET":           "strava.client_secret",
	"STRAVA_BASE_URL":                "strava.base_url",
	"STRAVA_AUTH_BASE_URL":           "strava.auth_base_url",
	"STRAVA_VERIFY_TOKEN":            "strava.verify_token",
	"STRAVA_WEBHOOK_SECRET":          "strava.webhook_secret",
	"STRAVA_WEBHOOK_AUTO_REGISTER":   "strava.webhook_auto_register",
	"STRAVA_WEBHOOK_AUTO_REPLACE":    "strava.webhook_auto_replace",
	"PEAKBAGGER_BASE_URL":            "peakbagger.base_url",
	"PEAKBAGGER_TIMEOUT_SECONDS":     "peakbagger.timeout_seconds",
	"PEAKBAGGER_CACHE_HOURS":         "peakbagger.cache_hours",
	"PEAKBAGGER_REQUESTS_PER_SECOND": "peakbagger.requests_per_second",
	"WORKER_POLL_INTERVAL_MS":        "worker.poll_interval_ms",
	"WORKER_MAX_ATTEMPTS":            "worker.max_attempts",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load layers built-in defaults, an optional YAML file and the environment,
// in that order. dotEnvPath, when it exists, is read into the environment first.
func Load(dotEnvPath string) (Config, error) {
	if dotEnvPath != "" {
		if err := loadDotEnv(dotEnvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path := configFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", func(key string) string {
		return envKeys[key]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL != "" {
		if cfg.Strava.RedirectURL == "" {
			cfg.Strava.RedirectURL = joinURL(cfg.BaseURL, "/api/strava_callback")
		}
		if cfg.Strava.WebhookCallbackURL == "" {
			cfg.Strava.WebhookCallbackURL = joinURL(cfg.BaseURL, "/api/strava_webhook")
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func configFile() string {
	path := os.Getenv(ConfigPathEnvVar)
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		_ = os.Setenv(key, strings.Trim(strings.TrimSpace(value), `"`))
	}

	return scanner.Err()
}

func joinURL(base, path string) string {
	if base == "" {
		return ""
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
