// Package config loads service configuration from MARKETGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Feed backends.
const (
	FeedMemory   = "memory"
	FeedRedis    = "redis"
	FeedPostgres = "postgres"
)

// Bind key modes.
const (
	BindOrigin  = "origin"
	BindSession = "session"
)

// Config is the full runtime configuration of the api binary.
type Config struct {
	Version string `env:"MARKETGATE_VERSION" envDefault:"dev"`

	HTTPAddr     string        `env:"MARKETGATE_HTTP_ADDR"      envDefault:":8080"`
	GRPCAddr     string        `env:"MARKETGATE_GRPC_ADDR"      envDefault:":9090"`
	MaxBodyBytes int64         `env:"MARKETGATE_MAX_BODY_BYTES" envDefault:"65536"`
	RateBurst    int           `env:"MARKETGATE_RATE_BURST"     envDefault:"20"`
	RatePerSec   int           `env:"MARKETGATE_RATE_PER_SEC"   envDefault:"10"`
	ShutdownWait time.Duration `env:"MARKETGATE_SHUTDOWN_WAIT"  envDefault:"10s"`

	AllowedOrigins []string `env:"MARKETGATE_ALLOWED_ORIGINS" envSeparator:","`

	LogLevel  string `env:"MARKETGATE_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"MARKETGATE_LOG_FORMAT" envDefault:"json"`

	PGDSN     string `env:"MARKETGATE_PG_DSN"`
	RedisAddr string `env:"MARKETGATE_REDIS_ADDR"`
	Feed      string `env:"MARKETGATE_FEED" envDefault:"memory"`

	DirectoryURL     string        `env:"MARKETGATE_DIRECTORY_URL"`
	DirectoryTimeout time.Duration `env:"MARKETGATE_DIRECTORY_TIMEOUT"  envDefault:"5s"`
	DirectoryRPS     float64       `env:"MARKETGATE_DIRECTORY_RPS"      envDefault:"5"`

	WebhookURL     string        `env:"MARKETGATE_WEBHOOK_URL"`
	WebhookTimeout time.Duration `env:"MARKETGATE_WEBHOOK_TIMEOUT" envDefault:"5s"`

	SessionSecret string        `env:"MARKETGATE_SESSION_SECRET"`
	SessionCookie string        `env:"MARKETGATE_SESSION_COOKIE" envDefault:"mg_session"`
	SessionTTL    time.Duration `env:"MARKETGATE_SESSION_TTL"    envDefault:"168h"`

	OAuthSecret   string `env:"MARKETGATE_OAUTH_SECRET"`
	OAuthIssuer   string `env:"MARKETGATE_OAUTH_ISSUER"`
	OAuthAudience string `env:"MARKETGATE_OAUTH_AUDIENCE" envDefault:"marketgate"`

	// SessionInsecure drops the cookie Secure flag for plain-HTTP development.
	SessionInsecure bool `env:"MARKETGATE_SESSION_INSECURE" envDefault:"false"`

	BindKey        string   `env:"MARKETGATE_BIND_KEY"        envDefault:"origin"`
	TrustForwarded bool     `env:"MARKETGATE_TRUST_FORWARDED" envDefault:"false"`
	Admins         []string `env:"MARKETGATE_ADMINS"          envSeparator:","`
	AllowAnonymous bool     `env:"MARKETGATE_ALLOW_ANONYMOUS" envDefault:"true"`

	WatchInitialBackoff time.Duration `env:"MARKETGATE_WATCH_BACKOFF_INITIAL" envDefault:"500ms"`
	WatchMaxBackoff     time.Duration `env:"MARKETGATE_WATCH_BACKOFF_MAX"     envDefault:"15s"`
	WatchMaxTries       uint          `env:"MARKETGATE_WATCH_MAX_TRIES"       envDefault:"6"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Admins = trimCSV(cfg.Admins)
	cfg.AllowedOrigins = trimCSV(cfg.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	switch c.Feed {
	case FeedMemory:
		// Approvals written to Postgres by another process never reach an in-process hub.
		if c.PGDSN != "" {
			errs = append(errs, errors.New("MARKETGATE_FEED=memory cannot be combined with MARKETGATE_PG_DSN; use the postgres or redis feed"))
		}
	case FeedRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("MARKETGATE_REDIS_ADDR is required for the redis feed"))
		}
	case FeedPostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("MARKETGATE_PG_DSN is required for the postgres feed"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feed %q", c.Feed))
	}
	if c.BindKey != BindOrigin && c.BindKey != BindSession {
		errs = append(errs, fmt.Errorf("unknown bind key mode %q", c.BindKey))
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("MARKETGATE_SESSION_SECRET is required"))
	}
	if strings.TrimSpace(c.OAuthSecret) == "" {
		errs = append(errs, errors.New("MARKETGATE_OAUTH_SECRET is required"))
	}
	if c.DirectoryURL == "" {
		errs = append(errs, errors.New("MARKETGATE_DIRECTORY_URL is required"))
	} else if _, err := url.ParseRequestURI(c.DirectoryURL); err != nil {
		errs = append(errs, fmt.Errorf("MARKETGATE_DIRECTORY_URL: %w", err))
	}
	if c.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("MARKETGATE_WEBHOOK_URL: %w", err))
		}
	}
	if c.WatchMaxTries == 0 {
		errs = append(errs, errors.New("MARKETGATE_WATCH_MAX_TRIES must be positive"))
	}
	return errors.Join(errs...)
}

func trimCSV(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
