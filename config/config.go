// Package config loads the service configuration from the environment.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/openresearch/newsletter-backend/db"
	"github.com/openresearch/newsletter-backend/ratelimit"
	"github.com/openresearch/newsletter-backend/util"
)

// Subscriber store backends.
const (
	StoreCMS      = "cms"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Email transports.
const (
	TransportHTTP = "http"
	TransportSMTP = "smtp"
	TransportLog  = "log"
)

// Rate limiter backends.
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// Config holds runtime configuration for the newsletter service.
type Config struct {
	Port    string `env:"PORT,default=8080"`
	SiteURL string `env:"SITE_URL"`
	// APIBaseURL is where confirmation links point. Defaults to SiteURL.
	APIBaseURL     string   `env:"API_BASE_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	AltchaHMACKey   string `env:"ALTCHA_HMAC_KEY"`
	AltchaMaxNumber int64  `env:"ALTCHA_MAX_NUMBER,default=100000"`

	SubscriberStore string `env:"SUBSCRIBER_STORE,default=cms"`
	CMSURL          string `env:"CMS_URL"`
	CMSAPIToken     string `env:"CMS_API_TOKEN"`
	DBHost          string `env:"DB_HOST"`
	DBName          string `env:"DB_NAME"`
	DBUsername      string `env:"DB_USERNAME"`
	DBPassword      string `env:"DB_PASSWORD"`
	DatabaseURL     string `env:"DATABASE_URL"`

	EmailTransport   string `env:"EMAIL_TRANSPORT,default=http"`
	EmailAPIURL      string `env:"EMAIL_API_URL"`
	EmailAPIKey      string `env:"EMAIL_API_KEY"`
	SMTPHost         string `env:"SMTP_HOST"`
	SMTPPort         int    `env:"SMTP_PORT,default=587"`
	SMTPUsername     string `env:"SMTP_USERNAME"`
	SMTPPassword     string `env:"SMTP_PASSWORD"`
	SMTPInsecure     bool   `env:"SMTP_INSECURE_SKIP_VERIFY,default=false"`
	EmailFromAddress string `env:"EMAIL_FROM_ADDRESS"`

	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND,default=memory"`
	RedisURL         string        `env:"REDIS_URL"`
	SubscribeLimit   int64         `env:"SUBSCRIBE_LIMIT,default=3"`
	SubscribeWindow  time.Duration `env:"SUBSCRIBE_WINDOW,default=1h"`

	// Unconfirmed subscribers older than PendingTTL are purged every
	// SweepInterval. Only the postgres and memory stores support this.
	PendingTTL    time.Duration `env:"PENDING_TTL,default=168h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=1h"`

	AmazonAuthorizeKey string `env:"AMAZON_AUTHORIZE_KEY"`
	SentryDSN          string `env:"SENTRY_DSN"`
	OTLPEndpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// Development switches the logger to human-readable console output.
	Development bool `env:"DEVELOPMENT,default=false"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit source of variables.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	cfg.SiteURL = strings.TrimSuffix(cfg.SiteURL, "/")
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = cfg.SiteURL
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate reports every missing variable for the selected backends at once.
func (cfg Config) validate() error {
	var errs util.Errors
	switch cfg.SubscriberStore {
	case StoreCMS:
		util.Require("CMS_URL", cfg.CMSURL, &errs)
		util.Require("CMS_API_TOKEN", cfg.CMSAPIToken, &errs)
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			util.Require("DB_HOST", cfg.DBHost, &errs)
			util.Require("DB_NAME", cfg.DBName, &errs)
			util.Require("DB_USERNAME", cfg.DBUsername, &errs)
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown SUBSCRIBER_STORE %q", cfg.SubscriberStore))
	}
	switch cfg.EmailTransport {
	case TransportHTTP:
		util.Require("EMAIL_API_URL", cfg.EmailAPIURL, &errs)
	case TransportSMTP:
		util.Require("SMTP_HOST", cfg.SMTPHost, &errs)
	case TransportLog:
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_TRANSPORT %q", cfg.EmailTransport))
	}
	if cfg.EmailTransport != TransportLog {
		util.Require("EMAIL_FROM_ADDRESS", cfg.EmailFromAddress, &errs)
		// Confirmation links in real emails must be absolute.
		if cfg.APIBaseURL == "" {
			errs = append(errs, fmt.Errorf("environment variable API_BASE_URL or SITE_URL must be set"))
		} else if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("API_BASE_URL %q must be an absolute URL", cfg.APIBaseURL))
		}
	}
	switch cfg.RateLimitBackend {
	case LimiterMemory:
	case LimiterRedis:
		util.Require("REDIS_URL", cfg.RedisURL, &errs)
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend))
	}
	util.Require("ALTCHA_HMAC_KEY", cfg.AltchaHMACKey, &errs)
	if cfg.SubscribeLimit <= 0 || cfg.SubscribeWindow <= 0 {
		errs = append(errs, fmt.Errorf("SUBSCRIBE_LIMIT and SUBSCRIBE_WINDOW must be positive"))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// DB returns the Postgres connection settings.
func (cfg Config) DB() db.Config {
	return db.Config{
		DbHost:     cfg.DBHost,
		DbName:     cfg.DBName,
		DbUsername: cfg.DBUsername,
		DbPass:     cfg.DBPassword,
		URL:        cfg.DatabaseURL,
	}
}

// SubscribeRate is the per-IP subscription limit.
func (cfg Config) SubscribeRate() ratelimit.Rate {
	return ratelimit.Rate{Limit: cfg.SubscribeLimit, Period: cfg.SubscribeWindow}
}
