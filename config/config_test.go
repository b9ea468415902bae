package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func load(env map[string]string) (Config, error) {
	return LoadWith(context.Background(), envconfig.MapLookuper(env))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(map[string]string{
		"SUBSCRIBER_STORE": "memory",
		"EMAIL_TRANSPORT":  "log",
		"ALTCHA_HMAC_KEY":  "secret",
		"SITE_URL":         "https://example.org/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port, got %s", cfg.Port)
	}
	if cfg.SubscribeLimit != 3 || cfg.SubscribeWindow != time.Hour {
		t.Errorf("expected 3 per hour, got %d per %s", cfg.SubscribeLimit, cfg.SubscribeWindow)
	}
	if cfg.SiteURL != "https://example.org" || cfg.APIBaseURL != "https://example.org" {
		t.Errorf("unexpected URLs %s %s", cfg.SiteURL, cfg.APIBaseURL)
	}
	if cfg.PendingTTL != 7*24*time.Hour || cfg.SweepInterval != time.Hour {
		t.Errorf("unexpected sweep settings %s %s", cfg.PendingTTL, cfg.SweepInterval)
	}
	if cfg.AltchaMaxNumber != 100000 {
		t.Errorf("unexpected max number %d", cfg.AltchaMaxNumber)
	}
}

func TestLoadReportsAllMissingVariables(t *testing.T) {
	_, err := load(map[string]string{"RATE_LIMIT_BACKEND": "redis"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"CMS_URL", "CMS_API_TOKEN", "EMAIL_API_URL", "EMAIL_FROM_ADDRESS", "API_BASE_URL", "REDIS_URL", "ALTCHA_HMAC_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %s: %v", name, err)
		}
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	_, err := load(map[string]string{
		"SUBSCRIBER_STORE": "mongo",
		"EMAIL_TRANSPORT":  "log",
		"ALTCHA_HMAC_KEY":  "secret",
	})
	if err == nil || !strings.Contains(err.Error(), "mongo") {
		t.Errorf("expected unknown store error, got %v", err)
	}
}

func TestLoadPostgresURLSkipsParts(t *testing.T) {
	cfg, err := load(map[string]string{
		"SUBSCRIBER_STORE":   "postgres",
		"DATABASE_URL":       "postgres://localhost/newsletter",
		"EMAIL_TRANSPORT":    "smtp",
		"SMTP_HOST":          "mail.example.org",
		"EMAIL_FROM_ADDRESS": "news@example.org",
		"ALTCHA_HMAC_KEY":    "secret",
		"ALLOWED_ORIGINS":    "https://a.example.org,https://b.example.org",
		"SITE_URL":           "https://example.org",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DB().URL != "postgres://localhost/newsletter" {
		t.Errorf("unexpected db config %+v", cfg.DB())
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("expected two origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("expected default SMTP port, got %d", cfg.SMTPPort)
	}
}

func TestLoadRequiresAbsoluteLinkBase(t *testing.T) {
	env := map[string]string{
		"SUBSCRIBER_STORE":   "memory",
		"EMAIL_TRANSPORT":    "http",
		"EMAIL_API_URL":      "https://mail.example.org/send",
		"EMAIL_FROM_ADDRESS": "news@example.org",
		"ALTCHA_HMAC_KEY":    "secret",
	}
	if _, err := load(env); err == nil || !strings.Contains(err.Error(), "API_BASE_URL") {
		t.Errorf("expected missing base URL error, got %v", err)
	}

	env["API_BASE_URL"] = "/relative"
	if _, err := load(env); err == nil || !strings.Contains(err.Error(), "absolute") {
		t.Errorf("expected relative base URL to be rejected, got %v", err)
	}

	delete(env, "API_BASE_URL")
	env["SITE_URL"] = "https://example.org"
	cfg, err := load(env)
	if err != nil {
		t.Fatalf("SITE_URL should be enough: %v", err)
	}
	if cfg.APIBaseURL != "https://example.org" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
}

func TestSubscribeRate(t *testing.T) {
	cfg := Config{SubscribeLimit: 5, SubscribeWindow: time.Minute}
	rate := cfg.SubscribeRate()
	if rate.Limit != 5 || rate.Period != time.Minute {
		t.Errorf("unexpected rate %+v", rate)
	}
}
