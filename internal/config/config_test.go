package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MARKETGATE_SESSION_SECRET", "s3cret")
	t.Setenv("MARKETGATE_OAUTH_SECRET", "provider-secret")
	t.Setenv("MARKETGATE_DIRECTORY_URL", "https://directory.example/api/identifiers")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Feed != FeedMemory || cfg.BindKey != BindOrigin {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DirectoryTimeout != 5*time.Second {
		t.Fatalf("unexpected directory timeout: %v", cfg.DirectoryTimeout)
	}
	if !cfg.AllowAnonymous {
		t.Fatal("expected anonymous visitors allowed by default")
	}
}

func TestLoadAdminsNormalized(t *testing.T) {
	setRequired(t)
	t.Setenv("MARKETGATE_ADMINS", " ABCDEF0123456789abcdef0123456789 , ,fedcba9876543210fedcba9876543210")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"abcdef0123456789abcdef0123456789", "fedcba9876543210fedcba9876543210"}
	if len(cfg.Admins) != len(want) {
		t.Fatalf("admins = %v, want %v", cfg.Admins, want)
	}
	for i := range want {
		if cfg.Admins[i] != want[i] {
			t.Fatalf("admins = %v, want %v", cfg.Admins, want)
		}
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing secret", env: map[string]string{"MARKETGATE_DIRECTORY_URL": "https://d.example"}, want: "SESSION_SECRET"},
		{name: "missing oauth secret", env: map[string]string{"MARKETGATE_OAUTH_SECRET": ""}, want: "OAUTH_SECRET"},
		{name: "redis feed without addr", env: map[string]string{"MARKETGATE_FEED": "redis"}, want: "REDIS_ADDR"},
		{name: "postgres feed without dsn", env: map[string]string{"MARKETGATE_FEED": "postgres"}, want: "PG_DSN"},
		{name: "unknown bind key", env: map[string]string{"MARKETGATE_BIND_KEY": "cookie"}, want: "bind key"},
		{name: "unknown feed", env: map[string]string{"MARKETGATE_FEED": "kafka"}, want: "unknown feed"},
		{name: "postgres store with memory feed", env: map[string]string{"MARKETGATE_PG_DSN": "postgres://localhost/mg"}, want: "FEED=memory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.name != "missing secret" {
				setRequired(t)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
