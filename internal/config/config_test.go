package config

import (
	"testing"
	"time"
)

func TestLoadUsesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "valentine.db" {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath)
	}
	if cfg.Domain != "localhost:5173" {
		t.Fatalf("unexpected domain: %q", cfg.Domain)
	}
	if cfg.RateLimit != 10 {
		t.Fatalf("unexpected rate limit: %d", cfg.RateLimit)
	}
	if cfg.PayloadMode != PayloadModePlain {
		t.Fatalf("unexpected payload mode: %q", cfg.PayloadMode)
	}
	expected := time.Date(2026, time.February, 15, 23, 59, 59, 0, time.UTC)
	if !cfg.ExpiresAt.Equal(expected) {
		t.Fatalf("unexpected expiry cutoff: %v", cfg.ExpiresAt)
	}
}

func TestLoadSplitsCORSOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("cors.origins", "https://valentine.example.com, http://localhost:5173 ,")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORSOrigins)
	}
	if cfg.CORSOrigins[0] != "https://valentine.example.com" || cfg.CORSOrigins[1] != "http://localhost:5173" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
	}{
		{name: "empty database path", key: "database.path", value: "  "},
		{name: "empty domain", key: "site.domain", value: ""},
		{name: "zero rate limit", key: "ratelimit.per_hour", value: 0},
		{name: "unknown payload mode", key: "payload.mode", value: "both"},
		{name: "malformed expiry cutoff", key: "site.expires_at", value: "2026-02-15 23:59:59"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected load to fail for %s", testCase.name)
			}
		})
	}
}
