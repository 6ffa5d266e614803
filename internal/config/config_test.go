package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreComplete(t *testing.T) {
	cfg := Default()

	if cfg.HTTP.Addr == "" {
		t.Fatalf("default http addr is empty")
	}
	if cfg.Payments.OverallTimeout != 15*time.Second {
		t.Fatalf("overall timeout: got %v", cfg.Payments.OverallTimeout)
	}
	if cfg.Payments.MaxVerifyAttempts != 3 {
		t.Fatalf("max verify attempts: got %d", cfg.Payments.MaxVerifyAttempts)
	}
	if cfg.Payments.Mode != "simulated" {
		t.Fatalf("payments mode: got %q", cfg.Payments.Mode)
	}
	if cfg.Rate.CheckoutPerMinute <= 0 || cfg.Rate.CheckoutPer10Sec <= 0 {
		t.Fatalf("rate limits must default positive: %+v", cfg.Rate)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != Default().HTTP.Addr {
		t.Fatalf("expected defaults, got %+v", cfg.HTTP)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
env: prod
http:
  addr: ":9090"
payments:
  mode: gateway
  gateway_base_url: "https://pay.example.com"
  overall_timeout: 20s
rate:
  checkout_per_minute: 5
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "prod" || cfg.HTTP.Addr != ":9090" {
		t.Fatalf("unexpected config: env=%q addr=%q", cfg.Env, cfg.HTTP.Addr)
	}
	if cfg.Payments.Mode != "gateway" || cfg.Payments.GatewayBaseURL != "https://pay.example.com" {
		t.Fatalf("unexpected payments config: %+v", cfg.Payments)
	}
	if cfg.Payments.OverallTimeout != 20*time.Second {
		t.Fatalf("overall timeout: got %v", cfg.Payments.OverallTimeout)
	}
	if cfg.Rate.CheckoutPerMinute != 5 {
		t.Fatalf("rate per minute: got %d", cfg.Rate.CheckoutPerMinute)
	}
	// untouched keys keep their defaults
	if cfg.Payments.MaxVerifyAttempts != 3 {
		t.Fatalf("max verify attempts: got %d", cfg.Payments.MaxVerifyAttempts)
	}
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("PAYMENTS_MODE", "gateway")
	t.Setenv("PAYMENTS_OVERALL_TIMEOUT", "30s")
	t.Setenv("RATE_CHECKOUT_PER_10SEC", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("env must win over yaml, got %q", cfg.HTTP.Addr)
	}
	if cfg.Payments.Mode != "gateway" || cfg.Payments.OverallTimeout != 30*time.Second {
		t.Fatalf("unexpected payments config: %+v", cfg.Payments)
	}
	if cfg.Rate.CheckoutPer10Sec != 9 {
		t.Fatalf("rate per 10s: got %d", cfg.Rate.CheckoutPer10Sec)
	}
}

func TestEnvOverrideParseErrors(t *testing.T) {
	t.Setenv("PAYMENTS_OVERALL_TIMEOUT", "not-a-duration")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error")
	}
}
