package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %q", cfg.LogLevel)
	}
	if cfg.Listen != "127.0.0.1:8899" {
		t.Errorf("expected Listen=127.0.0.1:8899, got %q", cfg.Listen)
	}
	if cfg.SaveDelay != 300*time.Millisecond {
		t.Errorf("expected SaveDelay=300ms, got %v", cfg.SaveDelay)
	}
	if cfg.FilterDebounce != 80*time.Millisecond {
		t.Errorf("expected FilterDebounce=80ms, got %v", cfg.FilterDebounce)
	}
	if cfg.SidebarDepth != 6 {
		t.Errorf("expected SidebarDepth=6, got %d", cfg.SidebarDepth)
	}
	if cfg.ReportCacheSize != 4096 {
		t.Errorf("expected ReportCacheSize=4096, got %d", cfg.ReportCacheSize)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("SANITIZE_ENV", "dev")
	t.Setenv("SANITIZE_LOG_LEVEL", "debug")
	t.Setenv("SANITIZE_LISTEN", ":9090")
	t.Setenv("SANITIZE_UPSTREAM", "http://127.0.0.1:8080")
	t.Setenv("SANITIZE_STORE_PATH", "/tmp/sanitize.db")
	t.Setenv("SANITIZE_SAVE_DELAY", "1s")
	t.Setenv("SANITIZE_FILTER_DEBOUNCE", "250ms")
	t.Setenv("SANITIZE_SIDEBAR_DEPTH", "9")
	t.Setenv("SANITIZE_REPORT_CACHE_SIZE", "0")
	t.Setenv("SANITIZE_BUS_BUFFER", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Env != "dev" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected env/log: %q/%q", cfg.Env, cfg.LogLevel)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("expected Listen=:9090, got %q", cfg.Listen)
	}
	if cfg.Upstream != "http://127.0.0.1:8080" {
		t.Errorf("expected Upstream override, got %q", cfg.Upstream)
	}
	if cfg.StorePath != "/tmp/sanitize.db" {
		t.Errorf("expected StorePath override, got %q", cfg.StorePath)
	}
	if cfg.SaveDelay != time.Second {
		t.Errorf("expected SaveDelay=1s, got %v", cfg.SaveDelay)
	}
	if cfg.FilterDebounce != 250*time.Millisecond {
		t.Errorf("expected FilterDebounce=250ms, got %v", cfg.FilterDebounce)
	}
	if cfg.SidebarDepth != 9 {
		t.Errorf("expected SidebarDepth=9, got %d", cfg.SidebarDepth)
	}
	if cfg.ReportCacheSize != 0 {
		t.Errorf("expected ReportCacheSize=0, got %d", cfg.ReportCacheSize)
	}
	if cfg.BusBuffer != 16 {
		t.Errorf("expected BusBuffer=16, got %d", cfg.BusBuffer)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"env", "SANITIZE_ENV", "staging"},
		{"log level", "SANITIZE_LOG_LEVEL", "trace"},
		{"listen without port", "SANITIZE_LISTEN", "127.0.0.1"},
		{"listen bad host", "SANITIZE_LISTEN", "not a host:80"},
		{"listen port zero", "SANITIZE_LISTEN", ":0"},
		{"upstream not url", "SANITIZE_UPSTREAM", "instagram"},
		{"sidebar depth zero", "SANITIZE_SIDEBAR_DEPTH", "0"},
		{"bus buffer zero", "SANITIZE_BUS_BUFFER", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading defaults")
	}
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading env")
	}
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked validation error") {
		t.Fatal("expected error when registering validation")
	}
}
