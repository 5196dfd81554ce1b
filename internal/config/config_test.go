package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("", envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.LivenessWindow != 45*time.Second || cfg.Geocoder.Scope != "Rio Verde, GO" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.DBMigrate || cfg.Geocoder.RPS != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "port: \"9000\"\nlivenessWindow: 30s\ngeocoder:\n  scope: Goiania, GO\n  rps: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(path, envMap(map[string]string{"PORT": "9100", "DB_MIGRATE": "false"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("env should override file, got %s", cfg.Port)
	}
	if cfg.LivenessWindow != 30*time.Second || cfg.Geocoder.Scope != "Goiania, GO" || cfg.Geocoder.RPS != 2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.DBMigrate {
		t.Fatal("DB_MIGRATE=false not honoured")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []map[string]string{
		{"RATE_RPS": "fast"},
		{"LIVENESS_WINDOW": "soon"},
		{"WEBHOOK_MAX_ATTEMPTS": "-1"},
		{"AUTH_MODE": "hmac"},
	}
	for _, env := range cases {
		if _, err := LoadFrom("", envMap(env)); err == nil {
			t.Errorf("expected error for %v", env)
		}
	}
}
