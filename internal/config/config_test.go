package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":8085" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Auth.TokenTTL != 720*time.Hour {
		t.Errorf("Auth.TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Blob.Backend != "bolt" {
		t.Errorf("Blob.Backend = %q", cfg.Blob.Backend)
	}
	if !cfg.Admin.Enabled {
		t.Error("Admin.Enabled should default to true")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
http:
  addr: ":9090"
  body_limit: 1048576
storage:
  path: /tmp/test/bunker.db
blob:
  backend: fs
  dir: /tmp/test/blobs
auth:
  token_ttl: 24h
admin:
  enabled: false
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.BodyLimit != 1<<20 {
		t.Errorf("HTTP.BodyLimit = %d", cfg.HTTP.BodyLimit)
	}
	if cfg.Blob.Backend != "fs" {
		t.Errorf("Blob.Backend = %q", cfg.Blob.Backend)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Admin.Enabled {
		t.Error("Admin.Enabled should be false")
	}
	// defaults still apply for keys the file omits
	if cfg.Admin.Username != "admin" {
		t.Errorf("Admin.Username = %q", cfg.Admin.Username)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http: [not: a map"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject malformed yaml")
	}
}
