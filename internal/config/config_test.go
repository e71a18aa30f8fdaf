package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")

	cfg, err := Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBFile != "tetatet.db" {
		t.Errorf("DBFile = %q", cfg.DBFile)
	}
	if cfg.APIAddr != ":8080" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	if cfg.TokenExpiry != 24*time.Hour {
		t.Errorf("TokenExpiry = %v", cfg.TokenExpiry)
	}
	if cfg.ReaperInterval != 30*time.Second {
		t.Errorf("ReaperInterval = %v", cfg.ReaperInterval)
	}
	if cfg.MaxContentLen != 4096 {
		t.Errorf("MaxContentLen = %d", cfg.MaxContentLen)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("REAPER_INTERVAL", "5s")
	t.Setenv("MAX_CONTENT_LEN", "128")

	cfg, err := Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReaperInterval != 5*time.Second {
		t.Errorf("ReaperInterval = %v", cfg.ReaperInterval)
	}
	if cfg.MaxContentLen != 128 {
		t.Errorf("MaxContentLen = %d", cfg.MaxContentLen)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	if _, err := Load(false); err == nil {
		t.Error("expected error without AUTH_SECRET")
	}

	// CLI mode runs without a secret.
	if _, err := Load(true); err != nil {
		t.Errorf("Load in CLI mode failed: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("REAPER_INTERVAL", "not-a-duration")

	if _, err := Load(false); err == nil {
		t.Error("expected error for invalid REAPER_INTERVAL")
	}
}
