package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.NetworkName != "default" {
		t.Fatalf("unexpected network name %q", cfg.NetworkName)
	}
	if cfg.PushInterval != 5*time.Second {
		t.Fatalf("unexpected push interval %s", cfg.PushInterval)
	}
	if cfg.BackupDir == "" {
		t.Fatalf("backup dir not derived")
	}
}

func TestFromEnvPortOverride(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9090" {
		t.Fatalf("PORT not honored, got %q", cfg.ListenAddr)
	}
}

func TestFromEnvListenWinsOverPort(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("VPSD_LISTEN", "127.0.0.1:7000")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("VPSD_LISTEN not honored, got %q", cfg.ListenAddr)
	}
}

func TestFromEnvRejectsBadTimeout(t *testing.T) {
	t.Setenv("VPSD_CMD_TIMEOUT", "not-a-duration")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for bad timeout")
	}
}
