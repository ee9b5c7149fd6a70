package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = "0.0.0.0:8080"
	defaultDataDir       = "~/.vpsd"
	defaultImageDir      = "/var/lib/vpsd/images"
	defaultBaseImageURL  = "https://cloud-images.ubuntu.com/noble/current/noble-server-cloudimg-amd64.img"
	defaultNetworkName   = "default"
	defaultCmdTimeout    = 10 * time.Minute
	defaultPushInterval  = 5 * time.Second
	defaultBackupDirName = "backups"
)

// ServerConfig captures the runtime configuration required by the daemon.
type ServerConfig struct {
	ListenAddr    string
	DataDir       string
	ImageDir      string
	BackupDir     string
	BaseImageURL  string
	NetworkName   string
	CmdTimeout    time.Duration
	PushInterval  time.Duration
}

// FromEnv loads server configuration from environment variables, applying
// opinionated defaults when unset. PORT alone is honored for compatibility
// with the common container convention.
func FromEnv() (ServerConfig, error) {
	cfg := ServerConfig{
		ListenAddr:   getenv("VPSD_LISTEN", defaultListenAddr),
		DataDir:      getenv("VPSD_DATA_DIR", defaultDataDir),
		ImageDir:     getenv("VPSD_IMAGE_DIR", defaultImageDir),
		BaseImageURL: getenv("VPSD_BASE_IMAGE_URL", defaultBaseImageURL),
		NetworkName:  getenv("VPSD_NETWORK", defaultNetworkName),
		CmdTimeout:   defaultCmdTimeout,
		PushInterval: defaultPushInterval,
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("VPSD_LISTEN") == "" {
		if _, err := strconv.Atoi(port); err != nil {
			return ServerConfig{}, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.ListenAddr = "0.0.0.0:" + port
	}

	if raw := strings.TrimSpace(os.Getenv("VPSD_CMD_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid VPSD_CMD_TIMEOUT %q: %w", raw, err)
		}
		cfg.CmdTimeout = d
	}

	if raw := strings.TrimSpace(os.Getenv("VPSD_PUSH_INTERVAL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid VPSD_PUSH_INTERVAL %q: %w", raw, err)
		}
		if d <= 0 {
			return ServerConfig{}, fmt.Errorf("push interval must be positive, got %s", d)
		}
		cfg.PushInterval = d
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.ImageDir = expandPath(cfg.ImageDir)
	cfg.BackupDir = getenv("VPSD_BACKUP_DIR", filepath.Join(cfg.DataDir, defaultBackupDirName))
	cfg.BackupDir = expandPath(cfg.BackupDir)

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
