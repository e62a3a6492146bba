package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.App.RestartDebounceMs != 50 {
		t.Fatalf("expected 50ms default debounce, got %d", cfg.App.RestartDebounceMs)
	}
	if cfg.Daemon.ListenPort != 0 || cfg.Daemon.ForwardLogs {
		t.Fatalf("daemon defaults must be zero, got %+v", cfg.Daemon)
	}
}

func TestLoadFromPathMergesYamlOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
daemon:
  listenPort: 9001
  forwardLogs: true
app:
  restartDebounceMs: 200
proxy:
  stagingDir: /var/tmp/devlink
  tunnelRateBytesPerSec: 1048576
  tunnelRateBurst: 65536
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.Daemon.ListenPort != 9001 || !cfg.Daemon.ForwardLogs {
		t.Fatalf("daemon section not loaded: %+v", cfg.Daemon)
	}
	if cfg.App.RestartDebounceMs != 200 {
		t.Fatalf("app section not loaded: %+v", cfg.App)
	}
	if cfg.Proxy.StagingDir != "/var/tmp/devlink" || cfg.Proxy.TunnelRateBytesPerSec != 1048576 || cfg.Proxy.TunnelRateBurst != 65536 {
		t.Fatalf("proxy section not loaded: %+v", cfg.Proxy)
	}
}

func TestLoadFromPathMissingFileKeepsDefaults(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.App.RestartDebounceMs != 50 {
		t.Fatalf("missing file must keep defaults, got %+v", cfg)
	}
}

func TestMergeKeepsUnsetFields(t *testing.T) {
	dst := Default()
	Merge(&dst, Config{Daemon: DaemonConfig{ListenPort: 7777}})
	if dst.Daemon.ListenPort != 7777 {
		t.Fatalf("merge did not apply listen port: %+v", dst.Daemon)
	}
	if dst.App.RestartDebounceMs != 50 {
		t.Fatalf("merge must not clobber unset fields: %+v", dst.App)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DEVLINK_LISTEN_PORT", "9100")
	t.Setenv("DEVLINK_FORWARD_LOGS", "yes")
	t.Setenv("DEVLINK_RESTART_DEBOUNCE_MS", "75")
	t.Setenv("DEVLINK_STAGING_DIR", " /srv/staging ")
	t.Setenv("DEVLINK_TUNNEL_RATE_BYTES", "2048")
	t.Setenv("DEVLINK_TUNNEL_RATE_BURST", "512")

	cfg := Default()
	ApplyEnvOverrides(&cfg)

	if cfg.Daemon.ListenPort != 9100 || !cfg.Daemon.ForwardLogs {
		t.Fatalf("daemon env overrides not applied: %+v", cfg.Daemon)
	}
	if cfg.App.RestartDebounceMs != 75 {
		t.Fatalf("debounce env override not applied: %+v", cfg.App)
	}
	if cfg.Proxy.StagingDir != "/srv/staging" {
		t.Fatalf("staging dir env override must be trimmed, got %q", cfg.Proxy.StagingDir)
	}
	if cfg.Proxy.TunnelRateBytesPerSec != 2048 || cfg.Proxy.TunnelRateBurst != 512 {
		t.Fatalf("tunnel env overrides not applied: %+v", cfg.Proxy)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("DEVLINK_LISTEN_PORT", "not-a-number")
	t.Setenv("DEVLINK_FORWARD_LOGS", "maybe")

	cfg := Default()
	ApplyEnvOverrides(&cfg)
	if cfg.Daemon.ListenPort != 0 || cfg.Daemon.ForwardLogs {
		t.Fatalf("garbage env values must be ignored: %+v", cfg.Daemon)
	}
}
