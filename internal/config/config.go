// Package config loads daemon configuration from yaml with environment
// overrides. Flags on the entrypoint take precedence over both.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Daemon DaemonConfig `yaml:"daemon"`
	App    AppConfig    `yaml:"app"`
	Proxy  ProxyConfig  `yaml:"proxy"`
}

type DaemonConfig struct {
	// ListenPort, when positive, makes the daemon bind a TCP listener on
	// loopback instead of speaking over standard streams.
	ListenPort int `yaml:"listenPort"`

	// ForwardLogs keeps log output on the terminal instead of wrapping it
	// into daemon.logMessage events.
	ForwardLogs bool `yaml:"forwardLogs"`
}

type AppConfig struct {
	// RestartDebounceMs applies when a restart request asks for debouncing
	// without supplying its own duration.
	RestartDebounceMs int `yaml:"restartDebounceMs"`
}

type ProxyConfig struct {
	StagingDir string `yaml:"stagingDir"`

	// TunnelRateBytesPerSec caps per-tunnel relay throughput; zero means
	// unlimited.
	TunnelRateBytesPerSec float64 `yaml:"tunnelRateBytesPerSec"`
	TunnelRateBurst       int     `yaml:"tunnelRateBurst"`
}

func Default() Config {
	return Config{
		App: AppConfig{RestartDebounceMs: 50},
	}
}

// LoadFromPath reads the first readable candidate config file, merges it
// over the defaults and applies env overrides. An empty path falls back to
// the conventional locations.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		ApplyEnvOverrides(&cfg)
		return cfg
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src Config) {
	if src.Daemon.ListenPort != 0 {
		dst.Daemon.ListenPort = src.Daemon.ListenPort
	}
	if src.Daemon.ForwardLogs {
		dst.Daemon.ForwardLogs = true
	}
	if src.App.RestartDebounceMs != 0 {
		dst.App.RestartDebounceMs = src.App.RestartDebounceMs
	}
	if src.Proxy.StagingDir != "" {
		dst.Proxy.StagingDir = src.Proxy.StagingDir
	}
	if src.Proxy.TunnelRateBytesPerSec != 0 {
		dst.Proxy.TunnelRateBytesPerSec = src.Proxy.TunnelRateBytesPerSec
	}
	if src.Proxy.TunnelRateBurst != 0 {
		dst.Proxy.TunnelRateBurst = src.Proxy.TunnelRateBurst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v, ok := intEnv("DEVLINK_LISTEN_PORT"); ok {
		cfg.Daemon.ListenPort = v
	}
	if v, ok := boolEnv("DEVLINK_FORWARD_LOGS"); ok {
		cfg.Daemon.ForwardLogs = v
	}
	if v, ok := intEnv("DEVLINK_RESTART_DEBOUNCE_MS"); ok {
		cfg.App.RestartDebounceMs = v
	}
	if v := strings.TrimSpace(os.Getenv("DEVLINK_STAGING_DIR")); v != "" {
		cfg.Proxy.StagingDir = v
	}
	if v, ok := intEnv("DEVLINK_TUNNEL_RATE_BYTES"); ok {
		cfg.Proxy.TunnelRateBytesPerSec = float64(v)
	}
	if v, ok := intEnv("DEVLINK_TUNNEL_RATE_BURST"); ok {
		cfg.Proxy.TunnelRateBurst = v
	}
}

func intEnv(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func boolEnv(name string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
