// Package config provides centralized configuration for the bridge.
// Values come from environment variables (BRIDGEBOT_ prefix) with an
// optional TOML config file layered underneath.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// ErrNoDirectoryMapping is returned when a channel has no directory mapping
// and no base directory fallback is configured.
var ErrNoDirectoryMapping = errors.New("no working directory mapped for channel")

// Config holds all bridge settings, built once at startup and injected.
type Config struct {
	// AllowedUsers is the admission allow-list. Empty means allow everyone.
	AllowedUsers []string

	// RateLimitPerMinute caps messages per user in a sliding 60s window.
	RateLimitPerMinute int

	// ChannelDirs maps channel names (glob patterns allowed) to working
	// directories.
	ChannelDirs map[string]string

	// BaseDir is the fallback working directory for unmapped channels.
	// Empty means unmapped channels are a user-visible configuration error.
	BaseDir string

	// MessageLimit is the transport's per-message size limit in bytes.
	MessageLimit int

	// Verbosity is the output tier: minimal, normal, or verbose.
	Verbosity string

	// SessionMaxAge is the idle age after which a session is evicted.
	SessionMaxAge time.Duration

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration

	// TurnTimeout bounds a single agent turn.
	TurnTimeout time.Duration

	// RegistryPath is the handoff registry database directory.
	RegistryPath string

	// AgentBin is the agent CLI binary.
	AgentBin string

	// AgentConfigDir is the agent's config root holding per-project history.
	AgentConfigDir string

	// PostInterval is the minimum interval between posts to one channel.
	PostInterval time.Duration

	// ShutdownGrace bounds draining of in-flight turns at shutdown.
	ShutdownGrace time.Duration
}

// Load builds a Config from the given viper instance. The instance reads
// BRIDGEBOT_* environment variables and, when present, a config.toml in
// the bridge home directory.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("BRIDGEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("rate_limit_per_minute", 10)
	v.SetDefault("message_limit", 3900)
	v.SetDefault("verbosity", "normal")
	v.SetDefault("session_max_age", "24h")
	v.SetDefault("sweep_interval", "1h")
	v.SetDefault("turn_timeout", "30m")
	v.SetDefault("post_interval", "1s")
	v.SetDefault("shutdown_grace", "30s")
	v.SetDefault("agent_bin", "claude")
	v.SetDefault("registry_path", defaultHome())

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(defaultHome())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		AllowedUsers:       splitList(v.GetString("allowed_users")),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		ChannelDirs:        channelDirs(v),
		BaseDir:            v.GetString("base_dir"),
		MessageLimit:       v.GetInt("message_limit"),
		Verbosity:          v.GetString("verbosity"),
		SessionMaxAge:      v.GetDuration("session_max_age"),
		SweepInterval:      v.GetDuration("sweep_interval"),
		TurnTimeout:        v.GetDuration("turn_timeout"),
		RegistryPath:       v.GetString("registry_path"),
		AgentBin:           v.GetString("agent_bin"),
		AgentConfigDir:     v.GetString("agent_config_dir"),
		PostInterval:       v.GetDuration("post_interval"),
		ShutdownGrace:      v.GetDuration("shutdown_grace"),
	}

	if cfg.AgentConfigDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.AgentConfigDir = filepath.Join(home, ".claude")
	}

	switch cfg.Verbosity {
	case "minimal", "normal", "verbose":
	default:
		return nil, fmt.Errorf("invalid verbosity %q", cfg.Verbosity)
	}

	return cfg, nil
}

// ResolveDir maps a channel name to its working directory. Patterns in
// ChannelDirs may be doublestar globs; exact entries win over patterns.
func (c *Config) ResolveDir(channel string) (string, error) {
	if dir, ok := c.ChannelDirs[channel]; ok {
		return dir, nil
	}
	for pattern, dir := range c.ChannelDirs {
		if ok, err := doublestar.Match(pattern, channel); err == nil && ok {
			return dir, nil
		}
	}
	if c.BaseDir != "" {
		return c.BaseDir, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoDirectoryMapping, channel)
}

// ChannelForDir reverse-resolves the channel mapped to a working directory.
// Used by the CLI-side handoff to find where to post the handoff message.
func (c *Config) ChannelForDir(dir string) (string, bool) {
	clean := filepath.Clean(dir)
	for channel, mapped := range c.ChannelDirs {
		if filepath.Clean(mapped) == clean {
			return channel, true
		}
	}
	return "", false
}

// UserAllowed reports whether the user passes the allow-list. An empty
// allow-list admits everyone.
func (c *Config) UserAllowed(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".bridgebot")
}

// channelDirs reads the channel map either from the config file
// (a [channel_dirs] table) or from a comma-separated env value of
// "channel=dir" pairs.
func channelDirs(v *viper.Viper) map[string]string {
	if m := v.GetStringMapString("channel_dirs"); len(m) > 0 {
		return m
	}
	out := make(map[string]string)
	for _, pair := range splitList(v.GetString("channel_dirs")) {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
