package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/manager"
	"github.com/cuemby/boardsync/pkg/presence"
	"github.com/cuemby/boardsync/pkg/realtime"
	"github.com/cuemby/boardsync/pkg/reconciler"
	"github.com/cuemby/boardsync/pkg/session"
)

// Config is the boardsync configuration file
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Sync     SyncConfig     `yaml:"sync"`
	Presence PresenceConfig `yaml:"presence"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures `boardsync serve`
type ServerConfig struct {
	NodeID         string `yaml:"node_id"`
	DataDir        string `yaml:"data_dir"`
	RaftAddr       string `yaml:"raft_addr"`
	GRPCAddr       string `yaml:"grpc_addr"`
	ReadOnlySocket string `yaml:"readonly_socket"`
	MetricsAddr    string `yaml:"metrics_addr"`
	// InMemory keeps raft and board state in memory; for development only
	InMemory bool `yaml:"in_memory"`
}

// RedisConfig configures presence and the change relay. Both are disabled
// when Addr is empty.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

// SyncConfig configures client sessions
type SyncConfig struct {
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GapTimeout       time.Duration `yaml:"gap_timeout"`
	MaxBuffer        int           `yaml:"max_buffer"`
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`
}

// PresenceConfig configures presence reconnect backoff
type PresenceConfig struct {
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
	Jitter      float64       `yaml:"jitter"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration with every value set
func Default() *Config {
	backoff := presence.DefaultBackoff()
	return &Config{
		Server: ServerConfig{
			NodeID:      "node-1",
			DataDir:     "./boardsync-data",
			RaftAddr:    "127.0.0.1:7946",
			GRPCAddr:    "127.0.0.1:8080",
			MetricsAddr: "127.0.0.1:9090",
		},
		Redis: RedisConfig{
			Prefix:      realtime.DefaultPrefix,
			PresenceTTL: 30 * time.Second,
		},
		Sync: SyncConfig{
			WriteTimeout:     10 * time.Second,
			GapTimeout:       5 * time.Second,
			MaxBuffer:        reconciler.DefaultMaxBuffer,
			ResubscribeDelay: time.Second,
		},
		Presence: PresenceConfig{
			BackoffBase: backoff.Base,
			BackoffCap:  backoff.Cap,
			Jitter:      backoff.Jitter,
		},
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid value
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.NodeID) == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if !c.Server.InMemory && c.Server.DataDir == "" {
		return fmt.Errorf("server.data_dir is required unless server.in_memory is set")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"redis.presence_ttl", c.Redis.PresenceTTL},
		{"sync.write_timeout", c.Sync.WriteTimeout},
		{"sync.gap_timeout", c.Sync.GapTimeout},
		{"sync.resubscribe_delay", c.Sync.ResubscribeDelay},
		{"presence.backoff_base", c.Presence.BackoffBase},
		{"presence.backoff_cap", c.Presence.BackoffCap},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.Sync.MaxBuffer <= 0 {
		return fmt.Errorf("sync.max_buffer must be positive, got %d", c.Sync.MaxBuffer)
	}
	if c.Presence.BackoffCap < c.Presence.BackoffBase {
		return fmt.Errorf("presence.backoff_cap %s is below presence.backoff_base %s",
			c.Presence.BackoffCap, c.Presence.BackoffBase)
	}
	if c.Presence.Jitter < 0 || c.Presence.Jitter >= 1 {
		return fmt.Errorf("presence.jitter must be in [0, 1), got %g", c.Presence.Jitter)
	}

	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ManagerConfig returns the board server configuration
func (c *Config) ManagerConfig() *manager.Config {
	return &manager.Config{
		NodeID:   c.Server.NodeID,
		BindAddr: c.Server.RaftAddr,
		DataDir:  c.Server.DataDir,
		InMemory: c.Server.InMemory,
	}
}

// SessionConfig returns the client session configuration for a board
func (c *Config) SessionConfig(boardID, userID string) session.Config {
	return session.Config{
		BoardID:          boardID,
		UserID:           userID,
		WriteTimeout:     c.Sync.WriteTimeout,
		GapTimeout:       c.Sync.GapTimeout,
		MaxBuffer:        c.Sync.MaxBuffer,
		ResubscribeDelay: c.Sync.ResubscribeDelay,
		Backoff: presence.Backoff{
			Base:   c.Presence.BackoffBase,
			Cap:    c.Presence.BackoffCap,
			Jitter: c.Presence.Jitter,
		},
	}
}

// PresenceTransportConfig returns the Redis presence transport configuration
func (c *Config) PresenceTransportConfig() realtime.PresenceConfig {
	return realtime.PresenceConfig{
		Prefix: c.Redis.Prefix,
		TTL:    c.Redis.PresenceTTL,
	}
}

// LoggerConfig returns the global logger configuration
func (c *Config) LoggerConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
