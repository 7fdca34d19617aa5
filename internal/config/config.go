// Package config loads the YAML configuration shared by every rangedir
// process and sets up logging.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/dreamware/rangedir/internal/transport"
)

// Config is the root of the configuration file.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger"`
	Shard       ShardConfig       `yaml:"shard"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Client      ClientConfig      `yaml:"client"`
	Launch      LaunchConfig      `yaml:"launch"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ShardConfig struct {
	Port      int    `yaml:"port"`
	SplitSize int    `yaml:"split_size"`
	Workers   int    `yaml:"workers"`
	AdminAddr string `yaml:"admin_addr"`
}

type CoordinatorConfig struct {
	Addr             string          `yaml:"addr"`
	Port             int             `yaml:"port"`
	Workers          int             `yaml:"workers"`
	Hosts            []string        `yaml:"hosts"`
	FirstHost        string          `yaml:"first_host"`
	HealthIntervalMs int             `yaml:"health_interval_ms"`
	AdminAddr        string          `yaml:"admin_addr"`
	ZooKeeper        ZooKeeperConfig `yaml:"zookeeper"`
}

type ZooKeeperConfig struct {
	Servers          []string `yaml:"servers"`
	Root             string   `yaml:"root"`
	SessionTimeoutMs int      `yaml:"session_timeout_ms"`
}

type ClientConfig struct {
	ConnectAttempts int `yaml:"connect_attempts"`
	ConnectDelayMs  int `yaml:"connect_delay_ms"`
}

// LaunchConfig tells a splitting shard how to start its successor.
type LaunchConfig struct {
	// Mode is "ssh" or "exec".
	Mode       string `yaml:"mode"`
	User       string `yaml:"user"`
	Dir        string `yaml:"dir"`
	Binary     string `yaml:"binary"`
	ConfigPath string `yaml:"config_path"`
}

// Default returns a baseline single-machine config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO"},
		Shard: ShardConfig{
			Port:      55252,
			SplitSize: 100,
			Workers:   16,
		},
		Coordinator: CoordinatorConfig{
			Addr:             "localhost",
			Port:             55353,
			Workers:          16,
			HealthIntervalMs: 5000,
			ZooKeeper: ZooKeeperConfig{
				Root:             "/rangedir",
				SessionTimeoutMs: 5000,
			},
		},
		Client: ClientConfig{
			ConnectAttempts: transport.DefaultAttempts,
			ConnectDelayMs:  int(transport.DefaultDelay / time.Millisecond),
		},
		Launch: LaunchConfig{
			Mode:   "ssh",
			Binary: "rangedir-shard",
		},
	}
}

// Load reads path over the defaults, applies RANGEDIR_* environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config file not found, using default config", "path", path)
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	ints := map[string]*int{
		"RANGEDIR_SHARD_PORT":       &c.Shard.Port,
		"RANGEDIR_SPLIT_SIZE":       &c.Shard.SplitSize,
		"RANGEDIR_COORDINATOR_PORT": &c.Coordinator.Port,
		"RANGEDIR_CONNECT_ATTEMPTS": &c.Client.ConnectAttempts,
		"RANGEDIR_CONNECT_DELAY_MS": &c.Client.ConnectDelayMs,
	}
	for name, dst := range ints {
		v := getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	strs := map[string]*string{
		"RANGEDIR_COORDINATOR_ADDR": &c.Coordinator.Addr,
		"RANGEDIR_FIRST_HOST":       &c.Coordinator.FirstHost,
		"RANGEDIR_LOG_LEVEL":        &c.Logger.Level,
		"RANGEDIR_LAUNCH_MODE":      &c.Launch.Mode,
		"RANGEDIR_SHARD_ADMIN_ADDR": &c.Shard.AdminAddr,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv("RANGEDIR_HOSTS"); v != "" {
		c.Coordinator.Hosts = splitList(v)
	}
	if v := getenv("RANGEDIR_ZK_SERVERS"); v != "" {
		c.Coordinator.ZooKeeper.Servers = splitList(v)
	}
	if v := getenv("RANGEDIR_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RANGEDIR_LOG_JSON: %w", err)
		}
		c.Logger.JSON = b
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(validPort(c.Shard.Port), "shard.port %d out of range", c.Shard.Port)
	check(validPort(c.Coordinator.Port), "coordinator.port %d out of range", c.Coordinator.Port)
	check(c.Shard.SplitSize >= 2, "shard.split_size must be at least 2")
	check(c.Shard.Workers >= 1, "shard.workers must be at least 1")
	check(c.Coordinator.Workers >= 1, "coordinator.workers must be at least 1")
	check(c.Coordinator.HealthIntervalMs >= 0, "coordinator.health_interval_ms must not be negative")
	check(c.Client.ConnectAttempts >= 1, "client.connect_attempts must be at least 1")
	check(c.Client.ConnectDelayMs >= 0, "client.connect_delay_ms must not be negative")
	check(c.Launch.Mode == "ssh" || c.Launch.Mode == "exec", "launch.mode %q must be ssh or exec", c.Launch.Mode)
	if _, err := ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CoordinatorEndpoint is the host:port shards and clients dial.
func (c Config) CoordinatorEndpoint() string {
	return transport.HostAddr(c.Coordinator.Addr, c.Coordinator.Port)
}

// DialPolicy converts the client section.
func (c ClientConfig) DialPolicy() transport.DialPolicy {
	return transport.DialPolicy{
		Attempts: c.ConnectAttempts,
		Delay:    time.Duration(c.ConnectDelayMs) * time.Millisecond,
	}
}

// HealthInterval returns the probe interval; zero disables probing.
func (c CoordinatorConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalMs) * time.Millisecond
}

// SessionTimeout returns the ZooKeeper session timeout.
func (c ZooKeeperConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMs) * time.Millisecond
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR in any case to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("logger.level %q: %w", s, err)
	}
	return l, nil
}

// InitLogger installs the process-wide slog logger, JSON or text.
func InitLogger(cfg LoggerConfig, w io.Writer) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Debug("logger initialized", "level", level.String(), "json", cfg.JSON)
	return logger
}

func validPort(p int) bool { return p > 0 && p < 65536 }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
