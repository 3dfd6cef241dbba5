// Package config holds the coordinator's settings: built-in defaults, an
// optional YAML file, then TESTCLOUD_* environment overrides, in that order.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/testcloud/internal/coordinator"
)

// Config drives one coordinator process.
type Config struct {
	// DataDir, PrivDir and PlatformRoot are reported to clients through
	// global queries. PrivDir also receives the worker log files and
	// PlatformRoot holds releases/<name>/ launch directories.
	DataDir      string `yaml:"data_dir"`
	PrivDir      string `yaml:"priv_dir"`
	PlatformRoot string `yaml:"platform_root"`

	// Host is the host part of every identity.
	Host string `yaml:"host"`
	// Name is the coordinator's own node name.
	Name string `yaml:"name"`

	// Listen is the HTTP listen address of the coordinator API.
	Listen string `yaml:"listen"`
	// Advertise is the base URL workers use to reach the coordinator.
	// Derived from Host and the Listen port when empty.
	Advertise string `yaml:"advertise"`

	// WorkerBinary is the executable started from a release's launch dir.
	WorkerBinary string `yaml:"worker_binary"`

	JoinTimeout    time.Duration `yaml:"join_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
	StopGrace      time.Duration `yaml:"stop_grace"`
}

// Defaults returns a configuration for a single-host test run.
func Defaults() Config {
	return Config{
		DataDir:        "data",
		PrivDir:        "priv",
		PlatformRoot:   ".",
		Host:           "127.0.0.1",
		Name:           "coordinator",
		Listen:         "127.0.0.1:8080",
		WorkerBinary:   "node",
		JoinTimeout:    coordinator.DefaultJoinTimeout,
		PollInterval:   coordinator.DefaultPollInterval,
		HealthInterval: 2 * time.Second,
		StopGrace:      5 * time.Second,
	}
}

// Load builds a Config from Defaults, the YAML file at path (skipped when
// path is empty), and the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataDir = getenv("TESTCLOUD_DATA_DIR", c.DataDir)
	c.PrivDir = getenv("TESTCLOUD_PRIV_DIR", c.PrivDir)
	c.PlatformRoot = getenv("TESTCLOUD_PLATFORM_ROOT", c.PlatformRoot)
	c.Host = getenv("TESTCLOUD_HOST", c.Host)
	c.Name = getenv("TESTCLOUD_NAME", c.Name)
	c.Listen = getenv("TESTCLOUD_LISTEN", c.Listen)
	c.Advertise = getenv("TESTCLOUD_ADVERTISE", c.Advertise)
	c.WorkerBinary = getenv("TESTCLOUD_WORKER_BINARY", c.WorkerBinary)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TESTCLOUD_JOIN_TIMEOUT", &c.JoinTimeout},
		{"TESTCLOUD_POLL_INTERVAL", &c.PollInterval},
		{"TESTCLOUD_HEALTH_INTERVAL", &c.HealthInterval},
		{"TESTCLOUD_STOP_GRACE", &c.StopGrace},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("host required")
	case c.Name == "":
		return fmt.Errorf("name required")
	case c.Name == coordinator.Global:
		return fmt.Errorf("name %q is reserved", coordinator.Global)
	case c.Listen == "":
		return fmt.Errorf("listen address required")
	case c.PrivDir == "":
		return fmt.Errorf("priv dir required")
	case c.PlatformRoot == "":
		return fmt.Errorf("platform root required")
	case c.WorkerBinary == "":
		return fmt.Errorf("worker binary required")
	case c.JoinTimeout <= 0:
		return fmt.Errorf("join timeout must be > 0")
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be > 0")
	case c.PollInterval > c.JoinTimeout:
		return fmt.Errorf("poll interval %v exceeds join timeout %v", c.PollInterval, c.JoinTimeout)
	case c.HealthInterval < 0:
		return fmt.Errorf("health interval must be >= 0")
	case c.StopGrace <= 0:
		return fmt.Errorf("stop grace must be > 0")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", c.Listen, err)
	}
	return nil
}

// AdvertiseURL is the coordinator address handed to workers as their
// contact when the coordinator itself is the contact point. listenAddr is
// the address actually bound, which matters when Listen asks for port 0.
func (c Config) AdvertiseURL(listenAddr string) string {
	if c.Advertise != "" {
		return c.Advertise
	}
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	return "http://" + net.JoinHostPort(c.Host, port)
}

// Settings converts the config into coordinator settings.
func (c Config) Settings() coordinator.Settings {
	return coordinator.Settings{
		DataDir:      c.DataDir,
		PrivDir:      c.PrivDir,
		PlatformRoot: c.PlatformRoot,
		Host:         c.Host,
		Name:         c.Name,
		JoinTimeout:  c.JoinTimeout,
		PollInterval: c.PollInterval,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
