package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the controller configuration, loaded from caravel.toml.
// Service descriptors live in the same file under [services.<name>] and are
// parsed by the descriptor source, not here.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	ACME     ACMEConfig     `mapstructure:"acme"`
	Registry RegistryConfig `mapstructure:"registry"`
	Rollout  RolloutConfig  `mapstructure:"rollout"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddr   string `mapstructure:"http_addr"`
	HTTPSAddr  string `mapstructure:"https_addr"`
	AdminAddr  string `mapstructure:"admin_addr"`
	AdminToken string `mapstructure:"admin_token"`
	DataDir    string `mapstructure:"data_dir"`
}

type ACMEConfig struct {
	Email   string `mapstructure:"email"`
	Staging bool   `mapstructure:"staging"`
}

type RegistryConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type RolloutConfig struct {
	ProbePath        string        `mapstructure:"probe_path"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ProbeMaxAttempts uint64        `mapstructure:"probe_max_attempts"`
	ProbeBackoffBase time.Duration `mapstructure:"probe_backoff_base"`
	ReadyWindow      time.Duration `mapstructure:"ready_window"`
	PullMaxAttempts  uint64        `mapstructure:"pull_max_attempts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// LoadConfig reads the controller configuration out of an already-read
// viper instance.
func LoadConfig(v *viper.Viper) (*Config, error) {
	v.SetDefault("server.http_addr", ":80")
	v.SetDefault("server.https_addr", ":443")
	v.SetDefault("server.admin_addr", "127.0.0.1:2019")
	v.SetDefault("server.data_dir", defaultDataDir())
	v.SetDefault("acme.staging", false)
	v.SetDefault("rollout.probe_path", "/")
	v.SetDefault("rollout.probe_timeout", 5*time.Second)
	v.SetDefault("rollout.probe_max_attempts", 5)
	v.SetDefault("rollout.probe_backoff_base", 500*time.Millisecond)
	v.SetDefault("rollout.ready_window", 30*time.Second)
	v.SetDefault("rollout.pull_max_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = defaultDataDir()
	}
	if cfg.ACME.Email == "" {
		return nil, fmt.Errorf("acme.email is required")
	}

	return &cfg, nil
}

// Paths derived from the data dir.

func (c *Config) SecretsDir() string   { return filepath.Join(c.Server.DataDir, "secrets") }
func (c *Config) CertCacheDir() string { return filepath.Join(c.Server.DataDir, "certs") }

func (c *Config) DeploymentsPath() string {
	return filepath.Join(c.Server.DataDir, "state", "deployments.json")
}

// defaultDataDir picks a writable data directory for the current user.
func defaultDataDir() string {
	if os.Getuid() != 0 {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local/share/caravel")
		}
	}
	return "/var/lib/caravel"
}
