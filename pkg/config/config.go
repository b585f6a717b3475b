package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DBConnection describes how to reach a platform store backend
type DBConnection struct {
	Kind   string `yaml:"kind" validate:"required,oneof=sqlite"`
	DBPath string `yaml:"db_path" validate:"required"`
}

// DBConfig holds the store configuration of one platform client
type DBConfig struct {
	Connection DBConnection `yaml:"db_connection" validate:"required"`
	TestMode   bool         `yaml:"test_mode"`
}

// ClientConfig configures one platform client and its manager
type ClientConfig struct {
	// AuthConfig is an opaque secret/key map handed to the adapter.
	AuthConfig map[string]string `yaml:"auth_config"`
	DBConfig   DBConfig          `yaml:"db_config" validate:"required"`

	// RequestDelay is the base pacing delay between two tasks, in seconds.
	RequestDelay int `yaml:"request_delay" validate:"gte=0"`
	// DelayRandomize is the upper bound of the random pacing jitter, in seconds.
	DelayRandomize int `yaml:"delay_randomize" validate:"gte=0"`

	// Progress marks the platform active: inactive platforms accept tasks
	// but are skipped by collection passes.
	Progress bool `yaml:"progress"`

	// IgnoreInitialQuotaHalt skips the quota-registry halt once at the first
	// pass after startup.
	IgnoreInitialQuotaHalt bool `yaml:"ignore_initial_quota_halt"`
}

// SinkConfig describes the optional downstream HTTP sink
type SinkConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,gt=0"`
	Path string `yaml:"path"`
}

// Config is the run configuration parsed once at startup
type Config struct {
	// DataDir holds the meta store, the quota registry, and default
	// platform store locations.
	DataDir string `yaml:"data_dir"`

	// TaskDir is scanned for inbound task files; fully accepted files are
	// moved to ProcessedTaskDir when MoveProcessedTasks is set.
	TaskDir            string `yaml:"task_dir"`
	ProcessedTaskDir   string `yaml:"processed_task_dir"`
	MoveProcessedTasks bool   `yaml:"move_processed_tasks"`

	// LoopInterval is the sleep between two collection passes, in seconds.
	LoopInterval int `yaml:"loop_interval" validate:"gte=0"`

	APIAddr string `yaml:"api_addr"`

	Sink *SinkConfig `yaml:"sink"`

	Clients map[string]ClientConfig `yaml:"clients" validate:"required,min=1,dive"`
}

const (
	defaultLoopInterval = 60
	defaultAPIAddr      = "127.0.0.1:8087"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the run configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse run config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	// Platform symbols double as directory and file name fragments.
	for platform := range cfg.Clients {
		if platform == "" {
			return nil, fmt.Errorf("invalid run config: empty platform symbol")
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(baseDir, "data")
	}
	if c.TaskDir == "" {
		c.TaskDir = filepath.Join(c.DataDir, "tasks")
	}
	if c.ProcessedTaskDir == "" {
		c.ProcessedTaskDir = filepath.Join(c.DataDir, "processed_tasks")
	}
	if c.LoopInterval == 0 {
		c.LoopInterval = defaultLoopInterval
	}
	if c.APIAddr == "" {
		c.APIAddr = defaultAPIAddr
	}

	for platform, client := range c.Clients {
		if client.DBConfig.Connection.Kind == "" {
			client.DBConfig.Connection.Kind = "sqlite"
		}
		if client.DBConfig.Connection.DBPath == "" {
			client.DBConfig.Connection.DBPath = filepath.Join(c.DataDir, "dbs", platform+".sqlite")
		}
		c.Clients[platform] = client
	}
}

// LoopIntervalDuration returns the collect-loop sleep as a duration
func (c *Config) LoopIntervalDuration() time.Duration {
	return time.Duration(c.LoopInterval) * time.Second
}

// QuotaRegistryPath returns the location of the quota registry file
func (c *Config) QuotaRegistryPath() string {
	return filepath.Join(c.DataDir, "platform_quotas.json")
}

// MetaStorePath returns the location of the platform catalog
func (c *Config) MetaStorePath() string {
	return filepath.Join(c.DataDir, "meta.db")
}

// EnsureDirs creates the data, task, and processed-task directories
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, filepath.Join(c.DataDir, "dbs"), c.TaskDir, c.ProcessedTaskDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
