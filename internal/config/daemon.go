package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the YAML configuration consumed by the transferd
// binary: a list of scheduled jobs plus the ambient settings for the
// executor, resource guard, metrics exporter, and run reporter.
type DaemonConfig struct {
	Jobs          []JobConfig         `yaml:"jobs"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Report        ReportConfig        `yaml:"report"`
	ResourceGuard ResourceGuardConfig `yaml:"resource_guard"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// JobConfig is one named, cron-scheduled transfer.
type JobConfig struct {
	Name     string   `yaml:"name"`
	Schedule string   `yaml:"schedule"`
	Source   string   `yaml:"source"` // host:path
	Targets  []string `yaml:"targets"`
	Options  struct {
		Type             string `yaml:"type"`
		Port             int    `yaml:"port"`
		Compress         bool   `yaml:"compress"`
		Encrypt          bool   `yaml:"encrypt"`
		Checksum         bool   `yaml:"checksum"`
		ParallelChecksum bool   `yaml:"parallel_checksum"`
		StopSlave        bool   `yaml:"stop_slave"`
		MySQLUser        string `yaml:"mysql_user"`
		Parallel         int    `yaml:"parallel"`
	} `yaml:"options"`
}

// ToOptions converts the YAML options block into the closed Options record.
func (j JobConfig) ToOptions() Options {
	opts := Options{
		Mode:             Mode(j.Options.Type),
		Port:             j.Options.Port,
		Compress:         j.Options.Compress,
		Encrypt:          j.Options.Encrypt,
		Checksum:         j.Options.Checksum,
		ParallelChecksum: j.Options.ParallelChecksum,
		StopSlave:        j.Options.StopSlave,
		MySQLUser:        j.Options.MySQLUser,
		Parallel:         j.Options.Parallel,
	}
	opts.Normalize()
	return opts
}

// MetricsConfig configures the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default: "127.0.0.1:9402"
}

// ReportConfig configures optional S3 archival of per-run JSON reports.
type ReportConfig struct {
	S3Bucket          string `yaml:"s3_bucket"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3Region          string `yaml:"s3_region"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
}

// ResourceGuardConfig bounds local fan-out parallelism.
type ResourceGuardConfig struct {
	MaxParallelTargets   int     `yaml:"max_parallel_targets"`    // default: 8
	MinFreeMemoryPercent float64 `yaml:"min_free_memory_percent"` // default: 10
}

// ExecutorConfig configures the SSH-backed Remote Executor.
type ExecutorConfig struct {
	SSHUser        string        `yaml:"ssh_user"`
	SSHKeyPath     string        `yaml:"ssh_key_path"`
	KnownHostsPath string        `yaml:"known_hosts_path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // default: 10s
}

// LoggingConfig mirrors the CLI's --verbose/--log-format surface for the
// long-running daemon, which has no flags of its own to carry them.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: info
	Format string `yaml:"format"` // default: json
	File   string `yaml:"file"`
}

// LoadDaemonConfig reads and validates the transferd YAML config file.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading daemon config: %w", err)
	}

	var cfg DaemonConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing daemon config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating daemon config: %w", err)
	}

	return &cfg, nil
}

func (c *DaemonConfig) validate() error {
	if len(c.Jobs) == 0 {
		return fmt.Errorf("jobs must have at least one entry")
	}
	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		if seen[j.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, j.Name)
		}
		seen[j.Name] = true
		if j.Schedule == "" {
			return fmt.Errorf("jobs[%d] (%s): schedule is required", i, j.Name)
		}
		if j.Source == "" {
			return fmt.Errorf("jobs[%d] (%s): source is required", i, j.Name)
		}
		if len(j.Targets) == 0 {
			return fmt.Errorf("jobs[%d] (%s): at least one target is required", i, j.Name)
		}
		if j.Options.Type == "" {
			c.Jobs[i].Options.Type = string(ModeFile)
		}
		if !Mode(c.Jobs[i].Options.Type).valid() {
			return fmt.Errorf("jobs[%d] (%s): options.type %q is not a supported mode", i, j.Name, j.Options.Type)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9402"
	}

	if c.ResourceGuard.MaxParallelTargets <= 0 {
		c.ResourceGuard.MaxParallelTargets = 8
	}
	if c.ResourceGuard.MinFreeMemoryPercent <= 0 {
		c.ResourceGuard.MinFreeMemoryPercent = 10
	}

	if c.Executor.ConnectTimeout <= 0 {
		c.Executor.ConnectTimeout = 10 * time.Second
	}
	if c.Executor.SSHUser == "" {
		return fmt.Errorf("executor.ssh_user is required")
	}
	if c.Executor.SSHKeyPath == "" {
		return fmt.Errorf("executor.ssh_key_path is required")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
