// Package config loads process configuration from an optional YAML file
// and TASKPIPE_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/Ethan-cw/HighPerformanceComputing/executor"
	"github.com/Ethan-cw/HighPerformanceComputing/generator"
	"github.com/Ethan-cw/HighPerformanceComputing/monitor"
	"github.com/Ethan-cw/HighPerformanceComputing/validator"
	"github.com/Ethan-cw/HighPerformanceComputing/workerpool"
)

const EnvPrefix = "TASKPIPE"

// Metrics exporters. With MetricsExporterNone no meter provider is
// installed and roles record nothing.
const (
	MetricsExporterStdout = "stdout"
	MetricsExporterNone   = "none"
)

var metricsExporters = []string{MetricsExporterStdout, MetricsExporterNone}

type Config struct {
	LogLevel       string        `mapstructure:"log_level"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	MonitorAddr    string        `mapstructure:"monitor_addr"`

	Generator struct {
		ExecutorAddr string `mapstructure:"executor_addr"`
		Rate         int64  `mapstructure:"rate"`
	} `mapstructure:"generator"`

	Executor struct {
		ListenAddr    string `mapstructure:"listen_addr"`
		ValidatorAddr string `mapstructure:"validator_addr"`
		Workers       int    `mapstructure:"workers"`
		QueueSize     int    `mapstructure:"queue_size"`
		HandoffSize   int    `mapstructure:"handoff_size"`
		DropOldest    bool   `mapstructure:"drop_oldest"`
	} `mapstructure:"executor"`

	Validator struct {
		ListenAddr  string  `mapstructure:"listen_addr"`
		SampleRate  float64 `mapstructure:"sample_rate"`
		SampleLimit int     `mapstructure:"sample_limit"`
	} `mapstructure:"validator"`

	Monitor struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"monitor"`

	Metrics struct {
		Exporter string        `mapstructure:"exporter"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("report_interval", 60*time.Second)
	v.SetDefault("monitor_addr", "127.0.0.1:9999")

	v.SetDefault("generator.executor_addr", "127.0.0.1:7777")
	v.SetDefault("generator.rate", 320000)

	v.SetDefault("executor.listen_addr", ":7777")
	v.SetDefault("executor.validator_addr", "127.0.0.1:6666")
	v.SetDefault("executor.workers", 0)
	v.SetDefault("executor.queue_size", executor.DefaultQueueSize)
	v.SetDefault("executor.handoff_size", executor.DefaultHandoffSize)
	v.SetDefault("executor.drop_oldest", false)

	v.SetDefault("validator.listen_addr", ":6666")
	v.SetDefault("validator.sample_rate", validator.DefaultSampleRate)
	v.SetDefault("validator.sample_limit", validator.DefaultSampleLimit)

	v.SetDefault("monitor.listen_addr", ":9999")

	v.SetDefault("metrics.exporter", MetricsExporterStdout)
	v.SetDefault("metrics.interval", 60*time.Second)
}

// LoadConfig reads path, if not empty, over the defaults. Environment
// variables override both: executor.workers is TASKPIPE_EXECUTOR_WORKERS.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Generator.Rate < 0 {
		return fmt.Errorf("generator.rate must not be negative, got %d", c.Generator.Rate)
	}
	if c.Validator.SampleRate < 0 || c.Validator.SampleRate > 1 {
		return fmt.Errorf("validator.sample_rate must be within [0, 1], got %g", c.Validator.SampleRate)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report_interval must be positive, got %s", c.ReportInterval)
	}
	if !lo.Contains(metricsExporters, c.Metrics.Exporter) {
		return fmt.Errorf("metrics.exporter must be one of %v, got %q", metricsExporters, c.Metrics.Exporter)
	}
	if c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive, got %s", c.Metrics.Interval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *Config) GeneratorConfig() generator.Config {
	return generator.Config{
		ExecutorAddr:   c.Generator.ExecutorAddr,
		MonitorAddr:    c.MonitorAddr,
		Rate:           c.Generator.Rate,
		ReportInterval: c.ReportInterval,
	}
}

func (c *Config) ExecutorConfig() executor.Config {
	policy := workerpool.DropCurrent
	if c.Executor.DropOldest {
		policy = workerpool.DropOldest
	}
	return executor.Config{
		ListenAddr:     c.Executor.ListenAddr,
		ValidatorAddr:  c.Executor.ValidatorAddr,
		MonitorAddr:    c.MonitorAddr,
		Workers:        c.Executor.Workers,
		QueueSize:      c.Executor.QueueSize,
		HandoffSize:    c.Executor.HandoffSize,
		Policy:         policy,
		ReportInterval: c.ReportInterval,
	}
}

func (c *Config) ValidatorConfig() validator.Config {
	return validator.Config{
		ListenAddr:     c.Validator.ListenAddr,
		MonitorAddr:    c.MonitorAddr,
		SampleRate:     c.Validator.SampleRate,
		SampleLimit:    c.Validator.SampleLimit,
		ReportInterval: c.ReportInterval,
	}
}

func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		ListenAddr: c.Monitor.ListenAddr,
	}
}
