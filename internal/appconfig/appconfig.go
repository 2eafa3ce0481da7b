// Package appconfig loads the configuration for a long-running `ddmq serve`
// process: listen addresses, the clean-all interval, and which archive
// sinks to start. This is distinct from internal/config, which resolves
// per-queue settings out of the ddmq root itself.
package appconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of a serve process's config file.
type Config struct {
	Root          string        `yaml:"root"`
	MetricsAddr   string        `yaml:"metrics_address"`
	HealthAddr    string        `yaml:"health_address"`
	AdminAddr     string        `yaml:"admin_address"`
	CleanInterval int           `yaml:"clean_interval_seconds"`
	CleanRateLimit float64      `yaml:"clean_rate_limit_per_second"`
	Logging       LoggingConfig `yaml:"logging"`
	Archive       ArchiveConfig `yaml:"archive"`
	Tracing       TracingConfig `yaml:"tracing"`
	Profiling     ProfilingConfig `yaml:"profiling"`
	TLS           TLSConfig       `yaml:"tls"`
}

// TLSConfig configures internal/security's LoadTLSConfig for the admin,
// metrics, and health servers.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// TracingConfig configures internal/tracing's Provider. Endpoint empty
// with Enabled false keeps the broker/cleaner's default no-op tracer.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"otlp_endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// ProfilingConfig configures internal/profiling's pprof HTTP server.
type ProfilingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures internal/logging's New.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArchiveConfig lists the archive sinks serve should start, if any.
type ArchiveConfig struct {
	FailureStrategy string           `yaml:"failure_strategy"`
	Parallel        bool             `yaml:"parallel"`
	Kafka           *KafkaSinkConfig `yaml:"kafka,omitempty"`
	S3              *S3SinkConfig    `yaml:"s3,omitempty"`
	Elasticsearch   *ESSinkConfig    `yaml:"elasticsearch,omitempty"`
}

type KafkaSinkConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3SinkConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

type ESSinkConfig struct {
	Addresses []string `yaml:"addresses"`
	Index     string   `yaml:"index"`
}

// Default returns the settings serve runs with when no config file is given.
func Default() Config {
	return Config{
		Root:           "./ddmq-root",
		MetricsAddr:    ":9090",
		HealthAddr:     ":9091",
		AdminAddr:      ":9092",
		CleanInterval:  30,
		CleanRateLimit: 5,
		Logging:        LoggingConfig{Level: "info", Format: "json"},
		Archive:        ArchiveConfig{FailureStrategy: "continue", Parallel: true},
	}
}

// Load reads and parses a YAML config file over Default(): fields the file
// does not set keep their defaults, and fields it sets override them, even
// to a zero value. ${VAR}/$VAR references anywhere in the file text are
// expanded from the process environment before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("appconfig: read %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("appconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
