// Package config resolves and loads an element's runtime configuration,
// following the same layered precedence the teacher's agent package uses
// for its agents: explicit flag, then environment variable, then a
// convention-based file path, then compiled-in defaults. Every default
// below is spec §6.3's configuration constants table.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is one element's tunable runtime parameters.
type Config struct {
	BrokerAddr string `yaml:"broker_addr"`

	AckTimeout      time.Duration `yaml:"-"`
	AckTimeoutMS    int64         `yaml:"ack_timeout_ms"`
	ResponseTimeout time.Duration `yaml:"-"`
	ResponseTimeoutMS int64       `yaml:"response_timeout_ms"`

	StreamMaxLen int64 `yaml:"stream_max_len"`

	// BrokerMaxBlock is the "effectively forever" duration passed to a
	// blocking read when the caller asked for no timeout. Spec puts this at
	// roughly 10^15 ms; Go's time.Duration is int64 nanoseconds, so the
	// largest safe value is used instead of literally 10^15 ms.
	BrokerMaxBlock time.Duration `yaml:"-"`

	PoolSize int `yaml:"pool_size"`

	HealthcheckRetry   time.Duration `yaml:"-"`
	HealthcheckRetryMS int64         `yaml:"healthcheck_retry_ms"`

	FIFOQueueMaxLen     int64 `yaml:"fifo_queue_max_len"`
	PriorityQueueMaxLen int64 `yaml:"priority_queue_max_len"`
}

// Defaults returns spec §6.3's compiled-in configuration.
func Defaults() Config {
	c := Config{
		BrokerAddr:          "127.0.0.1:6379",
		AckTimeoutMS:        1000,
		ResponseTimeoutMS:   1000,
		StreamMaxLen:        1024,
		PoolSize:            20,
		HealthcheckRetryMS:  5000,
		FIFOQueueMaxLen:     1000,
		PriorityQueueMaxLen: 1000,
	}
	c.resolveDurations()
	c.BrokerMaxBlock = 1<<63 - 1
	return c
}

func (c *Config) resolveDurations() {
	c.AckTimeout = time.Duration(c.AckTimeoutMS) * time.Millisecond
	c.ResponseTimeout = time.Duration(c.ResponseTimeoutMS) * time.Millisecond
	c.HealthcheckRetry = time.Duration(c.HealthcheckRetryMS) * time.Millisecond
}

// Resolver mirrors the teacher's StandardConfigResolver: it finds a config
// file by name using the same flag > env var > conventional-path precedence,
// scoped to this module's ATOM_ prefix.
type Resolver struct {
	ElementName string
	ConfigFlag  *string
}

// Resolve returns the config file path to load, or "" if none was found
// (callers should fall back to Defaults()).
func (r *Resolver) Resolve() string {
	if r.ConfigFlag != nil && *r.ConfigFlag != "" {
		return *r.ConfigFlag
	}
	if path := os.Getenv("ATOM_CONFIG_PATH"); path != "" && fileExists(path) {
		return path
	}
	path := filepath.Join("config", r.ElementName+".yaml")
	if fileExists(path) {
		return path
	}
	binaryDir := filepath.Dir(os.Args[0])
	path = filepath.Join(binaryDir, "config", r.ElementName+".yaml")
	if fileExists(path) {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load resolves and loads configuration for elementName, applying (in
// increasing priority) compiled-in defaults, a YAML file if one resolves,
// and ATOM_* environment variable overrides.
func Load(elementName string, configFlag *string) (Config, error) {
	cfg := Defaults()

	resolver := Resolver{ElementName: elementName, ConfigFlag: configFlag}
	if path := resolver.Resolve(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	cfg.resolveDurations()
	cfg.BrokerMaxBlock = 1<<63 - 1
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("ATOM_BROKER_ADDR"); v != "" {
		c.BrokerAddr = v
	}
	if v, ok := envInt64("ATOM_ACK_TIMEOUT_MS"); ok {
		c.AckTimeoutMS = v
	}
	if v, ok := envInt64("ATOM_RESPONSE_TIMEOUT_MS"); ok {
		c.ResponseTimeoutMS = v
	}
	if v, ok := envInt64("ATOM_STREAM_MAX_LEN"); ok {
		c.StreamMaxLen = v
	}
	if v, ok := envInt("ATOM_POOL_SIZE"); ok {
		c.PoolSize = v
	}
	if v, ok := envInt64("ATOM_HEALTHCHECK_RETRY_MS"); ok {
		c.HealthcheckRetryMS = v
	}
	if v, ok := envInt64("ATOM_FIFO_QUEUE_MAX_LEN"); ok {
		c.FIFOQueueMaxLen = v
	}
	if v, ok := envInt64("ATOM_PRIORITY_QUEUE_MAX_LEN"); ok {
		c.PriorityQueueMaxLen = v
	}
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
