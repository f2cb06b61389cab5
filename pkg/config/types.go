package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Sync      SyncConfig      `yaml:"sync"`
	Hydration HydrationConfig `yaml:"hydration"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
}

// SyncConfig controls the client engine.
type SyncConfig struct {
	Endpoint           string   `yaml:"endpoint"`
	DeviceID           string   `yaml:"device_id"`
	ActiveInterval     Duration `yaml:"active_interval"`
	BackgroundInterval Duration `yaml:"background_interval"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	PushFlushRPS       float64  `yaml:"push_flush_rps"`
	PushFlushBurst     int      `yaml:"push_flush_burst"`
	DegradedAfter      int      `yaml:"degraded_after"`
	// ReconcileCron re-hydrates loaded conversations on a schedule when set.
	ReconcileCron string `yaml:"reconcile_cron"`
}

// HydrationConfig holds page sizes for explicit event fetches.
type HydrationConfig struct {
	PageSize  int `yaml:"page_size"`
	SeekLimit int `yaml:"seek_limit"`
}

// StoreConfig selects the durable backend.
type StoreConfig struct {
	Backend       string    `yaml:"backend"` // pebble | redis | memory
	Path          string    `yaml:"path"`
	RedisAddr     string    `yaml:"redis_addr"`
	RedisPassword string    `yaml:"redis_password"`
	RedisDB       int       `yaml:"redis_db"`
	RedisPrefix   string    `yaml:"redis_prefix"`
	MaxValueSize  SizeBytes `yaml:"max_value_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ServerConfig configures the reference sync server.
type ServerConfig struct {
	Address  string `yaml:"address"`
	MaxDelta int    `yaml:"max_delta"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSize accepts "512KiB", "1MB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDuration accepts Go durations or numeric seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (s SizeBytes) MarshalYAML() (interface{}, error) {
	return int64(s), nil
}
