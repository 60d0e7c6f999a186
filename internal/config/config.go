// Package config loads the coordinator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "250ms"-style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}

type DispatcherConfig struct {
	StopTimeout   Duration `yaml:"stop_timeout"`
	SettleTimeout Duration `yaml:"settle_timeout"` // bound for WaitForEmptyQueue
}

type AggregatorConfig struct {
	Timeout         Duration `yaml:"timeout"`          // 0 = only waiter deadlines
	ReleasedHistory int      `yaml:"released_history"` // released ids remembered to drop late events
}

type MemoryConfig struct {
	Initial map[string]any `yaml:"initial"`
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	TraceChannel string `yaml:"trace_channel"`
	MemoryKey    string `yaml:"memory_key"`
}

// Tracer sinks.
const (
	SinkNone   = "none"
	SinkMemory = "memory"
	SinkRedis  = "redis"
	SinkOTel   = "otel"
)

type TracerConfig struct {
	Sink   string `yaml:"sink"`
	Buffer int    `yaml:"buffer"` // async buffer in front of the sink
}

// Route subscribes agents, by id, to an event kind.
type Route struct {
	Kind   string   `yaml:"kind"`
	Agents []string `yaml:"agents"`
}

// Config is the top-level configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Memory     MemoryConfig     `yaml:"memory"`
	Redis      RedisConfig      `yaml:"redis"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Routes     []Route          `yaml:"routes"`
}

// Defaults returns a configuration that runs fully in-process.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text", Output: "stderr"},
		Dispatcher: DispatcherConfig{
			StopTimeout:   Duration(5 * time.Second),
			SettleTimeout: Duration(30 * time.Second),
		},
		Aggregator: AggregatorConfig{ReleasedHistory: 1024},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			TraceChannel: "coordinator.trace",
			MemoryKey:    "coordinator:memory",
		},
		Tracer: TracerConfig{Sink: SinkMemory, Buffer: 256},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path or a missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps COORDINATOR_* variables onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COORDINATOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("COORDINATOR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("COORDINATOR_TRACER_SINK"); v != "" {
		cfg.Tracer.Sink = v
	}
}
