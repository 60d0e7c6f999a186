package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool { return len(v.Errors) > 0 }

func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError listing every problem in cfg.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLog(cfg, ve)
	validateDispatcher(cfg, ve)
	validateAggregator(cfg, ve)
	validateTracer(cfg, ve)
	validateRoutes(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLog(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		ve.Add("log.format %q must be text or json", cfg.Log.Format)
	}
}

func validateDispatcher(cfg *Config, ve *ValidationError) {
	if cfg.Dispatcher.StopTimeout < 0 {
		ve.Add("dispatcher.stop_timeout must be >= 0")
	}
	if cfg.Dispatcher.SettleTimeout < 0 {
		ve.Add("dispatcher.settle_timeout must be >= 0")
	}
}

func validateAggregator(cfg *Config, ve *ValidationError) {
	if cfg.Aggregator.Timeout < 0 {
		ve.Add("aggregator.timeout must be >= 0")
	}
	// The binary waits on a collection after dispatching, so a batch
	// released before the wait starts must still be remembered.
	if cfg.Aggregator.ReleasedHistory < 1 {
		ve.Add("aggregator.released_history must be >= 1")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Sink {
	case SinkNone, SinkMemory, SinkOTel:
	case SinkRedis:
		if !cfg.Redis.Enabled {
			ve.Add("tracer.sink redis requires redis.enabled")
		}
	default:
		ve.Add("tracer.sink %q is not one of none, memory, redis, otel", cfg.Tracer.Sink)
	}
	if cfg.Tracer.Buffer < 0 {
		ve.Add("tracer.buffer must be >= 0")
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Addr == "" {
			ve.Add("redis.addr is required when redis is enabled")
		}
		if cfg.Redis.TraceChannel == "" {
			ve.Add("redis.trace_channel is required when redis is enabled")
		}
		if cfg.Redis.MemoryKey == "" {
			ve.Add("redis.memory_key is required when redis is enabled")
		}
	}
}

func validateRoutes(cfg *Config, ve *ValidationError) {
	for i, r := range cfg.Routes {
		if r.Kind == "" {
			ve.Add("routes[%d].kind is required", i)
		}
		if len(r.Agents) == 0 {
			ve.Add("routes[%d] (%s) lists no agents", i, r.Kind)
		}
		for j, id := range r.Agents {
			if id == "" {
				ve.Add("routes[%d].agents[%d] is empty", i, j)
			}
		}
	}
}
