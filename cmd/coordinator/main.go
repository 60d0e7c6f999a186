// coordinator runs a small question-answering workflow on the event
// coordination core: a request is answered by a generation agent, what it
// learns is merged into working memory, and an aggregator joins the answer
// with the memory update before a state machine marks the run done.
//
// Configuration comes from a YAML file (--config); without one everything
// runs in-process. With redis enabled, trace records are published on
// "<trace_channel>.<kind>" and working memory is mirrored to memory_key.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"go-agent-coordinator/internal/blackboard"
	"go-agent-coordinator/internal/config"
	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/dispatcher"
	"go-agent-coordinator/internal/eventbus"
	"go-agent-coordinator/internal/logging"
	"go-agent-coordinator/internal/memory"
	"go-agent-coordinator/internal/meta"
	"go-agent-coordinator/internal/router"
	"go-agent-coordinator/internal/tracer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// summary is what run prints on stdout.
type summary struct {
	CorrelationID string           `json:"correlation_id"`
	Answer        string           `json:"answer"`
	Memory        core.Document    `json:"memory"`
	Version       int64            `json:"memory_version"`
	Stats         dispatcher.Stats `json:"stats"`
	Traces        int              `json:"traces,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var configPath, envFile, logLevel, question string
	flags := pflag.NewFlagSet("coordinator", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&configPath, "config", "", "path to YAML config")
	flags.StringVar(&envFile, "env-file", "", "load COORDINATOR_* variables from a .env file first")
	flags.StringVar(&logLevel, "log-level", "", "override log.level")
	flags.StringVarP(&question, "question", "q", "My name is Alice and I live in NYC.", "request text to seed the workflow with")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	var redisOpts *redis.Options
	if cfg.Redis.Enabled {
		redisOpts = &redis.Options{Addr: cfg.Redis.Addr}
	}

	sink, store, closeSink, err := buildSink(ctx, cfg, redisOpts, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	var memOpts []memory.Option
	memOpts = append(memOpts, memory.WithLogger(logger))
	var mirror *blackboard.Mirror
	if redisOpts != nil {
		bb := blackboard.NewRedisStore(redisOpts, logger)
		defer bb.Close()
		mirror = blackboard.NewMirror(bb, cfg.Redis.MemoryKey, logger)
		if err := mirror.Start(ctx); err != nil {
			return fmt.Errorf("start memory mirror: %w", err)
		}
		defer func() { _ = mirror.Stop(context.WithoutCancel(ctx)) }()
		memOpts = append(memOpts, memory.WithObserver(mirror.Observe))
	}
	mem := memory.New(core.Document(cfg.Memory.Initial), memOpts...)

	wf := newWorkflow(cfg, mem, sink, logger)
	registry := meta.NewRegistry(meta.FactoryFunc(wf.create), logger)
	for _, a := range demoAgents {
		if _, err := registry.SpawnAgent(ctx, a.id, a.kind); err != nil {
			return err
		}
	}
	routes := cfg.Routes
	if len(routes) == 0 {
		routes = demoRoutes
	}
	rt := router.New()
	if err := registry.Wire(rt, routes); err != nil {
		return err
	}

	d := dispatcher.New(rt, dispatcher.WithLogger(logger), dispatcher.WithTracer(sink))
	if err := d.Start(ctx); err != nil {
		return err
	}

	corr := uuid.NewString()
	d.Dispatch(core.NewCorrelatedEvent(KindRequest, "cli", corr, question))

	settle := cfg.Dispatcher.SettleTimeout.Std()
	batch, waitErr := wf.joiner.Aggregator().WaitForEvents(ctx, corr, settle)
	if waitErr == nil {
		waitErr = d.WaitForEmptyQueue(ctx, settle)
	}

	d.Dispatch(core.TerminateEvent("cli"))
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Dispatcher.StopTimeout.Std())
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		logger.Warn("dispatcher did not stop cleanly", "error", err)
	}
	if mirror != nil {
		if err := mirror.Stop(stopCtx); err != nil {
			logger.Warn("memory mirror did not flush", "error", err)
		}
	}
	if waitErr != nil {
		return fmt.Errorf("workflow %s: %w", corr, waitErr)
	}

	out := summary{
		CorrelationID: corr,
		Answer:        answerOf(batch),
		Memory:        mem.Get(),
		Version:       mem.Version(),
		Stats:         d.Stats(),
	}
	if store != nil {
		out.Traces = store.Len()
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// buildSink assembles the configured tracer sink. Every sink but "none"
// also keeps recent records in a store so run can report how many it saw.
func buildSink(ctx context.Context, cfg *config.Config, redisOpts *redis.Options, logger *slog.Logger) (tracer.Sink, *tracer.Store, func(), error) {
	noop := func() {}
	switch cfg.Tracer.Sink {
	case config.SinkNone:
		return tracer.Null{}, nil, noop, nil
	case config.SinkMemory:
		s := tracer.NewStore(10_000)
		return s, s, noop, nil
	case config.SinkRedis:
		bus := eventbus.NewRedisBus(redisOpts, logger)
		async := tracer.NewAsync(eventbus.NewSink(bus, cfg.Redis.TraceChannel, logger), cfg.Tracer.Buffer, logger)
		s := tracer.NewStore(10_000)
		return tracer.Multi{s, async}, s, func() {
			async.Close()
			_ = bus.Close()
		}, nil
	case config.SinkOTel:
		tp, err := tracer.NewStdoutProvider(os.Stderr)
		if err != nil {
			return nil, nil, nil, err
		}
		async := tracer.NewAsync(tracer.NewOTelSink(tp), cfg.Tracer.Buffer, logger)
		s := tracer.NewStore(10_000)
		return tracer.Multi{s, async}, s, func() {
			async.Close()
			_ = tp.Shutdown(context.WithoutCancel(ctx))
		}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown tracer sink %q", cfg.Tracer.Sink)
	}
}
