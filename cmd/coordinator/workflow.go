package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go-agent-coordinator/internal/agents"
	"go-agent-coordinator/internal/aggregator"
	"go-agent-coordinator/internal/config"
	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/memory"
	"go-agent-coordinator/internal/patterns/fsm"
	"go-agent-coordinator/internal/tracer"
)

const (
	KindRequest  core.Kind = "user.request"
	KindResponse core.Kind = "assistant.response"
	KindMerged   core.Kind = "memory.merged"
	KindSummary  core.Kind = "workflow.summary"
)

var demoAgents = []struct{ id, kind string }{
	{"answerer", "generation"},
	{"recorder", "memory"},
	{"joiner", "aggregator"},
	{"progress", "fsm"},
}

var demoRoutes = []config.Route{
	{Kind: string(KindRequest), Agents: []string{"answerer", "progress"}},
	{Kind: string(KindResponse), Agents: []string{"recorder", "joiner", "progress"}},
	{Kind: string(KindMerged), Agents: []string{"joiner"}},
	{Kind: string(KindSummary), Agents: []string{"progress"}},
}

// workflow builds the demo agents and keeps handles the caller needs.
type workflow struct {
	cfg    *config.Config
	mem    *memory.WorkingMemory
	sink   tracer.Sink
	logger *slog.Logger
	joiner *aggregator.Agent
}

func newWorkflow(cfg *config.Config, mem *memory.WorkingMemory, sink tracer.Sink, logger *slog.Logger) *workflow {
	return &workflow{cfg: cfg, mem: mem, sink: sink, logger: logger}
}

// create implements meta.Factory.
func (w *workflow) create(_ context.Context, id, kind string) (core.Agent, error) {
	switch kind {
	case "generation":
		return agents.NewGenerationAgent(agents.GenerationConfig{
			ID:           id,
			Generator:    agents.GeneratorFunc(scriptedReply),
			Memory:       w.mem,
			Behaviour:    "You are a helpful assistant, and you like to make note of new things that you learn.",
			Instructions: "Answer the user's question, use what you know, and what you remember.",
			ResponseKind: KindResponse,
			Logger:       w.logger,
		}), nil
	case "memory":
		return agents.NewMemoryAgent(id, w.mem, KindMerged), nil
	case "aggregator":
		agg := aggregator.New([]core.Kind{KindResponse, KindMerged},
			aggregator.WithName(id),
			aggregator.WithLogger(w.logger),
			aggregator.WithTracer(w.sink),
			aggregator.WithTimeout(w.cfg.Aggregator.Timeout.Std()),
			aggregator.WithReleasedHistory(w.cfg.Aggregator.ReleasedHistory),
		)
		w.joiner = aggregator.NewAgent(id, agg, summarize)
		return w.joiner, nil
	case "fsm":
		m := fsm.NewMachine(id, "received", fsm.WithLogger(w.logger), fsm.WithFinal("done"))
		m.AddTransition(fsm.Transition{From: "received", On: KindRequest, To: "answering"})
		m.AddTransition(fsm.Transition{From: "answering", On: KindResponse, To: "answered"})
		m.AddTransition(fsm.Transition{From: "answered", On: KindSummary, To: "done"})
		if err := m.ValidateTransitions(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
}

// summarize joins the answer with the memory version it produced.
func summarize(_ context.Context, batch []core.Event) ([]core.Event, error) {
	doc := core.Document{"answer": answerOf(batch)}
	for _, ev := range batch {
		if p, ok := ev.Payload().(core.Document); ok {
			doc["memory_version"] = p["version"]
		}
	}
	return []core.Event{core.NewCorrelatedEvent(KindSummary, "joiner", batch[0].CorrelationID(), doc)}, nil
}

func answerOf(batch []core.Event) string {
	for _, ev := range batch {
		if r, ok := ev.Payload().(agents.Response); ok {
			return r.Text
		}
	}
	return ""
}

// scriptedReply stands in for a language model. It acknowledges the last
// paragraph of the prompt and asks for it to be remembered.
func scriptedReply(_ context.Context, prompt string) (string, error) {
	parts := strings.Split(prompt, "\n\n")
	request := strings.TrimSpace(parts[len(parts)-1])
	reply := agents.Response{
		Text: "Noted: " + request,
		Memory: map[string]any{
			"conversation": map[string]any{"last_request": request},
		},
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
