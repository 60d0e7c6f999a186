package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/memory"
)

// GenerationAgent answers requests with a Generator. The prompt carries the
// agent's behaviour, the current working memory and the request text. When
// the generator replies with a JSON object {"text": ..., "memory": {...}},
// the memory part is merged back into working memory.
type GenerationAgent struct {
	id           string
	gen          Generator
	mem          *memory.WorkingMemory
	behaviour    string
	instructions string
	responseKind core.Kind
	logger       *slog.Logger
}

// GenerationConfig configures a GenerationAgent. Memory is optional.
type GenerationConfig struct {
	ID           string
	Generator    Generator
	Memory       *memory.WorkingMemory
	Behaviour    string
	Instructions string
	ResponseKind core.Kind
	Logger       *slog.Logger
}

func NewGenerationAgent(cfg GenerationConfig) *GenerationAgent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationAgent{
		id:           cfg.ID,
		gen:          cfg.Generator,
		mem:          cfg.Memory,
		behaviour:    cfg.Behaviour,
		instructions: cfg.Instructions,
		responseKind: cfg.ResponseKind,
		logger:       logger.With("agent", cfg.ID),
	}
}

func (a *GenerationAgent) ID() string { return a.id }

func (a *GenerationAgent) Receive(ctx context.Context, ev core.Event) ([]core.Event, error) {
	text, err := requestText(ev.Payload())
	if err != nil {
		return nil, err
	}
	prompt, err := a.prompt(text)
	if err != nil {
		return nil, err
	}
	reply, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	resp := parseReply(reply)
	if a.mem != nil && len(resp.Memory) > 0 {
		a.mem.Merge(core.Document(resp.Memory))
		a.logger.Debug("learned from reply", "keys", len(resp.Memory))
	}
	if a.mem != nil {
		resp.Snapshot = a.mem.Get()
	}
	out := core.NewCorrelatedEvent(a.responseKind, a.id, ev.CorrelationID(), resp)
	return []core.Event{out}, nil
}

func (a *GenerationAgent) prompt(text string) (string, error) {
	var remembered string
	if a.mem != nil {
		data, err := json.MarshalIndent(a.mem.Get(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode memory: %w", err)
		}
		remembered = "This is what you remember:\n" + string(data)
	}
	return joinPrompt(a.behaviour, remembered, a.instructions, text), nil
}

// parseReply accepts either structured JSON or plain text.
func parseReply(reply string) Response {
	var r Response
	if err := json.Unmarshal([]byte(reply), &r); err == nil && r.Text != "" {
		return r
	}
	return Response{Text: reply}
}
