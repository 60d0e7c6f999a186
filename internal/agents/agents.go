// Package agents holds reusable agents built on the coordination core.
package agents

import (
	"context"
	"fmt"
	"strings"

	"go-agent-coordinator/internal/core"
)

// Generator produces text for a prompt, typically by calling a language
// model. Implementations must honour ctx.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Request asks a GenerationAgent for an answer.
type Request struct {
	Text string `json:"text"`
}

// Response is what a GenerationAgent emits. Memory holds only what the
// reply learned and is safe to merge again; Snapshot is the whole working
// memory as it stood after the reply, for display.
type Response struct {
	Text     string         `json:"text"`
	Memory   map[string]any `json:"memory,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}

// Clone implements core.Cloner.
func (r Response) Clone() any {
	out := Response{Text: r.Text}
	if r.Memory != nil {
		out.Memory = core.CloneValue(r.Memory).(map[string]any)
	}
	if r.Snapshot != nil {
		out.Snapshot = core.CloneValue(r.Snapshot).(map[string]any)
	}
	return out
}

func requestText(payload any) (string, error) {
	switch p := payload.(type) {
	case Request:
		return p.Text, nil
	case *Request:
		return p.Text, nil
	case string:
		return p, nil
	case map[string]any:
		if s, ok := p["text"].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("unsupported request payload %T", payload)
}

func joinPrompt(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return b.String()
}
