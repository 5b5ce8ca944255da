package llm

import (
	"context"
	"time"

	"github.com/agenthands/esgrecon/internal/metrics"
)

// Instrumented records call counts and latency for another client.
type Instrumented struct {
	provider string
	next     LLMClient
}

func NewInstrumented(provider string, next LLMClient) *Instrumented {
	return &Instrumented{provider: provider, next: next}
}

func (i *Instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := i.next.Generate(ctx, prompt)
	metrics.ObserveLLMCall(i.provider, time.Since(start), err)
	return out, err
}
