package extraction

import (
	"context"
	"strings"
	"sync"
)

type MockLLMClient struct {
	Response string
	Err      error
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// RoutingLLMClient answers with the response whose key appears in the prompt.
type RoutingLLMClient struct {
	mu        sync.Mutex
	Responses map[string]string
	Calls     int
}

func (m *RoutingLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	for key, resp := range m.Responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return `{"records": []}`, nil
}
