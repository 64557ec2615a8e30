package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Info contains metadata about a gateway implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Gateway is the minimal interface the engine requires from a model provider.
// Generate must be safe for concurrent use; all provider errors are surfaced
// uniformly as the returned error.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// Info returns information about the gateway implementation.
	Info() Info
}

// MockGateway is a lightweight in-memory Gateway useful for tests & examples.
// Responses are matched by substring so callers can key canned completions on
// persona markers embedded in the prompt.
type MockGateway struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	failures  map[string]error
	latency   time.Duration
	calls     []string
}

// NewMockGateway constructs a MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		info:      Info{Name: "mock", Provider: "mock"},
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// AddResponse registers a canned completion for prompts containing marker.
func (m *MockGateway) AddResponse(marker, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[marker] = response
}

// AddFailure registers an error for prompts containing marker.
func (m *MockGateway) AddFailure(marker string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[marker] = err
}

// SetLatency makes every Generate call sleep for d before answering,
// respecting context cancellation.
func (m *MockGateway) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns the prompts seen so far in call order.
func (m *MockGateway) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate implements Gateway.
func (m *MockGateway) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	latency := m.latency
	var response string
	var failure error
	for marker, err := range m.failures {
		if marker != "" && strings.Contains(prompt, marker) {
			failure = err
			break
		}
	}
	if failure == nil {
		for marker, resp := range m.responses {
			if marker != "" && strings.Contains(prompt, marker) {
				response = resp
				break
			}
		}
	}
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(latency):
		}
	}

	if failure != nil {
		return "", failure
	}
	if response == "" {
		return "", fmt.Errorf("mock gateway: no canned response for prompt")
	}
	return response, nil
}

// Info implements Gateway.
func (m *MockGateway) Info() Info { return m.info }
