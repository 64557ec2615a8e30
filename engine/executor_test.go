package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/parley/model"
)

// scriptedGateway routes each prompt through a caller-supplied function so
// tests can control answers, failures and settlement timing precisely.
type scriptedGateway struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, prompt string) (string, error)
}

func (g *scriptedGateway) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, prompt)
	g.mu.Unlock()

	return g.fn(ctx, prompt)
}

func (g *scriptedGateway) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test"}
}

func agentJSON(answer string, confidence float64) string {
	return fmt.Sprintf(`{"confidence_score": %g, "answer": %q}`, confidence, answer)
}

// settle sleeps through ctx so deadline tests observe cancellation.
func settle(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// collector accumulates emitted events safely across goroutines.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) results() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Event
	for _, e := range c.events {
		if e.Type == EventResult {
			out = append(out, e)
		}
	}
	return out
}

func identityPrompt(id string) (string, error) { return id, nil }

func TestRunPhaseArrivalOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 60 * time.Millisecond, "b": 10 * time.Millisecond, "c": 35 * time.Millisecond}

	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if err := settle(ctx, delays[prompt]); err != nil {
			return "", err
		}
		return agentJSON("answer from "+prompt, 3), nil
	}}

	x := NewExecutor(gw)
	c := &collector{}

	batch, err := x.RunPhase(context.Background(), 1, PhaseInitial, []string{"a", "b", "c"}, identityPrompt, CollectArrival, c.emit)
	require.NoError(t, err)

	require.Len(t, batch.Entries, 3)

	byID := map[string]int{}
	for _, e := range batch.Entries {
		require.True(t, e.Outcome.Fulfilled())
		byID[e.Outcome.PersonaID] = e.Position
	}

	assert.Equal(t, map[string]int{"b": 1, "c": 2, "a": 3}, byID)

	results := c.results()
	require.Len(t, results, 3)
	for i, id := range []string{"b", "c", "a"} {
		assert.Equal(t, id, results[i].Payload.Outcome.PersonaID)
		assert.Equal(t, i+1, results[i].Payload.Position)
		assert.Equal(t, PhaseInitial, results[i].Payload.Phase)
	}
}

func TestRunPhaseRejectionsNumberedAfterFulfilled(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		switch prompt {
		case "a":
			return agentJSON("only survivor", 4), nil
		case "b":
			return "", errors.New("model unavailable")
		default:
			return "this is not json", nil
		}
	}}

	x := NewExecutor(gw)
	c := &collector{}

	batch, err := x.RunPhase(context.Background(), 2, PhaseInitial, []string{"a", "b", "c"}, identityPrompt, CollectArrival, c.emit)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 3)

	positions := map[int]Outcome{}
	for _, e := range batch.Entries {
		positions[e.Position] = e.Outcome
	}

	require.True(t, positions[1].Fulfilled())
	assert.Equal(t, "a", positions[1].PersonaID)
	assert.False(t, positions[2].Fulfilled())
	assert.False(t, positions[3].Fulfilled())

	// The fulfilled event streams before any rejection, regardless of when
	// the rejections settled.
	results := c.results()
	require.Len(t, results, 3)
	assert.True(t, results[0].Payload.Outcome.Fulfilled())
	assert.False(t, results[1].Payload.Outcome.Fulfilled())
	assert.False(t, results[2].Payload.Outcome.Fulfilled())
	assert.Equal(t, 2, results[1].Payload.Position)
	assert.Equal(t, 3, results[2].Payload.Position)
}

func TestRunPhaseConfidenceOrdering(t *testing.T) {
	delays := map[string]time.Duration{"a": 10 * time.Millisecond, "c": 35 * time.Millisecond, "b": 60 * time.Millisecond}
	scores := map[string]float64{"a": 3, "b": 5, "c": 4}

	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if err := settle(ctx, delays[prompt]); err != nil {
			return "", err
		}
		return agentJSON("answer from "+prompt, scores[prompt]), nil
	}}

	x := NewExecutor(gw)
	c := &collector{}

	batch, err := x.RunPhase(context.Background(), 1, PhaseFeedback, []string{"a", "b", "c"}, identityPrompt, CollectConfidence, c.emit)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 3)

	var order []string
	for _, e := range batch.Entries {
		order = append(order, e.Outcome.PersonaID)
		assert.Equal(t, len(order), e.Position)
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)

	// Each settlement improved on the best so far, so each one streamed at
	// the replace-in-place position 1.
	results := c.results()
	require.Len(t, results, 3)
	for i, id := range []string{"a", "c", "b"} {
		assert.Equal(t, id, results[i].Payload.Outcome.PersonaID)
		assert.Equal(t, 1, results[i].Payload.Position)
	}
}

func TestRunPhaseConfidenceTieBreaksOnPersonaID(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return agentJSON("answer from "+prompt, 4), nil
	}}

	x := NewExecutor(gw)

	batch, err := x.RunPhase(context.Background(), 1, PhaseFeedback, []string{"c", "a", "b"}, identityPrompt, CollectConfidence, nil)
	require.NoError(t, err)

	var order []string
	for _, e := range batch.Entries {
		order = append(order, e.Outcome.PersonaID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunPhaseStreamsOnlyImprovements(t *testing.T) {
	delays := map[string]time.Duration{"b": 10 * time.Millisecond, "a": 35 * time.Millisecond, "c": 60 * time.Millisecond}
	scores := map[string]float64{"a": 3, "b": 5, "c": 4}

	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if err := settle(ctx, delays[prompt]); err != nil {
			return "", err
		}
		return agentJSON("answer from "+prompt, scores[prompt]), nil
	}}

	x := NewExecutor(gw)
	c := &collector{}

	batch, err := x.RunPhase(context.Background(), 1, PhaseFinal, []string{"a", "b", "c"}, identityPrompt, CollectConfidence, c.emit)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 3)

	// b settled first with the top score; a and c never improved on it.
	results := c.results()
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Payload.Outcome.PersonaID)
	assert.Equal(t, 1, results[0].Payload.Position)
}

func TestRunPhaseConfidenceRejections(t *testing.T) {
	delays := map[string]time.Duration{"a": 10 * time.Millisecond, "b": 35 * time.Millisecond, "c": 60 * time.Millisecond}

	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if err := settle(ctx, delays[prompt]); err != nil {
			return "", err
		}
		if prompt == "b" {
			return agentJSON("lone answer", 4), nil
		}
		return "", errors.New("model unavailable")
	}}

	x := NewExecutor(gw)
	c := &collector{}

	batch, err := x.RunPhase(context.Background(), 1, PhaseFeedback, []string{"a", "b", "c"}, identityPrompt, CollectConfidence, c.emit)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 3)

	// Batch: fulfilled first, then rejections in target order.
	assert.Equal(t, "b", batch.Entries[0].Outcome.PersonaID)
	assert.Equal(t, 1, batch.Entries[0].Position)
	assert.Equal(t, "a", batch.Entries[1].Outcome.PersonaID)
	assert.Equal(t, 2, batch.Entries[1].Position)
	assert.Equal(t, "c", batch.Entries[2].Outcome.PersonaID)
	assert.Equal(t, 3, batch.Entries[2].Position)

	// Stream: rejections as they settled, positions counting from 2.
	var streamedRejections []int
	for _, e := range c.results() {
		if !e.Payload.Outcome.Fulfilled() {
			streamedRejections = append(streamedRejections, e.Payload.Position)
		}
	}
	assert.Equal(t, []int{2, 3}, streamedRejections)
}

func TestRunPhaseEmptyTargets(t *testing.T) {
	x := NewExecutor(&scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("must not be called")
	}})

	_, err := x.RunPhase(context.Background(), 1, PhaseInitial, nil, identityPrompt, CollectArrival, nil)
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestRunPhaseUnknownPhase(t *testing.T) {
	x := NewExecutor(&scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("must not be called")
	}})

	_, err := x.RunPhase(context.Background(), 1, Phase("bogus"), []string{"a"}, identityPrompt, CollectArrival, nil)
	require.Error(t, err)
}

func TestRunPhaseTimeoutBecomesRejection(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if prompt == "slow" {
			if err := settle(ctx, time.Second); err != nil {
				return "", err
			}
		}
		return agentJSON("made it", 4), nil
	}}

	x := NewExecutor(gw, func(o *ExecutorOptions) {
		o.Timeout = 30 * time.Millisecond
	})

	batch, err := x.RunPhase(context.Background(), 1, PhaseInitial, []string{"fast", "slow"}, identityPrompt, CollectArrival, nil)
	require.NoError(t, err)
	require.Len(t, batch.Entries, 2)

	byID := map[string]Outcome{}
	for _, e := range batch.Entries {
		byID[e.Outcome.PersonaID] = e.Outcome
	}

	assert.True(t, byID["fast"].Fulfilled())
	require.False(t, byID["slow"].Fulfilled())
	assert.Contains(t, byID["slow"].Error, "timed out")
}

func TestRunPhasePromptFailureBecomesRejection(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return agentJSON("fine", 4), nil
	}}

	x := NewExecutor(gw)

	promptFor := func(id string) (string, error) {
		if id == "broken" {
			return "", errors.New("no template for persona")
		}
		return id, nil
	}

	batch, err := x.RunPhase(context.Background(), 1, PhaseInitial, []string{"a", "broken"}, promptFor, CollectArrival, nil)
	require.NoError(t, err)

	byID := map[string]Outcome{}
	for _, e := range batch.Entries {
		byID[e.Outcome.PersonaID] = e.Outcome
	}

	assert.True(t, byID["a"].Fulfilled())
	require.False(t, byID["broken"].Fulfilled())
	assert.Contains(t, byID["broken"].Error, "failed to build prompt")
}
