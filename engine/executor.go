package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/parse"
)

// ErrNoTargets is returned when a phase is started with an empty persona set.
var ErrNoTargets = errors.New("phase requires at least one target persona")

// CollectionMode selects how a phase assigns positions to settled outcomes.
type CollectionMode int

const (
	// CollectArrival numbers fulfilled outcomes in settlement order and
	// streams them immediately; rejections are numbered after all fulfilled
	// entries once the phase settles. Used for the initial phase.
	CollectArrival CollectionMode = iota

	// CollectConfidence waits for the whole phase, then numbers fulfilled
	// outcomes by confidence descending (ties by persona id ascending).
	// While the phase runs, only improvements on the best-so-far answer are
	// streamed. Used for the feedback and final phases.
	CollectConfidence
)

// PromptFunc builds the prompt for one persona of a phase.
type PromptFunc func(personaID string) (string, error)

// EmitFunc receives stream events as the phase progresses. May be nil for
// callers that only want the settled batch.
type EmitFunc func(Event)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Timeout bounds each persona invocation. Zero disables the deadline.
	Timeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Executor runs one phase: a fully concurrent batch of persona invocations
// reduced into an ordered, partially-failed PhaseBatch. Invocations are
// isolated bulkhead-style; one persona failing, timing out or returning
// garbage never aborts or blocks its siblings.
type Executor struct {
	gateway model.Gateway
	timeout time.Duration
	logger  logging.Logger
}

// NewExecutor constructs an Executor with optional overrides.
func NewExecutor(gateway model.Gateway, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{
		gateway: gateway,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// RunPhase launches one invocation per persona id, fully concurrently, and
// reduces the settled outcomes per the collection mode. The returned batch
// contains exactly one entry per target persona with positions forming a
// contiguous permutation of 1..N.
func (x *Executor) RunPhase(ctx context.Context, cycle int, phase Phase, personaIDs []string, promptFor PromptFunc, mode CollectionMode, emit EmitFunc) (PhaseBatch, error) {
	if len(personaIDs) == 0 {
		return PhaseBatch{}, ErrNoTargets
	}
	if !phase.Valid() {
		return PhaseBatch{}, fmt.Errorf("unknown phase %q", phase)
	}

	start := time.Now()

	var (
		mu        sync.Mutex
		fulfilled []Entry   // positions assigned per mode
		rejected  []Outcome // settlement order
		bestScore float64
		haveBest  bool
		rejectPos = 2 // streamed rejection counter for confidence mode
	)

	targetRank := make(map[string]int, len(personaIDs))
	for i, id := range personaIDs {
		targetRank[id] = i
	}

	var wg sync.WaitGroup
	for _, personaID := range personaIDs {
		wg.Add(1)
		go func(personaID string) {
			defer wg.Done()

			outcome := x.invoke(ctx, personaID, promptFor)

			mu.Lock()
			defer mu.Unlock()

			if !outcome.Fulfilled() {
				rejected = append(rejected, outcome)
				if mode == CollectConfidence && emit != nil {
					emit(NewResultEvent(cycle, phase, rejectPos, outcome))
					rejectPos++
				}
				return
			}

			switch mode {
			case CollectArrival:
				entry := Entry{Outcome: outcome, Position: len(fulfilled) + 1}
				fulfilled = append(fulfilled, entry)
				if emit != nil {
					emit(NewResultEvent(cycle, phase, entry.Position, outcome))
				}
			case CollectConfidence:
				fulfilled = append(fulfilled, Entry{Outcome: outcome})
				if !haveBest || outcome.ConfidenceScore > bestScore {
					haveBest = true
					bestScore = outcome.ConfidenceScore
					if emit != nil {
						// Position 1 is a replace-in-place key: successive
						// improvements overwrite the previous winner on the
						// consumer side. Final positions live in the batch.
						emit(NewResultEvent(cycle, phase, 1, outcome))
					}
				}
			}
		}(personaID)
	}

	wg.Wait()

	batch := PhaseBatch{Cycle: cycle, Phase: phase}

	switch mode {
	case CollectArrival:
		batch.Entries = append(batch.Entries, fulfilled...)
		for i, outcome := range rejected {
			entry := Entry{Outcome: outcome, Position: len(fulfilled) + i + 1}
			batch.Entries = append(batch.Entries, entry)
			if emit != nil {
				emit(NewResultEvent(cycle, phase, entry.Position, outcome))
			}
		}
	case CollectConfidence:
		sort.SliceStable(fulfilled, func(i, j int) bool {
			a, b := fulfilled[i].Outcome, fulfilled[j].Outcome
			if a.ConfidenceScore != b.ConfidenceScore {
				return a.ConfidenceScore > b.ConfidenceScore
			}
			return a.PersonaID < b.PersonaID
		})
		for i := range fulfilled {
			fulfilled[i].Position = i + 1
		}
		batch.Entries = append(batch.Entries, fulfilled...)

		sort.SliceStable(rejected, func(i, j int) bool {
			return targetRank[rejected[i].PersonaID] < targetRank[rejected[j].PersonaID]
		})
		for i, outcome := range rejected {
			batch.Entries = append(batch.Entries, Entry{Outcome: outcome, Position: len(fulfilled) + i + 1})
		}
	}

	if pl, ok := x.logger.(*logging.ParleyLogger); ok {
		pl.LogPhaseExecution(string(phase), cycle, len(fulfilled), len(rejected), time.Since(start))
	} else {
		x.logger.Debug("phase settled cycle=%d phase=%s fulfilled=%d rejected=%d duration=%s",
			cycle, phase, len(fulfilled), len(rejected), time.Since(start))
	}

	return batch, nil
}

// invoke runs one persona end to end: prompt, gateway call, parse. All
// failures collapse into a rejected outcome.
func (x *Executor) invoke(ctx context.Context, personaID string, promptFor PromptFunc) Outcome {
	prompt, err := promptFor(personaID)
	if err != nil {
		return NewRejected(personaID, fmt.Sprintf("failed to build prompt: %v", err))
	}

	callCtx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	callStart := time.Now()
	raw, err := x.gateway.Generate(callCtx, prompt)
	if pl, ok := x.logger.(*logging.ParleyLogger); ok {
		pl.LogModelCall(x.gateway.Info().Name, personaID, time.Since(callStart), err == nil, err)
	}
	if err != nil {
		if x.timeout > 0 && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return NewRejected(personaID, fmt.Sprintf("invocation timed out after %s", x.timeout))
		}
		return NewRejected(personaID, err.Error())
	}

	payload, err := parse.Agent(raw, personaID)
	if err != nil {
		return NewRejected(personaID, err.Error())
	}

	return NewFulfilled(personaID, payload.Answer, payload.ConfidenceScore, raw)
}
