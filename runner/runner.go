// Package runner drives multi-cycle deliberations: it runs cycles through
// the orchestrator, feeds each cycle's follow-up question back into the
// conversation, and enforces the cycle budget plus an idempotency guard so
// the same deliberation is never started twice.
package runner

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/parley/engine"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/persona"
)

// DefaultMaxCycles bounds a deliberation when no explicit budget is given.
const DefaultMaxCycles = 3

// ErrDuplicateRun is returned when a (cycle, conversation) pair has already
// been started on this runner.
var ErrDuplicateRun = errors.New("deliberation already started for this cycle and conversation")

// ErrCycleOutOfRange is returned when the requested starting cycle exceeds
// the runner's budget.
var ErrCycleOutOfRange = errors.New("cycle exceeds the configured budget")

// Options configures a Runner.
type Options struct {
	// MaxCycles caps the number of cycles per deliberation. Defaults to
	// DefaultMaxCycles.
	MaxCycles int

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Runner owns the cross-cycle loop around an orchestrator. Safe for
// concurrent use.
type Runner struct {
	orchestrator *engine.Orchestrator
	maxCycles    int
	logger       logging.Logger

	mu      sync.Mutex
	started map[string]struct{}
}

// New constructs a Runner.
func New(orchestrator *engine.Orchestrator, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxCycles: DefaultMaxCycles,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxCycles <= 0 {
		opts.MaxCycles = DefaultMaxCycles
	}

	return &Runner{
		orchestrator: orchestrator,
		maxCycles:    opts.MaxCycles,
		logger:       opts.Logger,
		started:      make(map[string]struct{}),
	}
}

// Result is the settled record of a deliberation: one CycleState per cycle
// that ran, in order, plus the conversation as it stood going into the last
// cycle.
type Result struct {
	Cycles       []*engine.CycleState
	Conversation string
}

// Final returns the last cycle's state, or nil when nothing ran.
func (r *Result) Final() *engine.CycleState {
	if len(r.Cycles) == 0 {
		return nil
	}
	return r.Cycles[len(r.Cycles)-1]
}

// Key derives the idempotency key for one cycle over a base conversation.
func Key(cycle int, conversation string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(conversation)))
	return fmt.Sprintf("%d:%x", cycle, sum)
}

// AppendFollowUp extends a conversation with the labeled follow-up block the
// next cycle deliberates over.
func AppendFollowUp(conversation string, cycle int, question string) string {
	return fmt.Sprintf("%s\n\n=== Follow-up (cycle %d) ===\n%s", conversation, cycle, question)
}

// Deliberate runs cycles starting at req.Cycle (default 1) until the budget
// is spent, a cycle produces no follow-up question, or a cycle ends without
// synthesis. Events of every cycle stream through emit in order. Starting a
// (cycle, conversation) pair this runner has already run returns
// ErrDuplicateRun together with any cycles that settled before the clash.
func (r *Runner) Deliberate(ctx context.Context, req engine.Request, emit engine.EmitFunc) (*Result, error) {
	cycle := req.Cycle
	if cycle <= 0 {
		cycle = 1
	}
	if cycle > r.maxCycles {
		return nil, fmt.Errorf("%w: cycle %d, budget %d", ErrCycleOutOfRange, cycle, r.maxCycles)
	}

	base := req.Conversation
	conversation := base
	result := &Result{Conversation: conversation}

	for {
		if err := r.claim(cycle, base); err != nil {
			return result, err
		}

		state, err := r.orchestrator.RunCycle(ctx, engine.Request{
			Conversation: conversation,
			PersonaIDs:   req.PersonaIDs,
			Cycle:        cycle,
		}, emit)
		if err != nil {
			return result, err
		}

		result.Cycles = append(result.Cycles, state)
		result.Conversation = conversation

		if state.Synthesis == nil {
			return result, nil
		}

		followUp := strings.TrimSpace(state.Synthesis.FollowUpQuestion)
		if followUp == "" || cycle >= r.maxCycles {
			return result, nil
		}

		cycle++
		conversation = AppendFollowUp(conversation, cycle, followUp)
		r.logger.Info("continuing deliberation cycle=%d", cycle)
	}
}

// RunCycle runs exactly one cycle under the idempotency guard, for callers
// that drive the continuation themselves.
func (r *Runner) RunCycle(ctx context.Context, req engine.Request, emit engine.EmitFunc) (*engine.CycleState, error) {
	cycle := req.Cycle
	if cycle <= 0 {
		cycle = 1
	}
	if cycle > r.maxCycles {
		return nil, fmt.Errorf("%w: cycle %d, budget %d", ErrCycleOutOfRange, cycle, r.maxCycles)
	}

	if err := r.claim(cycle, req.Conversation); err != nil {
		return nil, err
	}

	return r.orchestrator.RunCycle(ctx, req, emit)
}

// MaxCycles returns the configured cycle budget.
func (r *Runner) MaxCycles() int { return r.maxCycles }

// Catalog exposes the persona catalog deliberations run with.
func (r *Runner) Catalog() *persona.Catalog { return r.orchestrator.Catalog() }

// claim marks a (cycle, conversation) pair as started.
func (r *Runner) claim(cycle int, conversation string) error {
	key := Key(cycle, conversation)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.started[key]; dup {
		return fmt.Errorf("%w (cycle %d)", ErrDuplicateRun, cycle)
	}

	r.started[key] = struct{}{}

	return nil
}
