// Package parley provides a high-level façade over the deliberation engine:
// a catalog of research personas answers a question independently, critiques
// each other over ranked phases, and a synthesizer condenses every cycle into
// a summary with an optional follow-up question that seeds the next cycle.
// Most applications interact with this package by:
//  1. Creating a Parley via New() with a model gateway
//  2. Deliberating asynchronously (Deliberate with an emit callback, or
//     Stream for a channel) or synchronously (DeliberateSync)
//
// The façade delegates phase execution to engine.Executor, cycle sequencing
// to engine.Orchestrator and cross-cycle continuation to runner.Runner. All
// defaults are safe for local development and testing.
package parley

import (
	"context"
	"time"

	"github.com/hupe1980/parley/engine"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/persona"
	"github.com/hupe1980/parley/runner"
	"github.com/hupe1980/parley/synth"
)

// Options configures the Parley instance.
type Options struct {
	// Catalog selects the available personas. Defaults to persona.Default().
	Catalog *persona.Catalog

	// MaxCycles caps a deliberation. Defaults to runner.DefaultMaxCycles.
	MaxCycles int

	// InvocationTimeout bounds each persona model call. Zero disables the
	// deadline.
	InvocationTimeout time.Duration

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Parley is the high-level façade aggregating the engine, synthesizer and
// runner.
type Parley struct {
	opts        Options
	runner      *runner.Runner
	synthesizer *synth.Synthesizer
}

// New creates a new Parley instance around a model gateway with optional
// overrides.
func New(gateway model.Gateway, optFns ...func(o *Options)) *Parley {
	opts := Options{
		Catalog:   persona.Default(),
		MaxCycles: runner.DefaultMaxCycles,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	synthesizer := synth.NewSynthesizer(gateway, func(o *synth.SynthesizerOptions) {
		o.Logger = opts.Logger
	})

	executor := engine.NewExecutor(gateway, func(o *engine.ExecutorOptions) {
		o.Timeout = opts.InvocationTimeout
		o.Logger = opts.Logger
	})

	orchestrator := engine.NewOrchestrator(executor, func(o *engine.OrchestratorOptions) {
		o.Catalog = opts.Catalog
		o.Synthesizer = synthesizer
		o.Logger = opts.Logger
	})

	r := runner.New(orchestrator, func(o *runner.Options) {
		o.MaxCycles = opts.MaxCycles
		o.Logger = opts.Logger
	})

	return &Parley{opts: opts, runner: r, synthesizer: synthesizer}
}

// Personas returns the configured persona catalog.
func (p *Parley) Personas() *persona.Catalog { return p.opts.Catalog }

// Runner exposes the underlying runner, mainly for serving layers that need
// direct cycle control.
func (p *Parley) Runner() *runner.Runner { return p.runner }

// Synthesizer exposes the underlying synthesizer for standalone synthesis,
// clarification or summarization calls.
func (p *Parley) Synthesizer() *synth.Synthesizer { return p.synthesizer }

// Deliberate runs a multi-cycle deliberation, streaming events through emit
// (may be nil).
func (p *Parley) Deliberate(ctx context.Context, conversation string, emit engine.EmitFunc) (*runner.Result, error) {
	return p.runner.Deliberate(ctx, engine.Request{Conversation: conversation}, emit)
}

// DeliberateSync runs a multi-cycle deliberation without streaming.
func (p *Parley) DeliberateSync(ctx context.Context, conversation string) (*runner.Result, error) {
	return p.runner.Deliberate(ctx, engine.Request{Conversation: conversation}, nil)
}

// Stream runs a deliberation and delivers its events on a channel, closed
// when the deliberation settles. The result is delivered on a second
// single-buffered channel.
func (p *Parley) Stream(ctx context.Context, conversation string) (<-chan engine.Event, <-chan *runner.Result) {
	events := make(chan engine.Event, 16)
	results := make(chan *runner.Result, 1)

	go func() {
		defer close(events)
		defer close(results)

		emit := func(e engine.Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}

		result, err := p.runner.Deliberate(ctx, engine.Request{Conversation: conversation}, emit)
		if err != nil {
			emit(engine.NewErrorEvent(err.Error(), 0))
		}
		if result != nil {
			results <- result
		}
	}()

	return events, results
}
