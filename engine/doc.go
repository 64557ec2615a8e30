// Package engine implements the multi-agent deliberation core for Parley.
//
// A deliberation cycle runs three phases over a set of personas (initial
// analysis, peer feedback, and a final round), then hands every fulfilled
// answer to the synthesizer. The package provides:
//
//   - Phase / Outcome / PhaseBatch: the validated result model, including the
//     confidence-based winner selection used between phases
//   - Executor: the concurrent per-phase fan-out with bulkhead isolation
//     (one persona's failure never aborts its siblings) and two collection
//     modes (arrival order for the streamed initial phase, confidence order
//     for feedback/final)
//   - Orchestrator: the cycle state machine with early exits, incremental
//     winner tracking, and the event stream consumed by the HTTP boundary
//
// Events are emitted as an ordered sequence: all result events of a phase
// precede that phase's completion event, phases complete in initial →
// feedback → final order, and a complete event terminates the cycle. The
// engine holds no state across runs; cross-cycle continuation lives in the
// runner package.
package engine
