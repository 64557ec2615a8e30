package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/parse"
	"github.com/hupe1980/parley/persona"
	"github.com/hupe1980/parley/prompt"
)

// ErrEmptyConversation is returned when a run is requested without any
// conversation text.
var ErrEmptyConversation = errors.New("conversation must not be empty")

// Synthesizer condenses a cycle's fulfilled responses into one payload.
// *synth.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, conversation string, responses []prompt.PeerAnswer, cycle int) (parse.SynthesisPayload, error)
}

// Request describes one deliberation cycle to run.
type Request struct {
	// Conversation is the user's question plus any accumulated context.
	Conversation string

	// PersonaIDs selects the participating personas. Empty means the full
	// catalog.
	PersonaIDs []string

	// Cycle is the 1-based cycle number. Zero defaults to 1.
	Cycle int
}

// CycleState is the settled record of one cycle: every phase batch in
// execution order plus the synthesis result or its failure message.
type CycleState struct {
	// RunID uniquely identifies this cycle execution across logs.
	RunID          string
	Cycle          int
	Conversation   string
	Batches        []PhaseBatch
	Synthesis      *parse.SynthesisPayload
	SynthesisError string
}

// Batch returns the batch for a phase, or nil if the cycle never reached it.
func (s *CycleState) Batch(phase Phase) *PhaseBatch {
	for i := range s.Batches {
		if s.Batches[i].Phase == phase {
			return &s.Batches[i]
		}
	}

	return nil
}

// FulfilledResponses returns the cycle's fulfilled outcomes deduplicated by
// persona id, most recent phase winning, in first-seen persona order. This is
// the response set handed to the synthesizer.
func (s *CycleState) FulfilledResponses() []prompt.PeerAnswer {
	var order []string
	byPersona := make(map[string]prompt.PeerAnswer)

	for _, batch := range s.Batches {
		for _, outcome := range batch.Fulfilled() {
			if _, seen := byPersona[outcome.PersonaID]; !seen {
				order = append(order, outcome.PersonaID)
			}
			byPersona[outcome.PersonaID] = prompt.PeerAnswer{
				ResearcherID:    outcome.PersonaID,
				Answer:          outcome.Answer,
				ConfidenceScore: outcome.ConfidenceScore,
			}
		}
	}

	answers := make([]prompt.PeerAnswer, 0, len(order))
	for _, id := range order {
		answers = append(answers, byPersona[id])
	}

	return answers
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	// Catalog defaults to persona.Default().
	Catalog *persona.Catalog

	// Synthesizer may be nil, in which case cycles stop after the final
	// phase and CycleState.Synthesis stays nil.
	Synthesizer Synthesizer

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator drives one deliberation cycle through its phases:
// initial answers in parallel, peer critique, a revision round that the
// critique winner sits out, then synthesis. Phase failures degrade the
// cycle instead of aborting it; only an empty fulfilled set ends a cycle
// early.
type Orchestrator struct {
	catalog     *persona.Catalog
	executor    *Executor
	synthesizer Synthesizer
	logger      logging.Logger
}

// NewOrchestrator constructs an Orchestrator around a phase executor.
func NewOrchestrator(executor *Executor, optFns ...func(o *OrchestratorOptions)) *Orchestrator {
	opts := OrchestratorOptions{
		Catalog: persona.Default(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Orchestrator{
		catalog:     opts.Catalog,
		executor:    executor,
		synthesizer: opts.Synthesizer,
		logger:      opts.Logger,
	}
}

// Catalog exposes the persona catalog the orchestrator runs with.
func (o *Orchestrator) Catalog() *persona.Catalog { return o.catalog }

// RunCycle executes one full cycle, invoking emit for every stream event in
// order. It returns the settled state; an error is returned only for request
// validation failures, before any event has been emitted.
func (o *Orchestrator) RunCycle(ctx context.Context, req Request, emit EmitFunc) (*CycleState, error) {
	conversation := strings.TrimSpace(req.Conversation)
	if conversation == "" {
		return nil, ErrEmptyConversation
	}

	cycle := req.Cycle
	if cycle <= 0 {
		cycle = 1
	}

	targets, err := o.resolveTargets(req.PersonaIDs)
	if err != nil {
		return nil, err
	}

	if emit == nil {
		emit = func(Event) {}
	}

	state := &CycleState{RunID: uuid.NewString(), Cycle: cycle, Conversation: conversation}

	o.logger.Info("cycle started run_id=%s cycle=%d personas=%d", state.RunID, cycle, len(targets))

	// Initial: everyone answers the bare conversation, arrival order.
	initial, err := o.executor.RunPhase(ctx, cycle, PhaseInitial, targets, func(id string) (string, error) {
		p, err := o.catalog.Get(id)
		if err != nil {
			return "", err
		}
		return prompt.Initial(conversation, p)
	}, CollectArrival, emit)
	if err != nil {
		return nil, err
	}

	state.Batches = append(state.Batches, initial)
	emit(NewPhaseCompleteEvent(cycle, PhaseInitial))

	context0 := peerAnswers(initial.Fulfilled())
	if len(context0) == 0 {
		o.logger.Warn("cycle ended early cycle=%d phase=%s: no fulfilled responses", cycle, PhaseInitial)
		emit(NewCompleteEvent(cycle))
		return state, nil
	}

	// Feedback: everyone critiques the initial answers with a shared
	// previous-responses context, ranked by confidence.
	feedbackConversation := withPreviousResponses(conversation, context0)

	feedback, err := o.executor.RunPhase(ctx, cycle, PhaseFeedback, targets, func(id string) (string, error) {
		p, err := o.catalog.Get(id)
		if err != nil {
			return "", err
		}
		return prompt.Critique(feedbackConversation, p, excludeSelf(context0, id))
	}, CollectConfidence, emit)
	if err != nil {
		return nil, err
	}

	state.Batches = append(state.Batches, feedback)
	emit(NewPhaseCompleteEvent(cycle, PhaseFeedback))

	winner := SelectBest(feedback)
	if winner == nil {
		o.logger.Warn("cycle ended early cycle=%d phase=%s: no fulfilled responses", cycle, PhaseFeedback)
		emit(NewCompleteEvent(cycle))
		return state, nil
	}

	// Final: the critique winner keeps its answer; everyone else revises
	// with the winner's critique added to the shared context.
	finalTargets := exclude(targets, winner.PersonaID)
	if len(finalTargets) > 0 {
		context1 := mergeAnswer(context0, prompt.PeerAnswer{
			ResearcherID:    winner.PersonaID,
			Answer:          winner.Answer,
			ConfidenceScore: winner.ConfidenceScore,
		})
		finalConversation := withPreviousResponses(conversation, context1)

		final, err := o.executor.RunPhase(ctx, cycle, PhaseFinal, finalTargets, func(id string) (string, error) {
			p, err := o.catalog.Get(id)
			if err != nil {
				return "", err
			}
			return prompt.Critique(finalConversation, p, excludeSelf(context1, id))
		}, CollectConfidence, emit)
		if err != nil {
			return nil, err
		}

		state.Batches = append(state.Batches, final)
		emit(NewPhaseCompleteEvent(cycle, PhaseFinal))
	}

	o.synthesize(ctx, state, emit)

	emit(NewCompleteEvent(cycle))
	o.logger.Info("cycle done run_id=%s cycle=%d batches=%d synthesized=%t", state.RunID, cycle, len(state.Batches), state.Synthesis != nil)

	return state, nil
}

// RunSync executes a cycle without streaming.
func (o *Orchestrator) RunSync(ctx context.Context, req Request) (*CycleState, error) {
	return o.RunCycle(ctx, req, nil)
}

// Run executes a cycle and delivers its events on a channel, closed when the
// cycle settles. Validation failures surface as a single error event.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		emit := func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}

		if _, err := o.RunCycle(ctx, req, emit); err != nil {
			emit(NewErrorEvent(err.Error(), req.Cycle))
		}
	}()

	return events
}

// synthesize feeds the cycle's fulfilled responses to the synthesizer.
// Failures are recorded on the state and reported as an error event; the
// cycle still completes.
func (o *Orchestrator) synthesize(ctx context.Context, state *CycleState, emit EmitFunc) {
	if o.synthesizer == nil {
		return
	}

	responses := state.FulfilledResponses()

	payload, err := o.synthesizer.Synthesize(ctx, state.Conversation, responses, state.Cycle)
	if err != nil {
		state.SynthesisError = err.Error()
		o.logger.Error("synthesis failed cycle=%d: %v", state.Cycle, err)
		emit(NewErrorEvent(fmt.Sprintf("synthesis failed: %v", err), state.Cycle))
		return
	}

	state.Synthesis = &payload
}

// resolveTargets validates the requested persona ids against the catalog,
// defaulting to the full catalog when none are given.
func (o *Orchestrator) resolveTargets(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return o.catalog.IDs(), nil
	}

	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if !o.catalog.Has(id) {
			return nil, &persona.ErrUnknownPersona{ID: id}
		}
		targets = append(targets, id)
	}

	return targets, nil
}

// withPreviousResponses appends the labeled context block the critique
// phases read their peers' answers from.
func withPreviousResponses(conversation string, answers []prompt.PeerAnswer) string {
	var sb strings.Builder
	sb.WriteString(conversation)
	sb.WriteString("\n\n=== Previous Responses ===\n")

	for _, a := range answers {
		fmt.Fprintf(&sb, "%q: %q\n", a.ResearcherID, a.Answer)
	}

	return sb.String()
}

// peerAnswers converts fulfilled outcomes into the prompt-layer shape.
func peerAnswers(outcomes []Outcome) []prompt.PeerAnswer {
	answers := make([]prompt.PeerAnswer, 0, len(outcomes))
	for _, o := range outcomes {
		answers = append(answers, prompt.PeerAnswer{
			ResearcherID:    o.PersonaID,
			Answer:          o.Answer,
			ConfidenceScore: o.ConfidenceScore,
		})
	}

	return answers
}

// mergeAnswer replaces an existing answer for the same persona or appends.
func mergeAnswer(answers []prompt.PeerAnswer, next prompt.PeerAnswer) []prompt.PeerAnswer {
	merged := make([]prompt.PeerAnswer, 0, len(answers)+1)

	replaced := false
	for _, a := range answers {
		if a.ResearcherID == next.ResearcherID {
			merged = append(merged, next)
			replaced = true
			continue
		}
		merged = append(merged, a)
	}

	if !replaced {
		merged = append(merged, next)
	}

	return merged
}

// excludeSelf filters a persona's own answer out of the peer list.
func excludeSelf(answers []prompt.PeerAnswer, personaID string) []prompt.PeerAnswer {
	peers := make([]prompt.PeerAnswer, 0, len(answers))
	for _, a := range answers {
		if a.ResearcherID != personaID {
			peers = append(peers, a)
		}
	}

	return peers
}

// exclude filters one id out of a target list.
func exclude(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}

	return out
}
