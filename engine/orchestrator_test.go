package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/parley/persona"
	"github.com/hupe1980/parley/synth"
)

const winnerSentinel = "after review the quantitative case is decisive"

// deliberationScript answers like a well-behaved model across all phases.
// researcherA wins the feedback round, so its critique answer shows up in the
// final-phase context and marks those prompts.
func deliberationScript(synthesisJSON string) func(ctx context.Context, prompt string) (string, error) {
	titleToID := map[string]string{
		"Quantitative Methodologist": "researcherA",
		"Human-Centered Ethicist":    "researcherB",
		"Systems Architect":          "researcherC",
	}

	personaOf := func(prompt string) string {
		for title, id := range titleToID {
			if strings.Contains(prompt, title) {
				return id
			}
		}
		return ""
	}

	return func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "You are the Synthesizer") {
			return synthesisJSON, nil
		}

		id := personaOf(prompt)

		switch {
		case strings.Contains(prompt, winnerSentinel):
			// Final phase: the winner's critique is in the context block.
			scores := map[string]float64{"researcherB": 3.5, "researcherC": 4.5}
			return agentJSON("final answer from "+id, scores[id]), nil
		case strings.Contains(prompt, "Your peers answered"):
			scores := map[string]float64{"researcherA": 5, "researcherB": 3, "researcherC": 4}
			answer := "critique from " + id
			if id == "researcherA" {
				answer = winnerSentinel
			}
			return agentJSON(answer, scores[id]), nil
		default:
			scores := map[string]float64{"researcherA": 2, "researcherB": 3, "researcherC": 4}
			return agentJSON("initial answer from "+id, scores[id]), nil
		}
	}
}

func newTestOrchestrator(gw *scriptedGateway) *Orchestrator {
	return NewOrchestrator(NewExecutor(gw), func(o *OrchestratorOptions) {
		o.Synthesizer = synth.NewSynthesizer(gw)
	})
}

func TestRunCycleFullDeliberation(t *testing.T) {
	gw := &scriptedGateway{fn: deliberationScript(
		`{"summary":"joint view","highlights":[{"title":"Data quality","detail":"All three agree the dataset is thin."}],"followUpQuestion":"What about long-term costs?"}`,
	)}

	o := newTestOrchestrator(gw)
	c := &collector{}

	state, err := o.RunCycle(context.Background(), Request{Conversation: "Should we adopt the new pipeline?"}, c.emit)
	require.NoError(t, err)
	require.NotNil(t, state)

	require.Len(t, state.Batches, 3)
	assert.Equal(t, PhaseInitial, state.Batches[0].Phase)
	assert.Equal(t, PhaseFeedback, state.Batches[1].Phase)
	assert.Equal(t, PhaseFinal, state.Batches[2].Phase)

	assert.Len(t, state.Batches[0].Entries, 3)
	assert.Len(t, state.Batches[1].Entries, 3)

	// researcherA won the feedback round and sits the final phase out.
	winner := SelectBest(state.Batches[1])
	require.NotNil(t, winner)
	assert.Equal(t, "researcherA", winner.PersonaID)

	require.Len(t, state.Batches[2].Entries, 2)
	for _, e := range state.Batches[2].Entries {
		assert.NotEqual(t, "researcherA", e.Outcome.PersonaID)
	}

	require.NotNil(t, state.Synthesis)
	assert.Equal(t, "joint view", state.Synthesis.Summary)
	assert.Equal(t, "What about long-term costs?", state.Synthesis.FollowUpQuestion)
	assert.Empty(t, state.SynthesisError)

	// Most recent phase wins per persona: A keeps its winning critique, B
	// and C their final revisions. First-seen order is the initial batch's.
	responses := state.FulfilledResponses()
	require.Len(t, responses, 3)
	byID := map[string]string{}
	for _, r := range responses {
		byID[r.ResearcherID] = r.Answer
	}
	assert.Equal(t, winnerSentinel, byID["researcherA"])
	assert.Equal(t, "final answer from researcherB", byID["researcherB"])
	assert.Equal(t, "final answer from researcherC", byID["researcherC"])

	// Event skeleton: three phaseComplete markers in phase order, then the
	// terminal complete.
	var skeleton []string
	for _, e := range c.events {
		switch e.Type {
		case EventPhaseComplete:
			skeleton = append(skeleton, "phaseComplete:"+string(e.Phase))
		case EventComplete:
			skeleton = append(skeleton, "complete")
		case EventError:
			skeleton = append(skeleton, "error")
		}
	}
	assert.Equal(t, []string{
		"phaseComplete:initial",
		"phaseComplete:feedback",
		"phaseComplete:final",
		"complete",
	}, skeleton)
}

func TestRunCyclePersonaSubset(t *testing.T) {
	gw := &scriptedGateway{fn: deliberationScript(
		`{"summary":"two-way view","highlights":[],"followUpQuestion":null}`,
	)}

	o := newTestOrchestrator(gw)

	state, err := o.RunSync(context.Background(), Request{
		Conversation: "Should we adopt the new pipeline?",
		PersonaIDs:   []string{"researcherA", "researcherC"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, state.Batches)
	assert.Len(t, state.Batches[0].Entries, 2)
	for _, e := range state.Batches[0].Entries {
		assert.NotEqual(t, "researcherB", e.Outcome.PersonaID)
	}
}

func TestRunCycleStopsWhenInitialPhaseYieldsNothing(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model unavailable")
	}}

	o := newTestOrchestrator(gw)
	c := &collector{}

	state, err := o.RunCycle(context.Background(), Request{Conversation: "anything"}, c.emit)
	require.NoError(t, err)

	require.Len(t, state.Batches, 1)
	assert.Empty(t, state.Batches[0].Fulfilled())
	assert.Nil(t, state.Synthesis)

	types := eventTypes(c.events)
	require.NotEmpty(t, types)
	assert.Equal(t, EventComplete, types[len(types)-1])
	assert.Equal(t, 1, count(types, EventPhaseComplete))
}

func TestRunCycleStopsWhenFeedbackPhaseYieldsNothing(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Your peers answered") {
			return "", errors.New("model unavailable")
		}
		return agentJSON("initial answer", 3), nil
	}}

	o := newTestOrchestrator(gw)
	c := &collector{}

	state, err := o.RunCycle(context.Background(), Request{Conversation: "anything"}, c.emit)
	require.NoError(t, err)

	require.Len(t, state.Batches, 2)
	assert.Nil(t, state.Synthesis)
	assert.Equal(t, 2, count(eventTypes(c.events), EventPhaseComplete))
}

func TestRunCycleIsolatesSinglePersonaFailure(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		base := deliberationScript(`{"summary":"partial view","highlights":[],"followUpQuestion":null}`)
		if strings.Contains(prompt, "Human-Centered Ethicist") && !strings.Contains(prompt, "You are the Synthesizer") {
			return "", errors.New("model unavailable")
		}
		return base(ctx, prompt)
	}}

	o := newTestOrchestrator(gw)

	state, err := o.RunSync(context.Background(), Request{Conversation: "anything"})
	require.NoError(t, err)

	// researcherB stays a target of every phase it qualifies for; its
	// rejections never block the others.
	require.Len(t, state.Batches, 3)
	assert.Len(t, state.Batches[0].Entries, 3)
	assert.Len(t, state.Batches[0].Fulfilled(), 2)
	assert.Len(t, state.Batches[1].Entries, 3)
	require.NotNil(t, state.Synthesis)

	for _, r := range state.FulfilledResponses() {
		assert.NotEqual(t, "researcherB", r.ResearcherID)
	}
}

func TestRunCycleRecordsSynthesisFailure(t *testing.T) {
	gw := &scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "You are the Synthesizer") {
			return "complete garbage", nil
		}
		base := deliberationScript("")
		return base(ctx, prompt)
	}}

	o := newTestOrchestrator(gw)
	c := &collector{}

	state, err := o.RunCycle(context.Background(), Request{Conversation: "anything"}, c.emit)
	require.NoError(t, err)

	assert.Nil(t, state.Synthesis)
	assert.NotEmpty(t, state.SynthesisError)

	types := eventTypes(c.events)
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, EventError, types[len(types)-2])
	assert.Equal(t, EventComplete, types[len(types)-1])
}

func TestRunCycleValidation(t *testing.T) {
	o := newTestOrchestrator(&scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("must not be called")
	}})

	_, err := o.RunSync(context.Background(), Request{Conversation: "   "})
	require.ErrorIs(t, err, ErrEmptyConversation)

	_, err = o.RunSync(context.Background(), Request{Conversation: "ok", PersonaIDs: []string{"researcherZ"}})
	var unknown *persona.ErrUnknownPersona
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "researcherZ", unknown.ID)
}

func TestRunDeliversEventsOnChannel(t *testing.T) {
	gw := &scriptedGateway{fn: deliberationScript(
		`{"summary":"joint view","highlights":[],"followUpQuestion":null}`,
	)}

	o := newTestOrchestrator(gw)

	var events []Event
	for e := range o.Run(context.Background(), Request{Conversation: "Should we adopt the new pipeline?"}) {
		events = append(events, e)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}

func TestRunEmitsValidationErrorEvent(t *testing.T) {
	o := newTestOrchestrator(&scriptedGateway{fn: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("must not be called")
	}})

	var events []Event
	for e := range o.Run(context.Background(), Request{Conversation: ""}) {
		events = append(events, e)
	}

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "conversation")
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func count(types []EventType, t EventType) int {
	n := 0
	for _, candidate := range types {
		if candidate == t {
			n++
		}
	}
	return n
}
