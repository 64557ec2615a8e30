package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/prompt"
)

func sampleResponses() []prompt.PeerAnswer {
	return []prompt.PeerAnswer{
		{ResearcherID: "researcherA", Answer: "the data is too thin", ConfidenceScore: 4},
		{ResearcherID: "researcherB", Answer: "the rollout harms late adopters", ConfidenceScore: 3},
	}
}

func TestSynthesize(t *testing.T) {
	gw := model.NewMockGateway()
	gw.AddResponse("You are the Synthesizer",
		`{"summary":"both flag rollout risk","highlights":[{"title":"Thin data","detail":"Sample size is too small."}],"followUpQuestion":"Which cohort is most exposed?"}`)

	s := NewSynthesizer(gw)

	payload, err := s.Synthesize(context.Background(), "Should we ship?", sampleResponses(), 1)
	require.NoError(t, err)

	assert.Equal(t, "both flag rollout risk", payload.Summary)
	require.Len(t, payload.Highlights, 1)
	assert.Equal(t, "Thin data", payload.Highlights[0].Title)
	assert.Equal(t, "Which cohort is most exposed?", payload.FollowUpQuestion)

	// The prompt carries the responses as JSON the model can quote from.
	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], `"researcherId": "researcherA"`)
	assert.Contains(t, calls[0], "the rollout harms late adopters")
	assert.Contains(t, calls[0], "Should we ship?")
}

func TestSynthesizeRequiresResponses(t *testing.T) {
	gw := model.NewMockGateway()
	s := NewSynthesizer(gw)

	_, err := s.Synthesize(context.Background(), "Should we ship?", nil, 1)
	require.ErrorIs(t, err, ErrNoResponses)

	// Validation happens before any model traffic.
	assert.Empty(t, gw.Calls())
}

func TestSynthesizeRejectsMalformedResponses(t *testing.T) {
	gw := model.NewMockGateway()
	s := NewSynthesizer(gw)

	_, err := s.Synthesize(context.Background(), "Should we ship?", []prompt.PeerAnswer{
		{ResearcherID: "researcherA", Answer: "   "},
	}, 1)
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Empty(t, gw.Calls())
}

func TestSynthesizeWrapsGatewayFailure(t *testing.T) {
	gw := model.NewMockGateway()
	gw.AddFailure("You are the Synthesizer", errors.New("model unavailable"))

	s := NewSynthesizer(gw)

	_, err := s.Synthesize(context.Background(), "Should we ship?", sampleResponses(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestClarify(t *testing.T) {
	gw := model.NewMockGateway()
	gw.AddResponse("Synthesizer Clarifier",
		`{"summary":"the question is about rollout pacing","highlights":[],"followUpQuestion":"Do you mean a staged rollout?","mediatorNotes":"User seems unsure about scope."}`)

	s := NewSynthesizer(gw)

	payload, err := s.Clarify(context.Background(), "ship it?")
	require.NoError(t, err)

	assert.Equal(t, "the question is about rollout pacing", payload.Summary)
	assert.Equal(t, "Do you mean a staged rollout?", payload.FollowUpQuestion)
	assert.Equal(t, "User seems unsure about scope.", payload.MediatorNotes)
}

func TestSummarize(t *testing.T) {
	gw := model.NewMockGateway()
	gw.AddResponse("academic paper summarization", `{"summary": "A tight two-sentence summary."}`)

	s := NewSynthesizer(gw)

	summary, err := s.Summarize(context.Background(), "a very long paper body")
	require.NoError(t, err)
	assert.Equal(t, "A tight two-sentence summary.", summary)

	_, err = s.Summarize(context.Background(), "   ")
	require.Error(t, err)
}

func TestSummarizeAcceptsBareProse(t *testing.T) {
	gw := model.NewMockGateway()
	gw.AddResponse("academic paper summarization", "  The paper argues for staged rollouts.  ")

	s := NewSynthesizer(gw)

	summary, err := s.Summarize(context.Background(), "a very long paper body")
	require.NoError(t, err)
	assert.Equal(t, "The paper argues for staged rollouts.", summary)
}
