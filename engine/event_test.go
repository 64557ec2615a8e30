package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfilledResultEventWire(t *testing.T) {
	e := NewResultEvent(1, PhaseInitial, 2, NewFulfilled("researcherB", "a staged rollout", 3.5, `{"raw":true}`))

	encoded, err := json.Marshal(e)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "result",
		"payload": {
			"status": "fulfilled",
			"cycle": 1,
			"phase": "initial",
			"phasePosition": 2,
			"result": {
				"researcherId": "researcherB",
				"answer": "a staged rollout",
				"confidenceScore": 3.5,
				"rawText": "{\"raw\":true}"
			}
		}
	}`, string(encoded))
}

func TestRejectedResultEventWire(t *testing.T) {
	e := NewResultEvent(2, PhaseFeedback, 3, NewRejected("researcherC", "model unavailable"))

	encoded, err := json.Marshal(e)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "result",
		"payload": {
			"status": "rejected",
			"cycle": 2,
			"phase": "feedback",
			"phasePosition": 3,
			"researcherId": "researcherC",
			"error": "model unavailable"
		}
	}`, string(encoded))
}

func TestLifecycleEventWire(t *testing.T) {
	encoded, err := json.Marshal(NewPhaseCompleteEvent(1, PhaseFinal))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"phaseComplete","cycle":1,"phase":"final"}`, string(encoded))

	encoded, err = json.Marshal(NewCompleteEvent(2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"complete","cycle":2}`, string(encoded))

	encoded, err = json.Marshal(NewErrorEvent("stream failed", 1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","cycle":1,"message":"stream failed"}`, string(encoded))
}

func TestResultEventRoundTrip(t *testing.T) {
	for _, original := range []Event{
		NewResultEvent(1, PhaseInitial, 1, NewFulfilled("researcherA", "thin data", 4, "raw")),
		NewResultEvent(3, PhaseFinal, 2, NewRejected("researcherB", "timed out")),
	} {
		encoded, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded Event
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.Equal(t, original, decoded)
	}
}

func TestResultPayloadRejectsUnknownStatus(t *testing.T) {
	var p ResultPayload
	err := json.Unmarshal([]byte(`{"status":"pending","cycle":1,"phase":"initial","phasePosition":1}`), &p)
	require.Error(t, err)
}

func TestSelectBest(t *testing.T) {
	batch := PhaseBatch{
		Cycle: 1,
		Phase: PhaseFeedback,
		Entries: []Entry{
			{Outcome: NewFulfilled("researcherA", "a", 4, ""), Position: 1},
			{Outcome: NewRejected("researcherB", "down"), Position: 3},
			{Outcome: NewFulfilled("researcherC", "c", 4, ""), Position: 2},
		},
	}

	best := SelectBest(batch)
	require.NotNil(t, best)
	// Tie on confidence resolves to the earlier position.
	assert.Equal(t, "researcherA", best.PersonaID)

	assert.Nil(t, SelectBest(PhaseBatch{}))
}
