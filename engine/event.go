package engine

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the stream event union.
type EventType string

const (
	// EventResult carries one settled persona invocation.
	EventResult EventType = "result"
	// EventPhaseComplete marks the end of a phase within a cycle.
	EventPhaseComplete EventType = "phaseComplete"
	// EventComplete is the terminal event of a cycle's stream.
	EventComplete EventType = "complete"
	// EventError reports a stream-fatal failure; the stream closes after it.
	EventError EventType = "error"
)

// Event is one record of the deliberation stream. After emission it must be
// treated as immutable. The JSON shape is the newline-delimited wire format
// consumed by clients.
type Event struct {
	Type    EventType      `json:"type"`
	Payload *ResultPayload `json:"payload,omitempty"`
	Cycle   int            `json:"cycle,omitempty"`
	Phase   Phase          `json:"phase,omitempty"`
	Message string         `json:"message,omitempty"`
}

// NewResultEvent wraps a settled invocation for the stream.
func NewResultEvent(cycle int, phase Phase, position int, outcome Outcome) Event {
	return Event{
		Type: EventResult,
		Payload: &ResultPayload{
			Cycle:    cycle,
			Phase:    phase,
			Position: position,
			Outcome:  outcome,
		},
	}
}

// NewPhaseCompleteEvent marks (cycle, phase) as settled.
func NewPhaseCompleteEvent(cycle int, phase Phase) Event {
	return Event{Type: EventPhaseComplete, Cycle: cycle, Phase: phase}
}

// NewCompleteEvent terminates a cycle's stream.
func NewCompleteEvent(cycle int) Event {
	return Event{Type: EventComplete, Cycle: cycle}
}

// NewErrorEvent reports a stream-fatal failure.
func NewErrorEvent(message string, cycle int) Event {
	return Event{Type: EventError, Message: message, Cycle: cycle}
}

// ResultPayload pairs an outcome with its stream coordinates. It serializes
// to the two wire shapes clients expect: fulfilled entries nest the answer
// under "result", rejected entries carry the persona id and error inline.
type ResultPayload struct {
	Cycle    int
	Phase    Phase
	Position int
	Outcome  Outcome
}

type fulfilledBody struct {
	ResearcherID    string  `json:"researcherId"`
	Answer          string  `json:"answer"`
	ConfidenceScore float64 `json:"confidenceScore"`
	RawText         string  `json:"rawText"`
}

type fulfilledWire struct {
	Status        Status        `json:"status"`
	Cycle         int           `json:"cycle"`
	Phase         Phase         `json:"phase"`
	PhasePosition int           `json:"phasePosition"`
	Result        fulfilledBody `json:"result"`
}

type rejectedWire struct {
	Status        Status `json:"status"`
	Cycle         int    `json:"cycle"`
	Phase         Phase  `json:"phase"`
	PhasePosition int    `json:"phasePosition"`
	ResearcherID  string `json:"researcherId"`
	Error         string `json:"error"`
}

// MarshalJSON implements json.Marshaler.
func (p ResultPayload) MarshalJSON() ([]byte, error) {
	if p.Outcome.Fulfilled() {
		return json.Marshal(fulfilledWire{
			Status:        StatusFulfilled,
			Cycle:         p.Cycle,
			Phase:         p.Phase,
			PhasePosition: p.Position,
			Result: fulfilledBody{
				ResearcherID:    p.Outcome.PersonaID,
				Answer:          p.Outcome.Answer,
				ConfidenceScore: p.Outcome.ConfidenceScore,
				RawText:         p.Outcome.RawText,
			},
		})
	}

	return json.Marshal(rejectedWire{
		Status:        StatusRejected,
		Cycle:         p.Cycle,
		Phase:         p.Phase,
		PhasePosition: p.Position,
		ResearcherID:  p.Outcome.PersonaID,
		Error:         p.Outcome.Error,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ResultPayload) UnmarshalJSON(data []byte) error {
	var probe struct {
		Status        Status         `json:"status"`
		Cycle         int            `json:"cycle"`
		Phase         Phase          `json:"phase"`
		PhasePosition int            `json:"phasePosition"`
		ResearcherID  string         `json:"researcherId"`
		Error         string         `json:"error"`
		Result        *fulfilledBody `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	p.Cycle = probe.Cycle
	p.Phase = probe.Phase
	p.Position = probe.PhasePosition

	switch probe.Status {
	case StatusFulfilled:
		if probe.Result == nil {
			return fmt.Errorf("fulfilled result payload missing `result`")
		}
		p.Outcome = NewFulfilled(probe.Result.ResearcherID, probe.Result.Answer, probe.Result.ConfidenceScore, probe.Result.RawText)
	case StatusRejected:
		p.Outcome = NewRejected(probe.ResearcherID, probe.Error)
	default:
		return fmt.Errorf("unknown result status %q", probe.Status)
	}

	return nil
}
