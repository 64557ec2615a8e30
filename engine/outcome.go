package engine

import "sort"

// Phase identifies one concurrent batch of persona invocations within a
// cycle. Phases are ordered: initial < feedback < final.
type Phase string

const (
	// PhaseInitial is the first analysis pass over the raw conversation.
	PhaseInitial Phase = "initial"
	// PhaseFeedback is the peer-critique pass over the initial answers.
	PhaseFeedback Phase = "feedback"
	// PhaseFinal is the closing pass that excludes the feedback winner.
	PhaseFinal Phase = "final"
)

// Order returns the phase's rank for sorting and merging; unknown phases
// sort last.
func (p Phase) Order() int {
	switch p {
	case PhaseInitial:
		return 0
	case PhaseFeedback:
		return 1
	case PhaseFinal:
		return 2
	default:
		return 3
	}
}

// Valid reports whether p is one of the three known phases.
func (p Phase) Valid() bool { return p.Order() < 3 }

// Status tags an Outcome as fulfilled or rejected.
type Status string

const (
	// StatusFulfilled marks a parsed, validated persona answer.
	StatusFulfilled Status = "fulfilled"
	// StatusRejected marks a persona invocation that failed.
	StatusRejected Status = "rejected"
)

// Outcome is the result of one persona invocation: either a validated
// answer with its confidence score, or a rejection message. Immutable once
// created.
type Outcome struct {
	Status          Status  `json:"status"`
	PersonaID       string  `json:"personaId"`
	Answer          string  `json:"answer,omitempty"`
	ConfidenceScore float64 `json:"confidenceScore,omitempty"`
	RawText         string  `json:"rawText,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// NewFulfilled creates a fulfilled outcome.
func NewFulfilled(personaID, answer string, confidence float64, rawText string) Outcome {
	return Outcome{
		Status:          StatusFulfilled,
		PersonaID:       personaID,
		Answer:          answer,
		ConfidenceScore: confidence,
		RawText:         rawText,
	}
}

// NewRejected creates a rejected outcome.
func NewRejected(personaID, errorMessage string) Outcome {
	return Outcome{
		Status:    StatusRejected,
		PersonaID: personaID,
		Error:     errorMessage,
	}
}

// Fulfilled reports whether the outcome carries a validated answer.
func (o Outcome) Fulfilled() bool { return o.Status == StatusFulfilled }

// Entry is an outcome plus its 1-based rank within a phase.
type Entry struct {
	Outcome  Outcome `json:"outcome"`
	Position int     `json:"phasePosition"`
}

// PhaseBatch is the reduced result of one phase: every targeted persona
// appears exactly once, positions form a contiguous permutation of 1..N.
type PhaseBatch struct {
	Cycle   int     `json:"cycle"`
	Phase   Phase   `json:"phase"`
	Entries []Entry `json:"entries"`
}

// Fulfilled returns the fulfilled outcomes in position order.
func (b PhaseBatch) Fulfilled() []Outcome {
	entries := make([]Entry, len(b.Entries))
	copy(entries, b.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })

	var out []Outcome
	for _, e := range entries {
		if e.Outcome.Fulfilled() {
			out = append(out, e.Outcome)
		}
	}
	return out
}

// SelectBest returns the fulfilled entry with the maximum confidence score,
// ties broken by earliest position. Returns nil when the batch holds no
// fulfilled entries.
func SelectBest(b PhaseBatch) *Outcome {
	var best *Entry
	for i := range b.Entries {
		e := &b.Entries[i]
		if !e.Outcome.Fulfilled() {
			continue
		}
		if best == nil ||
			e.Outcome.ConfidenceScore > best.Outcome.ConfidenceScore ||
			(e.Outcome.ConfidenceScore == best.Outcome.ConfidenceScore && e.Position < best.Position) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	out := best.Outcome
	return &out
}
