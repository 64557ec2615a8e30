// Package synth implements the synthesizer side of a deliberation: turning a
// cycle's fulfilled researcher responses into a single summary with
// highlights and an optional follow-up question, plus the clarifier and
// summarizer steps that run outside the phase machinery.
package synth
