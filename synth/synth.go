package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/parse"
	"github.com/hupe1980/parley/prompt"
)

// ErrNoResponses is returned by Synthesize when it is handed an empty
// response set. Validation happens before any model traffic.
var ErrNoResponses = errors.New("researcherResponses must be a non-empty array")

// ErrMalformedResponse is returned by Synthesize when a response is missing
// its researcher id or answer.
var ErrMalformedResponse = errors.New("researcher response missing researcherId or answer")

// SynthesizerOptions configures a Synthesizer.
type SynthesizerOptions struct {
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Synthesizer condenses a set of researcher responses into a single
// synthesis payload. It also hosts the clarifier and summarizer steps,
// which share the gateway but not the response-set requirement.
type Synthesizer struct {
	gateway model.Gateway
	logger  logging.Logger
}

// NewSynthesizer constructs a Synthesizer backed by the given gateway.
func NewSynthesizer(gateway model.Gateway, optFns ...func(o *SynthesizerOptions)) *Synthesizer {
	opts := SynthesizerOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Synthesizer{
		gateway: gateway,
		logger:  opts.Logger,
	}
}

// Synthesize runs the synthesis prompt over the fulfilled responses of a
// cycle. The response set must be non-empty; this is checked before the
// gateway is touched so a degenerate cycle never burns a model call.
func (s *Synthesizer) Synthesize(ctx context.Context, conversation string, responses []prompt.PeerAnswer, cycle int) (parse.SynthesisPayload, error) {
	if len(responses) == 0 {
		return parse.SynthesisPayload{}, ErrNoResponses
	}

	for _, r := range responses {
		if strings.TrimSpace(r.ResearcherID) == "" || strings.TrimSpace(r.Answer) == "" {
			return parse.SynthesisPayload{}, ErrMalformedResponse
		}
	}

	p, err := prompt.Synthesis(conversation, responses, cycle)
	if err != nil {
		return parse.SynthesisPayload{}, fmt.Errorf("failed to build synthesis prompt: %w", err)
	}

	raw, err := s.gateway.Generate(ctx, p)
	if err != nil {
		return parse.SynthesisPayload{}, fmt.Errorf("synthesis model call failed: %w", err)
	}

	payload, err := parse.Synthesis(raw, "synthesis")
	if err != nil {
		return parse.SynthesisPayload{}, err
	}

	s.logger.Debug("synthesis settled cycle=%d highlights=%d followUp=%t",
		cycle, len(payload.Highlights), payload.FollowUpQuestion != "")

	return payload, nil
}

// Clarify runs the clarifier over a raw conversation, before any researcher
// has been invoked. It needs no prior responses.
func (s *Synthesizer) Clarify(ctx context.Context, conversation string) (parse.SynthesisPayload, error) {
	p, err := prompt.Clarifier(conversation)
	if err != nil {
		return parse.SynthesisPayload{}, fmt.Errorf("failed to build clarifier prompt: %w", err)
	}

	raw, err := s.gateway.Generate(ctx, p)
	if err != nil {
		return parse.SynthesisPayload{}, fmt.Errorf("clarifier model call failed: %w", err)
	}

	return parse.Synthesis(raw, "clarifier")
}

// Summarize condenses arbitrary text with the summarizer persona. The output
// is free-form prose, not a structured payload.
func (s *Synthesizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text must not be empty")
	}

	p, err := prompt.Summarizer(text)
	if err != nil {
		return "", fmt.Errorf("failed to build summarizer prompt: %w", err)
	}

	raw, err := s.gateway.Generate(ctx, p)
	if err != nil {
		return "", fmt.Errorf("summarizer model call failed: %w", err)
	}

	// The prompt asks for {"summary": STRING}; models occasionally reply
	// with bare prose, which is accepted as-is.
	normalized := parse.StripFence(raw)
	if gjson.Valid(normalized) {
		summary := gjson.Get(normalized, "summary")
		if summary.Type != gjson.String || strings.TrimSpace(summary.Str) == "" {
			return "", errors.New("summarizer returned no usable summary")
		}
		return summary.Str, nil
	}

	return strings.TrimSpace(normalized), nil
}
