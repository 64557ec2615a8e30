package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// AgentPayload is the validated shape of a persona answer.
type AgentPayload struct {
	Answer          string  `json:"answer"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Highlight is a single titled finding within a synthesis.
type Highlight struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// SynthesisPayload is the validated shape of a synthesizer or clarifier answer.
type SynthesisPayload struct {
	Summary          string      `json:"summary"`
	Highlights       []Highlight `json:"highlights"`
	FollowUpQuestion string      `json:"followUpQuestion"`
	MediatorNotes    string      `json:"mediatorNotes,omitempty"`
}

// maxHighlights bounds how many highlights a synthesis carries forward.
const maxHighlights = 3

// Error is a typed parse failure carrying the source identifier (a persona
// id or "synthesizer") and the original raw text for diagnostics.
type Error struct {
	Source  string
	RawText string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("failed to parse %s response: %v\nRaw text: %s", e.Source, e.Err, e.RawText)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

var (
	openingFence = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	closingFence = regexp.MustCompile("\\s*```$")
)

// StripFence removes a markdown code fence wrapping the whole trimmed text.
// Text that is not fully fenced is returned trimmed but otherwise untouched.
func StripFence(input string) string {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "```") && strings.HasSuffix(trimmed, "```") {
		trimmed = openingFence.ReplaceAllString(trimmed, "")
		trimmed = closingFence.ReplaceAllString(trimmed, "")
		return strings.TrimSpace(trimmed)
	}

	return trimmed
}

// Agent parses a persona answer of the form
// {"confidence_score": NUMBER, "answer": STRING}. One repair pass re-escapes
// the answer value when the strict parse fails.
func Agent(raw, personaID string) (AgentPayload, error) {
	normalized := StripFence(raw)

	payload, err := decodeAgent(normalized)
	if err == nil {
		return payload, nil
	}

	repaired := repairAnswerValue(normalized)
	if repaired != normalized {
		if payload, repairErr := decodeAgent(repaired); repairErr == nil {
			return payload, nil
		}
	}

	return AgentPayload{}, &Error{Source: personaID, RawText: raw, Err: err}
}

func decodeAgent(input string) (AgentPayload, error) {
	if !gjson.Valid(input) {
		return AgentPayload{}, fmt.Errorf("invalid JSON")
	}

	doc := gjson.Parse(input)

	answer := doc.Get("answer")
	score := doc.Get("confidence_score")
	if !answer.Exists() || !score.Exists() {
		return AgentPayload{}, fmt.Errorf("response must contain `answer` and `confidence_score`")
	}

	if answer.Type != gjson.String {
		return AgentPayload{}, fmt.Errorf("`answer` must be a string")
	}
	if strings.TrimSpace(answer.Str) == "" {
		return AgentPayload{}, fmt.Errorf("`answer` must be a non-empty string")
	}

	confidence, err := coerceNumber(score)
	if err != nil {
		return AgentPayload{}, fmt.Errorf("`confidence_score` must be a finite number")
	}

	return AgentPayload{Answer: answer.Str, ConfidenceScore: confidence}, nil
}

// coerceNumber accepts JSON numbers and numeric-looking strings.
func coerceNumber(r gjson.Result) (float64, error) {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, err
		}
		v = parsed
	default:
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return v, nil
}

// repairAnswerValue re-escapes the span of the `answer` value (from its key
// through the final quote in the text) as a safe JSON string literal, leaving
// the rest of the text untouched. Returns the input unchanged when the span
// cannot be located.
func repairAnswerValue(input string) string {
	keyIdx := strings.Index(input, `"answer"`)
	if keyIdx == -1 {
		return input
	}

	colonIdx := strings.Index(input[keyIdx:], ":")
	if colonIdx == -1 {
		return input
	}
	colonIdx += keyIdx

	valueStart := strings.Index(input[colonIdx:], `"`)
	if valueStart == -1 {
		return input
	}
	valueStart += colonIdx

	valueEnd := strings.LastIndex(input, `"`)
	if valueEnd <= valueStart {
		return input
	}

	sanitized, err := json.Marshal(input[valueStart+1 : valueEnd])
	if err != nil {
		return input
	}

	return input[:valueStart] + string(sanitized) + input[valueEnd+1:]
}

// Synthesis parses a synthesizer/clarifier answer of the form
// {"summary": STRING, "highlights": [...], "followUpQuestion": STRING|null}.
// One repair pass handles unescaped inner quotes or a missing highlight
// boundary before the typed error is returned.
func Synthesis(raw, source string) (SynthesisPayload, error) {
	normalized := StripFence(raw)

	payload, err := decodeSynthesis(normalized)
	if err == nil {
		return payload, nil
	}

	repaired := repairSynthesisText(normalized)
	if repaired != normalized {
		if payload, repairErr := decodeSynthesis(repaired); repairErr == nil {
			return payload, nil
		}
	}

	return SynthesisPayload{}, &Error{Source: source, RawText: raw, Err: err}
}

func decodeSynthesis(input string) (SynthesisPayload, error) {
	if !gjson.Valid(input) {
		return SynthesisPayload{}, fmt.Errorf("invalid JSON")
	}

	doc := gjson.Parse(input)

	summary := doc.Get("summary")
	if summary.Type != gjson.String || strings.TrimSpace(summary.Str) == "" {
		return SynthesisPayload{}, fmt.Errorf("`summary` must be a non-empty string")
	}

	out := SynthesisPayload{Summary: summary.Str, Highlights: []Highlight{}}

	if highlights := doc.Get("highlights"); highlights.IsArray() {
		for i, entry := range highlights.Array() {
			if len(out.Highlights) == maxHighlights {
				break
			}
			title := entry.Get("title")
			detail := entry.Get("detail")
			if title.Type != gjson.String || detail.Type != gjson.String {
				return SynthesisPayload{}, fmt.Errorf("highlight at index %d is invalid", i)
			}
			out.Highlights = append(out.Highlights, Highlight{Title: title.Str, Detail: detail.Str})
		}
	}

	followUp := doc.Get("followUpQuestion")
	switch {
	case !followUp.Exists() || followUp.Type == gjson.Null:
		out.FollowUpQuestion = ""
	case followUp.Type == gjson.String:
		out.FollowUpQuestion = followUp.Str
	default:
		return SynthesisPayload{}, fmt.Errorf("`followUpQuestion` must be a string or null")
	}

	if notes := doc.Get("mediatorNotes"); notes.Type == gjson.String {
		out.MediatorNotes = notes.Str
	}

	return out, nil
}

var detailBoundary = regexp.MustCompile(`("detail"\s*:\s*"[^"]*")\s*,\s*{`)

// repairSynthesisText applies one of two bounded repairs: escaping unescaped
// quotes that sit inside string values, or inserting the object boundary a
// model dropped between consecutive highlight entries.
func repairSynthesisText(input string) string {
	escaped := escapeInnerQuotes(input)
	if escaped != input {
		return escaped
	}

	return detailBoundary.ReplaceAllString(input, "$1 }, {")
}

// escapeInnerQuotes walks the text character by character and escapes any
// unescaped quote that is not immediately followed (after whitespace) by a
// structural delimiter, treating it as data rather than a string terminator.
func escapeInnerQuotes(input string) string {
	insideString := false
	var b strings.Builder
	b.Grow(len(input))

	for i := 0; i < len(input); i++ {
		ch := input[i]

		if ch == '"' && (i == 0 || input[i-1] != '\\') {
			if !insideString {
				insideString = true
				b.WriteByte(ch)
				continue
			}

			next := nextNonWhitespace(input, i+1)
			if next != 0 && next != ',' && next != ':' && next != '}' && next != ']' && next != '\n' && next != '\r' {
				b.WriteString(`\"`)
				continue
			}

			insideString = false
			b.WriteByte(ch)
			continue
		}

		b.WriteByte(ch)
	}

	return b.String()
}

// nextNonWhitespace returns the first non-whitespace byte at or after start,
// or 0 when none remains.
func nextNonWhitespace(input string, start int) byte {
	for i := start; i < len(input); i++ {
		switch input[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return input[i]
		}
	}
	return 0
}
