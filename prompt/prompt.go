// Package prompt builds the prompts sent to the model gateway for every
// agent role in a deliberation: the persona analysts, the critique rounds,
// the synthesizer, the clarifier and the stand-alone summarizer. Templates
// are rendered with text/template via the internal renderer.
package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/parley/internal/util"
	"github.com/hupe1980/parley/persona"
)

// PeerAnswer is a fulfilled peer response carried into critique and
// synthesis prompts.
type PeerAnswer struct {
	ResearcherID    string  `json:"researcherId"`
	Answer          string  `json:"answer"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

const confidenceScale = `Confidence Score Guidelines:
  - 5 : Very High Confidence
  - 4 : High Confidence
  - 3 : Moderate Confidence
  - 2 : Low Confidence
  - 1 : Very Low Confidence`

const agentOutputContract = `Respond output ONLY with the following JSON object:
{
  "confidence_score" : NUMBER,
  "answer" : STRING
}`

const initialTemplate = `Here's the history of conversations: {{.Conversation}}
You are acting as {{.Title}}.
Persona brief: {{.Description}}
Focus your analysis on: {{.Focus}}

{{.Scale}}

{{.Contract}}`

// Initial builds the first-phase prompt for one persona over the raw conversation.
func Initial(conversation string, p persona.Persona) (string, error) {
	return util.RenderTemplate(initialTemplate, map[string]any{
		"Conversation": conversation,
		"Title":        p.Title,
		"Description":  p.Description,
		"Focus":        p.Focus,
		"Scale":        confidenceScale,
		"Contract":     agentOutputContract,
	})
}

const critiqueTemplate = `Here's the history of conversations: {{.Conversation}}
You are acting as {{.Title}}.
Persona brief: {{.Description}}
Focus your analysis on: {{.Focus}}

Your peers answered as follows:
{{.Peers}}

Critique the peer responses from your own viewpoint, then give your best
refined answer. Prefer agreement where the evidence supports it and name
disagreements explicitly.

{{.Scale}}

{{.Contract}}`

// Critique builds a feedback/final-phase prompt for one persona. The peer
// list must already exclude the persona's own answer.
func Critique(conversation string, p persona.Persona, peers []PeerAnswer) (string, error) {
	peersText := ""
	for i, peer := range peers {
		if i > 0 {
			peersText += "\n\n"
		}
		peersText += fmt.Sprintf("%q: %q (confidence %.1f)", peer.ResearcherID, peer.Answer, peer.ConfidenceScore)
	}

	return util.RenderTemplate(critiqueTemplate, map[string]any{
		"Conversation": conversation,
		"Title":        p.Title,
		"Description":  p.Description,
		"Focus":        p.Focus,
		"Peers":        peersText,
		"Scale":        confidenceScale,
		"Contract":     agentOutputContract,
	})
}

const synthesisTemplate = `You are the Synthesizer. Several researcher agents analyzed the
conversation below and produced independent answers. Combine them into one
coherent result for cycle {{.Cycle}}.

## Inputs
- Conversation history:
  {{.Conversation}}
- Researcher responses (JSON):
  {{.Responses}}

## Responsibilities
1. Provide a concise summary that reconciles the researcher answers.
2. List up to three highlights, each with a short title and a detail line.
3. Produce exactly ONE follow-up question that would most improve the next
   round, or null when no further round is useful.

## Output Requirements
- Respond strictly as valid, minified JSON. No markdown fences or extra commentary.
- Follow this schema:
  {
    "summary": string,
    "highlights": [{"title": string, "detail": string}],
    "followUpQuestion": string | null
  }`

// Synthesis builds the cross-agent aggregation prompt. Responses are
// serialized as indented JSON so the model sees them the way a reviewer would.
func Synthesis(conversation string, responses []PeerAnswer, cycle int) (string, error) {
	encoded, err := json.MarshalIndent(responses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode researcher responses: %w", err)
	}

	return util.RenderTemplate(synthesisTemplate, map[string]any{
		"Conversation": conversation,
		"Responses":    string(encoded),
		"Cycle":        cycle,
	})
}

const clarifierTemplate = `You are the Synthesizer Clarifier. Your role is to quickly understand the
user's initial question or conversation and respond with a concise follow-up
question that will help guide the researcher agents.

## Inputs
- Conversation history or question:
  {{.Conversation}}

## Responsibilities
1. Provide a one-sentence summary that captures the intent of the conversation.
2. Offer optional mediator notes ONLY if there is important context the user
   should consider before answering. Otherwise return null.
3. Do not create highlights. Return an empty array for highlights.
4. Produce exactly ONE follow-up question that will help the researchers give
   a better answer. Keep it short and specific.

## Output Requirements
- Respond strictly as valid, minified JSON. No markdown fences or extra commentary.
- Use UTF-8 characters only.
- Follow this schema:
  {
    "summary": string,
    "mediatorNotes": string | null,
    "highlights": [],
    "followUpQuestion": string
  }
- Ensure "highlights" is always an empty array.
- Keep "followUpQuestion" focused on clarifying or deepening the original request.`

// Clarifier builds the cycle-0 prompt that summarizes the opening
// conversation and proposes the first follow-up question.
func Clarifier(conversation string) (string, error) {
	return util.RenderTemplate(clarifierTemplate, map[string]any{
		"Conversation": conversation,
	})
}

const summarizerTemplate = `You are an expert research analyst specializing in academic paper summarization.
Your task is to summarize the given input with precision and academic clarity.

Length Control: Produce a summary of approximately 250-300 words.

Input:
{{.Text}}

Respond output ONLY with the following JSON object:
{
  "summary" : STRING
}`

// Summarizer builds the stand-alone summarization prompt.
func Summarizer(text string) (string, error) {
	return util.RenderTemplate(summarizerTemplate, map[string]any{
		"Text": text,
	})
}
