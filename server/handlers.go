package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hupe1980/parley/engine"
	"github.com/hupe1980/parley/parse"
	"github.com/hupe1980/parley/persona"
	"github.com/hupe1980/parley/prompt"
	"github.com/hupe1980/parley/runner"
	"github.com/hupe1980/parley/synth"
)

type deliberationRequest struct {
	Conversation string   `json:"conversation"`
	PersonaIDs   []string `json:"personaIds,omitempty"`
	Cycle        int      `json:"cycle,omitempty"`
}

type deliberationResponse struct {
	Cycle          int                     `json:"cycle"`
	Batches        []engine.PhaseBatch     `json:"batches"`
	Synthesis      *parse.SynthesisPayload `json:"synthesis,omitempty"`
	SynthesisError string                  `json:"synthesisError,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// decodeDeliberationRequest parses and validates the shared request body of
// the deliberation endpoints. Validation failures are written to w; callers
// must stop when ok is false.
func (s *Server) decodeDeliberationRequest(w http.ResponseWriter, r *http.Request) (deliberationRequest, bool) {
	var req deliberationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}

	if strings.TrimSpace(req.Conversation) == "" {
		writeError(w, http.StatusBadRequest, "conversation must not be empty")
		return req, false
	}

	if req.Cycle < 0 {
		writeError(w, http.StatusBadRequest, "cycle must be a positive integer")
		return req, false
	}

	if len(req.PersonaIDs) > 0 {
		known := s.runner.Catalog().Filter(req.PersonaIDs)
		if len(known) == 0 {
			writeError(w, http.StatusBadRequest, "personaIds contains no known personas")
			return req, false
		}
		req.PersonaIDs = known
	}

	return req, true
}

// handleDeliberationStream runs one cycle and streams its events as
// newline-delimited JSON, one event per line, flushed as they settle.
func (s *Server) handleDeliberationStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDeliberationRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Headers go out with the first event so pre-stream failures can still
	// use a proper error status.
	started := false
	enc := json.NewEncoder(w)
	emit := func(e engine.Event) {
		if !started {
			started = true
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		if err := enc.Encode(e); err != nil {
			s.logger.Warn("stream write failed: %v", err)
			return
		}
		flusher.Flush()
	}

	_, err := s.runner.RunCycle(r.Context(), engine.Request{
		Conversation: req.Conversation,
		PersonaIDs:   req.PersonaIDs,
		Cycle:        req.Cycle,
	}, emit)
	if err != nil {
		if started {
			// The stream is already open; the error becomes its last line.
			emit(engine.NewErrorEvent(err.Error(), req.Cycle))
			return
		}
		s.writeRunError(w, err)
	}
}

// handleDeliberation runs one cycle synchronously and returns every phase
// batch plus the synthesis as a single document.
func (s *Server) handleDeliberation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDeliberationRequest(w, r)
	if !ok {
		return
	}

	state, err := s.runner.RunCycle(r.Context(), engine.Request{
		Conversation: req.Conversation,
		PersonaIDs:   req.PersonaIDs,
		Cycle:        req.Cycle,
	}, nil)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deliberationResponse{
		Cycle:          state.Cycle,
		Batches:        state.Batches,
		Synthesis:      state.Synthesis,
		SynthesisError: state.SynthesisError,
	})
}

const (
	modeSynthesis = "synthesis"
	modeClarify   = "clarify"
)

type synthesisRequest struct {
	Conversation        string              `json:"conversation"`
	ResearcherResponses []prompt.PeerAnswer `json:"researcherResponses"`
	Cycle               *int                `json:"cycle,omitempty"`
	Mode                string              `json:"mode,omitempty"`
}

type synthesisResponse struct {
	Status string                  `json:"status"`
	Cycle  int                     `json:"cycle"`
	Result *parse.SynthesisPayload `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// handleSynthesis condenses supplied researcher responses (mode synthesis)
// or clarifies a raw conversation before any researcher ran (mode clarify).
func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	var req synthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Conversation) == "" {
		writeError(w, http.StatusBadRequest, "conversation must not be empty")
		return
	}

	if req.Cycle != nil && *req.Cycle <= 0 {
		writeError(w, http.StatusBadRequest, "cycle must be a positive integer")
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = modeSynthesis
	}

	var (
		cycle   int
		payload parse.SynthesisPayload
		err     error
	)

	switch mode {
	case modeSynthesis:
		cycle = 1
		if req.Cycle != nil {
			cycle = *req.Cycle
		}
		payload, err = s.synthesizer.Synthesize(r.Context(), req.Conversation, req.ResearcherResponses, cycle)
	case modeClarify:
		cycle = 0
		if req.Cycle != nil {
			cycle = *req.Cycle
		}
		payload, err = s.synthesizer.Clarify(r.Context(), req.Conversation)
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"synthesis\" or \"clarify\"")
		return
	}

	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, synth.ErrNoResponses) || errors.Is(err, synth.ErrMalformedResponse) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, synthesisResponse{Status: "rejected", Cycle: cycle, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, synthesisResponse{Status: "fulfilled", Cycle: cycle, Result: &payload})
}

type personasResponse struct {
	Personas []persona.Persona `json:"personas"`
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, personasResponse{Personas: s.runner.Catalog().List()})
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	summary, err := s.synthesizer.Summarize(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summarizeResponse{Summary: summary})
}

// writeRunError maps runner and orchestrator failures onto HTTP statuses.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var unknown *persona.ErrUnknownPersona

	switch {
	case errors.Is(err, runner.ErrDuplicateRun):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrCycleOutOfRange),
		errors.Is(err, engine.ErrEmptyConversation),
		errors.As(err, &unknown):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("deliberation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "deliberation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
