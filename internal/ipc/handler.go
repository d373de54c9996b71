// Package ipc provides the HTTP API of the dialogue server.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/session"
)

// DefaultPollInterval is how often the SSE stream checks for new events.
const DefaultPollInterval = 2 * time.Second

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Sessions      *session.Manager
	DefaultDomain string
	Logger        *zap.Logger
	PollInterval  time.Duration
	Version       string
}

// CreateSessionRequest is the body for POST /api/v1/session.
type CreateSessionRequest struct {
	Domain string `json:"domain"`
}

// TurnRequest is the body for POST /api/v1/session/{id}/turn.
type TurnRequest struct {
	Utterance string `json:"utterance"`
}

// ControlRequest is the body for POST /api/v1/session/{id}/control.
type ControlRequest struct {
	Action string `json:"action"`
}

// Output is one system utterance of a turn.
type Output struct {
	Text     string          `json:"text"`
	MoveType domain.MoveType `json:"move_type"`
}

// TurnResponse is the response for a processed turn.
type TurnResponse struct {
	Session     domain.Session    `json:"session"`
	Interpreted []domain.MoveType `json:"interpreted"`
	Outputs     []Output          `json:"outputs"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version,omitempty"`
	Domains []string `json:"domains"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newTurnResponse(out *session.TurnOutcome) TurnResponse {
	resp := TurnResponse{
		Session:     out.Session,
		Interpreted: []domain.MoveType{},
		Outputs:     []Output{},
	}
	for _, m := range out.Result.Interpreted {
		resp.Interpreted = append(resp.Interpreted, m.Type)
	}
	for _, u := range out.Result.Outputs {
		resp.Outputs = append(resp.Outputs, Output{Text: u.Text, MoveType: u.Move.Type})
	}
	return resp
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.Version, Domains: h.Sessions.Domains()})
}

// CreateSession handles POST /api/v1/session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
			return
		}
	}
	if req.Domain == "" {
		req.Domain = h.DefaultDomain
	}
	if req.Domain == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "domain is required"})
		return
	}

	s, err := h.Sessions.Start(r.Context(), req.Domain)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// ListSessions handles GET /api/v1/session?status=S.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.List(r.Context(), domain.DialogueStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/session/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetState handles GET /api/v1/session/{id}/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.Sessions.State(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Turn handles POST /api/v1/session/{id}/turn.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	out, err := h.Sessions.Turn(r.Context(), r.PathValue("id"), req.Utterance)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTurnResponse(out))
}

// Control handles POST /api/v1/session/{id}/control.
func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "action is required"})
		return
	}

	to, err := session.ResolveAction(req.Action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	s, err := h.Sessions.Transition(r.Context(), r.PathValue("id"), to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListEvents handles GET /api/v1/session/{id}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Sessions.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	events, err := h.Sessions.Events(r.Context(), id, sinceSeq)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.DialogueEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListTraces handles GET /api/v1/session/{id}/trace?turn=N.
func (h *Handler) ListTraces(w http.ResponseWriter, r *http.Request) {
	turn := 0
	if s := r.URL.Query().Get("turn"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "turn must be an integer"})
			return
		}
		turn = parsed
	}
	traces, err := h.Sessions.Traces(r.Context(), r.PathValue("id"), turn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if traces == nil {
		traces = []domain.RuleTrace{}
	}
	writeJSON(w, http.StatusOK, traces)
}

// StreamEvents handles GET /api/v1/session/{id}/events/stream (SSE).
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}
	if _, err := h.Sessions.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			lastSeq = parsed
		}
	}

	// Send initial batch of events.
	events, err := h.Sessions.Events(r.Context(), id, lastSeq)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	for _, ev := range events {
		writeSSEEvent(w, flusher, ev)
		lastSeq = ev.SeqNo
	}
	flusher.Flush()

	interval := h.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx := r.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newEvents, err := h.Sessions.Events(ctx, id, lastSeq)
			if err != nil {
				return
			}
			for _, ev := range newEvents {
				writeSSEEvent(w, flusher, ev)
				lastSeq = ev.SeqNo
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an engine error code to an HTTP status.
func statusFor(code int) int {
	switch code {
	case domain.ErrSessionNotFound.Code, domain.ErrUnknownDomain.Code:
		return http.StatusNotFound
	case domain.ErrDuplicateSession.Code, domain.ErrOptimisticLock.Code,
		domain.ErrSessionEnded.Code, domain.ErrSessionPaused.Code:
		return http.StatusConflict
	case domain.ErrRateLimitExceeded.Code:
		return http.StatusTooManyRequests
	case domain.ErrEmptyUtterance.Code:
		return http.StatusBadRequest
	case domain.ErrInvalidTransition.Code, domain.ErrMaxTurnsExceeded.Code:
		return http.StatusUnprocessableEntity
	case domain.ErrInterpreter.Code, domain.ErrGenerator.Code:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := statusFor(engErr.Code)
		if status >= 500 {
			h.logger().Error("request failed", zap.Error(err))
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	h.logger().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.DialogueEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SeqNo, ev.EventType, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
