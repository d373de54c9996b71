package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/guard"
	"github.com/ibdm-lab/isu-engine/internal/session"
	"github.com/ibdm-lab/isu-engine/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr, err := session.NewManager(db, session.Config{
		Guard:  guard.NewGuard(guard.GuardConfig{MaxTurns: 50, RateLimitPerMinute: 1000}),
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}

	return &Handler{
		Sessions:      mgr,
		DefaultDomain: "nda",
		Logger:        zaptest.NewLogger(t),
		PollInterval:  10 * time.Millisecond,
		Version:       "test",
	}
}

func createSession(t *testing.T, h *Handler, body string) domain.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.CreateSession(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var s domain.Session
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return s
}

func postTurn(t *testing.T, h *Handler, id, utterance string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(TurnRequest{Utterance: utterance})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/"+id+"/turn", bytes.NewReader(body))
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	h.Turn(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp HealthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if w.Code != http.StatusOK || resp.Status != "ok" {
		t.Fatalf("health = %d %+v", w.Code, resp)
	}
	if len(resp.Domains) != 2 || resp.Domains[0] != "nda" || resp.Domains[1] != "travel" {
		t.Errorf("domains = %v", resp.Domains)
	}
}

func TestCreateSession(t *testing.T) {
	h := newTestHandler(t)

	s := createSession(t, h, `{"domain":"travel"}`)
	if s.DomainName != "travel" || s.Status != domain.DialogueActive || s.SessionID == "" {
		t.Errorf("created = %+v", s)
	}

	s = createSession(t, h, "")
	if s.DomainName != "nda" {
		t.Errorf("default domain = %q, want nda", s.DomainName)
	}
}

func TestCreateSession_Errors(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	h.CreateSession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: expected 400, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/session", bytes.NewBufferString(`{"domain":"weather"}`))
	w = httptest.NewRecorder()
	h.CreateSession(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown domain: expected 404, got %d", w.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/nope", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()

	h.GetSession(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var apiErr APIError
	json.NewDecoder(w.Body).Decode(&apiErr)
	if apiErr.Code != domain.ErrSessionNotFound.Code {
		t.Errorf("code = %d", apiErr.Code)
	}
}

func TestTurn_Success(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")

	w := postTurn(t, h, s.SessionID, "Hello, I need to draft an NDA")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp TurnResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Outputs) != 2 || resp.Outputs[1].Text != "Which parties are entering into this NDA?" {
		t.Fatalf("outputs = %+v", resp.Outputs)
	}
	if resp.Outputs[1].MoveType != domain.MoveAsk {
		t.Errorf("second output move = %s", resp.Outputs[1].MoveType)
	}
	if resp.Session.Turn != 1 {
		t.Errorf("turn = %d", resp.Session.Turn)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+s.SessionID+"/state", nil)
	req.SetPathValue("id", s.SessionID)
	sw := httptest.NewRecorder()
	h.GetState(sw, req)
	if sw.Code != http.StatusOK || !strings.Contains(sw.Body.String(), "legal_entities") {
		t.Errorf("state = %d %s", sw.Code, sw.Body.String())
	}
}

func TestTurn_Errors(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")

	if w := postTurn(t, h, s.SessionID, "  "); w.Code != http.StatusBadRequest {
		t.Errorf("empty utterance: expected 400, got %d", w.Code)
	}
	if w := postTurn(t, h, "missing", "hello"); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", w.Code)
	}
}

func TestControl(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")

	control := func(action string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session/"+s.SessionID+"/control",
			bytes.NewBufferString(`{"action":"`+action+`"}`))
		req.SetPathValue("id", s.SessionID)
		w := httptest.NewRecorder()
		h.Control(w, req)
		return w
	}

	if w := control("pause"); w.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", w.Code, w.Body.String())
	}
	if w := postTurn(t, h, s.SessionID, "hello"); w.Code != http.StatusConflict {
		t.Errorf("turn while paused: expected 409, got %d", w.Code)
	}
	if w := control("dance"); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown action: expected 422, got %d", w.Code)
	}
	if w := control("end"); w.Code != http.StatusOK {
		t.Fatalf("end: %d", w.Code)
	}
	if w := control("resume"); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("resume after end: expected 422, got %d", w.Code)
	}
}

func TestListEvents_SinceSeq(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")
	postTurn(t, h, s.SessionID, "hello")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+s.SessionID+"/events?since_seq=1", nil)
	req.SetPathValue("id", s.SessionID)
	w := httptest.NewRecorder()

	h.ListEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []domain.DialogueEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 || events[0].EventType != domain.EventUserUtterance {
		t.Errorf("events = %+v", events)
	}
}

func TestListTraces(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")
	postTurn(t, h, s.SessionID, "hello")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+s.SessionID+"/trace?turn=1", nil)
	req.SetPathValue("id", s.SessionID)
	w := httptest.NewRecorder()
	h.ListTraces(w, req)

	var traces []domain.RuleTrace
	json.NewDecoder(w.Body).Decode(&traces)
	if w.Code != http.StatusOK || len(traces) == 0 {
		t.Fatalf("traces = %d %+v", w.Code, traces)
	}
	if traces[0].Rule != "interpret_greet" {
		t.Errorf("first rule = %s", traces[0].Rule)
	}
}

func TestStreamEvents_SSE_FirstBatch(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")

	// Use a cancellable context so the SSE handler returns.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+s.SessionID+"/events/stream", nil).WithContext(ctx)
	req.SetPathValue("id", s.SessionID)
	w := httptest.NewRecorder()

	h.StreamEvents(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "event: session_started") {
		t.Errorf("expected session_started in stream, got %q", w.Body.String())
	}
}

func TestWebSocket_TurnAndPing(t *testing.T) {
	h := newTestHandler(t)
	s := createSession(t, h, "")
	ts := httptest.NewServer(NewServer(h, ":0").Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/session/" + s.SessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: MsgPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != MsgPong {
		t.Fatalf("ping reply = %+v, %v", msg, err)
	}

	if err := conn.WriteJSON(WSMessage{Type: MsgTurn, Utterance: "I need to draft an NDA"}); err != nil {
		t.Fatalf("write turn: %v", err)
	}
	msg = WSMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if msg.Type != MsgReply || msg.Reply == nil || len(msg.Reply.Outputs) != 1 {
		t.Fatalf("turn reply = %+v", msg)
	}
	if msg.Reply.Outputs[0].Text != "Which parties are entering into this NDA?" {
		t.Errorf("reply text = %q", msg.Reply.Outputs[0].Text)
	}

	if err := conn.WriteJSON(WSMessage{Type: MsgTurn}); err != nil {
		t.Fatalf("write empty turn: %v", err)
	}
	msg = WSMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if msg.Type != MsgError || msg.Error == nil || msg.Error.Code != domain.ErrEmptyUtterance.Code {
		t.Errorf("empty turn reply = %+v", msg)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func TestWebSocket_UnknownSession(t *testing.T) {
	h := newTestHandler(t)
	ts := httptest.NewServer(NewServer(h, ":0").Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/session/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 handshake response, got %+v", resp)
	}
}

func TestCORSHeaders(t *testing.T) {
	h := newTestHandler(t)
	srv := NewServer(h, ":0")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/session/t1", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS origin *")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", w.Code)
	}
}
