// Package session runs persistent dialogues: it creates sessions, executes
// turns against the dialogue engine, and records every turn in one
// transaction.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/engine"
	"github.com/ibdm-lab/isu-engine/internal/guard"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
	"github.com/ibdm-lab/isu-engine/internal/store"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

// DefaultCacheSize is the number of live states kept in memory.
const DefaultCacheSize = 256

// UserSpeaker is the speaker id recorded for incoming utterances.
const UserSpeaker = "user"

// Config configures a Manager.
type Config struct {
	// Domains resolves a session's domain name; nil means the built-ins.
	Domains *taskdomain.Registry
	// Engine is the template for every per-domain engine. Its Domain field is
	// ignored.
	Engine    engine.Config
	Guard     *guard.Guard
	CacheSize int
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Manager owns sessions stored in a SQLite database.
type Manager struct {
	DB           *sql.DB
	SessionRepo  *store.SessionRepo
	EventRepo    *store.EventRepo
	SnapshotRepo *store.SnapshotRepo
	TraceRepo    *store.TraceRepo
	Guard        *guard.Guard

	domains  *taskdomain.Registry
	template engine.Config
	cache    *lru.Cache[string, *infostate.InformationState]
	logger   *zap.Logger
	clock    func() time.Time

	mu      sync.Mutex
	engines map[string]*engine.Engine
	locks   map[string]*sessionLock
}

// sessionLock serializes turns on one session. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// TurnOutcome is the result of one persisted turn.
type TurnOutcome struct {
	Session domain.Session
	Result  *engine.TurnResult
}

// Texts returns the system utterances of the turn.
func (o *TurnOutcome) Texts() []string {
	out := make([]string, len(o.Result.Outputs))
	for i, u := range o.Result.Outputs {
		out[i] = u.Text
	}
	return out
}

// NewManager creates a Manager over db.
func NewManager(db *sql.DB, cfg Config) (*Manager, error) {
	if cfg.Domains == nil {
		cfg.Domains = taskdomain.DefaultRegistry()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.NewGuard(guard.GuardConfig{})
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger.Named("engine")
	}
	if cfg.Engine.Clock == nil {
		cfg.Engine.Clock = cfg.Clock
	}
	cache, err := lru.New[string, *infostate.InformationState](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create state cache: %w", err)
	}
	return &Manager{
		DB:           db,
		SessionRepo:  &store.SessionRepo{},
		EventRepo:    &store.EventRepo{},
		SnapshotRepo: &store.SnapshotRepo{},
		TraceRepo:    &store.TraceRepo{},
		Guard:        cfg.Guard,
		domains:      cfg.Domains,
		template:     cfg.Engine,
		cache:        cache,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		engines:      make(map[string]*engine.Engine),
		locks:        make(map[string]*sessionLock),
	}, nil
}

// Domains lists the domain names sessions can be started in.
func (m *Manager) Domains() []string {
	return m.domains.List()
}

// EngineFor returns the engine serving domainName, building it on first use.
func (m *Manager) EngineFor(domainName string) (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[domainName]; ok {
		return e, nil
	}
	model, err := m.domains.Get(domainName)
	if err != nil {
		return nil, err
	}
	cfg := m.template
	cfg.Domain = model
	e, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create engine for %s: %w", domainName, err)
	}
	m.engines[domainName] = e
	return e, nil
}

// Start creates an active session in domainName with a fresh information
// state. The session_started event takes sequence number 1.
func (m *Manager) Start(ctx context.Context, domainName string) (*domain.Session, error) {
	eng, err := m.EngineFor(domainName)
	if err != nil {
		return nil, err
	}
	st := eng.InitialState()
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	now := m.clock().Unix()
	s := domain.Session{
		SessionID:     uuid.NewString(),
		AgentID:       eng.AgentID,
		DomainName:    domainName,
		Status:        domain.DialogueActive,
		StateVersion:  1,
		LastEventSeq:  1,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.SessionRepo.CreateTx(ctx, tx, s); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]string{"domain": domainName, "agent_id": s.AgentID})
	event := domain.DialogueEvent{
		SessionID:   s.SessionID,
		SeqNo:       1,
		EventType:   domain.EventSessionStarted,
		Speaker:     s.AgentID,
		PayloadJSON: string(payload),
		CreatedAt:   now,
	}
	if err := m.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("append start event: %w", err)
	}
	snap := domain.StateSnapshot{SessionID: s.SessionID, StateJSON: string(stateJSON), CreatedAt: now}
	if err := m.SnapshotRepo.SaveTx(ctx, tx, snap); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	m.cache.Add(s.SessionID, st)
	m.logger.Info("session started", zap.String("session_id", s.SessionID), zap.String("domain", domainName))
	return &s, nil
}

// Turn runs one user utterance through the session's engine and persists the
// result. Events, the new snapshot, the rule traces and the session header
// are written in a single transaction guarded by the session's state
// version. A dialogue that ends during the turn ends the session.
func (m *Manager) Turn(ctx context.Context, sessionID, utterance string) (*TurnOutcome, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, domain.ErrEmptyUtterance
	}

	unlock := m.lock(sessionID)
	defer unlock()

	s, err := m.SessionRepo.GetByID(ctx, m.DB, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkTurnable(s); err != nil {
		return nil, err
	}
	if err := m.Guard.CheckAll(*s); err != nil {
		return nil, err
	}

	eng, err := m.EngineFor(s.DomainName)
	if err != nil {
		return nil, err
	}
	st, err := m.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res, err := eng.ProcessInput(ctx, utterance, UserSpeaker, st)
	if err != nil {
		return nil, fmt.Errorf("process turn: %w", err)
	}

	updated, err := m.commitTurn(ctx, *s, utterance, res)
	if err != nil {
		if errors.Is(err, domain.ErrOptimisticLock) {
			m.cache.Remove(sessionID)
		}
		return nil, err
	}

	if updated.Status == domain.DialogueEnded {
		m.cache.Remove(sessionID)
		m.Guard.Forget(sessionID)
	} else {
		m.cache.Add(sessionID, res.State)
	}

	m.logger.Debug("turn committed",
		zap.String("session_id", sessionID),
		zap.Int("turn", updated.Turn),
		zap.Int("outputs", len(res.Outputs)),
		zap.Int("rules_fired", len(res.Trace)),
	)
	return &TurnOutcome{Session: updated, Result: res}, nil
}

type utterancePayload struct {
	Text  string   `json:"text"`
	Moves []string `json:"moves,omitempty"`
}

type statusPayload struct {
	From   domain.DialogueStatus `json:"from"`
	To     domain.DialogueStatus `json:"to"`
	Reason string                `json:"reason,omitempty"`
}

func (m *Manager) commitTurn(ctx context.Context, s domain.Session, utterance string, res *engine.TurnResult) (domain.Session, error) {
	stateJSON, err := json.Marshal(res.State)
	if err != nil {
		return s, fmt.Errorf("encode state: %w", err)
	}

	now := m.clock().Unix()
	turn := s.Turn + 1
	seq := s.LastEventSeq
	var events []domain.DialogueEvent
	appendEvent := func(eventType, speaker string, payload any) {
		data, _ := json.Marshal(payload)
		seq++
		events = append(events, domain.DialogueEvent{
			SessionID:   s.SessionID,
			SeqNo:       seq,
			Turn:        turn,
			EventType:   eventType,
			Speaker:     speaker,
			PayloadJSON: string(data),
			CreatedAt:   now,
		})
	}

	in := utterancePayload{Text: utterance}
	for _, mv := range res.Interpreted {
		in.Moves = append(in.Moves, string(mv.Type))
	}
	appendEvent(domain.EventUserUtterance, UserSpeaker, in)
	for _, out := range res.Outputs {
		appendEvent(domain.EventSystemUtterance, s.AgentID, utterancePayload{Text: out.Text, Moves: []string{string(out.Move.Type)}})
	}

	updated := s
	if res.State.Control.DialogueState == domain.DialogueEnded {
		updated.Status = domain.DialogueEnded
		appendEvent(domain.EventStatusChanged, s.AgentID, statusPayload{From: s.Status, To: domain.DialogueEnded, Reason: "dialogue ended"})
	}
	updated.Turn = turn
	updated.LastEventSeq = seq
	updated.UpdatedAtUnix = now

	traces := make([]domain.RuleTrace, len(res.Trace))
	for i, f := range res.Trace {
		traces[i] = domain.RuleTrace{SessionID: s.SessionID, Turn: turn, Seq: i, Phase: f.Phase, Rule: f.Rule, CreatedAt: now}
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// The version check runs first so a stale turn fails as a lock conflict.
	if err := m.SessionRepo.UpdateTx(ctx, tx, updated); err != nil {
		return s, err
	}
	for _, ev := range events {
		if err := m.EventRepo.AppendTx(ctx, tx, ev); err != nil {
			return s, err
		}
	}
	snap := domain.StateSnapshot{SessionID: s.SessionID, Turn: turn, StateJSON: string(stateJSON), CreatedAt: now}
	if err := m.SnapshotRepo.SaveTx(ctx, tx, snap); err != nil {
		return s, err
	}
	if err := m.TraceRepo.SaveTx(ctx, tx, traces); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, fmt.Errorf("commit: %w", err)
	}

	updated.StateVersion++
	return updated, nil
}

// Transition moves a session to status to, recording a status_changed event.
func (m *Manager) Transition(ctx context.Context, sessionID string, to domain.DialogueStatus) (*domain.Session, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	s, err := m.SessionRepo.GetByID(ctx, m.DB, sessionID)
	if err != nil {
		return nil, err
	}
	if !IsValidTransition(s.Status, to) {
		return nil, domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", s.Status, to),
		)
	}

	now := m.clock().Unix()
	updated := *s
	updated.Status = to
	updated.LastEventSeq = s.LastEventSeq + 1
	updated.UpdatedAtUnix = now

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payload, _ := json.Marshal(statusPayload{From: s.Status, To: to})
	event := domain.DialogueEvent{
		SessionID:   sessionID,
		SeqNo:       updated.LastEventSeq,
		Turn:        s.Turn,
		EventType:   domain.EventStatusChanged,
		Speaker:     s.AgentID,
		PayloadJSON: string(payload),
		CreatedAt:   now,
	}
	if err := m.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := m.SessionRepo.UpdateTx(ctx, tx, updated); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if to == domain.DialogueEnded {
		m.cache.Remove(sessionID)
		m.Guard.Forget(sessionID)
	}
	updated.StateVersion++
	m.logger.Info("session status changed",
		zap.String("session_id", sessionID),
		zap.String("from", string(s.Status)),
		zap.String("to", string(to)),
	)
	return &updated, nil
}

// Get returns a session header.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.SessionRepo.GetByID(ctx, m.DB, sessionID)
}

// List returns sessions with the given status, or all sessions when status
// is empty.
func (m *Manager) List(ctx context.Context, status domain.DialogueStatus) ([]domain.Session, error) {
	return m.SessionRepo.List(ctx, m.DB, status)
}

// State returns a copy of the session's current information state.
func (m *Manager) State(ctx context.Context, sessionID string) (*infostate.InformationState, error) {
	if _, err := m.SessionRepo.GetByID(ctx, m.DB, sessionID); err != nil {
		return nil, err
	}
	st, err := m.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Events returns the session's events after sinceSeq.
func (m *Manager) Events(ctx context.Context, sessionID string, sinceSeq int64) ([]domain.DialogueEvent, error) {
	return m.EventRepo.ListBySession(ctx, m.DB, sessionID, sinceSeq)
}

// Traces returns the rule firings of one turn, or of every turn when turn is
// zero.
func (m *Manager) Traces(ctx context.Context, sessionID string, turn int) ([]domain.RuleTrace, error) {
	return m.TraceRepo.ListBySession(ctx, m.DB, sessionID, turn)
}

// loadState returns the cached state or recovers it from the latest
// snapshot after verifying its checksum. The cached value is shared; callers
// must not mutate it.
func (m *Manager) loadState(ctx context.Context, sessionID string) (*infostate.InformationState, error) {
	if st, ok := m.cache.Get(sessionID); ok {
		return st, nil
	}
	snap, err := m.SnapshotRepo.GetLatest(ctx, m.DB, sessionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, domain.NewEngineError(domain.ErrRecoveryFailed.Code, "no snapshot for session "+sessionID)
	}
	if err := store.Verify(snap); err != nil {
		return nil, err
	}
	st, err := infostate.Decode([]byte(snap.StateJSON))
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrRecoveryFailed.Code, "decode snapshot", err)
	}
	m.cache.Add(sessionID, st)
	m.logger.Debug("state recovered from snapshot", zap.String("session_id", sessionID), zap.Int("turn", snap.Turn))
	return st, nil
}

// lock takes the session's lock and returns its release.
func (m *Manager) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

// Evict drops a session's cached state so the next access reads the
// snapshot.
func (m *Manager) Evict(sessionID string) {
	m.cache.Remove(sessionID)
}
