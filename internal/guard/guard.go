// Package guard enforces per-session turn limits before a turn reaches the
// dialogue engine.
package guard

import (
	"sync"
	"time"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// GuardConfig holds rate and turn limits. Zero disables a limit.
type GuardConfig struct {
	MaxTurns           int
	RateLimitPerMinute int
}

// Guard coordinates rate and turn checks.
type Guard struct {
	Config GuardConfig
	// Now is the clock used for the rate window; nil means time.Now.
	Now func() time.Time

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
}

type rateBucket struct {
	count       int
	windowStart int64
}

// NewGuard creates a Guard with the given limits.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{
		Config:     cfg,
		rateCounts: make(map[string]*rateBucket),
	}
}

// CheckAll runs the turn check then the rate limit, short-circuiting on the
// first error. A turn refused by the turn limit does not consume rate budget.
func (g *Guard) CheckAll(s domain.Session) error {
	if err := g.CheckTurns(s); err != nil {
		return err
	}
	return g.CheckRateLimit(s.SessionID)
}

// CheckRateLimit enforces a per-session fixed window of 60 seconds. If the
// count reaches the configured limit, ErrRateLimitExceeded is returned.
func (g *Guard) CheckRateLimit(sessionID string) error {
	if g.Config.RateLimitPerMinute <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().Unix()
	bucket, ok := g.rateCounts[sessionID]
	if !ok {
		g.rateCounts[sessionID] = &rateBucket{count: 1, windowStart: now}
		return nil
	}

	if now-bucket.windowStart >= 60 {
		bucket.count = 1
		bucket.windowStart = now
		return nil
	}

	if bucket.count >= g.Config.RateLimitPerMinute {
		return domain.ErrRateLimitExceeded
	}

	bucket.count++
	return nil
}

// CheckTurns compares the session's completed turns against the configured
// maximum. Returns ErrMaxTurnsExceeded once the limit is reached.
func (g *Guard) CheckTurns(s domain.Session) error {
	if g.Config.MaxTurns > 0 && s.Turn >= g.Config.MaxTurns {
		return domain.ErrMaxTurnsExceeded
	}
	return nil
}

// Forget drops the rate window of a session.
func (g *Guard) Forget(sessionID string) {
	g.mu.Lock()
	delete(g.rateCounts, sessionID)
	g.mu.Unlock()
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}
