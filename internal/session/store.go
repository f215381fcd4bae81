package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"companion-core/internal/logger"
	"companion-core/internal/metrics"
)

// Store limits applied when the corresponding Config field is zero.
const (
	DefaultTimeout     = 30 * time.Minute
	DefaultMaxSessions = 1000
	DefaultMaxTurns    = 20
	DefaultRatePerMin  = 30
	DefaultRateBurst   = 10
)

// ErrRateLimited is returned by ValidateSecurity when a session exceeds its
// request-rate ceiling. Use errors.Is to test for it; the concrete error
// carries a retry-after hint.
var ErrRateLimited = errors.New("session: rate limit exceeded")

// RateLimitError wraps ErrRateLimited with the suggested client backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("session: rate limit exceeded, retry after %s", e.RetryAfter)
}

// Unwrap lets errors.Is(err, ErrRateLimited) succeed.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Config holds the store's limits. Zero fields take the defaults above.
type Config struct {
	Timeout     time.Duration
	MaxSessions int
	MaxTurns    int
	RatePerMin  int
	RateBurst   int
}

// entry is the mutable in-store record for one session.
type entry struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	turns        []Turn

	anonymized bool
	retention  string

	requestCount int64
	lastRequest  time.Time
	ipHash       string
	userAgent    string
	limiter      *rate.Limiter
}

// Store is the concurrency-safe session registry. A single mutex serializes
// map and entry mutation; everything inside the lock is cheap bookkeeping,
// so contention stays low even under concurrent pipelines.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	timeout     time.Duration
	maxSessions int
	maxTurns    int
	ratePerMin  int
	rateBurst   int

	log     *logger.Logger
	metrics *metrics.Metrics // nil = no metrics

	onDestroy []func(sessionID string)

	now func() time.Time // injectable for tests
}

// NewStore creates a Store. metrics may be nil.
func NewStore(cfg Config, log *logger.Logger, m *metrics.Metrics) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = DefaultRatePerMin
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	return &Store{
		sessions:    make(map[string]*entry),
		timeout:     cfg.Timeout,
		maxSessions: cfg.MaxSessions,
		maxTurns:    cfg.MaxTurns,
		ratePerMin:  cfg.RatePerMin,
		rateBurst:   cfg.RateBurst,
		log:         log,
		metrics:     m,
		now:         time.Now,
	}
}

// OnDestroy registers a hook invoked (outside the store lock) with the ID of
// every destroyed session, whatever the cause: explicit destroy, expiry,
// or capacity eviction. Used to release per-session state held elsewhere.
func (s *Store) OnDestroy(fn func(sessionID string)) {
	s.mu.Lock()
	s.onDestroy = append(s.onDestroy, fn)
	s.mu.Unlock()
}

// Create mints a new session and returns its token and expiry. When the
// store is full the least-recently-active sessions are evicted first; Create
// itself never fails.
func (s *Store) Create(opts CreateOptions) (string, time.Time) {
	id := newToken()
	now := s.now()

	s.mu.Lock()
	var destroyed []string
	for len(s.sessions) >= s.maxSessions {
		victim := s.oldestLocked()
		if victim == "" {
			break
		}
		s.destroyLocked(victim)
		destroyed = append(destroyed, victim)
		if s.metrics != nil {
			s.metrics.SessionsEvicted.Add(1)
		}
	}

	s.sessions[id] = &entry{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		anonymized:   opts.Anonymized,
		retention:    opts.Retention,
		ipHash:       hashIP(opts.Request.IPAddress),
		userAgent:    sanitizeUA(opts.Request.UserAgent),
		limiter:      rate.NewLimiter(rate.Limit(float64(s.ratePerMin)/60.0), s.rateBurst),
	}
	s.mu.Unlock()

	s.notifyDestroyed(destroyed)
	if s.metrics != nil {
		s.metrics.SessionsCreated.Add(1)
	}
	if s.log != nil {
		s.log.Debugf("create", "session created, %d evicted", len(destroyed))
	}
	return id, now.Add(s.timeout)
}

// Get returns a snapshot of the session, refreshing its activity and
// re-arming its expiry atomically. Malformed tokens, unknown tokens, and
// expired sessions all report not-found; an expired entry is destroyed on
// the spot.
func (s *Store) Get(id string) (Session, bool) {
	if !ValidToken(id) {
		return Session{}, false
	}

	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Session{}, false
	}
	now := s.now()
	if s.expiredLocked(e, now) {
		s.destroyLocked(id)
		s.mu.Unlock()
		s.notifyDestroyed([]string{id})
		if s.metrics != nil {
			s.metrics.SessionsExpired.Add(1)
		}
		return Session{}, false
	}
	e.lastActivity = now
	snap := s.snapshotLocked(e)
	s.mu.Unlock()
	return snap, true
}

// UpdateContext appends turns to the session and trims to the configured
// maximum, oldest first. Returns false if the session does not exist.
func (s *Store) UpdateContext(id string, turns ...Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return false
	}
	e.turns = append(e.turns, turns...)
	if overflow := len(e.turns) - s.maxTurns; overflow > 0 {
		wipe(e.turns[:overflow])
		e.turns = append([]Turn(nil), e.turns[overflow:]...)
	}
	e.lastActivity = s.now()
	return true
}

// ClearContext empties the session's turns but keeps it alive.
func (s *Store) ClearContext(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return false
	}
	wipe(e.turns)
	e.turns = nil
	e.lastActivity = s.now()
	return true
}

// Destroy wipes and removes the session. Returns false if it did not exist.
func (s *Store) Destroy(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		s.destroyLocked(id)
	}
	s.mu.Unlock()

	if ok {
		s.notifyDestroyed([]string{id})
		if s.metrics != nil {
			s.metrics.SessionsDestroyed.Add(1)
		}
	}
	return ok
}

// ValidateSecurity enforces the per-session request-rate ceiling and records
// security counters. Origin changes are logged, never blocked: client IPs
// legitimately change mid-conversation. Returns nil, or an error wrapping
// ErrRateLimited.
func (s *Store) ValidateSecurity(id string, info RequestInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil // unknown sessions are the caller's "recreate" signal, not a violation
	}

	e.requestCount++
	e.lastRequest = s.now()

	if h := hashIP(info.IPAddress); h != "" && e.ipHash != "" && h != e.ipHash {
		if s.log != nil {
			s.log.Warn("origin_change", "session origin IP changed mid-conversation")
		}
		e.ipHash = h
	}

	if !e.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.SecurityRejected.Add(1)
		}
		// One token refills in 60/ratePerMin seconds; round up for the hint.
		retry := time.Duration(float64(time.Minute) / float64(s.ratePerMin))
		return &RateLimitError{RetryAfter: retry}
	}
	return nil
}

// Report returns the privacy/security summary for a live session. Expired
// or unknown sessions report not-found. Report does not refresh activity.
func (s *Store) Report(id string) (Report, bool) {
	if !ValidToken(id) {
		return Report{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || s.expiredLocked(e, s.now()) {
		return Report{}, false
	}

	crisis := 0
	for _, t := range e.turns {
		if t.Crisis {
			crisis++
		}
	}
	return Report{
		SessionID:    e.id,
		CreatedAt:    e.createdAt,
		LastActivity: e.lastActivity,
		ExpiresAt:    e.lastActivity.Add(s.timeout),
		TurnCount:    len(e.turns),
		CrisisTurns:  crisis,
		Anonymized:   e.anonymized,
		Retention:    e.retention,
		RequestCount: e.requestCount,
	}, true
}

// CleanupExpired destroys every expired session and returns how many were
// removed. Called by the background sweep.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	now := s.now()
	var destroyed []string
	for id, e := range s.sessions {
		if s.expiredLocked(e, now) {
			s.destroyLocked(id)
			destroyed = append(destroyed, id)
		}
	}
	s.mu.Unlock()

	s.notifyDestroyed(destroyed)
	if n := len(destroyed); n > 0 {
		if s.metrics != nil {
			s.metrics.SessionsExpired.Add(int64(n))
		}
		if s.log != nil {
			s.log.Infof("sweep", "destroyed %d expired session(s)", n)
		}
	}
	return len(destroyed)
}

// Len returns the number of entries currently in the store, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// DestroyAll wipes every session. Called on process shutdown.
func (s *Store) DestroyAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.destroyLocked(id)
	}
	s.mu.Unlock()

	s.notifyDestroyed(ids)
}

// expiredLocked reports whether e's idle timeout has elapsed at now.
func (s *Store) expiredLocked(e *entry, now time.Time) bool {
	return now.Sub(e.lastActivity) > s.timeout
}

// destroyLocked wipes turn content and unlinks the entry.
// Must be called with s.mu held.
func (s *Store) destroyLocked(id string) {
	e, ok := s.sessions[id]
	if !ok {
		return
	}
	wipe(e.turns)
	e.turns = nil
	delete(s.sessions, id)
}

// oldestLocked returns the ID of the least-recently-active session.
// Must be called with s.mu held.
func (s *Store) oldestLocked() string {
	var oldest string
	var oldestAt time.Time
	for id, e := range s.sessions {
		if oldest == "" || e.lastActivity.Before(oldestAt) {
			oldest = id
			oldestAt = e.lastActivity
		}
	}
	return oldest
}

// notifyDestroyed runs the destroy hooks outside the store lock.
func (s *Store) notifyDestroyed(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	hooks := append([]func(string){}, s.onDestroy...)
	s.mu.Unlock()
	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

// snapshotLocked copies an entry into an immutable Session.
// Must be called with s.mu held.
func (s *Store) snapshotLocked(e *entry) Session {
	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return Session{
		ID:           e.id,
		CreatedAt:    e.createdAt,
		LastActivity: e.lastActivity,
		ExpiresAt:    e.lastActivity.Add(s.timeout),
		Turns:        turns,
		Anonymized:   e.anonymized,
		Retention:    e.retention,
		RequestCount: e.requestCount,
	}
}
