// Package metrics provides lightweight, lock-minimal performance counters
// for the companion pipeline.
//
// Counters use sync/atomic so hot paths (message processing, redaction,
// crisis matching) incur no mutex contention. Latency statistics use a
// single mutex per dimension; they are updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownSeverities lists all crisis severity strings the detector can produce.
// Used to pre-populate per-severity counter maps in New() so Snapshot() can
// iterate a fixed set without racing on map writes.
var knownSeverities = []string{
	"none", "moderate", "selfHarm", "high", "immediate",
}

// knownPIITypes lists all PII type strings the redactor can produce.
var knownPIITypes = []string{
	"email", "phone", "ssn", "creditCard", "ipAddress", "address", "url",
}

// Metrics holds all runtime counters for a running companion instance.
// The zero value is NOT valid for the per-type counter maps — use New().
type Metrics struct {
	// Request counters
	RequestsTotal    atomic.Int64
	RequestsCrisis   atomic.Int64
	RequestsCached   atomic.Int64
	SecurityRejected atomic.Int64

	// Reply-generation counters
	ProviderCalls      atomic.Int64
	ProviderRetries    atomic.Int64
	ProviderFailures   atomic.Int64
	EnhancementPasses  atomic.Int64
	ValidationFailures atomic.Int64
	FallbackReplies    atomic.Int64 // replies served by the deterministic responder

	// Cache counters
	CacheHits      atomic.Int64
	CacheMisses    atomic.Int64
	CacheEvictions atomic.Int64

	// Session lifecycle counters
	SessionsCreated   atomic.Int64
	SessionsExpired   atomic.Int64
	SessionsEvicted   atomic.Int64
	SessionsDestroyed atomic.Int64

	// Per-severity crisis event counters and per-type redaction counters.
	// Maps are written only in New(); concurrent reads are safe without a lock.
	crisisEvents map[string]*atomic.Int64
	redactions   map[string]*atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	pipelineMu   sync.Mutex
	pipelineStat latencyStats

	providerMu   sync.Mutex
	providerStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-severity
// and per-PII-type counter maps pre-populated.
func New() *Metrics {
	m := &Metrics{
		startTime:    time.Now(),
		crisisEvents: make(map[string]*atomic.Int64, len(knownSeverities)),
		redactions:   make(map[string]*atomic.Int64, len(knownPIITypes)),
	}
	for _, s := range knownSeverities {
		m.crisisEvents[s] = new(atomic.Int64)
	}
	for _, t := range knownPIITypes {
		m.redactions[t] = new(atomic.Int64)
	}
	return m
}

// RecordCrisisEvent increments the event counter for the given severity.
// Unknown severities are silently ignored.
func (m *Metrics) RecordCrisisEvent(severity string) {
	if c, ok := m.crisisEvents[severity]; ok {
		c.Add(1)
	}
}

// RecordRedaction increments the redaction counter for the given PII type.
// Unknown types are silently ignored.
func (m *Metrics) RecordRedaction(piiType string) {
	if c, ok := m.redactions[piiType]; ok {
		c.Add(1)
	}
}

// RecordPipelineLatency records the duration of one full Process call.
func (m *Metrics) RecordPipelineLatency(d time.Duration) {
	m.pipelineMu.Lock()
	m.pipelineStat.record(float64(d.Microseconds()) / 1000.0)
	m.pipelineMu.Unlock()
}

// RecordProviderLatency records the round-trip time of one provider call.
func (m *Metrics) RecordProviderLatency(d time.Duration) {
	m.providerMu.Lock()
	m.providerStat.record(float64(d.Microseconds()) / 1000.0)
	m.providerMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.pipelineMu.Lock()
	pipeline := m.pipelineStat.snapshot()
	m.pipelineMu.Unlock()

	m.providerMu.Lock()
	provider := m.providerStat.snapshot()
	m.providerMu.Unlock()

	crisis := make(map[string]int64, len(m.crisisEvents))
	for s, c := range m.crisisEvents {
		if n := c.Load(); n > 0 {
			crisis[s] = n
		}
	}
	redactions := make(map[string]int64, len(m.redactions))
	for t, c := range m.redactions {
		if n := c.Load(); n > 0 {
			redactions[t] = n
		}
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Total:            m.RequestsTotal.Load(),
			Crisis:           m.RequestsCrisis.Load(),
			Cached:           m.RequestsCached.Load(),
			SecurityRejected: m.SecurityRejected.Load(),
		},
		Replies: ReplySnapshot{
			ProviderCalls:      m.ProviderCalls.Load(),
			ProviderRetries:    m.ProviderRetries.Load(),
			ProviderFailures:   m.ProviderFailures.Load(),
			EnhancementPasses:  m.EnhancementPasses.Load(),
			ValidationFailures: m.ValidationFailures.Load(),
			FallbackReplies:    m.FallbackReplies.Load(),
		},
		Cache: CacheSnapshot{
			Hits:      m.CacheHits.Load(),
			Misses:    m.CacheMisses.Load(),
			Evictions: m.CacheEvictions.Load(),
		},
		Sessions: SessionSnapshot{
			Created:   m.SessionsCreated.Load(),
			Expired:   m.SessionsExpired.Load(),
			Evicted:   m.SessionsEvicted.Load(),
			Destroyed: m.SessionsDestroyed.Load(),
		},
		CrisisEvents: crisis,
		Redactions:   redactions,
		Latency: LatencyGroup{
			PipelineMs: pipeline,
			ProviderMs: provider,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests     RequestSnapshot  `json:"requests"`
	Replies      ReplySnapshot    `json:"replies"`
	Cache        CacheSnapshot    `json:"cache"`
	Sessions     SessionSnapshot  `json:"sessions"`
	CrisisEvents map[string]int64 `json:"crisisEvents,omitempty"`
	Redactions   map[string]int64 `json:"redactions,omitempty"`
	Latency      LatencyGroup     `json:"latency"`
	UptimeSecs   float64          `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total            int64 `json:"total"`
	Crisis           int64 `json:"crisis"`
	Cached           int64 `json:"cached"`
	SecurityRejected int64 `json:"securityRejected"`
}

// ReplySnapshot holds reply-generation counters.
type ReplySnapshot struct {
	ProviderCalls      int64 `json:"providerCalls"`
	ProviderRetries    int64 `json:"providerRetries"`
	ProviderFailures   int64 `json:"providerFailures"`
	EnhancementPasses  int64 `json:"enhancementPasses"`
	ValidationFailures int64 `json:"validationFailures"`
	FallbackReplies    int64 `json:"fallbackReplies"`
}

// CacheSnapshot holds response-cache counters.
type CacheSnapshot struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// SessionSnapshot holds session lifecycle counters.
type SessionSnapshot struct {
	Created   int64 `json:"created"`
	Expired   int64 `json:"expired"`
	Evicted   int64 `json:"evicted"`
	Destroyed int64 `json:"destroyed"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	PipelineMs LatencySnapshot `json:"pipelineMs"`
	ProviderMs LatencySnapshot `json:"providerMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
