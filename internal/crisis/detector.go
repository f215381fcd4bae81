// Package crisis classifies message risk and tracks per-session escalation
// patterns inside a rolling time window.
//
// Severity is decided per message by tiered keyword matching (keywords.go).
// Escalation level is decided per session by counting recent events: a
// session that keeps producing risky messages escalates even when each
// individual message stays below the immediate tier.
package crisis

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion-core/internal/logger"
	"companion-core/internal/metrics"
)

// DefaultWindow is the escalation window applied when none is configured.
const DefaultWindow = 30 * time.Minute

// Escalation levels.
const (
	LevelNone      = 0 // no concerning pattern
	LevelModerate  = 1 // repeated moderate or self-harm language
	LevelHighRisk  = 2 // repeated high-tier language
	LevelImmediate = 3 // immediate danger signalled at least once
)

// Detection is the full result of classifying one message.
type Detection struct {
	IsCrisis        bool
	Severity        Severity
	MatchedKeywords []string
	EscalationLevel int
	Resources       []Resource
	Workflow        []WorkflowStep
}

// event is one recorded crisis signal inside a session's window.
type event struct {
	severity Severity
	at       time.Time
}

// escalationState tracks a single session's recent events and current level.
// The level is monotonic while any event remains inside the window; it drops
// back to zero only when the window fully empties or the session is removed.
type escalationState struct {
	events     []event
	level      int
	lastCrisis time.Time
}

// Alert is a pending crisis follow-up. Alerts are created for every crisis
// detection and must be acknowledged by an operator collaborator; alerts
// left pending past the stale deadline are marked unattended by CheckStale.
type AlertStatus string

// Alert statuses. Unattended is terminal.
const (
	AlertPending      AlertStatus = "pending"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertUnattended   AlertStatus = "unattended"
)

// Alert records one crisis detection awaiting follow-up.
type Alert struct {
	ID        string
	SessionID string
	Severity  Severity
	CreatedAt time.Time
	Status    AlertStatus
}

// Detector classifies messages and maintains per-session escalation state.
// All methods are safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	sessions map[string]*escalationState
	alerts   map[string]*Alert

	window  time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics // nil = no metrics

	now func() time.Time // injectable for tests
}

// NewDetector creates a Detector with the given escalation window.
// Non-positive windows fall back to DefaultWindow. metrics may be nil.
func NewDetector(window time.Duration, log *logger.Logger, m *metrics.Metrics) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{
		sessions: make(map[string]*escalationState),
		alerts:   make(map[string]*Alert),
		window:   window,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Detect classifies text, records the event into the session's escalation
// state, and returns the full detection including the recomputed level,
// matching resources, and the required workflow steps.
func (d *Detector) Detect(sessionID, text string) Detection {
	severity, matched := classify(text)

	det := Detection{
		Severity:        severity,
		MatchedKeywords: matched,
		IsCrisis:        severity.IsCrisis(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	state := d.sessions[sessionID]
	if state == nil {
		state = &escalationState{}
		d.sessions[sessionID] = state
	}

	if severity != SeverityNone {
		state.events = append(state.events, event{severity: severity, at: now})
		state.lastCrisis = now
		if d.metrics != nil {
			d.metrics.RecordCrisisEvent(string(severity))
		}
	}
	d.recomputeLocked(state, now)
	det.EscalationLevel = state.level

	if det.IsCrisis {
		det.Resources = Resources(severity, "")
		det.Workflow = BuildWorkflow(severity)
		d.recordAlertLocked(sessionID, severity, now)
		if d.log != nil {
			d.log.Warnf("detect", "crisis severity=%s level=%d session=%s",
				severity, state.level, shortID(sessionID))
		}
	}
	return det
}

// EscalationLevel returns the session's current level, pruning aged events
// first. Unknown sessions are level zero.
func (d *Detector) EscalationLevel(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.sessions[sessionID]
	if state == nil {
		return LevelNone
	}
	d.recomputeLocked(state, d.now())
	return state.level
}

// RemoveSession discards all escalation state for the session. Called when
// the owning session is destroyed.
func (d *Detector) RemoveSession(sessionID string) {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	for id, a := range d.alerts {
		if a.SessionID == sessionID {
			delete(d.alerts, id)
		}
	}
	d.mu.Unlock()
}

// Acknowledge marks a pending alert as acted on. Returns false for unknown
// alerts and for alerts already in a terminal state.
func (d *Detector) Acknowledge(alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.alerts[alertID]
	if !ok || a.Status != AlertPending {
		return false
	}
	a.Status = AlertAcknowledged
	return true
}

// PendingAlerts returns a copy of all alerts currently pending.
func (d *Detector) PendingAlerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Alert
	for _, a := range d.alerts {
		if a.Status == AlertPending {
			out = append(out, *a)
		}
	}
	return out
}

// CheckStale marks every alert still pending after olderThan as unattended
// and returns the newly unattended alerts. Intended to be called on a fixed
// interval by an external scheduler (see SweepService).
func (d *Detector) CheckStale(olderThan time.Duration) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-olderThan)
	var stale []Alert
	for _, a := range d.alerts {
		if a.Status == AlertPending && a.CreatedAt.Before(cutoff) {
			a.Status = AlertUnattended
			stale = append(stale, *a)
		}
	}
	if len(stale) > 0 && d.log != nil {
		d.log.Warnf("stale_alerts", "%d alert(s) unattended past %s", len(stale), olderThan)
	}
	return stale
}

// recomputeLocked prunes aged events and recomputes the escalation level.
// Must be called with d.mu held.
func (d *Detector) recomputeLocked(state *escalationState, now time.Time) {
	cutoff := now.Add(-d.window)
	alive := state.events[:0]
	for _, e := range state.events {
		if e.at.After(cutoff) {
			alive = append(alive, e)
		}
	}
	state.events = alive

	// Window fully elapsed with no new events: the level resets.
	if len(state.events) == 0 {
		state.level = LevelNone
		return
	}

	counts := make(map[Severity]int, 4)
	for _, e := range state.events {
		counts[e.severity]++
	}

	computed := LevelNone
	switch {
	case counts[SeverityImmediate] >= 1:
		computed = LevelImmediate
	case counts[SeverityHigh] >= 2,
		counts[SeverityHigh] >= 1 && counts[SeverityModerate] >= 2:
		computed = LevelHighRisk
	case counts[SeverityModerate] >= 3,
		counts[SeveritySelfHarm] >= 2:
		computed = LevelModerate
	}

	// Monotonic within the window: new events may only raise the level.
	if computed > state.level {
		state.level = computed
	}
}

// recordAlertLocked creates a pending alert for a crisis detection.
// Must be called with d.mu held.
func (d *Detector) recordAlertLocked(sessionID string, severity Severity, now time.Time) {
	a := &Alert{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Severity:  severity,
		CreatedAt: now,
		Status:    AlertPending,
	}
	d.alerts[a.ID] = a
}

// shortID truncates a session token for log lines.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return fmt.Sprintf("%s…", id[:8])
}
