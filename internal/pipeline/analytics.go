package pipeline

import "time"

// Event is one processed-message record emitted to the analytics sink. It
// carries classification outcomes and timing only, never message content.
type Event struct {
	RequestID string
	SessionID string // truncated, not the full token
	Source    ReplySource
	Crisis    bool
	Severity  string
	Cached    bool
	PIITypes  int
	Latency   time.Duration
}

// AnalyticsSink receives processed-message events. Record is fire-and-forget:
// the orchestrator calls it on a separate goroutine and ignores anything it
// does, so implementations may block or fail freely without affecting the
// reply path.
type AnalyticsSink interface {
	Record(ev Event)
}

func (o *Orchestrator) emit(ev Event) {
	if o.analytics == nil {
		return
	}
	go o.analytics.Record(ev)
}
