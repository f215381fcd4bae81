package crisis

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often stale alerts are checked when no
// interval is configured.
const DefaultSweepInterval = time.Minute

// SweepService periodically marks unactioned alerts as unattended.
// It runs on its own goroutine, independent of request handling.
type SweepService struct {
	detector *Detector
	interval time.Duration
	staleAge time.Duration
	sink     func([]Alert) // receives newly unattended alerts; may be nil

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweepService creates a sweep service. sink is invoked with each batch
// of newly unattended alerts and may be nil. Non-positive durations fall
// back to defaults.
func NewSweepService(d *Detector, interval, staleAge time.Duration, sink func([]Alert)) *SweepService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultWindow
	}
	return &SweepService{
		detector: d,
		interval: interval,
		staleAge: staleAge,
		sink:     sink,
	}
}

// Start begins the periodic sweep. Calling Start on a running service is a
// no-op.
func (s *SweepService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(sweepCtx)
}

// Stop cancels the sweep goroutine and waits for it to exit.
func (s *SweepService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *SweepService) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.done)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stale := s.detector.CheckStale(s.staleAge); len(stale) > 0 && s.sink != nil {
				s.sink(stale)
			}
		}
	}
}
