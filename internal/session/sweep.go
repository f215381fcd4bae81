package session

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is the sweep cadence applied when none is configured.
const DefaultSweepInterval = time.Minute

// SweepService destroys expired sessions on a fixed interval. Expiry is also
// checked lazily on every Get; the sweep is the backstop that reclaims
// sessions nobody asks for again.
type SweepService struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweepService creates a sweep service for the store. Non-positive
// intervals fall back to DefaultSweepInterval.
func NewSweepService(store *Store, interval time.Duration) *SweepService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SweepService{store: store, interval: interval}
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
			s.store.CleanupExpired()
		}
	}
}
