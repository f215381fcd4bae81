package crisis

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSweepService_MarksStaleAndNotifiesSink(t *testing.T) {
	d := newTestDetector()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	d.now = clock.now
	d.Detect("s1", "I want to end my life")
	clock.advance(31 * time.Minute)

	var mu sync.Mutex
	var got []Alert
	svc := NewSweepService(d, 5*time.Millisecond, 30*time.Minute, func(alerts []Alert) {
		mu.Lock()
		got = append(got, alerts...)
		mu.Unlock()
	})

	svc.Start(context.Background())
	defer svc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sink never received stale alerts")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Status != AlertUnattended {
		t.Errorf("status: got %s, want unattended", got[0].Status)
	}
}

func TestSweepService_StopIsIdempotent(t *testing.T) {
	d := newTestDetector()
	svc := NewSweepService(d, 10*time.Millisecond, time.Minute, nil)
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop() // second stop must not panic or block
}

func TestSweepService_DoubleStartIsNoOp(t *testing.T) {
	d := newTestDetector()
	svc := NewSweepService(d, 10*time.Millisecond, time.Minute, nil)
	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx)
	svc.Stop()
}
