package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/semmesh/pkg/errors"
)

func noop(ctx context.Context) error { return nil }

func TestSubmitSeventhConcurrentRejected(t *testing.T) {
	c := NewController(6, 100)
	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Submit(context.Background(), "node-a", ActionBroadcast, func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
			if err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}()
	}
	for i := 0; i < 6; i++ {
		<-started
	}

	err := c.Submit(context.Background(), "node-a", ActionBroadcast, noop)
	if !errors.IsCode(err, errors.CodeConcurrencyLimit) {
		t.Errorf("expected CONCURRENCY_LIMITED, got %v", err)
	}

	close(release)
	wg.Wait()

	// Slots freed; a new submission is admitted again.
	if err := c.Submit(context.Background(), "node-a", ActionBroadcast, noop); err != nil {
		t.Errorf("Submit after drain failed: %v", err)
	}
}

func TestActiveNeverExceedsCap(t *testing.T) {
	const limit = 6
	c := NewController(limit, 10000)
	var active, peak int64
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Submit(context.Background(), "node-a", ActionSync, func(ctx context.Context) error {
				n := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt64(&peak); p > limit {
		t.Errorf("observed %d concurrent actions, cap is %d", p, limit)
	}
	if s := c.Stats("node-a"); s.ActiveActions != 0 {
		t.Errorf("expected 0 active after drain, got %d", s.ActiveActions)
	}
}

func TestRateWindow(t *testing.T) {
	c := NewController(100, 3, WithRateWindow(200*time.Millisecond))

	for i := 0; i < 3; i++ {
		if err := c.Submit(context.Background(), "node-a", ActionSync, noop); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}
	err := c.Submit(context.Background(), "node-a", ActionSync, noop)
	if !errors.IsCode(err, errors.CodeRateLimit) {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}

	// Other participants have their own window.
	if err := c.Submit(context.Background(), "node-b", ActionSync, noop); err != nil {
		t.Errorf("Submit for other participant failed: %v", err)
	}

	// The window slides; old timestamps expire.
	time.Sleep(250 * time.Millisecond)
	if err := c.Submit(context.Background(), "node-a", ActionSync, noop); err != nil {
		t.Errorf("Submit after window slide failed: %v", err)
	}
}

func TestSlotReleasedOnFailure(t *testing.T) {
	c := NewController(1, 100)
	boom := errors.New(errors.CodeInternal, "boom", nil)

	err := c.Submit(context.Background(), "node-a", ActionSync, func(ctx context.Context) error {
		return boom
	})
	if !errors.IsCode(err, errors.CodeInternal) {
		t.Fatalf("expected action error back, got %v", err)
	}
	if s := c.Stats("node-a"); s.ActiveActions != 0 {
		t.Errorf("slot not released after failure: %+v", s)
	}
	if err := c.Submit(context.Background(), "node-a", ActionSync, noop); err != nil {
		t.Errorf("Submit after failed action rejected: %v", err)
	}
}

type denyAll struct{}

func (denyAll) Allowed(participantID string, action ActionType) error {
	return errors.New(errors.CodeUnauthorized, "tier does not permit action", nil)
}

func TestTierPolicyCheckedFirst(t *testing.T) {
	c := NewController(6, 10, WithTierPolicy(denyAll{}))
	err := c.Submit(context.Background(), "node-a", ActionBroadcast, noop)
	if !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Errorf("expected UNAUTHORIZED, got %v", err)
	}
	if s := c.Stats("node-a"); s.TotalActions != 0 {
		t.Errorf("denied action must not be recorded: %+v", s)
	}
}

func TestCancelParticipantActions(t *testing.T) {
	c := NewController(6, 100)
	started := make(chan struct{}, 2)
	done := make(chan error, 2)

	run := func(action ActionType) {
		done <- c.Submit(context.Background(), "node-a", action, func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
	}
	go run(ActionBroadcast)
	go run(ActionSync)
	<-started
	<-started

	if n := c.CancelParticipantActions("node-a", ActionSync); n != 1 {
		t.Errorf("expected 1 cancellation for sync, got %d", n)
	}
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if n := c.CancelParticipantActions("node-a", ""); n != 1 {
		t.Errorf("expected 1 remaining cancellation, got %d", n)
	}
	<-done
}

func TestGracefulShutdown(t *testing.T) {
	c := NewController(6, 100)
	started := make(chan struct{})
	go c.Submit(context.Background(), "node-a", ActionSync, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	if err := c.GracefulShutdown(2 * time.Second); err != nil {
		t.Fatalf("GracefulShutdown failed: %v", err)
	}
	err := c.Submit(context.Background(), "node-a", ActionSync, noop)
	if err == nil {
		t.Error("expected submissions after shutdown to be rejected")
	}
}

func TestWaitForSlot(t *testing.T) {
	c := NewController(1, 100)
	release := make(chan struct{})
	started := make(chan struct{})
	go c.Submit(context.Background(), "node-a", ActionSync, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.WaitForSlot(ctx, "node-a"); !errors.IsCode(err, errors.CodeTimeout) {
		t.Errorf("expected TIMEOUT while slot held, got %v", err)
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := c.WaitForSlot(ctx2, "node-a"); err != nil {
		t.Errorf("WaitForSlot after release failed: %v", err)
	}
}

func TestStats(t *testing.T) {
	c := NewController(6, 10)
	for i := 0; i < 3; i++ {
		c.Submit(context.Background(), "node-a", ActionBroadcast, noop)
	}
	c.Submit(context.Background(), "node-b", ActionSync, noop)

	s := c.Stats("node-a")
	if s.TotalActions != 3 || s.ActionsPerMinute != 3 {
		t.Errorf("unexpected participant stats: %+v", s)
	}
	if s.ConcurrencyLimit != 6 || s.RateLimit != 10 {
		t.Errorf("unexpected limits: %+v", s)
	}

	g := c.GlobalStats()
	if g.TotalActiveActions != 0 {
		t.Errorf("expected 0 active, got %d", g.TotalActiveActions)
	}

	h := c.History("node-a")
	if len(h) != 3 || h[0].Priority != Priority(ActionBroadcast) {
		t.Errorf("unexpected history: %+v", h)
	}
}
