// Package admission enforces per-participant concurrency caps and sliding
// rate windows on mesh actions. Limits are soft guards against accidental
// overload, not a scheduler: rejected actions fail fast and are never queued.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/semmesh/pkg/errors"
	"github.com/jllopis/semmesh/pkg/telemetry"
)

// ActionType classifies a submitted mesh action.
type ActionType string

const (
	ActionRecitation  ActionType = "recitation"
	ActionAttestation ActionType = "attestation"
	ActionSealing     ActionType = "sealing"
	ActionOnboarding  ActionType = "onboarding"
	ActionBroadcast   ActionType = "broadcast"
	ActionSync        ActionType = "sync"
	ActionMaintenance ActionType = "maintenance"
)

// actionPriorities orders action types for history records. Lower is more
// fundamental to mesh participation.
var actionPriorities = map[ActionType]int{
	ActionRecitation:  1,
	ActionAttestation: 2,
	ActionSealing:     3,
	ActionOnboarding:  4,
	ActionBroadcast:   5,
	ActionSync:        6,
	ActionMaintenance: 7,
}

// Priority returns the priority for an action type, zero when unknown.
func Priority(action ActionType) int {
	return actionPriorities[action]
}

// TierPolicy decides whether a participant's onboarding tier permits an
// action. The onboarding registrar implements this.
type TierPolicy interface {
	Allowed(participantID string, action ActionType) error
}

const historyLimit = 1000

// HistoryEntry records an admitted action.
type HistoryEntry struct {
	Timestamp time.Time
	Action    ActionType
	Priority  int
}

// ParticipantStats summarizes one participant's recent activity.
type ParticipantStats struct {
	ActiveActions    int
	ActionsPerMinute int
	TotalActions     int
	ConcurrencyLimit int
	RateLimit        int
}

// GlobalStats summarizes activity across all participants.
type GlobalStats struct {
	TotalActiveActions int
	ActiveParticipants int
	MaxConcurrent      int
	RatePerWindow      int
}

type activeAction struct {
	action ActionType
	cancel context.CancelFunc
}

// Controller admits actions subject to tier permission, the sliding rate
// window, and the concurrency cap, in that order.
type Controller struct {
	maxConcurrent int
	maxPerWindow  int
	rateWindow    time.Duration

	policy  TierPolicy
	metrics *telemetry.MeshMetrics

	mu      sync.Mutex
	nextID  uint64
	active  map[string]map[uint64]activeAction
	rates   map[string][]time.Time
	history map[string][]HistoryEntry
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithTierPolicy gates admission on the participant's onboarding tier.
func WithTierPolicy(p TierPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithMetrics records admission rejections on the given recorder.
func WithMetrics(m *telemetry.MeshMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRateWindow overrides the sliding window duration.
func WithRateWindow(d time.Duration) Option {
	return func(c *Controller) { c.rateWindow = d }
}

// NewController creates a Controller with the given per-participant limits.
// Non-positive limits fall back to the defaults (6 concurrent, 10 per 60 s).
func NewController(maxConcurrent, maxPerWindow int, opts ...Option) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = 6
	}
	if maxPerWindow <= 0 {
		maxPerWindow = 10
	}
	c := &Controller{
		maxConcurrent: maxConcurrent,
		maxPerWindow:  maxPerWindow,
		rateWindow:    60 * time.Second,
		active:        make(map[string]map[uint64]activeAction),
		rates:         make(map[string][]time.Time),
		history:       make(map[string][]HistoryEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit runs fn under the participant's admission limits. The checks run in
// order: tier permission, rate window, concurrency cap. Admission and slot
// registration happen atomically, so the active count can never exceed the
// cap. The slot is released when fn returns, success or not.
func (c *Controller) Submit(ctx context.Context, participantID string, action ActionType, fn func(context.Context) error) error {
	if c.policy != nil {
		if err := c.policy.Allowed(participantID, action); err != nil {
			c.metrics.RecordAdmissionRejected(ctx, "tier")
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.CodeInternal, "admission controller is shut down", nil)
	}

	now := time.Now()
	c.pruneRatesLocked(participantID, now)
	if len(c.rates[participantID]) >= c.maxPerWindow {
		c.mu.Unlock()
		c.metrics.RecordAdmissionRejected(ctx, "rate")
		slog.Warn("rate limit exceeded", "participant", participantID, "action", action)
		return errors.New(errors.CodeRateLimit, "rate limit exceeded", nil).
			WithRecoverable(true).
			WithAttribute("participant", participantID).
			WithContext("limit", c.maxPerWindow)
	}
	if len(c.active[participantID]) >= c.maxConcurrent {
		c.mu.Unlock()
		c.metrics.RecordAdmissionRejected(ctx, "concurrency")
		slog.Warn("concurrency limit reached", "participant", participantID, "action", action)
		return errors.New(errors.CodeConcurrencyLimit, "concurrency limit reached", nil).
			WithRecoverable(true).
			WithAttribute("participant", participantID).
			WithContext("limit", c.maxConcurrent)
	}

	actionCtx, cancel := context.WithCancel(ctx)
	c.nextID++
	id := c.nextID
	if c.active[participantID] == nil {
		c.active[participantID] = make(map[uint64]activeAction)
	}
	c.active[participantID][id] = activeAction{action: action, cancel: cancel}
	c.recordLocked(participantID, action, now)
	c.wg.Add(1)
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.active[participantID], id)
		if len(c.active[participantID]) == 0 {
			delete(c.active, participantID)
		}
		c.mu.Unlock()
		c.wg.Done()
	}()

	start := time.Now()
	err := fn(actionCtx)
	if err != nil {
		slog.Error("action failed", "participant", participantID, "action", action, "error", err)
		return err
	}
	slog.Debug("action completed",
		"participant", participantID, "action", action, "duration", time.Since(start))
	return nil
}

// pruneRatesLocked drops timestamps that fell out of the sliding window.
func (c *Controller) pruneRatesLocked(participantID string, now time.Time) {
	stamps := c.rates[participantID]
	cut := 0
	for cut < len(stamps) && now.Sub(stamps[cut]) > c.rateWindow {
		cut++
	}
	if cut > 0 {
		c.rates[participantID] = append(stamps[:0], stamps[cut:]...)
	}
}

func (c *Controller) recordLocked(participantID string, action ActionType, now time.Time) {
	c.rates[participantID] = append(c.rates[participantID], now)
	h := append(c.history[participantID], HistoryEntry{
		Timestamp: now,
		Action:    action,
		Priority:  actionPriorities[action],
	})
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	c.history[participantID] = h
}

// Stats reports a participant's current admission picture.
func (c *Controller) Stats(participantID string) ParticipantStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	perMinute := 0
	for _, entry := range c.history[participantID] {
		if now.Sub(entry.Timestamp) <= time.Minute {
			perMinute++
		}
	}
	return ParticipantStats{
		ActiveActions:    len(c.active[participantID]),
		ActionsPerMinute: perMinute,
		TotalActions:     len(c.history[participantID]),
		ConcurrencyLimit: c.maxConcurrent,
		RateLimit:        c.maxPerWindow,
	}
}

// GlobalStats reports the controller-wide admission picture.
func (c *Controller) GlobalStats() GlobalStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, actions := range c.active {
		total += len(actions)
	}
	return GlobalStats{
		TotalActiveActions: total,
		ActiveParticipants: len(c.active),
		MaxConcurrent:      c.maxConcurrent,
		RatePerWindow:      c.maxPerWindow,
	}
}

// History returns a copy of the participant's recent admitted actions.
func (c *Controller) History(participantID string) []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HistoryEntry(nil), c.history[participantID]...)
}

// CancelParticipantActions cancels the participant's in-flight actions,
// optionally only those of the given type (empty cancels all). It returns the
// number of cancellations issued; slots free as the actions observe their
// context and return.
func (c *Controller) CancelParticipantActions(participantID string, action ActionType) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cancelled := 0
	for _, a := range c.active[participantID] {
		if action != "" && a.action != action {
			continue
		}
		a.cancel()
		cancelled++
	}
	if cancelled > 0 {
		slog.Info("cancelled participant actions",
			"participant", participantID, "count", cancelled)
	}
	return cancelled
}

// WaitForSlot blocks until the participant has a free concurrency slot or the
// context is done. It does not reserve the slot; a concurrent Submit may
// still win the race.
func (c *Controller) WaitForSlot(ctx context.Context, participantID string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		free := len(c.active[participantID]) < c.maxConcurrent
		c.mu.Unlock()
		if free {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New(errors.CodeTimeout, "waiting for admission slot", ctx.Err()).
				WithAttribute("participant", participantID)
		case <-ticker.C:
		}
	}
}

// GracefulShutdown cancels all in-flight actions, rejects new submissions,
// and waits up to timeout for the active set to drain.
func (c *Controller) GracefulShutdown(timeout time.Duration) error {
	c.mu.Lock()
	c.closed = true
	cancelled := 0
	for _, actions := range c.active {
		for _, a := range actions {
			a.cancel()
			cancelled++
		}
	}
	c.mu.Unlock()
	slog.Info("admission shutdown initiated", "cancelled", cancelled)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("admission shutdown complete")
		return nil
	case <-time.After(timeout):
		slog.Warn("admission shutdown timed out")
		return errors.New(errors.CodeTimeout, "shutdown timed out with actions still active", nil)
	}
}
