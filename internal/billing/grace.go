package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/meterline/meterline/internal/subscription"
)

// GraceTimer cancels subscriptions that have been past_due longer than the
// configured grace duration. Until the sweep runs, past_due tenants keep
// access.
type GraceTimer struct {
	subs     subscription.Store
	grace    time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewGraceTimer creates a grace-period sweep timer.
func NewGraceTimer(subs subscription.Store, grace, interval time.Duration, logger *slog.Logger) *GraceTimer {
	return &GraceTimer{
		subs:     subs,
		grace:    grace,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *GraceTimer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *GraceTimer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *GraceTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *GraceTimer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in grace timer", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep cancels every subscription past_due for longer than the grace
// duration. Exported for tests and for a manual admin trigger.
func (t *GraceTimer) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-t.grace)
	expired, err := t.subs.ListPastDue(ctx, cutoff)
	if err != nil {
		t.logger.Warn("failed to list past_due subscriptions", "error", err)
		return
	}

	for _, s := range expired {
		if _, err := t.subs.ApplyTransition(ctx, s.TenantID, subscription.StatusCanceled); err != nil {
			t.logger.Warn("failed to cancel expired subscription",
				"tenant", s.TenantID, "error", err)
			continue
		}
		GraceCancellations.Inc()
		t.logger.Warn("subscription canceled after grace period",
			"tenant", s.TenantID,
			"past_due_since", s.PastDueSince.Format(time.RFC3339))
	}
}
