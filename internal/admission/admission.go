// Package admission decides whether the dispatcher may submit another job:
// a global pace between submissions, a global ceiling on recent in-flight
// jobs, and a per-user ceiling that depends on the account class.
package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/metrics"
)

// StaleReason is the error text written to reaped jobs.
const StaleReason = "Task timed out (stale)"

// Limits configures the controller.
type Limits struct {
	Pacing            time.Duration
	GlobalConcurrency int
	GlobalWindow      time.Duration
	StaleAfter        time.Duration
}

// DefaultLimits returns the production thresholds.
func DefaultLimits() Limits {
	return Limits{
		Pacing:            5 * time.Second,
		GlobalConcurrency: 12,
		GlobalWindow:      15 * time.Minute,
		StaleAfter:        10 * time.Minute,
	}
}

// Controller evaluates admission. Data-access errors fail open: the count is
// taken as zero and the event is logged and counted.
type Controller struct {
	store   domain.AdmissionStore
	limits  Limits
	logger  *infra.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	pacer *rate.Limiter
}

// Option configures a Controller.
type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(l *infra.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func New(store domain.AdmissionStore, limits Limits, opts ...Option) *Controller {
	c := &Controller{store: store, limits: limits, logger: infra.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if limits.Pacing > 0 {
		c.pacer = rate.NewLimiter(rate.Every(limits.Pacing), 1)
	}
	return c
}

// PacingReady reports whether enough time passed since the last submission.
// It does not consume the slot.
func (c *Controller) PacingReady() bool {
	if c.pacer == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pacer.TokensAt(c.now()) >= 1
}

// MarkSubmitted starts a new pacing interval.
func (c *Controller) MarkSubmitted() {
	if c.pacer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pacer.ReserveN(c.now(), 1)
}

// GlobalAllowed reports whether fewer than GlobalConcurrency jobs entered
// processing within GlobalWindow.
func (c *Controller) GlobalAllowed(ctx context.Context) bool {
	since := c.now().Add(-c.limits.GlobalWindow)
	n, err := c.store.CountProcessingSince(ctx, since)
	if err != nil {
		c.failOpen(err, "global", "")
		n = 0
	}
	if n >= c.limits.GlobalConcurrency {
		c.logger.Debug().Int("processing", n).Int("limit", c.limits.GlobalConcurrency).Msg("admission: global ceiling reached")
		c.metrics.Refused("global")
		return false
	}
	return true
}

// UserAllowed reaps the user's stale jobs and reports whether the user holds
// fewer processing jobs than the class allows.
func (c *Controller) UserAllowed(ctx context.Context, user domain.User) bool {
	cutoff := c.now().Add(-c.limits.StaleAfter)
	reaped, err := c.store.ReapStale(ctx, user.ID, cutoff, StaleReason)
	switch {
	case err != nil:
		c.logger.Error().Err(err).Str("user_id", user.ID).Msg("admission: stale reaper failed")
	case reaped > 0:
		c.logger.Warn().Int64("reaped", reaped).Str("user_id", user.ID).Msg("admission: failed stale jobs")
		c.metrics.Finished(domain.JobStatusFailed, int(reaped))
	}

	n, err := c.store.CountUserProcessing(ctx, user.ID)
	if err != nil {
		c.failOpen(err, "user", user.ID)
		n = 0
	}
	limit := user.Class.ConcurrencyLimit()
	if n >= limit {
		c.logger.Debug().Str("user_id", user.ID).Int("processing", n).Int("limit", limit).Msg("admission: user ceiling reached")
		c.metrics.Refused("user")
		return false
	}
	return true
}

// MayAdmit combines the three checks in the order the dispatcher runs them.
func (c *Controller) MayAdmit(ctx context.Context, user domain.User) bool {
	if !c.PacingReady() {
		c.metrics.Refused("pacing")
		return false
	}
	return c.GlobalAllowed(ctx) && c.UserAllowed(ctx, user)
}

func (c *Controller) failOpen(err error, check, userID string) {
	ev := c.logger.Error().Err(err).Str("check", check)
	if userID != "" {
		ev = ev.Str("user_id", userID)
	}
	ev.Msg("admission: count failed, admitting")
	c.metrics.FailOpen(check)
}
