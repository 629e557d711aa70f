// Package cooldown throttles bursts of motion-control generations. Every third
// generation of a day starts a wait whose length depends on the account class.
package cooldown

import (
	"context"
	"math"
	"strings"
	"time"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
)

// Store reads and writes the per-user cycle counter.
type Store interface {
	CooldownState(ctx context.Context, userID string) (cycle int, last *time.Time, err error)
	SaveCooldownState(ctx context.Context, userID string, cycle int, at time.Time) error
}

// Zone is the fixed UTC+7 zone used for the daily reset.
var Zone = time.FixedZone("WIB", 7*60*60)

const (
	// cycleLength generations in a row trigger a wait.
	cycleLength = 3
	baseWait    = 30 * time.Minute
	maxWait     = 24 * time.Hour
	flatWait    = 15 * time.Minute
)

// Applies reports whether modelID is throttled at all.
func Applies(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "motion-control")
}

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
	Cycle     int
}

// Throttle evaluates and records generation cycles.
type Throttle struct {
	store  Store
	logger *infra.Logger
	now    func() time.Time
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(l *infra.Logger) Option {
	return func(t *Throttle) { t.logger = l }
}

func New(store Store, opts ...Option) *Throttle {
	t := &Throttle{store: store, now: time.Now, logger: infra.NopLogger()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Wait returns the cooldown owed after cycle generations for class, or zero.
func Wait(class domain.AccountClass, cycle int) time.Duration {
	if cycle <= 0 || cycle%cycleLength != 0 {
		return 0
	}
	switch class {
	case domain.ClassUnlimited, domain.ClassUltra:
		steps := cycle/cycleLength - 1
		if steps > 10 {
			return maxWait
		}
		wait := time.Duration(float64(baseWait) * math.Pow(2, float64(steps)))
		if wait > maxWait {
			return maxWait
		}
		return wait
	case domain.ClassPro, domain.ClassAdvance:
		return flatWait
	default:
		return 0
	}
}

// Check decides whether the user may start another generation of modelID.
// Store errors allow the generation.
func (t *Throttle) Check(ctx context.Context, userID string, class domain.AccountClass, modelID string) Decision {
	if !Applies(modelID) {
		return Decision{Allowed: true}
	}
	cycle, last, err := t.store.CooldownState(ctx, userID)
	if err != nil {
		t.logger.Warn().Err(err).Str("user_id", userID).Msg("cooldown: state unavailable, allowing")
		return Decision{Allowed: true}
	}
	now := t.now()
	cycle = t.effectiveCycle(cycle, last, now)
	wait := Wait(class, cycle)
	if wait == 0 || last == nil {
		return Decision{Allowed: true, Cycle: cycle}
	}
	elapsed := now.Sub(*last)
	if elapsed >= wait {
		return Decision{Allowed: true, Cycle: cycle}
	}
	return Decision{Allowed: false, Remaining: wait - elapsed, Cycle: cycle}
}

// Record counts one more generation of modelID for the user.
func (t *Throttle) Record(ctx context.Context, userID, modelID string) error {
	if !Applies(modelID) {
		return nil
	}
	cycle, last, err := t.store.CooldownState(ctx, userID)
	if err != nil {
		return err
	}
	now := t.now()
	cycle = t.effectiveCycle(cycle, last, now)
	return t.store.SaveCooldownState(ctx, userID, cycle+1, now)
}

// effectiveCycle resets the counter when the last generation happened on a
// different UTC+7 calendar day.
func (t *Throttle) effectiveCycle(cycle int, last *time.Time, now time.Time) int {
	if last == nil {
		return 0
	}
	if !sameDay(last.In(Zone), now.In(Zone)) {
		return 0
	}
	return cycle
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
