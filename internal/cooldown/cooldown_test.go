package cooldown

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidqueue/internal/domain"
)

type memStore struct {
	cycle int
	last  *time.Time
	err   error
	saved struct {
		cycle int
		at    time.Time
	}
}

func (m *memStore) CooldownState(ctx context.Context, userID string) (int, *time.Time, error) {
	return m.cycle, m.last, m.err
}

func (m *memStore) SaveCooldownState(ctx context.Context, userID string, cycle int, at time.Time) error {
	m.saved.cycle, m.saved.at = cycle, at
	m.cycle, m.last = cycle, &at
	return nil
}

const motionModel = "kling-v2-6-motion-control-pro"

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, Zone)
}

func TestWait(t *testing.T) {
	tests := []struct {
		class domain.AccountClass
		cycle int
		want  time.Duration
	}{
		{domain.ClassPro, 3, 15 * time.Minute},
		{domain.ClassAdvance, 6, 15 * time.Minute},
		{domain.ClassPro, 4, 0},
		{domain.ClassUnlimited, 3, 30 * time.Minute},
		{domain.ClassUltra, 6, 60 * time.Minute},
		{domain.ClassUnlimited, 9, 120 * time.Minute},
		{domain.ClassUnlimited, 30, 24 * time.Hour},
		{domain.ClassUnlimited, 300, 24 * time.Hour},
		{domain.ClassFree, 3, 0},
		{domain.ClassPro, 0, 0},
	}
	for _, tc := range tests {
		if got := Wait(tc.class, tc.cycle); got != tc.want {
			t.Fatalf("Wait(%s, %d) = %s, want %s", tc.class, tc.cycle, got, tc.want)
		}
	}
}

func TestCheckProCycleThree(t *testing.T) {
	last := at(10, 0)
	store := &memStore{cycle: 3, last: &last}

	refused := New(store, WithClock(func() time.Time { return at(10, 10) })).
		Check(context.Background(), "u", domain.ClassPro, motionModel)
	if refused.Allowed {
		t.Fatal("expected refusal 10 minutes into a 15 minute cooldown")
	}
	if refused.Remaining != 5*time.Minute {
		t.Fatalf("remaining = %s, want 5m", refused.Remaining)
	}

	allowed := New(store, WithClock(func() time.Time { return at(10, 16) })).
		Check(context.Background(), "u", domain.ClassPro, motionModel)
	if !allowed.Allowed {
		t.Fatal("expected cooldown to be over after 16 minutes")
	}
}

func TestCheckIgnoresOtherModels(t *testing.T) {
	last := at(10, 0)
	store := &memStore{cycle: 3, last: &last}
	d := New(store, WithClock(func() time.Time { return at(10, 1) })).
		Check(context.Background(), "u", domain.ClassPro, "kling-v2-1-pro")
	if !d.Allowed {
		t.Fatal("non motion-control models are never throttled")
	}
}

func TestCheckResetsOnNewDay(t *testing.T) {
	last := time.Date(2025, 3, 9, 23, 55, 0, 0, Zone)
	store := &memStore{cycle: 3, last: &last}
	d := New(store, WithClock(func() time.Time { return at(0, 1) })).
		Check(context.Background(), "u", domain.ClassPro, motionModel)
	if !d.Allowed || d.Cycle != 0 {
		t.Fatalf("expected reset on a new UTC+7 day, got %+v", d)
	}
}

func TestDayBoundaryUsesUTCPlusSeven(t *testing.T) {
	// 16:30 UTC and 17:30 UTC fall on different days in UTC+7.
	last := time.Date(2025, 3, 10, 16, 30, 0, 0, time.UTC)
	now := time.Date(2025, 3, 10, 17, 30, 0, 0, time.UTC)
	store := &memStore{cycle: 3, last: &last}
	d := New(store, WithClock(func() time.Time { return now })).
		Check(context.Background(), "u", domain.ClassPro, motionModel)
	if !d.Allowed {
		t.Fatal("expected reset across the UTC+7 midnight")
	}
}

func TestCheckFailsOpen(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	d := New(store).Check(context.Background(), "u", domain.ClassPro, motionModel)
	if !d.Allowed {
		t.Fatal("store errors must not block generation")
	}
}

func TestRecordIncrementsAndResets(t *testing.T) {
	last := at(9, 0)
	store := &memStore{cycle: 2, last: &last}
	th := New(store, WithClock(func() time.Time { return at(9, 30) }))
	if err := th.Record(context.Background(), "u", motionModel); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if store.saved.cycle != 3 || !store.saved.at.Equal(at(9, 30)) {
		t.Fatalf("unexpected saved state: %+v", store.saved)
	}

	next := New(store, WithClock(func() time.Time { return at(9, 30).Add(24 * time.Hour) }))
	if err := next.Record(context.Background(), "u", motionModel); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if store.saved.cycle != 1 {
		t.Fatalf("cycle after day change = %d, want 1", store.saved.cycle)
	}
}

func TestRecordSkipsOtherModels(t *testing.T) {
	store := &memStore{cycle: 2}
	if err := New(store).Record(context.Background(), "u", "wan-v2-2-720p"); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if store.saved.cycle != 0 {
		t.Fatal("non motion-control generations are not counted")
	}
}
