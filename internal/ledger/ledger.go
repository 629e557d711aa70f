// Package ledger debits and refunds user credits held in two buckets:
// monthly credits are spent first, extra credits cover the rest.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/sqlinline"
)

// Balance is a user's credit position.
type Balance struct {
	Monthly int
	Extra   int
}

// Total returns the spendable credits.
func (b Balance) Total() int {
	return b.Monthly + b.Extra
}

// Ledger is the credit store used by dispatch.
type Ledger interface {
	// Debit removes amount credits. It returns false, and changes nothing,
	// when the balance does not cover the amount.
	Debit(ctx context.Context, userID string, amount int) (bool, error)
	Refund(ctx context.Context, userID string, amount int) error
	Balance(ctx context.Context, userID string) (Balance, error)
}

// Apply computes the debit of amount against b.
func Apply(b Balance, amount int) (Balance, bool) {
	if amount <= 0 {
		return b, true
	}
	if b.Total() < amount {
		return b, false
	}
	monthly := b.Monthly
	if monthly < 0 {
		monthly = 0
	}
	if monthly >= amount {
		return Balance{Monthly: b.Monthly - amount, Extra: b.Extra}, true
	}
	return Balance{Monthly: 0, Extra: b.Extra - (amount - monthly)}, true
}

// PG debits with one conditional UPDATE, so two concurrent debits can never
// both pass the balance check.
type PG struct {
	sql infra.SQLExecutor
}

func NewPG(sql infra.SQLExecutor) *PG {
	return &PG{sql: sql}
}

func (l *PG) Debit(ctx context.Context, userID string, amount int) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	var b Balance
	err := l.sql.QueryRow(ctx, sqlinline.QDebitCredits, userID, amount).Scan(&b.Monthly, &b.Extra)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("debit credits: %w", err)
	}
	return true, nil
}

func (l *PG) Refund(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	var b Balance
	if err := l.sql.QueryRow(ctx, sqlinline.QRefundCredits, userID, amount).Scan(&b.Monthly, &b.Extra); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("refund credits: %w", err)
	}
	return nil
}

func (l *PG) Balance(ctx context.Context, userID string) (Balance, error) {
	var b Balance
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectBalance, userID).Scan(&b.Monthly, &b.Extra); err != nil {
		if infra.IsNoRows(err) {
			return Balance{}, domain.ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// TopUp adds credits to both buckets and returns the new balance.
func (l *PG) TopUp(ctx context.Context, userID string, monthly, extra int) (Balance, error) {
	var b Balance
	if err := l.sql.QueryRow(ctx, sqlinline.QTopUpCredits, userID, monthly, extra).Scan(&b.Monthly, &b.Extra); err != nil {
		if infra.IsNoRows(err) {
			return Balance{}, domain.ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// Memory is an in-process ledger, safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	balances map[string]Balance
}

func NewMemory() *Memory {
	return &Memory{balances: map[string]Balance{}}
}

// Set overwrites a user's balance.
func (m *Memory) Set(userID string, b Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = b
}

func (m *Memory) Debit(ctx context.Context, userID string, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return false, nil
	}
	next, ok := Apply(b, amount)
	if !ok {
		return false, nil
	}
	m.balances[userID] = next
	return true, nil
}

func (m *Memory) Refund(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return domain.ErrNotFound
	}
	b.Extra += amount
	m.balances[userID] = b
	return nil
}

func (m *Memory) Balance(ctx context.Context, userID string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return Balance{}, domain.ErrNotFound
	}
	return b, nil
}

var (
	_ Ledger = (*PG)(nil)
	_ Ledger = (*Memory)(nil)
)
