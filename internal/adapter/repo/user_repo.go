package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/sqlinline"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(sql infra.SQLExecutor) *UserRepositoryPG {
	return &UserRepositoryPG{sql: sql}
}

// GetByID fetches a user by UUID.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QSelectUserByID, id))
}

// IncrementVideoCount bumps the lifetime video counter.
func (r *UserRepositoryPG) IncrementVideoCount(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QIncrementVideoCount, id)
	return err
}

// CooldownState returns the generation cycle counter and last generation time.
func (r *UserRepositoryPG) CooldownState(ctx context.Context, id string) (int, *time.Time, error) {
	var (
		cycle int
		last  *time.Time
	)
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectCooldownState, id).Scan(&cycle, &last); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil, domain.ErrNotFound
		}
		return 0, nil, err
	}
	return cycle, last, nil
}

// SaveCooldownState stores the cycle counter and its timestamp.
func (r *UserRepositoryPG) SaveCooldownState(ctx context.Context, id string, cycle int, at time.Time) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateCooldownState, id, cycle, at)
	return err
}

// SetClass changes the account class and returns the user's code.
func (r *UserRepositoryPG) SetClass(ctx context.Context, id string, class domain.AccountClass) (string, error) {
	var (
		gotID, code, stored string
	)
	if err := r.sql.QueryRow(ctx, sqlinline.QUpdateUserClass, id, string(class)).Scan(&gotID, &code, &stored); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("update class: %w", err)
	}
	return code, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u     domain.User
		class string
	)
	if err := row.Scan(
		&u.ID,
		&u.Code,
		&class,
		&u.MonthlyCredits,
		&u.ExtraCredits,
		&u.TotalGenCycle,
		&u.LastGenerationTime,
		&u.GroupID,
		&u.APIKey,
		&u.VideoCount,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	u.Class = domain.ParseAccountClass(class)
	return &u, nil
}

var _ domain.UserRepository = (*UserRepositoryPG)(nil)
