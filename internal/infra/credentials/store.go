// Package credentials resolves the ordered list of provider API keys a job
// may be submitted with.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/sqlinline"
)

// DefaultPool is the pool used when a user's group has no keys.
const DefaultPool = "default"

type Store struct {
	sql    infra.SQLExecutor
	logger *infra.Logger
}

func NewStore(sql infra.SQLExecutor, logger *infra.Logger) *Store {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Store{sql: sql, logger: logger}
}

// Resolve returns the keys for user in failover order: the personal key of a
// bring-your-own-key account, otherwise the user's group pool, otherwise the
// default pool. An empty result is not an error.
func (s *Store) Resolve(ctx context.Context, user domain.User) ([]string, error) {
	if user.BringsOwnKey() {
		return normalize([]string{user.APIKey}), nil
	}
	if user.GroupID != nil {
		keys, err := s.keys(ctx, sqlinline.QSelectGroupKeys, *user.GroupID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("group_id", *user.GroupID).Msg("credentials: group pool unavailable, using default")
		} else if len(keys) > 0 {
			return keys, nil
		}
	}
	keys, err := s.keys(ctx, sqlinline.QSelectNamedGroupKeys, DefaultPool)
	if err != nil {
		return nil, fmt.Errorf("load default pool: %w", err)
	}
	return keys, nil
}

// SetPool creates or replaces the named pool and returns its id.
func (s *Store) SetPool(ctx context.Context, name string, keys []string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("pool name is required")
	}
	var cleaned []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return 0, errors.New("at least one api key is required")
	}
	var id int64
	if err := s.sql.QueryRow(ctx, sqlinline.QUpsertNamedGroupKeys, name, cleaned).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) keys(ctx context.Context, query string, arg any) ([]string, error) {
	var raw []string
	if err := s.sql.QueryRow(ctx, query, arg).Scan(&raw); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return normalize(raw), nil
}

// normalize keeps the part of each entry before an optional "|label" suffix.
func normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		key, _, _ := strings.Cut(entry, "|")
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// Mask shortens a key for logs.
func Mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
