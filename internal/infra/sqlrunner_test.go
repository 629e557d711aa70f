package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type recordingDB struct {
	query string
	args  []any
}

func (d *recordingDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	d.query, d.args = query, args
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (d *recordingDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	d.query, d.args = query, args
	return errorRow{err: pgx.ErrNoRows}
}

func (d *recordingDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	d.query, d.args = query, args
	return nil, errors.New("not implemented")
}

const markedQuery = `--sql 0b6f7a61-9d5e-4b39-9a52-51f3c1a0d6e2
update generations set status = 'processing' where id = $1`

func TestSQLRunnerStripsMarker(t *testing.T) {
	db := &recordingDB{}
	runner := NewSQLRunner(db, *NopLogger())

	tag, err := runner.Exec(context.Background(), markedQuery, "job-1")
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("RowsAffected = %d, want 1", tag.RowsAffected())
	}
	if db.query != "update generations set status = 'processing' where id = $1" {
		t.Fatalf("marker not stripped: %q", db.query)
	}
	if len(db.args) != 1 || db.args[0] != "job-1" {
		t.Fatalf("args not forwarded: %#v", db.args)
	}
}

func TestSQLRunnerRejectsUnmarkedQuery(t *testing.T) {
	db := &recordingDB{}
	runner := NewSQLRunner(db, *NopLogger())

	if _, err := runner.Exec(context.Background(), "select 1"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
	if db.query != "" {
		t.Fatal("unmarked query must not reach the database")
	}
	var n int
	if err := runner.QueryRow(context.Background(), "select 1").Scan(&n); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker from QueryRow, got %v", err)
	}
}

func TestSQLRunnerQueryRowPassesNoRows(t *testing.T) {
	runner := NewSQLRunner(&recordingDB{}, *NopLogger())
	var id string
	err := runner.QueryRow(context.Background(), markedQuery, "job-1").Scan(&id)
	if !IsNoRows(err) {
		t.Fatalf("expected no rows, got %v", err)
	}
}
