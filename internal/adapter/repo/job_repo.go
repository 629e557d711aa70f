package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository and domain.AdmissionStore
// on the generations table.
type JobRepositoryPG struct {
	sql    infra.SQLExecutor
	logger *infra.Logger
}

// JobOption configures a JobRepositoryPG.
type JobOption func(*JobRepositoryPG)

// WithLogger sets the logger for best-effort side effects.
func WithLogger(l *infra.Logger) JobOption {
	return func(r *JobRepositoryPG) { r.logger = l }
}

// NewJobRepository creates a job repository over the given executor.
func NewJobRepository(sql infra.SQLExecutor, opts ...JobOption) *JobRepositoryPG {
	r := &JobRepositoryPG{sql: sql, logger: infra.NopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue inserts a pending job and announces it on the job channel. The
// announcement is best effort; the dispatcher also polls.
func (r *JobRepositoryPG) Enqueue(ctx context.Context, job *domain.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	var id string
	row := r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		job.ID, job.UserID, job.Prompt, job.ImageURL, job.Model(), opts, job.Source, job.ChatID, job.MessageID)
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("insert generation: %w", err)
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QNotifyGeneration, infra.JobChannel, id); err != nil {
		r.logger.Warn().Err(err).Str("job_id", id).Msg("enqueue: job notification not sent")
	}
	return id, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// OldestPending returns up to limit pending jobs of one source in FIFO order.
func (r *JobRepositoryPG) OldestPending(ctx context.Context, source string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectOldestPending, source, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// Claim moves a pending job to processing. False means another consumer
// got there first or the job is no longer pending.
func (r *JobRepositoryPG) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QClaimGeneration, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSubmitted records the provider task for a processing job.
func (r *JobRepositoryPG) MarkSubmitted(ctx context.Context, id string, sub domain.Submission) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkGenerationSubmitted, id, sub.TaskID, sub.Credential, sub.Credits, sub.MessageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark submitted %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// Complete moves a processing job to completed.
func (r *JobRepositoryPG) Complete(ctx context.Context, id, providerURL, outputURL string) (bool, error) {
	if outputURL == "" {
		outputURL = providerURL
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteGeneration, id, providerURL, outputURL)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Fail moves a processing job to failed with reason.
func (r *JobRepositoryPG) Fail(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailGeneration, id, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListInFlight returns processing jobs that already carry a provider task.
func (r *JobRepositoryPG) ListInFlight(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectInFlightGenerations)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// CountPending counts queued jobs of one source.
func (r *JobRepositoryPG) CountPending(ctx context.Context, source string) (int, error) {
	return r.count(ctx, sqlinline.QCountPending, source)
}

// CountProcessingSince counts processing jobs created at or after since.
func (r *JobRepositoryPG) CountProcessingSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx, sqlinline.QCountProcessingSince, since)
}

// CountUserProcessing counts a user's processing jobs regardless of age.
func (r *JobRepositoryPG) CountUserProcessing(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, sqlinline.QCountUserProcessing, userID)
}

// ReapStale fails the user's processing jobs created before the cutoff,
// however long they waited in the queue.
func (r *JobRepositoryPG) ReapStale(ctx context.Context, userID string, before time.Time, reason string) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QReapStaleGenerations, userID, before, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepositoryPG) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.sql.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		status  string
		options []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.ImageURL,
		&job.ModelID,
		&options,
		&status,
		&job.ProviderTaskID,
		&job.CredentialUsed,
		&job.CreditsCharged,
		&job.Source,
		&job.ChatID,
		&job.MessageID,
		&job.Error,
		&job.ProviderURL,
		&job.OutputURL,
		&job.CreatedAt,
		&job.StartedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Options = domain.Options{}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

var (
	_ domain.JobRepository  = (*JobRepositoryPG)(nil)
	_ domain.AdmissionStore = (*JobRepositoryPG)(nil)
)
