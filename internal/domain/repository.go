package domain

import (
	"context"
	"time"
)

// JobRepository persists jobs. Every status change is conditional on the
// current status, and the boolean results report whether the row moved.
type JobRepository interface {
	Enqueue(ctx context.Context, job *Job) (string, error)
	GetByID(ctx context.Context, id string) (*Job, error)
	OldestPending(ctx context.Context, source string, limit int) ([]Job, error)
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	MarkSubmitted(ctx context.Context, id string, sub Submission) error
	Complete(ctx context.Context, id, providerURL, outputURL string) (bool, error)
	Fail(ctx context.Context, id, reason string) (bool, error)
	ListInFlight(ctx context.Context) ([]Job, error)
	CountPending(ctx context.Context, source string) (int, error)
}

// Submission is what dispatch records once the provider accepted a job.
type Submission struct {
	TaskID     string
	Credential string
	Credits    int
	MessageID  int
}

// AdmissionStore backs the admission checks.
type AdmissionStore interface {
	CountProcessingSince(ctx context.Context, since time.Time) (int, error)
	CountUserProcessing(ctx context.Context, userID string) (int, error)
	ReapStale(ctx context.Context, userID string, before time.Time, reason string) (int64, error)
}

// UserRepository reads and updates accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	IncrementVideoCount(ctx context.Context, id string) error
}

// ModelRepository reads pricing metadata.
type ModelRepository interface {
	GetByID(ctx context.Context, modelID string) (*AIModel, error)
}
