package domain

import (
	"strconv"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Defaults applied to jobs missing the corresponding option.
const (
	DefaultModelID     = "kling-v1-6-std"
	DefaultAspectRatio = "16:9"
	DefaultDuration    = "5"
)

// Job is one image-to-video request.
type Job struct {
	ID             string
	UserID         string
	Prompt         string
	ImageURL       string
	ModelID        string
	Options        Options
	Status         JobStatus
	ProviderTaskID string
	CredentialUsed string
	CreditsCharged int
	Source         string
	ChatID         int64
	MessageID      int
	Error          string
	ProviderURL    string
	OutputURL      string
	CreatedAt      time.Time
	StartedAt      *time.Time
	UpdatedAt      time.Time
}

// Model returns the lower-cased model id, or the default model.
func (j Job) Model() string {
	m := strings.ToLower(strings.TrimSpace(j.ModelID))
	if m == "" {
		return DefaultModelID
	}
	return m
}

// Duration returns the requested clip length in seconds as stored in the
// options bag.
func (j Job) Duration() string {
	if d := j.Options.String("duration"); d != "" {
		return d
	}
	return DefaultDuration
}

// AspectRatio returns the requested aspect ratio or the default.
func (j Job) AspectRatio() string {
	if a := j.Options.String("aspect_ratio"); a != "" {
		return a
	}
	return DefaultAspectRatio
}

// Options is the free-form JSON options bag stored with a job.
type Options map[string]any

// String returns the option as a string; numbers are formatted without
// a fractional part when they are whole.
func (o Options) String(key string) string {
	switch v := o[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Float returns the option as a float64.
func (o Options) Float(key string) (float64, bool) {
	switch v := o[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int returns the option as an int.
func (o Options) Int(key string) (int, bool) {
	f, ok := o.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}
