package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidqueue/internal/domain"
)

type enqueueRequest struct {
	UserID    string         `json:"user_id"`
	Prompt    string         `json:"prompt"`
	ImageURL  string         `json:"image_url"`
	ModelID   string         `json:"model_id"`
	Options   domain.Options `json:"options"`
	Source    string         `json:"source"`
	ChatID    int64          `json:"chat_id"`
	MessageID int            `json:"message_id"`
}

type jobResponse struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Status      domain.JobStatus `json:"status"`
	ModelID     string           `json:"model_id"`
	Prompt      string           `json:"prompt,omitempty"`
	TaskID      string           `json:"task_id,omitempty"`
	Credits     int              `json:"credits_used"`
	Error       string           `json:"error,omitempty"`
	ProviderURL string           `json:"video_url,omitempty"`
	OutputURL   string           `json:"output_url,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		UserID:      j.UserID,
		Status:      j.Status,
		ModelID:     j.Model(),
		Prompt:      j.Prompt,
		TaskID:      j.ProviderTaskID,
		Credits:     j.CreditsCharged,
		Error:       j.Error,
		ProviderURL: j.ProviderURL,
		OutputURL:   j.OutputURL,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// EnqueueJob validates a generation request and queues it as pending.
func (a *App) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "user_id must be a uuid")
		return
	}
	job := domain.Job{
		UserID:    req.UserID,
		Prompt:    strings.TrimSpace(req.Prompt),
		ImageURL:  strings.TrimSpace(req.ImageURL),
		ModelID:   req.ModelID,
		Options:   req.Options,
		Source:    req.Source,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
	}
	if job.Source == "" {
		job.Source = a.Source
	}
	model := job.Model()
	spec, err := a.Catalog.Lookup(model)
	if err != nil {
		a.error(w, http.StatusBadRequest, "unknown_model", "model "+model+" is not supported")
		return
	}
	if msg := validateImageURL(job.ImageURL, spec.RequiresHTTPS); msg != "" {
		a.error(w, http.StatusBadRequest, "bad_request", msg)
		return
	}

	user, err := a.Users.GetByID(r.Context(), req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Str("user_id", req.UserID).Msg("api: load user failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load user")
		return
	}
	if a.Cooldown != nil {
		if d := a.Cooldown.Check(r.Context(), user.ID, user.Class, model); !d.Allowed {
			secs := int(d.Remaining.Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			a.error(w, http.StatusTooManyRequests, "cooldown", a.Texts.Cooldown(d.Cycle, secs/60, secs%60))
			return
		}
	}

	id, err := a.Jobs.Enqueue(r.Context(), &job)
	if err != nil {
		a.logger().Error().Err(err).Str("user_id", req.UserID).Msg("api: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.logger().Info().Str("job_id", id).Str("user_id", user.ID).Str("model", model).Msg("api: job queued")
	a.json(w, http.StatusAccepted, map[string]any{"id": id, "status": domain.JobStatusPending})
}

// GetJob reports the current state of a job.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "id must be a uuid")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Str("job_id", id).Msg("api: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

func validateImageURL(raw string, requireHTTPS bool) string {
	if raw == "" {
		return "image_url is required"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "image_url must be an absolute http(s) url"
	}
	if requireHTTPS && u.Scheme != "https" {
		return "this model requires an https image_url"
	}
	return ""
}
