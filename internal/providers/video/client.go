// Package video talks to the image-to-video provider: task submission with
// API key failover and task status polling.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/infra/credentials"
)

// APIKeyHeader carries the provider credential.
const APIKeyHeader = "x-freepik-api-key"

// Poll states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Options configures the provider client.
type Options struct {
	BaseURL       string
	Catalog       *Catalog
	HTTPClient    *http.Client
	Logger        *infra.Logger
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
}

// Client performs HTTP calls to the provider API.
type Client struct {
	baseURL       string
	catalog       *Catalog
	httpClient    *http.Client
	logger        *infra.Logger
	submitTimeout time.Duration
	pollTimeout   time.Duration
}

// SubmitRequest is one generation to start.
type SubmitRequest struct {
	ModelID     string
	ImageURL    string
	Prompt      string
	Options     domain.Options
	Credentials []string
}

// SubmitResult identifies the accepted provider task.
type SubmitResult struct {
	TaskID     string
	Credential string
}

// PollResult is the normalized provider status.
type PollResult struct {
	State     string
	ResultURL string
	Error     string
}

// SubmitError is returned when every credential failed. Message holds the
// last provider error verbatim.
type SubmitError struct {
	Message  string
	Attempts int
}

func (e *SubmitError) Error() string { return e.Message }

func (e *SubmitError) Unwrap() error { return domain.ErrProviderFailure }

// NewClient constructs a client with defaults for anything left unset.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.freepik.com/v1/ai"
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	submit := opts.SubmitTimeout
	if submit <= 0 {
		submit = 30 * time.Second
	}
	poll := opts.PollTimeout
	if poll <= 0 {
		poll = 20 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		catalog:       catalog,
		httpClient:    httpClient,
		logger:        logger,
		submitTimeout: submit,
		pollTimeout:   poll,
	}
}

// Submit posts the job with each credential in order until one is accepted.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	spec, err := c.catalog.Lookup(req.ModelID)
	if err != nil {
		return SubmitResult{}, err
	}
	payload, err := BuildPayload(spec, req.ImageURL, req.Prompt, req.Options)
	if err != nil {
		return SubmitResult{}, err
	}
	if len(req.Credentials) == 0 {
		return SubmitResult{}, domain.ErrNoCredentials
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("video: encode payload: %w", err)
	}

	endpoint := c.baseURL + spec.Endpoint
	lastErr := "Unknown error"
	for i, key := range req.Credentials {
		if err := ctx.Err(); err != nil {
			return SubmitResult{}, err
		}
		taskID, status, msg := c.post(ctx, endpoint, key, body)
		if taskID != "" {
			c.logger.Info().Str("model", spec.ID).Str("task_id", taskID).Str("key", credentials.Mask(key)).Msg("video: task accepted")
			return SubmitResult{TaskID: taskID, Credential: key}, nil
		}
		lastErr = msg
		ev := c.logger.Warn().Str("model", spec.ID).Int("status", status).Str("key", credentials.Mask(key)).Int("attempt", i+1)
		if status == http.StatusTooManyRequests {
			ev.Str("error", msg).Msg("video: key rate limited, trying next")
			continue
		}
		if status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
			ev = ev.RawJSON("payload", body)
		}
		ev.Str("error", msg).Msg("video: submit rejected, trying next key")
	}
	return SubmitResult{}, &SubmitError{Message: lastErr, Attempts: len(req.Credentials)}
}

// post returns the task id on success, otherwise the HTTP status (0 for
// transport errors) and the error text.
func (c *Client) post(ctx context.Context, endpoint, key string, body []byte) (string, int, string) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, err.Error()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(APIKeyHeader, key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, err.Error()
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err.Error()
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", resp.StatusCode, strings.TrimSpace(string(raw))
	}
	taskID := taskIDOf(parsed)
	if resp.StatusCode == http.StatusOK && taskID != "" {
		return taskID, resp.StatusCode, ""
	}
	return "", resp.StatusCode, errorText(parsed, raw)
}

// Poll fetches the status of a provider task.
func (c *Client) Poll(ctx context.Context, modelID, taskID, credential string) (PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	endpoint := c.baseURL + c.catalog.StatusEndpoint(modelID) + "/" + taskID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PollResult{}, err
	}
	httpReq.Header.Set(APIKeyHeader, credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PollResult{}, fmt.Errorf("video: poll %s: %w", taskID, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, fmt.Errorf("video: read poll body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return PollResult{}, fmt.Errorf("video: poll %s: %w", taskID, domain.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return PollResult{}, fmt.Errorf("video: poll %s: status %d", taskID, resp.StatusCode)
	}
	return ParseStatus(raw)
}

// ParseStatus normalizes a status body. The task object sits under "data" or
// at the top level.
func ParseStatus(raw []byte) (PollResult, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return PollResult{}, fmt.Errorf("video: decode status: %w", err)
	}
	data, ok := body["data"].(map[string]any)
	if !ok || len(data) == 0 {
		data = body
	}
	status, _ := data["status"].(string)
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED", "SUCCESS":
		return PollResult{State: StateCompleted, ResultURL: resultURL(data)}, nil
	case "FAILED", "ERROR":
		msg := stringOf(data["error"])
		if msg == "" {
			msg = "Unknown error"
		}
		return PollResult{State: StateFailed, Error: msg}, nil
	default:
		return PollResult{State: StateRunning}, nil
	}
}

func resultURL(data map[string]any) string {
	if generated, ok := data["generated"].([]any); ok && len(generated) > 0 {
		if s, ok := generated[0].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"video", "result"} {
		if obj, ok := data[key].(map[string]any); ok {
			if s, ok := obj["url"].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func taskIDOf(body map[string]any) string {
	if data, ok := body["data"].(map[string]any); ok {
		if id := stringOf(data["task_id"]); id != "" {
			return id
		}
	}
	return stringOf(body["task_id"])
}

func errorText(body map[string]any, raw []byte) string {
	for _, key := range []string{"message", "error"} {
		if s := stringOf(body[key]); s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
