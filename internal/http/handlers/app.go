package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"vidqueue/internal/cooldown"
	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/ledger"
	"vidqueue/internal/notify"
	"vidqueue/internal/providers/video"
)

// JobStore is the part of the job repository the API uses.
type JobStore interface {
	Enqueue(ctx context.Context, job *domain.Job) (string, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
}

// ModelCatalog validates requested models.
type ModelCatalog interface {
	Lookup(modelID string) (video.ModelSpec, error)
}

// CooldownChecker pre-checks the motion-control throttle.
type CooldownChecker interface {
	Check(ctx context.Context, userID string, class domain.AccountClass, modelID string) cooldown.Decision
}

// Balances reads credit balances.
type Balances interface {
	Balance(ctx context.Context, userID string) (ledger.Balance, error)
}

type App struct {
	Jobs     JobStore
	Users    domain.UserRepository
	Catalog  ModelCatalog
	Cooldown CooldownChecker
	Ledger   Balances
	Texts    *notify.Texts
	Logger   *infra.Logger
	Source   string

	// StaticDir, when set, is served under StaticPrefix for videos kept on
	// local disk.
	StaticDir string
}

// StaticPrefix is the URL path local artifacts are served from. It matches
// the default STORAGE_BASE_URL.
const StaticPrefix = "/static/"

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return infra.NopLogger()
	}
	return a.Logger
}
