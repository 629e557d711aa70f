package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidqueue/internal/domain"
)

// UserBalance returns the credit buckets of a user.
func (a *App) UserBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "id must be a uuid")
		return
	}
	user, err := a.Users.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Str("user_id", id).Msg("api: load user failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load user")
		return
	}
	bal, err := a.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		a.logger().Error().Err(err).Str("user_id", id).Msg("api: load balance failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"class":   user.Class,
		"monthly": bal.Monthly,
		"extra":   bal.Extra,
		"total":   bal.Total(),
		"exempt":  user.Class.CreditExempt(),
		"videos":  user.VideoCount,
	})
}
