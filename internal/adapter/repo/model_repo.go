package repo

import (
	"context"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/sqlinline"
)

// ModelRepositoryPG reads pricing rows from ai_models.
type ModelRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewModelRepository(sql infra.SQLExecutor) *ModelRepositoryPG {
	return &ModelRepositoryPG{sql: sql}
}

func (r *ModelRepositoryPG) GetByID(ctx context.Context, modelID string) (*domain.AIModel, error) {
	var m domain.AIModel
	err := r.sql.QueryRow(ctx, sqlinline.QSelectAIModel, modelID).Scan(
		&m.ModelID, &m.DisplayName, &m.CreditCost, &m.CostPro, &m.CostPro5s, &m.CostPro10s, &m.IsFreePro5s,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

var _ domain.ModelRepository = (*ModelRepositoryPG)(nil)
