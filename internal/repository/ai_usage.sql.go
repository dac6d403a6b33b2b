package repository

import (
	"context"

	"github.com/google/uuid"
)

const createAIUsage = `-- name: CreateAIUsage :one
INSERT INTO ai_usage (user_id, analysis_id, model, input_tokens, output_tokens, cost_cents, request_type)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_id, analysis_id, model, input_tokens, output_tokens, cost_cents, request_type, created_at`

type CreateAIUsageParams struct {
	UserID       uuid.UUID
	AnalysisID   uuid.NullUUID
	Model        string
	InputTokens  int32
	OutputTokens int32
	CostCents    int32
	RequestType  string
}

func (q *Queries) CreateAIUsage(ctx context.Context, arg CreateAIUsageParams) (AiUsage, error) {
	row := q.db.QueryRowContext(ctx, createAIUsage,
		arg.UserID,
		arg.AnalysisID,
		arg.Model,
		arg.InputTokens,
		arg.OutputTokens,
		arg.CostCents,
		arg.RequestType,
	)
	var i AiUsage
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.AnalysisID,
		&i.Model,
		&i.InputTokens,
		&i.OutputTokens,
		&i.CostCents,
		&i.RequestType,
		&i.CreatedAt,
	)
	return i, err
}
