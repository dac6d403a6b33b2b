package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const analysisColumns = `id, user_id, trading_style, pattern, confidence, trend, timeframe,
    entry_point, stop_loss, target, risk_reward, explanation, parse_quality,
    raw_response, model, image_key, created_at`

func scanAnalysis(row interface{ Scan(...interface{}) error }) (Analysis, error) {
	var i Analysis
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.TradingStyle,
		&i.Pattern,
		&i.Confidence,
		&i.Trend,
		&i.Timeframe,
		&i.EntryPoint,
		&i.StopLoss,
		&i.Target,
		&i.RiskReward,
		&i.Explanation,
		&i.ParseQuality,
		&i.RawResponse,
		&i.Model,
		&i.ImageKey,
		&i.CreatedAt,
	)
	return i, err
}

const createAnalysis = `-- name: CreateAnalysis :one
INSERT INTO analyses (
    user_id, trading_style, pattern, confidence, trend, timeframe,
    entry_point, stop_loss, target, risk_reward, explanation, parse_quality,
    raw_response, model, image_key
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + analysisColumns

type CreateAnalysisParams struct {
	UserID       uuid.UUID
	TradingStyle string
	Pattern      sql.NullString
	Confidence   sql.NullString
	Trend        sql.NullString
	Timeframe    sql.NullString
	EntryPoint   sql.NullFloat64
	StopLoss     sql.NullFloat64
	Target       sql.NullFloat64
	RiskReward   sql.NullFloat64
	Explanation  string
	ParseQuality string
	RawResponse  pqtype.NullRawMessage
	Model        string
	ImageKey     sql.NullString
}

func (q *Queries) CreateAnalysis(ctx context.Context, arg CreateAnalysisParams) (Analysis, error) {
	row := q.db.QueryRowContext(ctx, createAnalysis,
		arg.UserID,
		arg.TradingStyle,
		arg.Pattern,
		arg.Confidence,
		arg.Trend,
		arg.Timeframe,
		arg.EntryPoint,
		arg.StopLoss,
		arg.Target,
		arg.RiskReward,
		arg.Explanation,
		arg.ParseQuality,
		arg.RawResponse,
		arg.Model,
		arg.ImageKey,
	)
	return scanAnalysis(row)
}

const getAnalysisForUser = `-- name: GetAnalysisForUser :one
SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1 AND user_id = $2`

type GetAnalysisForUserParams struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

func (q *Queries) GetAnalysisForUser(ctx context.Context, arg GetAnalysisForUserParams) (Analysis, error) {
	row := q.db.QueryRowContext(ctx, getAnalysisForUser, arg.ID, arg.UserID)
	return scanAnalysis(row)
}

const listAnalysesByUser = `-- name: ListAnalysesByUser :many
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

type ListAnalysesByUserParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListAnalysesByUser(ctx context.Context, arg ListAnalysesByUserParams) ([]Analysis, error) {
	rows, err := q.db.QueryContext(ctx, listAnalysesByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Analysis
	for rows.Next() {
		i, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countAnalysesByUser = `-- name: CountAnalysesByUser :one
SELECT COUNT(*) FROM analyses WHERE user_id = $1`

func (q *Queries) CountAnalysesByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAnalysesByUser, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countAnalysesInRange = `-- name: CountAnalysesInRange :one
SELECT COUNT(*)
FROM analyses
WHERE user_id = $1
  AND created_at >= $2
  AND ($3::timestamptz IS NULL OR created_at < $3::timestamptz)
  AND ($4::text[] IS NULL OR cardinality($4::text[]) = 0 OR trading_style = ANY($4::text[]))`

type CountAnalysesInRangeParams struct {
	UserID uuid.UUID
	Start  time.Time
	End    sql.NullTime // open-ended when invalid
	Styles []string     // all styles when empty
}

// CountAnalysesInRange counts a user's events in [Start, End), optionally
// restricted to a set of trading styles.
func (q *Queries) CountAnalysesInRange(ctx context.Context, arg CountAnalysesInRangeParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAnalysesInRange,
		arg.UserID,
		arg.Start,
		arg.End,
		pq.Array(arg.Styles),
	)
	var count int64
	err := row.Scan(&count)
	return count, err
}
