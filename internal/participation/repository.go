package participation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
)

// Repository handles survey response persistence and the atomic session
// counter.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a response. Returns alreadyRecorded = true when a response
// with the same id exists; the aggregator must not count it again.
func (r *Repository) Insert(ctx context.Context, resp *models.SurveyResponse) (alreadyRecorded bool, err error) {
	const q = `INSERT INTO survey_responses (id, microclimate_id, user_id, answers)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, resp.ID, resp.MicroclimateID, resp.UserID, resp.Answers)
	if err != nil {
		return false, apperrors.Transient("insert response", err)
	}
	return tag.RowsAffected() == 0, nil
}

// IncrementResponseCount bumps the session counter atomically and returns
// the new value. Concurrent responses to the same session serialize here;
// different sessions never contend.
func (r *Repository) IncrementResponseCount(ctx context.Context, microclimateID uuid.UUID) (int, error) {
	const q = `UPDATE microclimates SET response_count = response_count + 1, updated_at = NOW()
		WHERE id = $1 RETURNING response_count`
	var count int
	err := r.pool.QueryRow(ctx, q, microclimateID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("microclimate")
		}
		return 0, apperrors.Transient("increment response count", err)
	}
	return count, nil
}
