package microclimates

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
)

const microclimateColumns = `id, company_id, creator_id, title, status, start_time, duration_minutes,
	show_live_results, anonymous, target_departments, target_participant_count, response_count,
	questions, created_at, updated_at`

// Repository handles microclimate persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a microclimates repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMicroclimate(row pgx.Row) (*models.Microclimate, error) {
	var m models.Microclimate
	var questions []byte
	err := row.Scan(&m.ID, &m.CompanyID, &m.CreatorID, &m.Title, &m.Status,
		&m.Scheduling.StartTime, &m.Scheduling.DurationMinutes,
		&m.RealTimeSettings.ShowLiveResults, &m.RealTimeSettings.Anonymous,
		&m.TargetDepartments, &m.TargetParticipantCount, &m.ResponseCount,
		&questions, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("microclimate")
		}
		return nil, apperrors.Transient("select microclimate", err)
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &m.Questions); err != nil {
			return nil, apperrors.Transient("decode questions", err)
		}
	}
	return &m, nil
}

// Create inserts a new microclimate in draft status.
func (r *Repository) Create(ctx context.Context, m *models.Microclimate) error {
	questions, err := json.Marshal(m.Questions)
	if err != nil {
		return apperrors.Validationf("invalid questions: %v", err)
	}
	if m.TargetDepartments == nil {
		m.TargetDepartments = []uuid.UUID{}
	}
	const q = `INSERT INTO microclimates (company_id, creator_id, title, status, start_time, duration_minutes,
			show_live_results, anonymous, target_departments, questions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, q, m.CompanyID, m.CreatorID, m.Title, string(m.Status),
		m.Scheduling.StartTime, m.Scheduling.DurationMinutes,
		m.RealTimeSettings.ShowLiveResults, m.RealTimeSettings.Anonymous,
		m.TargetDepartments, questions).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return apperrors.Transient("insert microclimate", err)
	}
	return nil
}

// GetByID returns a microclimate by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Microclimate, error) {
	return scanMicroclimate(r.pool.QueryRow(ctx,
		`SELECT `+microclimateColumns+` FROM microclimates WHERE id = $1`, id))
}

// ListByCompany returns all microclimates for a company, newest first.
func (r *Repository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Microclimate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+microclimateColumns+` FROM microclimates WHERE company_id = $1 ORDER BY start_time DESC`, companyID)
	if err != nil {
		return nil, apperrors.Transient("list microclimates", err)
	}
	defer rows.Close()
	var list []*models.Microclimate
	for rows.Next() {
		m, err := scanMicroclimate(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("list microclimates", err)
	}
	return list, nil
}

// Update persists lifecycle fields mutated by the activation engine.
// response_count is owned by the participation aggregator and not written here.
func (r *Repository) Update(ctx context.Context, m *models.Microclimate) error {
	const q = `UPDATE microclimates SET status = $1, start_time = $2, duration_minutes = $3,
		target_participant_count = $4, updated_at = NOW()
		WHERE id = $5 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, string(m.Status), m.Scheduling.StartTime, m.Scheduling.DurationMinutes,
		m.TargetParticipantCount, m.ID).Scan(&m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("microclimate")
		}
		return apperrors.Transient("update microclimate", err)
	}
	return nil
}

// ComputeInviteList resolves the final invite audience for a session from
// company and department targeting. The creator is excluded; they run the
// session rather than respond to it.
func (r *Repository) ComputeInviteList(ctx context.Context, m *models.Microclimate) ([]uuid.UUID, error) {
	const q = `SELECT id FROM users
		WHERE company_id = $1
		  AND id <> $2
		  AND (cardinality($3::uuid[]) = 0 OR department_id = ANY($3::uuid[]))`
	rows, err := r.pool.Query(ctx, q, m.CompanyID, m.CreatorID, m.TargetDepartments)
	if err != nil {
		return nil, apperrors.Transient("compute invite list", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Transient("scan invite list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("compute invite list", err)
	}
	return ids, nil
}

// ListElapsedActive returns ids of active sessions whose scheduling window
// has elapsed at the given instant. Used by the completion sweeper.
func (r *Repository) ListElapsedActive(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const q = `SELECT id FROM microclimates
		WHERE status = 'active'
		  AND start_time + duration_minutes * INTERVAL '1 minute' < $1`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, apperrors.Transient("list elapsed sessions", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Transient("scan elapsed sessions", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("list elapsed sessions", err)
	}
	return ids, nil
}
