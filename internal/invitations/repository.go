package invitations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
)

const invitationColumns = `id, microclimate_id, user_id, company_id, invitation_token, status,
	expires_at, sent_at, opened_at, completed_at,
	COALESCE(user_agent,''), COALESCE(ip_address,''), created_at, updated_at`

// Repository handles invitation and delivery-log persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invitations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.MicroclimateID, &inv.UserID, &inv.CompanyID, &inv.Token, &inv.Status,
		&inv.ExpiresAt, &inv.SentAt, &inv.OpenedAt, &inv.CompletedAt,
		&inv.Metadata.UserAgent, &inv.Metadata.IPAddress, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("invitation")
		}
		return nil, apperrors.Transient("select invitation", err)
	}
	return &inv, nil
}

// Create inserts one invitation.
func (r *Repository) Create(ctx context.Context, inv *models.Invitation) error {
	const q = `INSERT INTO invitations (microclimate_id, user_id, company_id, invitation_token, status, expires_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, inv.MicroclimateID, inv.UserID, inv.CompanyID, inv.Token,
		string(inv.Status), inv.ExpiresAt, inv.SentAt).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return apperrors.Transient("insert invitation", err)
	}
	return nil
}

// GetByID returns an invitation by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
}

// GetByToken returns an invitation by its bearer token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE invitation_token = $1`, token))
}

// Update persists status, timestamps and metadata.
func (r *Repository) Update(ctx context.Context, inv *models.Invitation) error {
	const q = `UPDATE invitations SET status = $1, sent_at = $2, opened_at = $3, completed_at = $4,
		user_agent = NULLIF($5,''), ip_address = NULLIF($6,''), updated_at = NOW()
		WHERE id = $7 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, string(inv.Status), inv.SentAt, inv.OpenedAt, inv.CompletedAt,
		inv.Metadata.UserAgent, inv.Metadata.IPAddress, inv.ID).Scan(&inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("invitation")
		}
		return apperrors.Transient("update invitation", err)
	}
	return nil
}

// ListByMicroclimate returns all invitations for a session, oldest first.
func (r *Repository) ListByMicroclimate(ctx context.Context, microclimateID uuid.UUID) ([]*models.Invitation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE microclimate_id = $1 ORDER BY created_at`, microclimateID)
	if err != nil {
		return nil, apperrors.Transient("list invitations", err)
	}
	defer rows.Close()
	var list []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("list invitations", err)
	}
	return list, nil
}

// LogDelivery records one delivery attempt.
func (r *Repository) LogDelivery(ctx context.Context, d *models.InvitationDelivery) error {
	const q = `INSERT INTO invitation_deliveries (microclimate_id, invitation_id, recipient, channel, status, sent_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''))
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, d.MicroclimateID, d.InvitationID, d.Recipient, d.Channel, d.Status, d.SentAt, d.ErrorMessage).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return apperrors.Transient("insert delivery", err)
	}
	return nil
}

// ListDeliveries returns delivery attempts for a session, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, microclimateID uuid.UUID) ([]*models.InvitationDelivery, error) {
	const q = `SELECT id, microclimate_id, invitation_id, recipient, channel, status, sent_at, COALESCE(error_message,''), created_at
		FROM invitation_deliveries WHERE microclimate_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, microclimateID)
	if err != nil {
		return nil, apperrors.Transient("list deliveries", err)
	}
	defer rows.Close()
	var list []*models.InvitationDelivery
	for rows.Next() {
		var d models.InvitationDelivery
		if err := rows.Scan(&d.ID, &d.MicroclimateID, &d.InvitationID, &d.Recipient, &d.Channel, &d.Status, &d.SentAt, &d.ErrorMessage, &d.CreatedAt); err != nil {
			return nil, apperrors.Transient("scan delivery", err)
		}
		list = append(list, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("list deliveries", err)
	}
	return list, nil
}
