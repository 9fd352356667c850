// Package invitations owns the invitation lifecycle: issuance, delivery
// tracking, lazy expiry, resend and cancellation. An invitation token is the
// sole credential for cross-context access to a session and is treated as a
// bearer secret throughout.
package invitations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/pkg/queue"
)

// Store is the invitation persistence adapter.
type Store interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)
	Update(ctx context.Context, inv *models.Invitation) error
	ListByMicroclimate(ctx context.Context, microclimateID uuid.UUID) ([]*models.Invitation, error)
	ListDeliveries(ctx context.Context, microclimateID uuid.UUID) ([]*models.InvitationDelivery, error)
}

// SessionStore is the read-only view of microclimates the engine needs to
// gate invitation operations on session status.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Microclimate, error)
}

// UserStore resolves invited users to delivery recipients.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Delivery is the transport collaborator. The engine only records the
// attempt; actual sending happens in the worker.
type Delivery interface {
	EnqueueInvitationEmail(ctx context.Context, payload queue.InvitationEmailPayload) error
}

// Service is the invitation lifecycle engine.
type Service struct {
	store    Store
	sessions SessionStore
	users    UserStore
	delivery Delivery
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the invitation lifecycle engine.
func NewService(store Store, sessions SessionStore, users UserStore, delivery Delivery, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		sessions: sessions,
		users:    users,
		delivery: delivery,
		logger:   logger,
		now:      time.Now,
	}
}

// canAccess reports whether the requester's company may touch a resource of
// the given company. Super admins cross company boundaries.
func canAccess(resourceCompanyID, requesterCompanyID uuid.UUID, requesterRole models.Role) bool {
	return requesterRole == models.RoleSuperAdmin || resourceCompanyID == requesterCompanyID
}

// CreateInvitations issues one invitation per user id with a fresh unique
// token. Default expiry is the session end time. Fails when userIDs is empty,
// the session does not resolve, the session belongs to another company, or
// the session is already terminal.
func (s *Service) CreateInvitations(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role, userIDs []uuid.UUID, expiresAt *time.Time, sendImmediately bool) ([]*models.Invitation, error) {
	if len(userIDs) == 0 {
		return nil, apperrors.Validationf("user_ids must not be empty")
	}
	session, err := s.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Validationf("microclimate %s does not resolve", microclimateID)
		}
		return nil, err
	}
	if !canAccess(session.CompanyID, requesterCompanyID, requesterRole) {
		s.logger.Warn("invitation create outside requester company",
			zap.String("microclimate_id", microclimateID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("session outside requester company")
	}
	if session.Status.Terminal() {
		return nil, apperrors.InvalidStatef("cannot invite to a %s session", session.Status)
	}

	expiry := session.Scheduling.EndTime()
	if expiresAt != nil {
		expiry = *expiresAt
	}

	now := s.now()
	invitations := make([]*models.Invitation, 0, len(userIDs))
	for _, userID := range userIDs {
		token, err := generateToken()
		if err != nil {
			return nil, apperrors.Transient("generate token", err)
		}
		inv := &models.Invitation{
			MicroclimateID: microclimateID,
			UserID:         userID,
			CompanyID:      session.CompanyID,
			Token:          token,
			Status:         models.InvitationPending,
			ExpiresAt:      expiry,
		}
		if sendImmediately {
			sentAt := now
			inv.Status = models.InvitationSent
			inv.SentAt = &sentAt
		}
		if err := s.store.Create(ctx, inv); err != nil {
			return nil, err
		}
		if sendImmediately {
			s.enqueueDelivery(ctx, session, inv)
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}

// Resend re-triggers delivery for an invitation and refreshes sent_at.
// Forbidden once the invitation is completed, expired or cancelled, and once
// the session itself is terminal. Expiry is terminal here: an expired token
// is never resent, a new invitation must be issued instead.
func (s *Service) Resend(ctx context.Context, id, requesterCompanyID uuid.UUID, requesterRole models.Role) (*models.Invitation, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(inv.CompanyID, requesterCompanyID, requesterRole) {
		s.logger.Warn("invitation resend outside requester company",
			zap.String("invitation_id", inv.ID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("invitation outside requester company")
	}
	session, err := s.sessions.GetByID(ctx, inv.MicroclimateID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, apperrors.InvalidStatef("session is %s, invitations can no longer be sent", session.Status)
	}

	switch inv.EffectiveStatus(s.now()) {
	case models.InvitationCompleted:
		return nil, apperrors.InvalidStatef("invitation already completed")
	case models.InvitationExpired:
		return nil, apperrors.InvalidStatef("invitation expired; issue a new one")
	case models.InvitationCancelled:
		return nil, apperrors.InvalidStatef("invitation cancelled")
	}

	sentAt := s.now()
	inv.SentAt = &sentAt
	// An opened invitation stays opened; resending refreshes delivery only.
	if inv.Status.Rank() < models.InvitationSent.Rank() {
		inv.Status = models.InvitationSent
	}
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, err
	}
	s.enqueueDelivery(ctx, session, inv)
	return inv, nil
}

// eventStatus maps an inbound tracking event name to its invitation status.
var eventStatus = map[string]models.InvitationStatus{
	"sent":      models.InvitationSent,
	"opened":    models.InvitationOpened,
	"completed": models.InvitationCompleted,
}

// TrackStatus applies a delivery/open/completion event to the invitation
// holding the token. Transitions are monotonic forward only: an event older
// than the current status is a no-op, not an error, so retried and
// out-of-order callbacks are harmless. Terminal invitations never change.
func (s *Service) TrackStatus(ctx context.Context, token, event string, meta models.InvitationMetadata) (*models.Invitation, error) {
	target, ok := eventStatus[event]
	if !ok {
		return nil, apperrors.Validationf("unknown tracking event %q", event)
	}
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.EffectiveStatus(s.now()).Terminal() {
		return inv, nil
	}
	if target.Rank() <= inv.Status.Rank() {
		return inv, nil
	}

	now := s.now()
	switch target {
	case models.InvitationSent:
		inv.SentAt = &now
	case models.InvitationOpened:
		inv.OpenedAt = &now
	case models.InvitationCompleted:
		inv.CompletedAt = &now
	}
	inv.Status = target
	if meta.UserAgent != "" {
		inv.Metadata.UserAgent = meta.UserAgent
	}
	if meta.IPAddress != "" {
		inv.Metadata.IPAddress = meta.IPAddress
	}
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Cancel forces an invitation to cancelled. Fails on a completed or expired
// invitation; cancelling an already-cancelled invitation is a no-op.
func (s *Service) Cancel(ctx context.Context, id, requesterCompanyID uuid.UUID, requesterRole models.Role) (*models.Invitation, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(inv.CompanyID, requesterCompanyID, requesterRole) {
		s.logger.Warn("invitation cancel outside requester company",
			zap.String("invitation_id", inv.ID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("invitation outside requester company")
	}
	switch inv.EffectiveStatus(s.now()) {
	case models.InvitationCompleted:
		return nil, apperrors.InvalidStatef("invitation already completed")
	case models.InvitationExpired:
		return nil, apperrors.InvalidStatef("invitation already expired")
	case models.InvitationCancelled:
		return inv, nil
	}
	inv.Status = models.InvitationCancelled
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Resolved is the session content returned for a valid token.
type Resolved struct {
	Invitation   *models.Invitation   `json:"invitation"`
	Microclimate *models.Microclimate `json:"microclimate"`
}

// ResolveByToken returns the session for an invitation token after verifying
// token ownership and company scope. Authorization failures surface as
// AccessDenied, which handlers present identically to NotFound; the
// distinction exists for audit logging only. A valid access marks the
// invitation opened.
func (s *Service) ResolveByToken(ctx context.Context, token string, requesterID, requesterCompanyID uuid.UUID, meta models.InvitationMetadata) (*Resolved, error) {
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.UserID != requesterID {
		s.logger.Warn("invitation token ownership mismatch",
			zap.String("invitation_id", inv.ID.String()),
			zap.String("requester_id", requesterID.String()))
		return nil, apperrors.AccessDenied("token does not belong to requester")
	}
	if inv.CompanyID != requesterCompanyID {
		s.logger.Warn("invitation token company mismatch",
			zap.String("invitation_id", inv.ID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("token outside requester company")
	}

	now := s.now()
	switch {
	case inv.Status == models.InvitationCancelled:
		return nil, apperrors.InvalidStatef("invitation cancelled")
	case inv.EffectiveStatus(now) == models.InvitationExpired:
		// Lazily persist the observed expiry so later reads agree.
		if !inv.Status.Terminal() {
			inv.Status = models.InvitationExpired
			if err := s.store.Update(ctx, inv); err != nil {
				s.logger.Warn("persist lazy expiry failed", zap.Error(err), zap.String("invitation_id", inv.ID.String()))
			}
		}
		return nil, apperrors.InvalidStatef("invitation expired")
	}

	if models.InvitationOpened.Rank() > inv.Status.Rank() {
		inv.Status = models.InvitationOpened
		inv.OpenedAt = &now
		if meta.UserAgent != "" {
			inv.Metadata.UserAgent = meta.UserAgent
		}
		if meta.IPAddress != "" {
			inv.Metadata.IPAddress = meta.IPAddress
		}
		if err := s.store.Update(ctx, inv); err != nil {
			return nil, err
		}
	}

	session, err := s.sessions.GetByID(ctx, inv.MicroclimateID)
	if err != nil {
		return nil, err
	}
	return &Resolved{Invitation: inv, Microclimate: session}, nil
}

// ListByMicroclimate returns all invitations for a session with expiry
// observed lazily: records past expiry read as expired without waiting for a
// writer to terminalize them.
func (s *Service) ListByMicroclimate(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role) ([]*models.Invitation, error) {
	session, err := s.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		return nil, err
	}
	if !canAccess(session.CompanyID, requesterCompanyID, requesterRole) {
		s.logger.Warn("invitation list outside requester company",
			zap.String("microclimate_id", microclimateID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("session outside requester company")
	}
	list, err := s.store.ListByMicroclimate(ctx, microclimateID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, inv := range list {
		inv.Status = inv.EffectiveStatus(now)
	}
	return list, nil
}

// ListDeliveries returns the delivery attempt log for a session.
func (s *Service) ListDeliveries(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role) ([]*models.InvitationDelivery, error) {
	session, err := s.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		return nil, err
	}
	if !canAccess(session.CompanyID, requesterCompanyID, requesterRole) {
		s.logger.Warn("delivery list outside requester company",
			zap.String("microclimate_id", microclimateID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("session outside requester company")
	}
	return s.store.ListDeliveries(ctx, microclimateID)
}

// enqueueDelivery hands the token to the delivery transport. Failures are
// logged, not propagated: the invitation exists either way and resend covers
// lost deliveries.
func (s *Service) enqueueDelivery(ctx context.Context, session *models.Microclimate, inv *models.Invitation) {
	if s.delivery == nil || s.users == nil {
		return
	}
	user, err := s.users.GetByID(ctx, inv.UserID)
	if err != nil {
		s.logger.Warn("delivery recipient lookup failed", zap.Error(err), zap.String("invitation_id", inv.ID.String()))
		return
	}
	err = s.delivery.EnqueueInvitationEmail(ctx, queue.InvitationEmailPayload{
		InvitationID:   inv.ID,
		MicroclimateID: session.ID,
		Token:          inv.Token,
		Recipient:      user.Email,
		Subject:        "You're invited: " + session.Title,
	})
	if err != nil {
		s.logger.Error("enqueue delivery failed", zap.Error(err), zap.String("invitation_id", inv.ID.String()))
	}
}
