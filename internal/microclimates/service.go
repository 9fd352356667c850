// Package microclimates owns the session-activation state machine:
// draft → scheduled → active → completed, with cancellation from any
// non-terminal status. Activation snapshots the invite audience and opens
// the session to the realtime room.
package microclimates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/internal/realtime"
)

// ActivationGrace absorbs clock drift and UI latency: a session whose
// scheduled start passed less than this long ago activates with its start
// snapped to now; older starts are rejected as stale.
const ActivationGrace = 5 * time.Minute

// Requester identifies who is asking for a lifecycle transition.
type Requester struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      models.Role
}

// Store is the microclimate persistence adapter.
type Store interface {
	Create(ctx context.Context, m *models.Microclimate) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Microclimate, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Microclimate, error)
	Update(ctx context.Context, m *models.Microclimate) error
	ComputeInviteList(ctx context.Context, m *models.Microclimate) ([]uuid.UUID, error)
}

// Inviter is the invitation lifecycle engine as seen from activation.
// Activation never holds invitation object references, only the session id
// flows across.
type Inviter interface {
	CreateInvitations(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role, userIDs []uuid.UUID, expiresAt *time.Time, sendImmediately bool) ([]*models.Invitation, error)
}

// Broadcaster is the realtime hub surface the engine needs.
type Broadcaster interface {
	BroadcastAndPublish(sessionID uuid.UUID, event string, payload interface{}, excludeID string)
	CloseRoom(sessionID uuid.UUID, reason string)
}

// Service is the session activation engine.
type Service struct {
	store   Store
	inviter Inviter
	hub     Broadcaster
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the session activation engine.
func NewService(store Store, inviter Inviter, hub Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, inviter: inviter, hub: hub, logger: logger, now: time.Now}
}

// canManage reports whether the requester may drive this session's lifecycle:
// the creator, a company admin of the session's company, or a super admin.
func canManage(m *models.Microclimate, req Requester) bool {
	if req.Role == models.RoleSuperAdmin {
		return true
	}
	if req.UserID == m.CreatorID {
		return true
	}
	return req.Role == models.RoleCompanyAdmin && req.CompanyID == m.CompanyID
}

// Create inserts a new microclimate in draft status.
func (s *Service) Create(ctx context.Context, m *models.Microclimate) (*models.Microclimate, error) {
	if m.Title == "" {
		return nil, apperrors.Validationf("title is required")
	}
	if m.Scheduling.DurationMinutes <= 0 {
		return nil, apperrors.Validationf("duration_minutes must be positive")
	}
	if m.Scheduling.StartTime.IsZero() {
		m.Scheduling.StartTime = s.now()
	}
	m.Status = models.MicroclimateDraft
	m.TargetParticipantCount = 0
	m.ResponseCount = 0
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a session, scoped to the requester's company.
func (s *Service) Get(ctx context.Context, id uuid.UUID, req Requester) (*models.Microclimate, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Role != models.RoleSuperAdmin && m.CompanyID != req.CompanyID {
		return nil, apperrors.AccessDenied("session outside requester company")
	}
	return m, nil
}

// ListByCompany returns the requester's company sessions.
func (s *Service) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.Microclimate, error) {
	return s.store.ListByCompany(ctx, companyID)
}

// Schedule moves a draft to scheduled with a future timing window.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID, req Requester, startTime time.Time, durationMinutes int) (*models.Microclimate, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(m, req) {
		return nil, apperrors.AccessDenied("requester may not schedule this session")
	}
	if m.Status != models.MicroclimateDraft {
		return nil, apperrors.InvalidStatef("cannot schedule a %s session", m.Status)
	}
	if durationMinutes <= 0 {
		return nil, apperrors.Validationf("duration_minutes must be positive")
	}
	if startTime.Before(s.now()) {
		return nil, apperrors.Validationf("start_time must be in the future")
	}
	m.Status = models.MicroclimateScheduled
	m.Scheduling.StartTime = startTime
	m.Scheduling.DurationMinutes = durationMinutes
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Activate transitions a draft or scheduled session to active: the invite
// audience is computed and frozen as target_participant_count, invitations
// go out, and the room (if anyone is already connected) hears a
// microclimate_update.
func (s *Service) Activate(ctx context.Context, id uuid.UUID, req Requester) (*models.Microclimate, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(m, req) {
		return nil, apperrors.AccessDenied("requester may not activate this session")
	}
	if m.Status != models.MicroclimateDraft && m.Status != models.MicroclimateScheduled {
		return nil, apperrors.InvalidStatef("cannot activate a %s session", m.Status)
	}

	now := s.now()
	start := m.Scheduling.StartTime
	switch {
	case start.Before(now.Add(-ActivationGrace)):
		return nil, &apperrors.StaleScheduleError{StartTime: start}
	case start.Before(now):
		// Inside the grace window: snap to now.
		m.Scheduling.StartTime = now
	}

	inviteList, err := s.store.ComputeInviteList(ctx, m)
	if err != nil {
		return nil, err
	}
	if len(inviteList) > 0 {
		// Invitations are issued before the status flip so a persistence
		// failure leaves the session re-activatable; expiry defaults to the
		// session end inside the invitation engine.
		if _, err := s.inviter.CreateInvitations(ctx, m.ID, req.CompanyID, req.Role, inviteList, nil, true); err != nil {
			return nil, err
		}
	}

	m.Status = models.MicroclimateActive
	m.TargetParticipantCount = len(inviteList)
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}

	s.hub.BroadcastAndPublish(m.ID, realtime.EventMicroclimateUpdate,
		realtime.MicroclimateUpdatePayload{SessionID: m.ID, Microclimate: m}, "")
	s.logger.Info("microclimate activated",
		zap.String("microclimate_id", m.ID.String()),
		zap.Int("target_participants", m.TargetParticipantCount))
	return m, nil
}

// Cancel terminalizes a session from any non-terminal status. No further
// invitations can be created or resent afterwards; the invitation engine
// checks session status on those paths.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req Requester) (*models.Microclimate, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(m, req) {
		return nil, apperrors.AccessDenied("requester may not cancel this session")
	}
	if m.Status.Terminal() {
		return nil, apperrors.InvalidStatef("cannot cancel a %s session", m.Status)
	}
	m.Status = models.MicroclimateCancelled
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	s.hub.BroadcastAndPublish(m.ID, realtime.EventMicroclimateUpdate,
		realtime.MicroclimateUpdatePayload{SessionID: m.ID, Microclimate: m}, "")
	s.logger.Info("microclimate cancelled", zap.String("microclimate_id", m.ID.String()))
	return m, nil
}

// Complete closes a session whose window elapsed. System-triggered by the
// sweeper, not exposed over HTTP. The room is evicted as part of the
// transition; completing an already-completed session is a no-op.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*models.Microclimate, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case models.MicroclimateCompleted:
		return m, nil
	case models.MicroclimateActive:
	default:
		return nil, apperrors.InvalidStatef("cannot complete a %s session", m.Status)
	}
	m.Status = models.MicroclimateCompleted
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	s.hub.CloseRoom(m.ID, "completed")
	s.logger.Info("microclimate completed", zap.String("microclimate_id", m.ID.String()))
	return m, nil
}
