// Package participation keeps per-session response counts and rates
// consistent under concurrent writes and derives forward-looking forecasts.
package participation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/internal/realtime"
)

// ResponseStore persists responses with duplicate detection.
type ResponseStore interface {
	Insert(ctx context.Context, resp *models.SurveyResponse) (alreadyRecorded bool, err error)
	IncrementResponseCount(ctx context.Context, microclimateID uuid.UUID) (int, error)
}

// SessionStore is the read-only session view the aggregator needs.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Microclimate, error)
}

// Broadcaster fans participation updates out to the session room.
type Broadcaster interface {
	BroadcastAndPublish(sessionID uuid.UUID, event string, payload interface{}, excludeID string)
}

// Aggregator is the participation bookkeeping engine.
type Aggregator struct {
	responses ResponseStore
	sessions  SessionStore
	hub       Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

// NewAggregator creates a participation aggregator.
func NewAggregator(responses ResponseStore, sessions SessionStore, hub Broadcaster, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		responses: responses,
		sessions:  sessions,
		hub:       hub,
		logger:    logger,
		now:       time.Now,
	}
}

// canAccess reports whether the requester's company may touch the session.
// Super admins cross company boundaries.
func canAccess(session *models.Microclimate, requesterCompanyID uuid.UUID, requesterRole models.Role) bool {
	return requesterRole == models.RoleSuperAdmin || session.CompanyID == requesterCompanyID
}

// rate computes responses/target in [0,1]. A zero target reads as zero
// participation, never a division error.
func rate(responseCount, target int) float64 {
	if target <= 0 {
		return 0
	}
	r := float64(responseCount) / float64(target)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// RecordResponse stores one response and advances the session counters.
// Safe to call repeatedly with the same response id: the store reports
// duplicates and the counter is not bumped again. The counter increment is
// atomic at the storage layer, so concurrent submissions to one session
// never lose updates.
func (a *Aggregator) RecordResponse(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role, resp *models.SurveyResponse) (*models.ParticipationSnapshot, error) {
	session, err := a.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		return nil, err
	}
	if !canAccess(session, requesterCompanyID, requesterRole) {
		a.logger.Warn("response for session outside requester company",
			zap.String("microclimate_id", microclimateID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("session outside requester company")
	}
	if session.Status != models.MicroclimateActive {
		return nil, apperrors.InvalidStatef("session is %s, responses are not accepted", session.Status)
	}

	if resp.ID == uuid.Nil {
		resp.ID = uuid.New()
	}
	resp.MicroclimateID = microclimateID
	if len(resp.Answers) == 0 {
		return nil, apperrors.Validationf("answers must not be empty")
	}
	if session.RealTimeSettings.Anonymous {
		resp.UserID = nil
	}

	alreadyRecorded, err := a.responses.Insert(ctx, resp)
	if err != nil {
		return nil, err
	}

	count := session.ResponseCount
	if alreadyRecorded {
		a.logger.Debug("duplicate response ignored",
			zap.String("response_id", resp.ID.String()),
			zap.String("microclimate_id", microclimateID.String()))
	} else {
		count, err = a.responses.IncrementResponseCount(ctx, microclimateID)
		if err != nil {
			return nil, err
		}
	}

	snapshot := &models.ParticipationSnapshot{
		MicroclimateID:         microclimateID,
		ResponseCount:          count,
		TargetParticipantCount: session.TargetParticipantCount,
		ParticipationRate:      rate(count, session.TargetParticipantCount),
	}
	if !alreadyRecorded {
		a.hub.BroadcastAndPublish(microclimateID, realtime.EventParticipationUpdate, snapshot, "")
	}
	return snapshot, nil
}

// Snapshot returns the current participation state of a session. Reads may
// trail a concurrent increment by one; that staleness is acceptable within
// a session and cross-session consistency is never promised.
func (a *Aggregator) Snapshot(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role) (*models.ParticipationSnapshot, error) {
	session, err := a.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		return nil, err
	}
	if !canAccess(session, requesterCompanyID, requesterRole) {
		a.logger.Warn("snapshot for session outside requester company",
			zap.String("microclimate_id", microclimateID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("session outside requester company")
	}
	return snapshotOf(session), nil
}

// snapshotOf derives the participation view of a session read.
func snapshotOf(session *models.Microclimate) *models.ParticipationSnapshot {
	return &models.ParticipationSnapshot{
		MicroclimateID:         session.ID,
		ResponseCount:          session.ResponseCount,
		TargetParticipantCount: session.TargetParticipantCount,
		ParticipationRate:      rate(session.ResponseCount, session.TargetParticipantCount),
	}
}

// GenerateForecast projects the final participation rate by elapsed-time
// weighting: projected = current_rate × total/elapsed, clamped to [0,1].
// Confidence is min(1, elapsed/total × 2). Deliberately simple extrapolation
// rather than statistics; the tests document this trade-off.
func (a *Aggregator) GenerateForecast(ctx context.Context, microclimateID, requesterCompanyID uuid.UUID, requesterRole models.Role) (*models.Forecast, error) {
	session, err := a.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		return nil, err
	}
	if !canAccess(session, requesterCompanyID, requesterRole) {
		a.logger.Warn("forecast for session outside requester company",
			zap.String("microclimate_id", microclimateID.String()),
			zap.String("requester_company_id", requesterCompanyID.String()))
		return nil, apperrors.AccessDenied("session outside requester company")
	}

	total := time.Duration(session.Scheduling.DurationMinutes) * time.Minute
	if total <= 0 {
		return nil, apperrors.InsufficientData("session has no scheduling window")
	}
	elapsed := a.now().Sub(session.Scheduling.StartTime)
	if elapsed <= 0 {
		return nil, apperrors.InsufficientData("no elapsed session time to extrapolate from")
	}
	if elapsed > total {
		elapsed = total
	}

	current := rate(session.ResponseCount, session.TargetParticipantCount)
	projected := current * (float64(total) / float64(elapsed))
	if projected > 1 {
		projected = 1
	}

	confidence := float64(elapsed) / float64(total) * 2
	if confidence > 1 {
		confidence = 1
	}

	return &models.Forecast{
		MicroclimateID:     microclimateID,
		ProjectedFinalRate: projected,
		Confidence:         confidence,
	}, nil
}

// BroadcastSnapshot pushes the current snapshot to the session room. Wired
// to the hub's update_participation inbound event; the room only delivers to
// its own members, so there is no per-requester scope here.
func (a *Aggregator) BroadcastSnapshot(ctx context.Context, microclimateID uuid.UUID) {
	session, err := a.sessions.GetByID(ctx, microclimateID)
	if err != nil {
		a.logger.Warn("snapshot for broadcast failed", zap.Error(err), zap.String("microclimate_id", microclimateID.String()))
		return
	}
	a.hub.BroadcastAndPublish(microclimateID, realtime.EventParticipationUpdate, snapshotOf(session), "")
}
