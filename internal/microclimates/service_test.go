package microclimates

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/internal/realtime"
)

type fakeStore struct {
	sessions   map[uuid.UUID]*models.Microclimate
	inviteList []uuid.UUID
	updateErr  error
}

func newFakeMicroStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*models.Microclimate)}
}

func (f *fakeStore) Create(_ context.Context, m *models.Microclimate) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	f.sessions[m.ID] = m
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Microclimate, error) {
	m, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("microclimate")
	}
	return m, nil
}

func (f *fakeStore) ListByCompany(_ context.Context, companyID uuid.UUID) ([]*models.Microclimate, error) {
	var out []*models.Microclimate
	for _, m := range f.sessions {
		if m.CompanyID == companyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, m *models.Microclimate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.sessions[m.ID] = m
	return nil
}

func (f *fakeStore) ComputeInviteList(_ context.Context, _ *models.Microclimate) ([]uuid.UUID, error) {
	return f.inviteList, nil
}

type fakeInviter struct {
	calls  int
	lastID uuid.UUID
	lastN  int
	err    error
}

func (f *fakeInviter) CreateInvitations(_ context.Context, microclimateID, _ uuid.UUID, _ models.Role, userIDs []uuid.UUID, _ *time.Time, _ bool) ([]*models.Invitation, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	f.lastID = microclimateID
	f.lastN = len(userIDs)
	return make([]*models.Invitation, len(userIDs)), nil
}

type fakeHub struct {
	broadcasts []string
	payloads   []interface{}
	closed     []uuid.UUID
}

func (f *fakeHub) BroadcastAndPublish(_ uuid.UUID, event string, payload interface{}, _ string) {
	f.broadcasts = append(f.broadcasts, event)
	f.payloads = append(f.payloads, payload)
}

func (f *fakeHub) CloseRoom(sessionID uuid.UUID, _ string) {
	f.closed = append(f.closed, sessionID)
}

type microFixture struct {
	svc     *Service
	store   *fakeStore
	inviter *fakeInviter
	hub     *fakeHub
	session *models.Microclimate
	admin   Requester
	base    time.Time
}

func newMicroFixture(t *testing.T, status models.MicroclimateStatus, start time.Time) *microFixture {
	t.Helper()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if start.IsZero() {
		start = base
	}
	companyID := uuid.New()
	creatorID := uuid.New()
	session := &models.Microclimate{
		ID:        uuid.New(),
		CompanyID: companyID,
		CreatorID: creatorID,
		Title:     "Team pulse",
		Status:    status,
		Scheduling: models.Scheduling{
			StartTime:       start,
			DurationMinutes: 15,
		},
	}

	store := newFakeMicroStore()
	store.sessions[session.ID] = session
	inviter := &fakeInviter{}
	hub := &fakeHub{}
	svc := NewService(store, inviter, hub, nil)
	svc.now = func() time.Time { return base }

	return &microFixture{
		svc:     svc,
		store:   store,
		inviter: inviter,
		hub:     hub,
		session: session,
		admin:   Requester{UserID: creatorID, CompanyID: companyID, Role: models.RoleCompanyAdmin},
		base:    base,
	}
}

func TestCreateDefaults(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateDraft, time.Time{})
	m, err := fx.svc.Create(context.Background(), &models.Microclimate{
		CompanyID:  uuid.New(),
		CreatorID:  uuid.New(),
		Title:      "New pulse",
		Scheduling: models.Scheduling{DurationMinutes: 10},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Status != models.MicroclimateDraft {
		t.Errorf("status = %s, want draft", m.Status)
	}
	if !m.Scheduling.StartTime.Equal(fx.base) {
		t.Errorf("start defaulted to %v, want now", m.Scheduling.StartTime)
	}
}

func TestCreateValidation(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateDraft, time.Time{})
	cases := []struct {
		name string
		m    *models.Microclimate
	}{
		{"missing title", &models.Microclimate{Scheduling: models.Scheduling{DurationMinutes: 10}}},
		{"zero duration", &models.Microclimate{Title: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fx.svc.Create(context.Background(), tc.m); !apperrors.IsValidation(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestActivateFreshSchedule(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateScheduled, time.Time{})
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	fx.store.inviteList = users

	m, err := fx.svc.Activate(context.Background(), fx.session.ID, fx.admin)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if m.Status != models.MicroclimateActive {
		t.Errorf("status = %s, want active", m.Status)
	}
	if m.TargetParticipantCount != len(users) {
		t.Errorf("target = %d, want %d", m.TargetParticipantCount, len(users))
	}
	if fx.inviter.calls != 1 || fx.inviter.lastN != len(users) {
		t.Errorf("inviter calls = %d with %d users", fx.inviter.calls, fx.inviter.lastN)
	}
	if len(fx.hub.broadcasts) != 1 || fx.hub.broadcasts[0] != realtime.EventMicroclimateUpdate {
		t.Errorf("broadcasts = %v", fx.hub.broadcasts)
	}
	payload, ok := fx.hub.payloads[0].(realtime.MicroclimateUpdatePayload)
	if !ok || payload.SessionID != fx.session.ID {
		t.Errorf("payload = %+v, want session_id %s", fx.hub.payloads[0], fx.session.ID)
	}
}

func TestActivateStaleSchedule(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newMicroFixture(t, models.MicroclimateScheduled, base.Add(-10*time.Minute))

	_, err := fx.svc.Activate(context.Background(), fx.session.ID, fx.admin)
	if !apperrors.IsStaleSchedule(err) {
		t.Fatalf("got %v, want stale schedule error", err)
	}
	if fx.session.Status != models.MicroclimateScheduled {
		t.Errorf("status changed to %s after rejection", fx.session.Status)
	}
	if fx.inviter.calls != 0 {
		t.Errorf("invitations issued despite stale schedule")
	}
}

func TestActivateInsideGraceSnapsStart(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fx := newMicroFixture(t, models.MicroclimateScheduled, base.Add(-2*time.Minute))

	m, err := fx.svc.Activate(context.Background(), fx.session.ID, fx.admin)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !m.Scheduling.StartTime.Equal(fx.base) {
		t.Errorf("start = %v, want snapped to %v", m.Scheduling.StartTime, fx.base)
	}
}

func TestActivateInvitationFailureKeepsStatus(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateScheduled, time.Time{})
	fx.store.inviteList = []uuid.UUID{uuid.New()}
	fx.inviter.err = apperrors.Transient("enqueue", context.DeadlineExceeded)

	if _, err := fx.svc.Activate(context.Background(), fx.session.ID, fx.admin); err == nil {
		t.Fatal("expected error")
	}
	if fx.session.Status != models.MicroclimateScheduled {
		t.Errorf("status = %s, want scheduled so the session can be re-activated", fx.session.Status)
	}
}

func TestActivateRejectsWrongStatus(t *testing.T) {
	for _, status := range []models.MicroclimateStatus{
		models.MicroclimateActive,
		models.MicroclimateCompleted,
		models.MicroclimateCancelled,
	} {
		fx := newMicroFixture(t, status, time.Time{})
		if _, err := fx.svc.Activate(context.Background(), fx.session.ID, fx.admin); !apperrors.IsInvalidState(err) {
			t.Errorf("activate %s session: got %v, want invalid state", status, err)
		}
	}
}

func TestActivatePermissions(t *testing.T) {
	cases := []struct {
		name string
		req  func(fx *microFixture) Requester
		ok   bool
	}{
		{"creator", func(fx *microFixture) Requester {
			return Requester{UserID: fx.session.CreatorID, CompanyID: fx.session.CompanyID, Role: models.RoleEmployee}
		}, true},
		{"company admin same company", func(fx *microFixture) Requester {
			return Requester{UserID: uuid.New(), CompanyID: fx.session.CompanyID, Role: models.RoleCompanyAdmin}
		}, true},
		{"super admin", func(fx *microFixture) Requester {
			return Requester{UserID: uuid.New(), CompanyID: uuid.New(), Role: models.RoleSuperAdmin}
		}, true},
		{"admin of another company", func(fx *microFixture) Requester {
			return Requester{UserID: uuid.New(), CompanyID: uuid.New(), Role: models.RoleCompanyAdmin}
		}, false},
		{"unrelated employee", func(fx *microFixture) Requester {
			return Requester{UserID: uuid.New(), CompanyID: fx.session.CompanyID, Role: models.RoleEmployee}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newMicroFixture(t, models.MicroclimateScheduled, time.Time{})
			_, err := fx.svc.Activate(context.Background(), fx.session.ID, tc.req(fx))
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !apperrors.IsAccessDenied(err) {
				t.Errorf("got %v, want access denied", err)
			}
		})
	}
}

func TestScheduleTransitions(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateDraft, time.Time{})
	start := fx.base.Add(time.Hour)

	m, err := fx.svc.Schedule(context.Background(), fx.session.ID, fx.admin, start, 20)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if m.Status != models.MicroclimateScheduled {
		t.Errorf("status = %s, want scheduled", m.Status)
	}
	if !m.Scheduling.StartTime.Equal(start) || m.Scheduling.DurationMinutes != 20 {
		t.Errorf("scheduling = %+v", m.Scheduling)
	}

	// Scheduling again from scheduled is rejected.
	if _, err := fx.svc.Schedule(context.Background(), fx.session.ID, fx.admin, start, 20); !apperrors.IsInvalidState(err) {
		t.Errorf("got %v, want invalid state", err)
	}
}

func TestSchedulePastStartRejected(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateDraft, time.Time{})
	if _, err := fx.svc.Schedule(context.Background(), fx.session.ID, fx.admin, fx.base.Add(-time.Minute), 20); !apperrors.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestCancelNonTerminal(t *testing.T) {
	for _, status := range []models.MicroclimateStatus{
		models.MicroclimateDraft,
		models.MicroclimateScheduled,
		models.MicroclimateActive,
	} {
		fx := newMicroFixture(t, status, time.Time{})
		m, err := fx.svc.Cancel(context.Background(), fx.session.ID, fx.admin)
		if err != nil {
			t.Fatalf("cancel %s session: %v", status, err)
		}
		if m.Status != models.MicroclimateCancelled {
			t.Errorf("status = %s, want cancelled", m.Status)
		}
		payload, ok := fx.hub.payloads[0].(realtime.MicroclimateUpdatePayload)
		if !ok || payload.SessionID != fx.session.ID {
			t.Errorf("payload = %+v, want session_id %s", fx.hub.payloads[0], fx.session.ID)
		}
	}
}

func TestCancelTerminalRejected(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateCompleted, time.Time{})
	if _, err := fx.svc.Cancel(context.Background(), fx.session.ID, fx.admin); !apperrors.IsInvalidState(err) {
		t.Errorf("got %v, want invalid state", err)
	}
}

func TestCompleteClosesRoom(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateActive, time.Time{})
	m, err := fx.svc.Complete(context.Background(), fx.session.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if m.Status != models.MicroclimateCompleted {
		t.Errorf("status = %s, want completed", m.Status)
	}
	if len(fx.hub.closed) != 1 || fx.hub.closed[0] != fx.session.ID {
		t.Errorf("closed rooms = %v", fx.hub.closed)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateCompleted, time.Time{})
	if _, err := fx.svc.Complete(context.Background(), fx.session.ID); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if len(fx.hub.closed) != 0 {
		t.Errorf("room closed again on no-op complete")
	}
}

func TestCompleteRejectsNonActive(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateDraft, time.Time{})
	if _, err := fx.svc.Complete(context.Background(), fx.session.ID); !apperrors.IsInvalidState(err) {
		t.Errorf("got %v, want invalid state", err)
	}
}

func TestGetScopedToCompany(t *testing.T) {
	fx := newMicroFixture(t, models.MicroclimateDraft, time.Time{})

	outsider := Requester{UserID: uuid.New(), CompanyID: uuid.New(), Role: models.RoleEmployee}
	if _, err := fx.svc.Get(context.Background(), fx.session.ID, outsider); !apperrors.IsAccessDenied(err) {
		t.Errorf("got %v, want access denied", err)
	}

	super := Requester{UserID: uuid.New(), CompanyID: uuid.New(), Role: models.RoleSuperAdmin}
	if _, err := fx.svc.Get(context.Background(), fx.session.ID, super); err != nil {
		t.Errorf("super admin read: %v", err)
	}
}
