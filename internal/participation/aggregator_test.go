package participation

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/models"
)

type memResponseStore struct {
	mu     sync.Mutex
	seen   map[uuid.UUID]bool
	counts map[uuid.UUID]int
	last   map[uuid.UUID]*models.SurveyResponse
}

func newMemResponseStore() *memResponseStore {
	return &memResponseStore{
		seen:   make(map[uuid.UUID]bool),
		counts: make(map[uuid.UUID]int),
		last:   make(map[uuid.UUID]*models.SurveyResponse),
	}
}

func (m *memResponseStore) Insert(_ context.Context, resp *models.SurveyResponse) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[resp.ID] {
		return true, nil
	}
	m.seen[resp.ID] = true
	m.last[resp.MicroclimateID] = resp
	return false, nil
}

func (m *memResponseStore) IncrementResponseCount(_ context.Context, microclimateID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[microclimateID]++
	return m.counts[microclimateID], nil
}

type memSessionStore struct {
	session *models.Microclimate
}

func (m *memSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.Microclimate, error) {
	if m.session == nil || m.session.ID != id {
		return nil, apperrors.NotFound("microclimate")
	}
	return m.session, nil
}

type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingHub) BroadcastAndPublish(_ uuid.UUID, event string, _ interface{}, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingHub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func activeSession(target int) *models.Microclimate {
	return &models.Microclimate{
		ID:                     uuid.New(),
		CompanyID:              uuid.New(),
		Status:                 models.MicroclimateActive,
		TargetParticipantCount: target,
		Scheduling: models.Scheduling{
			StartTime:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			DurationMinutes: 10,
		},
	}
}

func newAggregatorFixture(session *models.Microclimate) (*Aggregator, *memResponseStore, *recordingHub) {
	store := newMemResponseStore()
	hub := &recordingHub{}
	agg := NewAggregator(store, &memSessionStore{session: session}, hub, nil)
	return agg, store, hub
}

func answers(t *testing.T) json.RawMessage {
	t.Helper()
	return json.RawMessage(`{"q1": 4}`)
}

func TestRecordResponseConcurrentCountsExact(t *testing.T) {
	session := activeSession(100)
	agg, store, hub := newAggregatorFixture(session)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.New()
			_, err := agg.RecordResponse(context.Background(), session.ID, session.CompanyID, models.RoleEmployee, &models.SurveyResponse{
				UserID:  &userID,
				Answers: answers(t),
			})
			if err != nil {
				t.Errorf("RecordResponse: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.counts[session.ID]; got != n {
		t.Errorf("count = %d, want %d", got, n)
	}
	if hub.count() != n {
		t.Errorf("broadcasts = %d, want %d", hub.count(), n)
	}
}

func TestRecordResponseDuplicateSuppressed(t *testing.T) {
	session := activeSession(10)
	agg, store, hub := newAggregatorFixture(session)

	id := uuid.New()
	userID := uuid.New()
	submit := func() (*models.ParticipationSnapshot, error) {
		return agg.RecordResponse(context.Background(), session.ID, session.CompanyID, models.RoleEmployee, &models.SurveyResponse{
			ID:      id,
			UserID:  &userID,
			Answers: answers(t),
		})
	}

	if _, err := submit(); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := submit(); err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if got := store.counts[session.ID]; got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if hub.count() != 1 {
		t.Errorf("broadcasts = %d, want 1 (duplicates stay silent)", hub.count())
	}
}

func TestRecordResponseRejectsInactiveSession(t *testing.T) {
	for _, status := range []models.MicroclimateStatus{
		models.MicroclimateDraft,
		models.MicroclimateScheduled,
		models.MicroclimateCompleted,
		models.MicroclimateCancelled,
	} {
		session := activeSession(10)
		session.Status = status
		agg, _, _ := newAggregatorFixture(session)
		userID := uuid.New()
		_, err := agg.RecordResponse(context.Background(), session.ID, session.CompanyID, models.RoleEmployee, &models.SurveyResponse{
			UserID:  &userID,
			Answers: answers(t),
		})
		if !apperrors.IsInvalidState(err) {
			t.Errorf("%s session: got %v, want invalid state", status, err)
		}
	}
}

func TestRecordResponseAnonymousStripsUser(t *testing.T) {
	session := activeSession(10)
	session.RealTimeSettings.Anonymous = true
	agg, store, _ := newAggregatorFixture(session)

	userID := uuid.New()
	if _, err := agg.RecordResponse(context.Background(), session.ID, session.CompanyID, models.RoleEmployee, &models.SurveyResponse{
		UserID:  &userID,
		Answers: answers(t),
	}); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if stored := store.last[session.ID]; stored.UserID != nil {
		t.Errorf("anonymous session stored user id %v", stored.UserID)
	}
}

func TestRecordResponseEmptyAnswers(t *testing.T) {
	session := activeSession(10)
	agg, _, _ := newAggregatorFixture(session)
	userID := uuid.New()
	_, err := agg.RecordResponse(context.Background(), session.ID, session.CompanyID, models.RoleEmployee, &models.SurveyResponse{UserID: &userID})
	if !apperrors.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestParticipationDeniedAcrossCompanies(t *testing.T) {
	session := activeSession(10)
	agg, store, hub := newAggregatorFixture(session)
	otherCompany := uuid.New()
	userID := uuid.New()

	_, err := agg.RecordResponse(context.Background(), session.ID, otherCompany, models.RoleEmployee, &models.SurveyResponse{
		UserID:  &userID,
		Answers: answers(t),
	})
	if !apperrors.IsAccessDenied(err) {
		t.Errorf("record: got %v, want access denied", err)
	}
	if store.counts[session.ID] != 0 || hub.count() != 0 {
		t.Error("cross-company response was recorded")
	}

	if _, err := agg.Snapshot(context.Background(), session.ID, otherCompany, models.RoleCompanyAdmin); !apperrors.IsAccessDenied(err) {
		t.Errorf("snapshot: got %v, want access denied", err)
	}
	if _, err := agg.GenerateForecast(context.Background(), session.ID, otherCompany, models.RoleCompanyAdmin); !apperrors.IsAccessDenied(err) {
		t.Errorf("forecast: got %v, want access denied", err)
	}

	// Super admins read across companies.
	if _, err := agg.Snapshot(context.Background(), session.ID, otherCompany, models.RoleSuperAdmin); err != nil {
		t.Errorf("super admin snapshot: %v", err)
	}
}

func TestParticipationRateBounds(t *testing.T) {
	cases := []struct {
		name   string
		count  int
		target int
		want   float64
	}{
		{"zero target", 5, 0, 0},
		{"negative target", 5, -1, 0},
		{"partial", 4, 10, 0.4},
		{"full", 10, 10, 1},
		{"overshoot clamped", 15, 10, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rate(tc.count, tc.target); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("rate(%d, %d) = %v, want %v", tc.count, tc.target, got, tc.want)
			}
		})
	}
}

func TestGenerateForecast(t *testing.T) {
	session := activeSession(10)
	session.ResponseCount = 4
	agg, _, _ := newAggregatorFixture(session)

	// Halfway through a 10-minute window with 4 of 10 responses:
	// projected = 0.4 × 2 = 0.8, confidence = 0.5 × 2 = 1.0.
	agg.now = func() time.Time { return session.Scheduling.StartTime.Add(5 * time.Minute) }
	f, err := agg.GenerateForecast(context.Background(), session.ID, session.CompanyID, models.RoleCompanyAdmin)
	if err != nil {
		t.Fatalf("GenerateForecast: %v", err)
	}
	if math.Abs(f.ProjectedFinalRate-0.8) > 1e-9 {
		t.Errorf("projected = %v, want 0.8", f.ProjectedFinalRate)
	}
	if math.Abs(f.Confidence-1.0) > 1e-9 {
		t.Errorf("confidence = %v, want 1.0", f.Confidence)
	}
}

func TestGenerateForecastClampsProjection(t *testing.T) {
	session := activeSession(10)
	session.ResponseCount = 9
	agg, _, _ := newAggregatorFixture(session)

	// 90% responded at 10% elapsed extrapolates far past 1; clamp to 1.
	agg.now = func() time.Time { return session.Scheduling.StartTime.Add(time.Minute) }
	f, err := agg.GenerateForecast(context.Background(), session.ID, session.CompanyID, models.RoleCompanyAdmin)
	if err != nil {
		t.Fatalf("GenerateForecast: %v", err)
	}
	if f.ProjectedFinalRate != 1 {
		t.Errorf("projected = %v, want clamped to 1", f.ProjectedFinalRate)
	}
	if math.Abs(f.Confidence-0.2) > 1e-9 {
		t.Errorf("confidence = %v, want 0.2", f.Confidence)
	}
}

func TestGenerateForecastElapsedPastWindow(t *testing.T) {
	session := activeSession(10)
	session.ResponseCount = 6
	agg, _, _ := newAggregatorFixture(session)

	// Past the window the elapsed time clamps to the total: the forecast
	// degenerates to the current rate at full confidence.
	agg.now = func() time.Time { return session.Scheduling.StartTime.Add(time.Hour) }
	f, err := agg.GenerateForecast(context.Background(), session.ID, session.CompanyID, models.RoleCompanyAdmin)
	if err != nil {
		t.Fatalf("GenerateForecast: %v", err)
	}
	if math.Abs(f.ProjectedFinalRate-0.6) > 1e-9 {
		t.Errorf("projected = %v, want current rate 0.6", f.ProjectedFinalRate)
	}
	if f.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", f.Confidence)
	}
}

func TestGenerateForecastInsufficientData(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		session := activeSession(10)
		agg, _, _ := newAggregatorFixture(session)
		agg.now = func() time.Time { return session.Scheduling.StartTime.Add(-time.Minute) }
		if _, err := agg.GenerateForecast(context.Background(), session.ID, session.CompanyID, models.RoleCompanyAdmin); !apperrors.IsInsufficientData(err) {
			t.Errorf("got %v, want insufficient data", err)
		}
	})
	t.Run("no window", func(t *testing.T) {
		session := activeSession(10)
		session.Scheduling.DurationMinutes = 0
		agg, _, _ := newAggregatorFixture(session)
		if _, err := agg.GenerateForecast(context.Background(), session.ID, session.CompanyID, models.RoleCompanyAdmin); !apperrors.IsInsufficientData(err) {
			t.Errorf("got %v, want insufficient data", err)
		}
	})
}

func TestSnapshot(t *testing.T) {
	session := activeSession(20)
	session.ResponseCount = 5
	agg, _, _ := newAggregatorFixture(session)

	snap, err := agg.Snapshot(context.Background(), session.ID, session.CompanyID, models.RoleEmployee)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ResponseCount != 5 || snap.TargetParticipantCount != 20 {
		t.Errorf("snapshot = %+v", snap)
	}
	if math.Abs(snap.ParticipationRate-0.25) > 1e-9 {
		t.Errorf("rate = %v, want 0.25", snap.ParticipationRate)
	}
}
