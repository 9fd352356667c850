package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SurveyResponse is one participant's submitted answers for a microclimate.
// When the session is anonymous UserID is nil and the response is only
// attributable through the invitation completion record.
type SurveyResponse struct {
	ID             uuid.UUID       `json:"id"`
	MicroclimateID uuid.UUID       `json:"microclimate_id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	Answers        json.RawMessage `json:"answers"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ParticipationSnapshot is the derived participation state of a session.
// Read-mostly; recomputed on every accepted response.
type ParticipationSnapshot struct {
	MicroclimateID         uuid.UUID `json:"microclimate_id"`
	ResponseCount          int       `json:"response_count"`
	TargetParticipantCount int       `json:"target_participant_count"`
	ParticipationRate      float64   `json:"participation_rate"`
}

// Forecast is an elapsed-time-weighted projection of the final participation rate.
type Forecast struct {
	MicroclimateID     uuid.UUID `json:"microclimate_id"`
	ProjectedFinalRate float64   `json:"projected_final_rate"`
	Confidence         float64   `json:"confidence"`
}
