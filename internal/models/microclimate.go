package models

import (
	"time"

	"github.com/google/uuid"
)

// MicroclimateStatus is the lifecycle status of a pulse-survey session.
type MicroclimateStatus string

const (
	MicroclimateDraft     MicroclimateStatus = "draft"
	MicroclimateScheduled MicroclimateStatus = "scheduled"
	MicroclimateActive    MicroclimateStatus = "active"
	MicroclimateCompleted MicroclimateStatus = "completed"
	MicroclimateCancelled MicroclimateStatus = "cancelled"
)

// Terminal reports whether no further status transition is permitted.
func (s MicroclimateStatus) Terminal() bool {
	return s == MicroclimateCompleted || s == MicroclimateCancelled
}

// Scheduling holds the session timing window.
type Scheduling struct {
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

// EndTime returns the end of the scheduling window.
func (s Scheduling) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// RealTimeSettings controls live behaviour of an active session.
type RealTimeSettings struct {
	ShowLiveResults bool `json:"show_live_results"`
	Anonymous       bool `json:"anonymous"`
}

// Question is one survey question within a microclimate.
type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Type     string   `json:"type"` // "scale", "single_choice", "open"
	Options  []string `json:"options,omitempty"`
	Position int      `json:"position"`
}

// Microclimate is a short-lived, company-scoped pulse-survey session.
type Microclimate struct {
	ID                     uuid.UUID          `json:"id"`
	CompanyID              uuid.UUID          `json:"company_id"`
	CreatorID              uuid.UUID          `json:"creator_id"`
	Title                  string             `json:"title"`
	Status                 MicroclimateStatus `json:"status"`
	Scheduling             Scheduling         `json:"scheduling"`
	RealTimeSettings       RealTimeSettings   `json:"real_time_settings"`
	TargetDepartments      []uuid.UUID        `json:"target_departments,omitempty"`
	TargetParticipantCount int                `json:"target_participant_count"`
	ResponseCount          int                `json:"response_count"`
	Questions              []Question         `json:"questions"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}
