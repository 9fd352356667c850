package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehub/backend/internal/models"
)

// Inbound event names accepted from clients.
const (
	EventJoinSession         = "join_session"
	EventLeaveSession        = "leave_session"
	EventNewResponse         = "new_response"
	EventBroadcastInsight    = "broadcast_insight"
	EventUpdateParticipation = "update_participation"
)

// Outbound event names emitted to room members.
const (
	EventResponseReceived    = "response_received"
	EventParticipationUpdate = "participation_update"
	EventMicroclimateUpdate  = "microclimate_update"
	EventLiveInsight         = "live_insight"
	EventSessionClosed       = "session_closed"
	EventError               = "error"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ResponseReceivedPayload notifies a room that a response arrived.
type ResponseReceivedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LiveInsightPayload carries an administrator insight to a room.
type LiveInsightPayload struct {
	SessionID uuid.UUID       `json:"session_id"`
	Insight   json.RawMessage `json:"insight"`
}

// MicroclimateUpdatePayload announces a session lifecycle change to its room.
type MicroclimateUpdatePayload struct {
	SessionID    uuid.UUID            `json:"session_id"`
	Microclimate *models.Microclimate `json:"microclimate"`
}

// SessionClosedPayload is sent on forced eviction when a session completes.
type SessionClosedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

// ErrorPayload rejects an inbound message the hub does not recognise.
type ErrorPayload struct {
	Message string `json:"message"`
}

// roomScoped is the minimal shape every inbound data payload must carry.
// Messages without a session id are rejected, not forwarded.
type roomScoped struct {
	SessionID uuid.UUID `json:"session_id"`
}
