package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationDelivery records one delivery attempt for an invitation token.
// The platform records the attempt only; transport is handled by the worker.
type InvitationDelivery struct {
	ID             uuid.UUID  `json:"id"`
	MicroclimateID uuid.UUID  `json:"microclimate_id"`
	InvitationID   uuid.UUID  `json:"invitation_id"`
	Recipient      string     `json:"recipient"`
	Channel        string     `json:"channel"` // "email"
	Status         string     `json:"status"`  // "queued", "sent", "failed"
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
