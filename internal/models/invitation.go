package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is the lifecycle status of an invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationSent      InvitationStatus = "sent"
	InvitationOpened    InvitationStatus = "opened"
	InvitationCompleted InvitationStatus = "completed"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// Terminal reports whether no further status transition is permitted.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationCompleted || s == InvitationExpired || s == InvitationCancelled
}

// Rank orders the forward delivery statuses: pending < sent < opened < completed.
// Terminal time/admin statuses (expired, cancelled) have no rank.
func (s InvitationStatus) Rank() int {
	switch s {
	case InvitationPending:
		return 0
	case InvitationSent:
		return 1
	case InvitationOpened:
		return 2
	case InvitationCompleted:
		return 3
	}
	return -1
}

// InvitationMetadata captures request context from delivery/open callbacks.
type InvitationMetadata struct {
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Invitation is a per-user, token-bearing right to participate in one microclimate.
// The token is a bearer secret, not an identifier.
type Invitation struct {
	ID             uuid.UUID          `json:"id"`
	MicroclimateID uuid.UUID          `json:"microclimate_id"`
	UserID         uuid.UUID          `json:"user_id"`
	CompanyID      uuid.UUID          `json:"company_id"`
	Token          string             `json:"-"`
	Status         InvitationStatus   `json:"status"`
	ExpiresAt      time.Time          `json:"expires_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	OpenedAt       *time.Time         `json:"opened_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Metadata       InvitationMetadata `json:"metadata"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// IsExpired reports whether the invitation has passed its expiry at the given
// instant. Pure; expiry is evaluated lazily on access paths, never by a sweep.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// EffectiveStatus returns the status as observed at the given instant:
// a non-terminal invitation past its expiry reads as expired even before
// any writer has persisted the transition.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if !i.Status.Terminal() && i.IsExpired(now) {
		return InvitationExpired
	}
	return i.Status
}
