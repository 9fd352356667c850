package invitations

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/apperrors"
	"github.com/pulsehub/backend/internal/httperr"
	"github.com/pulsehub/backend/internal/middleware"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/pkg/response"
)

// CreateRequest is the body for POST /api/microclimates/:id/invitations.
type CreateRequest struct {
	UserIDs         []uuid.UUID `json:"user_ids" binding:"required"`
	ExpiresAt       *time.Time  `json:"expires_at"`
	SendImmediately bool        `json:"send_immediately"`
}

// TrackRequest is the body for POST /api/invitations/track (delivery webhook).
type TrackRequest struct {
	Token string `json:"token" binding:"required"`
	Event string `json:"event" binding:"required"`
}

// Handler handles invitation HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an invitations handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// requesterScope pulls the authenticated caller's company and role out of the
// request context set by the JWT middleware.
func requesterScope(c *gin.Context) (uuid.UUID, models.Role) {
	companyID := c.MustGet(middleware.ContextCompanyID).(uuid.UUID)
	role := models.Role(c.MustGet(middleware.ContextUserRole).(string))
	return companyID, role
}

// Create handles POST /api/microclimates/:id/invitations.
func (h *Handler) Create(c *gin.Context) {
	microclimateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	companyID, role := requesterScope(c)
	list, err := h.service.CreateInvitations(c.Request.Context(), microclimateID, companyID, role, req.UserIDs, req.ExpiresAt, req.SendImmediately)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.Created(c, list)
}

// List handles GET /api/microclimates/:id/invitations.
func (h *Handler) List(c *gin.Context) {
	microclimateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	companyID, role := requesterScope(c)
	list, err := h.service.ListByMicroclimate(c.Request.Context(), microclimateID, companyID, role)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// ListDeliveries handles GET /api/microclimates/:id/deliveries.
func (h *Handler) ListDeliveries(c *gin.Context) {
	microclimateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	companyID, role := requesterScope(c)
	list, err := h.service.ListDeliveries(c.Request.Context(), microclimateID, companyID, role)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// Resend handles POST /api/invitations/:id/resend.
func (h *Handler) Resend(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid invitation id")
		return
	}
	companyID, role := requesterScope(c)
	inv, err := h.service.Resend(c.Request.Context(), id, companyID, role)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, inv)
}

// Cancel handles POST /api/invitations/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid invitation id")
		return
	}
	companyID, role := requesterScope(c)
	inv, err := h.service.Cancel(c.Request.Context(), id, companyID, role)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, inv)
}

// Track handles POST /api/invitations/track. Called by delivery transports
// and survey clients; retries and out-of-order events are no-ops.
func (h *Handler) Track(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	meta := models.InvitationMetadata{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
	inv, err := h.service.TrackStatus(c.Request.Context(), req.Token, req.Event, meta)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, inv)
}

// ResolveSession handles GET /api/invitations/resolve/:token. The requester
// must hold a JWT for the invited user; the token alone never widens access
// to someone else's invitation.
func (h *Handler) ResolveSession(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "token required")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	companyID := c.MustGet(middleware.ContextCompanyID).(uuid.UUID)
	meta := models.InvitationMetadata{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
	resolved, err := h.service.ResolveByToken(c.Request.Context(), token, userID, companyID, meta)
	if err != nil {
		// Expired tokens get a distinct, non-retryable rejection.
		if apperrors.IsInvalidState(err) {
			response.Gone(c, err.Error())
			return
		}
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, resolved)
}
