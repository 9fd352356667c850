package microclimates

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/httperr"
	"github.com/pulsehub/backend/internal/middleware"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/pkg/response"
)

// CreateRequest is the body for POST /api/microclimates.
type CreateRequest struct {
	Title             string            `json:"title" binding:"required"`
	StartTime         time.Time         `json:"start_time"`
	DurationMinutes   int               `json:"duration_minutes" binding:"required,min=1"`
	ShowLiveResults   *bool             `json:"show_live_results"`
	Anonymous         *bool             `json:"anonymous"`
	TargetDepartments []uuid.UUID       `json:"target_departments"`
	Questions         []models.Question `json:"questions"`
}

// ScheduleRequest is the body for POST /api/microclimates/:id/schedule.
type ScheduleRequest struct {
	StartTime       time.Time `json:"start_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1"`
}

// Handler handles microclimate HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a microclimates handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

func requesterFrom(c *gin.Context) Requester {
	return Requester{
		UserID:    c.MustGet(middleware.ContextUserID).(uuid.UUID),
		CompanyID: c.MustGet(middleware.ContextCompanyID).(uuid.UUID),
		Role:      models.Role(c.MustGet(middleware.ContextUserRole).(string)),
	}
}

// Create handles POST /api/microclimates.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	requester := requesterFrom(c)

	m := &models.Microclimate{
		CompanyID: requester.CompanyID,
		CreatorID: requester.UserID,
		Title:     req.Title,
		Scheduling: models.Scheduling{
			StartTime:       req.StartTime,
			DurationMinutes: req.DurationMinutes,
		},
		RealTimeSettings: models.RealTimeSettings{
			ShowLiveResults: req.ShowLiveResults == nil || *req.ShowLiveResults,
			Anonymous:       req.Anonymous == nil || *req.Anonymous,
		},
		TargetDepartments: req.TargetDepartments,
		Questions:         req.Questions,
	}
	created, err := h.service.Create(c.Request.Context(), m)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.Created(c, created)
}

// Get handles GET /api/microclimates/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	m, err := h.service.Get(c.Request.Context(), id, requesterFrom(c))
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, m)
}

// List handles GET /api/microclimates (company-scoped).
func (h *Handler) List(c *gin.Context) {
	requester := requesterFrom(c)
	list, err := h.service.ListByCompany(c.Request.Context(), requester.CompanyID)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// Schedule handles POST /api/microclimates/:id/schedule.
func (h *Handler) Schedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.service.Schedule(c.Request.Context(), id, requesterFrom(c), req.StartTime, req.DurationMinutes)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, m)
}

// Activate handles POST /api/microclimates/:id/activate.
func (h *Handler) Activate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	m, err := h.service.Activate(c.Request.Context(), id, requesterFrom(c))
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, m)
}

// Cancel handles POST /api/microclimates/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	m, err := h.service.Cancel(c.Request.Context(), id, requesterFrom(c))
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, m)
}
