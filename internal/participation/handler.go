package participation

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/httperr"
	"github.com/pulsehub/backend/internal/middleware"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/pkg/response"
)

// RecordRequest is the body for POST /api/microclimates/:id/responses.
// ResponseID lets clients retry submission idempotently.
type RecordRequest struct {
	ResponseID uuid.UUID       `json:"response_id"`
	Answers    json.RawMessage `json:"answers" binding:"required"`
}

// Handler handles participation HTTP endpoints.
type Handler struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewHandler creates a participation handler.
func NewHandler(aggregator *Aggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{aggregator: aggregator, logger: logger}
}

// requesterScope pulls the authenticated caller's company and role out of the
// request context set by the JWT middleware.
func requesterScope(c *gin.Context) (uuid.UUID, models.Role) {
	companyID := c.MustGet(middleware.ContextCompanyID).(uuid.UUID)
	role := models.Role(c.MustGet(middleware.ContextUserRole).(string))
	return companyID, role
}

// Record handles POST /api/microclimates/:id/responses.
func (h *Handler) Record(c *gin.Context) {
	microclimateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	companyID, role := requesterScope(c)

	resp := &models.SurveyResponse{
		ID:      req.ResponseID,
		UserID:  &userID,
		Answers: req.Answers,
	}
	snapshot, err := h.aggregator.RecordResponse(c.Request.Context(), microclimateID, companyID, role, resp)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.Created(c, snapshot)
}

// Snapshot handles GET /api/microclimates/:id/participation.
func (h *Handler) Snapshot(c *gin.Context) {
	microclimateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	companyID, role := requesterScope(c)
	snapshot, err := h.aggregator.Snapshot(c.Request.Context(), microclimateID, companyID, role)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, snapshot)
}

// Forecast handles GET /api/microclimates/:id/forecast.
func (h *Handler) Forecast(c *gin.Context) {
	microclimateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid microclimate id")
		return
	}
	companyID, role := requesterScope(c)
	forecast, err := h.aggregator.GenerateForecast(c.Request.Context(), microclimateID, companyID, role)
	if err != nil {
		httperr.Write(c, h.logger, err)
		return
	}
	response.OK(c, forecast)
}
