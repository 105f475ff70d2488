package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rebillhq/server/internal/shared/database"
	apperrors "github.com/rebillhq/server/internal/shared/errors"
)

// Handler handles HTTP requests for the plan catalog.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new catalog handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	plans := r.Group("/plans")
	{
		plans.GET("", h.ListPlans)
		plans.GET("/:id", h.GetPlan)
		plans.POST("", h.CreatePlan)
		plans.POST("/:id/deactivate", h.DeactivatePlan)
	}
}

// CreatePlanRequest represents the request to create a plan.
type CreatePlanRequest struct {
	ID            string           `json:"id" binding:"required"`
	Name          string           `json:"name" binding:"required"`
	BillingPeriod string           `json:"billing_period" binding:"required"`
	Price         decimal.Decimal  `json:"price"`
	TrialDays     int              `json:"trial_days"`
	Features      database.JSONMap `json:"features"`
}

// ListPlans returns all active plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context())
	if err != nil {
		handleCatalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetPlan returns a plan by ID.
func (h *Handler) GetPlan(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleCatalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// CreatePlan registers a new plan.
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperrors.BadRequest(err.Error()))
		return
	}

	plan := &Plan{
		ID:            req.ID,
		Name:          req.Name,
		BillingPeriod: BillingPeriod(req.BillingPeriod),
		Price:         req.Price,
		TrialDays:     req.TrialDays,
		Features:      req.Features,
		Active:        true,
	}

	if err := h.service.CreatePlan(c.Request.Context(), plan); err != nil {
		handleCatalogError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// DeactivatePlan soft-deactivates a plan.
func (h *Handler) DeactivatePlan(c *gin.Context) {
	if err := h.service.DeactivatePlan(c.Request.Context(), c.Param("id")); err != nil {
		handleCatalogError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func respondAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func handleCatalogError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		respondAppError(c, apperrors.NotFound("plan"))
	case errors.Is(err, ErrPlanExists):
		respondAppError(c, apperrors.Conflict("plan already exists"))
	default:
		respondAppError(c, apperrors.BadRequest(err.Error()))
	}
}
