package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rebillhq/server/internal/module/catalog"
	apperrors "github.com/rebillhq/server/internal/shared/errors"
)

// Handler handles HTTP requests for subscriptions.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new subscription handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.POST("", h.CreateSubscription)
		subs.GET("/:id", h.GetSubscription)
		subs.GET("/:id/history", h.GetHistory)
		subs.POST("/:id/change-plan", h.ChangePlan)
		subs.POST("/:id/cancel", h.CancelSubscription)
		subs.POST("/:id/reactivate", h.ReactivateSubscription)
		subs.POST("/:id/renew", h.RenewSubscription)
	}
	users := r.Group("/users/:user_id/subscriptions")
	{
		users.GET("", h.ListUserSubscriptions)
		users.GET("/active", h.GetActiveSubscription)
	}
}

// CreateSubscriptionRequest represents the request to create a subscription.
type CreateSubscriptionRequest struct {
	UserID    uuid.UUID  `json:"user_id" binding:"required"`
	PlanID    string     `json:"plan_id" binding:"required"`
	StartDate *time.Time `json:"start_date"`
}

// ChangePlanRequest represents the request to change plans.
type ChangePlanRequest struct {
	NewPlanID string `json:"new_plan_id" binding:"required"`
	Immediate bool   `json:"immediate"`
}

// CancelSubscriptionRequest represents the request to cancel.
type CancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

// CreateSubscription starts a new subscription.
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperrors.BadRequest(err.Error()))
		return
	}

	start := time.Now().UTC()
	if req.StartDate != nil {
		start = *req.StartDate
	}

	sub, err := h.service.CreateSubscription(c.Request.Context(), req.UserID, req.PlanID, start)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubscription returns a subscription by ID.
func (h *Handler) GetSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sub, err := h.service.GetSubscription(c.Request.Context(), id)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// GetHistory returns a subscription's audit history.
func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rows, err := h.service.GetHistory(c.Request.Context(), id)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

// ChangePlan moves the subscription to another plan.
func (h *Handler) ChangePlan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperrors.BadRequest(err.Error()))
		return
	}

	sub, proration, err := h.service.ChangePlan(c.Request.Context(), id, req.NewPlanID, req.Immediate)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscription": sub,
		"proration":    proration,
	})
}

// CancelSubscription cancels a subscription.
func (h *Handler) CancelSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Default to cancel at period end
		req.Immediate = false
	}

	sub, err := h.service.CancelSubscription(c.Request.Context(), id, req.Immediate)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ReactivateSubscription undoes a cancellation.
func (h *Handler) ReactivateSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sub, err := h.service.ReactivateSubscription(c.Request.Context(), id)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// RenewSubscription rolls the subscription into its next period.
func (h *Handler) RenewSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sub, err := h.service.RenewSubscription(c.Request.Context(), id)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListUserSubscriptions returns all subscriptions for a user.
func (h *Handler) ListUserSubscriptions(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	subs, err := h.service.ListUserSubscriptions(c.Request.Context(), userID)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// GetActiveSubscription returns the user's current trial/active subscription.
func (h *Handler) GetActiveSubscription(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	sub, err := h.service.GetActiveSubscription(c.Request.Context(), userID)
	if err != nil {
		handleSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid subscription id"))
		return uuid.Nil, false
	}
	return id, true
}

func parseUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid user id"))
		return uuid.Nil, false
	}
	return id, true
}

func respondAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func handleSubscriptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		respondAppError(c, apperrors.NotFound("subscription"))
	case errors.Is(err, catalog.ErrPlanNotFound):
		respondAppError(c, apperrors.NotFound("plan"))
	case errors.Is(err, catalog.ErrPlanNotActive):
		respondAppError(c, apperrors.InvalidState("plan is not active"))
	case errors.Is(err, ErrIncompatibleBillingPeriod):
		respondAppError(c, apperrors.InvalidState("plans have incompatible billing periods"))
	case errors.Is(err, ErrSubscriptionCanceled):
		respondAppError(c, apperrors.InvalidState("subscription is canceled"))
	case errors.Is(err, ErrOptimisticLock):
		// The caller re-reads and retries; the server never does.
		respondAppError(c, apperrors.OptimisticLock("subscription"))
	default:
		respondAppError(c, apperrors.Internal("internal error", err))
	}
}
