package invoice

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/rebillhq/server/internal/shared/errors"
)

// Handler handles HTTP requests for invoices.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new invoice handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the invoice routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	invoices := r.Group("/invoices")
	{
		invoices.GET("/:id", h.GetInvoice)
	}
	r.GET("/subscriptions/:id/invoices", h.ListSubscriptionInvoices)
}

// GetInvoice returns an invoice by ID.
func (h *Handler) GetInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid invoice id"))
		return
	}
	inv, err := h.service.GetInvoice(c.Request.Context(), id)
	if err != nil {
		handleInvoiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// ListSubscriptionInvoices returns invoices for a subscription.
func (h *Handler) ListSubscriptionInvoices(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid subscription id"))
		return
	}
	invoices, err := h.service.ListSubscriptionInvoices(c.Request.Context(), id)
	if err != nil {
		handleInvoiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func respondAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func handleInvoiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		respondAppError(c, apperrors.NotFound("invoice"))
	case errors.Is(err, ErrInvalidTransition):
		respondAppError(c, apperrors.InvalidState(err.Error()))
	default:
		respondAppError(c, apperrors.Internal("internal error", err))
	}
}
