package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/rebillhq/server/internal/shared/errors"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a new payment handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.CreatePayment)
		payments.GET("/:id", h.GetPayment)
		payments.GET("/:id/attempts", h.ListRetryLogs)
		payments.POST("/:id/process", h.ProcessPayment)
		payments.POST("/:id/refund", h.RefundPayment)
	}
	r.GET("/subscriptions/:id/payments", h.ListSubscriptionPayments)
	r.GET("/invoices/:id/payments", h.ListInvoicePayments)
}

// CreatePaymentRequest represents the request to create a payment.
type CreatePaymentRequest struct {
	InvoiceID      uuid.UUID       `json:"invoice_id" binding:"required"`
	SubscriptionID uuid.UUID       `json:"subscription_id" binding:"required"`
	UserID         uuid.UUID       `json:"user_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Method         string          `json:"method" binding:"required"`
}

// CreatePayment records a pending payment.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperrors.BadRequest(err.Error()))
		return
	}

	p, err := h.service.CreatePayment(c.Request.Context(), req.InvoiceID, req.SubscriptionID, req.UserID, req.Amount, req.Method)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetPayment returns a payment by ID.
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := parsePaymentID(c)
	if !ok {
		return
	}
	p, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListRetryLogs returns the attempt log for a payment.
func (h *Handler) ListRetryLogs(c *gin.Context) {
	id, ok := parsePaymentID(c)
	if !ok {
		return
	}
	logs, err := h.service.ListRetryLogs(c.Request.Context(), id)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": logs})
}

// ProcessPayment runs one charge attempt.
func (h *Handler) ProcessPayment(c *gin.Context) {
	id, ok := parsePaymentID(c)
	if !ok {
		return
	}
	p, err := h.service.ProcessPayment(c.Request.Context(), id)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// RefundPayment refunds a succeeded payment.
func (h *Handler) RefundPayment(c *gin.Context) {
	id, ok := parsePaymentID(c)
	if !ok {
		return
	}
	p, err := h.service.RefundPayment(c.Request.Context(), id)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListSubscriptionPayments returns payments for a subscription.
func (h *Handler) ListSubscriptionPayments(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid subscription id"))
		return
	}
	payments, err := h.service.ListSubscriptionPayments(c.Request.Context(), id)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// ListInvoicePayments returns payments for an invoice.
func (h *Handler) ListInvoicePayments(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid invoice id"))
		return
	}
	payments, err := h.service.ListInvoicePayments(c.Request.Context(), id)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func parsePaymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondAppError(c, apperrors.BadRequest("invalid payment id"))
		return uuid.Nil, false
	}
	return id, true
}

func respondAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func handlePaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		respondAppError(c, apperrors.NotFound("payment"))
	case errors.Is(err, ErrInvalidState):
		respondAppError(c, apperrors.InvalidState(err.Error()))
	default:
		respondAppError(c, apperrors.Internal("internal error", err))
	}
}
