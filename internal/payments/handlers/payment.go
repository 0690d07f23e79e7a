package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payrelay/internal/payments"
	"payrelay/internal/payments/queue"
)

type PaymentHandler struct {
	ingress *queue.Queue[payments.Payment]
	logger  *slog.Logger
}

type paymentRequest struct {
	CorrelationId string    `json:"correlationId"`
	Amount        float64   `json:"amount"`
	RequestedAt   time.Time `json:"requestedAt"`
}

func NewPaymentHandler(ingress *queue.Queue[payments.Payment], logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		ingress: ingress,
		logger:  logger,
	}
}

// Handle accepts a payment and enqueues it for asynchronous processing.
// The response only acknowledges that the payment was queued, not that any
// processor accepted it.
func (h *PaymentHandler) Handle(c echo.Context) error {
	tracer := otel.Tracer("payment-handler")
	_, span := tracer.Start(c.Request().Context(), "payment-handler", trace.WithAttributes(
		attribute.String("handler", "payment"),
	))
	defer span.End()

	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		span.RecordError(err)
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	correlationID, err := uuid.Parse(req.CorrelationId)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid correlationId")
	}
	if req.Amount <= 0 {
		return jsonError(c, http.StatusBadRequest, "amount must be a positive number")
	}

	span.SetAttributes(
		attribute.Float64("payment.amount", req.Amount),
		attribute.String("payment.correlation_id", req.CorrelationId),
	)

	// requestedAt is optional; payments submitted without one are stamped
	// at ingress.
	requestedAt := req.RequestedAt.UTC()
	if req.RequestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}

	payment := payments.Payment{
		CorrelationID: correlationID,
		Amount:        req.Amount,
		RequestedAt:   requestedAt,
	}

	if err := h.ingress.Enqueue(payment); err != nil {
		span.RecordError(err)
		h.logger.Warn("payment queue is full, dropping payment", "correlationId", correlationID)
		return jsonError(c, http.StatusServiceUnavailable, "payment queue full")
	}

	return jsonMessage(c, http.StatusOK, "Payment queued")
}
