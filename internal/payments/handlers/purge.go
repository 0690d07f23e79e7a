package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Purger deletes all persisted payments and reports how many were removed.
type Purger interface {
	Purge(ctx context.Context) int64
}

type PurgePaymentsHandler struct {
	store  Purger
	logger *slog.Logger
}

func NewPurgePaymentsHandler(store Purger, logger *slog.Logger) *PurgePaymentsHandler {
	return &PurgePaymentsHandler{
		store:  store,
		logger: logger,
	}
}

func (h *PurgePaymentsHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	tracer := otel.Tracer("purge-payments-handler")
	ctx, span := tracer.Start(ctx, "purge-payments-handler", trace.WithAttributes(
		attribute.String("handler", "purge-payments"),
	))
	defer span.End()

	deleted := h.store.Purge(ctx)
	span.SetAttributes(attribute.Int64("payments.deleted", deleted))

	h.logger.Info("payments purged", "rowsDeleted", deleted)
	return jsonMessage(c, http.StatusOK, "Payments purged")
}
