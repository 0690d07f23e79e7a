package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"payrelay/internal/payments"
)

// Summarizer produces a payments summary for an optional time window.
type Summarizer interface {
	Summarize(ctx context.Context, from, to *time.Time) payments.Summary
}

type SummaryHandler struct {
	coordinator Summarizer
}

func NewSummaryHandler(coordinator Summarizer) *SummaryHandler {
	return &SummaryHandler{coordinator: coordinator}
}

func (h *SummaryHandler) Handle(c echo.Context) error {
	from, err := parseTimeParam(c.QueryParam("from"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid 'from' date format")
	}
	to, err := parseTimeParam(c.QueryParam("to"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid 'to' date format")
	}

	summary := h.coordinator.Summarize(c.Request().Context(), from, to)

	body, err := sonic.ConfigFastest.Marshal(summary)
	if err != nil {
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
