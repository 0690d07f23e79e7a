package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrelay/internal/payments"
)

// stubSummarizer records the window it was asked for and returns a canned
// summary.
type stubSummarizer struct {
	summary  payments.Summary
	called   bool
	from, to *time.Time
}

func (s *stubSummarizer) Summarize(ctx context.Context, from, to *time.Time) payments.Summary {
	s.called = true
	s.from, s.to = from, to
	return s.summary
}

func get(t *testing.T, handle echo.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()

	require.NoError(t, handle(echo.New().NewContext(req, rec)))
	return rec
}

func TestSummaryHandler_ReportsBothProcessors(t *testing.T) {
	coordinator := &stubSummarizer{summary: payments.Summary{
		Default:  payments.ProcessorSummary{TotalRequests: 3, TotalAmount: 60.3},
		Fallback: payments.ProcessorSummary{TotalRequests: 1, TotalAmount: 9.9},
	}}
	h := NewSummaryHandler(coordinator)

	rec := get(t, h.Handle, "/payments-summary")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"default":{"totalRequests":3,"totalAmount":60.3},"fallback":{"totalRequests":1,"totalAmount":9.9}}`,
		rec.Body.String())
}

func TestSummaryHandler_NoWindowMeansNilBounds(t *testing.T) {
	coordinator := &stubSummarizer{}
	h := NewSummaryHandler(coordinator)

	get(t, h.Handle, "/payments-summary")

	require.True(t, coordinator.called)
	assert.Nil(t, coordinator.from)
	assert.Nil(t, coordinator.to)
}

func TestSummaryHandler_ParsesWindow(t *testing.T) {
	coordinator := &stubSummarizer{}
	h := NewSummaryHandler(coordinator)

	rec := get(t, h.Handle, "/payments-summary?from=2024-01-02T00:00:00Z&to=2024-01-04T12:30:00Z")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, coordinator.from)
	require.NotNil(t, coordinator.to)
	assert.WithinDuration(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *coordinator.from, 0)
	assert.WithinDuration(t, time.Date(2024, 1, 4, 12, 30, 0, 0, time.UTC), *coordinator.to, 0)
}

func TestSummaryHandler_ConvertsOffsetsToUTC(t *testing.T) {
	coordinator := &stubSummarizer{}
	h := NewSummaryHandler(coordinator)

	get(t, h.Handle, "/payments-summary?from=2024-06-01T10:00:00-03:00")

	require.NotNil(t, coordinator.from)
	assert.Equal(t, time.UTC, coordinator.from.Location())
	assert.WithinDuration(t, time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC), *coordinator.from, 0)
}

func TestSummaryHandler_RejectsInvalidWindow(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"bad from", "/payments-summary?from=yesterday", "invalid 'from' date format"},
		{"bad to", "/payments-summary?to=2024-13-45", "invalid 'to' date format"},
		{"date without time", "/payments-summary?from=2024-01-02", "invalid 'from' date format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := &stubSummarizer{}
			h := NewSummaryHandler(coordinator)

			rec := get(t, h.Handle, tt.target)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, rec.Body.String())
			assert.False(t, coordinator.called, "an invalid window must not trigger a summary")
		})
	}
}
