package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnavailableProcessor = errors.New("unavailable processor")

// PaymentProcessor posts payments to one upstream processor. Anything other
// than a 200 response counts as a failed attempt; it never retries on its own.
type PaymentProcessor struct {
	paymentsURL   string
	processorType ProcessorType
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewPaymentProcessor(httpClient *http.Client, baseURL string, processorType ProcessorType, logger *slog.Logger) *PaymentProcessor {
	return &PaymentProcessor{
		httpClient:    httpClient,
		paymentsURL:   baseURL + "/payments",
		processorType: processorType,
		logger:        logger,
	}
}

var bufPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

func (p *PaymentProcessor) Process(ctx context.Context, payment Payment) error {
	tracer := otel.Tracer("payment-processor")
	ctx, span := tracer.Start(ctx, "process-payment", trace.WithAttributes(
		attribute.String("processor.type", string(p.processorType)),
		attribute.Float64("payment.amount", payment.Amount),
		attribute.String("payment.correlation_id", payment.CorrelationID.String()),
	))
	defer span.End()

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := sonic.ConfigFastest.NewEncoder(buf).Encode(payment); err != nil {
		bufPool.Put(buf)
		return fmt.Errorf("failed to serialize request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.paymentsURL, io.NopCloser(buf))
	if err != nil {
		bufPool.Put(buf)
		return fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)

	bufPool.Put(buf)
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		p.logger.Warn("payment request failed", "processor", p.processorType, "error", err)
		return ErrUnavailableProcessor
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "unexpected status")
		return fmt.Errorf("%w: %s processor returned status %d", ErrUnavailableProcessor, p.processorType, resp.StatusCode)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
