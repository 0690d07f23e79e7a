package workers

import (
	"context"
	"errors"
	"log/slog"

	"payrelay/internal/payments"
)

var ErrBothProcessorsUnavailable = errors.New("both processors unavailable")

// Dispatcher routes one payment to the preferred processor and falls back
// to the other on failure. Back-off between attempts belongs to the worker
// pool, not here.
type Dispatcher struct {
	defaultProcessor  *payments.PaymentProcessor
	fallbackProcessor *payments.PaymentProcessor
	monitor           *ProcessorHealthMonitor
	buffer            *payments.WriteBuffer
	logger            *slog.Logger
}

func NewDispatcher(defaultProcessor, fallbackProcessor *payments.PaymentProcessor, monitor *ProcessorHealthMonitor, buffer *payments.WriteBuffer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		defaultProcessor:  defaultProcessor,
		fallbackProcessor: fallbackProcessor,
		monitor:           monitor,
		buffer:            buffer,
		logger:            logger,
	}
}

// Dispatch sends the payment to the healthiest processor first and to the
// other one if that fails. A success is handed to the write buffer tagged
// with the processor that accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, payment payments.Payment) error {
	primary := d.monitor.ChooseBestProcessor()
	if d.try(ctx, primary, payment) {
		return nil
	}
	if d.try(ctx, primary.Other(), payment) {
		return nil
	}
	return ErrBothProcessorsUnavailable
}

func (d *Dispatcher) try(ctx context.Context, processor payments.ProcessorType, payment payments.Payment) bool {
	if err := d.processorFor(processor).Process(ctx, payment); err != nil {
		d.logger.Debug("payment attempt failed", "processor", processor, "correlationId", payment.CorrelationID, "error", err)
		return false
	}
	d.buffer.Add(payments.ProcessedPayment{Payment: payment, Processor: processor})
	return true
}

func (d *Dispatcher) processorFor(processor payments.ProcessorType) *payments.PaymentProcessor {
	if processor == payments.ProcessorTypeDefault {
		return d.defaultProcessor
	}
	return d.fallbackProcessor
}
