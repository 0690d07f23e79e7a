package payments

import (
	"time"

	"github.com/google/uuid"
)

type ProcessorType string

const (
	ProcessorTypeDefault  ProcessorType = "default"
	ProcessorTypeFallback ProcessorType = "fallback"
)

// Other returns the opposite processor, used when falling back.
func (t ProcessorType) Other() ProcessorType {
	if t == ProcessorTypeDefault {
		return ProcessorTypeFallback
	}
	return ProcessorTypeDefault
}

// Payment is a payment request as accepted at ingress. CorrelationID is the
// idempotency key; the store rejects duplicates of it.
type Payment struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	Amount        float64   `json:"amount"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// ProcessedPayment is a Payment that some processor acknowledged.
type ProcessedPayment struct {
	Payment
	Processor ProcessorType `json:"processor"`
}
