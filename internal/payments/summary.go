package payments

type ProcessorSummary struct {
	TotalRequests int64   `json:"totalRequests"`
	TotalAmount   float64 `json:"totalAmount"`
}

func (s *ProcessorSummary) add(amount float64) {
	s.TotalRequests++
	s.TotalAmount += amount
}

type Summary struct {
	Default  ProcessorSummary `json:"default"`
	Fallback ProcessorSummary `json:"fallback"`
}
