package model

import "time"

// AlertType identifies the anomaly an alert reports.
type AlertType string

const (
	AlertCostSpike        AlertType = "cost_spike"
	AlertMissingData      AlertType = "missing_data"
	AlertDuplicateInvoice AlertType = "duplicate_invoice"
	AlertUnusualCharge    AlertType = "unusual_charge"
	AlertPaymentDue       AlertType = "payment_due"
)

// Severity ranks alerts.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() >= threshold.rank()
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.rank() > 0 }

// SeveritiesAtLeast lists the known severities ranked at or above threshold.
func SeveritiesAtLeast(threshold Severity) []Severity {
	var out []Severity
	for _, s := range []Severity{SeverityMedium, SeverityHigh, SeverityCritical} {
		if s.AtLeast(threshold) {
			out = append(out, s)
		}
	}
	return out
}

// Alert is an anomaly raised against one record of a batch. Read and
// Dismissed are the only fields that change after creation.
type Alert struct {
	ID         string         `json:"id"`
	BatchID    string         `json:"batch_id"`
	DocumentID string         `json:"document_id"`
	RecordID   string         `json:"record_id"`
	Type       AlertType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Read       bool           `json:"read"`
	Dismissed  bool           `json:"dismissed"`
	CreatedAt  time.Time      `json:"created_at"`
}
