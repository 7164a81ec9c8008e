package model

import "time"

// ValidationStatus is the outcome of one rule against one field.
type ValidationStatus string

const (
	ValidationPass    ValidationStatus = "pass"
	ValidationWarning ValidationStatus = "warning"
	ValidationFail    ValidationStatus = "fail"
)

// ValidationResult is a single rule outcome for a record field.
type ValidationResult struct {
	ID             string           `json:"id"`
	DocumentID     string           `json:"document_id"`
	RecordID       string           `json:"record_id"`
	RuleID         string           `json:"rule_id"`
	Field          string           `json:"field"`
	Status         ValidationStatus `json:"status"`
	Message        string           `json:"message"`
	OriginalValue  string           `json:"original_value,omitempty"`
	SuggestedValue string           `json:"suggested_value,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
