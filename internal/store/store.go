// Package store persists batches, documents, records, validation results,
// alerts, corrections and templates.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a conditional update finds the row in an
	// unexpected state.
	ErrConflict = eris.New("store: conflict")
)

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	Status   model.BatchStatus `json:"status,omitempty"`
	VendorID string            `json:"vendor_id,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

// AlertFilter specifies criteria for listing alerts.
type AlertFilter struct {
	BatchID          string           `json:"batch_id,omitempty"`
	Severities       []model.Severity `json:"severities,omitempty"`
	UnreadOnly       bool             `json:"unread_only,omitempty"`
	IncludeDismissed bool             `json:"include_dismissed,omitempty"`
	Limit            int              `json:"limit,omitempty"`
}

// HistoryQuery selects prior records of one circuit, newest bill first.
type HistoryQuery struct {
	CircuitID         string
	ExcludeDocumentID string
	// OnOrBefore limits history to bills dated on or before it when set.
	OnOrBefore string
	Limit      int
}

// Store defines the persistence interface for the invoice pipeline.
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, b *model.Batch, docs []model.Document) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	GetBatchByName(ctx context.Context, name string) (*model.Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error)
	UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus, errMsg string) error
	IncrementBatchCounters(ctx context.Context, id string, processed, failed int) error
	SetBatchCancelled(ctx context.Context, id string, cancelled bool) error

	// Documents
	ListDocuments(ctx context.Context, batchID string, statuses ...model.DocumentStatus) ([]model.Document, error)
	ClaimDocument(ctx context.Context, id string) (bool, error)
	CompleteDocument(ctx context.Context, id string, pages int, rec *model.NormalizedRecord, results []model.ValidationResult) error
	FailDocument(ctx context.Context, id, errMsg string) error
	ResetFailedDocuments(ctx context.Context, batchID string, ids []string) (int, error)
	// ReclaimDocuments returns documents abandoned in processing to pending.
	// Batch counters are untouched: a processing document was never counted.
	ReclaimDocuments(ctx context.Context, batchID string) (int, error)

	// Records
	GetRecord(ctx context.Context, id string) (*model.NormalizedRecord, error)
	ListBatchRecords(ctx context.Context, batchID string) ([]model.RecordEntry, error)
	RecentRecordsByCircuit(ctx context.Context, q HistoryQuery) ([]model.NormalizedRecord, error)
	FindRecordsByBillOrRelationship(ctx context.Context, billNumber, relationshipNumber, excludeDocumentID string) ([]model.NormalizedRecord, error)

	// Corrections
	AppendCorrection(ctx context.Context, c *model.Correction) error
	ListCorrections(ctx context.Context, recordID string) ([]model.Correction, error)

	// Validation results
	ReplaceValidationResults(ctx context.Context, documentID string, results []model.ValidationResult) error
	ListValidationResults(ctx context.Context, batchID string) ([]model.ValidationResult, error)

	// Alerts
	ReplaceBatchAlerts(ctx context.Context, batchID string, alerts []model.Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	DismissAlert(ctx context.Context, id string) error

	// Templates
	SaveTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, idOrName string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound)
}
