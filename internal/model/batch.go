package model

import "time"

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Batch is a named group of documents submitted together.
type Batch struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	VendorID       string      `json:"vendor_id"`
	TemplateID     string      `json:"template_id,omitempty"`
	TotalFiles     int         `json:"total_files"`
	ProcessedFiles int         `json:"processed_files"`
	FailedFiles    int         `json:"failed_files"`
	Status         BatchStatus `json:"status"`
	Cancelled      bool        `json:"cancelled"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Percent returns completion in [0,100] from the batch counters.
func (b *Batch) Percent() float64 {
	if b.TotalFiles == 0 {
		return 0
	}
	return float64(b.ProcessedFiles+b.FailedFiles) / float64(b.TotalFiles) * 100
}

// Done reports whether every document reached a terminal state.
func (b *Batch) Done() bool {
	return b.ProcessedFiles+b.FailedFiles == b.TotalFiles
}

// DocumentStatus represents the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is one uploaded invoice file within a batch.
type Document struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batch_id"`
	Filename  string         `json:"filename"`
	FilePath  string         `json:"file_path"`
	Status    DocumentStatus `json:"status"`
	PageCount int            `json:"page_count"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Template is a saved set of field patterns overriding a vendor's default rules.
type Template struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	VendorID  string          `json:"vendor_id" yaml:"vendor_id"`
	Fields    []TemplateField `json:"fields" yaml:"fields"`
	CreatedAt time.Time       `json:"created_at" yaml:"-"`
}

// TemplateField maps a canonical field to a pattern whose first group is the value.
type TemplateField struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
}
