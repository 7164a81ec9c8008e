package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/internal/validate"
)

// SubmitRequest describes a new batch.
type SubmitRequest struct {
	Name       string
	VendorID   string
	TemplateID string
	Files      []string
}

// Submit registers a batch and its documents, all pending. It does not
// start processing.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.Batch, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, eris.New("pipeline: batch name is required")
	}
	profile, err := o.deps.Vendors.Lookup(req.VendorID)
	if err != nil {
		return nil, err
	}
	if len(req.Files) == 0 {
		return nil, eris.Wrapf(ErrEmptyBatch, "batch %s", name)
	}

	b := &model.Batch{
		ID:         uuid.New().String(),
		Name:       name,
		VendorID:   profile.ID,
		TotalFiles: len(req.Files),
		Status:     model.BatchPending,
	}

	if req.TemplateID != "" {
		t, err := o.deps.Store.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, eris.Wrapf(ErrUnknownTemplate, "template %s", req.TemplateID)
			}
			return nil, eris.Wrapf(err, "pipeline: load template %s", req.TemplateID)
		}
		if t.VendorID != "" && t.VendorID != profile.ID {
			return nil, eris.Wrapf(ErrUnknownTemplate, "template %s belongs to vendor %s, not %s", t.Name, t.VendorID, profile.ID)
		}
		b.TemplateID = t.ID
	}

	docs := make([]model.Document, len(req.Files))
	for i, path := range req.Files {
		docs[i] = model.Document{
			ID:       uuid.New().String(),
			BatchID:  b.ID,
			Filename: filepath.Base(path),
			FilePath: path,
			Status:   model.DocumentPending,
		}
	}

	if err := o.deps.Store.CreateBatch(ctx, b, docs); err != nil {
		if eris.Is(err, store.ErrConflict) {
			return nil, eris.Wrapf(ErrDuplicateBatchName, "batch %q", name)
		}
		return nil, eris.Wrapf(err, "pipeline: create batch %s", name)
	}

	zap.L().Info("pipeline: batch submitted",
		zap.String("batch_id", b.ID),
		zap.String("batch", b.Name),
		zap.String("vendor", b.VendorID),
		zap.Int("documents", len(docs)),
	)
	return b, nil
}

// Retry resets failed documents (all of them, or only documentIDs) to
// pending and runs every pending document of the batch, including any a
// crashed run abandoned. Completed documents are never re-extracted. A
// finished batch with nothing failed and nothing pending is returned
// unchanged.
func (o *Orchestrator) Retry(ctx context.Context, batchID string, documentIDs ...string) (*Report, error) {
	release, err := o.acquire(batchID)
	if err != nil {
		return nil, err
	}
	defer release()

	j, err := o.prepare(ctx, batchID)
	if err != nil {
		return nil, err
	}

	reclaimed, err := o.reclaim(ctx, batchID)
	if err != nil {
		return nil, err
	}
	reset, err := o.deps.Store.ResetFailedDocuments(ctx, batchID, documentIDs)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: reset failed documents of %s", batchID)
	}
	pending, err := o.deps.Store.ListDocuments(ctx, batchID, model.DocumentPending)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list pending documents of %s", batchID)
	}

	finished := j.batch.Status == model.BatchCompleted || j.batch.Status == model.BatchFailed
	if reset == 0 && len(pending) == 0 && finished {
		zap.L().Info("pipeline: nothing to retry", zap.String("batch_id", batchID))
		return o.Report(ctx, batchID)
	}

	zap.L().Info("pipeline: retrying batch",
		zap.String("batch_id", batchID),
		zap.Int("reset", reset),
		zap.Int("reclaimed", reclaimed),
		zap.Int("pending", len(pending)),
	)
	return o.run(ctx, j, pending)
}

// Cancel flags a batch as cancelled. A running batch stops before its next
// chunk; documents already in flight still commit.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) error {
	b, err := o.deps.Store.GetBatch(ctx, batchID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load batch %s", batchID)
	}
	if b.Status == model.BatchCompleted || b.Status == model.BatchFailed {
		return eris.Wrapf(ErrBatchNotActive, "batch %s is %s", b.Name, b.Status)
	}
	if err := o.deps.Store.SetBatchCancelled(ctx, batchID, true); err != nil {
		return eris.Wrapf(err, "pipeline: cancel batch %s", batchID)
	}
	zap.L().Info("pipeline: batch cancel requested", zap.String("batch_id", batchID))
	return nil
}

// Report loads the batch, its validation summary and its active alerts.
func (o *Orchestrator) Report(ctx context.Context, batchID string) (*Report, error) {
	b, err := o.deps.Store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load batch %s", batchID)
	}
	summary, err := o.summarize(ctx, batchID, false)
	if err != nil {
		return nil, err
	}
	alerts, err := o.deps.Store.ListAlerts(ctx, store.AlertFilter{BatchID: batchID})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list alerts of %s", batchID)
	}
	return &Report{Batch: b, Validation: summary, Alerts: alerts}, nil
}

// Revalidate runs the current rules over every stored record of the batch,
// corrections applied, and replaces each document's stored results.
func (o *Orchestrator) Revalidate(ctx context.Context, batchID string) (validate.Summary, error) {
	if _, err := o.deps.Store.GetBatch(ctx, batchID); err != nil {
		return validate.Summary{}, eris.Wrapf(err, "pipeline: load batch %s", batchID)
	}
	return o.summarize(ctx, batchID, true)
}

func (o *Orchestrator) summarize(ctx context.Context, batchID string, persist bool) (validate.Summary, error) {
	var summary validate.Summary
	entries, err := o.deps.Store.ListBatchRecords(ctx, batchID)
	if err != nil {
		return summary, eris.Wrapf(err, "pipeline: list records of %s", batchID)
	}

	for i := range entries {
		rec, err := o.corrected(ctx, &entries[i].Record)
		if err != nil {
			return summary, eris.Wrapf(err, "pipeline: %s", entries[i].Filename)
		}
		results := o.deps.Validator.Validate(rec)
		summary.Add(rec.DocumentID, results)
		if !persist {
			continue
		}
		if err := o.deps.Store.ReplaceValidationResults(ctx, rec.DocumentID, validate.Persistable(results)); err != nil {
			return summary, eris.Wrapf(err, "pipeline: save validation of %s", entries[i].Filename)
		}
	}
	return summary, nil
}

func (o *Orchestrator) corrected(ctx context.Context, rec *model.NormalizedRecord) (*model.NormalizedRecord, error) {
	corrections, err := o.deps.Store.ListCorrections(ctx, rec.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: corrections of record %s", rec.ID)
	}
	if len(corrections) == 0 {
		return rec, nil
	}
	return model.ApplyCorrections(rec, corrections)
}

// Correct appends a correction to a stored record after checking the new
// value parses for the field.
func (o *Orchestrator) Correct(ctx context.Context, recordID, field, value, reason string) (*model.Correction, error) {
	rec, err := o.deps.Store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load record %s", recordID)
	}
	if _, err := model.ParseFieldValue(field, value); err != nil {
		return nil, err
	}
	current, err := o.corrected(ctx, rec)
	if err != nil {
		return nil, err
	}

	c := &model.Correction{
		RecordID: recordID,
		Field:    field,
		OldValue: current.Text(field),
		NewValue: strings.TrimSpace(value),
		Reason:   reason,
	}
	if err := o.deps.Store.AppendCorrection(ctx, c); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save correction for record %s", recordID)
	}
	zap.L().Info("pipeline: record corrected",
		zap.String("record_id", recordID),
		zap.String("field", field),
	)
	return c, nil
}
