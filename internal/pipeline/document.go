package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/internal/validate"
)

// failRetry bounds how hard a worker tries to record a document failure. A
// document it gives up on stays in processing until the next run reclaims it.
var failRetry = resilience.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     time.Second,
	Multiplier:     2,
	ShouldRetry:    func(err error) bool { return !eris.Is(err, store.ErrConflict) },
}

// outcome is what a worker reports back for one document.
type outcome struct {
	doc model.Document
	// claimed is false when another run owns the document.
	claimed bool
	// err is the document failure, if any.
	err error
	// fatal is a persistence failure that fails the whole batch.
	fatal error
}

func (o *Orchestrator) processDocument(ctx context.Context, j *job, doc model.Document) outcome {
	out := outcome{doc: doc}
	log := zap.L().With(zap.String("batch_id", doc.BatchID), zap.String("document", doc.Filename))

	claimed, err := o.deps.Store.ClaimDocument(ctx, doc.ID)
	if err != nil {
		out.fatal = eris.Wrapf(ErrPersistenceFailure, "claim %s: %v", doc.Filename, err)
		return out
	}
	if !claimed {
		log.Warn("pipeline: document no longer pending, skipping")
		return out
	}
	out.claimed = true

	if err := o.extractDocument(ctx, j, doc); err != nil {
		out.err = err
		log.Warn("pipeline: document failed", zap.Error(err))
		ferr := resilience.Do(ctx, failRetry, func(ctx context.Context) error {
			return o.deps.Store.FailDocument(ctx, doc.ID, err.Error())
		})
		if ferr != nil {
			out.fatal = eris.Wrapf(ErrPersistenceFailure, "record failure of %s: %v", doc.Filename, ferr)
		}
	}
	return out
}

// extractDocument takes a claimed document to completed. Any error leaves
// the document for the caller to fail.
func (o *Orchestrator) extractDocument(ctx context.Context, j *job, doc model.Document) error {
	text, pages, err := o.deps.Text.ExtractText(ctx, doc.FilePath)
	if err != nil {
		return err
	}

	rec, method, err := o.deps.Extractor.Extract(ctx, text, j.profile, j.template)
	if err != nil {
		return eris.Wrapf(err, "pipeline: extract %s", doc.Filename)
	}
	rec.ID = uuid.New().String()
	rec.DocumentID = doc.ID
	rec.BatchID = doc.BatchID

	results := o.deps.Validator.Validate(rec)
	if err := o.deps.Store.CompleteDocument(ctx, doc.ID, pages, rec, validate.Persistable(results)); err != nil {
		return eris.Wrapf(ErrPersistenceFailure, "save %s: %v", doc.Filename, err)
	}

	zap.L().Debug("pipeline: document completed",
		zap.String("document", doc.Filename),
		zap.String("method", string(method)),
		zap.Int("pages", pages),
		zap.Int("stored_results", len(validate.Persistable(results))),
	)
	return nil
}
