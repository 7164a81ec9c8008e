// Package pipeline runs batches of invoice documents through text
// extraction, field extraction, validation and anomaly detection.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/invoice-cli/internal/anomaly"
	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/extract"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/notify"
	"github.com/sells-group/invoice-cli/internal/ocr"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/internal/validate"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

var (
	// ErrUnknownVendor is returned when a batch names an unregistered vendor.
	ErrUnknownVendor = vendor.ErrUnknownVendor
	// ErrDuplicateBatchName is returned when a batch name is already taken.
	ErrDuplicateBatchName = eris.New("pipeline: duplicate batch name")
	// ErrUnknownTemplate is returned when a batch names a missing template.
	ErrUnknownTemplate = eris.New("pipeline: unknown template")
	// ErrEmptyBatch is returned when a submission carries no files.
	ErrEmptyBatch = eris.New("pipeline: batch has no files")
	// ErrPersistenceFailure means batch state could not be recorded.
	ErrPersistenceFailure = eris.New("pipeline: persistence failure")
	// ErrInterrupted is returned when the caller's context ends mid-batch.
	ErrInterrupted = eris.New("pipeline: interrupted")
	// ErrBatchNotActive is returned when cancelling a finished batch.
	ErrBatchNotActive = eris.New("pipeline: batch is not active")
	// ErrBatchRunning is returned when the batch is already being run by this
	// orchestrator.
	ErrBatchRunning = eris.New("pipeline: batch is already running")

	errCancelled = eris.New("pipeline: batch cancelled")
)

const (
	cancelledMessage   = "batch cancelled"
	interruptedMessage = "interrupted"
)

// Config controls chunking.
type Config struct {
	MaxConcurrency int
	ChunkDelay     time.Duration
}

// ConfigFrom maps application config onto orchestrator settings.
func ConfigFrom(c config.BatchConfig) Config {
	return Config{
		MaxConcurrency: c.MaxConcurrency,
		ChunkDelay:     time.Duration(c.ChunkDelayMs) * time.Millisecond,
	}
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     store.Store
	Vendors   *vendor.Registry
	Text      ocr.Extractor
	Extractor *extract.Engine
	Validator *validate.Engine
	Detector  *anomaly.Detector
	// Notifier is optional.
	Notifier notify.Notifier
}

// Progress is reported after every document reaches a terminal state.
type Progress struct {
	BatchID   string
	Filename  string
	Processed int
	Failed    int
	Total     int
	Err       string
}

// ProgressFunc receives progress updates from the orchestrator loop.
type ProgressFunc func(Progress)

// Report summarizes a batch after a run.
type Report struct {
	Batch      *model.Batch     `json:"batch"`
	Validation validate.Summary `json:"validation"`
	Alerts     []model.Alert    `json:"alerts"`
}

// Orchestrator owns batch execution and is the only writer of batch counters.
type Orchestrator struct {
	deps     Deps
	cfg      Config
	progress ProgressFunc

	mu      sync.Mutex
	running map[string]bool
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Orchestrator{deps: deps, cfg: cfg, running: make(map[string]bool)}
}

// Running reports whether this orchestrator is currently running the batch.
func (o *Orchestrator) Running(batchID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[batchID]
}

// acquire marks the batch as running until release is called.
func (o *Orchestrator) acquire(batchID string) (release func(), err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[batchID] {
		return nil, eris.Wrapf(ErrBatchRunning, "batch %s", batchID)
	}
	o.running[batchID] = true
	return func() {
		o.mu.Lock()
		delete(o.running, batchID)
		o.mu.Unlock()
	}, nil
}

// reclaim returns documents a previous run left in processing to pending.
// It must only be called while holding the batch.
func (o *Orchestrator) reclaim(ctx context.Context, batchID string) (int, error) {
	n, err := o.deps.Store.ReclaimDocuments(ctx, batchID)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: reclaim documents of %s", batchID)
	}
	if n > 0 {
		zap.L().Warn("pipeline: reclaimed abandoned documents",
			zap.String("batch_id", batchID),
			zap.Int("documents", n),
		)
	}
	return n, nil
}

// OnProgress installs a progress hook. It is called from a single goroutine.
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.progress = fn
}

// job is the resolved execution context of one batch run.
type job struct {
	batch    *model.Batch
	profile  vendor.Profile
	template *extract.TemplateStrategy

	processed int
	failed    int
}

func (o *Orchestrator) prepare(ctx context.Context, batchID string) (*job, error) {
	b, err := o.deps.Store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load batch %s", batchID)
	}
	profile, err := o.deps.Vendors.Lookup(b.VendorID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: batch %s", b.Name)
	}

	j := &job{batch: b, profile: profile}
	if b.TemplateID != "" {
		t, err := o.deps.Store.GetTemplate(ctx, b.TemplateID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, eris.Wrapf(ErrUnknownTemplate, "batch %s references template %s", b.Name, b.TemplateID)
			}
			return nil, eris.Wrapf(err, "pipeline: load template %s", b.TemplateID)
		}
		if j.template, err = extract.NewTemplateStrategy(*t); err != nil {
			return nil, eris.Wrapf(err, "pipeline: template %s", t.Name)
		}
	}
	return j, nil
}

// Run processes every pending document of the batch, then runs anomaly
// detection and marks the batch completed. Documents a crashed run left in
// processing are picked up again.
func (o *Orchestrator) Run(ctx context.Context, batchID string) (*Report, error) {
	release, err := o.acquire(batchID)
	if err != nil {
		return nil, err
	}
	defer release()

	j, err := o.prepare(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if _, err := o.reclaim(ctx, batchID); err != nil {
		return nil, err
	}
	pending, err := o.deps.Store.ListDocuments(ctx, batchID, model.DocumentPending)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list pending documents of %s", batchID)
	}
	return o.run(ctx, j, pending)
}

func (o *Orchestrator) run(ctx context.Context, j *job, docs []model.Document) (*Report, error) {
	id := j.batch.ID
	log := zap.L().With(zap.String("batch_id", id), zap.String("batch", j.batch.Name))

	if err := o.deps.Store.UpdateBatchStatus(ctx, id, model.BatchProcessing, ""); err != nil {
		return nil, eris.Wrapf(ErrPersistenceFailure, "mark batch %s processing: %v", id, err)
	}
	b, err := o.deps.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistenceFailure, "reload batch %s: %v", id, err)
	}
	j.batch = b
	j.processed, j.failed = b.ProcessedFiles, b.FailedFiles

	log.Info("pipeline: batch started",
		zap.Int("documents", len(docs)),
		zap.Int("chunk_size", o.cfg.MaxConcurrency),
	)
	start := time.Now()

	runErr := o.execute(ctx, j, docs)
	// Whatever happened, the batch outcome must be recorded.
	final := context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
	case eris.Is(runErr, errCancelled):
		log.Info("pipeline: batch cancelled", zap.Int("processed", j.processed), zap.Int("failed", j.failed))
		if err := o.markFailed(final, id, cancelledMessage); err != nil {
			return nil, err
		}
		return o.Report(final, id)
	case eris.Is(runErr, ErrInterrupted):
		log.Warn("pipeline: batch interrupted", zap.Error(runErr))
		if err := o.markFailed(final, id, interruptedMessage); err != nil {
			return nil, err
		}
		return nil, runErr
	default:
		log.Error("pipeline: batch failed", zap.Error(runErr))
		if err := o.markFailed(final, id, runErr.Error()); err != nil {
			log.Error("pipeline: could not record batch failure", zap.Error(err))
		}
		return nil, runErr
	}

	b, err = o.deps.Store.GetBatch(final, id)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistenceFailure, "reload batch %s: %v", id, err)
	}
	if !b.Done() {
		msg := "documents left unfinished"
		log.Error("pipeline: batch counters incomplete",
			zap.Int("processed", b.ProcessedFiles),
			zap.Int("failed", b.FailedFiles),
			zap.Int("total", b.TotalFiles),
		)
		if err := o.markFailed(final, id, msg); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrPersistenceFailure, "batch %s: %s", id, msg)
	}

	alerts, err := o.deps.Detector.Run(final, id, j.profile)
	if err != nil {
		if ferr := o.markFailed(final, id, "anomaly detection: "+err.Error()); ferr != nil {
			log.Error("pipeline: could not record batch failure", zap.Error(ferr))
		}
		return nil, eris.Wrapf(ErrPersistenceFailure, "anomaly detection for batch %s: %v", id, err)
	}
	if err := o.deps.Store.UpdateBatchStatus(final, id, model.BatchCompleted, ""); err != nil {
		return nil, eris.Wrapf(ErrPersistenceFailure, "mark batch %s completed: %v", id, err)
	}

	log.Info("pipeline: batch completed",
		zap.Int("processed", b.ProcessedFiles),
		zap.Int("failed", b.FailedFiles),
		zap.Int("alerts", len(alerts)),
		zap.Duration("elapsed", time.Since(start)),
	)

	report, err := o.Report(final, id)
	if err != nil {
		return nil, err
	}
	// Dismissed alerts are not re-sent.
	if o.deps.Notifier != nil && len(report.Alerts) > 0 {
		o.deps.Notifier.Notify(final, report.Batch, report.Alerts)
	}
	return report, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, id, msg string) error {
	if err := o.deps.Store.UpdateBatchStatus(ctx, id, model.BatchFailed, msg); err != nil {
		return eris.Wrapf(ErrPersistenceFailure, "mark batch %s failed: %v", id, err)
	}
	return nil
}

// execute walks docs in chunks. A chunk fully drains before the next starts.
func (o *Orchestrator) execute(ctx context.Context, j *job, docs []model.Document) error {
	size := o.cfg.MaxConcurrency
	for start := 0; start < len(docs); start += size {
		if start > 0 && o.cfg.ChunkDelay > 0 {
			t := time.NewTimer(o.cfg.ChunkDelay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(ErrInterrupted, "%d documents not started: %v", len(docs)-start, err)
		}

		b, err := o.deps.Store.GetBatch(ctx, j.batch.ID)
		if err != nil {
			return eris.Wrapf(ErrPersistenceFailure, "check batch %s: %v", j.batch.ID, err)
		}
		if b.Cancelled {
			return o.cancelRemaining(ctx, j, docs[start:])
		}

		end := min(start+size, len(docs))
		if err := o.runChunk(ctx, j, docs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// runChunk processes one chunk concurrently. Workers report outcomes over a
// channel; only this goroutine touches the batch counters. In-flight work is
// detached from ctx so it commits even when the caller gives up.
func (o *Orchestrator) runChunk(ctx context.Context, j *job, chunk []model.Document) error {
	work := context.WithoutCancel(ctx)
	outcomes := make(chan outcome, len(chunk))

	var g errgroup.Group
	for _, doc := range chunk {
		g.Go(func() error {
			outcomes <- o.processDocument(work, j, doc)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	var fatal error
	for out := range outcomes {
		if err := o.record(work, j, out); err != nil && fatal == nil {
			fatal = err
		}
	}
	return fatal
}

// cancelRemaining fails every document that has not started yet.
func (o *Orchestrator) cancelRemaining(ctx context.Context, j *job, docs []model.Document) error {
	for _, doc := range docs {
		err := o.deps.Store.FailDocument(ctx, doc.ID, cancelledMessage)
		if eris.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return eris.Wrapf(ErrPersistenceFailure, "cancel %s: %v", doc.Filename, err)
		}
		if err := o.record(ctx, j, outcome{doc: doc, claimed: true, err: errCancelled}); err != nil {
			return err
		}
	}
	return errCancelled
}

// record applies one outcome to the batch counters and reports progress.
func (o *Orchestrator) record(ctx context.Context, j *job, out outcome) error {
	if out.fatal != nil {
		return out.fatal
	}
	if !out.claimed {
		return nil
	}

	processed, failed := 1, 0
	if out.err != nil {
		processed, failed = 0, 1
	}
	if err := o.deps.Store.IncrementBatchCounters(ctx, j.batch.ID, processed, failed); err != nil {
		return eris.Wrapf(ErrPersistenceFailure, "update counters of batch %s: %v", j.batch.ID, err)
	}
	j.processed += processed
	j.failed += failed

	if o.progress != nil {
		p := Progress{
			BatchID:   j.batch.ID,
			Filename:  out.doc.Filename,
			Processed: j.processed,
			Failed:    j.failed,
			Total:     j.batch.TotalFiles,
		}
		if out.err != nil {
			p.Err = out.err.Error()
		}
		o.progress(p)
	}
	return nil
}
