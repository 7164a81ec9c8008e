package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/pipeline"
)

// progressReporter renders orchestrator progress as a terminal bar. The bar
// is created on the first update, once the batch total is known.
type progressReporter struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w}
}

func (r *progressReporter) update(p pipeline.Progress) {
	if r.bar == nil {
		r.bar = progressbar.NewOptions(p.Total,
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Extracting invoices"),
			progressbar.OptionOnCompletion(func() {
				_, _ = fmt.Fprintln(r.w)
			}),
		)
	}
	if p.Err != "" {
		r.bar.Describe(fmt.Sprintf("Extracting invoices (%d failed)", p.Failed))
	}
	if err := r.bar.Set(p.Processed + p.Failed); err != nil {
		zap.L().Debug("progress bar update failed", zap.Error(err))
	}
}
