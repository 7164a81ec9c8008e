package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/anomaly"
	"github.com/sells-group/invoice-cli/internal/extract"
	"github.com/sells-group/invoice-cli/internal/notify"
	"github.com/sells-group/invoice-cli/internal/ocr"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/internal/validate"
	"github.com/sells-group/invoice-cli/internal/vendor"
	anthropicpkg "github.com/sells-group/invoice-cli/pkg/anthropic"
)

// pipelineEnv holds the store and the orchestrator needed by the batch
// commands and the server.
type pipelineEnv struct {
	Store   store.Store
	Orch    *pipeline.Orchestrator
	Vendors *vendor.Registry
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store and builds the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	orch, err := newOrchestrator(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &pipelineEnv{Store: st, Orch: orch, Vendors: vendor.DefaultRegistry()}, nil
}

// newOrchestrator wires the extraction, validation and alerting components
// around st from the loaded config.
func newOrchestrator(st store.Store) (*pipeline.Orchestrator, error) {
	var ai extract.Strategy
	if cfg.AIConfigured() {
		s, err := extract.NewAIStrategy(anthropicpkg.NewClient(cfg.Anthropic.Key), extract.AIConfigFrom(cfg))
		if err != nil {
			return nil, eris.Wrap(err, "init ai extraction")
		}
		ai = s
		zap.L().Info("ai extraction enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Debug("ai extraction disabled, using template and regex strategies")
	}

	rules, err := validate.LoadRules(cfg.Validation.RulesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load validation rules")
	}
	validator := validate.NewEngine(rules)
	for _, skipped := range validator.Skipped() {
		zap.L().Warn("validation rule skipped", zap.Error(skipped))
	}

	deps := pipeline.Deps{
		Store:     st,
		Vendors:   vendor.DefaultRegistry(),
		Text:      ocr.NewExtractor(cfg.OCR),
		Extractor: extract.NewEngine(ai),
		Validator: validator,
		Detector:  anomaly.NewDetector(st, anomaly.ConfigFrom(cfg.Anomaly)),
	}
	if w := notify.NewWebhook(cfg.Notify); w != nil {
		deps.Notifier = w
	}

	return pipeline.New(deps, pipeline.ConfigFrom(cfg.Batch)), nil
}
