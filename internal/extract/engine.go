package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

// Engine resolves a strategy per document and canonicalizes what it captures.
type Engine struct {
	ai    Strategy
	regex Strategy
}

// NewEngine creates an engine. ai may be nil, which disables the AI strategy.
func NewEngine(ai Strategy) *Engine {
	return &Engine{ai: ai, regex: RegexStrategy{}}
}

// AIEnabled reports whether the engine tries the AI strategy first.
func (e *Engine) AIEnabled() bool { return e.ai != nil }

// Extract produces a record from text. The AI strategy runs first when
// enabled; on any failure it falls back to tmpl when the batch has one, and
// otherwise to the profile's regex rules. Missing fields are never an error.
func (e *Engine) Extract(ctx context.Context, text string, profile vendor.Profile, tmpl *TemplateStrategy) (*model.NormalizedRecord, model.ExtractionMethod, error) {
	raw, method := e.capture(ctx, text, profile, tmpl)

	values := make(map[string]any, len(raw))
	for key, v := range raw {
		if val := normalize(v); val != nil {
			values[key] = val
		}
	}

	for key, def := range profile.Defaults {
		if _, ok := values[key]; ok {
			continue
		}
		spec, _ := model.LookupField(key)
		if val := normalize(RawValue{Text: def, Kind: spec.Kind}); val != nil {
			values[key] = val
		}
	}

	deriveTax(values)

	rec, err := model.BuildRecord(values)
	if err != nil {
		return nil, method, eris.Wrap(err, "extract: build record")
	}
	rec.VendorID = profile.ID
	rec.Method = method
	return rec, method, nil
}

func (e *Engine) capture(ctx context.Context, text string, profile vendor.Profile, tmpl *TemplateStrategy) (RawFields, model.ExtractionMethod) {
	if e.ai != nil {
		raw, err := e.ai.Extract(ctx, text, profile)
		if err == nil {
			return raw, e.ai.Method()
		}
		zap.L().Warn("extract: ai strategy failed, falling back",
			zap.String("vendor", profile.ID),
			zap.Error(err),
		)
	}

	fallback := e.regex
	if tmpl != nil {
		fallback = tmpl
	}
	raw, err := fallback.Extract(ctx, text, profile)
	if err != nil {
		zap.L().Warn("extract: fallback strategy failed", zap.String("vendor", profile.ID), zap.Error(err))
		raw = RawFields{}
	}
	return raw, fallback.Method()
}
