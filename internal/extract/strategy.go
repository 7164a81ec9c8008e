// Package extract turns raw invoice text into a NormalizedRecord using the AI,
// template or regex strategy, then canonicalizes the values.
package extract

import (
	"context"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

// RawValue is an uncanonicalized field value as captured by a strategy.
type RawValue struct {
	Text        string
	Kind        model.FieldKind
	ExcludeYear bool
}

// RawFields maps canonical field keys to captured text.
type RawFields map[string]RawValue

// set records v for key unless a previous capture already holds a value.
func (f RawFields) set(key string, v RawValue) {
	if _, ok := f[key]; ok {
		return
	}
	f[key] = v
}

// Strategy is one way of capturing field values from document text.
type Strategy interface {
	Method() model.ExtractionMethod
	Extract(ctx context.Context, text string, profile vendor.Profile) (RawFields, error)
}
