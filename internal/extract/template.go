package extract

import (
	"context"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

// TemplateStrategy applies a saved custom template: one pattern per field,
// capture group 1.
type TemplateStrategy struct {
	template model.Template
	fields   []compiledField
}

type compiledField struct {
	name    string
	kind    model.FieldKind
	pattern *regexp.Regexp
}

// NewTemplateStrategy compiles every field pattern of t. Fields must be
// canonical keys and patterns must have at least one capture group.
func NewTemplateStrategy(t model.Template) (*TemplateStrategy, error) {
	s := &TemplateStrategy{template: t}
	for _, f := range t.Fields {
		spec, ok := model.LookupField(f.Name)
		if !ok {
			return nil, eris.Wrapf(model.ErrUnknownField, "extract: template %s field %q", t.Name, f.Name)
		}
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: template %s field %s", t.Name, f.Name)
		}
		if re.NumSubexp() < 1 {
			return nil, eris.Errorf("extract: template %s field %s has no capture group", t.Name, f.Name)
		}
		s.fields = append(s.fields, compiledField{name: f.Name, kind: spec.Kind, pattern: re})
	}
	return s, nil
}

// Template returns the template the strategy was built from.
func (s *TemplateStrategy) Template() model.Template { return s.template }

// Method implements Strategy.
func (s *TemplateStrategy) Method() model.ExtractionMethod { return model.MethodTemplate }

// Extract implements Strategy.
func (s *TemplateStrategy) Extract(_ context.Context, text string, _ vendor.Profile) (RawFields, error) {
	out := make(RawFields)
	for _, f := range s.fields {
		m := f.pattern.FindStringSubmatch(text)
		if len(m) < 2 || m[1] == "" {
			continue
		}
		out.set(f.name, RawValue{Text: m[1], Kind: f.kind})
	}
	return out, nil
}
