package extract

import (
	"context"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

// RegexStrategy applies a vendor profile's rules in order. The first rule to
// capture a field wins; rules that do not match leave their fields empty.
type RegexStrategy struct{}

// Method implements Strategy.
func (RegexStrategy) Method() model.ExtractionMethod { return model.MethodRegex }

// Extract implements Strategy.
func (RegexStrategy) Extract(_ context.Context, text string, profile vendor.Profile) (RawFields, error) {
	out := make(RawFields)
	for _, rule := range profile.Rules {
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		switch rule.Mode {
		case vendor.MultiGroup:
			for _, g := range rule.Groups {
				if g.Index < len(m) && m[g.Index] != "" {
					out.set(g.Name, RawValue{Text: m[g.Index], Kind: g.Kind, ExcludeYear: rule.ExcludeYear})
				}
			}
		case vendor.DuplicatedBlock:
			if len(m) > 1 && m[1] != "" {
				out.set(rule.Name, RawValue{Text: ReduceDuplicated(m[1]), Kind: rule.Kind, ExcludeYear: rule.ExcludeYear})
			}
		default:
			if len(m) > 1 && m[1] != "" {
				out.set(rule.Name, RawValue{Text: m[1], Kind: rule.Kind, ExcludeYear: rule.ExcludeYear})
			}
		}
	}
	return out, nil
}
