package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
)

var (
	gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

const gstinLength = 15

// compiledRule is a Rule that passed configuration checks.
type compiledRule struct {
	Rule
	re       *regexp.Regexp
	min, max *decimal.Decimal
}

// Engine evaluates a fixed, ordered rule set.
type Engine struct {
	rules   []compiledRule
	skipped []error
}

// NewEngine compiles rules. Misconfigured rules are skipped and logged; the
// reasons are available from Skipped.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	for _, r := range rules {
		cr, err := compile(r)
		if err != nil {
			zap.L().Warn("validate: skipping rule",
				zap.String("rule_id", r.ID),
				zap.String("field", r.Field),
				zap.Error(err),
			)
			e.skipped = append(e.skipped, err)
			continue
		}
		e.rules = append(e.rules, cr)
	}
	return e
}

// Rules returns the active rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// Skipped returns one error per rule dropped at construction.
func (e *Engine) Skipped() []error {
	return e.skipped
}

func compile(r Rule) (compiledRule, error) {
	bad := func(format string, args ...any) (compiledRule, error) {
		return compiledRule{}, eris.Wrapf(ErrRuleMisconfigured, "rule %q: "+format, append([]any{r.ID}, args...)...)
	}

	if r.ID == "" {
		return bad("id is required")
	}
	if _, ok := model.LookupField(r.Field); !ok {
		return bad("unknown field %q", r.Field)
	}
	switch r.Severity {
	case "":
		r.Severity = model.ValidationFail
	case model.ValidationFail, model.ValidationWarning:
	default:
		return bad("severity %q must be fail or warning", r.Severity)
	}

	cr := compiledRule{Rule: r}
	if r.Min != nil {
		d := decimal.NewFromFloat(*r.Min)
		cr.min = &d
	}
	if r.Max != nil {
		d := decimal.NewFromFloat(*r.Max)
		cr.max = &d
	}
	if cr.min != nil && cr.max != nil && cr.min.GreaterThan(*cr.max) {
		return bad("min %s exceeds max %s", cr.min, cr.max)
	}

	switch r.Type {
	case TypeRequired, TypeNumeric, TypeDate, TypeGSTIN, TypeEmail, TypePhone:
	case TypeRange:
		if cr.min == nil && cr.max == nil {
			return bad("range needs min or max")
		}
	case TypeRegex:
		if r.Pattern == "" {
			return bad("regex needs a pattern")
		}
		prefix, err := flagPrefix(r.Flags)
		if err != nil {
			return bad("%v", err)
		}
		re, err := regexp.Compile(prefix + r.Pattern)
		if err != nil {
			return bad("bad pattern: %v", err)
		}
		cr.re = re
	default:
		return bad("unknown type %q", r.Type)
	}
	return cr, nil
}

// flagPrefix converts flags such as "im" to an inline group "(?im)".
func flagPrefix(flags string) (string, error) {
	if flags == "" {
		return "", nil
	}
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'U':
		default:
			return "", eris.Errorf("unsupported flag %q", f)
		}
	}
	return "(?" + flags + ")", nil
}

// Validate runs every rule against rec. Every rule yields exactly one result.
func (e *Engine) Validate(rec *model.NormalizedRecord) []model.ValidationResult {
	results := make([]model.ValidationResult, 0, len(e.rules))
	for _, r := range e.rules {
		value := strings.TrimSpace(rec.Text(r.Field))
		res := model.ValidationResult{
			DocumentID:    rec.DocumentID,
			RecordID:      rec.ID,
			RuleID:        r.ID,
			Field:         r.Field,
			Status:        model.ValidationPass,
			OriginalValue: value,
		}
		if value == "" && r.Type != TypeRequired {
			results = append(results, res)
			continue
		}
		r.check(value, &res)
		results = append(results, res)
	}
	return results
}

func (r compiledRule) check(value string, res *model.ValidationResult) {
	violate := func(status model.ValidationStatus, msg string) {
		res.Status = status
		res.Message = msg
		if r.Message != "" {
			res.Message = r.Message
		}
	}

	switch r.Type {
	case TypeRequired:
		if value == "" {
			violate(model.ValidationFail, r.Field+" is required")
		}
	case TypeNumeric:
		d, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
		if err != nil {
			violate(model.ValidationFail, fmt.Sprintf("%s %q is not a number", r.Field, value))
			return
		}
		if msg := r.outOfBounds(d); msg != "" {
			violate(model.ValidationFail, msg)
		}
	case TypeRange:
		d, err := decimal.NewFromString(value)
		if err != nil {
			violate(model.ValidationFail, fmt.Sprintf("%s %q is not a number", r.Field, value))
			return
		}
		if msg := r.outOfBounds(d); msg != "" {
			violate(model.ValidationFail, msg)
		}
	case TypeDate:
		if !model.IsDate(value) {
			violate(model.ValidationFail, fmt.Sprintf("%s %q is not a valid %s date", r.Field, value, model.DateLayout))
		}
	case TypeGSTIN:
		upper := strings.ToUpper(value)
		switch {
		case len(value) != gstinLength:
			violate(r.Severity, fmt.Sprintf("GSTIN must be exactly %d characters, got %d", gstinLength, len(value)))
		case gstinPattern.MatchString(value):
		case gstinPattern.MatchString(upper):
			violate(r.Severity, "GSTIN must be upper case")
			res.SuggestedValue = upper
		default:
			violate(r.Severity, fmt.Sprintf("GSTIN %q does not match the GSTIN format", value))
		}
	case TypeEmail:
		if !emailPattern.MatchString(value) {
			violate(r.Severity, fmt.Sprintf("%q is not a valid email address", value))
		}
	case TypePhone:
		digits := nonDigits.ReplaceAllString(value, "")
		switch {
		case len(digits) == 10:
		case len(digits) == 12 && strings.HasPrefix(digits, "91"):
			res.SuggestedValue = digits[2:]
			res.Message = "country code 91 can be dropped"
		case len(digits) < 10:
			violate(r.Severity, fmt.Sprintf("phone number has %d digits, need at least 10", len(digits)))
		default:
			violate(r.Severity, fmt.Sprintf("phone number has %d digits; expected 10, or 12 with country code 91", len(digits)))
		}
	case TypeRegex:
		if !r.re.MatchString(value) {
			violate(r.Severity, fmt.Sprintf("%s %q does not match %s", r.Field, value, r.Pattern))
		}
	}
}

func (r compiledRule) outOfBounds(d decimal.Decimal) string {
	if r.min != nil && d.LessThan(*r.min) {
		return fmt.Sprintf("%s %s is below the minimum %s", r.Field, d, r.min)
	}
	if r.max != nil && d.GreaterThan(*r.max) {
		return fmt.Sprintf("%s %s is above the maximum %s", r.Field, d, r.max)
	}
	return ""
}

// Persistable keeps the results worth storing: warnings, failures and
// passes that carry a suggested value.
func Persistable(results []model.ValidationResult) []model.ValidationResult {
	var out []model.ValidationResult
	for _, r := range results {
		if r.Status != model.ValidationPass || r.SuggestedValue != "" {
			out = append(out, r)
		}
	}
	return out
}

// Summary aggregates validation outcomes across a batch.
type Summary struct {
	Pass                int `json:"pass"`
	Warning             int `json:"warning"`
	Fail                int `json:"fail"`
	DocumentsWithIssues int `json:"documents_with_issues"`

	flagged map[string]bool
}

// Add counts results for one document.
func (s *Summary) Add(documentID string, results []model.ValidationResult) {
	if s.flagged == nil {
		s.flagged = make(map[string]bool)
	}
	for _, r := range results {
		switch r.Status {
		case model.ValidationPass:
			s.Pass++
		case model.ValidationWarning:
			s.Warning++
		case model.ValidationFail:
			s.Fail++
		}
		if r.Status != model.ValidationPass && !s.flagged[documentID] {
			s.flagged[documentID] = true
			s.DocumentsWithIssues++
		}
	}
}
