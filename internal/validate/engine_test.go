package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/model"
)

func ptr(f float64) *float64 { return &f }

func record(t *testing.T, values map[string]any) *model.NormalizedRecord {
	t.Helper()
	rec, err := model.BuildRecord(values)
	require.NoError(t, err)
	rec.ID = "rec-1"
	rec.DocumentID = "doc-1"
	return rec
}

func single(t *testing.T, rule Rule, values map[string]any) model.ValidationResult {
	t.Helper()
	e := NewEngine([]Rule{rule})
	require.Empty(t, e.Skipped())
	results := e.Validate(record(t, values))
	require.Len(t, results, 1)
	return results[0]
}

func TestDefaultRules_Load(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	e := NewEngine(rules)
	assert.Empty(t, e.Skipped(), "built-in rules must all compile")

	for i := 1; i < len(rules); i++ {
		assert.LessOrEqual(t, rules[i-1].Order, rules[i].Order)
	}
}

func TestLoadRules_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: second
    field: bill_number
    type: required
    order: 2
  - id: first
    field: circuit_id
    type: required
    order: 1
  - id: also_second
    field: bill_date
    type: date
    order: 2
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "first", rules[0].ID)
	assert.Equal(t, "second", rules[1].ID)
	assert.Equal(t, "also_second", rules[2].ID)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	defaults, err := LoadRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, defaults)
}

func TestNewEngine_SkipsMisconfigured(t *testing.T) {
	rules := []Rule{
		{ID: "ok", Field: model.FieldBillNumber, Type: TypeRequired},
		{ID: "bad_field", Field: "nope", Type: TypeRequired},
		{ID: "bad_type", Field: model.FieldBillNumber, Type: "checksum"},
		{ID: "bad_regex", Field: model.FieldHSNSAC, Type: TypeRegex, Pattern: "("},
		{ID: "bad_flags", Field: model.FieldHSNSAC, Type: TypeRegex, Pattern: "x", Flags: "q"},
		{ID: "empty_range", Field: model.FieldCGSTRate, Type: TypeRange},
		{ID: "inverted", Field: model.FieldCGSTRate, Type: TypeRange, Min: ptr(10), Max: ptr(1)},
		{ID: "bad_severity", Field: model.FieldVendorGSTIN, Type: TypeGSTIN, Severity: "info"},
		{Field: model.FieldBillNumber, Type: TypeRequired},
	}

	e := NewEngine(rules)
	require.Len(t, e.Rules(), 1)
	assert.Equal(t, "ok", e.Rules()[0].ID)
	require.Len(t, e.Skipped(), 8)
	for _, err := range e.Skipped() {
		assert.True(t, eris.Is(err, ErrRuleMisconfigured), err.Error())
	}
}

func TestValidate_Required(t *testing.T) {
	rule := Rule{ID: "r", Field: model.FieldBillNumber, Type: TypeRequired}

	res := single(t, rule, nil)
	assert.Equal(t, model.ValidationFail, res.Status)
	assert.Equal(t, "bill_number is required", res.Message)
	assert.Equal(t, "rec-1", res.RecordID)
	assert.Equal(t, "doc-1", res.DocumentID)

	res = single(t, rule, map[string]any{model.FieldBillNumber: "B-1"})
	assert.Equal(t, model.ValidationPass, res.Status)
}

func TestValidate_NonRequiredPassOnEmpty(t *testing.T) {
	for _, typ := range []RuleType{TypeNumeric, TypeDate, TypeGSTIN, TypeEmail, TypePhone} {
		res := single(t, Rule{ID: "r", Field: model.FieldContactPhone, Type: typ}, nil)
		assert.Equal(t, model.ValidationPass, res.Status, typ)
	}
}

func TestValidate_GSTIN(t *testing.T) {
	rule := Rule{ID: "g", Field: model.FieldVendorGSTIN, Type: TypeGSTIN, Severity: model.ValidationWarning}

	tests := []struct {
		name    string
		value   string
		status  model.ValidationStatus
		message string
		suggest string
	}{
		{"valid", "29ABCDE1234F1Z5", model.ValidationPass, "", ""},
		{"short", "29ABCDE1234F1Z", model.ValidationWarning, "GSTIN must be exactly 15 characters, got 14", ""},
		{"long", "29ABCDE1234F1Z55", model.ValidationWarning, "GSTIN must be exactly 15 characters, got 16", ""},
		{"lower case", "29abcde1234f1z5", model.ValidationWarning, "GSTIN must be upper case", "29ABCDE1234F1Z5"},
		{"bad shape", "29ABCDE1234F1X5", model.ValidationWarning, `GSTIN "29ABCDE1234F1X5" does not match the GSTIN format`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := single(t, rule, map[string]any{model.FieldVendorGSTIN: tt.value})
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, tt.suggest, res.SuggestedValue)
		})
	}

	failRule := rule
	failRule.Severity = model.ValidationFail
	res := single(t, failRule, map[string]any{model.FieldVendorGSTIN: "29ABCDE1234F1Z"})
	assert.Equal(t, model.ValidationFail, res.Status)
}

func TestValidate_Phone(t *testing.T) {
	rule := Rule{ID: "p", Field: model.FieldContactPhone, Type: TypePhone, Severity: model.ValidationWarning}

	res := single(t, rule, map[string]any{model.FieldContactPhone: "98450 12345"})
	assert.Equal(t, model.ValidationPass, res.Status)

	res = single(t, rule, map[string]any{model.FieldContactPhone: "+91 98450 12345"})
	assert.Equal(t, model.ValidationPass, res.Status)
	assert.Equal(t, "9845012345", res.SuggestedValue)

	res = single(t, rule, map[string]any{model.FieldContactPhone: "12345"})
	assert.Equal(t, model.ValidationWarning, res.Status)
	assert.Contains(t, res.Message, "need at least 10")

	res = single(t, rule, map[string]any{model.FieldContactPhone: "0098450123456"})
	assert.Equal(t, model.ValidationWarning, res.Status)
	assert.Contains(t, res.Message, "13 digits")
}

func TestValidate_PhoneSuggestionIsStored(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	e := NewEngine(rules)

	kept := Persistable(e.Validate(record(t, map[string]any{
		model.FieldBillNumber:   "B-1",
		model.FieldContactPhone: "+91 98450 12345",
	})))

	var phone *model.ValidationResult
	for i := range kept {
		if kept[i].Field == model.FieldContactPhone {
			phone = &kept[i]
		}
	}
	require.NotNil(t, phone)
	assert.Equal(t, model.ValidationPass, phone.Status)
	assert.Equal(t, "+91 98450 12345", phone.OriginalValue)
	assert.Equal(t, "9845012345", phone.SuggestedValue)

	var s Summary
	s.Add("doc-1", []model.ValidationResult{*phone})
	assert.Zero(t, s.DocumentsWithIssues)
}

func TestValidate_Email(t *testing.T) {
	rule := Rule{ID: "e", Field: model.FieldContactEmail, Type: TypeEmail, Severity: model.ValidationWarning}

	assert.Equal(t, model.ValidationPass, single(t, rule, map[string]any{model.FieldContactEmail: "billing@airtel.in"}).Status)
	assert.Equal(t, model.ValidationWarning, single(t, rule, map[string]any{model.FieldContactEmail: "billing.airtel.in"}).Status)
	assert.Equal(t, model.ValidationWarning, single(t, rule, map[string]any{model.FieldContactEmail: "billing@airtel"}).Status)
}

func TestValidate_NumericAndRange(t *testing.T) {
	numeric := Rule{ID: "n", Field: model.FieldTotalAmount, Type: TypeNumeric, Min: ptr(0)}
	res := single(t, numeric, map[string]any{model.FieldTotalAmount: decimal.RequireFromString("-5")})
	assert.Equal(t, model.ValidationFail, res.Status)
	assert.Contains(t, res.Message, "below the minimum 0")

	res = single(t, numeric, map[string]any{model.FieldTotalAmount: decimal.RequireFromString("1180.50")})
	assert.Equal(t, model.ValidationPass, res.Status)

	// Numeric checks apply to string fields too.
	res = single(t, Rule{ID: "n2", Field: model.FieldAccountNumber, Type: TypeNumeric}, map[string]any{model.FieldAccountNumber: "ACC-9"})
	assert.Equal(t, model.ValidationFail, res.Status)
	assert.Contains(t, res.Message, "is not a number")

	rng := Rule{ID: "rg", Field: model.FieldCGSTRate, Type: TypeRange, Min: ptr(0), Max: ptr(28)}
	assert.Equal(t, model.ValidationPass, single(t, rng, map[string]any{model.FieldCGSTRate: decimal.NewFromInt(9)}).Status)
	res = single(t, rng, map[string]any{model.FieldCGSTRate: decimal.NewFromInt(30)})
	assert.Equal(t, model.ValidationFail, res.Status)
	assert.Contains(t, res.Message, "above the maximum 28")
}

func TestValidate_Date(t *testing.T) {
	rule := Rule{ID: "d", Field: model.FieldPlanName, Type: TypeDate}
	assert.Equal(t, model.ValidationPass, single(t, rule, map[string]any{model.FieldPlanName: "2025-10-29"}).Status)
	assert.Equal(t, model.ValidationFail, single(t, rule, map[string]any{model.FieldPlanName: "2025-02-30"}).Status)
}

func TestValidate_RegexWithFlagsAndMessage(t *testing.T) {
	rule := Rule{
		ID: "x", Field: model.FieldPlanName, Type: TypeRegex, Pattern: `^ill\b`, Flags: "i",
		Severity: model.ValidationWarning, Message: "plan should be an ILL plan",
	}
	assert.Equal(t, model.ValidationPass, single(t, rule, map[string]any{model.FieldPlanName: "ILL 100 Mbps"}).Status)

	res := single(t, rule, map[string]any{model.FieldPlanName: "Broadband 100"})
	assert.Equal(t, model.ValidationWarning, res.Status)
	assert.Equal(t, "plan should be an ILL plan", res.Message)
	assert.Equal(t, "Broadband 100", res.OriginalValue)
}

func TestValidate_FieldAccumulatesResults(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "req", Field: model.FieldTotalAmount, Type: TypeRequired},
		{ID: "num", Field: model.FieldTotalAmount, Type: TypeNumeric, Max: ptr(100)},
	})
	results := e.Validate(record(t, map[string]any{model.FieldTotalAmount: decimal.NewFromInt(500)}))
	require.Len(t, results, 2)
	assert.Equal(t, model.ValidationPass, results[0].Status)
	assert.Equal(t, model.ValidationFail, results[1].Status)
}

func TestPersistableAndSummary(t *testing.T) {
	results := []model.ValidationResult{
		{RuleID: "a", Status: model.ValidationPass},
		{RuleID: "b", Status: model.ValidationWarning},
		{RuleID: "c", Status: model.ValidationFail},
		{RuleID: "d", Status: model.ValidationPass, SuggestedValue: "9845012345"},
	}
	kept := Persistable(results)
	require.Len(t, kept, 3)
	assert.Equal(t, "b", kept[0].RuleID)
	assert.Equal(t, "d", kept[2].RuleID)

	var s Summary
	s.Add("doc-1", results)
	s.Add("doc-1", []model.ValidationResult{{Status: model.ValidationFail}})
	s.Add("doc-2", []model.ValidationResult{{Status: model.ValidationPass}})
	s.Add("doc-3", []model.ValidationResult{{Status: model.ValidationWarning}})

	assert.Equal(t, 3, s.Pass)
	assert.Equal(t, 2, s.Warning)
	assert.Equal(t, 2, s.Fail)
	assert.Equal(t, 2, s.DocumentsWithIssues)
}
