package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/vendor"
	"github.com/sells-group/invoice-cli/pkg/anthropic"
	"github.com/sells-group/invoice-cli/pkg/anthropic/mocks"
)

const airtelInvoice = `Bharti Airtel Limited
Customer Name: Acme Logistics Pvt Ltd
Relationship No: 1-ABCD123
Account No: 9001234567
Bill No: BL2025050012
Bill Date: 07-MAY-2025
Due Date: 22-May-25
Bill Period: 01-Apr-2025 to 30-Apr-2025
Circuit ID: 14BNGL0099876
Bandwidth: 100 Mbps
Taxable Value: Rs. 10,000.00
CGST @ 9% 900.00
SGST @ 9% 900.00
One Time Charges: 0.00
Total Amount Due: 11,800.00
`

const tataInvoice = `Tata Communications Limited
Invoice No: TCL-INV-778TCL-INV-778   Invoice Date: 03-Nov-25
Circuit ID: 091BANG623001 091BANG623001
Service Period: 01.10.25 to 31.10.25
Total Invoice Value: INR 25,960.00
`

func lookup(t *testing.T, id string) vendor.Profile {
	t.Helper()
	p, err := vendor.DefaultRegistry().Lookup(id)
	require.NoError(t, err)
	return p
}

func requireDecimal(t *testing.T, want string, got *decimal.Decimal) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}

func TestEngine_RegexAirtel(t *testing.T) {
	rec, method, err := NewEngine(nil).Extract(context.Background(), airtelInvoice, lookup(t, "airtel"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.MethodRegex, method)
	assert.Equal(t, model.MethodRegex, rec.Method)
	assert.Equal(t, "airtel", rec.VendorID)

	assert.Equal(t, "BL2025050012", *rec.BillNumber)
	assert.Equal(t, "2025-05-07", *rec.BillDate)
	assert.Equal(t, "2025-05-22", *rec.DueDate)
	assert.Equal(t, "2025-04-01", *rec.PeriodStart)
	assert.Equal(t, "2025-04-30", *rec.PeriodEnd)
	assert.Equal(t, "1-ABCD123", *rec.RelationshipNumber)
	assert.Equal(t, "9001234567", *rec.AccountNumber)
	assert.Equal(t, "14BNGL0099876", *rec.CircuitID)
	assert.Equal(t, "Acme Logistics Pvt Ltd", *rec.CompanyName)
	assert.Equal(t, "100 Mbps", *rec.Bandwidth)

	requireDecimal(t, "10000", rec.TaxableValue)
	requireDecimal(t, "900", rec.CGSTAmount)
	requireDecimal(t, "9", rec.CGSTRate)
	requireDecimal(t, "9", rec.SGSTRate)
	requireDecimal(t, "1800", rec.TotalTax)
	requireDecimal(t, "11800", rec.TotalAmount)
	requireDecimal(t, "0", rec.OneTimeCharges)
	assert.Nil(t, rec.IGSTAmount)
	assert.Nil(t, rec.IGSTRate)

	// Defaults fill what the document does not carry.
	assert.Equal(t, "Bharti Airtel Limited", *rec.VendorName)
	assert.Equal(t, "998422", *rec.HSNSAC)
	assert.Nil(t, rec.VendorGSTIN)
}

func TestEngine_RegexTataDuplicatedBlocks(t *testing.T) {
	rec, method, err := NewEngine(nil).Extract(context.Background(), tataInvoice, lookup(t, "tata"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.MethodRegex, method)
	assert.Equal(t, "TCL-INV-778", *rec.BillNumber)
	assert.Equal(t, "091BANG623001", *rec.CircuitID)
	assert.Equal(t, "2025-11-03", *rec.BillDate)
	assert.Equal(t, "2025-10-01", *rec.PeriodStart)
	assert.Equal(t, "2025-10-31", *rec.PeriodEnd)
	requireDecimal(t, "25960", rec.TotalAmount)
	assert.Nil(t, rec.TotalTax)
}

func TestEngine_DueImmediatelyIsNull(t *testing.T) {
	text := "Bill No: B1\nDue Date: Immediate\n"
	rec, _, err := NewEngine(nil).Extract(context.Background(), text, lookup(t, "airtel"), nil)
	require.NoError(t, err)
	assert.Nil(t, rec.DueDate)
	assert.Equal(t, "B1", *rec.BillNumber)
}

func TestEngine_YearNotTakenAsTotal(t *testing.T) {
	text := "Total Amount 2025\n"
	rec, _, err := NewEngine(nil).Extract(context.Background(), text, lookup(t, "airtel"), nil)
	require.NoError(t, err)
	assert.Nil(t, rec.TotalAmount)
}

func TestEngine_EmptyTextYieldsEmptyRecord(t *testing.T) {
	rec, method, err := NewEngine(nil).Extract(context.Background(), "", lookup(t, "jio"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.MethodRegex, method)
	require.NotNil(t, rec)
	assert.Nil(t, rec.BillNumber)
	assert.Equal(t, "Reliance Jio Infocomm Limited", *rec.VendorName)
}

func TestEngine_Template(t *testing.T) {
	tmpl, err := NewTemplateStrategy(model.Template{
		Name: "custom",
		Fields: []model.TemplateField{
			{Name: model.FieldBillNumber, Pattern: `Ref#\s*(\S+)`},
			{Name: model.FieldTotalAmount, Pattern: `Grand\s+(\S+)`},
			{Name: model.FieldDueDate, Pattern: `Pay before (\S+)`},
		},
	})
	require.NoError(t, err)

	text := "Ref# Q-77\nGrand 1,050.00\n"
	rec, method, err := NewEngine(nil).Extract(context.Background(), text, lookup(t, "airtel"), tmpl)
	require.NoError(t, err)
	assert.Equal(t, model.MethodTemplate, method)
	assert.Equal(t, "Q-77", *rec.BillNumber)
	requireDecimal(t, "1050", rec.TotalAmount)
	assert.Nil(t, rec.DueDate)
	assert.Equal(t, "Bharti Airtel Limited", *rec.VendorName)
}

func TestNewTemplateStrategy_Rejects(t *testing.T) {
	_, err := NewTemplateStrategy(model.Template{Name: "t", Fields: []model.TemplateField{{Name: "nope", Pattern: `(x)`}}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnknownField))

	_, err = NewTemplateStrategy(model.Template{Name: "t", Fields: []model.TemplateField{{Name: model.FieldBillNumber, Pattern: `(`}}})
	require.Error(t, err)

	_, err = NewTemplateStrategy(model.Template{Name: "t", Fields: []model.TemplateField{{Name: model.FieldBillNumber, Pattern: `x`}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capture group")
}

func testAIConfig() AIConfig {
	return AIConfig{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		Timeout:   time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
		Breaker: resilience.BreakerConfig{Name: "test", FailureThreshold: 3, ResetTimeout: time.Minute},
	}
}

func textResponse(body string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{{Type: "text", Text: body}},
	}
}

func newAIEngine(t *testing.T, client anthropic.Client) *Engine {
	t.Helper()
	ai, err := NewAIStrategy(client, testAIConfig())
	require.NoError(t, err)
	e := NewEngine(ai)
	require.True(t, e.AIEnabled())
	return e
}

func TestEngine_AISuccess(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 && req.System[0].Cached && len(req.Messages) == 1
	})).Return(textResponse("```json\n"+`{
		"bill_number": "AI-1",
		"bill_date": "07-MAY-2025",
		"total_amount": "1,234.50",
		"taxable_value": 1000,
		"igst_amount": 180,
		"reverse_charge": false,
		"circuit_id": null,
		"confidence": "high"
	}`+"\n```"), nil).Once()

	rec, method, err := newAIEngine(t, client).Extract(context.Background(), "irrelevant", lookup(t, "airtel"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.MethodAI, method)
	assert.Equal(t, "AI-1", *rec.BillNumber)
	assert.Equal(t, "2025-05-07", *rec.BillDate)
	requireDecimal(t, "1234.50", rec.TotalAmount)
	requireDecimal(t, "18", rec.IGSTRate)
	requireDecimal(t, "180", rec.TotalTax)
	require.NotNil(t, rec.ReverseCharge)
	assert.False(t, *rec.ReverseCharge)
	assert.Nil(t, rec.CircuitID)
}

func TestEngine_AIMalformedJSONFallsBackToRegex(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Sure! Here are the fields: bill_number=X"), nil).Once()

	rec, method, err := newAIEngine(t, client).Extract(context.Background(), airtelInvoice, lookup(t, "airtel"), nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.MethodRegex, method)
	assert.Equal(t, "BL2025050012", *rec.BillNumber)
}

func TestEngine_AISchemaViolationFallsBack(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"bill_number": {"nested": true}}`), nil).Once()

	_, method, err := newAIEngine(t, client).Extract(context.Background(), airtelInvoice, lookup(t, "airtel"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.MethodRegex, method)
}

func TestEngine_AIErrorFallsBackToTemplate(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid x-api-key")).Once()

	tmpl, err := NewTemplateStrategy(model.Template{
		Name:   "custom",
		Fields: []model.TemplateField{{Name: model.FieldBillNumber, Pattern: `Ref#\s*(\S+)`}},
	})
	require.NoError(t, err)

	rec, method, err := newAIEngine(t, client).Extract(context.Background(), "Ref# Z9", lookup(t, "airtel"), tmpl)
	require.NoError(t, err)
	assert.Equal(t, model.MethodTemplate, method)
	assert.Equal(t, "Z9", *rec.BillNumber)
}

func TestAIStrategy_RetriesTransient(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("anthropic: overloaded")).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"bill_number":"R-2"}`), nil).Once()

	ai, err := NewAIStrategy(client, testAIConfig())
	require.NoError(t, err)
	fields, err := ai.Extract(context.Background(), "text", lookup(t, "airtel"))
	require.NoError(t, err)
	assert.Equal(t, "R-2", fields[model.FieldBillNumber].Text)
}

func TestAIStrategy_ErrorsWrapSentinel(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(""), nil).Once()

	ai, err := NewAIStrategy(client, testAIConfig())
	require.NoError(t, err)
	_, err = ai.Extract(context.Background(), "text", lookup(t, "airtel"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAIBackendFailure))
}

func TestAIStrategy_Timeout(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	cfg := testAIConfig()
	cfg.Timeout = 20 * time.Millisecond
	ai, err := NewAIStrategy(client, cfg)
	require.NoError(t, err)

	rec, method, err := NewEngine(ai).Extract(context.Background(), airtelInvoice, lookup(t, "airtel"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.MethodRegex, method)
	assert.NotNil(t, rec.BillNumber)
}

func TestAIStrategy_BreakerOpens(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("bad request")).Times(3)

	ai, err := NewAIStrategy(client, testAIConfig())
	require.NoError(t, err)
	for range 4 {
		_, err = ai.Extract(context.Background(), "text", lookup(t, "airtel"))
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, ai.breaker.State())
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1} `))
	assert.Equal(t, "", stripFences("```"))
}

func TestBuildPromptListsCatalog(t *testing.T) {
	p := buildPrompt("INVOICE BODY", lookup(t, "tata"))
	assert.Contains(t, p, "Vendor: Tata Communications")
	assert.Contains(t, p, "- bill_number (string): Bill Number")
	assert.Contains(t, p, "- total_amount (numeric): Total Amount")
	assert.Contains(t, p, "INVOICE BODY")
}
