package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"07-MAY-2025", "2025-05-07", true},
		{"03-Nov-25", "2025-11-03", true},
		{"29/10/2025", "2025-10-29", true},
		{"07.05.25", "2025-05-07", true},
		{"07.05.2025", "2025-05-07", true},
		{"7 September 2024", "2024-09-07", true},
		{"01-jan-99", "1999-01-01", true},
		{"01-Jan-50", "2050-01-01", true},
		{"01.01.51", "1951-01-01", true},
		{"2025-02-28", "2025-02-28", true},
		{"  15/08/2025 ", "2025-08-15", true},
		{"Due Immediately", "", false},
		{"IMMEDIATE", "", false},
		{"31/02/2025", "", false},
		{"2025-13-01", "", false},
		{"32-Jan-2025", "", false},
		{"07-Foo-2025", "", false},
		{"next week", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeNumeric(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		excludeYear bool
		want        string
		ok          bool
	}{
		{"thousands", "1,234.50", false, "1234.5", true},
		{"lakh grouping", "1,00,000.00", false, "100000", true},
		{"rupee sign", "₹ 2,500", false, "2500", true},
		{"rs prefix", "Rs. 99.90", false, "99.9", true},
		{"inr prefix", "INR 10", false, "10", true},
		{"year kept without flag", "2024", false, "2024", true},
		{"year excluded", "2024", true, "", false},
		{"year with fraction kept", "2024.50", true, "2024.5", true},
		{"outside year range", "2031", true, "2031", true},
		{"lower bound excluded", "2020", true, "", false},
		{"upper bound excluded", "2030", true, "", false},
		{"negative", "-150.25", false, "-150.25", true},
		{"garbage", "n/a", false, "", false},
		{"empty", "   ", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeNumeric(tt.in, tt.excludeYear)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
			}
		})
	}
}

func TestNormalizeBool(t *testing.T) {
	for _, in := range []string{"Yes", "y", "TRUE", "1"} {
		v, ok := NormalizeBool(in)
		assert.True(t, ok, in)
		assert.True(t, v, in)
	}
	for _, in := range []string{"No", "n", "false", "0"} {
		v, ok := NormalizeBool(in)
		assert.True(t, ok, in)
		assert.False(t, v, in)
	}
	_, ok := NormalizeBool("maybe")
	assert.False(t, ok)
}

func TestNormalizeString(t *testing.T) {
	s, ok := NormalizeString("  Acme \t Logistics\n Pvt  Ltd ")
	assert.True(t, ok)
	assert.Equal(t, "Acme Logistics Pvt Ltd", s)

	_, ok = NormalizeString(" \n ")
	assert.False(t, ok)
}

func TestReduceDuplicated(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TCL-INV-778 TCL-INV-778", "TCL-INV-778"},
		{"TCL-INV-778TCL-INV-778", "TCL-INV-778"},
		{"TCL12345TCL12345 Date", "TCL12345"},
		{"ABAB12ABAB12 trailing", "ABAB12"},
		{"ACC 123 ACC 123 Foo", "ACC 123"},
		{"091BANG623001   091BANG623001", "091BANG623001"},
		{"SINGLE", "SINGLE"},
		{"SINGLE other words", "SINGLE"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ReduceDuplicated(tt.in))
		})
	}
}

func TestDeriveTax(t *testing.T) {
	d := decimal.RequireFromString
	values := map[string]any{
		"taxable_value": d("10000"),
		"cgst_amount":   d("900"),
		"sgst_amount":   d("900"),
		"cgst_rate":     d("18"),
	}
	deriveTax(values)

	assert.True(t, values["cgst_rate"].(decimal.Decimal).Equal(d("9")))
	assert.True(t, values["sgst_rate"].(decimal.Decimal).Equal(d("9")))
	assert.True(t, values["total_tax"].(decimal.Decimal).Equal(d("1800")))
	assert.NotContains(t, values, "igst_rate")
}

func TestDeriveTax_RoundsRate(t *testing.T) {
	d := decimal.RequireFromString
	values := map[string]any{
		"taxable_value": d("3000"),
		"igst_amount":   d("540.10"),
	}
	deriveTax(values)
	assert.Equal(t, "18", values["igst_rate"].(decimal.Decimal).StringFixed(0))
	assert.True(t, values["igst_rate"].(decimal.Decimal).Equal(d("18")))
}

func TestDeriveTax_NoComponents(t *testing.T) {
	values := map[string]any{
		"taxable_value": decimal.NewFromInt(100),
		"total_tax":     decimal.NewFromInt(18),
	}
	deriveTax(values)
	assert.NotContains(t, values, "total_tax")
}

func TestDeriveTax_ZeroBaseKeepsPatternRate(t *testing.T) {
	values := map[string]any{
		"taxable_value": decimal.Zero,
		"cgst_amount":   decimal.Zero,
		"cgst_rate":     decimal.NewFromInt(9),
	}
	deriveTax(values)
	assert.True(t, values["cgst_rate"].(decimal.Decimal).Equal(decimal.NewFromInt(9)))
	assert.True(t, values["total_tax"].(decimal.Decimal).IsZero())
}
