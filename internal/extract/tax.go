package extract

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/invoice-cli/internal/model"
)

type taxComponent struct {
	rate   string
	amount string
}

var taxComponents = []taxComponent{
	{rate: model.FieldCGSTRate, amount: model.FieldCGSTAmount},
	{rate: model.FieldSGSTRate, amount: model.FieldSGSTAmount},
	{rate: model.FieldIGSTRate, amount: model.FieldIGSTAmount},
}

var hundred = decimal.NewFromInt(100)

// deriveTax fills component rates from amount and taxable base, and sets
// total_tax to the sum of the component amounts present. With no component
// amounts total_tax is cleared.
func deriveTax(values map[string]any) {
	base, hasBase := values[model.FieldTaxableValue].(decimal.Decimal)

	var total decimal.Decimal
	found := false
	for _, c := range taxComponents {
		amt, ok := values[c.amount].(decimal.Decimal)
		if !ok {
			continue
		}
		found = true
		total = total.Add(amt)
		if hasBase && !base.IsZero() {
			values[c.rate] = amt.Div(base).Mul(hundred).Round(2)
		}
	}

	if found {
		values[model.FieldTotalTax] = total
	} else {
		delete(values, model.FieldTotalTax)
	}
}
