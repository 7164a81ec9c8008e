package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FieldKind is the value type of a canonical record field.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindDate    FieldKind = "date"
	KindNumeric FieldKind = "numeric"
	KindBoolean FieldKind = "boolean"
)

// Valid reports whether k is one of the known kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case KindString, KindDate, KindNumeric, KindBoolean:
		return true
	default:
		return false
	}
}

// DateLayout is the canonical layout of every date field.
const DateLayout = "2006-01-02"

// Canonical field keys.
const (
	FieldVendorName         = "vendor_name"
	FieldVendorGSTIN        = "vendor_gstin"
	FieldCompanyName        = "company_name"
	FieldCustomerGSTIN      = "customer_gstin"
	FieldBillNumber         = "bill_number"
	FieldBillDate           = "bill_date"
	FieldDueDate            = "due_date"
	FieldPeriodStart        = "period_start"
	FieldPeriodEnd          = "period_end"
	FieldAccountNumber      = "account_number"
	FieldRelationshipNumber = "relationship_number"
	FieldCircuitID          = "circuit_id"
	FieldBandwidth          = "bandwidth"
	FieldPlanName           = "plan_name"
	FieldHSNSAC             = "hsn_sac"
	FieldPlaceOfSupply      = "place_of_supply"
	FieldContactEmail       = "contact_email"
	FieldContactPhone       = "contact_phone"
	FieldPreviousBalance    = "previous_balance"
	FieldPaymentsReceived   = "payments_received"
	FieldRecurringCharges   = "recurring_charges"
	FieldOneTimeCharges     = "one_time_charges"
	FieldUsageCharges       = "usage_charges"
	FieldDiscount           = "discount"
	FieldTaxableValue       = "taxable_value"
	FieldCGSTRate           = "cgst_rate"
	FieldCGSTAmount         = "cgst_amount"
	FieldSGSTRate           = "sgst_rate"
	FieldSGSTAmount         = "sgst_amount"
	FieldIGSTRate           = "igst_rate"
	FieldIGSTAmount         = "igst_amount"
	FieldTotalTax           = "total_tax"
	FieldTotalAmount        = "total_amount"
	FieldAmountPayable      = "amount_payable"
	FieldReverseCharge      = "reverse_charge"
)

// DefaultCriticalFields are the fields whose absence raises a missing-data alert.
var DefaultCriticalFields = []string{
	FieldBillNumber,
	FieldBillDate,
	FieldDueDate,
	FieldTotalAmount,
	FieldVendorName,
	FieldCompanyName,
	FieldCircuitID,
	FieldRelationshipNumber,
}

// FieldSpec describes one canonical field of a NormalizedRecord.
type FieldSpec struct {
	Key   string    `json:"key"`
	Kind  FieldKind `json:"kind"`
	Label string    `json:"label"`
}

// fieldAccess binds a FieldSpec to the struct member that stores it. Exactly
// one of str, num, flag is set.
type fieldAccess struct {
	FieldSpec
	str  func(r *NormalizedRecord) **string
	num  func(r *NormalizedRecord) **decimal.Decimal
	flag func(r *NormalizedRecord) **bool
}

func textField(key, label string, p func(r *NormalizedRecord) **string) fieldAccess {
	return fieldAccess{FieldSpec: FieldSpec{Key: key, Kind: KindString, Label: label}, str: p}
}

func dateField(key, label string, p func(r *NormalizedRecord) **string) fieldAccess {
	return fieldAccess{FieldSpec: FieldSpec{Key: key, Kind: KindDate, Label: label}, str: p}
}

func moneyField(key, label string, p func(r *NormalizedRecord) **decimal.Decimal) fieldAccess {
	return fieldAccess{FieldSpec: FieldSpec{Key: key, Kind: KindNumeric, Label: label}, num: p}
}

func boolField(key, label string, p func(r *NormalizedRecord) **bool) fieldAccess {
	return fieldAccess{FieldSpec: FieldSpec{Key: key, Kind: KindBoolean, Label: label}, flag: p}
}

var catalog = []fieldAccess{
	textField(FieldVendorName, "Vendor Name", func(r *NormalizedRecord) **string { return &r.VendorName }),
	textField(FieldVendorGSTIN, "Vendor GSTIN", func(r *NormalizedRecord) **string { return &r.VendorGSTIN }),
	textField(FieldCompanyName, "Company Name", func(r *NormalizedRecord) **string { return &r.CompanyName }),
	textField(FieldCustomerGSTIN, "Customer GSTIN", func(r *NormalizedRecord) **string { return &r.CustomerGSTIN }),
	textField(FieldBillNumber, "Bill Number", func(r *NormalizedRecord) **string { return &r.BillNumber }),
	dateField(FieldBillDate, "Bill Date", func(r *NormalizedRecord) **string { return &r.BillDate }),
	dateField(FieldDueDate, "Due Date", func(r *NormalizedRecord) **string { return &r.DueDate }),
	dateField(FieldPeriodStart, "Period Start", func(r *NormalizedRecord) **string { return &r.PeriodStart }),
	dateField(FieldPeriodEnd, "Period End", func(r *NormalizedRecord) **string { return &r.PeriodEnd }),
	textField(FieldAccountNumber, "Account Number", func(r *NormalizedRecord) **string { return &r.AccountNumber }),
	textField(FieldRelationshipNumber, "Relationship Number", func(r *NormalizedRecord) **string { return &r.RelationshipNumber }),
	textField(FieldCircuitID, "Circuit ID", func(r *NormalizedRecord) **string { return &r.CircuitID }),
	textField(FieldBandwidth, "Bandwidth", func(r *NormalizedRecord) **string { return &r.Bandwidth }),
	textField(FieldPlanName, "Plan Name", func(r *NormalizedRecord) **string { return &r.PlanName }),
	textField(FieldHSNSAC, "HSN/SAC", func(r *NormalizedRecord) **string { return &r.HSNSAC }),
	textField(FieldPlaceOfSupply, "Place of Supply", func(r *NormalizedRecord) **string { return &r.PlaceOfSupply }),
	textField(FieldContactEmail, "Contact Email", func(r *NormalizedRecord) **string { return &r.ContactEmail }),
	textField(FieldContactPhone, "Contact Phone", func(r *NormalizedRecord) **string { return &r.ContactPhone }),
	moneyField(FieldPreviousBalance, "Previous Balance", func(r *NormalizedRecord) **decimal.Decimal { return &r.PreviousBalance }),
	moneyField(FieldPaymentsReceived, "Payments Received", func(r *NormalizedRecord) **decimal.Decimal { return &r.PaymentsReceived }),
	moneyField(FieldRecurringCharges, "Recurring Charges", func(r *NormalizedRecord) **decimal.Decimal { return &r.RecurringCharges }),
	moneyField(FieldOneTimeCharges, "One Time Charges", func(r *NormalizedRecord) **decimal.Decimal { return &r.OneTimeCharges }),
	moneyField(FieldUsageCharges, "Usage Charges", func(r *NormalizedRecord) **decimal.Decimal { return &r.UsageCharges }),
	moneyField(FieldDiscount, "Discount", func(r *NormalizedRecord) **decimal.Decimal { return &r.Discount }),
	moneyField(FieldTaxableValue, "Taxable Value", func(r *NormalizedRecord) **decimal.Decimal { return &r.TaxableValue }),
	moneyField(FieldCGSTRate, "CGST Rate", func(r *NormalizedRecord) **decimal.Decimal { return &r.CGSTRate }),
	moneyField(FieldCGSTAmount, "CGST Amount", func(r *NormalizedRecord) **decimal.Decimal { return &r.CGSTAmount }),
	moneyField(FieldSGSTRate, "SGST Rate", func(r *NormalizedRecord) **decimal.Decimal { return &r.SGSTRate }),
	moneyField(FieldSGSTAmount, "SGST Amount", func(r *NormalizedRecord) **decimal.Decimal { return &r.SGSTAmount }),
	moneyField(FieldIGSTRate, "IGST Rate", func(r *NormalizedRecord) **decimal.Decimal { return &r.IGSTRate }),
	moneyField(FieldIGSTAmount, "IGST Amount", func(r *NormalizedRecord) **decimal.Decimal { return &r.IGSTAmount }),
	moneyField(FieldTotalTax, "Total Tax", func(r *NormalizedRecord) **decimal.Decimal { return &r.TotalTax }),
	moneyField(FieldTotalAmount, "Total Amount", func(r *NormalizedRecord) **decimal.Decimal { return &r.TotalAmount }),
	moneyField(FieldAmountPayable, "Amount Payable", func(r *NormalizedRecord) **decimal.Decimal { return &r.AmountPayable }),
	boolField(FieldReverseCharge, "Reverse Charge", func(r *NormalizedRecord) **bool { return &r.ReverseCharge }),
}

var catalogByKey = func() map[string]*fieldAccess {
	m := make(map[string]*fieldAccess, len(catalog))
	for i := range catalog {
		m[catalog[i].Key] = &catalog[i]
	}
	return m
}()

// Fields returns the canonical field catalog in declaration order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(catalog))
	for i, f := range catalog {
		out[i] = f.FieldSpec
	}
	return out
}

// LookupField returns the spec for key, or false if key is not canonical.
func LookupField(key string) (FieldSpec, bool) {
	f, ok := catalogByKey[key]
	if !ok {
		return FieldSpec{}, false
	}
	return f.FieldSpec, true
}

// IsDate reports whether s is a valid calendar date in DateLayout.
func IsDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
