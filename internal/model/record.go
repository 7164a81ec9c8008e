package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ErrUnknownField is returned when a value targets a key outside the catalog.
var ErrUnknownField = eris.New("model: unknown field")

// ExtractionMethod names the strategy that produced a record.
type ExtractionMethod string

const (
	MethodAI       ExtractionMethod = "AI"
	MethodTemplate ExtractionMethod = "Template"
	MethodRegex    ExtractionMethod = "Regex"
)

// NormalizedRecord is the canonical, vendor-agnostic result of extracting one
// document. A nil field means the value was not found.
type NormalizedRecord struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"document_id"`
	BatchID    string           `json:"batch_id"`
	VendorID   string           `json:"vendor_id"`
	Method     ExtractionMethod `json:"method"`
	CreatedAt  time.Time        `json:"created_at"`

	VendorName         *string `json:"vendor_name,omitempty"`
	VendorGSTIN        *string `json:"vendor_gstin,omitempty"`
	CompanyName        *string `json:"company_name,omitempty"`
	CustomerGSTIN      *string `json:"customer_gstin,omitempty"`
	BillNumber         *string `json:"bill_number,omitempty"`
	BillDate           *string `json:"bill_date,omitempty"`
	DueDate            *string `json:"due_date,omitempty"`
	PeriodStart        *string `json:"period_start,omitempty"`
	PeriodEnd          *string `json:"period_end,omitempty"`
	AccountNumber      *string `json:"account_number,omitempty"`
	RelationshipNumber *string `json:"relationship_number,omitempty"`
	CircuitID          *string `json:"circuit_id,omitempty"`
	Bandwidth          *string `json:"bandwidth,omitempty"`
	PlanName           *string `json:"plan_name,omitempty"`
	HSNSAC             *string `json:"hsn_sac,omitempty"`
	PlaceOfSupply      *string `json:"place_of_supply,omitempty"`
	ContactEmail       *string `json:"contact_email,omitempty"`
	ContactPhone       *string `json:"contact_phone,omitempty"`

	PreviousBalance  *decimal.Decimal `json:"previous_balance,omitempty"`
	PaymentsReceived *decimal.Decimal `json:"payments_received,omitempty"`
	RecurringCharges *decimal.Decimal `json:"recurring_charges,omitempty"`
	OneTimeCharges   *decimal.Decimal `json:"one_time_charges,omitempty"`
	UsageCharges     *decimal.Decimal `json:"usage_charges,omitempty"`
	Discount         *decimal.Decimal `json:"discount,omitempty"`
	TaxableValue     *decimal.Decimal `json:"taxable_value,omitempty"`
	CGSTRate         *decimal.Decimal `json:"cgst_rate,omitempty"`
	CGSTAmount       *decimal.Decimal `json:"cgst_amount,omitempty"`
	SGSTRate         *decimal.Decimal `json:"sgst_rate,omitempty"`
	SGSTAmount       *decimal.Decimal `json:"sgst_amount,omitempty"`
	IGSTRate         *decimal.Decimal `json:"igst_rate,omitempty"`
	IGSTAmount       *decimal.Decimal `json:"igst_amount,omitempty"`
	TotalTax         *decimal.Decimal `json:"total_tax,omitempty"`
	TotalAmount      *decimal.Decimal `json:"total_amount,omitempty"`
	AmountPayable    *decimal.Decimal `json:"amount_payable,omitempty"`

	ReverseCharge *bool `json:"reverse_charge,omitempty"`
}

// BuildRecord constructs a record from canonical values. Strings are stored
// for string and date fields, decimal.Decimal for numeric fields and bool for
// boolean fields. Nil values leave the field empty.
func BuildRecord(values map[string]any) (*NormalizedRecord, error) {
	r := &NormalizedRecord{}
	for key, v := range values {
		if err := r.set(key, v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *NormalizedRecord) set(key string, v any) error {
	f, ok := catalogByKey[key]
	if !ok {
		return eris.Wrapf(ErrUnknownField, "model: set %q", key)
	}
	if v == nil {
		switch {
		case f.str != nil:
			*f.str(r) = nil
		case f.num != nil:
			*f.num(r) = nil
		case f.flag != nil:
			*f.flag(r) = nil
		}
		return nil
	}

	switch f.Kind {
	case KindString, KindDate:
		s, ok := v.(string)
		if !ok {
			return eris.Errorf("model: field %s expects string, got %T", key, v)
		}
		if f.Kind == KindDate && !IsDate(s) {
			return eris.Errorf("model: field %s expects %s date, got %q", key, DateLayout, s)
		}
		*f.str(r) = &s
	case KindNumeric:
		d, ok := v.(decimal.Decimal)
		if !ok {
			return eris.Errorf("model: field %s expects decimal, got %T", key, v)
		}
		*f.num(r) = &d
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return eris.Errorf("model: field %s expects bool, got %T", key, v)
		}
		*f.flag(r) = &b
	}
	return nil
}

// Get returns the typed value of key and whether it is present.
func (r *NormalizedRecord) Get(key string) (any, bool) {
	f, ok := catalogByKey[key]
	if !ok {
		return nil, false
	}
	switch {
	case f.str != nil:
		if p := *f.str(r); p != nil {
			return *p, true
		}
	case f.num != nil:
		if p := *f.num(r); p != nil {
			return *p, true
		}
	case f.flag != nil:
		if p := *f.flag(r); p != nil {
			return *p, true
		}
	}
	return nil, false
}

// Text renders the value of key as a string; absent values render as "".
func (r *NormalizedRecord) Text(key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Decimal returns a numeric field's value.
func (r *NormalizedRecord) Decimal(key string) (decimal.Decimal, bool) {
	v, ok := r.Get(key)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, ok := v.(decimal.Decimal)
	return d, ok
}

// Missing returns the keys among keys that are absent or blank.
func (r *NormalizedRecord) Missing(keys []string) []string {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(r.Text(k)) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Values returns every present field keyed by canonical name.
func (r *NormalizedRecord) Values() map[string]any {
	out := make(map[string]any)
	for _, f := range catalog {
		if v, ok := r.Get(f.Key); ok {
			out[f.Key] = v
		}
	}
	return out
}

// Clone returns a deep copy of r.
func (r *NormalizedRecord) Clone() *NormalizedRecord {
	c := &NormalizedRecord{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		BatchID:    r.BatchID,
		VendorID:   r.VendorID,
		Method:     r.Method,
		CreatedAt:  r.CreatedAt,
	}
	for k, v := range r.Values() {
		_ = c.set(k, v)
	}
	return c
}

// ParseFieldValue converts text into the typed value expected by key.
// Empty text yields nil.
func ParseFieldValue(key, text string) (any, error) {
	f, ok := catalogByKey[key]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownField, "model: parse %q", key)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	switch f.Kind {
	case KindDate:
		if !IsDate(text) {
			return nil, eris.Errorf("model: %s must be a %s date", key, DateLayout)
		}
		return text, nil
	case KindNumeric:
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, eris.Wrapf(err, "model: parse %s", key)
		}
		return d, nil
	case KindBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, eris.Wrapf(err, "model: parse %s", key)
		}
		return b, nil
	default:
		return text, nil
	}
}

// RecordEntry pairs a record with the filename of its source document.
type RecordEntry struct {
	Filename string           `json:"filename"`
	Record   NormalizedRecord `json:"record"`
}
