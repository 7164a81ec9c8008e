package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/model"
)

const defaultListLimit = 100

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func now() time.Time {
	return time.Now().UTC()
}

// prepareRecord fills the identity fields of rec before it is written.
func prepareRecord(rec *model.NormalizedRecord, documentID string) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.DocumentID = documentID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
}

func encodeRecord(rec *model.NormalizedRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	return data, eris.Wrap(err, "store: marshal record")
}

func decodeRecord(data []byte) (*model.NormalizedRecord, error) {
	var rec model.NormalizedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return &rec, nil
}

// recordKeys are the lookup columns denormalized out of the record body.
func recordKeys(rec *model.NormalizedRecord) (circuit, bill, relationship, billDate any) {
	return nullable(rec.Text(model.FieldCircuitID)),
		nullable(rec.Text(model.FieldBillNumber)),
		nullable(rec.Text(model.FieldRelationshipNumber)),
		nullable(rec.Text(model.FieldBillDate))
}

func prepareResults(documentID, recordID string, results []model.ValidationResult) []model.ValidationResult {
	out := make([]model.ValidationResult, len(results))
	ts := now()
	for i, r := range results {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DocumentID = documentID
		if recordID != "" {
			r.RecordID = recordID
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = ts
		}
		out[i] = r
	}
	return out
}

func prepareAlerts(batchID string, alerts []model.Alert) []model.Alert {
	out := make([]model.Alert, len(alerts))
	ts := now()
	for i, a := range alerts {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.BatchID = batchID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = ts
		}
		out[i] = a
	}
	return out
}

// alertKey identifies an alert across detector runs: each check raises at
// most one alert per document.
type alertKey struct {
	documentID string
	typ        model.AlertType
}

type alertFlags struct {
	read, dismissed bool
}

// carryAlertFlags copies triage state from the batch's previous alerts onto
// the matching new ones.
func carryAlertFlags(alerts []model.Alert, prior map[alertKey]alertFlags) {
	for i := range alerts {
		f, ok := prior[alertKey{alerts[i].DocumentID, alerts[i].Type}]
		if !ok {
			continue
		}
		alerts[i].Read = alerts[i].Read || f.read
		alerts[i].Dismissed = alerts[i].Dismissed || f.dismissed
	}
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	return data, eris.Wrap(err, "store: marshal alert metadata")
}

func decodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal alert metadata")
	}
	return m, nil
}

func prepareTemplate(t *model.Template) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	t.VendorID = strings.ToLower(strings.TrimSpace(t.VendorID))
}

func placeholders(n int, format func(i int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = format(i)
	}
	return strings.Join(parts, ", ")
}

func severityStrings(in []model.Severity) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func encodeFields(fields []model.TemplateField) ([]byte, error) {
	if fields == nil {
		fields = []model.TemplateField{}
	}
	data, err := json.Marshal(fields)
	return data, eris.Wrap(err, "store: marshal template fields")
}

func decodeFields(data []byte) ([]model.TemplateField, error) {
	var fields []model.TemplateField
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal template fields")
	}
	return fields, nil
}
