// Package anomaly compares normalized records against their circuit history
// and raises alerts.
package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

// Store is the persistence the detector reads history from and writes
// alerts to.
type Store interface {
	ListBatchRecords(ctx context.Context, batchID string) ([]model.RecordEntry, error)
	RecentRecordsByCircuit(ctx context.Context, q store.HistoryQuery) ([]model.NormalizedRecord, error)
	FindRecordsByBillOrRelationship(ctx context.Context, billNumber, relationshipNumber, excludeDocumentID string) ([]model.NormalizedRecord, error)
	ReplaceBatchAlerts(ctx context.Context, batchID string, alerts []model.Alert) error
}

// Config holds detection thresholds.
type Config struct {
	SpikeThresholdPct float64
	DueWindowDays     int
	HistoryLimit      int
}

// ConfigFrom maps application config onto detector thresholds.
func ConfigFrom(c config.AnomalyConfig) Config {
	return Config{
		SpikeThresholdPct: c.SpikeThresholdPct,
		DueWindowDays:     c.DueWindowDays,
		HistoryLimit:      c.HistoryLimit,
	}
}

const (
	defaultSpikeThresholdPct = 20
	defaultDueWindowDays     = 7
	defaultHistoryLimit      = 6
	minHistoryPoints         = 2
	highSpikePct             = 50
	urgentDueDays            = 3
)

// Detector runs the anomaly checks for a batch.
type Detector struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewDetector returns a Detector; zero thresholds take their defaults.
func NewDetector(s Store, cfg Config) *Detector {
	if cfg.SpikeThresholdPct <= 0 {
		cfg.SpikeThresholdPct = defaultSpikeThresholdPct
	}
	if cfg.DueWindowDays <= 0 {
		cfg.DueWindowDays = defaultDueWindowDays
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Detector{store: s, cfg: cfg, now: time.Now}
}

// WithClock replaces the detector's notion of today.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Run checks every record of the batch and replaces the batch's alerts with
// the result in one write.
func (d *Detector) Run(ctx context.Context, batchID string, profile vendor.Profile) ([]model.Alert, error) {
	entries, err := d.store.ListBatchRecords(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "anomaly: list records for batch %s", batchID)
	}

	var alerts []model.Alert
	for i := range entries {
		rec := &entries[i].Record
		found, err := d.Check(ctx, rec, profile)
		if err != nil {
			return nil, eris.Wrapf(err, "anomaly: check %s", entries[i].Filename)
		}
		alerts = append(alerts, found...)
	}

	ts := d.now().UTC()
	for i := range alerts {
		alerts[i].ID = uuid.New().String()
		alerts[i].BatchID = batchID
		alerts[i].CreatedAt = ts
	}
	if err := d.store.ReplaceBatchAlerts(ctx, batchID, alerts); err != nil {
		return nil, eris.Wrapf(err, "anomaly: save alerts for batch %s", batchID)
	}

	zap.L().Info("anomaly: batch checked",
		zap.String("batch_id", batchID),
		zap.Int("records", len(entries)),
		zap.Int("alerts", len(alerts)),
	)
	return alerts, nil
}

// Check runs every check against one record.
func (d *Detector) Check(ctx context.Context, rec *model.NormalizedRecord, profile vendor.Profile) ([]model.Alert, error) {
	var out []model.Alert

	spike, err := d.CheckCostSpike(ctx, rec)
	if err != nil {
		return nil, err
	}
	dup, err := d.CheckDuplicates(ctx, rec)
	if err != nil {
		return nil, err
	}

	for _, a := range []*model.Alert{
		spike,
		CheckMissingData(rec, profile.CriticalFields),
		dup,
		CheckOneTimeCharge(rec),
		d.CheckPaymentDue(rec),
	} {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func newAlert(rec *model.NormalizedRecord, typ model.AlertType, sev model.Severity, msg string, meta map[string]any) *model.Alert {
	return &model.Alert{
		BatchID:    rec.BatchID,
		DocumentID: rec.DocumentID,
		RecordID:   rec.ID,
		Type:       typ,
		Severity:   sev,
		Message:    msg,
		Metadata:   meta,
	}
}

// CheckCostSpike compares the record's total with the mean total of the
// circuit's most recent prior bills.
func (d *Detector) CheckCostSpike(ctx context.Context, rec *model.NormalizedRecord) (*model.Alert, error) {
	circuit := rec.Text(model.FieldCircuitID)
	current, ok := rec.Decimal(model.FieldTotalAmount)
	if circuit == "" || !ok {
		return nil, nil
	}

	history, err := d.store.RecentRecordsByCircuit(ctx, store.HistoryQuery{
		CircuitID:         circuit,
		ExcludeDocumentID: rec.DocumentID,
		OnOrBefore:        rec.Text(model.FieldBillDate),
		Limit:             d.cfg.HistoryLimit,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "anomaly: history for circuit %s", circuit)
	}

	var totals []decimal.Decimal
	for i := range history {
		if t, ok := history[i].Decimal(model.FieldTotalAmount); ok {
			totals = append(totals, t)
		}
	}
	if len(totals) < minHistoryPoints {
		return nil, nil
	}

	mean := decimal.Avg(totals[0], totals[1:]...)
	if mean.IsZero() {
		return nil, nil
	}
	// Thresholds apply to the exact deviation; rounding is for display only.
	deviation := current.Sub(mean).Div(mean).Mul(decimal.NewFromInt(100))
	magnitude := deviation.Abs()
	if !magnitude.GreaterThan(decimal.NewFromFloat(d.cfg.SpikeThresholdPct)) {
		return nil, nil
	}

	sev := model.SeverityMedium
	if magnitude.GreaterThan(decimal.NewFromInt(highSpikePct)) {
		sev = model.SeverityHigh
	}
	direction := "above"
	if deviation.IsNegative() {
		direction = "below"
	}
	pct, _ := deviation.Round(2).Float64()
	return newAlert(rec, model.AlertCostSpike, sev,
		fmt.Sprintf("Total %s for circuit %s is %s%% %s the average of the last %d bills (%s)",
			current.StringFixed(2), circuit, magnitude.StringFixed(2), direction, len(totals), mean.StringFixed(2)),
		map[string]any{
			"circuit_id":      circuit,
			"current_total":   current.StringFixed(2),
			"historical_mean": mean.StringFixed(2),
			"deviation_pct":   pct,
			"history_points":  len(totals),
		},
	), nil
}

// CheckMissingData reports every blank critical field in one alert. An
// empty list checks model.DefaultCriticalFields.
func CheckMissingData(rec *model.NormalizedRecord, critical []string) *model.Alert {
	if len(critical) == 0 {
		critical = model.DefaultCriticalFields
	}
	missing := rec.Missing(critical)
	if len(missing) == 0 {
		return nil
	}
	return newAlert(rec, model.AlertMissingData, model.SeverityMedium,
		"Missing critical fields: "+strings.Join(missing, ", "),
		map[string]any{"missing_fields": missing},
	)
}

// CheckDuplicates looks for other documents carrying the same bill number or
// relationship number.
func (d *Detector) CheckDuplicates(ctx context.Context, rec *model.NormalizedRecord) (*model.Alert, error) {
	bill := rec.Text(model.FieldBillNumber)
	relationship := rec.Text(model.FieldRelationshipNumber)
	if bill == "" && relationship == "" {
		return nil, nil
	}

	matches, err := d.store.FindRecordsByBillOrRelationship(ctx, bill, relationship, rec.DocumentID)
	if err != nil {
		return nil, eris.Wrap(err, "anomaly: find duplicates")
	}
	if len(matches) == 0 {
		return nil, nil
	}

	docs := make([]string, len(matches))
	for i := range matches {
		docs[i] = matches[i].DocumentID
	}
	key := "bill number " + bill
	if bill == "" {
		key = "relationship number " + relationship
	}
	return newAlert(rec, model.AlertDuplicateInvoice, model.SeverityHigh,
		fmt.Sprintf("Possible duplicate: %d other invoice(s) share %s", len(matches), key),
		map[string]any{
			"bill_number":         bill,
			"relationship_number": relationship,
			"duplicate_documents": docs,
			"duplicate_batch_id":  matches[0].BatchID,
		},
	), nil
}

// CheckOneTimeCharge flags any positive one-time charge.
func CheckOneTimeCharge(rec *model.NormalizedRecord) *model.Alert {
	otc, ok := rec.Decimal(model.FieldOneTimeCharges)
	if !ok || !otc.IsPositive() {
		return nil
	}
	return newAlert(rec, model.AlertUnusualCharge, model.SeverityMedium,
		fmt.Sprintf("One-time charge of %s on this invoice", otc.StringFixed(2)),
		map[string]any{"one_time_charges": otc.StringFixed(2)},
	)
}

// CheckPaymentDue flags bills due between today and the due window,
// inclusive. Past-due bills are not reported.
func (d *Detector) CheckPaymentDue(rec *model.NormalizedRecord) *model.Alert {
	due, err := time.Parse(model.DateLayout, rec.Text(model.FieldDueDate))
	if err != nil {
		return nil
	}
	now := d.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(due.Sub(today).Hours() / 24)
	if days < 0 || days > d.cfg.DueWindowDays {
		return nil
	}

	sev := model.SeverityMedium
	if days <= urgentDueDays {
		sev = model.SeverityHigh
	}
	msg := fmt.Sprintf("Payment due in %d day(s) on %s", days, due.Format(model.DateLayout))
	if days == 0 {
		msg = "Payment due today"
	}
	return newAlert(rec, model.AlertPaymentDue, sev, msg,
		map[string]any{"due_date": due.Format(model.DateLayout), "days_until_due": days},
	)
}
