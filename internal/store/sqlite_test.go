package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestBatch(t *testing.T, st Store, name string, files ...string) (*model.Batch, []model.Document) {
	t.Helper()
	b := &model.Batch{Name: name, VendorID: "airtel"}
	docs := make([]model.Document, len(files))
	for i, f := range files {
		docs[i] = model.Document{Filename: f, FilePath: "/in/" + f}
	}
	require.NoError(t, st.CreateBatch(context.Background(), b, docs))
	return b, docs
}

func testRecord(t *testing.T, batchID string, values map[string]any) *model.NormalizedRecord {
	t.Helper()
	rec, err := model.BuildRecord(values)
	require.NoError(t, err)
	rec.BatchID = batchID
	rec.VendorID = "airtel"
	rec.Method = model.MethodRegex
	return rec
}

func completeDoc(t *testing.T, st Store, doc model.Document, rec *model.NormalizedRecord) {
	t.Helper()
	ctx := context.Background()
	ok, err := st.ClaimDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.CompleteDocument(ctx, doc.ID, 2, rec, nil))
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

// --- Batches ---

func TestSQLite_CreateAndGetBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b, docs := createTestBatch(t, st, "oct-2025", "b.pdf", "a.pdf")
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 2, b.TotalFiles)
	for _, d := range docs {
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, b.ID, d.BatchID)
	}

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "oct-2025", got.Name)
	assert.Equal(t, "airtel", got.VendorID)
	assert.Equal(t, model.BatchPending, got.Status)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Zero(t, got.ProcessedFiles)
	assert.False(t, got.Cancelled)

	byName, err := st.GetBatchByName(ctx, "oct-2025")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byName.ID)

	listed, err := st.ListDocuments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a.pdf", listed[0].Filename)
	assert.Equal(t, model.DocumentPending, listed[0].Status)
}

func TestSQLite_CreateBatch_DuplicateName(t *testing.T) {
	st := newTestSQLiteStore(t)
	createTestBatch(t, st, "dup", "a.pdf")

	err := st.CreateBatch(context.Background(), &model.Batch{Name: "dup", VendorID: "jio"}, []model.Document{{Filename: "x.pdf"}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflict))
}

func TestSQLite_GetBatch_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = st.GetBatchByName(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ListBatches_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b1, _ := createTestBatch(t, st, "one", "a.pdf")
	createTestBatch(t, st, "two", "a.pdf")
	require.NoError(t, st.CreateBatch(ctx, &model.Batch{Name: "three", VendorID: "jio"}, []model.Document{{Filename: "a.pdf"}}))
	require.NoError(t, st.UpdateBatchStatus(ctx, b1.ID, model.BatchCompleted, ""))

	all, err := st.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed, err := st.ListBatches(ctx, BatchFilter{Status: model.BatchCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "one", completed[0].Name)

	jio, err := st.ListBatches(ctx, BatchFilter{VendorID: "jio"})
	require.NoError(t, err)
	require.Len(t, jio, 1)
	assert.Equal(t, "three", jio[0].Name)

	limited, err := st.ListBatches(ctx, BatchFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLite_UpdateBatchStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, _ := createTestBatch(t, st, "s", "a.pdf")

	require.NoError(t, st.UpdateBatchStatus(ctx, b.ID, model.BatchFailed, "interrupted"))
	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)

	require.NoError(t, st.UpdateBatchStatus(ctx, b.ID, model.BatchProcessing, ""))
	got, err = st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Error)

	err = st.UpdateBatchStatus(ctx, "missing", model.BatchFailed, "")
	assert.True(t, IsNotFound(err))
}

func TestSQLite_IncrementBatchCounters_Guarded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, _ := createTestBatch(t, st, "c", "a.pdf", "b.pdf")

	require.NoError(t, st.IncrementBatchCounters(ctx, b.ID, 1, 0))
	require.NoError(t, st.IncrementBatchCounters(ctx, b.ID, 0, 1))

	err := st.IncrementBatchCounters(ctx, b.ID, 1, 0)
	require.Error(t, err, "counters may not exceed total_files")

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedFiles)
	assert.Equal(t, 1, got.FailedFiles)
	assert.True(t, got.Done())
}

func TestSQLite_SetBatchCancelled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, _ := createTestBatch(t, st, "c", "a.pdf")

	require.NoError(t, st.SetBatchCancelled(ctx, b.ID, true))
	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)

	assert.True(t, IsNotFound(st.SetBatchCancelled(ctx, "missing", true)))
}

// --- Documents ---

func TestSQLite_ClaimDocument_Once(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, docs := createTestBatch(t, st, "claim", "a.pdf")

	ok, err := st.ClaimDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ClaimDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_CompleteDocument(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "done", "a.pdf")

	rec := testRecord(t, b.ID, map[string]any{
		model.FieldBillNumber:  "B-1",
		model.FieldCircuitID:   "CIR-1",
		model.FieldBillDate:    "2025-10-01",
		model.FieldTotalAmount: decimal.RequireFromString("1180.00"),
	})
	results := []model.ValidationResult{
		{RuleID: "bill_number_required", Field: model.FieldBillNumber, Status: model.ValidationPass, Message: "ok"},
		{RuleID: "gstin_format", Field: model.FieldVendorGSTIN, Status: model.ValidationWarning, Message: "missing", SuggestedValue: "x"},
	}

	ok, err := st.ClaimDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.CompleteDocument(ctx, docs[0].ID, 3, rec, results))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, docs[0].ID, rec.DocumentID)

	listed, err := st.ListDocuments(ctx, b.ID, model.DocumentCompleted)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 3, listed[0].PageCount)

	got, err := st.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "B-1", got.Text(model.FieldBillNumber))
	total, ok := got.Decimal(model.FieldTotalAmount)
	require.True(t, ok)
	assert.True(t, total.Equal(decimal.RequireFromString("1180")))

	vr, err := st.ListValidationResults(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, vr, 2)
	for _, r := range vr {
		assert.Equal(t, rec.ID, r.RecordID)
		assert.Equal(t, docs[0].ID, r.DocumentID)
	}

	entries, err := st.ListBatchRecords(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Filename)
}

func TestSQLite_CompleteDocument_RequiresClaim(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "unclaimed", "a.pdf")

	err := st.CompleteDocument(ctx, docs[0].ID, 1, testRecord(t, b.ID, nil), nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflict))

	// Rolled back: no record left behind.
	entries, err := st.ListBatchRecords(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_FailAndResetDocuments(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "retry", "a.pdf", "b.pdf", "c.pdf")

	for _, d := range docs[:2] {
		require.NoError(t, st.FailDocument(ctx, d.ID, "boom"))
		require.NoError(t, st.IncrementBatchCounters(ctx, b.ID, 0, 1))
	}
	require.NoError(t, st.SetBatchCancelled(ctx, b.ID, true))

	failed, err := st.ListDocuments(ctx, b.ID, model.DocumentFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "boom", failed[0].Error)

	n, err := st.ResetFailedDocuments(ctx, b.ID, []string{docs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedFiles)
	assert.False(t, got.Cancelled)

	n, err = st.ResetFailedDocuments(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := st.ListDocuments(ctx, b.ID, model.DocumentPending)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	for _, d := range pending {
		assert.Empty(t, d.Error)
	}
}

func TestSQLite_ReclaimDocuments(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "reclaim", "a.pdf", "b.pdf", "c.pdf")
	other, otherDocs := createTestBatch(t, st, "other", "x.pdf")

	for _, id := range []string{docs[0].ID, docs[1].ID, otherDocs[0].ID} {
		ok, err := st.ClaimDocument(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, st.FailDocument(ctx, docs[1].ID, "boom"))
	require.NoError(t, st.IncrementBatchCounters(ctx, b.ID, 0, 1))

	n, err := st.ReclaimDocuments(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := st.ListDocuments(ctx, b.ID, model.DocumentPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	failed, err := st.ListDocuments(ctx, b.ID, model.DocumentFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProcessedFiles)
	assert.Equal(t, 1, got.FailedFiles)

	stillClaimed, err := st.ListDocuments(ctx, other.ID, model.DocumentProcessing)
	require.NoError(t, err)
	assert.Len(t, stillClaimed, 1, "other batches are untouched")

	n, err = st.ReclaimDocuments(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_FailDocument_Terminal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, docs := createTestBatch(t, st, "term", "a.pdf")

	require.NoError(t, st.FailDocument(ctx, docs[0].ID, "first"))
	err := st.FailDocument(ctx, docs[0].ID, "second")
	assert.True(t, eris.Is(err, ErrConflict))
}

// --- Records ---

func TestSQLite_GetRecord_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRecord(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestSQLite_RecentRecordsByCircuit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "hist", "1.pdf", "2.pdf", "3.pdf", "4.pdf", "5.pdf")

	dates := []string{"2025-06-01", "2025-07-01", "2025-08-01", "2025-09-01"}
	for i, d := range dates {
		completeDoc(t, st, docs[i], testRecord(t, b.ID, map[string]any{
			model.FieldCircuitID:   "CIR-1",
			model.FieldBillDate:    d,
			model.FieldTotalAmount: decimal.NewFromInt(int64(1000 + i)),
		}))
	}
	completeDoc(t, st, docs[4], testRecord(t, b.ID, map[string]any{
		model.FieldCircuitID: "OTHER",
		model.FieldBillDate:  "2025-09-01",
	}))

	got, err := st.RecentRecordsByCircuit(ctx, HistoryQuery{CircuitID: "CIR-1", ExcludeDocumentID: docs[3].ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-08-01", got[0].Text(model.FieldBillDate))
	assert.Equal(t, "2025-07-01", got[1].Text(model.FieldBillDate))

	got, err = st.RecentRecordsByCircuit(ctx, HistoryQuery{CircuitID: "CIR-1", OnOrBefore: "2025-07-15"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-07-01", got[0].Text(model.FieldBillDate))
}

func TestSQLite_FindRecordsByBillOrRelationship(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "dups", "1.pdf", "2.pdf", "3.pdf")

	completeDoc(t, st, docs[0], testRecord(t, b.ID, map[string]any{model.FieldBillNumber: "B-1", model.FieldRelationshipNumber: "R-1"}))
	completeDoc(t, st, docs[1], testRecord(t, b.ID, map[string]any{model.FieldBillNumber: "B-2", model.FieldRelationshipNumber: "R-1"}))
	completeDoc(t, st, docs[2], testRecord(t, b.ID, map[string]any{model.FieldBillNumber: "B-3"}))

	got, err := st.FindRecordsByBillOrRelationship(ctx, "B-1", "", docs[2].ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = st.FindRecordsByBillOrRelationship(ctx, "", "R-1", docs[0].ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B-2", got[0].Text(model.FieldBillNumber))

	got, err = st.FindRecordsByBillOrRelationship(ctx, "", "", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- Corrections ---

func TestSQLite_Corrections(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "fix", "a.pdf")
	rec := testRecord(t, b.ID, map[string]any{model.FieldBillNumber: "B-1"})
	completeDoc(t, st, docs[0], rec)

	for i := 0; i < 2; i++ {
		require.NoError(t, st.AppendCorrection(ctx, &model.Correction{
			RecordID: rec.ID,
			Field:    model.FieldBillNumber,
			OldValue: fmt.Sprintf("B-%d", i+1),
			NewValue: fmt.Sprintf("B-%d", i+2),
			Reason:   "typo",
		}))
	}

	got, err := st.ListCorrections(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B-2", got[0].NewValue)
	assert.Equal(t, "B-3", got[1].NewValue)
	assert.Equal(t, "typo", got[0].Reason)

	stored, err := st.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "B-1", stored.Text(model.FieldBillNumber), "stored record is never mutated")
}

// --- Alerts ---

func TestSQLite_ReplaceBatchAlerts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, _ := createTestBatch(t, st, "alerts", "a.pdf")

	first := []model.Alert{
		{Type: model.AlertCostSpike, Severity: model.SeverityHigh, Message: "spike", Metadata: map[string]any{"change_pct": 60.0}},
		{Type: model.AlertMissingData, Severity: model.SeverityMedium, Message: "missing"},
	}
	require.NoError(t, st.ReplaceBatchAlerts(ctx, b.ID, first))

	got, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)

	high, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, Severities: model.SeveritiesAtLeast(model.SeverityHigh)})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, model.AlertCostSpike, high[0].Type)
	assert.InDelta(t, 60.0, high[0].Metadata["change_pct"], 0.001)

	require.NoError(t, st.MarkAlertRead(ctx, high[0].ID))
	unread, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	require.NoError(t, st.DismissAlert(ctx, unread[0].ID))
	visible, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
	withDismissed, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, IncludeDismissed: true})
	require.NoError(t, err)
	assert.Len(t, withDismissed, 2)

	require.NoError(t, st.ReplaceBatchAlerts(ctx, b.ID, []model.Alert{
		{Type: model.AlertPaymentDue, Severity: model.SeverityCritical, Message: "overdue"},
	}))
	got, err = st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, IncludeDismissed: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AlertPaymentDue, got[0].Type)

	require.NoError(t, st.ReplaceBatchAlerts(ctx, b.ID, nil))
	got, err = st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, IncludeDismissed: true})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_ReplaceBatchAlerts_KeepsTriageFlags(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b, docs := createTestBatch(t, st, "triage", "a.pdf", "b.pdf")

	alertsFor := func() []model.Alert {
		return []model.Alert{
			{DocumentID: docs[0].ID, Type: model.AlertDuplicateInvoice, Severity: model.SeverityHigh, Message: "dup a"},
			{DocumentID: docs[0].ID, Type: model.AlertPaymentDue, Severity: model.SeverityMedium, Message: "due a"},
			{DocumentID: docs[1].ID, Type: model.AlertDuplicateInvoice, Severity: model.SeverityHigh, Message: "dup b"},
		}
	}
	require.NoError(t, st.ReplaceBatchAlerts(ctx, b.ID, alertsFor()))

	got, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, IncludeDismissed: true})
	require.NoError(t, err)
	require.Len(t, got, 3)
	byMsg := make(map[string]model.Alert)
	for _, a := range got {
		byMsg[a.Message] = a
	}
	require.NoError(t, st.MarkAlertRead(ctx, byMsg["dup a"].ID))
	require.NoError(t, st.DismissAlert(ctx, byMsg["dup b"].ID))

	require.NoError(t, st.ReplaceBatchAlerts(ctx, b.ID, alertsFor()))

	got, err = st.ListAlerts(ctx, AlertFilter{BatchID: b.ID, IncludeDismissed: true})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, a := range got {
		assert.NotEqual(t, byMsg[a.Message].ID, a.ID, "alerts are replaced")
		switch a.Message {
		case "dup a":
			assert.True(t, a.Read)
			assert.False(t, a.Dismissed)
		case "dup b":
			assert.False(t, a.Read)
			assert.True(t, a.Dismissed)
		default:
			assert.False(t, a.Read)
			assert.False(t, a.Dismissed)
		}
	}

	visible, err := st.ListAlerts(ctx, AlertFilter{BatchID: b.ID})
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}

func TestSQLite_AlertUpdates_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.True(t, IsNotFound(st.MarkAlertRead(context.Background(), "missing")))
	assert.True(t, IsNotFound(st.DismissAlert(context.Background(), "missing")))
}

// --- Templates ---

func TestSQLite_Templates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tmpl := &model.Template{
		Name:     "airtel-custom",
		VendorID: " Airtel ",
		Fields:   []model.TemplateField{{Name: model.FieldBillNumber, Pattern: `Bill\s*No:\s*(\S+)`}},
	}
	require.NoError(t, st.SaveTemplate(ctx, tmpl))
	assert.Equal(t, "airtel", tmpl.VendorID)
	id := tmpl.ID

	byName, err := st.GetTemplate(ctx, "airtel-custom")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	require.Len(t, byName.Fields, 1)

	byID, err := st.GetTemplate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "airtel-custom", byID.Name)

	update := &model.Template{Name: "airtel-custom", VendorID: "airtel", Fields: []model.TemplateField{
		{Name: model.FieldBillNumber, Pattern: `Invoice:\s*(\S+)`},
		{Name: model.FieldCircuitID, Pattern: `Circuit:\s*(\S+)`},
	}}
	require.NoError(t, st.SaveTemplate(ctx, update))
	assert.Equal(t, id, update.ID)

	all, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Fields, 2)

	_, err = st.GetTemplate(ctx, "missing")
	assert.True(t, IsNotFound(err))
}
