// Package export writes normalized records to an XLSX workbook laid out by a
// vendor's column schema.
package export

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

// FileColumn is the header of the leading column holding the source filename.
const FileColumn = "File Name"

const sheetName = "Invoices"

// Source is the read side of the store an export needs.
type Source interface {
	ListBatchRecords(ctx context.Context, batchID string) ([]model.RecordEntry, error)
	ListCorrections(ctx context.Context, recordID string) ([]model.Correction, error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// BatchPath returns the default workbook path for a batch under dir.
func BatchPath(dir string, b *model.Batch) string {
	name := strings.Trim(unsafeName.ReplaceAllString(b.Name, "_"), "_")
	if name == "" {
		name = b.ID
	}
	return filepath.Join(dir, name+".xlsx")
}

// Batch exports every record of batchID with its corrections applied and
// returns the number of rows written.
func Batch(ctx context.Context, src Source, profile vendor.Profile, batchID, path string) (int, error) {
	entries, err := src.ListBatchRecords(ctx, batchID)
	if err != nil {
		return 0, eris.Wrapf(err, "export: list records for batch %s", batchID)
	}

	rows := make([]model.RecordEntry, len(entries))
	for i, e := range entries {
		rows[i] = e
		corrections, err := src.ListCorrections(ctx, e.Record.ID)
		if err != nil {
			return 0, eris.Wrapf(err, "export: corrections for record %s", e.Record.ID)
		}
		if len(corrections) == 0 {
			continue
		}
		corrected, err := model.ApplyCorrections(&e.Record, corrections)
		if err != nil {
			return 0, eris.Wrapf(err, "export: %s", e.Filename)
		}
		rows[i].Record = *corrected
	}

	if err := WriteXLSX(path, profile, rows); err != nil {
		return 0, err
	}
	zap.L().Info("export: workbook written",
		zap.String("batch_id", batchID),
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}

// WriteXLSX writes one header row and one row per entry in the given order.
// Absent fields render as blank cells.
func WriteXLSX(path string, profile vendor.Profile, entries []model.RecordEntry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString(FileColumn)
	for _, c := range profile.Columns {
		header.AddCell().SetString(c.Header)
	}

	for i := range entries {
		row := sheet.AddRow()
		row.AddCell().SetString(entries[i].Filename)
		for _, c := range profile.Columns {
			setCell(row.AddCell(), &entries[i].Record, c.Field)
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "export: create directory")
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func setCell(cell *xlsx.Cell, rec *model.NormalizedRecord, field string) {
	v, ok := rec.Get(field)
	if !ok {
		cell.SetString("")
		return
	}
	switch spec, _ := model.LookupField(field); spec.Kind {
	case model.KindNumeric:
		d, _ := rec.Decimal(field)
		f, _ := d.Float64()
		cell.SetFloat(f)
	case model.KindBoolean:
		b, _ := v.(bool)
		cell.SetBool(b)
	default:
		cell.SetString(rec.Text(field))
	}
}

// ReadXLSX returns every row of the first sheet as strings.
func ReadXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("export: %s has no sheets", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
