// internal/reporting/xlsx.go
package reporting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/reconcile"
)

// TimestampLayout is how run timestamps are written into reports.
const TimestampLayout = "2006-01-02 15:04:05"

// Header is the first row of every report sheet.
var Header = []string{"Item#", "Price", "Quantity", "Subtotal", "ComputedTotal", "ObservedTotal", "Match", "Timestamp"}

const (
	colorPass = "00B050"
	colorFail = "FF0000"
	// excelize rejects sheet names longer than this.
	maxSheetName = 31
)

// ErrReportClosed is returned when a closed report is used again.
var ErrReportClosed = errors.New("reporting: report already closed")

// PersistenceError means a finished report could not be written to disk.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist report to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Sink creates xlsx reports inside one directory.
type Sink struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithNow replaces the clock used to stamp file names.
func WithNow(now func() time.Time) SinkOption {
	return func(s *Sink) { s.now = now }
}

// NewSink returns a sink writing into dir. The directory is created on first save.
func NewSink(dir string, logger *zap.Logger, opts ...SinkOption) *Sink {
	s := &Sink{dir: dir, now: time.Now, logger: logger.Named("xlsx")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report is one open workbook. It has a single writer and must be closed.
type Report struct {
	sink   *Sink
	name   string
	file   *excelize.File
	sheet  string
	row    int
	bold   int
	pass   int
	fail   int
	closed bool
}

// Open starts a workbook whose only sheet is named after name and carries the bold
// header row.
func (s *Sink) Open(name string) (*Report, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("reporting: report name is required")
	}
	f := excelize.NewFile()
	r := &Report{sink: s, name: name, file: f, sheet: sheetName(name), row: 1}

	if err := r.init(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to initialise report %q: %w", name, err)
	}
	return r, nil
}

func (r *Report) init() error {
	if err := r.file.SetSheetName("Sheet1", r.sheet); err != nil {
		return err
	}
	var err error
	if r.bold, err = r.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return err
	}
	if r.pass, err = r.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: colorPass}}); err != nil {
		return err
	}
	if r.fail, err = r.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: colorFail}}); err != nil {
		return err
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := r.writeRow(header); err != nil {
		return err
	}
	if err := r.file.SetCellStyle(r.sheet, "A1", "H1", r.bold); err != nil {
		return err
	}
	return r.file.SetColWidth(r.sheet, "A", "H", 18)
}

// AppendRun writes one row per item followed by a TOTAL row. The subtotals, totals and
// verdict come from res; the report never recomputes them.
func (r *Report) AppendRun(items []reconcile.ItemRecord, res reconcile.Result) error {
	if r.closed {
		return ErrReportClosed
	}
	if len(items) != len(res.PerItemSubtotal) {
		return fmt.Errorf("reporting: %d items but %d subtotals", len(items), len(res.PerItemSubtotal))
	}

	for i, it := range items {
		if err := r.writeRow([]any{fmt.Sprintf("Item %d", i+1), it.UnitPrice, it.Quantity, res.PerItemSubtotal[i]}); err != nil {
			return fmt.Errorf("failed to write item %d: %w", i+1, err)
		}
	}

	verdict, style := "NO", r.fail
	if res.Matched {
		verdict, style = "YES", r.pass
	}
	total := r.row
	if err := r.writeRow([]any{"TOTAL", nil, nil, nil, res.ComputedTotal, res.ObservedTotal, verdict, res.Timestamp.Format(TimestampLayout)}); err != nil {
		return fmt.Errorf("failed to write total row: %w", err)
	}
	if err := r.styleCell(1, total, r.bold); err != nil {
		return err
	}
	return r.styleCell(7, total, style)
}

// Close saves the workbook as <dir>/<name>_<epoch-millis>.xlsx, adding a _2, _3...
// suffix when that file already exists, and releases it. The workbook is released
// whether or not saving succeeds.
func (r *Report) Close() (path string, err error) {
	if r.closed {
		return "", ErrReportClosed
	}
	r.closed = true
	defer func() {
		if cerr := r.file.Close(); cerr != nil {
			r.sink.logger.Warn("Failed to release workbook.", zap.String("report", r.name), zap.Error(cerr))
		}
	}()

	stem := fmt.Sprintf("%s_%d", fileStem(r.name), r.sink.now().UnixMilli())
	path = filepath.Join(r.sink.dir, stem+".xlsx")
	if err := os.MkdirAll(r.sink.dir, 0o755); err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	// Same name within one millisecond: never overwrite an earlier report.
	for n := 2; exists(path); n++ {
		path = filepath.Join(r.sink.dir, fmt.Sprintf("%s_%d.xlsx", stem, n))
	}
	if err := r.file.SaveAs(path); err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	r.sink.logger.Info("Report saved.", zap.String("path", path))
	return path, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (r *Report) writeRow(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, r.row)
	if err != nil {
		return err
	}
	if err := r.file.SetSheetRow(r.sheet, cell, &values); err != nil {
		return err
	}
	r.row++
	return nil
}

func (r *Report) styleCell(col, row, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return r.file.SetCellStyle(r.sheet, cell, cell, style)
}

// sheetName makes name acceptable as a worksheet title.
func sheetName(name string) string {
	s := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	s = strings.Trim(s, "'")
	if s == "" {
		s = "Report"
	}
	if runes := []rune(s); len(runes) > maxSheetName {
		s = string(runes[:maxSheetName])
	}
	return s
}

// fileStem makes name safe as a file name component.
func fileStem(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == 0 {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}
