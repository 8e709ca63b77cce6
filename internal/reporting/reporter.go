// internal/reporting/reporter.go
package reporting

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/reconcile"
)

// Run is one completed cart reconciliation as handed to reporters.
type Run struct {
	ID        string                 `json:"run_id"`
	Name      string                 `json:"name"`
	URL       string                 `json:"url,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	Items     []reconcile.ItemRecord `json:"items"`
	Result    reconcile.Result       `json:"result"`
}

// Reporter defines the interface for writing reconciliation runs to an output.
type Reporter interface {
	// Write records a single run.
	Write(run *Run) error
	// Close finalizes the output and releases its resources.
	Close() error
}

// Options carries what the individual formats need.
type Options struct {
	// Name titles xlsx reports.
	Name string
	// Dir receives xlsx reports.
	Dir string
	// Path is the audit log file for the jsonl format.
	Path string
	Now  func() time.Time
}

// New creates a reporter for format: "xlsx" (tabular report) or "jsonl" (audit log).
func New(format string, opts Options, logger *zap.Logger) (Reporter, error) {
	switch format {
	case "xlsx":
		var sinkOpts []SinkOption
		if opts.Now != nil {
			sinkOpts = append(sinkOpts, WithNow(opts.Now))
		}
		report, err := NewSink(opts.Dir, logger, sinkOpts...).Open(opts.Name)
		if err != nil {
			return nil, err
		}
		return &XLSXReporter{report: report}, nil
	case "jsonl":
		if opts.Path == "" {
			return nil, fmt.Errorf("jsonl reporter needs a path")
		}
		log, err := OpenAuditLog(opts.Path)
		if err != nil {
			return nil, err
		}
		return log, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// XLSXReporter adapts a Report to the Reporter interface.
type XLSXReporter struct {
	report *Report
	path   string
}

func (x *XLSXReporter) Write(run *Run) error {
	return x.report.AppendRun(run.Items, run.Result)
}

func (x *XLSXReporter) Close() error {
	path, err := x.report.Close()
	x.path = path
	return err
}

// Path is the saved file, empty until Close succeeds.
func (x *XLSXReporter) Path() string { return x.path }

// Multi fans every run out to several reporters.
type Multi []Reporter

// Write delivers run to every reporter, even after one fails.
func (m Multi) Write(run *Run) error {
	var errs []error
	for _, r := range m {
		if err := r.Write(run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every reporter.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
