// internal/reporting/audit.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/json-iterator/go"
)

// AuditLog appends one JSON document per run to a file, one per line.
type AuditLog struct {
	mu  sync.Mutex
	c   io.Closer
	enc *json.Encoder
}

// OpenAuditLog opens path for appending, creating it and its directory as needed.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}
	a := NewAuditLog(f)
	a.c = f
	return a, nil
}

// NewAuditLog writes to w. Close does not close w.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{enc: json.NewEncoder(w)}
}

// Write appends run as a single line.
func (a *AuditLog) Write(run *Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enc == nil {
		return ErrReportClosed
	}
	if err := a.enc.Encode(run); err != nil {
		return fmt.Errorf("failed to write audit record %s: %w", run.ID, err)
	}
	return nil
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enc = nil
	if a.c == nil {
		return nil
	}
	c := a.c
	a.c = nil
	return c.Close()
}
