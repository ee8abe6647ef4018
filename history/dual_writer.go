package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-freebook/models"
)

// SideError reports which file of a dual history failed.
type SideError struct {
	Side string // "csv" or "jsonl"
	Err  error
}

func (e *SideError) Error() string {
	return fmt.Sprintf("%s history: %v", e.Side, e.Err)
}

func (e *SideError) Unwrap() error {
	return e.Err
}

// DualWriter keeps a CSV history and its JSONL companion in step: a batch
// lands in both files or in neither.
type DualWriter struct {
	csv   *CSVWriter
	jsonl *JSONWriter
	mu    sync.Mutex
}

// NewDualWriter opens both history files for appending.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, &SideError{Side: "csv", Err: err}
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, &SideError{Side: "jsonl", Err: err}
	}
	return &DualWriter{csv: csvWriter, jsonl: jsonWriter}, nil
}

// Write appends records to both files. When either side fails, both are
// truncated back to their size before the call.
func (dw *DualWriter) Write(records []*models.ClaimRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	csvMark, err := dw.csv.size()
	if err != nil {
		return &SideError{Side: "csv", Err: err}
	}
	if err := dw.csv.Write(records); err != nil {
		return dw.rollback(&SideError{Side: "csv", Err: err}, csvMark, -1)
	}

	jsonMark, err := dw.jsonl.size()
	if err != nil {
		return dw.rollback(&SideError{Side: "jsonl", Err: err}, csvMark, -1)
	}
	if err := dw.jsonl.Write(records); err != nil {
		return dw.rollback(&SideError{Side: "jsonl", Err: err}, csvMark, jsonMark)
	}
	return nil
}

// rollback truncates the files to the given marks; a negative mark leaves
// that side alone.
func (dw *DualWriter) rollback(cause error, csvMark, jsonMark int64) error {
	errs := []error{cause}
	if err := dw.csv.truncate(csvMark); err != nil {
		errs = append(errs, fmt.Errorf("roll back csv history: %w", err))
	}
	if jsonMark >= 0 {
		if err := dw.jsonl.truncate(jsonMark); err != nil {
			errs = append(errs, fmt.Errorf("roll back jsonl history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes both files.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csv.Close(); err != nil {
		errs = append(errs, &SideError{Side: "csv", Err: err})
	}
	if err := dw.jsonl.Close(); err != nil {
		errs = append(errs, &SideError{Side: "jsonl", Err: err})
	}
	return errors.Join(errs...)
}

// Validate checks that both files hold data.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csv.Validate(); err != nil {
		errs = append(errs, &SideError{Side: "csv", Err: err})
	}
	if err := dw.jsonl.Validate(); err != nil {
		errs = append(errs, &SideError{Side: "jsonl", Err: err})
	}
	return errors.Join(errs...)
}
