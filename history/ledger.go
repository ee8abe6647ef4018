// Package history keeps the append-only record of claimed books.
package history

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-freebook/models"
	"github.com/aluiziolira/go-freebook/parser"
)

var (
	// ErrLedgerClosed is returned when Record is called after Close.
	ErrLedgerClosed = errors.New("history: ledger closed")
)

// OutputWriter defines the interface for history output.
type OutputWriter interface {
	Write(records []*models.ClaimRecord) error
	Close() error
	Validate() error
}

// Ledger validates, de-duplicates and persists claim records.
type Ledger struct {
	writer OutputWriter
	seen   *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex
	closed bool
}

// NewLedger builds a ledger that remembers up to maxSize book IDs,
// seeded with the IDs already present in history.
func NewLedger(writer OutputWriter, maxSize int, known []string) (*Ledger, error) {
	seen, err := lru.New[string, struct{}](maxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	for _, id := range known {
		seen.Add(id, struct{}{})
	}
	return &Ledger{
		writer:  writer,
		seen:    seen,
		metrics: newMetrics(),
	}, nil
}

// Open reads the IDs already in filename and returns a ledger appending to it.
func Open(format, filename string, maxSize int) (*Ledger, error) {
	known, err := LoadBookIDs(format, filename)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(format, filename)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(writer, maxSize, known)
	if err != nil {
		writer.Close()
		return nil, err
	}
	return ledger, nil
}

// Seen reports whether id has already been recorded.
func (l *Ledger) Seen(id string) bool {
	return l.seen.Contains(id)
}

// Record validates and writes records, dropping invalid and duplicate ones.
func (l *Ledger) Record(records ...*models.ClaimRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLedgerClosed
	}

	batch := make([]*models.ClaimRecord, 0, len(records))
	pending := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		if err := parser.ValidateRecord(r); err != nil {
			l.metrics.addValidation("invalid_record")
			continue
		}
		if _, dup := pending[r.BookID]; dup || l.seen.Contains(r.BookID) {
			l.metrics.addValidation("duplicate_book")
			continue
		}
		pending[r.BookID] = struct{}{}
		r.Title = parser.NormalizeTitle(r.Title)
		r.Format = parser.NormalizeFormat(r.Format)
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := l.writer.Write(batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := l.writer.Validate(); err != nil {
		return fmt.Errorf("verify history: %w", err)
	}
	for _, r := range batch {
		l.seen.Add(r.BookID, struct{}{})
		l.metrics.incrementRecorded()
	}
	return nil
}

// Close flushes the writer and prevents more records.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.writer.Close()
}

// GetMetrics returns a snapshot of the internal counters.
func (l *Ledger) GetMetrics() map[string]interface{} {
	return l.metrics.snapshot()
}

type metrics struct {
	mu         sync.Mutex
	recorded   int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementRecorded() {
	m.mu.Lock()
	m.recorded++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"recorded_claims":   m.recorded,
		"validation_errors": copyValidation,
	}
}
