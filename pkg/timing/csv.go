package timing

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
)

// CSVSink appends one row per record to a file named by the record's storage
// under Dir. The storage names in specs are CSV file names, so the row is
// simply name,elapsed.
type CSVSink struct {
	Dir string

	mu sync.Mutex
}

// NewCSVSink creates a sink writing under dir.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{Dir: dir}
}

// Append implements Sink.
func (s *CSVSink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(s.Dir, filepath.Base(rec.Storage))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{rec.Storage, rec.Seconds()}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// MemorySink collects records in memory; used by tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// Append implements Sink.
func (s *MemorySink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
