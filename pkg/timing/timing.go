// Package timing records the intervals declared by timestamp actions. Paired
// start/end marks under one storage name produce an elapsed-time record on an
// injected sink, independent of test pass/fail.
package timing

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/miott/specrun/pkg/util"
)

// Record is one completed interval as handed to the sink.
type Record struct {
	Storage   string
	Elapsed   time.Duration
	Precision int
}

// Seconds renders the elapsed time at the record's decimal precision.
func (r Record) Seconds() string {
	return strconv.FormatFloat(r.Elapsed.Seconds(), 'f', r.Precision, 64)
}

// Sink receives completed interval records. The default is a CSV file per
// storage name; tests inject an in-memory sink.
type Sink interface {
	Append(rec Record) error
}

// Recorder pairs start and end marks. It is safe for concurrent use across
// parallel branches.
type Recorder struct {
	sink Sink

	mu      sync.Mutex
	pending map[string]time.Time
	records []Record
}

// NewRecorder creates a recorder emitting to sink. A nil sink keeps records
// in memory only.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		sink:    sink,
		pending: make(map[string]time.Time),
	}
}

// Mark handles one timestamp action. A start mark opens (or restarts) the
// pending interval for storage; an end mark closes it and appends a record.
// An end without a prior start fails with the timing-sequence error, which
// callers report without aborting the run.
func (r *Recorder) Mark(storage, category string, precision int) error {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch category {
	case "start":
		r.pending[storage] = now
		return nil
	case "end":
		start, ok := r.pending[storage]
		if !ok {
			return &util.TimingError{Storage: storage}
		}
		delete(r.pending, storage)
		rec := Record{Storage: storage, Elapsed: now.Sub(start), Precision: precision}
		r.records = append(r.records, rec)
		if r.sink != nil {
			if err := r.sink.Append(rec); err != nil {
				return fmt.Errorf("timing sink %s: %w", storage, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown timestamp category %q", category)
	}
}

// Records returns all completed intervals so far, in completion order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
