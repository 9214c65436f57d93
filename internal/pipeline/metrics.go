package pipeline

import (
	"sync"
	"time"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Recorder collects step records for one run. It is safe for concurrent
// appends; the fan-out stage records provider durations from multiple
// goroutines. Records are only ever appended, never rewritten.
type Recorder struct {
	mu      sync.Mutex
	records []types.StepRecord
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds one record.
func (r *Recorder) Append(rec types.StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a snapshot of everything recorded so far.
func (r *Recorder) Records() []types.StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.StepRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Time runs fn and appends a record for the step with its measured
// duration. fn's error becomes the record's failure.
func (r *Recorder) Time(step string, fn func() error) error {
	started := time.Now()
	err := fn()
	rec := types.StepRecord{
		Step:     step,
		Status:   types.StepStatusOK,
		Duration: time.Since(started),
	}
	if err != nil {
		rec.Status = types.StepStatusFailed
		rec.Error = err.Error()
	}
	r.Append(rec)
	return err
}

// Summary aggregates total duration and failure counts per step name,
// keyed in first-seen order.
type Summary struct {
	Steps []StepSummary
}

// StepSummary is the aggregate for one step name.
type StepSummary struct {
	Step     string
	Count    int
	Failures int
	Total    time.Duration
}

// Summarize folds the records into per-step aggregates. Record order is
// preserved, so aggregates come out in stage order.
func (r *Recorder) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := make(map[string]int)
	var out Summary
	for _, rec := range r.records {
		i, ok := index[rec.Step]
		if !ok {
			i = len(out.Steps)
			index[rec.Step] = i
			out.Steps = append(out.Steps, StepSummary{Step: rec.Step})
		}
		out.Steps[i].Count++
		out.Steps[i].Total += rec.Duration
		if rec.Status == types.StepStatusFailed {
			out.Steps[i].Failures++
		}
	}
	return out
}
