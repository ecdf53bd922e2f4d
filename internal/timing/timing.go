// Package timing collects per-operation latency samples.
package timing

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stat summarizes the samples recorded for one operation.
type Stat struct {
	Op     string        `json:"op"`
	Count  int           `json:"count"`
	Errors int           `json:"errors"`
	Total  time.Duration `json:"total"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
}

// Mean returns the average duration of a call.
func (s Stat) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	order   []string
	samples map[string][]float64
	errors  map[string]int
}

func NewRecorder() *Recorder {
	return &Recorder{
		samples: make(map[string][]float64),
		errors:  make(map[string]int),
	}
}

// Time runs fn and records its duration under op.
func (r *Recorder) Time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(op, time.Since(start), err)
	return err
}

// Observe records one sample. Failed calls count towards the latency too.
func (r *Recorder) Observe(op string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.samples[op]; !ok {
		r.order = append(r.order, op)
	}
	r.samples[op] = append(r.samples[op], float64(d))
	if err != nil {
		r.errors[op]++
	}
}

// Stats returns one summary per operation in first-seen order.
func (r *Recorder) Stats() []Stat {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stat, 0, len(r.order))
	for _, op := range r.order {
		xs := slices.Clone(r.samples[op])
		slices.Sort(xs)
		var total float64
		for _, x := range xs {
			total += x
		}
		out = append(out, Stat{
			Op:     op,
			Count:  len(xs),
			Errors: r.errors[op],
			Total:  time.Duration(total),
			Min:    time.Duration(xs[0]),
			Max:    time.Duration(xs[len(xs)-1]),
			P50:    time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
			P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
		})
	}
	return out
}

// FormatDuration renders d as hh:mm:ss.mmm.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := d.Milliseconds() % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
