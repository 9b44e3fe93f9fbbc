package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/andresmejia3/moodtrace/internal/aggregate"
	"github.com/robfig/cron/v3"
)

// SnapshotFunc returns the current log contents.
type SnapshotFunc func() ([]byte, error)

// Scheduler periodically aggregates a log snapshot while the pipeline runs.
type Scheduler struct {
	cron     *cron.Cron
	snapshot SnapshotFunc
	agg      *aggregate.Aggregator
	out      io.Writer

	mu   sync.Mutex
	runs int
	last *aggregate.CountMatrix
}

// NewScheduler validates spec and registers the report job. out receives the
// rendered table on every run; nil only logs the summary.
func NewScheduler(spec string, snapshot SnapshotFunc, agg *aggregate.Aggregator, out io.Writer) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		snapshot: snapshot,
		agg:      agg,
		out:      out,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce() }); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce aggregates the current snapshot. An empty log is reported at debug
// level and is not an error.
func (s *Scheduler) RunOnce() (*aggregate.CountMatrix, error) {
	data, err := s.snapshot()
	if err != nil {
		slog.Warn("report snapshot failed", "error", err)
		return nil, err
	}

	m, stats, err := s.agg.Aggregate(bytes.NewReader(data))
	s.mu.Lock()
	s.runs++
	if err == nil {
		s.last = m
	}
	s.mu.Unlock()

	switch {
	case errors.Is(err, aggregate.ErrEmptyAggregate):
		slog.Debug("report skipped, no whitelisted events yet", "rows", stats.Rows)
		return nil, err
	case err != nil:
		slog.Warn("report aggregation failed", "error", err)
		return nil, err
	}

	slog.Info("periodic report", "summary", Summary(m), "dropped", stats.DroppedMissing+stats.DroppedFilter)
	if s.out != nil {
		fmt.Fprintln(s.out)
		if err := WriteTable(s.out, m); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Runs reports how many times the job has executed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Last returns the most recent non-empty matrix, or nil.
func (s *Scheduler) Last() *aggregate.CountMatrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
