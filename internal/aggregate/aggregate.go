// Package aggregate turns an event log snapshot into an object×emotion count matrix.
package aggregate

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/andresmejia3/moodtrace/internal/eventlog"
	"github.com/andresmejia3/moodtrace/internal/types"
)

// DefaultWhitelist is the closed set of object labels kept in the aggregate.
var DefaultWhitelist = []string{"cell phone", "book", "other"}

// ErrEmptyAggregate means the log was valid but nothing survived filtering.
var ErrEmptyAggregate = errors.New("no valid grouped data to plot")

// CountMatrix is a dense object×emotion table. Every object row carries a
// count for every emotion column, zero when the pair was never observed.
type CountMatrix struct {
	Objects  []string                  `json:"objects"`
	Emotions []string                  `json:"emotions"`
	Counts   map[string]map[string]int `json:"counts"`
	Total    int                       `json:"total"`
}

// Count returns the count for a pair, 0 when either label is unknown.
func (m *CountMatrix) Count(object, emotion string) int {
	return m.Counts[object][emotion]
}

// RowTotal sums the counts of one object across all emotions.
func (m *CountMatrix) RowTotal(object string) int {
	n := 0
	for _, c := range m.Counts[object] {
		n += c
	}
	return n
}

// Stats describes what happened to the rows of a snapshot.
type Stats struct {
	Rows           int
	DroppedMissing int
	DroppedFilter  int
	RawObjects     []string // distinct normalized object labels seen, sorted
}

// Aggregator groups log rows by (object, emotion) under a fixed whitelist.
type Aggregator struct {
	whitelist map[string]bool
}

// New builds an Aggregator. An empty whitelist falls back to DefaultWhitelist.
func New(whitelist []string) *Aggregator {
	if len(whitelist) == 0 {
		whitelist = DefaultWhitelist
	}
	wl := make(map[string]bool, len(whitelist))
	for _, w := range whitelist {
		wl[types.NormalizeLabel(w)] = true
	}
	return &Aggregator{whitelist: wl}
}

// Aggregate reads a full log from r. The header is validated before any row
// is parsed; a bad header or unreadable CSV yields eventlog.ErrLogFormat and no
// matrix. A valid log with no surviving rows yields ErrEmptyAggregate.
func (a *Aggregator) Aggregate(r io.Reader) (*CountMatrix, Stats, error) {
	var stats Stats

	cr := eventlog.NewReader(r)
	if _, err := eventlog.ValidateHeader(cr); err != nil {
		return nil, stats, err
	}

	counts := make(map[string]map[string]int)
	raw := make(map[string]bool)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %v", eventlog.ErrLogFormat, err)
		}
		stats.Rows++

		if len(rec) < len(eventlog.Header) {
			stats.DroppedMissing++
			continue
		}
		object, emotion := types.NormalizeLabel(rec[1]), types.NormalizeLabel(rec[2])
		if object == "" || emotion == "" {
			stats.DroppedMissing++
			continue
		}
		raw[object] = true

		if !a.whitelist[object] {
			stats.DroppedFilter++
			continue
		}
		if counts[object] == nil {
			counts[object] = make(map[string]int)
		}
		counts[object][emotion]++
	}
	stats.RawObjects = sortedKeys(raw)

	m, err := FromCounts(counts)
	return m, stats, err
}

// FromCounts densifies sparse pair counts into a CountMatrix. Rows with no
// positive count are ignored. It returns ErrEmptyAggregate when nothing is left.
func FromCounts(sparse map[string]map[string]int) (*CountMatrix, error) {
	objects := make(map[string]bool)
	emotions := make(map[string]bool)
	total := 0
	for o, row := range sparse {
		for e, c := range row {
			if c <= 0 {
				continue
			}
			objects[o] = true
			emotions[e] = true
			total += c
		}
	}
	if total == 0 {
		return nil, ErrEmptyAggregate
	}

	m := &CountMatrix{
		Objects:  sortedKeys(objects),
		Emotions: sortedKeys(emotions),
		Counts:   make(map[string]map[string]int, len(objects)),
		Total:    total,
	}
	for _, o := range m.Objects {
		row := make(map[string]int, len(m.Emotions))
		for _, e := range m.Emotions {
			row[e] = max(sparse[o][e], 0)
		}
		m.Counts[o] = row
	}
	return m, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
