// Package report renders count matrices and schedules periodic summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/moodtrace/internal/aggregate"
)

// WriteTable prints one row per object and one column per emotion, plus a
// row total. Cells that were never observed print as 0.
func WriteTable(w io.Writer, m *aggregate.CountMatrix) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)

	header := append([]string{"OBJECT"}, upper(m.Emotions)...)
	header = append(header, "TOTAL")
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	fmt.Fprintln(tw, strings.Join(dashes(header), "\t"))

	for _, o := range m.Objects {
		row := []string{o}
		for _, e := range m.Emotions {
			row = append(row, fmt.Sprint(m.Count(o, e)))
		}
		row = append(row, fmt.Sprint(m.RowTotal(o)))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// WriteJSON encodes the matrix with indentation.
func WriteJSON(w io.Writer, m *aggregate.CountMatrix) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// Summary is a one-line description used in log records.
func Summary(m *aggregate.CountMatrix) string {
	parts := make([]string, 0, len(m.Objects))
	for _, o := range m.Objects {
		parts = append(parts, fmt.Sprintf("%s=%d", o, m.RowTotal(o)))
	}
	return fmt.Sprintf("%d events (%s)", m.Total, strings.Join(parts, ", "))
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func dashes(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.Repeat("-", len(s))
	}
	return out
}
