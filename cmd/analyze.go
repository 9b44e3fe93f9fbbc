package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/moodtrace/internal/aggregate"
	"github.com/andresmejia3/moodtrace/internal/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	analyzeBatch     string
	analyzeJSON      bool
	analyzeWhitelist []string
)

var analyzeCmd = &cobra.Command{
	Use:          "analyze",
	Short:        "Count how often each emotion appeared with each object",
	Long:         "Aggregates the event log (or an archived batch) into an object by emotion count table. Only whitelisted objects are counted.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("whitelist") {
			cfg.Analysis.Whitelist = analyzeWhitelist
		}
		if len(cfg.Analysis.Whitelist) == 0 {
			return errors.New("whitelist must not be empty")
		}
		return runAnalyze(cmd.Context(), os.Stdout)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeBatch, "batch", "b", "", "Analyze an archived batch by id, or \"latest\"")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the matrix as JSON")
	analyzeCmd.Flags().StringSliceVar(&analyzeWhitelist, "whitelist", nil, "Objects to count (default: cell phone,book,other)")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, out io.Writer) error {
	var (
		m   *aggregate.CountMatrix
		err error
	)
	if analyzeBatch != "" {
		m, err = analyzeArchive(ctx, analyzeBatch)
	} else {
		m, err = analyzeLog(out)
	}
	if errors.Is(err, aggregate.ErrEmptyAggregate) {
		fmt.Fprintln(out, "No valid grouped data to plot.")
		return nil
	}
	if err != nil {
		return err
	}

	if analyzeJSON {
		return report.WriteJSON(out, m)
	}
	return report.WriteTable(out, m)
}

// analyzeLog aggregates a snapshot of the event log. On an empty result the
// raw object labels are listed so a mistyped whitelist is easy to spot.
func analyzeLog(out io.Writer) (*aggregate.CountMatrix, error) {
	log := openLog()
	data, err := log.Snapshot()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no event log at %s, run `moodtrace watch` first", log.Path())
	}
	if err != nil {
		return nil, err
	}

	m, stats, err := aggregate.New(cfg.Analysis.Whitelist).Aggregate(bytes.NewReader(data))
	if errors.Is(err, aggregate.ErrEmptyAggregate) && !analyzeJSON {
		fmt.Fprintf(out, "Unique objects in log: [%s]\n", strings.Join(stats.RawObjects, ", "))
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "📈 %d rows read, %d counted, %d without labels, %d outside the whitelist\n",
		stats.Rows, m.Total, stats.DroppedMissing, stats.DroppedFilter)
	return m, nil
}

func analyzeArchive(ctx context.Context, ref string) (*aggregate.CountMatrix, error) {
	db, err := connectDB(ctx)
	if err != nil {
		return nil, err
	}
	id, err := resolveBatch(ctx, ref)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "📦 Archived batch %s\n", id)
	return db.CountMatrix(ctx, id, cfg.Analysis.Whitelist)
}

func resolveBatch(ctx context.Context, ref string) (uuid.UUID, error) {
	if ref == "latest" {
		return DB.LatestBatch(ctx)
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid batch id %q: %w", ref, err)
	}
	return id, nil
}
