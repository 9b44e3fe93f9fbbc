package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/moodtrace/internal/store"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:          "history",
	Short:        "List archived event log batches",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := connectDB(cmd.Context())
		if err != nil {
			return err
		}
		batches, err := db.ListBatches(cmd.Context())
		if err != nil {
			return fail("Failed to list batches", err, nil)
		}
		writeBatches(os.Stdout, batches)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func writeBatches(out io.Writer, batches []store.Batch) {
	if len(batches) == 0 {
		fmt.Fprintln(out, "No archived batches found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENTS\tSOURCE\tARCHIVED")
	fmt.Fprintln(w, "--\t------\t------\t--------")

	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", b.ID, b.EventCount, b.Source, b.ArchivedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
