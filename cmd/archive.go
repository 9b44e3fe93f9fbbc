package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/moodtrace/internal/eventlog"
	"github.com/andresmejia3/moodtrace/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:          "archive",
	Short:        "Copy the current event log into PostgreSQL",
	Long:         "Stores a snapshot of the event log as a new archive batch. Archiving unchanged content again returns the existing batch.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(ctx context.Context) error {
	log := openLog()
	data, err := log.Snapshot()
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no event log at %s, run `moodtrace watch` first", log.Path())
	}
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(int64(len(data)),
		progressbar.OptionSetDescription("📖 Reading log"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
	)
	events, err := eventlog.ReadEvents(io.TeeReader(bytes.NewReader(data), bar))
	bar.Finish()
	if err != nil {
		return fail("Event log is unreadable", err, nil)
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "\nNothing to archive.")
		return nil
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	id, created, err := db.ArchiveEvents(ctx, log.Path(), utils.SnapshotID(data), events)
	if err != nil {
		return fail("Failed to archive events", err, nil)
	}

	if created {
		fmt.Fprintf(os.Stderr, "\n📦 Archived %d events as batch %s\n", len(events), id)
	} else {
		fmt.Fprintf(os.Stderr, "\n📦 Snapshot already archived as batch %s\n", id)
	}
	fmt.Println(id)
	return nil
}
