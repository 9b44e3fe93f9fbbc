package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetYes     bool
	resetArchive bool
)

var resetCmd = &cobra.Command{
	Use:          "reset",
	Short:        "Clear the event log (and optionally the archive)",
	Long:         "Truncates the event log to its header row. With --archive the PostgreSQL archive tables are dropped too.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)
		log := openLog()

		if resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to clear %s?", log.Path())) {
			fmt.Println("🗑️  Clearing Event Log...")
			if err := log.Reset(); err != nil {
				return fail("Failed to reset event log", err, nil)
			}
		}

		if resetArchive {
			if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all archive tables?") {
				db, err := connectDB(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println("🗑️  Clearing Archive...")
				if err := db.Reset(cmd.Context()); err != nil {
					return fail("Failed to reset database", err, nil)
				}
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip confirmation prompts")
	resetCmd.Flags().BoolVar(&resetArchive, "archive", false, "Also drop the PostgreSQL archive tables")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
