package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/moodtrace/internal/config"
	"github.com/andresmejia3/moodtrace/internal/eventlog"
	"github.com/andresmejia3/moodtrace/internal/logging"
	"github.com/andresmejia3/moodtrace/internal/store"
	"github.com/andresmejia3/moodtrace/internal/utils"
	"github.com/spf13/cobra"
)

var (
	// cfg is the resolved configuration shared by subcommands
	cfg config.Config
	// DB is opened lazily by the subcommands that need the archive
	DB *store.Store

	configPath string
	logLevel   string
	logFormat  string
	logPath    string
	dbURL      string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "moodtrace",
	Short:   "Log what you hold and how you look, then see how they relate",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Flags beat the file and the environment
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("log-format") {
			cfg.LogJSON = logFormat == "json"
		}
		if flags.Changed("log-path") {
			cfg.LogPath = logPath
		}
		if flags.Changed("db") {
			cfg.DBURL = dbURL
		}

		logging.Init(cfg.LogJSON, logging.ParseLevel(cfg.LogLevel))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// connectDB opens the archive on first use.
func connectDB(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	s, err := store.New(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

func openLog() *eventlog.Log {
	return eventlog.New(cfg.LogPath)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errShown) {
			utils.ShowError("Command failed", err, nil)
		}
		os.Exit(1)
	}
}

// errShown marks errors whose box was already printed.
var errShown = errors.New("error already reported")

// fail prints the error box (with worker logs when s is set) and returns an
// error Execute will not print again.
func fail(what string, err error, s *utils.SafeCommand) error {
	utils.ShowError(what, err, s)
	return fmt.Errorf("%w: %s: %w", errShown, what, err)
}

func init() {
	rootCmd.SilenceErrors = true
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (default: $MOODTRACE_CONFIG or ./moodtrace.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&logPath, "log-path", "", "Event log CSV (default: data/output.csv)")
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/moodtrace)")
}
