package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/gvmscan/internal/db"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/orchestrator"
)

const maxErrorDisplayLen = 60

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent scan runs",
	Long: `List the most recent scan runs recorded in the run history database.
Requires database.enabled in the configuration.`,
	Example: `  gvmscan history
  gvmscan history --limit 50
  gvmscan history migrations`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyMigrationsCmd = &cobra.Command{
	Use:   "migrations",
	Short: "Show the run history schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runHistoryMigrations,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyMigrationsCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}

// withDatabase loads the configuration, connects the history database and
// runs op against it.
func withDatabase(cmd *cobra.Command, op func(*db.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"run history is disabled", "database.enabled", false)
	}

	database, err := db.ConnectAndMigrate(cmd.Context(), &cfg.Database.Config)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logging.Warn("Failed to close database connection", "error", err)
		}
	}()

	return op(database)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withDatabase(cmd, func(database *db.DB) error {
		runs, err := db.NewHistoryStore(database).Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return renderRuns(cmd.OutOrStdout(), runs)
	})
}

func runHistoryMigrations(cmd *cobra.Command, args []string) error {
	return withDatabase(cmd, func(database *db.DB) error {
		status, err := db.NewMigrator(database.DB, logging.Default()).Status(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range status {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	})
}

func renderRuns(w io.Writer, runs []orchestrator.Snapshot) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No scan runs recorded.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Started", "Target", "Profile", "Format", "State", "Progress", "Error")

	for i := range runs {
		run := &runs[i]

		runID := run.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}

		errMsg := run.Error
		if len(errMsg) > maxErrorDisplayLen {
			errMsg = errMsg[:maxErrorDisplayLen] + "..."
		}

		_ = table.Append([]string{
			runID,
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Target,
			run.Profile,
			run.ReportFormat,
			string(run.State),
			strconv.Itoa(run.Progress) + "%",
			errMsg,
		})
	}

	return table.Render()
}
