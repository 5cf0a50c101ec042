package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/gvmscan/internal/cleanup"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/logging"
)

var cleanupDryRun bool

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every task and target on the manager",
	Long: `Delete all tasks and then all targets known to the manager. This is
the same pass a scan performs before and after it runs, and recovers a
namespace left dirty by a killed run.`,
	Example: `  gvmscan cleanup
  gvmscan cleanup --dry-run`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "list the objects that would be deleted")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.Default()
	ch, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}
	client := gmp.NewClient(ch, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cleanupDryRun {
		return listObjects(ctx, client, cmd.OutOrStdout())
	}

	result := cleanup.NewCoordinator(client, logger, nil).Cleanup(ctx)
	printCleanupResult(cmd.OutOrStdout(), result)
	return result.Err()
}

func listObjects(ctx context.Context, repo cleanup.Repository, w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Kind", "ID", "Name")

	for _, kind := range []gmp.Kind{gmp.KindTask, gmp.KindTarget} {
		objects, err := repo.List(ctx, kind)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			_ = table.Append([]string{string(obj.Kind), obj.ID, obj.Name})
		}
	}

	return table.Render()
}

func printCleanupResult(w io.Writer, result *cleanup.Result) {
	count := func(objs []gmp.Object, kind gmp.Kind) int {
		n := 0
		for _, o := range objs {
			if o.Kind == kind {
				n++
			}
		}
		return n
	}

	fmt.Fprintf(w, "Deleted %d tasks and %d targets.\n",
		count(result.Deleted, gmp.KindTask), count(result.Deleted, gmp.KindTarget))
	if n := len(result.Absent); n > 0 {
		fmt.Fprintf(w, "%d objects were already gone.\n", n)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(w, "Failed: %v\n", f)
	}
}
