package cli

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/scannerconf"
)

var (
	limitsMaxHosts  int
	limitsMaxChecks int
	scannerFs       = afero.NewOsFs()
)

// limitsCmd represents the limits command
var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show or set the scanner concurrency limits",
	Long: `Read or write max_hosts and max_checks in the scanner daemon
configuration file. Without flags the current values are printed. The
scanner daemon picks up new values when it is restarted.`,
	Example: `  gvmscan limits
  gvmscan limits --max-hosts 10 --max-checks 4`,
	Args: cobra.NoArgs,
	RunE: runLimits,
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.Flags().IntVarP(&limitsMaxHosts, "max-hosts", "m", 0, "hosts scanned simultaneously")
	limitsCmd.Flags().IntVarP(&limitsMaxChecks, "max-checks", "c", 0, "checks per host run simultaneously")
}

func runLimits(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := scannerconf.NewWriter(scannerFs, cfg.Scanner.ConfigFile, logging.Default())

	var limits scannerconf.Limits
	if cmd.Flags().Changed("max-hosts") {
		n := limitsMaxHosts
		limits.MaxHosts = &n
	}
	if cmd.Flags().Changed("max-checks") {
		n := limitsMaxChecks
		limits.MaxChecks = &n
	}

	if !limits.Empty() {
		if err := w.Apply(limits); err != nil {
			return err
		}
	}

	current, err := w.Read()
	if err != nil {
		return err
	}
	printLimits(cmd.OutOrStdout(), cfg.Scanner.ConfigFile, current)
	return nil
}

func printLimits(w io.Writer, path string, l scannerconf.Limits) {
	show := func(v *int) string {
		if v == nil {
			return "(scanner default)"
		}
		return fmt.Sprint(*v)
	}
	fmt.Fprintf(w, "%s\n  max_hosts:  %s\n  max_checks: %s\n", path, show(l.MaxHosts), show(l.MaxChecks))
}
