package cli

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/gvmscan/internal/profiles"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List accepted scan profiles, report formats and alive tests",
	Long: `Show the built-in catalogues every manager installation ships with.
Profiles and report formats may be given to 'gvmscan scan' by name or ID.`,
	Example: `  gvmscan catalog profiles
  gvmscan catalog formats
  gvmscan catalog alive-tests`,
}

var catalogProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List scan profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderProfiles(cmd.OutOrStdout())
	},
}

var catalogFormatsCmd = &cobra.Command{
	Use:     "formats",
	Aliases: []string{"report-formats"},
	Short:   "List report formats",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderReportFormats(cmd.OutOrStdout())
	},
}

var catalogAliveTestsCmd = &cobra.Command{
	Use:   "alive-tests",
	Short: "List alive tests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderAliveTests(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogProfilesCmd)
	catalogCmd.AddCommand(catalogFormatsCmd)
	catalogCmd.AddCommand(catalogAliveTestsCmd)
}

func renderProfiles(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "ID")
	for _, p := range profiles.Profiles() {
		_ = table.Append([]string{p.Name, p.ID})
	}
	return table.Render()
}

func renderReportFormats(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "ID", "Extension", "Encoding")
	for _, f := range profiles.ReportFormats() {
		_ = table.Append([]string{f.Name, f.ID, f.Extension, string(f.Encoding)})
	}
	return table.Render()
}

func renderAliveTests(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Alive Test")
	for _, name := range profiles.AliveTests() {
		_ = table.Append([]string{name})
	}
	return table.Render()
}
