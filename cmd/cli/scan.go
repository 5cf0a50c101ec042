package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/gvmscan/internal/api"
	"github.com/anstrom/gvmscan/internal/config"
	"github.com/anstrom/gvmscan/internal/db"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/metrics"
	"github.com/anstrom/gvmscan/internal/orchestrator"
	"github.com/anstrom/gvmscan/internal/report"
	"github.com/anstrom/gvmscan/internal/scannerconf"
)

var (
	scanOutput    string
	scanFormat    string
	scanProfile   string
	scanAliveTest string
	scanExclude   string
	scanMaxHosts  int
	scanMaxChecks int
	scanTimeout   time.Duration
	scanPortList  string
	scanScanner   string
	scanServeAPI  bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Run one vulnerability scan and save its report",
	Long: `Run a complete scan against a host, range or network. Stale tasks and
targets are removed first, then a target and task are created and started.
The task is polled until the manager reports it done, the report is saved in
the requested format and every object created for the run is deleted again.

Cleanup runs even when the scan fails or is interrupted.`,
	Example: `  gvmscan scan 192.168.1.10
  gvmscan scan 10.0.0.0/24 -f XML -o /reports/net.xml
  gvmscan scan 10.0.0.0/24 -e 10.0.0.1 -p Discovery -t "Consider Alive"
  gvmscan scan example.org -m 5 -c 2 --timeout 2h`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "report output path (default scan.report_dir/scan.report_file)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "report format name or ID (see 'gvmscan catalog formats')")
	scanCmd.Flags().StringVarP(&scanProfile, "profile", "p", "", "scan profile name or ID (see 'gvmscan catalog profiles')")
	scanCmd.Flags().StringVarP(&scanAliveTest, "alive-test", "t", "", "alive test (see 'gvmscan catalog alive-tests')")
	scanCmd.Flags().StringVarP(&scanExclude, "exclude", "e", "", "hosts to exclude from the target")
	scanCmd.Flags().IntVarP(&scanMaxHosts, "max-hosts", "m", 0, "hosts scanned simultaneously, written to the scanner config")
	scanCmd.Flags().IntVarP(&scanMaxChecks, "max-checks", "c", 0, "checks per host run simultaneously, written to the scanner config")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "give up when the task is not done after this long (0 waits forever)")
	scanCmd.Flags().StringVar(&scanPortList, "port-list", "", "port list ID for the target")
	scanCmd.Flags().StringVar(&scanScanner, "scanner", "", "scanner ID for the task")
	scanCmd.Flags().BoolVar(&scanServeAPI, "status-api", false, "serve the live status endpoint while the scan runs")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Scan.Timeout = scanTimeout
	}
	if scanServeAPI {
		cfg.API.Enabled = true
	}

	req := buildScanRequest(cmd, cfg, args[0])
	if err := req.Validate(); err != nil {
		return err
	}

	logger := logging.Default()

	var m *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled || cfg.API.Enabled {
		m = metrics.NewPrometheusMetrics()
	}

	if !req.Limits.Empty() {
		w := scannerconf.NewWriter(scannerFs, cfg.Scanner.ConfigFile, logger)
		if err := w.Apply(req.Limits); err != nil {
			return err
		}
	}

	ch, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(
		gmp.NewClient(ch, m),
		report.NewMaterializer(afero.NewOsFs(), m),
		orchestratorOptions(cfg),
	).
		WithLogger(logger).
		WithOutput(cmd.OutOrStdout()).
		WithMetrics(m)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history := openHistory(ctx, cfg, logger)
	if history != nil {
		defer history.close()
		orch.WithRecorder(history.store)
	}

	err = runWithStatusServer(ctx, cfg, orch, req, history, m, logger)

	if m != nil && cfg.Metrics.Textfile != "" {
		if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Warn("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	return err
}

// runWithStatusServer runs the orchestrator and, when enabled, the status
// server next to it. The server stops once the run has finished.
func runWithStatusServer(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator,
	req orchestrator.ScanRequest, history *historyConn, m *metrics.PrometheusMetrics, logger *logging.Logger) error {
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	var g errgroup.Group

	if cfg.API.Enabled {
		srv := api.New(cfg.API, orch, m).WithLogger(logger).WithVersion(version)
		if history != nil {
			srv.WithHistory(history.store)
		}
		g.Go(func() error {
			if err := srv.Start(serverCtx); err != nil {
				logger.Warn("Status server stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stopServer()
		_, err := orch.Run(ctx, req)
		return err
	})

	return g.Wait()
}

func buildScanRequest(cmd *cobra.Command, cfg *config.Config, target string) orchestrator.ScanRequest {
	req := orchestrator.ScanRequest{
		Target:       target,
		ExcludeHosts: scanExclude,
		AliveTest:    cfg.Scan.AliveTest,
		Profile:      cfg.Scan.Profile,
		ReportFormat: cfg.Scan.ReportFormat,
		OutputPath:   cfg.ReportPath(),
		PortListID:   cfg.Scan.PortListID,
		ScannerID:    cfg.Scan.ScannerID,
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		req.OutputPath = filepath.Clean(scanOutput)
	}
	if flags.Changed("format") {
		req.ReportFormat = scanFormat
	}
	if flags.Changed("profile") {
		req.Profile = scanProfile
	}
	if flags.Changed("alive-test") {
		req.AliveTest = scanAliveTest
	}
	if flags.Changed("port-list") {
		req.PortListID = scanPortList
	}
	if flags.Changed("scanner") {
		req.ScannerID = scanScanner
	}
	if flags.Changed("max-hosts") {
		n := scanMaxHosts
		req.Limits.MaxHosts = &n
	}
	if flags.Changed("max-checks") {
		n := scanMaxChecks
		req.Limits.MaxChecks = &n
	}
	return req
}

func orchestratorOptions(cfg *config.Config) orchestrator.Options {
	return orchestrator.Options{
		PollInterval:      cfg.Scan.PollInterval,
		MaxPollInterval:   cfg.Scan.MaxPollInterval,
		BackoffMultiplier: cfg.Scan.BackoffMultiplier,
		Timeout:           cfg.Scan.Timeout,
		NamePrefix:        cfg.Scan.NamePrefix,
	}
}

// newChannel builds the command channel for the configured transport.
func newChannel(cfg *config.Config, logger *logging.Logger) (gmp.Channel, error) {
	var ch gmp.Channel

	switch cfg.GMP.Transport {
	case config.TransportCLI:
		ch = gmp.NewCLIChannel(gmp.CLIConfig{
			Binary:     cfg.GMP.CLI.Binary,
			Username:   cfg.GMP.Username,
			Password:   cfg.GMP.Password,
			SocketPath: cfg.GMP.SocketPath,
			RunAs:      cfg.GMP.CLI.RunAs,
		})
	case config.TransportSocket:
		ch = gmp.NewSocketChannel(gmp.SocketConfig{
			Network:  "unix",
			Address:  cfg.GMP.SocketPath,
			Username: cfg.GMP.Username,
			Password: cfg.GMP.Password,
		})
	case config.TransportTLS:
		ch = gmp.NewSocketChannel(gmp.SocketConfig{
			Network:            "tcp",
			Address:            cfg.GMP.Address,
			TLS:                true,
			InsecureSkipVerify: cfg.GMP.InsecureSkipVerify,
			Username:           cfg.GMP.Username,
			Password:           cfg.GMP.Password,
		})
	default:
		return nil, errors.ErrConfigInvalid("gmp.transport", cfg.GMP.Transport)
	}

	if cfg.GMP.Debug {
		ch = gmp.WithDebug(ch, logger.WithComponent("gmp"))
	}
	return ch, nil
}

type historyConn struct {
	database *db.DB
	store    *db.HistoryStore
}

func (h *historyConn) close() {
	if err := h.database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
	}
}

// openHistory connects the run history store. A failure is logged and the
// scan proceeds without history.
func openHistory(ctx context.Context, cfg *config.Config, logger *logging.Logger) *historyConn {
	if !cfg.Database.Enabled {
		return nil
	}
	database, err := db.ConnectAndMigrate(ctx, &cfg.Database.Config)
	if err != nil {
		logger.Warn("Run history disabled", "error", err)
		return nil
	}
	return &historyConn{database: database, store: db.NewHistoryStore(database)}
}
