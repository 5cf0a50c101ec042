package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/gvmscan/internal/cleanup"
	"github.com/anstrom/gvmscan/internal/config"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/orchestrator"
)

// resetFlags restores every flag of cmd to its default after a test.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	t.Cleanup(func() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})
}

func TestBuildScanRequest(t *testing.T) {
	cfg := config.Default()

	t.Run("config defaults", func(t *testing.T) {
		resetFlags(t, scanCmd)
		require.NoError(t, scanCmd.ParseFlags(nil))

		req := buildScanRequest(scanCmd, cfg, "192.0.2.10")
		assert.Equal(t, "192.0.2.10", req.Target)
		assert.Equal(t, "Full and fast", req.Profile)
		assert.Equal(t, "PDF", req.ReportFormat)
		assert.Equal(t, "ICMP, TCP-ACK Service & ARP Ping", req.AliveTest)
		assert.Equal(t, "/reports/openvas.report", req.OutputPath)
		assert.True(t, req.Limits.Empty())
		assert.NoError(t, req.Validate())
	})

	t.Run("flags override config", func(t *testing.T) {
		resetFlags(t, scanCmd)
		require.NoError(t, scanCmd.ParseFlags([]string{
			"-o", "/tmp/out/../r.xml", "-f", "XML", "-p", "Discovery",
			"-t", "Consider Alive", "-e", "10.0.0.1", "-m", "3", "-c", "2",
		}))

		req := buildScanRequest(scanCmd, cfg, "10.0.0.0/24")
		assert.Equal(t, "/tmp/r.xml", req.OutputPath)
		assert.Equal(t, "XML", req.ReportFormat)
		assert.Equal(t, "Discovery", req.Profile)
		assert.Equal(t, "Consider Alive", req.AliveTest)
		assert.Equal(t, "10.0.0.1", req.ExcludeHosts)
		require.NotNil(t, req.Limits.MaxHosts)
		assert.Equal(t, 3, *req.Limits.MaxHosts)
		require.NotNil(t, req.Limits.MaxChecks)
		assert.Equal(t, 2, *req.Limits.MaxChecks)
		assert.NoError(t, req.Validate())
	})

	t.Run("zero limit fails validation", func(t *testing.T) {
		resetFlags(t, scanCmd)
		require.NoError(t, scanCmd.ParseFlags([]string{"--max-hosts", "0"}))

		err := buildScanRequest(scanCmd, cfg, "192.0.2.10").Validate()
		assert.True(t, errors.IsConfig(err))
	})
}

func TestOrchestratorOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Scan.Timeout = time.Hour

	opts := orchestratorOptions(cfg)
	assert.Equal(t, 10*time.Second, opts.PollInterval)
	assert.Equal(t, 2*time.Minute, opts.MaxPollInterval)
	assert.Equal(t, 2.0, opts.BackoffMultiplier)
	assert.Equal(t, time.Hour, opts.Timeout)
	assert.Equal(t, "gvmscan", opts.NamePrefix)
}

func TestNewChannel(t *testing.T) {
	logger := logging.NewDiscard()

	tests := []struct {
		transport string
		debug     bool
		check     func(t *testing.T, ch gmp.Channel)
	}{
		{config.TransportCLI, false, func(t *testing.T, ch gmp.Channel) {
			assert.IsType(t, &gmp.CLIChannel{}, ch)
		}},
		{config.TransportSocket, false, func(t *testing.T, ch gmp.Channel) {
			assert.IsType(t, &gmp.SocketChannel{}, ch)
		}},
		{config.TransportTLS, false, func(t *testing.T, ch gmp.Channel) {
			assert.IsType(t, &gmp.SocketChannel{}, ch)
		}},
		{config.TransportCLI, true, func(t *testing.T, ch gmp.Channel) {
			_, isCLI := ch.(*gmp.CLIChannel)
			assert.False(t, isCLI, "debug wraps the channel")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg := config.Default()
			cfg.GMP.Transport = tt.transport
			cfg.GMP.Debug = tt.debug

			ch, err := newChannel(cfg, logger)
			require.NoError(t, err)
			tt.check(t, ch)
		})
	}

	t.Run("unknown transport", func(t *testing.T) {
		cfg := config.Default()
		cfg.GMP.Transport = "carrier-pigeon"

		_, err := newChannel(cfg, logger)
		assert.True(t, errors.IsConfig(err))
	})
}

func TestApplyOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("GVMSCAN_GMP_USERNAME", "admin")
	t.Setenv("GVMSCAN_GMP_TRANSPORT", "socket")
	t.Setenv("GVMSCAN_SCAN_TIMEOUT", "90m")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg := config.Default()
	applyOverrides(cfg)

	assert.Equal(t, "admin", cfg.GMP.Username)
	assert.Equal(t, config.TransportSocket, cfg.GMP.Transport)
	assert.Equal(t, 90*time.Minute, cfg.Scan.Timeout)
	assert.Equal(t, "gvm-cli", cfg.GMP.CLI.Binary)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitConfigError, exitCode(errors.ErrConfigMissing("target")))
	assert.Equal(t, exitFailure, exitCode(errors.NewTransportError("get_tasks", "boom", nil)))
	assert.Equal(t, exitFailure, exitCode(assert.AnError))
}

func TestCatalogTables(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, renderProfiles(&buf))
	assert.Contains(t, buf.String(), "Full and fast")
	assert.Contains(t, buf.String(), "daba56c8-73ec-11df-a475-002264764cea")

	buf.Reset()
	require.NoError(t, renderReportFormats(&buf))
	assert.Contains(t, buf.String(), "PDF")
	assert.Contains(t, buf.String(), "base64")

	buf.Reset()
	require.NoError(t, renderAliveTests(&buf))
	assert.Contains(t, buf.String(), "Consider Alive")
}

func TestRenderRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRuns(&buf, nil))
	assert.Equal(t, "No scan runs recorded.\n", buf.String())

	buf.Reset()
	require.NoError(t, renderRuns(&buf, []orchestrator.Snapshot{{
		RunID:     "0123456789abcdef",
		Target:    "192.0.2.10",
		State:     orchestrator.StateDone,
		Progress:  100,
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}))
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "2026-03-01 12:00")
	assert.Contains(t, out, "100%")
}

type staticRepo struct {
	objects map[gmp.Kind][]gmp.Object
}

func (r staticRepo) List(_ context.Context, kind gmp.Kind) ([]gmp.Object, error) {
	return r.objects[kind], nil
}

func (r staticRepo) Delete(context.Context, gmp.Kind, string) error { return nil }

func TestCleanupOutput(t *testing.T) {
	repo := staticRepo{objects: map[gmp.Kind][]gmp.Object{
		gmp.KindTask:   {{ID: "task-1", Name: "gvmscan-01234567", Kind: gmp.KindTask}},
		gmp.KindTarget: {{ID: "target-1", Name: "gvmscan-01234567", Kind: gmp.KindTarget}},
	}}

	var buf bytes.Buffer
	require.NoError(t, listObjects(context.Background(), repo, &buf))
	assert.Contains(t, buf.String(), "task-1")
	assert.Contains(t, buf.String(), "target-1")

	buf.Reset()
	result := cleanup.NewCoordinator(repo, logging.NewDiscard(), nil).Cleanup(context.Background())
	printCleanupResult(&buf, result)
	assert.Equal(t, "Deleted 1 tasks and 1 targets.\n", buf.String())

	buf.Reset()
	printCleanupResult(&buf, &cleanup.Result{
		Absent:   []gmp.Object{{ID: "x", Kind: gmp.KindTask}},
		Failures: []cleanup.Failure{{Kind: gmp.KindTarget, ID: "t", Err: assert.AnError}},
	})
	assert.Contains(t, buf.String(), "1 objects were already gone.")
	assert.Contains(t, buf.String(), "Failed: delete target t")
}

func TestLimitsCommand(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	resetFlags(t, limitsCmd)
	t.Cleanup(func() { cfgFile = "" })

	orig := scannerFs
	scannerFs = afero.NewMemMapFs()
	t.Cleanup(func() { scannerFs = orig })

	require.NoError(t, afero.WriteFile(scannerFs, "/etc/openvas/openvassd.conf", []byte("max_hosts = 30\n"), 0o644))

	dir := t.TempDir()
	path := filepath.Join(dir, "gvmscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  output: stderr\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	rootCmd.SetArgs([]string{"limits", "--config", path, "-c", "4"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	got, err := afero.ReadFile(scannerFs, "/etc/openvas/openvassd.conf")
	require.NoError(t, err)
	assert.Equal(t, "max_hosts = 30\nmax_checks = 4\n", string(got))
	assert.Contains(t, out.String(), "max_hosts:  30")
	assert.Contains(t, out.String(), "max_checks: 4")
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc", "today")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "gvmscan 1.2.3 (commit: abc, built: today)\n", out.String())
}
