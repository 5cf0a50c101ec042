// Package cli provides the gvmscan command-line interface. It implements the
// Cobra command tree for running scans, cleaning the daemon namespace,
// listing catalogues, writing scanner limits and reading run history.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/gvmscan/internal/config"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
)

const (
	envPrefix = "GVMSCAN"

	exitFailure     = 1
	exitConfigError = 2
)

var (
	cfgFile string
	verbose bool
	debug   bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// Config keys that environment variables and flags may override after the
// file has been loaded.
var overridableKeys = []string{
	"gmp.transport",
	"gmp.username",
	"gmp.password",
	"gmp.socket_path",
	"gmp.address",
	"gmp.cli.binary",
	"gmp.cli.run_as",
	"gmp.debug",
	"scanner.config_file",
	"scan.report_dir",
	"scan.timeout",
	"logging.level",
	"database.password",
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gvmscan",
	Short: "Vulnerability scan orchestrator for the Greenbone manager",
	Long: `gvmscan drives one vulnerability scan through the Greenbone management
daemon: it clears stale tasks and targets, provisions a target and task,
starts the scan, polls until it is done, saves the report and cleans up.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gvmscan.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "echo every manager command and response to the debug log")

	if err := viper.BindPFlag("gmp.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind debug flag: %v\n", err)
	}
}

// initConfig locates the config file and wires environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/gvmscan")
		viper.SetConfigType("yaml")
		viper.SetConfigName("gvmscan")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the config file, applies environment and flag overrides,
// validates the result and installs the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	initLogging(cfg)
	return cfg, nil
}

// getConfigFilePath returns the config file viper resolved, if any.
func getConfigFilePath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return cfgFile
}

func applyOverrides(cfg *config.Config) {
	for _, key := range overridableKeys {
		if !viper.IsSet(key) {
			continue
		}
		switch key {
		case "gmp.transport":
			cfg.GMP.Transport = viper.GetString(key)
		case "gmp.username":
			cfg.GMP.Username = viper.GetString(key)
		case "gmp.password":
			cfg.GMP.Password = viper.GetString(key)
		case "gmp.socket_path":
			cfg.GMP.SocketPath = viper.GetString(key)
		case "gmp.address":
			cfg.GMP.Address = viper.GetString(key)
		case "gmp.cli.binary":
			cfg.GMP.CLI.Binary = viper.GetString(key)
		case "gmp.cli.run_as":
			cfg.GMP.CLI.RunAs = viper.GetString(key)
		case "gmp.debug":
			cfg.GMP.Debug = viper.GetBool(key)
		case "scanner.config_file":
			cfg.Scanner.ConfigFile = viper.GetString(key)
		case "scan.report_dir":
			cfg.Scan.ReportDir = viper.GetString(key)
		case "scan.timeout":
			cfg.Scan.Timeout = viper.GetDuration(key)
		case "logging.level":
			cfg.Logging.Level = logging.LogLevel(viper.GetString(key))
		case "database.password":
			cfg.Database.Password = viper.GetString(key)
		}
	}
}

// initLogging initializes structured logging based on configuration.
func initLogging(cfg *config.Config) {
	logConfig := cfg.Logging
	if cfg.GMP.Debug || verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	if errors.IsConfig(err) {
		return exitConfigError
	}
	return exitFailure
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "gvmscan", getVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
