// Package config loads and validates the gvmscan configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/gvmscan/internal/db"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/profiles"
)

// Transport names accepted by gmp.transport.
const (
	TransportCLI    = "cli"
	TransportSocket = "socket"
	TransportTLS    = "tls"
)

const (
	defaultPollInterval      = 10 * time.Second
	defaultMaxPollInterval   = 2 * time.Minute
	defaultBackoffMultiplier = 2.0
	defaultAPIPort           = 9393
	maxPort                  = 65535
)

// Config represents the complete gvmscan configuration
type Config struct {
	// Scanner manager connection
	GMP GMPConfig `yaml:"gmp" json:"gmp"`

	// Scanner daemon settings
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Scan defaults
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Metrics export
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Live status endpoint
	API APIConfig `yaml:"api" json:"api"`

	// Run history database
	Database DatabaseConfig `yaml:"database" json:"database"`
}

// GMPConfig holds the settings for the management protocol channel
type GMPConfig struct {
	// Transport used to reach the manager: cli, socket or tls
	Transport string `yaml:"transport" json:"transport"`

	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// Unix socket of the manager daemon
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// TCP address of the manager daemon for the tls transport
	Address string `yaml:"address" json:"address"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`

	CLI CLIConfig `yaml:"cli" json:"cli"`

	// Echo every command and raw response to the debug log
	Debug bool `yaml:"debug" json:"debug"`
}

// CLIConfig holds settings for the external command-line client
type CLIConfig struct {
	Binary string `yaml:"binary" json:"binary"`

	// Optional user the client is executed as
	RunAs string `yaml:"run_as" json:"run_as"`
}

// ScannerConfig holds settings of the scanner daemon itself
type ScannerConfig struct {
	// Daemon configuration file receiving max_hosts and max_checks
	ConfigFile string `yaml:"config_file" json:"config_file"`
}

// ScanConfig holds defaults for a single scan run
type ScanConfig struct {
	Profile      string `yaml:"profile" json:"profile"`
	ReportFormat string `yaml:"report_format" json:"report_format"`
	AliveTest    string `yaml:"alive_test" json:"alive_test"`
	ReportDir    string `yaml:"report_dir" json:"report_dir"`
	ReportFile   string `yaml:"report_file" json:"report_file"`

	// Poll cadence and backoff on transport failures
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxPollInterval   time.Duration `yaml:"max_poll_interval" json:"max_poll_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// Overall poll deadline, zero disables it
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	PortListID string `yaml:"port_list_id" json:"port_list_id"`
	ScannerID  string `yaml:"scanner_id" json:"scanner_id"`

	// Prefix of target and task names created on the daemon
	NamePrefix string `yaml:"name_prefix" json:"name_prefix"`
}

// MetricsConfig holds prometheus export settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// node-exporter textfile written when a run ends
	Textfile string `yaml:"textfile" json:"textfile"`
}

// APIConfig holds status endpoint settings
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Port       int    `yaml:"port" json:"port"`
}

// DatabaseConfig enables the optional run history store
type DatabaseConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	db.Config `yaml:",inline" json:",inline"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		GMP: GMPConfig{
			Transport:  TransportCLI,
			SocketPath: "/run/gvmd/gvmd.sock",
			Address:    "127.0.0.1:9390",
			CLI: CLIConfig{
				Binary: "gvm-cli",
			},
		},
		Scanner: ScannerConfig{
			ConfigFile: "/etc/openvas/openvassd.conf",
		},
		Scan: ScanConfig{
			Profile:           "Full and fast",
			ReportFormat:      "PDF",
			AliveTest:         "ICMP, TCP-ACK Service & ARP Ping",
			ReportDir:         "/reports",
			ReportFile:        "openvas.report",
			PollInterval:      defaultPollInterval,
			MaxPollInterval:   defaultMaxPollInterval,
			BackoffMultiplier: defaultBackoffMultiplier,
			NamePrefix:        "gvmscan",
		},
		Logging: logging.DefaultConfig(),
		API: APIConfig{
			ListenAddr: "127.0.0.1",
			Port:       defaultAPIPort,
		},
		Database: DatabaseConfig{
			Config: db.DefaultConfig(),
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateGMP(); err != nil {
		return err
	}
	if err := c.validateScan(); err != nil {
		return err
	}

	if c.Scanner.ConfigFile == "" {
		return errors.ErrConfigMissing("scanner.config_file")
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > maxPort {
			return errors.ErrConfigInvalid("api.port", c.API.Port)
		}
		if c.API.ListenAddr == "" {
			return errors.ErrConfigMissing("api.listen_addr")
		}
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return errors.ErrConfigMissing("database.host")
		}
		if c.Database.Database == "" {
			return errors.ErrConfigMissing("database.database")
		}
		if c.Database.Username == "" {
			return errors.ErrConfigMissing("database.username")
		}
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	if c.Logging.Format != logging.FormatText && c.Logging.Format != logging.FormatJSON {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateGMP() error {
	switch c.GMP.Transport {
	case TransportCLI:
		if c.GMP.CLI.Binary == "" {
			return errors.ErrConfigMissing("gmp.cli.binary")
		}
	case TransportSocket:
		if c.GMP.SocketPath == "" {
			return errors.ErrConfigMissing("gmp.socket_path")
		}
	case TransportTLS:
		if c.GMP.Address == "" {
			return errors.ErrConfigMissing("gmp.address")
		}
	default:
		return errors.ErrConfigInvalid("gmp.transport", c.GMP.Transport)
	}
	return nil
}

func (c *Config) validateScan() error {
	s := c.Scan
	if _, err := profiles.LookupProfile(s.Profile); err != nil {
		return err
	}
	if _, err := profiles.LookupReportFormat(s.ReportFormat); err != nil {
		return err
	}
	if _, err := profiles.LookupAliveTest(s.AliveTest); err != nil {
		return err
	}
	if s.PollInterval <= 0 {
		return errors.ErrConfigInvalid("scan.poll_interval", s.PollInterval)
	}
	if s.MaxPollInterval < s.PollInterval {
		return errors.ErrConfigInvalid("scan.max_poll_interval", s.MaxPollInterval)
	}
	if s.BackoffMultiplier < 1 {
		return errors.ErrConfigInvalid("scan.backoff_multiplier", s.BackoffMultiplier)
	}
	if s.Timeout < 0 {
		return errors.ErrConfigInvalid("scan.timeout", s.Timeout)
	}
	if s.NamePrefix == "" {
		return errors.ErrConfigMissing("scan.name_prefix")
	}
	return nil
}

// ReportPath returns the default report destination.
func (c *Config) ReportPath() string {
	return filepath.Join(c.Scan.ReportDir, c.Scan.ReportFile)
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
