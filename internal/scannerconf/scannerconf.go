// Package scannerconf edits the scanner daemon configuration file.
package scannerconf

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
)

const (
	keyMaxHosts  = "max_hosts"
	keyMaxChecks = "max_checks"

	defaultFilePerm = 0o644
)

// Limits bounds how much work the scanner daemon does at once. Nil fields
// leave the daemon setting untouched.
type Limits struct {
	// MaxHosts is the number of hosts scanned simultaneously.
	MaxHosts *int `json:"max_hosts,omitempty" validate:"omitempty,gt=0"`
	// MaxChecks is the number of checks run simultaneously against each host.
	MaxChecks *int `json:"max_checks,omitempty" validate:"omitempty,gt=0"`
}

// Empty reports whether no limit is set.
func (l Limits) Empty() bool {
	return l.MaxHosts == nil && l.MaxChecks == nil
}

// Validate rejects non-positive limits.
func (l Limits) Validate() error {
	if l.MaxHosts != nil && *l.MaxHosts <= 0 {
		return errors.ErrConfigInvalid(keyMaxHosts, *l.MaxHosts)
	}
	if l.MaxChecks != nil && *l.MaxChecks <= 0 {
		return errors.ErrConfigInvalid(keyMaxChecks, *l.MaxChecks)
	}
	return nil
}

func (l Limits) settings() [][2]string {
	var out [][2]string
	if l.MaxHosts != nil {
		out = append(out, [2]string{keyMaxHosts, fmt.Sprint(*l.MaxHosts)})
	}
	if l.MaxChecks != nil {
		out = append(out, [2]string{keyMaxChecks, fmt.Sprint(*l.MaxChecks)})
	}
	return out
}

// Writer rewrites settings in a "key = value" configuration file.
type Writer struct {
	fs     afero.Fs
	path   string
	logger *logging.Logger
}

// NewWriter creates a writer for the file at path.
func NewWriter(fs afero.Fs, path string, logger *logging.Logger) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Writer{fs: fs, path: path, logger: logger.WithComponent("scannerconf")}
}

// Apply writes the limits into the configuration file. Existing lines for a
// key are replaced in place, missing keys are appended. A missing file is
// created.
func (w *Writer) Apply(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	if limits.Empty() {
		return nil
	}

	data, perm, err := w.read()
	if err != nil {
		return err
	}

	out := rewrite(data, limits.settings())

	if err := afero.WriteFile(w.fs, w.path, out, perm); err != nil {
		return errors.WrapConfigError(errors.CodeFileWrite, "failed to write scanner configuration", err)
	}

	for _, kv := range limits.settings() {
		w.logger.Info("Updated scanner setting", "file", w.path, "key", kv[0], "value", kv[1])
	}
	return nil
}

// Read returns the current limits found in the file.
func (w *Writer) Read() (Limits, error) {
	data, _, err := w.read()
	if err != nil {
		return Limits{}, err
	}

	var limits Limits
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		var n int
		if _, err := fmt.Sscan(value, &n); err != nil {
			continue
		}
		switch key {
		case keyMaxHosts:
			limits.MaxHosts = &n
		case keyMaxChecks:
			limits.MaxChecks = &n
		}
	}
	return limits, scanner.Err()
}

func (w *Writer) read() ([]byte, os.FileMode, error) {
	info, err := w.fs.Stat(w.path)
	if os.IsNotExist(err) {
		return nil, defaultFilePerm, nil
	}
	if err != nil {
		return nil, 0, errors.WrapConfigError(errors.CodeConfiguration, "failed to stat scanner configuration", err)
	}

	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		return nil, 0, errors.WrapConfigError(errors.CodeConfiguration, "failed to read scanner configuration", err)
	}
	return data, info.Mode().Perm(), nil
}

// rewrite replaces or appends "key = value" lines.
func rewrite(data []byte, settings [][2]string) []byte {
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}

	for _, kv := range settings {
		replaced := false
		for i, line := range lines {
			if key, _, ok := parseLine(line); ok && key == kv[0] {
				lines[i] = kv[0] + " = " + kv[1]
				replaced = true
			}
		}
		if !replaced {
			lines = append(lines, kv[0]+" = "+kv[1])
		}
	}

	return []byte(strings.Join(lines, "\n") + "\n")
}

func parseLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	key, value, ok = strings.Cut(trimmed, "=")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}
