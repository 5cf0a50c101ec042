// Package report writes fetched scan reports to durable storage.
package report

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/metrics"
	"github.com/anstrom/gvmscan/internal/profiles"
)

const (
	reportDirPerm  = 0o750
	reportFilePerm = 0o640
)

// Materializer decodes report payloads and writes them to a filesystem.
type Materializer struct {
	fs      afero.Fs
	metrics *metrics.PrometheusMetrics
}

// NewMaterializer creates a materializer on fs. m may be nil.
func NewMaterializer(fs afero.Fs, m *metrics.PrometheusMetrics) *Materializer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Materializer{fs: fs, metrics: m}
}

// Decode turns a raw payload into file content. The transfer encoding comes
// from the static format table: inline formats are returned unchanged,
// everything else is base64 decoded.
func Decode(raw []byte, formatID string) ([]byte, error) {
	format, ok := profiles.ReportFormatByID(formatID)
	if !ok {
		return nil, errors.ErrConfigInvalid("report_format", formatID)
	}
	if format.Inline() {
		return raw, nil
	}

	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, string(raw))

	content, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, errors.ErrMalformedResponse("get_reports", err)
	}
	return content, nil
}

// Save writes raw to path after applying the format's transfer encoding.
// The file is replaced as a whole.
func (m *Materializer) Save(path string, raw []byte, formatID string) error {
	content, err := Decode(raw, formatID)
	if err != nil {
		return err
	}
	return m.write(path, content, formatID)
}

// SaveReport writes a report element returned by the daemon.
func (m *Materializer) SaveReport(path string, r *gmp.Report, formatID string) error {
	format, ok := profiles.ReportFormatByID(formatID)
	if !ok {
		return errors.ErrConfigInvalid("report_format", formatID)
	}
	if format.Inline() {
		return m.write(path, r.Document(), formatID)
	}
	if r.Text == "" {
		return errors.ErrMissingField("get_reports", "report/text()")
	}
	return m.Save(path, []byte(r.Text), formatID)
}

func (m *Materializer) write(path string, content []byte, formatID string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := m.fs.MkdirAll(dir, reportDirPerm); err != nil {
			return &errors.ScanError{
				Code:    errors.CodeDirectoryCreate,
				Message: "Failed to create report directory",
				Cause:   err,
			}
		}
	}

	if err := afero.WriteFile(m.fs, path, content, os.FileMode(reportFilePerm)); err != nil {
		return &errors.ScanError{
			Code:    errors.CodeFileWrite,
			Message: "Failed to write report",
			Cause:   err,
		}
	}

	name := formatID
	if f, ok := profiles.ReportFormatByID(formatID); ok {
		name = f.Name
	}
	m.metrics.RecordReportBytes(name, len(content))
	return nil
}
