package report

import (
	"encoding/base64"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp"
	"github.com/anstrom/gvmscan/internal/profiles"
)

const (
	pdfID = "c402cc3e-b531-11e1-9163-406186ea4fc5"
	txtID = "a3810a62-1f62-11e1-9219-406186ea4fc5"
	xmlID = "a994b278-1f62-11e1-96ac-406186ea4fc5"
)

func TestSave_MatchesOutOfBandDecodingForEveryFormat(t *testing.T) {
	content := []byte("%PDF-1.4\x00\x01binary\nline two")
	encoded := base64.StdEncoding.EncodeToString(content)

	for _, f := range profiles.ReportFormats() {
		t.Run(f.Name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			m := NewMaterializer(fs, nil)

			raw := []byte(encoded)
			want := content
			if f.Inline() {
				raw = []byte(`<report id="r"><results/></report>`)
				want = raw
			}

			require.NoError(t, m.Save("/reports/openvas.report", raw, f.ID))

			got, err := afero.ReadFile(fs, "/reports/openvas.report")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSave_StripsLineBreaksFromPayload(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewMaterializer(fs, nil)

	require.NoError(t, m.Save("out.txt", []byte("aGVsbG8g\r\nd29y\nbGQ=\n"), txtID))

	got, err := afero.ReadFile(fs, "out.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestSave_OverwritesExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/reports/r.txt", []byte("an older and much longer report"), 0o640))

	m := NewMaterializer(fs, nil)
	require.NoError(t, m.Save("/reports/r.txt", []byte(base64.StdEncoding.EncodeToString([]byte("new"))), txtID))

	got, err := afero.ReadFile(fs, "/reports/r.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestSave_Errors(t *testing.T) {
	t.Run("invalid base64 is a protocol error", func(t *testing.T) {
		m := NewMaterializer(afero.NewMemMapFs(), nil)
		err := m.Save("r.pdf", []byte("not base64!"), pdfID)
		assert.True(t, errors.IsProtocol(err))
	})

	t.Run("unknown format", func(t *testing.T) {
		m := NewMaterializer(afero.NewMemMapFs(), nil)
		err := m.Save("r", []byte("x"), "unknown")
		assert.True(t, errors.IsConfig(err))
	})

	t.Run("read only filesystem", func(t *testing.T) {
		m := NewMaterializer(afero.NewReadOnlyFs(afero.NewMemMapFs()), nil)
		err := m.Save("/reports/r.xml", []byte("<report/>"), xmlID)
		require.Error(t, err)
		assert.Equal(t, errors.CodeDirectoryCreate, errors.GetCode(err))
	})
}

func TestSaveReport(t *testing.T) {
	t.Run("inline format writes the rebuilt document", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		m := NewMaterializer(fs, nil)
		r := &gmp.Report{ID: "r-1", FormatID: xmlID, Extension: "xml", ContentType: "text/xml", InnerXML: "<results/>"}

		require.NoError(t, m.SaveReport("/reports/openvas.report", r, xmlID))

		got, err := afero.ReadFile(fs, "/reports/openvas.report")
		require.NoError(t, err)
		assert.Equal(t, string(r.Document()), string(got))
	})

	t.Run("encoded format decodes text", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		m := NewMaterializer(fs, nil)
		r := &gmp.Report{ID: "r-1", Text: base64.StdEncoding.EncodeToString([]byte("%PDF"))}

		require.NoError(t, m.SaveReport("/reports/openvas.report", r, pdfID))

		got, err := afero.ReadFile(fs, "/reports/openvas.report")
		require.NoError(t, err)
		assert.Equal(t, "%PDF", string(got))
	})

	t.Run("empty payload", func(t *testing.T) {
		m := NewMaterializer(afero.NewMemMapFs(), nil)
		err := m.SaveReport("r.pdf", &gmp.Report{ID: "r-1"}, pdfID)
		assert.True(t, errors.IsProtocol(err))
	})
}
