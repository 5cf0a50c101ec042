package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/gvmscan/internal/errors"
)

func TestLookupProfile(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantID    string
		expectErr bool
	}{
		{name: "by name", input: "Full and fast", wantID: "daba56c8-73ec-11df-a475-002264764cea"},
		{name: "by id", input: "708f25c4-7489-11df-8094-002264764cea", wantID: "708f25c4-7489-11df-8094-002264764cea"},
		{name: "by upper case id", input: "2D3F051C-55BA-11E3-BF43-406186EA4FC5", wantID: "2d3f051c-55ba-11e3-bf43-406186ea4fc5"},
		{name: "names are case sensitive", input: "full and fast", expectErr: true},
		{name: "unknown", input: "Very fast", expectErr: true},
		{name: "empty", input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LookupProfile(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfig(err))
				assert.Equal(t, errors.CodeConfiguration, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestLookupReportFormat(t *testing.T) {
	pdf, err := LookupReportFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, "c402cc3e-b531-11e1-9163-406186ea4fc5", pdf.ID)
	assert.False(t, pdf.Inline())

	xml, err := LookupReportFormat("a994b278-1f62-11e1-96ac-406186ea4fc5")
	require.NoError(t, err)
	assert.Equal(t, "XML", xml.Name)
	assert.True(t, xml.Inline())

	_, err = LookupReportFormat("DOCX")
	assert.True(t, errors.IsConfig(err))
}

func TestReportFormatEncodingTable(t *testing.T) {
	inline := map[string]bool{"XML": true, "Anonymous XML": true, "ARF": true}

	formats := ReportFormats()
	require.Len(t, formats, 15)
	for _, f := range formats {
		t.Run(f.Name, func(t *testing.T) {
			assert.Equal(t, inline[f.Name], f.Inline())
			byID, ok := ReportFormatByID(f.ID)
			require.True(t, ok)
			assert.Equal(t, f, byID)
		})
	}

	_, ok := ReportFormatByID("00000000-0000-0000-0000-000000000000")
	assert.False(t, ok)
}

func TestAliveTests(t *testing.T) {
	assert.Len(t, AliveTests(), 10)
	assert.True(t, IsAliveTest("ICMP, TCP-ACK Service & ARP Ping"))
	assert.True(t, IsAliveTest("Consider Alive"))
	assert.False(t, IsAliveTest("consider alive"))

	_, err := LookupAliveTest("UDP Ping")
	assert.True(t, errors.IsConfig(err))
}

func TestCatalogueListingsAreSortedCopies(t *testing.T) {
	list := Profiles()
	require.Len(t, list, 8)
	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1].Name, list[i].Name)
	}

	list[0].ID = "changed"
	assert.NotEqual(t, "changed", Profiles()[0].ID)
	assert.True(t, IsProfileID("bbca7412-a950-11e3-9109-406186ea4fc5"))
}
