// Package profiles provides the fixed catalogues gvmscan accepts as input:
// scan configuration profiles, report formats and alive tests. Entries are
// the built-in objects every scanner daemon installation ships with.
package profiles

import (
	"sort"
	"strings"

	"github.com/anstrom/gvmscan/internal/errors"
)

// Encoding describes how the daemon transfers report content of a format.
type Encoding string

const (
	// EncodingInline formats arrive as a nested XML document.
	EncodingInline Encoding = "inline"
	// EncodingBase64 formats arrive as base64 text inside the report element.
	EncodingBase64 Encoding = "base64"
)

// Profile is a named scan configuration.
type Profile struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ReportFormat is a named report export format.
type ReportFormat struct {
	Name      string   `json:"name"`
	ID        string   `json:"id"`
	Extension string   `json:"extension"`
	Encoding  Encoding `json:"encoding"`
}

// Inline reports whether the format content is written without decoding.
func (f ReportFormat) Inline() bool {
	return f.Encoding == EncodingInline
}

var scanProfiles = []Profile{
	{Name: "Discovery", ID: "8715c877-47a0-438d-98a3-27c7a6ab2196"},
	{Name: "Empty", ID: "085569ce-73ed-11df-83c3-002264764cea"},
	{Name: "Full and fast", ID: "daba56c8-73ec-11df-a475-002264764cea"},
	{Name: "Full and fast ultimate", ID: "698f691e-7489-11df-9d8c-002264764cea"},
	{Name: "Full and very deep", ID: "708f25c4-7489-11df-8094-002264764cea"},
	{Name: "Full and very deep ultimate", ID: "74db13d6-7489-11df-91b9-002264764cea"},
	{Name: "Host Discovery", ID: "2d3f051c-55ba-11e3-bf43-406186ea4fc5"},
	{Name: "System Discovery", ID: "bbca7412-a950-11e3-9109-406186ea4fc5"},
}

var reportFormats = []ReportFormat{
	{Name: "Anonymous XML", ID: "5057e5cc-b825-11e4-9d0e-28d24461215b", Extension: "xml", Encoding: EncodingInline},
	{Name: "ARF", ID: "910200ca-dc05-11e1-954f-406186ea4fc5", Extension: "xml", Encoding: EncodingInline},
	{Name: "CPE", ID: "5ceff8ba-1f62-11e1-ab9f-406186ea4fc5", Extension: "csv", Encoding: EncodingBase64},
	{Name: "CSV Hosts", ID: "9087b18c-626c-11e3-8892-406186ea4fc5", Extension: "csv", Encoding: EncodingBase64},
	{Name: "CSV Results", ID: "c1645568-627a-11e3-a660-406186ea4fc5", Extension: "csv", Encoding: EncodingBase64},
	{Name: "HTML", ID: "6c248850-1f62-11e1-b082-406186ea4fc5", Extension: "html", Encoding: EncodingBase64},
	{Name: "ITG", ID: "77bd6c4a-1f62-11e1-abf0-406186ea4fc5", Extension: "csv", Encoding: EncodingBase64},
	{Name: "LaTeX", ID: "a684c02c-b531-11e1-bdc2-406186ea4fc5", Extension: "tex", Encoding: EncodingBase64},
	{Name: "NBE", ID: "9ca6fe72-1f62-11e1-9e7c-406186ea4fc5", Extension: "nbe", Encoding: EncodingBase64},
	{Name: "PDF", ID: "c402cc3e-b531-11e1-9163-406186ea4fc5", Extension: "pdf", Encoding: EncodingBase64},
	{Name: "Topology SVG", ID: "9e5e5deb-879e-4ecc-8be6-a71cd0875cdd", Extension: "svg", Encoding: EncodingBase64},
	{Name: "TXT", ID: "a3810a62-1f62-11e1-9219-406186ea4fc5", Extension: "txt", Encoding: EncodingBase64},
	{Name: "Verinice ISM", ID: "c15ad349-bd8d-457a-880a-c7056532ee15", Extension: "vna", Encoding: EncodingBase64},
	{Name: "Verinice ITG", ID: "50c9950a-f326-11e4-800c-28d24461215b", Extension: "vna", Encoding: EncodingBase64},
	{Name: "XML", ID: "a994b278-1f62-11e1-96ac-406186ea4fc5", Extension: "xml", Encoding: EncodingInline},
}

var aliveTests = []string{
	"Scan Config Default",
	"ICMP, TCP-ACK Service & ARP Ping",
	"TCP-ACK Service & ARP Ping",
	"ICMP & ARP Ping",
	"ICMP & TCP-ACK Service Ping",
	"ARP Ping",
	"TCP-ACK Service Ping",
	"TCP-SYN Service Ping",
	"ICMP Ping",
	"Consider Alive",
}

// Profiles returns the scan profiles sorted by name.
func Profiles() []Profile {
	out := append([]Profile(nil), scanProfiles...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReportFormats returns the report formats sorted by name.
func ReportFormats() []ReportFormat {
	out := append([]ReportFormat(nil), reportFormats...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AliveTests returns the accepted alive test names in catalogue order.
func AliveTests() []string {
	return append([]string(nil), aliveTests...)
}

// LookupProfile resolves a profile by name or ID.
func LookupProfile(nameOrID string) (Profile, error) {
	for _, p := range scanProfiles {
		if p.Name == nameOrID || strings.EqualFold(p.ID, nameOrID) {
			return p, nil
		}
	}
	return Profile{}, errors.ErrConfigInvalid("profile", nameOrID)
}

// LookupReportFormat resolves a report format by name or ID.
func LookupReportFormat(nameOrID string) (ReportFormat, error) {
	for _, f := range reportFormats {
		if f.Name == nameOrID || strings.EqualFold(f.ID, nameOrID) {
			return f, nil
		}
	}
	return ReportFormat{}, errors.ErrConfigInvalid("report_format", nameOrID)
}

// ReportFormatByID resolves a report format by its daemon ID only.
func ReportFormatByID(id string) (ReportFormat, bool) {
	for _, f := range reportFormats {
		if strings.EqualFold(f.ID, id) {
			return f, true
		}
	}
	return ReportFormat{}, false
}

// IsProfileID reports whether id names a catalogued scan profile.
func IsProfileID(id string) bool {
	for _, p := range scanProfiles {
		if strings.EqualFold(p.ID, id) {
			return true
		}
	}
	return false
}

// IsAliveTest reports whether name is an accepted alive test.
func IsAliveTest(name string) bool {
	for _, a := range aliveTests {
		if a == name {
			return true
		}
	}
	return false
}

// LookupAliveTest validates an alive test name.
func LookupAliveTest(name string) (string, error) {
	if !IsAliveTest(name) {
		return "", errors.ErrConfigInvalid("alive_test", name)
	}
	return name, nil
}
