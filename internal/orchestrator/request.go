package orchestrator

import (
	stderrors "errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/profiles"
	"github.com/anstrom/gvmscan/internal/scannerconf"
)

// ScanRequest describes one scan. Profile and ReportFormat accept a catalogue
// name or ID.
type ScanRequest struct {
	Target       string `json:"target" validate:"required"`
	ExcludeHosts string `json:"exclude_hosts"`
	AliveTest    string `json:"alive_test" validate:"required,alive_test"`
	Profile      string `json:"profile" validate:"required,scan_profile"`
	ReportFormat string `json:"report_format" validate:"required,report_format"`
	OutputPath   string `json:"output_path" validate:"required"`

	// Optional daemon object references
	PortListID string `json:"port_list_id"`
	ScannerID  string `json:"scanner_id"`

	// Concurrency limits are written to the daemon configuration before the
	// run, they are carried here so they are validated with the rest.
	Limits scannerconf.Limits `json:"limits"`
}

// plan is a validated request with catalogue entries resolved.
type plan struct {
	ScanRequest
	profile profiles.Profile
	format  profiles.ReportFormat
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("alive_test", func(fl validator.FieldLevel) bool {
		return profiles.IsAliveTest(fl.Field().String())
	})
	_ = v.RegisterValidation("scan_profile", func(fl validator.FieldLevel) bool {
		_, err := profiles.LookupProfile(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("report_format", func(fl validator.FieldLevel) bool {
		_, err := profiles.LookupReportFormat(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks every field against the catalogues and limits. It returns
// a *errors.ConfigError for the first offending field.
func (r ScanRequest) Validate() error {
	_, err := r.resolve()
	return err
}

func (r ScanRequest) resolve() (*plan, error) {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			if fe.Tag() == "required" {
				return nil, errors.ErrConfigMissing(fe.Field())
			}
			return nil, errors.ErrConfigInvalid(fe.Field(), fe.Value())
		}
		return nil, errors.WrapConfigError(errors.CodeValidation, "invalid scan request", err)
	}

	profile, err := profiles.LookupProfile(r.Profile)
	if err != nil {
		return nil, err
	}
	format, err := profiles.LookupReportFormat(r.ReportFormat)
	if err != nil {
		return nil, err
	}

	return &plan{ScanRequest: r, profile: profile, format: format}, nil
}
