// Package errors provides structured error handling for gvmscan operations.
// It defines error codes and the error taxonomy used across the command
// channel, the object repository, and the scan orchestrator.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// Daemon communication errors.
	CodeTransport ErrorCode = "TRANSPORT"
	CodeProtocol  ErrorCode = "PROTOCOL"
	CodeNotFound  ErrorCode = "NOT_FOUND"
	CodeRejected  ErrorCode = "REJECTED"

	// Orchestration errors.
	CodeScanFailed ErrorCode = "SCAN_FAILED"

	// File system errors.
	CodeFileWrite       ErrorCode = "FILE_WRITE"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
)

// TransportError reports that a command could not be delivered to the
// daemon or that the delivering process failed.
type TransportError struct {
	Code    ErrorCode
	Message string
	Command string
	Output  string
	Cause   error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Command != "" {
		msg += fmt.Sprintf(" (command: %s)", e.Command)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// WithOutput attaches the raw process output to the error.
func (e *TransportError) WithOutput(output string) *TransportError {
	e.Output = output
	return e
}

// NewTransportError wraps a channel failure for the named command.
func NewTransportError(command, message string, err error) *TransportError {
	return &TransportError{
		Code:    CodeTransport,
		Message: message,
		Command: command,
		Cause:   err,
	}
}

// ProtocolError reports a daemon reply that lacks an expected field, cannot
// be parsed, or carries a non-success status.
type ProtocolError struct {
	Code       ErrorCode
	Message    string
	Command    string
	Field      string
	Status     string
	StatusText string
	Cause      error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	switch {
	case e.Field != "":
		msg += fmt.Sprintf(" (command: %s, field: %s)", e.Command, e.Field)
	case e.Status != "":
		msg += fmt.Sprintf(" (command: %s, status: %s %s)", e.Command, e.Status, e.StatusText)
	case e.Command != "":
		msg += fmt.Sprintf(" (command: %s)", e.Command)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// ErrMissingField creates a protocol error for a reply without an expected field.
func ErrMissingField(command, field string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeProtocol,
		Message: "Response is missing an expected field",
		Command: command,
		Field:   field,
	}
}

// ErrMalformedResponse creates a protocol error for an unparsable reply.
func ErrMalformedResponse(command string, err error) *ProtocolError {
	return &ProtocolError{
		Code:    CodeProtocol,
		Message: "Malformed response document",
		Command: command,
		Cause:   err,
	}
}

// ErrCommandStatus creates a protocol error for a non-success daemon status.
// A 404 status maps to CodeNotFound so callers can treat absent objects as
// already handled.
func ErrCommandStatus(command, status, statusText string) *ProtocolError {
	code := CodeRejected
	if status == "404" {
		code = CodeNotFound
	}
	return &ProtocolError{
		Code:       code,
		Message:    "Command rejected by daemon",
		Command:    command,
		Status:     status,
		StatusText: statusText,
	}
}

// ScanError represents a failure of a whole orchestration run.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	State   string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target: %s)", e.Target)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, operation string, err error) *DatabaseError {
	return &DatabaseError{
		Code:      code,
		Message:   "Database operation failed",
		Operation: operation,
		Cause:     err,
	}
}

// ConfigError represents configuration-related errors. It is raised before
// any daemon interaction begins.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s, value: %v)", e.Code, e.Message, e.Field, e.Value)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var (
		transportErr *TransportError
		protocolErr  *ProtocolError
		scanErr      *ScanError
		configErr    *ConfigError
		databaseErr  *DatabaseError
	)
	switch {
	case stderrors.As(err, &scanErr):
		return scanErr.Code
	case stderrors.As(err, &transportErr):
		return transportErr.Code
	case stderrors.As(err, &protocolErr):
		return protocolErr.Code
	case stderrors.As(err, &configErr):
		return configErr.Code
	case stderrors.As(err, &databaseErr):
		return databaseErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsTransport reports whether the chain contains a TransportError.
func IsTransport(err error) bool {
	var transportErr *TransportError
	return stderrors.As(err, &transportErr)
}

// IsProtocol reports whether the chain contains a ProtocolError of any code.
func IsProtocol(err error) bool {
	var protocolErr *ProtocolError
	return stderrors.As(err, &protocolErr)
}

// IsNotFound reports whether the daemon answered that the object is absent.
func IsNotFound(err error) bool {
	var protocolErr *ProtocolError
	return stderrors.As(err, &protocolErr) && protocolErr.Code == CodeNotFound
}

// IsConfig reports whether the chain contains a ConfigError.
func IsConfig(err error) bool {
	var configErr *ConfigError
	return stderrors.As(err, &configErr)
}

// IsRetryable determines if an error indicates a transient condition.
func IsRetryable(err error) bool {
	return IsTransport(err)
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsRetryable(err)
}

// Common error creation functions

// ErrConfigInvalid creates an error for an invalid configuration value.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}

// ErrScanTimeout creates an error for a run whose poll loop exceeded its deadline.
func ErrScanTimeout(target string, cause error) *ScanError {
	return WrapScanErrorWithTarget(CodeTimeout, "Scan did not finish before the deadline", target, cause)
}

// ErrScanCanceled creates an error for a run interrupted from outside.
func ErrScanCanceled(target string, cause error) *ScanError {
	return WrapScanErrorWithTarget(CodeCanceled, "Scan was interrupted", target, cause)
}
