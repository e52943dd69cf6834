// Package errors provides structured error handling for portaudit operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
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
	CodePermission    ErrorCode = "PERMISSION"

	// Network and scanning errors.
	CodeHostUnreachable   ErrorCode = "HOST_UNREACHABLE"
	CodeTargetInvalid     ErrorCode = "TARGET_INVALID"
	CodePortRangeInvalid  ErrorCode = "PORT_RANGE_INVALID"
	CodeEngineFailure     ErrorCode = "ENGINE_FAILURE"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// Report errors.
	CodeReportWrite     ErrorCode = "REPORT_WRITE"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"

	// Analysis service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	CodeCredentialsMissing ErrorCode = "CREDENTIALS_MISSING"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
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

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
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

// ReportError represents failures while persisting an audit artifact.
type ReportError struct {
	Code    ErrorCode
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *ReportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ReportError) Unwrap() error {
	return e.Cause
}

// WrapReportError wraps an existing error as a report error.
func WrapReportError(code ErrorCode, message, path string, err error) *ReportError {
	return &ReportError{
		Code:    code,
		Message: message,
		Path:    path,
		Cause:   err,
	}
}

// AnalysisError represents failures of the external analysis service.
type AnalysisError struct {
	Code    ErrorCode
	Message string
	Model   string
	Cause   error
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("[%s] %s (model: %s)", e.Code, e.Message, e.Model)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// NewAnalysisError creates a new analysis error.
func NewAnalysisError(code ErrorCode, message string) *AnalysisError {
	return &AnalysisError{
		Code:    code,
		Message: message,
	}
}

// WrapAnalysisError wraps an existing error as an analysis error.
func WrapAnalysisError(code ErrorCode, message, model string, err error) *AnalysisError {
	return &AnalysisError{
		Code:    code,
		Message: message,
		Model:   model,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
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
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
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
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var reportErr *ReportError
	if stderrors.As(err, &reportErr) {
		return reportErr.Code
	}
	var analysisErr *AnalysisError
	if stderrors.As(err, &analysisErr) {
		return analysisErr.Code
	}
	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return configErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeServiceTimeout, CodeServiceUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeConfiguration, CodeCredentialsMissing, CodeEngineFailure:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrInvalidPortRange creates an error for an unusable port range.
func ErrInvalidPortRange(spec string) *ScanError {
	return NewScanError(CodePortRangeInvalid, "Invalid port range").WithContext("ports", spec)
}

// ErrEngineFailure creates an error for scans that could not run to completion.
func ErrEngineFailure(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeEngineFailure, "Scan engine failure", target, err)
}

// ErrAnalysisUnavailable creates an error for a failed analysis request.
func ErrAnalysisUnavailable(model string, err error) *AnalysisError {
	return WrapAnalysisError(CodeServiceUnavailable, "Analysis service unavailable", model, err)
}

// ErrCredentialsMissing creates an error for a missing analysis API key.
func ErrCredentialsMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeCredentialsMissing, "Analysis credentials missing", field, nil)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
