// Package apperr defines the error taxonomy shared by the API and the
// orchestrators. Every error carries a short machine code; assessment
// failures persist that code as error_type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Type string

const (
	TypeValidation  Type = "validation_error"
	TypeNotFound    Type = "not_found"
	TypeConflict    Type = "conflict"
	TypeAcquisition Type = "acquisition_error"
	TypeExecution   Type = "execution_error"
	TypeIntegrity   Type = "integrity_error"
	TypeInternal    Type = "internal_error"
)

const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeDuplicateIdempotency   = "DUPLICATE_IDEMPOTENCY_KEY"
	CodeRunInProgress          = "RUN_IN_PROGRESS"
	CodeCloneFailed            = "CLONE_FAILED"
	CodeTargetUnreachable      = "TARGET_UNREACHABLE"
	CodeAgentExecutionFailed   = "AGENT_EXECUTION_FAILED"
	CodeScanError              = "SCAN_ERROR"
	CodeDataIntegrityViolation = "DATA_INTEGRITY_VIOLATION"
	CodeInternal               = "INTERNAL_ERROR"
)

type Error struct {
	Type    Type
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Type: TypeValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...), Status: http.StatusUnprocessableEntity}
}

// NotFound builds e.g. ASSESSMENT_NOT_FOUND for resource "Assessment".
func NotFound(resource, id string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Code:    upper(resource) + "_NOT_FOUND",
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
		Status:  http.StatusNotFound,
	}
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Type: TypeConflict, Code: code, Message: fmt.Sprintf(format, args...), Status: http.StatusConflict}
}

func CloneFailed(repoURL, detail string) *Error {
	return &Error{
		Type:    TypeAcquisition,
		Code:    CodeCloneFailed,
		Message: fmt.Sprintf("Failed to clone %s: %s", repoURL, detail),
		Status:  http.StatusBadGateway,
	}
}

func TargetUnreachable(targetURL, detail string) *Error {
	return &Error{
		Type:    TypeAcquisition,
		Code:    CodeTargetUnreachable,
		Message: fmt.Sprintf("Cannot reach %s: %s", targetURL, detail),
		Status:  http.StatusBadGateway,
	}
}

func Execution(code, format string, args ...any) *Error {
	return &Error{Type: TypeExecution, Code: code, Message: fmt.Sprintf(format, args...), Status: http.StatusInternalServerError}
}

func Integrity(err error, format string, args ...any) *Error {
	return &Error{
		Type:    TypeIntegrity,
		Code:    CodeDataIntegrityViolation,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Internal(err error) *Error {
	return &Error{Type: TypeInternal, Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// As returns the *Error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the machine code for a failed run. Errors outside the
// taxonomy are reported as SCAN_ERROR.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeScanError
}

// MessageOf returns the human part of err without the code prefix.
func MessageOf(err error) string {
	if e, ok := As(err); ok {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
