// Package errors provides custom error types and error handling utilities.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error codes.
const (
	// Input errors.
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeIO         = "IO_ERROR"
	CodeFormat     = "FORMAT_ERROR"

	// Processing errors.
	CodeComputation = "COMPUTATION_ERROR"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
	CodeRateLimited = "RATE_LIMITED"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// GRPCStatus returns the gRPC status for this error. grpc-go picks this up
// automatically when an AppError is returned from a handler.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *AppError) grpcCode() codes.Code {
	switch e.Code {
	case CodeValidation, CodeFormat:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeIO:
		return codes.FailedPrecondition
	case CodeRateLimited:
		return codes.ResourceExhausted
	case CodeUnavailable:
		return codes.Unavailable
	case CodeTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// IOError creates an error for a file that exists but cannot be read.
func IOError(path string, err error) *AppError {
	return Wrap(CodeIO, fmt.Sprintf("cannot read %s", path), err).WithDetail("path", path)
}

// FormatError creates an error for a malformed tensor file. line is 1-based;
// pass 0 when the problem is not tied to a single line.
func FormatError(path string, line int, message string) *AppError {
	err := New(CodeFormat, message)
	if path != "" {
		err = err.WithDetail("path", path)
	}
	if line > 0 {
		err = err.WithDetail("line", fmt.Sprintf("%d", line))
	}
	return err
}

// ComputationError creates an error for a broken internal invariant.
func ComputationError(message string, err error) *AppError {
	return Wrap(CodeComputation, message, err)
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// Code returns the AppError code anywhere in err's chain, or "" if there is none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return Code(err) == code
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

// IsFormat checks if error is a tensor format error.
func IsFormat(err error) bool {
	return IsCode(err, CodeFormat)
}

var knownCodes = []string{
	CodeValidation, CodeNotFound, CodeIO, CodeFormat,
	CodeComputation, CodeInternal, CodeUnavailable, CodeTimeout, CodeRateLimited,
}

// FromGRPC turns a status error received from a remote sampler back into an
// AppError. The code is recovered from the "CODE: message" prefix written by
// GRPCStatus, falling back to the gRPC status code. Errors that carry no
// status are returned unchanged.
func FromGRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	msg := st.Message()
	for _, code := range knownCodes {
		if rest, found := strings.CutPrefix(msg, code+": "); found {
			return New(code, rest)
		}
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return New(CodeValidation, msg)
	case codes.NotFound:
		return New(CodeNotFound, msg)
	case codes.FailedPrecondition:
		return New(CodeIO, msg)
	case codes.ResourceExhausted:
		return New(CodeRateLimited, msg)
	case codes.Unavailable:
		return New(CodeUnavailable, msg)
	case codes.DeadlineExceeded, codes.Canceled:
		return New(CodeTimeout, msg)
	default:
		return New(CodeInternal, msg)
	}
}
