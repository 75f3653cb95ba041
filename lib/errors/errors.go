// Package errors provides structured error types for the wgclient VPN session
// controller. All errors are designed to be safe to surface to a UI layer
// without exposing key material or other internal details.
//
// This package provides:
//   - Sentinel errors for the session failure taxonomy
//   - Error codes for UI routing (re-auth prompt, permission prompt, generic failure)
//   - Error wrapping with context preservation
//   - Safe error messages that don't leak sensitive information
package errors

import (
	"errors"
	"fmt"
)

// Error codes for categorizing errors. Codes are grouped so a UI can route on
// them: 1xx input/state, 2xx collaborator failures, 3xx platform capabilities.
const (
	CodeInternal     = 100 // Internal error
	CodeInvalidInput = 101 // Invalid request parameters
	CodeState        = 102 // Session already holds a tunnel
	CodeBusy         = 103 // Another request is in flight
	CodeClosed       = 104 // Controller is closed

	CodeMalformedProfile = 201 // Credential service returned unusable data
	CodeBackendApply     = 202 // Tunnel engine rejected the configuration
	CodeCredential       = 203 // Authentication or subscription required
	CodeTunnelConfig     = 204 // Tunnel configuration could not be assembled

	CodeSchedulingPermission = 301 // Exact alarm capability missing
)

// Sentinel errors for the session failure taxonomy.
// Use errors.Is() to check for these conditions.
var (
	// ErrMalformedProfile indicates the issued connection profile could not be parsed.
	ErrMalformedProfile = errors.New("malformed connection profile")

	// ErrBackendApply indicates the tunnel backend rejected a configuration.
	ErrBackendApply = errors.New("tunnel backend apply failed")

	// ErrCredential indicates the credential collaborator refused to issue a profile.
	ErrCredential = errors.New("credential error")

	// ErrSchedulingPermissionDenied indicates the platform requires an exact
	// alarm grant that has not been given.
	ErrSchedulingPermissionDenied = errors.New("scheduling permission denied")

	// ErrSessionBusy indicates a connect or disconnect is already in flight.
	ErrSessionBusy = errors.New("session busy")

	// ErrTunnelConfig indicates the tunnel configuration could not be built
	// from a valid profile (e.g. an out-of-band host did not resolve).
	ErrTunnelConfig = errors.New("tunnel configuration error")

	// ErrAlreadyConnected indicates a connect was requested on a live session.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Session errors
var (
	// ErrSessionClosed indicates the controller has been closed.
	ErrSessionClosed = fmt.Errorf("session: %w", ErrClosed)
)

// Backend errors
var (
	// ErrTunnelNotFound indicates the backend has no tunnel with the given ID.
	ErrTunnelNotFound = fmt.Errorf("backend: tunnel %w", ErrNotFound)

	// ErrBackendClosed indicates the backend has been shut down.
	ErrBackendClosed = fmt.Errorf("backend: %w", ErrClosed)
)

// Error is a structured error with a code and safe message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from an error chain.
// It assigns the code of the first taxonomy sentinel found in the chain.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}

	return &Error{
		Code:    CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// CodeOf maps an error chain to its taxonomy code.
func CodeOf(err error) int {
	var coded *Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &coded):
		return coded.Code
	case IsSchedulingPermissionDenied(err):
		return CodeSchedulingPermission
	case IsCredential(err):
		return CodeCredential
	case IsMalformedProfile(err):
		return CodeMalformedProfile
	case IsBackendApply(err):
		return CodeBackendApply
	case errors.Is(err, ErrTunnelConfig):
		return CodeTunnelConfig
	case IsSessionBusy(err):
		return CodeBusy
	case IsClosed(err):
		return CodeClosed
	case IsInvalidInput(err):
		return CodeInvalidInput
	case errors.Is(err, ErrAlreadyConnected):
		return CodeState
	default:
		return CodeInternal
	}
}

// Kind returns a short, stable label for an error chain. It is used as a
// metric label and in log fields.
func Kind(err error) string {
	switch CodeOf(err) {
	case 0:
		return "none"
	case CodeSchedulingPermission:
		return "scheduling_permission"
	case CodeCredential:
		return "credential"
	case CodeMalformedProfile:
		return "malformed_profile"
	case CodeBackendApply:
		return "backend_apply"
	case CodeTunnelConfig:
		return "tunnel_config"
	case CodeBusy:
		return "busy"
	case CodeClosed:
		return "closed"
	case CodeInvalidInput:
		return "invalid_input"
	case CodeState:
		return "state"
	default:
		return "internal"
	}
}

// IsMalformedProfile returns true if the error indicates an unusable profile.
func IsMalformedProfile(err error) bool {
	return errors.Is(err, ErrMalformedProfile)
}

// IsBackendApply returns true if the error indicates a backend rejection.
func IsBackendApply(err error) bool {
	return errors.Is(err, ErrBackendApply)
}

// IsCredential returns true if the error indicates the UI should route to re-auth.
func IsCredential(err error) bool {
	return errors.Is(err, ErrCredential)
}

// IsSchedulingPermissionDenied returns true if the user must grant the exact alarm capability.
func IsSchedulingPermissionDenied(err error) bool {
	return errors.Is(err, ErrSchedulingPermissionDenied)
}

// IsSessionBusy returns true if the request overlapped an in-flight operation.
func IsSessionBusy(err error) bool {
	return errors.Is(err, ErrSessionBusy)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
