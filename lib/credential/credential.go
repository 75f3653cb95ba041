// Package credential talks to the service that issues connection profiles.
//
// The session controller consumes the Issuer interface only. Credential
// failures are reported as *Error values that wrap ErrCredential, so the UI
// can route them to re-authentication instead of a generic failure.
package credential

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
)

// Grant is one issued connection profile and its refresh hint.
type Grant struct {
	// Profile is the raw issued profile, decoded by the profile package.
	Profile json.RawMessage `json:"profile"`
	// SecondsUntilRefresh is when the profile should be re-issued.
	SecondsUntilRefresh int64 `json:"seconds_until_refresh"`
}

// Issuer requests connection profiles.
type Issuer interface {
	// RequestConnection issues a fresh profile for serverID. Credential
	// refusals are returned as *Error.
	RequestConnection(ctx context.Context, serverID string) (*Grant, error)
}

// IssuerFunc adapts a function to Issuer.
type IssuerFunc func(ctx context.Context, serverID string) (*Grant, error)

// RequestConnection implements Issuer.
func (f IssuerFunc) RequestConnection(ctx context.Context, serverID string) (*Grant, error) {
	return f(ctx, serverID)
}

// Status is the reason a credential request was refused.
type Status int

const (
	// StatusAuthenticationRequired means the user must sign in again.
	StatusAuthenticationRequired Status = iota + 1
	// StatusSubscriptionRequired means the account has no active subscription.
	StatusSubscriptionRequired
	// StatusConnectionDenied means the service refused this connection.
	StatusConnectionDenied
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticationRequired:
		return "authentication_required"
	case StatusSubscriptionRequired:
		return "subscription_required"
	case StatusConnectionDenied:
		return "connection_denied"
	default:
		return "unknown"
	}
}

// Error is a credential refusal.
type Error struct {
	Status Status
	// Err is an optional underlying cause.
	Err error
}

// NewError creates an Error with the given status.
func NewError(status Status) *Error {
	return &Error{Status: status}
}

func (e *Error) Error() string {
	msg := "credential error: " + e.Status.String()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{apperrors.ErrCredential, e.Err}
	}
	return []error{apperrors.ErrCredential}
}

// RequiresReauth reports whether the user must authenticate again.
func (e *Error) RequiresReauth() bool {
	return e.Status == StatusAuthenticationRequired
}

// StatusOf extracts the refusal status from an error chain.
func StatusOf(err error) (Status, bool) {
	var ce *Error
	if apperrors.As(err, &ce) {
		return ce.Status, true
	}
	return 0, false
}
