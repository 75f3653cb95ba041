// Package validation provides reusable input validation functions for wgclient.
// All validators follow a consistent pattern: they return nil on success and a descriptive
// error on failure. Errors are safe to show to a user (no key material is echoed).
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Common validation errors. These are sentinel errors that can be checked with errors.Is().
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = errors.New("value exceeds maximum length")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")
)

// Constraints for common field types.
const (
	// MaxServerIDLength is the maximum length for exit location identifiers.
	MaxServerIDLength = 64

	// MaxServerNameLength is the maximum length for display names.
	MaxServerNameLength = 128

	// MaxInterfaceNameLength is the Linux IFNAMSIZ limit minus the terminator.
	MaxInterfaceNameLength = 15
)

// serverIDPattern matches exit location identifiers such as "ca_tor" or "gb-london".
var serverIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// interfaceNamePattern matches portable network interface names.
var interfaceNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Result represents a validation result with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxLength validates that a string doesn't exceed the maximum length.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", max), ErrTooLong)
	}
	return nil
}

// IntRange validates that an integer is within the given range (inclusive).
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// DurationRange validates that a duration is within bounds (inclusive).
func DurationRange(field string, value, min, max time.Duration) error {
	if value < min || value > max {
		return NewResult(field,
			fmt.Sprintf("must be between %s and %s", min, max),
			ErrOutOfRange)
	}
	return nil
}

// ServerID validates an exit location identifier.
func ServerID(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if err := MaxLength(field, value, MaxServerIDLength); err != nil {
		return err
	}
	if !serverIDPattern.MatchString(value) {
		return NewResult(field, "must contain only lowercase letters, digits, '_' and '-'", ErrInvalidFormat)
	}
	return nil
}

// ServerName validates an exit location display name.
func ServerName(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	return MaxLength(field, value, MaxServerNameLength)
}

// InterfaceName validates a tunnel interface name.
func InterfaceName(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if err := MaxLength(field, value, MaxInterfaceNameLength); err != nil {
		return err
	}
	if !interfaceNamePattern.MatchString(value) {
		return NewResult(field, "must start with a letter and contain only letters, digits, '_', '.' and '-'", ErrInvalidFormat)
	}
	return nil
}

// HostPort validates a host:port address with a numeric port.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	host, port, err := net.SplitHostPort(value)
	if err != nil || host == "" {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return NewResult(field, "port must be numeric", ErrInvalidFormat)
	}
	return Port(field, n)
}

// Host validates a host name or address, with an optional :port suffix.
func Host(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if strings.Contains(value, ":") {
		if _, err := netip.ParseAddr(value); err == nil {
			return nil
		}
		return HostPort(field, value)
	}
	if strings.ContainsAny(value, " /") {
		return NewResult(field, "must be a host name or address", ErrInvalidFormat)
	}
	return nil
}

// Addr validates a bare IP address.
func Addr(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if _, err := netip.ParseAddr(value); err != nil {
		return NewResult(field, "must be an IP address", ErrInvalidFormat)
	}
	return nil
}

// URL validates an absolute http or https URL.
func URL(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return NewResult(field, "must be an absolute URL", ErrInvalidFormat)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewResult(field, "scheme must be http or https", ErrInvalidFormat)
	}
	return nil
}

// Port validates a network port number.
func Port(field string, value int) error {
	if value < 1 || value > 65535 {
		return NewResult(field, "must be between 1 and 65535", ErrOutOfRange)
	}
	return nil
}

// All runs multiple validation functions and returns the first error.
func All(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e Errors) Unwrap() []error {
	return e
}

// Err returns the collection as an error, or nil if it is empty.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
