// Package failure defines the error taxonomy shared by every stage of a
// migration run.
//
// Each stage wraps its technical error in an *Error carrying a Kind and the
// subject it was working on (a file path, an index name, a version string).
// Kinds are themselves errors, so callers test for them with errors.Is:
//
//	if errors.Is(err, failure.UnknownVersion) {
//	    ...
//	}
//
// No kind is retried. Every failure aborts the run and surfaces to the
// operator with enough context to diagnose it by hand.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// ConfigurationMissing: a required environment value is absent. Pre-flight.
	ConfigurationMissing Kind = "configuration missing"

	// ResourceNotFound: a codelist resource is missing or malformed. Pre-flight.
	ResourceNotFound Kind = "resource not found"

	// IOError: the station file could not be read or its output written.
	// Raised before the document store is touched.
	IOError Kind = "io error"

	// StoreUnavailable: the document store could not be queried.
	StoreUnavailable Kind = "store unavailable"

	// UpdateRejected: a bulk update was refused in whole or in part.
	UpdateRejected Kind = "update rejected"

	// UnknownVersion: no migration is registered for the requested version.
	UnknownVersion Kind = "unknown version"
)

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Subject string // path, index or version the failure concerns
	Err     error  // underlying cause, may be nil
}

// New returns an *Error of the given kind.
func New(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// Newf returns an *Error whose cause is built from a format string.
func Newf(kind Kind, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Subject == "" && e.Err == nil:
		return string(e.Kind)
	case e.Subject == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subject, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}

// exitCodes are distinct so wrapper scripts can branch on the failure.
var exitCodes = map[Kind]int{
	ConfigurationMissing: 2,
	ResourceNotFound:     3,
	IOError:              4,
	StoreUnavailable:     5,
	UpdateRejected:       6,
	UnknownVersion:       7,
}

// ExitCode returns the process exit status for err. Unclassified errors
// exit with 1, nil with 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if kind, ok := KindOf(err); ok {
		if code, ok := exitCodes[kind]; ok {
			return code
		}
	}
	return 1
}
