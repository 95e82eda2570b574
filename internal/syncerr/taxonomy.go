// Package syncerr defines the error taxonomy spec.md §7 uses to decide, for
// any failure surfaced by the FHIR client, the writer, or the rewriter,
// whether the update pipeline should skip one entry or abort the whole pass.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a sync-engine failure per spec.md §7's table.
type Kind string

const (
	// TransientNetwork is retried with bounded backoff by the HTTP layer; if it
	// still surfaces, the entry/pass it affects is counted but may still succeed.
	TransientNetwork Kind = "transient-network"
	// AuthRejected is fatal to the whole pass.
	AuthRejected Kind = "auth-rejected"
	// ParseInvalidResource causes the offending entry to be skipped; the pass continues.
	ParseInvalidResource Kind = "parse-invalid-resource"
	// CrossOriginReference causes the offending entry to be skipped; the pass continues.
	CrossOriginReference Kind = "cross-origin-reference"
	// ValidationFailed (under strict_validation) causes the offending entry to be skipped.
	ValidationFailed Kind = "validation-failed"
	// MapConflict is resolved transparently by the resource-map store's unique constraint.
	MapConflict Kind = "map-conflict"
	// DeadlineExceeded aborts the pass.
	DeadlineExceeded Kind = "deadline-exceeded"
	// Cancelled aborts the pass without incrementing any failure counter.
	Cancelled Kind = "cancelled"
	// DBUnavailable aborts the pass; the failure counter increments once the DB returns.
	DBUnavailable Kind = "db-unavailable"
)

// Error is a classified sync-engine failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given classification.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf classifies a freshly formatted error.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a *Error.
// Unclassified errors report the empty Kind.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// AbortsPass reports whether an error of this kind must abort the entire
// update pass rather than being skipped per-entry, per spec.md §7's table.
func (k Kind) AbortsPass() bool {
	switch k {
	case AuthRejected, DeadlineExceeded, Cancelled, DBUnavailable:
		return true
	default:
		return false
	}
}

// CountsAsFailure reports whether an abort of this kind should increment the
// directory's failure counter. Cancellation explicitly does not (spec.md §7).
func (k Kind) CountsAsFailure() bool {
	return k.AbortsPass() && k != Cancelled
}

// FromHTTPError classifies an error surfaced by a FHIR HTTP transport call.
// go-fhir-client reports transport failures as plain errors carrying the HTTP
// status in their message, so classification here is string-based, the same
// approach the teacher's is410GoneError uses for its one status code.
func FromHTTPError(err error) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return New(AuthRejected, err)
	case strings.Contains(msg, "context deadline exceeded"):
		return New(DeadlineExceeded, err)
	case strings.Contains(msg, "context canceled"):
		return New(Cancelled, err)
	default:
		return New(TransientNetwork, err)
	}
}

// IsGone reports whether err reflects an HTTP 410 Gone response.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "410") || strings.Contains(s, "gone")
}

// IsRetryableHTTP reports whether an HTTP transport failure is worth retrying
// with backoff. A failure whose message names 400, 401, 403, 404, 410 or 422
// (or "unauthorized", "forbidden", "gone") is not retryable; anything else,
// other 4xx statuses included, is treated as a transient server/network
// condition.
func IsRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	if IsGone(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "400"), strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "404"), strings.Contains(msg, "422"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return false
	default:
		return true
	}
}
