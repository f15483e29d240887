// Package apperr defines the error taxonomy shared by the storage,
// operations, and dispatch layers. Transport layers map Kind values to
// status codes; nothing below the API boundary knows about HTTP.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for clients.
type Kind string

const (
	// KindInvalidIdentifier marks an unsafe or empty user identifier.
	KindInvalidIdentifier Kind = "invalid_identifier"
	// KindMissingArgument marks a tool call with absent required arguments.
	KindMissingArgument Kind = "missing_argument"
	// KindNotFound marks a document that does not exist where one is required.
	KindNotFound Kind = "not_found"
	// KindEntryNotFound marks an update whose find key/value matched nothing.
	KindEntryNotFound Kind = "entry_not_found"
	// KindMalformedInput marks undecodable JSON or a non-list document where
	// a list is required.
	KindMalformedInput Kind = "malformed_input"
	// KindStorageUnavailable marks a backend/transport failure.
	KindStorageUnavailable Kind = "storage_unavailable"
	// KindUpstreamTimeout marks a proxied call that exceeded its deadline.
	KindUpstreamTimeout Kind = "upstream_timeout"
	// KindInternal marks anything unrecognized caught at the dispatch boundary.
	KindInternal Kind = "internal_error"
)

// Error carries a Kind, a client-safe message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that preserves the cause for errors.Is/As chains.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf extracts the client-safe message from err. Foreign errors get a
// generic message so internals never leak into responses.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
