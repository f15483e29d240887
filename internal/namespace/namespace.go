// Package namespace maps opaque user identifiers to per-user storage
// prefixes and guards document names against path traversal.
package namespace

import (
	"strings"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

// Default is the namespace used when a request carries no user identifier.
// Callers relying on isolation must always supply an explicit identifier.
const Default = "default"

const maxIdentifierLen = 64

// Resolver validates user identifiers deterministically. It is pure and
// safe for concurrent use.
type Resolver struct {
	fallback string
}

// NewResolver creates a Resolver with the given fallback namespace.
// An empty fallback uses Default.
func NewResolver(fallback string) *Resolver {
	if fallback == "" {
		fallback = Default
	}
	return &Resolver{fallback: fallback}
}

// Resolve validates userID and returns the namespace it identifies.
// A missing identifier falls back to the configured default namespace.
func (r *Resolver) Resolve(userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return r.fallback, nil
	}
	if len(id) > maxIdentifierLen {
		return "", apperr.New(apperr.KindInvalidIdentifier, "user identifier exceeds %d characters", maxIdentifierLen)
	}
	if strings.Contains(id, "..") {
		return "", apperr.New(apperr.KindInvalidIdentifier, "user identifier must not contain relative path tokens")
	}
	for _, c := range id {
		if !safeIdentChar(c) {
			return "", apperr.New(apperr.KindInvalidIdentifier, "user identifier contains unsafe character %q", c)
		}
	}
	return id, nil
}

// Prefix returns the storage prefix for a resolved namespace. The trailing
// separator makes the prefix a full path segment, so "alice" can never match
// documents under "alice2".
func (r *Resolver) Prefix(ns string) string {
	return "users/" + ns + "/"
}

// Qualify joins a resolved namespace with a document name, validating the
// name independently of the identifier. Names may contain forward-slash
// subpaths but never traversal tokens, backslashes, or a leading slash.
func (r *Resolver) Qualify(ns, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return r.Prefix(ns) + name, nil
}

// ValidateName checks a document name for traversal attempts.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.KindMalformedInput, "document name must not be empty")
	}
	if strings.HasPrefix(name, "/") {
		return apperr.New(apperr.KindMalformedInput, "document name must be relative: %s", name)
	}
	if strings.Contains(name, "\\") {
		return apperr.New(apperr.KindMalformedInput, "document name must use forward slashes: %s", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return apperr.New(apperr.KindMalformedInput, "document name contains an empty path segment: %s", name)
		}
		if seg == "." || seg == ".." {
			return apperr.New(apperr.KindMalformedInput, "document name contains a relative path token: %s", name)
		}
	}
	return nil
}

func safeIdentChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '@':
		return true
	}
	return false
}
