package namespace

import (
	"strings"
	"testing"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

func TestResolveValidIdentifiers(t *testing.T) {
	r := NewResolver("")
	for _, id := range []string{"alice", "bob-2", "user_7", "a.b@example", "X9"} {
		ns, err := r.Resolve(id)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", id, err)
			continue
		}
		if ns != id {
			t.Errorf("Resolve(%q) = %q", id, ns)
		}
	}
}

func TestResolveRejectsUnsafeIdentifiers(t *testing.T) {
	r := NewResolver("")
	for _, id := range []string{"a/b", "..", "a..b", "a b", "über", "x\\y", strings.Repeat("a", 65)} {
		if _, err := r.Resolve(id); !apperr.IsKind(err, apperr.KindInvalidIdentifier) {
			t.Errorf("Resolve(%q) = %v, want invalid_identifier", id, err)
		}
	}
}

func TestResolveEmptyFallsBack(t *testing.T) {
	r := NewResolver("")
	ns, err := r.Resolve("  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ns != Default {
		t.Errorf("ns = %q, want %q", ns, Default)
	}

	r = NewResolver("shared")
	if ns, _ = r.Resolve(""); ns != "shared" {
		t.Errorf("ns = %q, want shared", ns)
	}
}

func TestPrefixDeterministicAndDisjoint(t *testing.T) {
	r := NewResolver("")
	if p := r.Prefix("alice"); p != "users/alice/" {
		t.Errorf("prefix = %q", p)
	}
	// Full path segments: alice's prefix must not prefix alice2's documents.
	a := r.Prefix("alice")
	b := r.Prefix("alice2")
	if strings.HasPrefix(b+"tasks.json", a) {
		t.Error("prefixes overlap across distinct namespaces")
	}
}

func TestQualify(t *testing.T) {
	r := NewResolver("")
	path, err := r.Qualify("alice", "interactions/semantic/index.jsonl")
	if err != nil {
		t.Fatalf("Qualify: %v", err)
	}
	if path != "users/alice/interactions/semantic/index.jsonl" {
		t.Errorf("path = %q", path)
	}

	for _, name := range []string{"", "/abs.json", "a/../b.json", "..", "a\\b", "a//b"} {
		if _, err := r.Qualify("alice", name); !apperr.IsKind(err, apperr.KindMalformedInput) {
			t.Errorf("Qualify(%q) = %v, want malformed_input", name, err)
		}
	}
}
