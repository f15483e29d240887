// Package ops implements the per-namespace document operations: list-entry
// CRUD, raw reads, uploads, and file management. Every operation reads the
// full document, works in memory, and writes the full document back; there
// is deliberately no concurrency control on that cycle (last writer wins).
package ops

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/omniflow-labs/omniflow/internal/apperr"
	"github.com/omniflow-labs/omniflow/internal/namespace"
	"github.com/omniflow-labs/omniflow/internal/storage"
)

// Entry is one object inside a list-shaped document.
type Entry = map[string]any

// Service coordinates storage access for all document operations.
type Service struct {
	store storage.Provider
	ns    *namespace.Resolver
}

// NewService creates a Service over the given provider and resolver.
func NewService(store storage.Provider, ns *namespace.Resolver) *Service {
	return &Service{store: store, ns: ns}
}

// Resolver exposes the namespace resolver for transport layers.
func (s *Service) Resolver() *namespace.Resolver { return s.ns }

// DocInfo describes one document in a listing, relative to its namespace.
type DocInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListDocuments enumerates documents in a namespace, optionally narrowed by
// a name prefix. An empty namespace yields an empty list.
func (s *Service) ListDocuments(ctx context.Context, ns, prefix string) ([]DocInfo, error) {
	nsPrefix := s.ns.Prefix(ns)
	full := nsPrefix
	if prefix != "" {
		if strings.Contains(prefix, "..") || strings.HasPrefix(prefix, "/") {
			return nil, apperr.New(apperr.KindMalformedInput, "invalid listing prefix: %s", prefix)
		}
		full += prefix
	}
	infos, err := s.store.List(ctx, full)
	if err != nil {
		return nil, err
	}
	out := make([]DocInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DocInfo{
			Name:      strings.TrimPrefix(info.Path, nsPrefix),
			Size:      info.Size,
			UpdatedAt: info.UpdatedAt,
		})
	}
	return out, nil
}

// ReadResult is the payload of a single-document read.
type ReadResult struct {
	Name        string `json:"file_name"`
	Data        any    `json:"data"`
	ContentType string `json:"content_type"`
}

// ReadDocument reads a document, returning parsed JSON when the content
// decodes and the raw text otherwise. A missing document is an error.
func (s *Service) ReadDocument(ctx context.Context, ns, name string) (*ReadResult, error) {
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return nil, err
	}
	raw, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var parsed any
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
		return &ReadResult{Name: name, Data: parsed, ContentType: "json"}, nil
	}
	return &ReadResult{Name: name, Data: string(raw), ContentType: "text"}, nil
}

// AddEntry appends entry to a list-shaped document, creating the document
// as a single-entry list when it does not exist. Returns the new count.
func (s *Service) AddEntry(ctx context.Context, ns, name string, entry any) (int, error) {
	if entry == nil {
		return 0, apperr.New(apperr.KindMissingArgument, "new_entry is required")
	}
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return 0, err
	}
	list, err := s.readList(ctx, path, name)
	if apperr.IsKind(err, apperr.KindNotFound) {
		list = nil
	} else if err != nil {
		return 0, err
	}
	list = append(list, entry)
	if err := s.writeList(ctx, path, list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// FilterResult is the payload of a filtered read over a list document.
type FilterResult struct {
	Name  string `json:"file"`
	Key   string `json:"filter_key,omitempty"`
	Value any    `json:"filter_value,omitempty"`
	Data  []any  `json:"data"`
	Count int    `json:"count"`
	Total int    `json:"total"`
}

// FilterEntries returns the entries where entry[key] equals value under
// exact, type-respecting equality. An empty key returns the whole list.
// A missing document is an error, distinguishing it from "no matches".
func (s *Service) FilterEntries(ctx context.Context, ns, name, key string, value any) (*FilterResult, error) {
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return nil, err
	}
	list, err := s.readList(ctx, path, name)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return &FilterResult{Name: name, Data: list, Count: len(list), Total: len(list)}, nil
	}
	matched := make([]any, 0)
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if valuesEqual(obj[key], value) {
			matched = append(matched, item)
		}
	}
	return &FilterResult{Name: name, Key: key, Value: value, Data: matched, Count: len(matched), Total: len(list)}, nil
}

// UpdateResult is the payload of a successful entry update.
type UpdateResult struct {
	Name         string `json:"file"`
	UpdatedKey   string `json:"updated_key"`
	UpdatedValue any    `json:"updated_value"`
	Entry        Entry  `json:"entry"`
}

// UpdateEntry sets updateKey on the first entry (in list order) where
// entry[findKey] equals findValue. Only ever affects one entry, even when
// several match; RemoveEntries is the all-matches counterpart.
func (s *Service) UpdateEntry(ctx context.Context, ns, name, findKey string, findValue any, updateKey string, updateValue any) (*UpdateResult, error) {
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return nil, err
	}
	list, err := s.readList(ctx, path, name)
	if err != nil {
		return nil, err
	}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if !valuesEqual(obj[findKey], findValue) {
			continue
		}
		obj[updateKey] = updateValue
		if err := s.writeList(ctx, path, list); err != nil {
			return nil, err
		}
		return &UpdateResult{Name: name, UpdatedKey: updateKey, UpdatedValue: updateValue, Entry: obj}, nil
	}
	return nil, apperr.New(apperr.KindEntryNotFound, "no entry found with %s=%v in %s", findKey, findValue, name)
}

// RemoveEntries deletes every entry where entry[key] equals value and
// returns how many were removed. Zero matches is a success.
func (s *Service) RemoveEntries(ctx context.Context, ns, name, key string, value any) (int, error) {
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return 0, err
	}
	list, err := s.readList(ctx, path, name)
	if err != nil {
		return 0, err
	}
	kept := make([]any, 0, len(list))
	removed := 0
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok && valuesEqual(obj[key], value) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeList(ctx, path, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// UploadDocument overwrites a document with caller-supplied content.
// String content is written verbatim; anything else is stored as indented
// JSON. Returns the namespaced storage location.
func (s *Service) UploadDocument(ctx context.Context, ns, name string, content any) (string, error) {
	if content == nil {
		return "", apperr.New(apperr.KindMissingArgument, "file_content is required")
	}
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return "", err
	}
	var raw []byte
	switch v := content.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		raw, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", apperr.Wrap(apperr.KindMalformedInput, err, "file_content is not serializable")
		}
	}
	if err := s.store.Write(ctx, path, raw); err != nil {
		return "", err
	}
	return path, nil
}

// DeleteDocument removes a document. Deleting a missing document succeeds,
// so deletes are idempotent.
func (s *Service) DeleteDocument(ctx context.Context, ns, name string) error {
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, path)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

// RenameDocument moves a document within its namespace. The underlying
// provider may implement this as read+write+delete; on failure both names
// can transiently coexist.
func (s *Service) RenameDocument(ctx context.Context, ns, oldName, newName string) error {
	oldPath, err := s.ns.Qualify(ns, oldName)
	if err != nil {
		return err
	}
	newPath, err := s.ns.Qualify(ns, newName)
	if err != nil {
		return err
	}
	return s.store.Rename(ctx, oldPath, newPath)
}

// readList loads a document and requires it to be a JSON array. Entries that
// are themselves JSON-encoded strings are decoded, tolerating legacy data
// written by earlier clients.
func (s *Service) readList(ctx context.Context, path, name string) ([]any, error) {
	raw, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, err, "document %s is not valid JSON", name)
	}
	list, ok := parsed.([]any)
	if !ok {
		return nil, apperr.New(apperr.KindMalformedInput, "document %s is not list-shaped", name)
	}
	for i, item := range list {
		str, ok := item.(string)
		if !ok {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(str), &decoded); err == nil {
			list[i] = decoded
		}
	}
	return list, nil
}

func (s *Service) writeList(ctx context.Context, path string, list []any) error {
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "encode document")
	}
	return s.store.Write(ctx, path, raw)
}

// valuesEqual implements the match semantics for filter/update/remove:
// exact equality within string, number, and bool; no cross-type coercion.
// JSON numbers decode to float64, so numeric comparison is float equality.
// A null match value matches nothing: a stored null is indistinguishable
// from an absent key after decoding, so null comparisons cannot be exact.
func valuesEqual(have, want any) bool {
	switch w := want.(type) {
	case string:
		h, ok := have.(string)
		return ok && h == w
	case float64:
		h, ok := have.(float64)
		return ok && h == w
	case int:
		h, ok := have.(float64)
		return ok && h == float64(w)
	case bool:
		h, ok := have.(bool)
		return ok && h == w
	default:
		return false
	}
}
