package ops

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

// Read-many defaults and bounds.
const (
	DefaultMaxFiles        = 25
	DefaultTailBytes       = 64 << 10
	DefaultMaxBytesPerFile = 256 << 10
)

// ReadManyRequest is a bounded bulk read over a namespace.
type ReadManyRequest struct {
	Files           []string `json:"files"`
	TailLines       int      `json:"tail_lines"`
	TailBytes       int      `json:"tail_bytes"`
	MaxBytesPerFile int      `json:"max_bytes_per_file"`
	MaxFiles        int      `json:"max_files"`
	ParseJSON       *bool    `json:"parse_json"`
}

// ReadManyItem is the per-file outcome; Error is set instead of Data when
// the individual read failed.
type ReadManyItem struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	Data        any    `json:"data,omitempty"`
	Bytes       int    `json:"bytes,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ReadManyResult aggregates per-file outcomes.
type ReadManyResult struct {
	Items  []ReadManyItem `json:"items"`
	Count  int            `json:"count"`
	Errors int            `json:"errors"`
}

// ReadMany reads several documents with size safety limits. Individual
// failures are reported inline and never fail the batch; only an invalid
// request is an error.
func (s *Service) ReadMany(ctx context.Context, ns string, req ReadManyRequest) (*ReadManyResult, error) {
	if len(req.Files) == 0 {
		return nil, apperr.New(apperr.KindMissingArgument, "field 'files' must be a non-empty array of strings")
	}
	maxFiles := req.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if len(req.Files) > maxFiles {
		return nil, apperr.New(apperr.KindMalformedInput, "too many files (max %d)", maxFiles)
	}
	tailBytes := req.TailBytes
	if tailBytes <= 0 {
		tailBytes = DefaultTailBytes
	}
	maxBytes := req.MaxBytesPerFile
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytesPerFile
	}
	parseJSON := req.ParseJSON == nil || *req.ParseJSON

	result := &ReadManyResult{}
	for _, file := range req.Files {
		name := strings.TrimSpace(file)
		if name == "" {
			result.Items = append(result.Items, ReadManyItem{FileName: file, Error: "empty file name"})
			result.Errors++
			continue
		}
		result.Items = append(result.Items, s.readOne(ctx, ns, name, req.TailLines, tailBytes, maxBytes, parseJSON))
		if result.Items[len(result.Items)-1].Error != "" {
			result.Errors++
		}
	}
	result.Count = len(result.Items)
	return result, nil
}

func (s *Service) readOne(ctx context.Context, ns, name string, tailLines, tailBytes, maxBytes int, parseJSON bool) ReadManyItem {
	path, err := s.ns.Qualify(ns, name)
	if err != nil {
		return ReadManyItem{FileName: name, Error: apperr.MessageOf(err)}
	}
	raw, err := s.store.Read(ctx, path)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return ReadManyItem{FileName: name, Error: "not_found"}
		}
		return ReadManyItem{FileName: name, Error: apperr.MessageOf(err)}
	}

	if tailLines > 0 {
		text, truncated, n := tail(raw, tailLines, tailBytes)
		return ReadManyItem{
			FileName:    name,
			ContentType: "text",
			Data:        text,
			Bytes:       n,
			Truncated:   truncated,
			Mode:        "tail",
		}
	}

	truncated := false
	if len(raw) > maxBytes {
		raw = raw[:maxBytes]
		truncated = true
	}
	if parseJSON && !truncated {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return ReadManyItem{
				FileName:    name,
				ContentType: "json",
				Data:        parsed,
				Bytes:       len(raw),
				Mode:        "read",
			}
		}
	}
	return ReadManyItem{
		FileName:    name,
		ContentType: "text",
		Data:        string(raw),
		Bytes:       len(raw),
		Truncated:   truncated,
		Mode:        "read",
	}
}

// tail returns the last tailLines non-empty lines within a tailBytes window
// at the end of raw.
func tail(raw []byte, tailLines, tailBytes int) (string, bool, int) {
	truncated := false
	if len(raw) > tailBytes {
		raw = raw[len(raw)-tailBytes:]
		truncated = true
	}
	lines := make([]string, 0, tailLines)
	for _, ln := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n"), truncated, len(raw)
}
