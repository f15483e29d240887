// Package history persists interaction records and tool-call audit entries
// per namespace, backed by the shared storage provider.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/omniflow-labs/omniflow/internal/apperr"
	"github.com/omniflow-labs/omniflow/internal/storage"
)

const (
	logName         = "interaction_logs.json"
	toolCallLogName = "tool_call_log.json"

	// Two saves of the same thread with identical messages inside this
	// window are treated as retries of one interaction.
	duplicateWindow = 30 * time.Second

	DefaultLimit = 50
	MaxLimit     = 1000
)

// ToolCall describes one tool invocation made during an interaction.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
}

// Record is one persisted interaction.
type Record struct {
	InteractionID     string         `json:"interaction_id"`
	UserID            string         `json:"user_id"`
	ThreadID          string         `json:"thread_id,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	UserMessage       string         `json:"user_message"`
	AssistantResponse string         `json:"assistant_response"`
	ToolCalls         []ToolCall     `json:"tool_calls,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// AppendResult reports the outcome of a save. Duplicate suppression is a
// success with Skipped set, never an error.
type AppendResult struct {
	InteractionID string `json:"interaction_id"`
	Skipped       bool   `json:"skipped"`
	Code          string `json:"code,omitempty"`
	Total         int    `json:"total"`
}

// Page is one slice of the history, oldest first.
type Page struct {
	Records []Record `json:"data"`
	Count   int      `json:"count"`
	Total   int      `json:"total_count"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
}

type Logger struct {
	store  storage.Provider
	logger *slog.Logger
	now    func() time.Time
}

func NewLogger(store storage.Provider, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger, now: time.Now}
}

func logPath(ns string) string     { return "users/" + ns + "/" + logName }
func toolLogPath(ns string) string { return "users/" + ns + "/" + toolCallLogName }

// Append stores an interaction. Both messages are mandatory; everything else
// on the record is optional. A record with the same thread id and the same
// message pair as an existing one within the duplicate window is skipped.
func (l *Logger) Append(ctx context.Context, ns string, rec Record) (AppendResult, error) {
	if rec.UserMessage == "" || rec.AssistantResponse == "" {
		return AppendResult{}, apperr.New(apperr.KindMissingArgument,
			"save_interaction requires 'user_message' and 'assistant_response'")
	}

	records, err := l.load(ctx, ns)
	if err != nil {
		return AppendResult{}, err
	}

	now := l.now().UTC()
	for i := len(records) - 1; i >= 0; i-- {
		prev := records[i]
		if now.Sub(prev.Timestamp) > duplicateWindow {
			break
		}
		if prev.ThreadID == rec.ThreadID &&
			prev.UserMessage == rec.UserMessage &&
			prev.AssistantResponse == rec.AssistantResponse {
			return AppendResult{
				InteractionID: prev.InteractionID,
				Skipped:       true,
				Code:          "duplicate_skipped",
				Total:         len(records),
			}, nil
		}
	}

	rec.InteractionID = newInteractionID(now)
	rec.UserID = ns
	rec.Timestamp = now
	records = append(records, rec)
	if err := l.save(ctx, ns, records); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{InteractionID: rec.InteractionID, Total: len(records)}, nil
}

// ReadHistory returns records oldest first. An offset past the end yields
// an empty page, not an error. A missing log reads as an empty history.
func (l *Logger) ReadHistory(ctx context.Context, ns, threadID string, offset, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, err := l.load(ctx, ns)
	if err != nil {
		return Page{}, err
	}
	if threadID != "" {
		filtered := records[:0:0]
		for _, r := range records {
			if r.ThreadID == threadID {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	total := len(records)
	page := Page{Records: []Record{}, Total: total, Offset: offset, Limit: limit}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page.Records = records[offset:end]
	}
	page.Count = len(page.Records)
	return page, nil
}

// RecordToolCall appends an audit entry. Failures are logged and swallowed;
// auditing never blocks or fails the operation it follows.
func (l *Logger) RecordToolCall(ctx context.Context, ns string, call ToolCall) {
	if call.Timestamp.IsZero() {
		call.Timestamp = l.now().UTC()
	}

	var calls []ToolCall
	raw, err := l.store.Read(ctx, toolLogPath(ns))
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &calls); err != nil {
			l.logger.Warn("tool call log unreadable, starting fresh", "namespace", ns, "error", err)
			calls = nil
		}
	case apperr.IsKind(err, apperr.KindNotFound):
	default:
		l.logger.Warn("tool call log read failed", "namespace", ns, "error", err)
		return
	}

	calls = append(calls, call)
	data, err := json.MarshalIndent(calls, "", "  ")
	if err != nil {
		l.logger.Warn("tool call log encode failed", "namespace", ns, "error", err)
		return
	}
	if err := l.store.Write(ctx, toolLogPath(ns), data); err != nil {
		l.logger.Warn("tool call log write failed", "namespace", ns, "error", err)
	}
}

func (l *Logger) load(ctx context.Context, ns string) ([]Record, error) {
	raw, err := l.store.Read(ctx, logPath(ns))
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, err, "interaction log for %q is not a JSON list", ns)
	}
	return records, nil
}

func (l *Logger) save(ctx context.Context, ns string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "encode interaction log")
	}
	return l.store.Write(ctx, logPath(ns), data)
}

func newInteractionID(now time.Time) string {
	return fmt.Sprintf("INT_%s_%s", now.Format("20060102150405"), uuid.NewString()[:8])
}
