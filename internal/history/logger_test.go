package history

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/omniflow-labs/omniflow/internal/storage"
)

func testLogger(t *testing.T) (*Logger, *time.Time) {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l := NewLogger(store, slog.New(slog.DiscardHandler))
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func rec(thread, user, assistant string) Record {
	return Record{ThreadID: thread, UserMessage: user, AssistantResponse: assistant}
}

func TestAppendAssignsIDAndCounts(t *testing.T) {
	l, _ := testLogger(t)
	ctx := context.Background()

	res, err := l.Append(ctx, "alice", rec("t1", "hello", "hi there"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !strings.HasPrefix(res.InteractionID, "INT_") {
		t.Errorf("interaction id = %q", res.InteractionID)
	}
	if res.Skipped || res.Total != 1 {
		t.Errorf("result = %+v", res)
	}

	page, err := l.ReadHistory(ctx, "alice", "", 0, 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].UserID != "alice" {
		t.Errorf("records = %+v", page.Records)
	}
}

func TestAppendRequiresBothMessages(t *testing.T) {
	l, _ := testLogger(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, "alice", rec("t1", "", "hi")); err == nil {
		t.Error("expected error for missing user_message")
	}
	if _, err := l.Append(ctx, "alice", rec("t1", "hello", "")); err == nil {
		t.Error("expected error for missing assistant_response")
	}
}

func TestDuplicateSuppression(t *testing.T) {
	l, clock := testLogger(t)
	ctx := context.Background()

	first, err := l.Append(ctx, "alice", rec("t1", "hi", "hello"))
	if err != nil {
		t.Fatal(err)
	}

	// Same thread, same message pair, 10s later: suppressed.
	*clock = clock.Add(10 * time.Second)
	res, err := l.Append(ctx, "alice", rec("t1", "hi", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.Code != "duplicate_skipped" || res.InteractionID != first.InteractionID {
		t.Errorf("expected duplicate skip, got %+v", res)
	}

	// Different response within the window: stored.
	res, err = l.Append(ctx, "alice", rec("t1", "hi", "something else"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Error("distinct messages must not be suppressed")
	}

	// Same messages on a different thread: stored.
	res, err = l.Append(ctx, "alice", rec("t2", "hi", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Error("different thread must not be suppressed")
	}

	// Past the window the same save goes through again.
	*clock = clock.Add(duplicateWindow + time.Second)
	res, err = l.Append(ctx, "alice", rec("t1", "hi", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Error("save outside the window must not be suppressed")
	}
}

func TestReadHistoryOrderAndPaging(t *testing.T) {
	l, clock := testLogger(t)
	ctx := context.Background()

	for i, text := range []string{"a", "b", "c", "d"} {
		thread := "t1"
		if i%2 == 1 {
			thread = "t2"
		}
		if _, err := l.Append(ctx, "alice", rec(thread, text, "ok")); err != nil {
			t.Fatal(err)
		}
		*clock = clock.Add(time.Minute)
	}

	page, err := l.ReadHistory(ctx, "alice", "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || page.Count != 4 || page.Limit != DefaultLimit {
		t.Fatalf("page = %+v", page)
	}
	for i := 1; i < len(page.Records); i++ {
		if page.Records[i].Timestamp.Before(page.Records[i-1].Timestamp) {
			t.Error("records must be oldest first")
		}
	}

	// Thread filter.
	page, err = l.ReadHistory(ctx, "alice", "t2", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Errorf("t2 total = %d, want 2", page.Total)
	}

	// Paging window.
	page, err = l.ReadHistory(ctx, "alice", "", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Count != 2 || page.Records[0].UserMessage != "b" {
		t.Errorf("page = %+v", page)
	}

	// Offset past the end is an empty page, not an error.
	page, err = l.ReadHistory(ctx, "alice", "", 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Count != 0 || page.Total != 4 {
		t.Errorf("page = %+v", page)
	}

	// Limit is clamped.
	page, err = l.ReadHistory(ctx, "alice", "", 0, MaxLimit*2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Limit != MaxLimit {
		t.Errorf("limit = %d, want %d", page.Limit, MaxLimit)
	}
}

func TestReadHistoryEmptyNamespace(t *testing.T) {
	l, _ := testLogger(t)
	page, err := l.ReadHistory(context.Background(), "ghost", "", 0, 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if page.Total != 0 || page.Count != 0 {
		t.Errorf("page = %+v", page)
	}
}

func TestRecordToolCallAppends(t *testing.T) {
	l, _ := testLogger(t)
	ctx := context.Background()

	l.RecordToolCall(ctx, "alice", ToolCall{Tool: "add_new_data", Arguments: map[string]any{"target_blob_name": "tasks.json"}, Success: true})
	l.RecordToolCall(ctx, "alice", ToolCall{Tool: "remove_data_entry", Success: true})

	raw, err := l.store.Read(ctx, toolLogPath("alice"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(raw), "add_new_data") || !strings.Contains(string(raw), "remove_data_entry") {
		t.Errorf("log = %s", raw)
	}
}
