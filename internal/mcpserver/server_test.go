package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/omniflow-labs/omniflow/internal/dispatch"
	"github.com/omniflow-labs/omniflow/internal/history"
	"github.com/omniflow-labs/omniflow/internal/namespace"
	"github.com/omniflow-labs/omniflow/internal/ops"
	"github.com/omniflow-labs/omniflow/internal/storage"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.DiscardHandler)
	resolver := namespace.NewResolver("")
	svc := ops.NewService(store, resolver)
	d := dispatch.NewDispatcher(svc, history.NewLogger(store, logger), nil, nil, logger)
	return New(d, resolver)
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := srv.call(name)(context.Background(), req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestAddAndReadData(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "add_new_data", map[string]interface{}{
		"user_id":          "alice",
		"target_blob_name": "tasks.json",
		"new_entry":        map[string]interface{}{"id": "1", "status": "open"},
	})
	text := resultText(r)
	if !strings.Contains(text, `"entry_count": 1`) {
		t.Errorf("add result = %q", text)
	}

	r = callTool(t, srv, "read_blob_file", map[string]interface{}{
		"user_id":   "alice",
		"file_name": "tasks.json",
	})
	text = resultText(r)
	if !strings.Contains(text, `"status": "open"`) {
		t.Errorf("read result = %q", text)
	}
}

func TestDefaultNamespaceFallback(t *testing.T) {
	srv := testServer(t)

	callTool(t, srv, "add_new_data", map[string]interface{}{
		"target_blob_name": "notes.json",
		"new_entry":        map[string]interface{}{"id": "1"},
	})

	r := callTool(t, srv, "list_blobs", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, `"user_id": "default"`) || !strings.Contains(text, "notes.json") {
		t.Errorf("list result = %q", text)
	}
}

func TestMatchValuesKeepTheirType(t *testing.T) {
	srv := testServer(t)

	callTool(t, srv, "add_new_data", map[string]interface{}{
		"user_id":          "alice",
		"target_blob_name": "flags.json",
		"new_entry":        map[string]interface{}{"name": "beta", "enabled": true, "weight": float64(3)},
	})
	callTool(t, srv, "add_new_data", map[string]interface{}{
		"user_id":          "alice",
		"target_blob_name": "flags.json",
		"new_entry":        map[string]interface{}{"name": "gamma", "enabled": "true", "weight": "3"},
	})

	// Boolean and numeric values survive the MCP surface untouched, so
	// only the entry holding the matching type is returned.
	r := callTool(t, srv, "get_filtered_data", map[string]interface{}{
		"user_id":          "alice",
		"target_blob_name": "flags.json",
		"filter_key":       "enabled",
		"filter_value":     true,
	})
	text := resultText(r)
	if !strings.Contains(text, `"count": 1`) || !strings.Contains(text, `"name": "beta"`) {
		t.Errorf("bool filter result = %q", text)
	}

	r = callTool(t, srv, "remove_data_entry", map[string]interface{}{
		"user_id":          "alice",
		"target_blob_name": "flags.json",
		"key_to_find":      "weight",
		"value_to_find":    float64(3),
	})
	if !strings.Contains(resultText(r), `"deleted_count": 1`) {
		t.Errorf("numeric remove result = %q", resultText(r))
	}
}

func TestMatchValueSchemasAreTypeFree(t *testing.T) {
	for name, raw := range map[string]struct{ schema, field string }{
		"get_filtered_data": {filteredDataSchema, "filter_value"},
		"update_data_entry": {updateEntrySchema, "find_value"},
		"remove_data_entry": {removeEntrySchema, "value_to_find"},
	} {
		var schema struct {
			Properties map[string]map[string]any `json:"properties"`
		}
		if err := json.Unmarshal([]byte(raw.schema), &schema); err != nil {
			t.Fatalf("%s schema: %v", name, err)
		}
		prop, ok := schema.Properties[raw.field]
		if !ok {
			t.Fatalf("%s schema has no %s property", name, raw.field)
		}
		if _, typed := prop["type"]; typed {
			t.Errorf("%s.%s declares a type; match values must accept any JSON type", name, raw.field)
		}
	}
}

func TestToolErrorsAreToolResults(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "read_blob_file", map[string]interface{}{
		"user_id":   "alice",
		"file_name": "missing.json",
	})
	if !r.IsError {
		t.Fatal("expected an error result")
	}
	if !strings.Contains(resultText(r), "not_found") {
		t.Errorf("error result = %q", resultText(r))
	}

	r = callTool(t, srv, "list_blobs", map[string]interface{}{
		"user_id": "../escape",
	})
	if !r.IsError {
		t.Error("expected invalid identifier to be an error result")
	}
}

func TestInteractionRoundTrip(t *testing.T) {
	srv := testServer(t)

	callTool(t, srv, "save_interaction", map[string]interface{}{
		"user_id":            "alice",
		"user_message":       "hello",
		"assistant_response": "hi",
	})
	r := callTool(t, srv, "get_interaction_history", map[string]interface{}{
		"user_id": "alice",
	})
	text := resultText(r)
	if !strings.Contains(text, `"total_count": 1`) {
		t.Errorf("history result = %q", text)
	}
}
