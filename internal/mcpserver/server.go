// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the Omniflow document tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/omniflow-labs/omniflow/internal/dispatch"
	"github.com/omniflow-labs/omniflow/internal/namespace"
)

const filteredDataSchema = `{
	"type": "object",
	"properties": {
		"target_blob_name": {"type": "string", "description": "Document name"},
		"filter_key": {"type": "string", "description": "Entry key to match"},
		"filter_value": {"description": "Value the key must equal (exact, type-sensitive match)"},
		"user_id": {"type": "string", "description": "Namespace owner"}
	},
	"required": ["target_blob_name", "filter_key", "filter_value"]
}`

const updateEntrySchema = `{
	"type": "object",
	"properties": {
		"target_blob_name": {"type": "string", "description": "Document name"},
		"find_key": {"type": "string", "description": "Entry key to match"},
		"find_value": {"description": "Value to match (exact, type-sensitive)"},
		"update_key": {"type": "string", "description": "Key to set on the matched entry"},
		"update_value": {"description": "New value (JSON strings are decoded)"},
		"user_id": {"type": "string", "description": "Namespace owner"}
	},
	"required": ["target_blob_name", "find_key", "find_value", "update_key", "update_value"]
}`

const removeEntrySchema = `{
	"type": "object",
	"properties": {
		"target_blob_name": {"type": "string", "description": "Document name"},
		"key_to_find": {"type": "string", "description": "Entry key to match"},
		"value_to_find": {"description": "Value to match (exact, type-sensitive)"},
		"user_id": {"type": "string", "description": "Namespace owner"}
	},
	"required": ["target_blob_name", "key_to_find", "value_to_find"]
}`

// Server wraps the MCP server with Omniflow tools.
type Server struct {
	mcp        *server.MCPServer
	dispatcher *dispatch.Dispatcher
	resolver   *namespace.Resolver
}

// New creates a new MCP server with all document tools registered. Every tool
// accepts an optional user_id argument selecting the namespace; without it
// calls land in the default namespace.
func New(d *dispatch.Dispatcher, resolver *namespace.Resolver) *Server {
	s := &Server{dispatcher: d, resolver: resolver}

	s.mcp = server.NewMCPServer(
		"Omniflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("add_new_data",
		mcp.WithDescription("Append one entry object to a list-shaped JSON document, creating the document if missing."),
		mcp.WithString("target_blob_name", mcp.Required(), mcp.Description("Document name, e.g. tasks.json")),
		mcp.WithObject("new_entry", mcp.Required(), mcp.Description("Entry object to append")),
		mcp.WithString("user_id", mcp.Description("Namespace owner (defaults to the shared namespace)")),
	), s.call("add_new_data"))

	// The match-value parameters are deliberately type-free: entries match
	// with exact, type-sensitive equality, so clients must be able to send
	// numbers and booleans as well as strings. The typed With* helpers all
	// pin a type, hence raw schemas for these three tools.
	s.mcp.AddTool(mcp.NewToolWithRawSchema("get_filtered_data",
		"Return the entries of a list-shaped document matching filter_key == filter_value.",
		json.RawMessage(filteredDataSchema)), s.call("get_filtered_data"))

	s.mcp.AddTool(mcp.NewToolWithRawSchema("update_data_entry",
		"Update one field of the first entry matching find_key == find_value.",
		json.RawMessage(updateEntrySchema)), s.call("update_data_entry"))

	s.mcp.AddTool(mcp.NewToolWithRawSchema("remove_data_entry",
		"Remove every entry matching key_to_find == value_to_find. Zero matches is a success.",
		json.RawMessage(removeEntrySchema)), s.call("remove_data_entry"))

	s.mcp.AddTool(mcp.NewTool("upload_data_or_file",
		mcp.WithDescription("Store arbitrary text or JSON content under a document name, replacing any prior content."),
		mcp.WithString("target_blob_name", mcp.Required(), mcp.Description("Document name")),
		mcp.WithString("file_content", mcp.Required(), mcp.Description("Content to store (JSON strings are decoded)")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("upload_data_or_file"))

	s.mcp.AddTool(mcp.NewTool("read_blob_file",
		mcp.WithDescription("Read one document, parsed as JSON when possible."),
		mcp.WithString("file_name", mcp.Required(), mcp.Description("Document name")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("read_blob_file"))

	s.mcp.AddTool(mcp.NewTool("read_many_blobs",
		mcp.WithDescription("Read several documents in one call with per-file size limits and optional tail mode for logs."),
		mcp.WithArray("files", mcp.Required(), mcp.Description("Document names to read")),
		mcp.WithNumber("tail_lines", mcp.Description("Return only the last N non-empty lines of each file")),
		mcp.WithNumber("max_bytes_per_file", mcp.Description("Per-file byte cap")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("read_many_blobs"))

	s.mcp.AddTool(mcp.NewTool("list_blobs",
		mcp.WithDescription("List the document names in the namespace."),
		mcp.WithString("prefix", mcp.Description("Optional name prefix filter")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("list_blobs"))

	s.mcp.AddTool(mcp.NewTool("manage_files",
		mcp.WithDescription("List, rename, or delete documents. Deleting a missing document succeeds."),
		mcp.WithString("operation", mcp.Required(), mcp.Description("One of list, rename, delete")),
		mcp.WithString("source_name", mcp.Description("Document to rename or delete")),
		mcp.WithString("target_name", mcp.Description("New name for rename")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("manage_files"))

	s.mcp.AddTool(mcp.NewTool("save_interaction",
		mcp.WithDescription("Record one user/assistant exchange in the interaction history."),
		mcp.WithString("user_message", mcp.Required(), mcp.Description("What the user said")),
		mcp.WithString("assistant_response", mcp.Required(), mcp.Description("What the assistant replied")),
		mcp.WithString("thread_id", mcp.Description("Conversation thread identifier")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("save_interaction"))

	s.mcp.AddTool(mcp.NewTool("get_interaction_history",
		mcp.WithDescription("Read recorded interactions, oldest first, with limit/offset paging."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50, max 1000)")),
		mcp.WithNumber("offset", mcp.Description("Records to skip")),
		mcp.WithString("thread_id", mcp.Description("Only interactions of this thread")),
		mcp.WithString("user_id", mcp.Description("Namespace owner")),
	), s.call("get_interaction_history"))

	s.mcp.AddTool(mcp.NewTool("get_current_time",
		mcp.WithDescription("Current UTC time in RFC 3339 format."),
	), s.call("get_current_time"))

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// call adapts one dispatcher tool to an MCP handler. Failures become tool
// errors, never protocol errors, so the model sees the message.
func (s *Server) call(tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		userID, _ := args["user_id"].(string)
		delete(args, "user_id")

		ns, err := s.resolver.Resolve(userID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := s.dispatcher.DispatchTool(ctx, ns, tool, args)
		if err != nil {
			raw, _ := json.Marshal(dispatch.ErrorEnvelope(ns, err))
			return mcp.NewToolResultError(string(raw)), nil
		}
		out, _ := json.MarshalIndent(dispatch.Envelope(ns, res), "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	}
}
