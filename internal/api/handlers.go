package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/omniflow-labs/omniflow/internal/apperr"
	"github.com/omniflow-labs/omniflow/internal/dispatch"
)

// Handler holds API route handlers. Every route delegates to the tool
// dispatcher so HTTP calls and agent tool calls share one code path.
type Handler struct {
	dispatcher *dispatch.Dispatcher
}

// NewHandler creates a new Handler.
func NewHandler(d *dispatch.Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// decodeArgs reads a JSON object body into a tool-argument map. An empty
// body yields an empty map; anything that is not a JSON object is rejected.
func decodeArgs(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, namespaceFrom(r.Context()), apperr.Wrap(apperr.KindMalformedInput, err, "read request body"))
		return nil, false
	}
	if len(raw) == 0 {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		writeError(w, namespaceFrom(r.Context()), apperr.Wrap(apperr.KindMalformedInput, err, "request body must be a JSON object"))
		return nil, false
	}
	delete(args, "user_id")
	return args, true
}

// runTool dispatches a single tool call and renders its envelope.
func (h *Handler) runTool(w http.ResponseWriter, r *http.Request, tool string, args map[string]any) {
	ns := namespaceFrom(r.Context())
	res, err := h.dispatcher.Dispatch(r.Context(), ns, tool, args)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			slog.Error("tool call failed", slog.String("tool", tool), slog.String("error", err.Error()))
		}
		writeError(w, ns, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatch.Envelope(ns, res))
}

// postTool returns a handler for a POST route bound to one tool.
func (h *Handler) postTool(tool string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, ok := decodeArgs(w, r)
		if !ok {
			return
		}
		h.runTool(w, r, tool, args)
	}
}

// ReadBlobFile handles GET /api/read_blob_file?file_name=...
func (h *Handler) ReadBlobFile(w http.ResponseWriter, r *http.Request) {
	h.runTool(w, r, "read_blob_file", map[string]any{
		"file_name": r.URL.Query().Get("file_name"),
	})
}

// ListBlobs handles GET /api/list_blobs.
func (h *Handler) ListBlobs(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		args["prefix"] = prefix
	}
	h.runTool(w, r, "list_blobs", args)
}

// GetInteractionHistory handles GET /api/get_interaction_history.
func (h *Handler) GetInteractionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	h.runTool(w, r, "get_interaction_history", map[string]any{
		"limit":     limit,
		"offset":    offset,
		"thread_id": q.Get("thread_id"),
	})
}

// ToolCall handles POST /api/tool_call_handler. The body carries either a
// structured {tool_name, tool_arguments} pair or a free-form {message} that
// goes through the configured responder.
func (h *Handler) ToolCall(w http.ResponseWriter, r *http.Request) {
	ns := namespaceFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req struct {
		ToolName      string         `json:"tool_name"`
		ToolArguments map[string]any `json:"tool_arguments"`
		Message       string         `json:"message"`
		ThreadID      string         `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ns, apperr.Wrap(apperr.KindMalformedInput, err, "request body must be a JSON object"))
		return
	}

	switch {
	case req.ToolName != "":
		res, err := h.dispatcher.DispatchTool(r.Context(), ns, req.ToolName, req.ToolArguments)
		if err != nil {
			writeError(w, ns, err)
			return
		}
		env := dispatch.Envelope(ns, dispatch.Result{"result": res})
		writeJSON(w, http.StatusOK, env)
	case req.Message != "":
		res, err := h.dispatcher.Respond(r.Context(), ns, req.ThreadID, req.Message)
		if err != nil {
			writeError(w, ns, err)
			return
		}
		writeJSON(w, http.StatusOK, dispatch.Envelope(ns, res))
	default:
		writeError(w, ns, apperr.New(apperr.KindMissingArgument,
			"tool_call_handler requires 'message' or 'tool_name' with 'tool_arguments'"))
	}
}

// ToolChain handles POST /api/tool_chain.
func (h *Handler) ToolChain(w http.ResponseWriter, r *http.Request) {
	ns := namespaceFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req struct {
		ToolChain []dispatch.Step `json:"tool_chain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ns, apperr.Wrap(apperr.KindMalformedInput, err, "request body must be a JSON object"))
		return
	}

	res, err := h.dispatcher.RunChain(r.Context(), ns, req.ToolChain)
	if err != nil {
		writeError(w, ns, err)
		return
	}

	body := map[string]any{
		"status":  res.Status,
		"user_id": ns,
		"trace":   res.Trace,
	}
	status := http.StatusOK
	if res.Status == "failed" {
		var typed *apperr.Error
		if errors.As(res.Err, &typed) {
			body["error"] = map[string]any{
				"kind":    string(typed.Kind),
				"message": typed.Message,
			}
			status = statusFor(res.Err)
		} else {
			body["error"] = map[string]any{
				"kind":    string(apperr.KindInternal),
				"message": "chain step failed",
			}
			status = http.StatusInternalServerError
		}
	} else {
		body["result"] = res.Result
	}
	writeJSON(w, status, body)
}
