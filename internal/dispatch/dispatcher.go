// Package dispatch routes named tool calls to the document operations,
// validates and normalizes their arguments, and wraps every outcome in a
// uniform response envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/omniflow-labs/omniflow/internal/apperr"
	"github.com/omniflow-labs/omniflow/internal/history"
	"github.com/omniflow-labs/omniflow/internal/ops"
)

// Result carries the tool-specific fields of a successful call.
type Result = map[string]any

// Responder turns a free-form user message into an assistant reply, possibly
// making tool calls along the way. Implementations talk to an external LLM;
// tests substitute a stub.
type Responder interface {
	Respond(ctx context.Context, namespace, threadID, message string) (reply string, toolCalls []history.ToolCall, err error)
}

// handler executes one tool against an already-resolved namespace.
type handler func(ctx context.Context, ns string, args map[string]any) (Result, error)

type tool struct {
	required []string
	// strictOnly arguments are required on the orchestrated tool surfaces
	// (tool_call_handler, chains, MCP) but optional on the direct route,
	// where omitting them has a defined meaning.
	strictOnly []string
	mutating   bool
	run        handler
}

type Dispatcher struct {
	ops       *ops.Service
	history   *history.Logger
	responder Responder
	proxy     *ProxyClient
	logger    *slog.Logger
	now       func() time.Time
	tools     map[string]tool
}

func NewDispatcher(svc *ops.Service, hist *history.Logger, proxy *ProxyClient, responder Responder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		ops:       svc,
		history:   hist,
		responder: responder,
		proxy:     proxy,
		logger:    logger,
		now:       time.Now,
	}
	d.tools = map[string]tool{
		"add_new_data":            {required: []string{"target_blob_name", "new_entry"}, mutating: true, run: d.addNewData},
		"get_filtered_data":       {required: []string{"target_blob_name"}, strictOnly: []string{"filter_key", "filter_value"}, run: d.getFilteredData},
		"update_data_entry":       {required: []string{"target_blob_name", "find_key", "find_value", "update_key", "update_value"}, mutating: true, run: d.updateDataEntry},
		"remove_data_entry":       {required: []string{"target_blob_name", "key_to_find", "value_to_find"}, mutating: true, run: d.removeDataEntry},
		"upload_data_or_file":     {required: []string{"target_blob_name", "file_content"}, mutating: true, run: d.uploadDataOrFile},
		"read_blob_file":          {required: []string{"file_name"}, run: d.readBlobFile},
		"read_many_blobs":         {required: []string{"files"}, run: d.readManyBlobs},
		"list_blobs":              {run: d.listBlobs},
		"manage_files":            {required: []string{"operation"}, run: d.manageFiles},
		"save_interaction":        {required: []string{"user_message", "assistant_response"}, mutating: true, run: d.saveInteraction},
		"get_interaction_history": {run: d.getInteractionHistory},
		"get_current_time":        {run: d.getCurrentTime},
		"proxy":                   {required: []string{"action"}, run: d.proxyCall},
	}
	return d
}

// Tools returns the registered tool names, sorted.
func (d *Dispatcher) Tools() []string {
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is a registered tool.
func (d *Dispatcher) Known(name string) bool {
	_, ok := d.tools[name]
	return ok
}

// Dispatch runs a single tool call from a direct route. Arguments are
// normalized and validated first; any panic inside a handler is converted
// into an internal error so no call ever escapes the envelope contract.
func (d *Dispatcher) Dispatch(ctx context.Context, ns, name string, args map[string]any) (Result, error) {
	return d.dispatch(ctx, ns, name, args, false)
}

// DispatchTool runs a single tool call from an orchestrated surface
// (tool_call_handler, tool chains, MCP), enforcing the full tool schema
// including arguments that a direct route may omit.
func (d *Dispatcher) DispatchTool(ctx context.Context, ns, name string, args map[string]any) (Result, error) {
	return d.dispatch(ctx, ns, name, args, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, ns, name string, args map[string]any, strict bool) (res Result, err error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, apperr.New(apperr.KindMalformedInput, "unknown tool %q", name)
	}

	args, err = normalizeArguments(name, args)
	if err != nil {
		return nil, err
	}
	required := t.required
	if strict && len(t.strictOnly) != 0 {
		required = append(append([]string{}, required...), t.strictOnly...)
	}
	if missing := missingArguments(required, args); len(missing) != 0 {
		return nil, apperr.New(apperr.KindMissingArgument,
			"tool %q missing required arguments: %v", name, missing)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panic", "tool", name, "panic", fmt.Sprint(r))
			res, err = nil, apperr.New(apperr.KindInternal, "tool %q failed", name)
		}
	}()

	res, err = t.run(ctx, ns, args)
	if err != nil {
		return nil, err
	}
	if t.mutating {
		// Best effort: a failed audit write never fails the call.
		d.history.RecordToolCall(ctx, ns, history.ToolCall{
			Tool:      name,
			Arguments: args,
			Result:    res,
			Success:   true,
		})
	}
	return res, nil
}

// Envelope wraps a successful result for a namespace.
func Envelope(ns string, res Result) map[string]any {
	env := map[string]any{"status": "success", "user_id": ns}
	for k, v := range res {
		env[k] = v
	}
	return env
}

// ErrorEnvelope wraps a failure. Unrecognized errors surface a generic
// internal kind with a redacted message.
func ErrorEnvelope(ns string, err error) map[string]any {
	return map[string]any{
		"status":  "error",
		"user_id": ns,
		"error": map[string]any{
			"kind":    string(apperr.KindOf(err)),
			"message": apperr.MessageOf(err),
		},
	}
}

func (d *Dispatcher) addNewData(ctx context.Context, ns string, args map[string]any) (Result, error) {
	name := stringArg(args, "target_blob_name")
	count, err := d.ops.AddEntry(ctx, ns, name, args["new_entry"])
	if err != nil {
		return nil, err
	}
	return Result{"file": name, "entry_count": count}, nil
}

func (d *Dispatcher) getFilteredData(ctx context.Context, ns string, args map[string]any) (Result, error) {
	res, err := d.ops.FilterEntries(ctx, ns, stringArg(args, "target_blob_name"),
		stringArg(args, "filter_key"), args["filter_value"])
	if err != nil {
		return nil, err
	}
	return Result{
		"file":         res.Name,
		"filter_key":   res.Key,
		"filter_value": res.Value,
		"data":         res.Data,
		"count":        res.Count,
		"total":        res.Total,
	}, nil
}

func (d *Dispatcher) updateDataEntry(ctx context.Context, ns string, args map[string]any) (Result, error) {
	res, err := d.ops.UpdateEntry(ctx, ns, stringArg(args, "target_blob_name"),
		stringArg(args, "find_key"), args["find_value"],
		stringArg(args, "update_key"), args["update_value"])
	if err != nil {
		return nil, err
	}
	return Result{
		"file":          res.Name,
		"updated_key":   res.UpdatedKey,
		"updated_value": res.UpdatedValue,
		"entry":         res.Entry,
	}, nil
}

func (d *Dispatcher) removeDataEntry(ctx context.Context, ns string, args map[string]any) (Result, error) {
	name := stringArg(args, "target_blob_name")
	deleted, err := d.ops.RemoveEntries(ctx, ns, name, stringArg(args, "key_to_find"), args["value_to_find"])
	if err != nil {
		return nil, err
	}
	return Result{"file": name, "deleted_count": deleted}, nil
}

func (d *Dispatcher) uploadDataOrFile(ctx context.Context, ns string, args map[string]any) (Result, error) {
	name := stringArg(args, "target_blob_name")
	loc, err := d.ops.UploadDocument(ctx, ns, name, args["file_content"])
	if err != nil {
		return nil, err
	}
	return Result{"file": name, "storage_location": loc}, nil
}

func (d *Dispatcher) readBlobFile(ctx context.Context, ns string, args map[string]any) (Result, error) {
	res, err := d.ops.ReadDocument(ctx, ns, stringArg(args, "file_name"))
	if err != nil {
		return nil, err
	}
	return Result{
		"file_name":    res.Name,
		"data":         res.Data,
		"content_type": res.ContentType,
	}, nil
}

func (d *Dispatcher) readManyBlobs(ctx context.Context, ns string, args map[string]any) (Result, error) {
	req := ops.ReadManyRequest{
		Files:           stringListArg(args, "files"),
		TailLines:       intArg(args, "tail_lines"),
		TailBytes:       intArg(args, "tail_bytes"),
		MaxBytesPerFile: intArg(args, "max_bytes_per_file"),
		MaxFiles:        intArg(args, "max_files"),
	}
	if v, ok := args["parse_json"].(bool); ok {
		req.ParseJSON = &v
	}
	res, err := d.ops.ReadMany(ctx, ns, req)
	if err != nil {
		return nil, err
	}
	return Result{"results": res.Items, "count": res.Count, "errors": res.Errors}, nil
}

func (d *Dispatcher) listBlobs(ctx context.Context, ns string, args map[string]any) (Result, error) {
	docs, err := d.ops.ListDocuments(ctx, ns, stringArg(args, "prefix"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return Result{"blobs": names, "count": len(names)}, nil
}

func (d *Dispatcher) manageFiles(ctx context.Context, ns string, args map[string]any) (Result, error) {
	op := stringArg(args, "operation")
	switch op {
	case "list":
		res, err := d.listBlobs(ctx, ns, args)
		if err != nil {
			return nil, err
		}
		res["operation"] = "list"
		res["prefix"] = stringArg(args, "prefix")
		res["files"] = res["blobs"]
		return res, nil
	case "delete":
		source := stringArg(args, "source_name")
		if source == "" {
			return nil, apperr.New(apperr.KindMissingArgument, "tool %q missing required arguments: [source_name]", "manage_files")
		}
		if err := d.ops.DeleteDocument(ctx, ns, source); err != nil {
			return nil, err
		}
		return Result{"operation": "delete", "source_name": source}, nil
	case "rename":
		source := stringArg(args, "source_name")
		target := stringArg(args, "target_name")
		if source == "" || target == "" {
			return nil, apperr.New(apperr.KindMissingArgument, "tool %q missing required arguments: [source_name target_name]", "manage_files")
		}
		if err := d.ops.RenameDocument(ctx, ns, source, target); err != nil {
			return nil, err
		}
		return Result{"operation": "rename", "source_name": source, "target_name": target}, nil
	default:
		return nil, apperr.New(apperr.KindMalformedInput, "unsupported manage_files operation %q", op)
	}
}

func (d *Dispatcher) saveInteraction(ctx context.Context, ns string, args map[string]any) (Result, error) {
	rec := history.Record{
		ThreadID:          stringArg(args, "thread_id"),
		UserMessage:       stringArg(args, "user_message"),
		AssistantResponse: stringArg(args, "assistant_response"),
	}
	if meta, ok := args["metadata"].(map[string]any); ok {
		rec.Metadata = meta
	}
	res, err := d.history.Append(ctx, ns, rec)
	if err != nil {
		return nil, err
	}
	out := Result{"interaction_id": res.InteractionID, "total": res.Total}
	if res.Skipped {
		out["skipped"] = true
		out["code"] = res.Code
	}
	return out, nil
}

func (d *Dispatcher) getInteractionHistory(ctx context.Context, ns string, args map[string]any) (Result, error) {
	page, err := d.history.ReadHistory(ctx, ns, stringArg(args, "thread_id"),
		intArg(args, "offset"), intArg(args, "limit"))
	if err != nil {
		return nil, err
	}
	return Result{
		"data":        page.Records,
		"count":       page.Count,
		"total_count": page.Total,
		"offset":      page.Offset,
		"limit":       page.Limit,
	}, nil
}

func (d *Dispatcher) getCurrentTime(_ context.Context, _ string, _ map[string]any) (Result, error) {
	return Result{"current_time": d.now().UTC().Format(time.RFC3339)}, nil
}

func (d *Dispatcher) proxyCall(ctx context.Context, ns string, args map[string]any) (Result, error) {
	if d.proxy == nil {
		return nil, apperr.New(apperr.KindMalformedInput, "proxy upstream is not configured")
	}
	params, _ := args["params"].(map[string]any)
	status, body, err := d.proxy.Call(ctx, ns, stringArg(args, "action"), params)
	if err != nil {
		return nil, err
	}
	return Result{"upstream_status": status, "data": body}, nil
}

// Respond handles a free-form message through the configured responder and
// records the exchange. The recording is best effort.
func (d *Dispatcher) Respond(ctx context.Context, ns, threadID, message string) (Result, error) {
	if d.responder == nil {
		return nil, apperr.New(apperr.KindMalformedInput, "no responder configured; supply tool_name and tool_arguments")
	}
	reply, calls, err := d.responder.Respond(ctx, ns, threadID, message)
	if err != nil {
		var typed *apperr.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindInternal, err, "responder failed")
	}
	if _, err := d.history.Append(ctx, ns, history.Record{
		ThreadID:          threadID,
		UserMessage:       message,
		AssistantResponse: reply,
		ToolCalls:         calls,
	}); err != nil {
		d.logger.Warn("interaction record failed", "namespace", ns, "error", err)
	}
	res := Result{"response": reply}
	if threadID != "" {
		res["thread_id"] = threadID
	}
	if len(calls) > 0 {
		res["tool_calls_made"] = calls
	}
	return res, nil
}

func missingArguments(required []string, args map[string]any) []string {
	var missing []string
	for _, key := range required {
		v, ok := args[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func stringListArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
