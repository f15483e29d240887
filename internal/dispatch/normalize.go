package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

// normalizeArguments maps the argument aliases assistants use onto the
// canonical parameter names, reduces path-bearing file names to their final
// segment where only a bare name is meaningful, and decodes JSON-encoded
// string values for the arguments that accept structured content.
func normalizeArguments(tool string, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	switch tool {
	case "read_blob_file":
		if name, ok := popFirst(out, "file_name", "target_blob_name", "blob_name", "name"); ok {
			out["file_name"] = basename(name)
		}

	case "get_filtered_data":
		if name, ok := popFirst(out, "target_blob_name", "file_name", "blob_name", "name"); ok {
			out["target_blob_name"] = name
		}
		if key, ok := popFirst(out, "filter_key", "find_key", "key_to_find", "key", "match_key"); ok {
			out["filter_key"] = key
		}
		if val, ok := popFirstAny(out, "filter_value", "find_value", "value_to_find", "value", "match_value"); ok {
			out["filter_value"] = val
		}

	case "update_data_entry":
		if name, ok := popFirst(out, "target_blob_name", "file_name", "blob_name", "name"); ok {
			out["target_blob_name"] = name
		}
		if key, ok := popFirst(out, "find_key", "key_to_find", "key", "match_key"); ok {
			out["find_key"] = key
		}
		if val, ok := popFirstAny(out, "find_value", "value_to_find", "value", "match_value"); ok {
			out["find_value"] = val
		}
		if key, ok := popFirst(out, "update_key", "set_key"); ok {
			out["update_key"] = key
		}
		if val, ok := popFirstAny(out, "update_value", "set_value"); ok {
			out["update_value"] = decodeIfJSON(val)
		}

	case "remove_data_entry":
		if name, ok := popFirst(out, "target_blob_name", "file_name", "blob_name", "name"); ok {
			out["target_blob_name"] = name
		}
		if key, ok := popFirst(out, "key_to_find", "find_key", "key"); ok {
			out["key_to_find"] = key
		}
		if val, ok := popFirstAny(out, "value_to_find", "find_value", "value"); ok {
			out["value_to_find"] = val
		}

	case "add_new_data":
		if name, ok := popFirst(out, "target_blob_name", "file_name", "blob_name", "name"); ok {
			out["target_blob_name"] = name
		}
		if entry, ok := popFirstAny(out, "new_entry", "entry", "data"); ok {
			decoded, err := decodeStructured("new_entry", entry)
			if err != nil {
				return nil, err
			}
			out["new_entry"] = decoded
		}

	case "upload_data_or_file":
		if name, ok := popFirst(out, "target_blob_name", "file_name", "blob_name", "name"); ok {
			out["target_blob_name"] = name
		}
		if content, ok := popFirstAny(out, "file_content", "data", "content", "payload"); ok {
			out["file_content"] = decodeIfJSON(content)
		}

	case "manage_files":
		if op, ok := popFirst(out, "operation", "action", "op"); ok {
			out["operation"] = op
		}
		if src, ok := popFirst(out, "source_name", "from", "src"); ok {
			out["source_name"] = basename(src)
		}
		if dst, ok := popFirst(out, "target_name", "to", "dest", "destination"); ok {
			out["target_name"] = basename(dst)
		}

	case "save_interaction":
		if msg, ok := popFirst(out, "user_message", "message"); ok {
			out["user_message"] = msg
		}
		if resp, ok := popFirst(out, "assistant_response", "response"); ok {
			out["assistant_response"] = resp
		}
	}

	return out, nil
}

// popFirst returns the first non-empty string value among keys, removing
// every listed key from args.
func popFirst(args map[string]any, keys ...string) (string, bool) {
	found := ""
	for _, k := range keys {
		if v, ok := args[k].(string); ok && v != "" && found == "" {
			found = v
		}
		delete(args, k)
	}
	return found, found != ""
}

// popFirstAny is popFirst for values of any type; nil and empty strings do
// not count as present.
func popFirstAny(args map[string]any, keys ...string) (any, bool) {
	var found any
	for _, k := range keys {
		v, ok := args[k]
		if ok && v != nil && found == nil {
			if s, isStr := v.(string); !isStr || s != "" {
				found = v
			}
		}
		delete(args, k)
	}
	return found, found != nil
}

func basename(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// decodeIfJSON parses a string value as JSON when it happens to be valid
// JSON, and passes everything else through untouched.
func decodeIfJSON(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return v
	}
	return parsed
}

// decodeStructured accepts a structured value directly, or a JSON-encoded
// string for it. A string that looks like a JSON document but fails to parse
// is rejected rather than stored verbatim.
func decodeStructured(field string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return v, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, err, "field %q is not valid JSON", field)
	}
	return parsed, nil
}
