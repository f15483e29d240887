package dispatch

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

var (
	placeholderPattern = regexp.MustCompile(`^\$prev\[(\d+)\](.*)$`)
	pathTokenPattern   = regexp.MustCompile(`(\.[A-Za-z0-9_\-]+|\[\d+\])`)
)

// Step is one tool call inside a chain. Params may reference earlier step
// results through $prev[N] placeholders.
type Step struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// StepTrace records one executed (or failed) chain step.
type StepTrace struct {
	Step       int            `json:"step"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
	Status     string         `json:"status"`
	DurationMS float64        `json:"duration_ms"`
	Response   map[string]any `json:"response,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ChainResult is the outcome of a chain run. Status is "success" when every
// step completed, "failed" when execution stopped early; Trace always covers
// every step that ran, including the failing one.
type ChainResult struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Trace  []StepTrace    `json:"trace"`
	Err    error          `json:"-"`
}

// RunChain executes steps in order, feeding each step's envelope into the
// placeholder scope of the ones after it. The first failing step aborts the
// rest; completed results are still returned.
func (d *Dispatcher) RunChain(ctx context.Context, ns string, steps []Step) (ChainResult, error) {
	if len(steps) == 0 {
		return ChainResult{}, apperr.New(apperr.KindMissingArgument, "tool_chain must be a non-empty list")
	}
	for i, step := range steps {
		if step.Tool == "" {
			return ChainResult{}, apperr.New(apperr.KindMalformedInput, "tool_chain[%d].tool must be a non-empty string", i)
		}
		if !d.Known(step.Tool) {
			return ChainResult{}, apperr.New(apperr.KindMalformedInput, "unsupported tool %q in tool_chain", step.Tool)
		}
	}

	out := ChainResult{Status: "success", Trace: make([]StepTrace, 0, len(steps))}
	previous := make([]map[string]any, 0, len(steps))

	for i, step := range steps {
		params, err := resolvePlaceholders(step.Params, previous)
		if err != nil {
			out.Status = "failed"
			out.Err = err
			out.Trace = append(out.Trace, StepTrace{
				Step: i, Tool: step.Tool, Params: step.Params,
				Status: "failed", Error: apperr.MessageOf(err),
			})
			return out, nil
		}

		start := time.Now()
		res, err := d.DispatchTool(ctx, ns, step.Tool, params)
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		if err != nil {
			out.Status = "failed"
			out.Err = err
			out.Trace = append(out.Trace, StepTrace{
				Step: i, Tool: step.Tool, Params: params,
				Status: "failed", DurationMS: elapsed,
				Error: apperr.MessageOf(err),
			})
			return out, nil
		}

		env := Envelope(ns, res)
		out.Trace = append(out.Trace, StepTrace{
			Step: i, Tool: step.Tool, Params: params,
			Status: "success", DurationMS: elapsed, Response: env,
		})
		previous = append(previous, env)
	}

	out.Result = previous[len(previous)-1]
	return out, nil
}

// resolveValue walks value and substitutes every string of the form
// $prev[N] followed by an optional path of .key and [idx] tokens with the
// addressed fragment of an earlier step's envelope.
func resolveValue(value any, previous []map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		m := placeholderPattern.FindStringSubmatch(v)
		if m == nil {
			return v, nil
		}
		index, _ := strconv.Atoi(m[1])
		if index >= len(previous) {
			return nil, apperr.New(apperr.KindMalformedInput, "placeholder index %d out of range", index)
		}
		return resolvePath(previous[index], m[2])
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveValue(item, previous)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := resolveValue(item, previous)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolvePlaceholders(params map[string]any, previous []map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	resolved, err := resolveValue(params, previous)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolvePath(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	tokens := pathTokenPattern.FindAllString(path, -1)
	if strings.Join(tokens, "") != path {
		return nil, apperr.New(apperr.KindMalformedInput, "invalid placeholder path %q", path)
	}
	current := value
	for _, token := range tokens {
		if strings.HasPrefix(token, ".") {
			key := token[1:]
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, apperr.New(apperr.KindMalformedInput, "placeholder path %q addresses a non-object", path)
			}
			current, ok = obj[key]
			if !ok {
				return nil, apperr.New(apperr.KindMalformedInput, "missing key %q in placeholder path", key)
			}
		} else {
			index, _ := strconv.Atoi(token[1 : len(token)-1])
			switch list := current.(type) {
			case []any:
				if index >= len(list) {
					return nil, apperr.New(apperr.KindMalformedInput, "index %d out of range in placeholder path", index)
				}
				current = list[index]
			case []string:
				if index >= len(list) {
					return nil, apperr.New(apperr.KindMalformedInput, "index %d out of range in placeholder path", index)
				}
				current = list[index]
			default:
				return nil, apperr.New(apperr.KindMalformedInput, "placeholder path %q addresses a non-list", path)
			}
		}
	}
	return current, nil
}
