package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

const defaultProxyTimeout = 10 * time.Second

// ProxyClient forwards {action, params} requests to a configured upstream
// service for operations not modeled as first-class tools.
type ProxyClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewProxyClient(url string, timeout time.Duration) *ProxyClient {
	if timeout <= 0 {
		timeout = defaultProxyTimeout
	}
	return &ProxyClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Call posts the action to the upstream and returns its status code and
// decoded body. A transport failure is retried once; a timeout surfaces as
// an upstream-timeout error, never as an indefinite hang.
func (p *ProxyClient) Call(ctx context.Context, ns, action string, params map[string]any) (int, any, error) {
	if params == nil {
		params = map[string]any{}
	}
	params["user_id"] = ns
	payload, err := json.Marshal(map[string]any{"action": action, "params": params})
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindMalformedInput, err, "encode proxy payload")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		status, body, err := p.post(ctx, ns, payload)
		if err == nil {
			return status, body, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			break
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || isTimeout(lastErr) {
		return 0, nil, apperr.Wrap(apperr.KindUpstreamTimeout, lastErr, "upstream %q timed out", action)
	}
	return 0, nil, apperr.Wrap(apperr.KindStorageUnavailable, lastErr, "upstream call %q failed", action)
}

func (p *ProxyClient) post(ctx context.Context, ns string, payload []byte) (int, any, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", ns)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = map[string]any{"raw_response": string(raw)}
	}
	return resp.StatusCode, body, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
