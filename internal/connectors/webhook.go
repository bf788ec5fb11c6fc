package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rendis/tabflow/pkg/schema"
)

const (
	defaultWebhookTimeout = 15 * time.Second
	maxWebhookResponse    = 1 << 20
)

// Webhook posts JSON to named or explicit URLs.
//
// Actions: post (default), get. Params: hook (a configured name) or url,
// body (any JSON value), headers (map of strings).
type Webhook struct {
	hooks  map[string]string
	client *http.Client
}

// NewWebhook creates the webhook connector. A nil client gets a 15s timeout.
func NewWebhook(hooks map[string]string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Webhook{hooks: hooks, client: client}
}

func (w *Webhook) Name() string      { return "webhook" }
func (w *Webhook) Actions() []string { return []string{"post", "get"} }

// Hooks returns the configured hook names.
func (w *Webhook) Hooks() []string {
	names := make([]string, 0, len(w.hooks))
	for n := range w.hooks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (w *Webhook) target(params map[string]any) (string, error) {
	if name := stringParam(params, "hook", ""); name != "" {
		u, ok := w.hooks[name]
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "webhook: unknown hook %q", name)
		}
		return u, nil
	}
	raw, err := requireString("webhook", params, "url")
	if err != nil {
		return "", err
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "webhook: invalid url %q", raw)
	}
	return raw, nil
}

func (w *Webhook) Invoke(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	target, err := w.target(params)
	if err != nil {
		return nil, err
	}

	method := http.MethodPost
	switch strings.ToLower(action) {
	case "", "post", "send":
	case "get":
		method = http.MethodGet
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "webhook: unsupported action %q", action)
	}

	var body io.Reader
	if method == http.MethodPost {
		raw, err := json.Marshal(params["body"])
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "webhook: body is not JSON-encodable").WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "webhook: build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hdrs, ok := params["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "webhook: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "webhook: read response").WithCause(err)
	}
	var parsed any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			parsed = v
		}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsed,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if resp.StatusCode >= 400 {
		code := schema.ErrCodeHandler
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			code = schema.ErrCodeValidation
		}
		return nil, schema.NewErrorf(code, "webhook: server returned %d", resp.StatusCode).WithDetails(result)
	}
	return result, nil
}
