package connectors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func TestWebhook_PostNamedHook(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("X-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accepted":true}`)
	}))
	defer srv.Close()

	wh := NewWebhook(map[string]string{"alerts": srv.URL}, nil)
	out, err := wh.Invoke(context.Background(), "post", map[string]any{
		"hook":    "alerts",
		"body":    map[string]any{"title": "done"},
		"headers": map[string]any{"X-Token": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, out["status_code"])
	assert.Equal(t, map[string]any{"accepted": true}, out["body"])
	assert.Equal(t, "done", got["title"])
	assert.Equal(t, "abc", auth)
	assert.Equal(t, []string{"alerts"}, wh.Hooks())
}

func TestWebhook_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(nil, nil)
	ctx := context.Background()

	_, err := wh.Invoke(ctx, "post", map[string]any{"hook": "unknown"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = wh.Invoke(ctx, "post", map[string]any{"url": "ftp://x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = wh.Invoke(ctx, "delete", map[string]any{"url": srv.URL})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = wh.Invoke(ctx, "get", map[string]any{"url": srv.URL + "/bad"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = wh.Invoke(ctx, "get", map[string]any{"url": srv.URL + "/up"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
}

func TestTelegram_SendMessage(t *testing.T) {
	var sentText, sentChat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"tabflow","username":"tabflow_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			sentText, sentChat = r.Form.Get("text"), r.Form.Get("chat_id")
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg := NewTelegram("123:abc", srv.URL+"/bot%s/%s")
	out, err := tg.Invoke(context.Background(), "send_message", map[string]any{"chat_id": float64(42), "text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 7, out["message_id"])
	assert.EqualValues(t, 42, out["chat_id"])
	assert.Equal(t, "hi", sentText)
	assert.Equal(t, "42", sentChat)
}

func TestTelegram_Validation(t *testing.T) {
	tg := NewTelegram("", "")
	ctx := context.Background()

	_, err := tg.Invoke(ctx, "send_message", map[string]any{"chat_id": 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = tg.Invoke(ctx, "send_message", map[string]any{"text": "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = tg.Invoke(ctx, "kick", map[string]any{"text": "x", "chat_id": 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = tg.Invoke(ctx, "send_message", map[string]any{"text": "x", "chat_id": 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "missing token")
}

// rewriteTransport sends every request to target, keeping the path.
type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme, r.URL.Host = rt.target.Scheme, rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func TestDiscord_SendMessage(t *testing.T) {
	var body map[string]any
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, auth = r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m1","channel_id":"c1","content":"hello"}`)
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	dc, err := NewDiscord("tok", &http.Client{Transport: rewriteTransport{target: target}})
	require.NoError(t, err)

	out, err := dc.Invoke(context.Background(), "send_message", map[string]any{"channel_id": "c1", "content": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "m1", out["message_id"])
	assert.Equal(t, "c1", out["channel_id"])
	assert.Contains(t, path, "/channels/c1/messages")
	assert.Equal(t, "Bot tok", auth)
	assert.Equal(t, "hello", body["content"])
}

func TestDiscord_Validation(t *testing.T) {
	_, err := NewDiscord("", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	dc, err := NewDiscord("tok", nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = dc.Invoke(ctx, "send_message", map[string]any{"content": "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	_, err = dc.Invoke(ctx, "send_embed", map[string]any{"channel_id": "c"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	_, err = dc.Invoke(ctx, "ban", map[string]any{"channel_id": "c"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
