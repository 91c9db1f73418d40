package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/khaledhikmat/asd-go/service/config"
)

func newTestClient(url, key string) IService {
	s := config.Defaults()
	s.ChatAPIKey = key
	s.ChatBaseURL = url
	s.ChatModel = "demo-model"
	return NewGroq(config.New(s))
}

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func TestCompleteSendsMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "demo-model", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
		assert.Equal(t, "hello", gjson.GetBytes(body, "messages.0.content").String())

		_ = json.NewEncoder(w).Encode(completion("hi there"))
	}))
	defer server.Close()

	content, err := newTestClient(server.URL, "secret").Complete(context.Background(), []Message{UserText("hello")})
	require.NoError(t, err)
	assert.Equal(t, "hi there", content)
}

func TestCompleteSendsImageParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		parts := gjson.GetBytes(body, "messages.0.content")
		assert.True(t, parts.IsArray())
		assert.Equal(t, "text", parts.Get("0.type").String())
		assert.Equal(t, "describe", parts.Get("0.text").String())
		assert.Equal(t, "image_url", parts.Get("1.type").String())
		assert.Equal(t, "data:image/jpeg;base64,AAAA", parts.Get("1.image_url.url").String())

		_ = json.NewEncoder(w).Encode(completion("a child playing"))
	}))
	defer server.Close()

	msg := UserImage("describe", "data:image/jpeg;base64,AAAA")
	content, err := newTestClient(server.URL, "secret").Complete(context.Background(), []Message{msg})
	require.NoError(t, err)
	assert.Equal(t, "a child playing", content)
}

func TestCompleteDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "secret").Complete(context.Background(), []Message{UserText("hello")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(1), hits.Load())
}

func TestCompleteEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion("  "))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "secret").Complete(context.Background(), []Message{UserText("hello")})
	assert.True(t, errors.Is(err, ErrEmptyContent))
}

func TestCompleteRequiresKey(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0", "").Complete(context.Background(), []Message{UserText("hello")})
	assert.Error(t, err)
}

func TestFakeRecordsRequests(t *testing.T) {
	fake := NewFake(nil)
	content, err := fake.Complete(context.Background(), []Message{UserText("a")})
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Len(t, fake.Requests(), 1)
}
