package groq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu       sync.Mutex
	requests []chatRequest
	replies  []any
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/chat/completions", req.URL.Path)
		assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))

		var body chatRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.mu.Lock()
		r.requests = append(r.requests, body)
		idx := len(r.requests) - 1
		r.mu.Unlock()

		if idx >= len(r.replies) {
			http.Error(w, "unexpected request", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.replies[idx])
	}
}

func textReply(content string) chatResponse {
	return chatResponse{Choices: []chatChoice{{Message: message{Role: "assistant", Content: content}, FinishReason: "stop"}}}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Options{APIKey: "test-key", BaseURL: url + "/", Model: "llama-3.1-8b-instant"}, zap.NewNop())
	require.NoError(t, err)
	c.wait = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Model: "m"}, nil)
	require.Error(t, err)

	_, err = New(Options{APIKey: "k"}, nil)
	require.Error(t, err)

	c, err := New(Options{APIKey: "k", Model: "m", RequestsPerMinute: 30}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, "m", c.Model())
}

func TestGenerate(t *testing.T) {
	rec := &recorder{replies: []any{textReply(" 2 ")}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).Generate(context.Background(), "rank", "which resume?")
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, "llama-3.1-8b-instant", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "which resume?", req.Messages[1].Content)
	assert.Nil(t, req.ResponseFormat)
}

func TestGenerateJSONSetsResponseFormat(t *testing.T) {
	rec := &recorder{replies: []any{textReply(`{"facts":["a"]}`)}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).GenerateJSON(context.Background(), "", "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"facts":["a"]}`, out)

	require.Len(t, rec.requests, 1)
	require.NotNil(t, rec.requests[0].ResponseFormat)
	assert.Equal(t, "json_object", rec.requests[0].ResponseFormat.Type)
	assert.Len(t, rec.requests[0].Messages, 1)
}

func TestGenerateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Generate(context.Background(), "", "  ")
	require.Error(t, err)

	_, err = c.Generate(context.Background(), "", "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limited")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter(" 1.5 "))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(textReply("Resume ID: 1"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var waits []time.Duration
	c.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	out, err := c.Generate(context.Background(), "", "pick one")
	require.NoError(t, err)
	assert.Equal(t, "Resume ID: 1", out)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "", "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateEmptyContent(t *testing.T) {
	rec := &recorder{replies: []any{textReply("   ")}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
}

func TestChatToolRoundTrip(t *testing.T) {
	callReply := chatResponse{Choices: []chatChoice{{Message: message{
		Role: "assistant",
		ToolCalls: []toolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: functionCall{Name: "query_knowledge_base", Arguments: `{"question":"email"}`},
		}},
	}}}}

	rec := &recorder{replies: []any{callReply, textReply("all fields filled")}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	session, err := c.StartChat(context.Background(), "you fill forms", []ai.FunctionDecl{{
		Name:        "query_knowledge_base",
		Description: "facts",
		Params:      []ai.Param{{Name: "question", Type: "string", Required: true}},
	}})
	require.NoError(t, err)

	reply, err := session.Send(context.Background(), ai.Message{Text: "go"})
	require.NoError(t, err)
	require.Len(t, reply.Calls, 1)
	assert.Equal(t, "call_1", reply.Calls[0].ID)
	assert.Equal(t, "email", reply.Calls[0].Args["question"])

	reply, err = session.Send(context.Background(), ai.Message{Results: []ai.FunctionResult{{
		ID: "call_1", Name: "query_knowledge_base", Output: "- jane@example.com",
	}}})
	require.NoError(t, err)
	assert.Equal(t, "all fields filled", reply.Text)

	require.Len(t, rec.requests, 2)
	first := rec.requests[0]
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "function", first.Tools[0].Type)
	assert.Equal(t, "object", first.Tools[0].Function.Parameters["type"])

	second := rec.requests[1]
	require.Len(t, second.Messages, 4)
	assert.Equal(t, "assistant", second.Messages[2].Role)
	assert.Len(t, second.Messages[2].ToolCalls, 1)
	assert.Equal(t, "tool", second.Messages[3].Role)
	assert.Equal(t, "call_1", second.Messages[3].ToolCallID)
	assert.Equal(t, "- jane@example.com", second.Messages[3].Content)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	c, err := New(Options{APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)

	session, err := c.StartChat(context.Background(), "", nil)
	require.NoError(t, err)

	_, err = session.Send(context.Background(), ai.Message{})
	require.Error(t, err)
}
