package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/backend/pkg/logger"
)

func testGateway() *Gateway {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.IdleTimeout = 200 * time.Millisecond
	return NewGateway(cfg, nil, logger.Discard())
}

func testProvider(url string) Provider {
	return Provider{Name: "test", BaseURL: url + "/", APIKey: "sk-secret"}
}

func TestCompleteSendsRequestAndReturnsContent(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"你好"}}]}`)
	}))
	defer srv.Close()

	reply, err := testGateway().Complete(context.Background(), testProvider(srv.URL),
		ModelSpec{Identifier: "qwen-plus", Temperature: 0.3, MaxTokens: 100},
		[]Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
	require.NoError(t, err)
	assert.Equal(t, "你好", reply)

	assert.Equal(t, "qwen-plus", got.Model)
	assert.True(t, got.EnableThinking)
	assert.False(t, got.Stream)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestCompleteClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
		text   string
	}{
		{http.StatusUnauthorized, KindUnauthorized, "401"},
		{http.StatusNotFound, KindNotFound, "404"},
		{http.StatusTooManyRequests, KindRateLimited, "429"},
		{http.StatusInternalServerError, KindHTTPStatus, "HTTP 500): boom"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, "boom")
			}))
			defer srv.Close()

			_, err := testGateway().Complete(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Contains(t, err.Error(), tt.text)
		})
	}
}

func TestCompleteDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	_, err := testGateway().Complete(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil)
	require.Error(t, err)
	assert.Equal(t, KindDecode, KindOf(err))
	assert.Contains(t, err.Error(), "json")
}

func TestCompleteTransportFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the connection without a response.
			conn, _, err := w.(http.Hijacker).Hijack()
			if assert.NoError(t, err) {
				conn.Close()
			}
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	reply, err := testGateway().Complete(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BreakerThreshold = 2
	g := NewGateway(cfg, nil, logger.Discard())
	p := testProvider(srv.URL)

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), p, ModelSpec{Identifier: "m"}, nil)
		assert.Equal(t, KindHTTPStatus, KindOf(err))
	}

	_, err := g.Complete(context.Background(), p, ModelSpec{Identifier: "m"}, nil)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{srv.URL + "/chat/completions"}, g.OpenCircuits())
}

func TestClientErrorsDoNotOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BreakerThreshold = 1
	g := NewGateway(cfg, nil, logger.Discard())

	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil)
		assert.Equal(t, KindUnauthorized, KindOf(err))
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprint(w, l+"\n\n")
			flusher.Flush()
		}
	}))
}

func collect(tokens *[]Token) func(Token) error {
	return func(tok Token) error {
		*tokens = append(*tokens, tok)
		return nil
	}
}

func TestStreamForwardsThinkingAndContent(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"role":"assistant","reasoning_content":"想一想"}}]}`,
		`: keep-alive`,
		`data: {broken`,
		`data: {"choices":[{"delta":{"content":"你"}}]}`,
		`data: {"choices":[{"delta":{"content":"好","reasoning":"ignored"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after done"}}]}`,
	)
	defer srv.Close()

	var tokens []Token
	reply, err := testGateway().Stream(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "deepseek-reasoner"}, nil, collect(&tokens))
	require.NoError(t, err)
	assert.Equal(t, "你好", reply)
	assert.Equal(t, []Token{
		{Kind: TokenThinking, Text: "想一想"},
		{Kind: TokenContent, Text: "你"},
		{Kind: TokenContent, Text: "好"},
	}, tokens)
}

func TestStreamReasoningAdapter(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"reasoning":"r1"}}]}`,
		`data: {"choices":[{"delta":{"reasoning_content":"ignored","content":"c1"}}]}`,
	)
	defer srv.Close()

	var tokens []Token
	reply, err := testGateway().Stream(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil, collect(&tokens))
	require.NoError(t, err)
	assert.Equal(t, "c1", reply)
	assert.Equal(t, []Token{{Kind: TokenThinking, Text: "r1"}, {Kind: TokenContent, Text: "c1"}}, tokens)
}

func TestStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testGateway().Stream(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil, func(Token) error { return nil })
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestStreamIdleTimeoutKeepsPartialReply(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"部分\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	reply, err := testGateway().Stream(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil, func(Token) error { return nil })
	require.Error(t, err)
	assert.Equal(t, KindIdleTimeout, KindOf(err))
	assert.Equal(t, "部分", reply)
}

func TestStreamCallbackErrorInterrupts(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
	)
	defer srv.Close()

	reply, err := testGateway().Stream(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil, func(Token) error {
		return fmt.Errorf("client gone")
	})
	assert.Equal(t, KindInterrupted, KindOf(err))
	assert.Equal(t, "a", reply)
}

func TestTransportErrorMentionsType(t *testing.T) {
	g := testGateway()
	g.cfg.Retries = 0

	_, err := g.Complete(context.Background(), Provider{Name: "x", BaseURL: "http://127.0.0.1:1/"}, ModelSpec{Identifier: "m"}, nil)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "AI服务调用异常: *"), err.Error())
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"a","object":"model"},{"id":"b","object":"model"}]}`)
	}))
	defer srv.Close()

	ids, err := testGateway().ListModels(context.Background(), testProvider(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFailureLogCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer srv.Close()

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	g := NewGateway(cfg, nil, logger.New(logger.Config{Output: &buf, JSON: true}))

	_, err := g.Complete(context.Background(), testProvider(srv.URL), ModelSpec{Identifier: "m"}, nil)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"status":502`)
	assert.Contains(t, out, "upstream down")
	assert.NotContains(t, out, "<nil>")
}
