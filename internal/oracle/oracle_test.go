package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWrapOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Oracle) Oracle {
			return Func(func(ctx context.Context, s, u string) (string, error) {
				order = append(order, name)
				return next.Complete(ctx, s, u)
			})
		}
	}
	o := Wrap(Texts("ok"), tag("a"), tag("b"))
	text, err := o.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRetryRecovers(t *testing.T) {
	script := NewScript(
		Reply{Err: errors.New("boom")},
		Reply{Err: errors.New("boom")},
		Reply{Text: "third time"},
	)
	o := Wrap(script, WithRetry(2, time.Millisecond))

	text, err := o.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "third time", text)
	assert.Len(t, script.Calls(), 3)
}

func TestRetryGivesUp(t *testing.T) {
	script := NewScript(Reply{Err: errors.New("a")}, Reply{Err: errors.New("b")}, Reply{Text: "late"})
	o := Wrap(script, WithRetry(1, time.Millisecond))

	_, err := o.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Len(t, script.Calls(), 2)
}

func TestRetrySkipsPermanent(t *testing.T) {
	var calls atomic.Int32
	o := Wrap(Func(func(ctx context.Context, s, u string) (string, error) {
		calls.Add(1)
		return "", &PermanentError{Err: errors.New("bad key")}
	}), WithRetry(5, time.Millisecond))

	_, err := o.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := Wrap(Func(func(ctx context.Context, s, u string) (string, error) {
		cancel()
		return "", errors.New("flaky")
	}), WithRetry(3, time.Hour))

	_, err := o.Complete(ctx, "s", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutIsTransportFailure(t *testing.T) {
	slow := Func(func(ctx context.Context, s, u string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := Wrap(slow, WithTimeout(10*time.Millisecond))

	_, err := o.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounterAndLogging(t *testing.T) {
	var c Counter
	o := Wrap(NewScript(Reply{Text: "x"}, Reply{Err: errors.New("no")}), WithCounter(&c), WithLogging(zap.NewNop(), "test"))

	_, _ = o.Complete(context.Background(), "s", "u")
	_, _ = o.Complete(context.Background(), "s", "u")
	assert.Equal(t, int64(2), c.Calls())
	assert.Equal(t, int64(1), c.Failures())
}

func TestScriptExhausted(t *testing.T) {
	s := Texts("one")
	_, err := s.Complete(context.Background(), "", "")
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestScriptRespond(t *testing.T) {
	s := &Script{Respond: func(system, user string) (string, error) { return system + "|" + user, nil }}
	text, err := s.Complete(context.Background(), "sys", "usr")
	require.NoError(t, err)
	assert.Equal(t, "sys|usr", text)
	assert.Equal(t, []Call{{System: "sys", User: "usr"}}, s.Calls())
}

func TestOpenAIRequestAndResponse(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Contains(t, raw, "temperature")
		assert.Contains(t, raw, "top_p")
		b, _ := json.Marshal(raw)
		_ = json.Unmarshal(b, &got)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Shoes"}}],"usage":{"prompt_tokens":12,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "m", BaseURL: srv.URL + "/v1/", HTTPClient: srv.Client()})
	text, err := c.Complete(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.Equal(t, "Shoes", text)

	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, 0.0, got.TopP)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openAIMessage{Role: "system", Content: "system text"}, got.Messages[0])
	assert.Equal(t, openAIMessage{Role: "user", Content: "user text"}, got.Messages[1])

	assert.Equal(t, Usage{Calls: 1, InputTokens: 12, OutputTokens: 2}, c.Usage())
}

func TestOpenAIErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, false},
		{"server error", http.StatusBadGateway, `{}`, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, false},
		{"garbage", http.StatusOK, `not json`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
			_, err := c.Complete(context.Background(), "s", "u")
			require.Error(t, err)
			assert.True(t, IsTransport(err))
			var perm *PermanentError
			assert.Equal(t, tc.permanent, errors.As(err, &perm))
		})
	}
}

func TestAnthropicAgainstStubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.EqualValues(t, 0, body["temperature"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"2"}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":7,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "claude-test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	text, err := c.Complete(context.Background(), "pick one", "1. a\n2. b")
	require.NoError(t, err)
	assert.Equal(t, "2", text)
	assert.Equal(t, int64(7), c.Usage().InputTokens)
}

func TestNewUnknownProvider(t *testing.T) {
	_, _, err := New(context.Background(), Settings{Provider: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewOpenAIChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	var c Counter
	o, usage, err := New(context.Background(), Settings{
		Provider: ProviderOpenAI,
		APIKey:   "k",
		BaseURL:  srv.URL,
		Timeout:  time.Second,
		Counter:  &c,
	})
	require.NoError(t, err)
	text, err := o.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int64(1), c.Calls())
	assert.Equal(t, int64(1), usage.Usage().Calls)
}

func TestSDKClientErrorsAreNotRetried(t *testing.T) {
	type build func(url string, client *http.Client) Oracle
	anthropicClient := func(url string, client *http.Client) Oracle {
		return NewAnthropic(AnthropicConfig{APIKey: "k", Model: "claude-test", BaseURL: url, HTTPClient: client})
	}
	geminiClient := func(url string, client *http.Client) Oracle {
		g, err := NewGemini(context.Background(), GeminiConfig{APIKey: "k", Model: "gemini-test", BaseURL: url, HTTPClient: client})
		require.NoError(t, err)
		return g
	}
	anthropicBody := func(status int) string {
		return `{"type":"error","error":{"type":"api_error","message":"nope"}}`
	}
	geminiBody := func(status int) string {
		return fmt.Sprintf(`{"error":{"code":%d,"message":"nope","status":"ERR"}}`, status)
	}

	cases := []struct {
		name     string
		build    build
		body     func(status int) string
		status   int
		wantHits int32
	}{
		{"anthropic unauthorized", anthropicClient, anthropicBody, http.StatusUnauthorized, 1},
		{"anthropic not found", anthropicClient, anthropicBody, http.StatusNotFound, 1},
		{"anthropic overloaded", anthropicClient, anthropicBody, http.StatusServiceUnavailable, 3},
		{"gemini bad request", geminiClient, geminiBody, http.StatusBadRequest, 1},
		{"gemini rate limited", geminiClient, geminiBody, http.StatusTooManyRequests, 3},
		{"gemini server error", geminiClient, geminiBody, http.StatusInternalServerError, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body(tc.status)))
			}))
			defer srv.Close()

			o := Wrap(tc.build(srv.URL, srv.Client()), WithRetry(2, time.Millisecond))
			_, err := o.Complete(context.Background(), "s", "u")
			require.Error(t, err)
			assert.True(t, IsTransport(err))
			assert.Equal(t, tc.wantHits, hits.Load())

			var perm *PermanentError
			assert.Equal(t, tc.wantHits == 1, errors.As(err, &perm))
		})
	}
}
