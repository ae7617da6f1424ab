package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/pkg/retry"
)

func completionRequest() generation.CompletionRequest {
	return generation.CompletionRequest{
		System:      "system",
		Prompt:      "prompt",
		SchemaName:  generation.SchemaName,
		Schema:      generation.OptionsSchema,
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

func TestOpenAIComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"options\":[]}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`)
	}))
	defer srv.Close()

	c := NewOpenAI("test-key", "gpt-test", srv.URL, nil)
	resp, err := c.Complete(context.Background(), completionRequest())
	require.NoError(t, err)

	assert.Equal(t, `{"options":[]}`, resp.Content)
	assert.Equal(t, "gpt-test", resp.Model)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
	assert.Equal(t, 12, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-test", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 0.0001)
	assert.EqualValues(t, 2000, body["max_tokens"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema, ok := format["json_schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, generation.SchemaName, schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestOpenAIErrorsAreClassified(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
		errType   ErrorType
	}{
		{http.StatusTooManyRequests, true, ErrorTypeRateLimit},
		{http.StatusServiceUnavailable, true, ErrorTypeServer},
		{http.StatusUnauthorized, false, ErrorTypeAuth},
		{http.StatusNotFound, false, ErrorTypeEndpoint},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"test_error"}}`)
			}))
			defer srv.Close()

			_, err := NewOpenAI("k", "m", srv.URL, nil).Complete(context.Background(), completionRequest())
			require.Error(t, err)

			var llmErr *Error
			require.True(t, errors.As(err, &llmErr))
			assert.Equal(t, tc.retryable, llmErr.Retryable)
			assert.Equal(t, tc.errType, llmErr.Type)
			assert.Equal(t, tc.status, llmErr.StatusCode)
			assert.Equal(t, tc.retryable, retry.IsRetryable(err))
		})
	}
}

func TestAnthropicComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"m1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"{\"options\":[]}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":11,"output_tokens":22}}`)
	}))
	defer srv.Close()

	c := NewAnthropic("test-key", "claude-test", srv.URL, nil)
	resp, err := c.Complete(context.Background(), completionRequest())
	require.NoError(t, err)

	assert.Equal(t, `{"options":[]}`, resp.Content)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, 11, resp.Usage.PromptTokens)
	assert.Equal(t, 22, resp.Usage.CompletionTokens)
	assert.Equal(t, 33, resp.Usage.TotalTokens)

	system, err := json.Marshal(body["system"])
	require.NoError(t, err)
	assert.Contains(t, string(system), "system")
	assert.Contains(t, string(system), "matchReason")
	assert.EqualValues(t, 2000, body["max_tokens"])
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))

	e := ClassifyError(context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeTimeout, e.Type)
	assert.True(t, e.Retryable)

	e = ClassifyError(errors.New("dial tcp: connection refused"))
	assert.True(t, e.Retryable)

	e = ClassifyError(errors.New("error, status code: 529, message: overloaded"))
	assert.True(t, e.Retryable)

	e = ClassifyError(errors.New("model gpt-9 does not exist"))
	assert.Equal(t, ErrorTypeModel, e.Type)
	assert.False(t, e.Retryable)

	e = ClassifyError(errors.New("something odd"))
	assert.Equal(t, ErrorTypeUnknown, e.Type)
	assert.False(t, e.Retryable)

	already := newError(ErrorTypeServer, "x", true, 500, nil)
	assert.Same(t, already, ClassifyError(fmt.Errorf("wrapped: %w", already)))
}

func TestNew(t *testing.T) {
	_, _, err := New(Config{Provider: "openai"}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, name, err := New(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)
	assert.Equal(t, DefaultOpenAIModel, name)

	c, name, err = New(Config{Provider: "Anthropic", APIKey: "k", Model: "claude-x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, c)
	assert.Equal(t, "claude-x", name)

	_, _, err = New(Config{Provider: "llama", APIKey: "k"}, nil)
	assert.Error(t, err)

	_, err = Unavailable{Err: ErrMissingAPIKey}.Complete(context.Background(), completionRequest())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.False(t, retry.IsRetryable(err))
}

func TestGeneratorWithOpenAI(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"message":"bad gateway","type":"server_error"}}`)
			return
		}
		content, _ := json.Marshal(`{"options":[{"title":"A","description":"d","profile":{"coreRole":"r","requiredSkills":"s","environment":"e","growth":"g"},"matchReason":"m"}]}`)
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`, content)
	}))
	defer srv.Close()

	g := generation.New(NewOpenAI("k", "gpt-test", srv.URL, nil),
		generation.WithRetry(&retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}))
	res, err := g.Generate(context.Background(), minimalRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, res.Options, 1)
	assert.Equal(t, "A", res.Options[0].Title)
}
