package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, handler func(path string, body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		status, resp := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAILLMComplete(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := newOpenAIServer(t, func(path string, body map[string]any) (int, string) {
		gotPath, gotBody = path, body
		return http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Generated"}}]}`
	})

	llm, err := NewOpenAILLMFromConfig(&LLMSettings{Model: "gpt-4o", APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	out, err := llm.Complete(context.Background(), BuildGrammarPrompt(DefaultTemplates().Grammar, "text"))
	require.NoError(t, err)
	assert.Equal(t, "Generated", out)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.EqualValues(t, 0, gotBody["temperature"])
}

func TestOpenAILLMProviderError(t *testing.T) {
	calls := 0
	srv := newOpenAIServer(t, func(string, map[string]any) (int, string) {
		calls++
		return http.StatusInternalServerError, `{"error":{"message":"overloaded","type":"server_error"}}`
	})

	llm, err := NewOpenAILLMFromConfig(&LLMSettings{Model: "gpt-4o", APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = llm.Complete(context.Background(), Prompt{User: "hi", Temperature: 0.5})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "sdk retries are disabled")
}

func TestNewOpenAILLMValidation(t *testing.T) {
	_, err := NewOpenAILLMFromConfig(nil)
	assert.Error(t, err)
	_, err = NewOpenAILLMFromConfig(&LLMSettings{Model: "gpt-4o"})
	assert.Error(t, err)
	_, err = NewOpenAILLMFromConfig(&LLMSettings{APIKey: "k"})
	assert.Error(t, err)
}

func TestOpenAIImagesGenerate(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := newOpenAIServer(t, func(path string, body map[string]any) (int, string) {
		gotPath, gotBody = path, body
		return http.StatusOK, `{"created":1,"data":[{"url":"https://img.example/1.png"}]}`
	})

	img, err := NewOpenAIImagesFromConfig(&LLMSettings{Model: "dall-e-3", APIKey: "sk-test", BaseURL: srv.URL + "/"}, "1024x1024")
	require.NoError(t, err)

	url, err := img.Generate(context.Background(), "a cat")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", url)
	assert.Equal(t, "/images/generations", gotPath)
	assert.Equal(t, "a cat", gotBody["prompt"])
	assert.Equal(t, "1024x1024", gotBody["size"])
	assert.Equal(t, "url", gotBody["response_format"])
}

func TestOpenAIImagesFailure(t *testing.T) {
	srv := newOpenAIServer(t, func(string, map[string]any) (int, string) {
		return http.StatusBadRequest, `{"error":{"message":"content policy","type":"invalid_request_error"}}`
	})
	img, err := NewOpenAIImagesFromConfig(&LLMSettings{Model: "dall-e-3", APIKey: "sk-test", BaseURL: srv.URL + "/"}, "")
	require.NoError(t, err)

	_, err = img.Generate(context.Background(), "a cat")
	assert.Error(t, err)

	_, err = img.Generate(context.Background(), "  ")
	assert.Error(t, err)
}
