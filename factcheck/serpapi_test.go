package factcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSerpAPIDisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewSerpAPI("  ", nil))
}

func TestSearchParsesAnswerAndSnippets(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.URL.Query().Get("api_key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"answer_box": {"snippet": "Water boils at 100 °C at sea level."},
			"organic_results": [{"snippet": "first"}, {"snippet": " "}, {"snippet": "second"}]
		}`))
	}))
	defer srv.Close()

	s := NewSerpAPI("key-1", srv.Client()).WithEndpoint(srv.URL)
	f, err := s.Search(context.Background(), "**Water boils at 100 degrees**\n\nMore text.")
	require.NoError(t, err)

	assert.Equal(t, "Water boils at 100 degrees", gotQuery)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "Water boils at 100 °C at sea level.", f.Answer)
	assert.Equal(t, []string{"first", "second"}, f.Snippets)
}

func TestSearchReportsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "Invalid API key."}`))
	}))
	defer srv.Close()

	_, err := NewSerpAPI("bad", srv.Client()).WithEndpoint(srv.URL).Search(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestTransportErrorRedactsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	for _, key := range []string{"SECRET-KEY-123", "SECRET/KEY+123"} {
		_, err := NewSerpAPI(key, nil).WithEndpoint(endpoint).Search(context.Background(), "hello world")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "SECRET")
		assert.Contains(t, err.Error(), "<api_key>")
	}
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "", Query("\n  \n"))
	assert.Equal(t, "Title line", Query("\n## Title line\nbody"))
	long := strings.Repeat("я", 300)
	assert.Equal(t, maxQueryRunes, len([]rune(Query(long))))
}
