// Package factcheck looks up claims from a post with a web search provider.
// The findings are diagnostic only; nothing here can change or block a post.
package factcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const defaultEndpoint = "https://serpapi.com/search.json"

// maxQueryRunes bounds the query built from post text.
const maxQueryRunes = 256

// Findings is what a search returned for a post.
type Findings struct {
	Query    string
	Answer   string
	Snippets []string
}

// Searcher runs one lookup.
type Searcher interface {
	Search(ctx context.Context, text string) (Findings, error)
}

// SerpAPI queries serpapi.com with the Google engine.
type SerpAPI struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSerpAPI returns nil when apiKey is empty, which disables the lookup.
func NewSerpAPI(apiKey string, client *http.Client) *SerpAPI {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SerpAPI{apiKey: apiKey, endpoint: defaultEndpoint, client: client}
}

// WithEndpoint points the client at another base URL (tests, proxies).
func (s *SerpAPI) WithEndpoint(endpoint string) *SerpAPI {
	s.endpoint = endpoint
	return s
}

func (s *SerpAPI) Search(ctx context.Context, text string) (Findings, error) {
	query := Query(text)
	if query == "" {
		return Findings{}, errors.New("serpapi: empty query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Findings{}, err
	}
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("api_key", s.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return Findings{}, s.redact(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Findings{}, err
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return Findings{}, fmt.Errorf("serpapi: %s", msg.String())
	}
	if resp.StatusCode != http.StatusOK {
		return Findings{}, fmt.Errorf("serpapi: unexpected status %d", resp.StatusCode)
	}

	f := Findings{Query: query}
	f.Answer = gjson.GetBytes(body, "answer_box.answer").String()
	if f.Answer == "" {
		f.Answer = gjson.GetBytes(body, "answer_box.snippet").String()
	}
	for _, r := range gjson.GetBytes(body, "organic_results.#.snippet").Array() {
		if sn := strings.TrimSpace(r.String()); sn != "" {
			f.Snippets = append(f.Snippets, sn)
		}
	}
	return f, nil
}

// redact keeps the api key out of transport errors, which embed the URL.
func (s *SerpAPI) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(s.apiKey), "<api_key>")
		uerr.URL = strings.ReplaceAll(uerr.URL, s.apiKey, "<api_key>")
	}
	return err
}

// Query turns post text into a search query: the first line with content,
// markdown marks removed, cut at maxQueryRunes.
func Query(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "#*_>- \t"))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxQueryRunes {
			line = string([]rune(line)[:maxQueryRunes])
		}
		return line
	}
	return ""
}
