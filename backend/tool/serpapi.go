package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/maypok86/otter"
)

const DefaultSerpAPIURL = "https://serpapi.com/search.json"

type SerpAPIBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type SerpAPIOption func(*SerpAPIBackend)

func WithSerpAPIURL(baseURL string) SerpAPIOption {
	return func(b *SerpAPIBackend) {
		b.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) SerpAPIOption {
	return func(b *SerpAPIBackend) {
		b.client = client
	}
}

func NewSerpAPIBackend(apiKey string, opts ...SerpAPIOption) (*SerpAPIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("serpapi API key is required")
	}

	backend := &SerpAPIBackend{
		apiKey:  apiKey,
		baseURL: DefaultSerpAPIURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(backend)
	}

	return backend, nil
}

type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
}

func (b *SerpAPIBackend) Search(ctx context.Context, query string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("engine", "google_light")
	params.Set("q", query)
	params.Set("hl", "en")
	params.Set("gl", "us")
	params.Set("google_domain", "google.com")
	params.Set("api_key", b.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var payload serpAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if payload.Error != "" {
			return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, payload.Error)
		}
		return nil, fmt.Errorf("search failed with status %d", resp.StatusCode)
	}

	// an empty result page comes back with status 200 and an error message
	results := make([]SearchResult, 0, len(payload.OrganicResults))
	for _, r := range payload.OrganicResults {
		results = append(results, SearchResult{Title: r.Title, Snippet: r.Snippet, Link: r.Link})
	}

	return results, nil
}

// CachedBackend memoizes search results for identical queries.
type CachedBackend struct {
	backend SearchBackend
	cache   otter.Cache[string, []SearchResult]
}

func NewCachedBackend(backend SearchBackend, capacity int, ttl time.Duration) (*CachedBackend, error) {
	cache, err := otter.MustBuilder[string, []SearchResult](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build search cache: %w", err)
	}

	return &CachedBackend{
		backend: backend,
		cache:   cache,
	}, nil
}

func (c *CachedBackend) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if results, ok := c.cache.Get(query); ok {
		return results, nil
	}

	results, err := c.backend.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	c.cache.Set(query, results)
	return results, nil
}

func (c *CachedBackend) Close() {
	c.cache.Close()
}
