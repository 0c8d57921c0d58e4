package tool

import (
	"context"
	"fmt"
	"strings"
)

const (
	SearchToolName        = "search_web"
	SearchToolDescription = "Search the web for up-to-date information."

	// NoResults is returned to the model when a search yields nothing.
	NoResults = "No results found."
)

type SearchResult struct {
	Title   string
	Snippet string
	Link    string
}

type SearchBackend interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

type SearchInput struct {
	Query string `json:"query" jsonschema:"description=The search query string."`
}

func NewSearchTool(backend SearchBackend) Tool {
	return NewTool(SearchToolName, SearchToolDescription, func(ctx context.Context, input SearchInput) (string, error) {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}

		results, err := backend.Search(ctx, query)
		if err != nil {
			return "", err
		}

		return FormatResults(results), nil
	})
}

// FormatResults renders results in ranking order, one "title: snippet (link)"
// line per result.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return NoResults
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", r.Title, r.Snippet, r.Link))
	}
	return strings.Join(lines, "\n")
}
