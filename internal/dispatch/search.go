package dispatch

import (
	"context"
	"strings"

	"github.com/rendis/tabflow/pkg/schema"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// SearchResult is one ranked web search hit.
type SearchResult struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchProvider runs web searches for search steps.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// DuckDuckGo searches through langchaingo's DuckDuckGo tool.
type DuckDuckGo struct {
	userAgent string
}

func NewDuckDuckGo(userAgent string) *DuckDuckGo {
	if userAgent == "" {
		userAgent = duckduckgo.DefaultUserAgent
	}
	return &DuckDuckGo{userAgent: userAgent}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	tool, err := duckduckgo.New(limit, d.userAgent)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "search: %v", err).WithCause(err)
	}
	out, err := tool.Call(ctx, query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "search %q: %v", query, err).WithCause(err)
	}
	results := parseSearchOutput(out)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// parseSearchOutput reads the tool's text blocks:
//
//	Title: ...
//	Description: ...
//	URL: ...
//
// separated by blank lines. Text without such blocks yields no results.
func parseSearchOutput(text string) []SearchResult {
	var results []SearchResult
	var cur SearchResult
	flush := func() {
		if cur.Title != "" || cur.URL != "" {
			cur.Rank = len(results) + 1
			results = append(results, cur)
		}
		cur = SearchResult{}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "Title:"):
			if cur.Title != "" {
				flush()
			}
			cur.Title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "Description:"):
			cur.Snippet = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "URL:"):
			cur.URL = normalizeResultURL(strings.TrimSpace(strings.TrimPrefix(line, "URL:")))
		}
	}
	flush()
	return results
}

// normalizeResultURL adds a scheme to the bare host/path form DuckDuckGo shows.
func normalizeResultURL(u string) string {
	if u == "" || strings.Contains(u, "://") {
		return u
	}
	return "https://" + u
}
