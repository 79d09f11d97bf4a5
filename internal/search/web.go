// Package search wraps the external web-search and SEC EDGAR APIs the
// research agents query.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kalambet/nodebench/internal/convert"
)

// Result kinds.
const (
	KindWeb   = "web"
	KindNews  = "news"
	KindVideo = "video"
	KindImage = "image"
)

const (
	defaultLimit = 5
	maxLimit     = 20
	maxPageBytes = 5 << 20
)

// ErrNotConfigured is returned when no search API key is configured.
var ErrNotConfigured = errors.New("web search is not configured")

// Query describes one search request.
type Query struct {
	Text  string
	Kind  string
	Limit int
}

// Result is a single search hit.
type Result struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Kind      string `json:"kind"`
	Published string `json:"published,omitempty"`
}

// Searcher is implemented by WebClient; agents depend on this interface.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// WebClient calls a bearer-authenticated REST search API of the form
// GET {base}/search?q=...&type=...&count=...
type WebClient struct {
	client  *resty.Client
	apiKey  string
	baseURL string
}

// NewWebClient creates a search client. There is no default endpoint: an
// empty baseURL or apiKey yields a client whose Search always returns
// ErrNotConfigured.
func NewWebClient(baseURL, apiKey string) *WebClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &WebClient{client: c, apiKey: apiKey, baseURL: baseURL}
}

type searchResponse struct {
	Results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Snippet     string `json:"snippet"`
		Description string `json:"description"`
		Type        string `json:"type"`
		Published   string `json:"published"`
	} `json:"results"`
}

func (w *WebClient) Search(ctx context.Context, q Query) ([]Result, error) {
	if w.apiKey == "" || w.baseURL == "" {
		return nil, ErrNotConfigured
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errors.New("empty search query")
	}
	kind := q.Kind
	if kind == "" {
		kind = KindWeb
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	var out searchResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     text,
			"type":  kind,
			"count": strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("search status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		if r.URL == "" {
			continue
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Description
		}
		k := r.Type
		if k == "" {
			k = kind
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: snippet, Kind: k, Published: r.Published})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// PageFetcher fetches web pages as visible text.
type PageFetcher struct {
	client *resty.Client
}

func NewPageFetcher() *PageFetcher {
	return &PageFetcher{client: resty.New().
		SetTimeout(15*time.Second).
		SetHeader("User-Agent", "nodebench/1.0 (+https://github.com/kalambet/nodebench)").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))}
}

// FetchPageText fetches an HTML page (capped at 5MB) and returns its title and
// visible text.
func (f *PageFetcher) FetchPageText(ctx context.Context, url string) (title, text string, err error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return "", "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode())
	}
	ct := resp.Header().Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return "", "", fmt.Errorf("fetching %s: unsupported content type %q", url, ct)
	}
	return convert.HTMLText(io.LimitReader(body, maxPageBytes))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
