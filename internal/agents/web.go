package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/nodebench/internal/search"
)

const (
	webResults     = 5
	excerptChars   = 600
	snippetDivider = ": "
)

// PageFetcher returns the visible text of a web page.
type PageFetcher interface {
	FetchPageText(ctx context.Context, url string) (title, text string, err error)
}

// WebAgent answers with the top web-search results and an excerpt of the
// first result's page when a fetcher is configured.
type WebAgent struct {
	searcher search.Searcher
	fetcher  PageFetcher
}

func NewWebAgent(s search.Searcher, f PageFetcher) *WebAgent {
	return &WebAgent{searcher: s, fetcher: f}
}

func (a *WebAgent) Name() string { return Web }

func (a *WebAgent) Run(ctx context.Context, req Request) (Result, error) {
	results, err := a.searcher.Search(ctx, search.Query{Text: req.Prompt, Kind: search.KindWeb, Limit: webResults})
	if err != nil {
		return Result{}, fmt.Errorf("web search: %w", err)
	}
	if len(results) == 0 {
		return Result{Agent: Web, Content: "No web results found."}, nil
	}

	var sb strings.Builder
	sources := make([]string, 0, len(results))
	for _, r := range results {
		writeResultLine(&sb, r)
		sources = append(sources, r.URL)
	}

	if a.fetcher != nil {
		if _, text, err := a.fetcher.FetchPageText(ctx, results[0].URL); err != nil {
			slog.Debug("web agent page fetch failed", "url", results[0].URL, "error", err)
		} else if text != "" {
			fmt.Fprintf(&sb, "\n> %s\n", excerpt(text, excerptChars))
		}
	}
	return Result{Agent: Web, Content: strings.TrimRight(sb.String(), "\n"), Sources: sources}, nil
}

func writeResultLine(sb *strings.Builder, r search.Result) {
	title := r.Title
	if title == "" {
		title = r.URL
	}
	fmt.Fprintf(sb, "- [%s](%s)", title, r.URL)
	if r.Snippet != "" {
		sb.WriteString(snippetDivider)
		sb.WriteString(r.Snippet)
	}
	sb.WriteByte('\n')
}

// excerpt collapses whitespace and cuts s to at most n runes on a word boundary.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
