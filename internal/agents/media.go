package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/nodebench/internal/search"
)

const mediaResults = 4

// MediaAgent finds videos and images related to the prompt.
type MediaAgent struct {
	searcher search.Searcher
}

func NewMediaAgent(s search.Searcher) *MediaAgent {
	return &MediaAgent{searcher: s}
}

func (a *MediaAgent) Name() string { return Media }

func (a *MediaAgent) Run(ctx context.Context, req Request) (Result, error) {
	sections := []struct {
		heading string
		kind    string
	}{
		{"Videos", search.KindVideo},
		{"Images", search.KindImage},
	}

	var sb strings.Builder
	var sources []string
	var failures int
	var lastErr error
	for _, sec := range sections {
		results, err := a.searcher.Search(ctx, search.Query{Text: req.Prompt, Kind: sec.kind, Limit: mediaResults})
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		if len(results) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n", sec.heading)
		for _, r := range results {
			writeResultLine(&sb, r)
			sources = append(sources, r.URL)
		}
		sb.WriteByte('\n')
	}
	if failures == len(sections) {
		return Result{}, fmt.Errorf("media search: %w", lastErr)
	}
	if sb.Len() == 0 {
		return Result{Agent: Media, Content: "No media found."}, nil
	}
	return Result{Agent: Media, Content: strings.TrimRight(sb.String(), "\n"), Sources: sources}, nil
}
