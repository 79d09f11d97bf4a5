package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/nodebench/internal/storage"
)

const (
	documentResults = 5
	documentExcerpt = 240
)

// DocumentSearcher is implemented by storage.Store.
type DocumentSearcher interface {
	SearchDocuments(userID string, terms []string, limit int) ([]storage.Document, error)
}

// DocumentAgent searches the user's own documents.
type DocumentAgent struct {
	docs DocumentSearcher
}

func NewDocumentAgent(docs DocumentSearcher) *DocumentAgent {
	return &DocumentAgent{docs: docs}
}

func (a *DocumentAgent) Name() string { return Document }

func (a *DocumentAgent) Run(ctx context.Context, req Request) (Result, error) {
	terms := Keywords(req.Prompt)
	if len(terms) == 0 {
		return Result{}, errors.New("no search terms in prompt")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	docs, err := a.docs.SearchDocuments(req.UserID, terms, documentResults)
	if err != nil {
		return Result{}, fmt.Errorf("searching documents: %w", err)
	}
	if len(docs) == 0 {
		return Result{Agent: Document, Content: "No matching documents."}, nil
	}

	var sb strings.Builder
	sources := make([]string, 0, len(docs))
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "- **%s**", title)
		if ex := matchExcerpt(d.Content, terms); ex != "" {
			fmt.Fprintf(&sb, ": %s", ex)
		}
		sb.WriteByte('\n')
		sources = append(sources, "document:"+d.ID)
	}
	return Result{Agent: Document, Content: strings.TrimRight(sb.String(), "\n"), Sources: sources}, nil
}

// matchExcerpt returns a window of content around the first term occurrence,
// or its opening when no term appears in the body.
func matchExcerpt(content string, terms []string) string {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return ""
	}
	lower := strings.ToLower(content)
	start := 0
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 {
			start = max(0, i-documentExcerpt/4)
			break
		}
	}
	// Align to a rune boundary.
	for start > 0 && start < len(content) && !isRuneStart(content[start]) {
		start--
	}
	out := excerpt(content[start:], documentExcerpt)
	if start > 0 {
		out = "…" + out
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
