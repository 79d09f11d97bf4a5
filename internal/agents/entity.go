package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/nodebench/internal/storage"
)

const maxEntities = 3

// EntityResolver is implemented by entity.Service.
type EntityResolver interface {
	Get(ctx context.Context, userID, name, entityType string, force bool) (storage.EntityContext, bool, error)
}

// EntityResearchAgent resolves each named entity through the entity cache.
type EntityResearchAgent struct {
	entities EntityResolver
}

func NewEntityResearchAgent(r EntityResolver) *EntityResearchAgent {
	return &EntityResearchAgent{entities: r}
}

func (a *EntityResearchAgent) Name() string { return EntityResearch }

func (a *EntityResearchAgent) Run(ctx context.Context, req Request) (Result, error) {
	names := req.Entities
	if len(names) == 0 {
		names = ExtractEntities(req.Prompt)
	}
	if len(names) == 0 {
		return Result{}, errors.New("no entity named in prompt")
	}
	if len(names) > maxEntities {
		names = names[:maxEntities]
	}
	entityType := guessType(req.Prompt)

	var sb strings.Builder
	var sources []string
	var lastErr error
	for _, name := range names {
		e, cached, err := a.entities.Get(ctx, req.UserID, name, entityType, false)
		if err != nil {
			slog.Warn("entity research failed", "entity", name, "error", err)
			lastErr = err
			continue
		}
		fmt.Fprintf(&sb, "### %s\n%s\n", e.Name, e.Summary)
		if cached {
			fmt.Fprintf(&sb, "_Cached research from %s._\n", e.ResearchedAt.Format("2006-01-02"))
		}
		sb.WriteByte('\n')
		sources = append(sources, e.Sources...)
	}
	if sb.Len() == 0 {
		return Result{}, fmt.Errorf("researching entities: %w", lastErr)
	}
	return Result{Agent: EntityResearch, Content: strings.TrimRight(sb.String(), "\n"), Sources: sources}, nil
}

func guessType(prompt string) string {
	p := strings.ToLower(prompt)
	for _, kw := range []string{"who is", "person", "founder", "ceo of", "biography"} {
		if strings.Contains(p, kw) {
			return "person"
		}
	}
	return "company"
}
