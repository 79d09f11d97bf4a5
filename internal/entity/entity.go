// Package entity maintains the per-user cache of researched companies and
// people. Cached summaries are reused until they are older than the
// configured staleness window.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nodebench/internal/llm"
	"github.com/kalambet/nodebench/internal/search"
	"github.com/kalambet/nodebench/internal/storage"
)

// Entity types.
const (
	TypeCompany = "company"
	TypePerson  = "person"
)

// DefaultStaleness is how long a researched entity stays fresh.
const DefaultStaleness = 7 * 24 * time.Hour

const (
	researchResults = 6
	summaryTimeout  = 30 * time.Second
)

// ErrNoSources is returned when neither search nor an LLM could produce a summary.
var ErrNoSources = errors.New("no research sources available")

// Store is the subset of storage.Store the service needs.
type Store interface {
	FindEntityContext(userID, normalizedName, entityType string) (storage.EntityContext, error)
	UpsertEntityContext(e storage.EntityContext) (storage.EntityContext, error)
	ListEntityContexts(userID string) ([]storage.EntityContext, error)
	DeleteEntityContext(userID, id string) error
}

type Service struct {
	store     Store
	searcher  search.Searcher
	llm       llm.Completer
	model     string
	staleness time.Duration
	now       func() time.Time
}

// NewService creates an entity service. completer may be nil, in which case
// summaries are assembled from search snippets.
func NewService(store Store, searcher search.Searcher, completer llm.Completer, model string, staleness time.Duration) *Service {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Service{
		store:     store,
		searcher:  searcher,
		llm:       completer,
		model:     model,
		staleness: staleness,
		now:       time.Now,
	}
}

// SetClock overrides the time source (for testing).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Normalize trims, lower-cases and collapses internal whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ValidType reports whether t is a supported entity type.
func ValidType(t string) bool {
	return t == TypeCompany || t == TypePerson
}

// IsStale reports whether e was researched at least one staleness window before now.
func (s *Service) IsStale(e storage.EntityContext, now time.Time) bool {
	return now.Sub(e.ResearchedAt) >= s.staleness
}

// Get returns the entity context for name, researching it when it is missing,
// stale, or force is set. cached reports whether the stored row was reused.
func (s *Service) Get(ctx context.Context, userID, name, entityType string, force bool) (storage.EntityContext, bool, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return storage.EntityContext{}, false, errors.New("entity name is required")
	}
	if entityType == "" {
		entityType = TypeCompany
	}
	if !ValidType(entityType) {
		return storage.EntityContext{}, false, fmt.Errorf("invalid entity type %q", entityType)
	}

	existing, err := s.store.FindEntityContext(userID, normalized, entityType)
	switch {
	case err == nil:
		if !force && !s.IsStale(existing, s.now()) {
			return existing, true, nil
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return storage.EntityContext{}, false, fmt.Errorf("looking up entity: %w", err)
	}

	e, err := s.research(ctx, userID, strings.TrimSpace(name), normalized, entityType)
	if err != nil {
		return storage.EntityContext{}, false, err
	}
	return e, false, nil
}

func (s *Service) research(ctx context.Context, userID, name, normalized, entityType string) (storage.EntityContext, error) {
	results, err := s.searcher.Search(ctx, search.Query{Text: name + " " + entityType, Kind: search.KindWeb, Limit: researchResults})
	if err != nil {
		slog.Warn("entity search failed", "entity", name, "error", err)
	}

	summary := ""
	if s.llm != nil {
		summary, err = s.summarize(ctx, name, entityType, results)
		if err != nil {
			slog.Warn("entity summary failed, using snippets", "entity", name, "error", err)
		}
	}
	if summary == "" {
		summary = snippetSummary(results)
	}
	if summary == "" {
		return storage.EntityContext{}, ErrNoSources
	}

	sources := make([]string, 0, len(results))
	for _, r := range results {
		sources = append(sources, r.URL)
	}

	e, err := s.store.UpsertEntityContext(storage.EntityContext{
		ID:             uuid.New().String(),
		UserID:         userID,
		Name:           name,
		NormalizedName: normalized,
		EntityType:     entityType,
		Summary:        summary,
		Sources:        sources,
		ResearchedAt:   s.now(),
	})
	if err != nil {
		return storage.EntityContext{}, fmt.Errorf("saving entity: %w", err)
	}
	return e, nil
}

func (s *Service) summarize(ctx context.Context, name, entityType string, results []search.Result) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a concise research profile (at most 150 words) of the %s %q.\n", entityType, name)
	if len(results) > 0 {
		sb.WriteString("Use these search results:\n")
		for i, r := range results {
			fmt.Fprintf(&sb, "%d. %s (%s): %s\n", i+1, r.Title, r.URL, r.Snippet)
		}
	}
	out, err := s.llm.Complete(ctx, s.model, []llm.Message{
		{Role: "system", Content: "You are a research analyst. Answer with plain prose, no preamble."},
		{Role: "user", Content: sb.String()},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func snippetSummary(results []search.Result) string {
	var parts []string
	for _, r := range results {
		if s := strings.TrimSpace(r.Snippet); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (s *Service) List(userID string) ([]storage.EntityContext, error) {
	return s.store.ListEntityContexts(userID)
}

// Invalidate removes a cached entity so the next Get researches it again.
func (s *Service) Invalidate(userID, id string) error {
	return s.store.DeleteEntityContext(userID, id)
}

// RefreshStale re-researches every stale entity of the user and returns how
// many were refreshed. Individual failures are logged and skipped.
func (s *Service) RefreshStale(ctx context.Context, userID string) (int, error) {
	entities, err := s.store.ListEntityContexts(userID)
	if err != nil {
		return 0, fmt.Errorf("listing entities: %w", err)
	}
	now := s.now()
	refreshed := 0
	for _, e := range entities {
		if !s.IsStale(e, now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.research(ctx, userID, e.Name, e.NormalizedName, e.EntityType); err != nil {
			slog.Warn("entity refresh failed", "entity", e.Name, "error", err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
