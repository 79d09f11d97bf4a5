package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/nodebench/internal/agents"
	"github.com/kalambet/nodebench/internal/llm"
)

const delegationTimeout = 10 * time.Second

// Delegation is the agent selection for one prompt.
type Delegation struct {
	Agents   []string `json:"agents"`
	Entities []string `json:"entities"`
}

// Delegator chooses agents for a prompt.
type Delegator interface {
	Delegate(ctx context.Context, prompt string) (Delegation, error)
}

const delegationPrompt = `You route research requests to sub-agents.
Available agents:
- Web: general web search and current news
- Media: videos and images
- Document: the user's own notes and documents
- SEC: SEC EDGAR filings (10-K, 10-Q, 8-K) for public companies
- EntityResearch: background profiles of companies and people

Reply with only a JSON object: {"agents": ["Web", ...], "entities": ["Company or person names", ...]}`

// LLMDelegator asks a chat model which agents to use and which entities the
// prompt names.
type LLMDelegator struct {
	llm   llm.Completer
	model string
}

func NewLLMDelegator(c llm.Completer, model string) *LLMDelegator {
	return &LLMDelegator{llm: c, model: model}
}

// Delegate returns the model's choice with unknown agent names dropped and
// duplicates removed. An empty selection is an error so callers fall back to
// keyword analysis.
func (d *LLMDelegator) Delegate(ctx context.Context, prompt string) (Delegation, error) {
	ctx, cancel := context.WithTimeout(ctx, delegationTimeout)
	defer cancel()

	raw, err := d.llm.Complete(ctx, d.model, []llm.Message{
		{Role: "system", Content: delegationPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Delegation{}, fmt.Errorf("delegation request: %w", err)
	}
	obj := llm.ExtractJSON(raw)
	if obj == "" {
		return Delegation{}, errors.New("delegation response contained no JSON object")
	}
	var parsed Delegation
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Delegation{}, fmt.Errorf("parsing delegation: %w", err)
	}

	selected := make(map[string]bool)
	for _, name := range parsed.Agents {
		selected[strings.ToLower(strings.TrimSpace(name))] = true
	}
	var out Delegation
	for _, name := range agents.Order {
		if selected[strings.ToLower(name)] {
			out.Agents = append(out.Agents, name)
		}
	}
	if len(out.Agents) == 0 {
		return Delegation{}, errors.New("delegation selected no known agents")
	}
	for _, e := range parsed.Entities {
		if e = strings.TrimSpace(e); e != "" {
			out.Entities = append(out.Entities, e)
		}
	}
	return out, nil
}
