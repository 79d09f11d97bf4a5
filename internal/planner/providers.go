package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/nodebench/internal/llm"
)

// Provider names.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderHeuristic  = "heuristic"
	ProviderAuto       = "auto"
)

const planTimeout = 45 * time.Second

// Provider turns a goal into a plan.
type Provider interface {
	Name() string
	Plan(ctx context.Context, goal string) (Plan, error)
}

// ErrEmptyPlan is returned for a plan without any step.
var ErrEmptyPlan = errors.New("plan has no steps")

const planSystemPrompt = `You are a research planner. Break the user's goal into a plan.
Groups run in parallel; steps inside a group run in order and may use outputs of
earlier steps via ${step:<id>.data.text}. Steps may have children that run first.
Available tools: web_search {query}, summarize {text, goal}, document_search {query},
sec_filings {company}, entity_research {name, type}.
Reply with only JSON:
{"goal": "...", "groups": [{"name": "...", "steps": [{"id": "s1", "tool": "web_search", "title": "...", "args": {"query": "..."}, "children": []}]}]}`

// LLMProvider asks an OpenAI-compatible chat model for a JSON plan.
type LLMProvider struct {
	name  string
	llm   llm.Completer
	model string
}

func NewLLMProvider(name string, c llm.Completer, model string) *LLMProvider {
	return &LLMProvider{name: name, llm: c, model: model}
}

func (p *LLMProvider) Name() string { return p.name }

func (p *LLMProvider) Plan(ctx context.Context, goal string) (Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, planTimeout)
	defer cancel()

	raw, err := p.llm.Complete(ctx, p.model, []llm.Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: goal},
	})
	if err != nil {
		return Plan{}, fmt.Errorf("%s plan request: %w", p.name, err)
	}
	return parseLLMPlan(goal, raw)
}

// llmStep mirrors Step but accepts arbitrary JSON argument values.
type llmStep struct {
	ID       string         `json:"id"`
	Tool     string         `json:"tool"`
	Title    string         `json:"title"`
	Args     map[string]any `json:"args"`
	Children []llmStep      `json:"children"`
}

type llmPlan struct {
	Goal   string `json:"goal"`
	Groups []struct {
		Name  string    `json:"name"`
		Steps []llmStep `json:"steps"`
	} `json:"groups"`
}

func parseLLMPlan(goal, raw string) (Plan, error) {
	obj := llm.ExtractJSON(raw)
	if obj == "" {
		return Plan{}, errors.New("plan response contained no JSON object")
	}
	var lp llmPlan
	if err := json.Unmarshal([]byte(obj), &lp); err != nil {
		return Plan{}, fmt.Errorf("parsing plan: %w", err)
	}

	plan := Plan{Goal: goal}
	for i, g := range lp.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			name = fmt.Sprintf("Group %d", i+1)
		}
		plan.Groups = append(plan.Groups, Group{Name: name, Steps: convertSteps(g.Steps)})
	}
	if plan.StepCount() == 0 {
		return Plan{}, ErrEmptyPlan
	}
	plan.AssignIDs()
	return plan, nil
}

func convertSteps(in []llmStep) []Step {
	if len(in) == 0 {
		return nil
	}
	out := make([]Step, 0, len(in))
	for _, s := range in {
		step := Step{
			ID:       strings.TrimSpace(s.ID),
			Tool:     strings.TrimSpace(s.Tool),
			Title:    strings.TrimSpace(s.Title),
			Children: convertSteps(s.Children),
		}
		if len(s.Args) > 0 {
			step.Args = make(map[string]string, len(s.Args))
			for k, v := range s.Args {
				step.Args[k] = stringify(v)
			}
		}
		if step.Title == "" {
			step.Title = step.Tool
		}
		out = append(out, step)
	}
	return out
}

// AssignIDs gives every step without an id, or with a duplicate one, the next
// "sN" id not already taken by another step.
func (p *Plan) AssignIDs() {
	taken := make(map[string]bool)
	var collect func(steps []Step)
	collect = func(steps []Step) {
		for _, s := range steps {
			if s.ID != "" {
				taken[s.ID] = true
			}
			collect(s.Children)
		}
	}
	used := make(map[string]bool)
	next := 0
	var walk func(steps []Step)
	walk = func(steps []Step) {
		for i := range steps {
			if steps[i].ID == "" || used[steps[i].ID] {
				for {
					next++
					id := fmt.Sprintf("s%d", next)
					if !taken[id] && !used[id] {
						steps[i].ID = id
						break
					}
				}
			}
			used[steps[i].ID] = true
			walk(steps[i].Children)
		}
	}
	for _, g := range p.Groups {
		collect(g.Steps)
	}
	for gi := range p.Groups {
		walk(p.Groups[gi].Steps)
	}
}

// Heuristic builds a fixed one- or two-level plan locally. It never fails.
type Heuristic struct{}

func (Heuristic) Name() string { return ProviderHeuristic }

var goalSplit = regexp.MustCompile(`(?i)\s+and\s+|\s+then\s+|[,;]`)

// SplitGoal breaks goal into sub-goals on " and ", " then ", commas and
// semicolons.
func SplitGoal(goal string) []string {
	var out []string
	for _, part := range goalSplit.Split(goal, -1) {
		part = strings.TrimSpace(part)
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(part, "then "), "and "))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (Heuristic) Plan(_ context.Context, goal string) (Plan, error) {
	goal = strings.TrimSpace(goal)
	parts := SplitGoal(goal)
	if len(parts) == 0 {
		return Plan{}, errors.New("goal is required")
	}

	if len(parts) == 1 {
		return Plan{Goal: goal, Groups: []Group{{
			Name: "Research",
			Steps: []Step{
				{ID: "s1", Tool: "web_search", Title: "Search the web for " + goal, Args: map[string]string{"query": goal}},
				{ID: "s2", Tool: "summarize", Title: "Summarize findings", Args: map[string]string{"text": "${step:s1.data.text}", "goal": goal}},
			},
		}}}, nil
	}

	plan := Plan{Goal: goal}
	for i, sub := range parts {
		id := fmt.Sprintf("s%d", i+1)
		plan.Groups = append(plan.Groups, Group{
			Name: sub,
			Steps: []Step{{
				ID:    id,
				Title: "Research " + sub,
				Children: []Step{
					{ID: id + ".1", Tool: "web_search", Title: "Search the web for " + sub, Args: map[string]string{"query": sub}},
					{ID: id + ".2", Tool: "summarize", Title: "Extract key facts", Args: map[string]string{"text": "${step:" + id + ".1.data.text}", "goal": sub}},
				},
			}},
		})
	}
	return plan, nil
}

// Planner tries providers in order and returns the first plan produced.
type Planner struct {
	providers []Provider
}

func New(providers ...Provider) *Planner {
	return &Planner{providers: providers}
}

// NewFromMode builds the provider chain for a planner.provider setting.
// openrouter and openai may be nil when their keys are not configured.
// "auto" chains every configured provider and ends with the heuristic; a
// pinned provider is used alone.
func NewFromMode(mode string, openrouter, openai Provider) (*Planner, error) {
	switch mode {
	case ProviderAuto, "":
		var chain []Provider
		for _, p := range []Provider{openrouter, openai} {
			if p != nil {
				chain = append(chain, p)
			}
		}
		return New(append(chain, Heuristic{})...), nil
	case ProviderOpenRouter:
		if openrouter == nil {
			return nil, errors.New("planner provider openrouter requires llm.openrouter_api_key")
		}
		return New(openrouter), nil
	case ProviderOpenAI:
		if openai == nil {
			return nil, errors.New("planner provider openai requires llm.openai_api_key")
		}
		return New(openai), nil
	case ProviderHeuristic:
		return New(Heuristic{}), nil
	default:
		return nil, fmt.Errorf("unknown planner provider %q", mode)
	}
}

// Plan returns the first successful plan and the name of the provider that
// produced it.
func (p *Planner) Plan(ctx context.Context, goal string) (Plan, string, error) {
	if strings.TrimSpace(goal) == "" {
		return Plan{}, "", errors.New("goal is required")
	}
	var errs []error
	for _, prov := range p.providers {
		plan, err := prov.Plan(ctx, goal)
		if err == nil {
			return plan, prov.Name(), nil
		}
		slog.Warn("planner provider failed", "provider", prov.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", prov.Name(), err))
	}
	return Plan{}, "", fmt.Errorf("all planner providers failed: %w", errors.Join(errs...))
}
