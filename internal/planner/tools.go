package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/nodebench/internal/agents"
	"github.com/kalambet/nodebench/internal/llm"
	"github.com/kalambet/nodebench/internal/search"
)

const (
	toolSearchResults = 5
	summarizeTimeout  = 45 * time.Second
	fallbackSentences = 3
)

// ToolDeps are the services the built-in tools call. Nil members leave the
// corresponding tool out.
type ToolDeps struct {
	Searcher  search.Searcher
	LLM       llm.Completer
	Model     string
	Documents agents.DocumentSearcher
	Filings   agents.FilingLister
	Entities  agents.EntityResolver
}

// BuiltinTools returns the plan tools available to userID.
func BuiltinTools(d ToolDeps, userID string) Tools {
	tools := Tools{"summarize": summarizeTool(d.LLM, d.Model)}
	if d.Searcher != nil {
		tools["web_search"] = webSearchTool(d.Searcher)
	}
	if d.Documents != nil {
		tools["document_search"] = agentTool(agents.NewDocumentAgent(d.Documents), userID, "query", "")
	}
	if d.Filings != nil {
		tools["sec_filings"] = agentTool(agents.NewSECAgent(d.Filings), userID, "query", "company")
	}
	if d.Entities != nil {
		tools["entity_research"] = entityTool(d.Entities, userID)
	}
	return tools
}

func webSearchTool(s search.Searcher) Tool {
	return func(ctx context.Context, args map[string]string) (StepOutput, error) {
		q := strings.TrimSpace(args["query"])
		if q == "" {
			return StepOutput{}, errors.New("web_search: query is required")
		}
		results, err := s.Search(ctx, search.Query{Text: q, Kind: search.KindWeb, Limit: toolSearchResults})
		if err != nil {
			return StepOutput{}, fmt.Errorf("web_search: %w", err)
		}
		var sb strings.Builder
		urls := make([]string, 0, len(results))
		for _, r := range results {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
			urls = append(urls, r.URL)
		}
		return StepOutput{Data: map[string]any{
			"text":  strings.TrimRight(sb.String(), "\n"),
			"urls":  urls,
			"count": len(results),
		}}, nil
	}
}

func summarizeTool(c llm.Completer, model string) Tool {
	return func(ctx context.Context, args map[string]string) (StepOutput, error) {
		text := strings.TrimSpace(args["text"])
		if strings.TrimSpace(stepRef.ReplaceAllString(text, "")) == "" {
			return StepOutput{}, errors.New("summarize: nothing to summarize")
		}
		if c == nil {
			return StepOutput{Data: map[string]any{"text": firstSentences(text, fallbackSentences)}}, nil
		}

		ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
		defer cancel()
		prompt := "Summarize the key facts below"
		if goal := strings.TrimSpace(args["goal"]); goal != "" {
			prompt += " for the goal: " + goal
		}
		out, err := c.Complete(ctx, model, []llm.Message{
			{Role: "system", Content: "You write short factual summaries in Markdown."},
			{Role: "user", Content: prompt + "\n\n" + text},
		})
		if err != nil {
			return StepOutput{}, fmt.Errorf("summarize: %w", err)
		}
		return StepOutput{Data: map[string]any{"text": strings.TrimSpace(out)}}, nil
	}
}

// firstSentences returns up to n sentences of text, with list markers and
// line breaks flattened.
func firstSentences(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(text) || text[i+1] == ' ' {
				count++
				if count == n {
					return text[:i+1]
				}
			}
		}
	}
	return text
}

// agentTool adapts a sub-agent: promptArg becomes the prompt and entityArg,
// when set, the single entity.
func agentTool(a agents.Agent, userID, promptArg, entityArg string) Tool {
	return func(ctx context.Context, args map[string]string) (StepOutput, error) {
		req := agents.Request{UserID: userID, Prompt: strings.TrimSpace(args[promptArg])}
		if entityArg != "" {
			if e := strings.TrimSpace(args[entityArg]); e != "" {
				req.Entities = []string{e}
				if req.Prompt == "" {
					req.Prompt = e
				}
			}
		}
		if req.Prompt == "" {
			return StepOutput{}, fmt.Errorf("%s: %s is required", strings.ToLower(a.Name()), promptArg)
		}
		res, err := a.Run(ctx, req)
		if err != nil {
			return StepOutput{}, err
		}
		return StepOutput{Data: map[string]any{"text": res.Content, "sources": res.Sources}}, nil
	}
}

func entityTool(r agents.EntityResolver, userID string) Tool {
	return func(ctx context.Context, args map[string]string) (StepOutput, error) {
		name := strings.TrimSpace(args["name"])
		if name == "" {
			return StepOutput{}, errors.New("entity_research: name is required")
		}
		e, cached, err := r.Get(ctx, userID, name, args["type"], false)
		if err != nil {
			return StepOutput{}, fmt.Errorf("entity_research: %w", err)
		}
		return StepOutput{Data: map[string]any{
			"text":    e.Summary,
			"name":    e.Name,
			"sources": e.Sources,
			"cached":  cached,
		}}, nil
	}
}
