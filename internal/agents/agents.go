// Package agents implements the research sub-agents the coordinator
// delegates to. Each agent answers a prompt with a Markdown fragment.
package agents

import (
	"context"
	"strings"
	"unicode"
)

// Agent names, in delegation order.
const (
	Web            = "Web"
	Media          = "Media"
	Document       = "Document"
	SEC            = "SEC"
	EntityResearch = "EntityResearch"
)

// Order lists every agent name in the order results are presented.
var Order = []string{Web, Media, Document, SEC, EntityResearch}

// Known reports whether name is one of the agent names.
func Known(name string) bool {
	for _, n := range Order {
		if n == name {
			return true
		}
	}
	return false
}

type Request struct {
	UserID   string
	Prompt   string
	Entities []string
}

type Result struct {
	Agent   string   `json:"agent"`
	Content string   `json:"content"`
	Sources []string `json:"sources,omitempty"`
}

// Agent answers one research request.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}

// Registry maps agent names to implementations.
type Registry map[string]Agent

// NewRegistry indexes agents by Name.
func NewRegistry(list ...Agent) Registry {
	r := make(Registry, len(list))
	for _, a := range list {
		r[a.Name()] = a
	}
	return r
}

// leadingWords are capitalised only because they start a question or command.
var leadingWords = map[string]bool{
	"what": true, "who": true, "where": true, "when": true, "why": true, "how": true,
	"is": true, "are": true, "the": true, "a": true, "an": true, "i": true,
	"find": true, "show": true, "tell": true, "give": true, "list": true, "get": true,
	"search": true, "look": true, "research": true, "please": true, "can": true,
	"summarize": true, "summarise": true, "compare": true, "latest": true, "recent": true,
	"sec": true, "edgar": true, "ceo": true, "my": true, "and": true, "of": true,
	"for": true, "about": true, "on": true, "in": true, "with": true,
}

// ExtractEntities returns runs of capitalised words from prompt, in order and
// without duplicates, skipping words capitalised only by position or that name
// the request itself ("Find", "SEC").
func ExtractEntities(prompt string) []string {
	var out []string
	seen := make(map[string]bool)
	var run []string
	flush := func() {
		if len(run) > 0 {
			name := strings.Join(run, " ")
			if !seen[strings.ToLower(name)] {
				seen[strings.ToLower(name)] = true
				out = append(out, name)
			}
			run = run[:0]
		}
	}

	for _, raw := range strings.Fields(prompt) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&' && r != '.'
		})
		word = strings.TrimSuffix(word, ".")
		word = strings.TrimSuffix(word, "'s")
		if word == "" || leadingWords[strings.ToLower(word)] || !startsUpper(word) {
			flush()
			continue
		}
		run = append(run, word)
		if strings.ContainsAny(raw[len(raw)-1:], ",;:?!.") {
			flush()
		}
	}
	flush()
	return out
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// stopWords are dropped when turning a prompt into document search terms.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true, "about": true,
	"from": true, "that": true, "this": true, "have": true, "find": true, "show": true,
	"into": true, "your": true, "notes": true, "note": true, "document": true,
	"documents": true, "file": true, "files": true, "wrote": true, "draft": true,
	"search": true, "look": true, "please": true, "tell": true, "does": true,
	"which": true, "where": true, "when": true, "there": true, "them": true,
}

// Keywords lower-cases prompt and returns distinct words of at least three
// characters that are not stop words.
func Keywords(prompt string) []string {
	var out []string
	seen := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, w := range words {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
