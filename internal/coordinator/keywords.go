package coordinator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/nodebench/internal/agents"
)

// KeywordsFile is the optional keyword override file in the data directory.
const KeywordsFile = "agents.yaml"

// DefaultKeywords maps each agent to the prompt phrases that delegate to it.
var DefaultKeywords = map[string][]string{
	agents.Web:            {"search", "find", "look up", "latest", "news", "web", "online", "current"},
	agents.Media:          {"video", "image", "picture", "photo", "youtube", "media", "watch"},
	agents.Document:       {"document", "note", "my notes", "file", "doc", "wrote", "draft"},
	agents.SEC:            {"sec", "filing", "10-k", "10-q", "8-k", "edgar", "annual report", "quarterly report"},
	agents.EntityResearch: {"company", "person", "who is", "ceo", "founder", "research", "profile of"},
}

// Analyzer selects agents by whole-word keyword matches.
type Analyzer struct {
	keywords map[string][]string
}

// NewAnalyzer returns an Analyzer over table. Agents missing from table keep
// their default keywords.
func NewAnalyzer(table map[string][]string) *Analyzer {
	merged := make(map[string][]string, len(DefaultKeywords))
	for name, kws := range DefaultKeywords {
		merged[name] = kws
	}
	for name, kws := range table {
		lowered := make([]string, 0, len(kws))
		for _, kw := range kws {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				lowered = append(lowered, kw)
			}
		}
		merged[name] = lowered
	}
	return &Analyzer{keywords: merged}
}

// Analyze returns the agents whose keywords appear in prompt, in delegation
// order and without duplicates. Web is chosen when nothing matches.
func (a *Analyzer) Analyze(prompt string) []string {
	p := strings.ToLower(prompt)
	var out []string
	for _, name := range agents.Order {
		for _, kw := range a.keywords[name] {
			if containsWord(p, kw) {
				out = append(out, name)
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{agents.Web}
	}
	return out
}

// wordSuffixes are the endings a keyword may carry and still match, so "file"
// matches "files" but not "profile" or "filet".
var wordSuffixes = []string{"", "s", "es", "d", "ed", "ing"}

// containsWord reports whether kw occurs in s starting at a word boundary and
// ending at one, optionally followed by one of wordSuffixes.
func containsWord(s, kw string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(kw)
		if boundaryBefore(s, start) {
			for _, suf := range wordSuffixes {
				if strings.HasPrefix(s[end:], suf) && boundaryAfter(s, end+len(suf)) {
					return true
				}
			}
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// LoadKeywords reads a YAML keyword table:
//
//	Web: [search, latest]
//	SEC: [filing, 10-k]
//
// A missing file yields a nil table. Unknown agent names are rejected.
func LoadKeywords(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var table map[string][]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for name := range table {
		if !agents.Known(name) {
			return nil, fmt.Errorf("%s: unknown agent %q", path, name)
		}
	}
	return table, nil
}
