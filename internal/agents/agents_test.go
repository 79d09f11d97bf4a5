package agents

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/nodebench/internal/search"
	"github.com/kalambet/nodebench/internal/storage"
)

type mockSearcher struct {
	byKind map[string][]search.Result
	errs   map[string]error
}

func (m *mockSearcher) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	if err := m.errs[q.Kind]; err != nil {
		return nil, err
	}
	return m.byKind[q.Kind], nil
}

type mockFetcher struct {
	text string
	err  error
}

func (m *mockFetcher) FetchPageText(context.Context, string) (string, string, error) {
	return "", m.text, m.err
}

type mockFilings struct {
	company string
	out     []search.Filing
	err     error
}

func (m *mockFilings) Filings(_ context.Context, company string, _ []string, _ int) ([]search.Filing, error) {
	m.company = company
	return m.out, m.err
}

type mockResolver struct {
	got   []string
	types []string
	fail  map[string]bool
}

func (m *mockResolver) Get(_ context.Context, _ string, name, entityType string, _ bool) (storage.EntityContext, bool, error) {
	m.got = append(m.got, name)
	m.types = append(m.types, entityType)
	if m.fail[name] {
		return storage.EntityContext{}, false, errors.New("boom")
	}
	return storage.EntityContext{
		Name:         name,
		Summary:      name + " summary",
		Sources:      []string{"https://" + strings.ToLower(name) + ".example"},
		ResearchedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}, name == "Globex", nil
}

func TestExtractEntities(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"What is the latest on Acme Corp and Globex?", []string{"Acme Corp", "Globex"}},
		{"Find SEC filings for Apple", []string{"Apple"}},
		{"Who is Jane Doe, CEO of Initech?", []string{"Jane Doe", "Initech"}},
		{"summarize my notes", nil},
	}
	for _, tc := range cases {
		if got := ExtractEntities(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ExtractEntities(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("Find my notes about the Q3 roadmap and Roadmap budget")
	want := []string{"roadmap", "budget"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords = %v, want %v", got, want)
	}
}

func TestWebAgent(t *testing.T) {
	s := &mockSearcher{byKind: map[string][]search.Result{
		search.KindWeb: {
			{Title: "Acme", URL: "https://acme.example", Snippet: "anvils"},
			{URL: "https://b.example"},
		},
	}}
	a := NewWebAgent(s, &mockFetcher{text: "Acme   home page\n text"})

	res, err := a.Run(context.Background(), Request{Prompt: "acme"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Agent != Web {
		t.Errorf("Agent = %q", res.Agent)
	}
	for _, want := range []string{"- [Acme](https://acme.example): anvils", "- [https://b.example](https://b.example)", "> Acme home page text"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content missing %q:\n%s", want, res.Content)
		}
	}
	if len(res.Sources) != 2 {
		t.Errorf("Sources = %v", res.Sources)
	}
}

func TestWebAgent_FetchFailureIgnored(t *testing.T) {
	s := &mockSearcher{byKind: map[string][]search.Result{search.KindWeb: {{Title: "A", URL: "https://a.example"}}}}
	a := NewWebAgent(s, &mockFetcher{err: errors.New("timeout")})
	res, err := a.Run(context.Background(), Request{Prompt: "a"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.Content, ">") {
		t.Errorf("unexpected excerpt in %q", res.Content)
	}
}

func TestWebAgent_SearchError(t *testing.T) {
	s := &mockSearcher{errs: map[string]error{search.KindWeb: search.ErrNotConfigured}}
	_, err := NewWebAgent(s, nil).Run(context.Background(), Request{Prompt: "a"})
	if !errors.Is(err, search.ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
}

func TestMediaAgent_SplitsByKind(t *testing.T) {
	s := &mockSearcher{byKind: map[string][]search.Result{
		search.KindVideo: {{Title: "Launch", URL: "https://v.example"}},
		search.KindImage: {{Title: "Logo", URL: "https://i.example"}},
	}}
	res, err := NewMediaAgent(s).Run(context.Background(), Request{Prompt: "acme launch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	vi := strings.Index(res.Content, "### Videos")
	ii := strings.Index(res.Content, "### Images")
	if vi < 0 || ii < 0 || vi > ii {
		t.Errorf("sections out of order:\n%s", res.Content)
	}
}

func TestMediaAgent_PartialFailure(t *testing.T) {
	s := &mockSearcher{
		byKind: map[string][]search.Result{search.KindImage: {{Title: "Logo", URL: "https://i.example"}}},
		errs:   map[string]error{search.KindVideo: errors.New("down")},
	}
	res, err := NewMediaAgent(s).Run(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.Content, "Videos") || !strings.Contains(res.Content, "Images") {
		t.Errorf("content = %q", res.Content)
	}

	s.errs[search.KindImage] = errors.New("down")
	if _, err := NewMediaAgent(s).Run(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Error("expected error when every media search fails")
	}
}

func TestDocumentAgent(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()
	store.SaveDocument(storage.Document{ID: "d1", UserID: "u1", Title: "Roadmap", Content: "Q3 roadmap: ship the budget tool."})
	store.SaveDocument(storage.Document{ID: "d2", UserID: "u2", Title: "Roadmap", Content: "someone else's"})

	res, err := NewDocumentAgent(store).Run(context.Background(), Request{UserID: "u1", Prompt: "what is in my roadmap notes?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Content, "**Roadmap**") || !strings.Contains(res.Content, "ship the budget tool") {
		t.Errorf("content = %q", res.Content)
	}
	if !reflect.DeepEqual(res.Sources, []string{"document:d1"}) {
		t.Errorf("Sources = %v", res.Sources)
	}

	res, err = NewDocumentAgent(store).Run(context.Background(), Request{UserID: "u1", Prompt: "quarterly taxes"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "No matching documents." {
		t.Errorf("content = %q", res.Content)
	}
}

func TestSECAgent_PrefersEntities(t *testing.T) {
	f := &mockFilings{out: []search.Filing{{Form: "10-K", FiledAt: "2026-02-01", AccessionNumber: "0001-26-1", URL: "https://sec.example/1"}}}
	a := NewSECAgent(f)

	res, err := a.Run(context.Background(), Request{Prompt: "annual report for Apple", Entities: []string{"Microsoft"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.company != "Microsoft" {
		t.Errorf("company = %q, want Microsoft", f.company)
	}
	if !strings.Contains(res.Content, "- 10-K filed 2026-02-01 ([0001-26-1](https://sec.example/1))") {
		t.Errorf("content = %q", res.Content)
	}

	if _, err := a.Run(context.Background(), Request{Prompt: "annual report for Apple"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.company != "Apple" {
		t.Errorf("company = %q, want Apple", f.company)
	}

	if _, err := a.Run(context.Background(), Request{Prompt: "latest filings"}); err == nil {
		t.Error("expected error without a company")
	}
}

func TestEntityResearchAgent(t *testing.T) {
	r := &mockResolver{fail: map[string]bool{"Initech": true}}
	res, err := NewEntityResearchAgent(r).Run(context.Background(), Request{Prompt: "research Acme, Globex and Initech"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(r.got, []string{"Acme", "Globex", "Initech"}) {
		t.Errorf("resolved %v", r.got)
	}
	if r.types[0] != "company" {
		t.Errorf("type = %q, want company", r.types[0])
	}
	if !strings.Contains(res.Content, "### Acme\nAcme summary") {
		t.Errorf("content = %q", res.Content)
	}
	if !strings.Contains(res.Content, "_Cached research from 2026-05-01._") {
		t.Errorf("cached note missing: %q", res.Content)
	}
	if strings.Contains(res.Content, "Initech") {
		t.Errorf("failed entity rendered: %q", res.Content)
	}
}

func TestEntityResearchAgent_PersonAndAllFail(t *testing.T) {
	r := &mockResolver{fail: map[string]bool{"Jane Doe": true}}
	_, err := NewEntityResearchAgent(r).Run(context.Background(), Request{Prompt: "Who is Jane Doe?"})
	if err == nil {
		t.Fatal("expected error when every entity fails")
	}
	if r.types[0] != "person" {
		t.Errorf("type = %q, want person", r.types[0])
	}
}
