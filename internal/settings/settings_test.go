package settings

import (
	"errors"
	"testing"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

// countingStore wraps storage.Store to count reads.
type countingStore struct {
	*storage.Store
	reads int
}

func (c *countingStore) GetSettings(userID string) (map[string]string, error) {
	c.reads++
	return c.Store.GetSettings(userID)
}

func newTestManager(t *testing.T) (*Manager, *countingStore, *fakeClock) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	store := &countingStore{Store: s}
	clock := &fakeClock{t: time.Now()}
	m := NewManagerWithClock(store, Settings{DefaultModel: "anthropic/claude-sonnet-4"}, clock, time.Minute)
	return m, store, clock
}

func TestGet_Defaults(t *testing.T) {
	m, _, _ := newTestManager(t)
	s, err := m.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := Settings{DefaultModel: "anthropic/claude-sonnet-4", Theme: "system", PlannerProvider: "auto"}
	if s != want {
		t.Errorf("Get = %+v, want %+v", s, want)
	}
}

func TestSet_OverridesAndResets(t *testing.T) {
	m, _, _ := newTestManager(t)

	for key, value := range map[string]string{
		KeyDisplayName:     "Ada",
		KeyTheme:           "dark",
		KeyPlannerProvider: "heuristic",
		KeyLLMDelegation:   "1",
	} {
		if err := m.Set("u1", key, value); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}
	s, _ := m.Get("u1")
	if s.DisplayName != "Ada" || s.Theme != "dark" || s.PlannerProvider != "heuristic" || !s.LLMDelegation {
		t.Errorf("after Set = %+v", s)
	}

	if err := m.Set("u1", KeyTheme, ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s, _ := m.Get("u1"); s.Theme != "system" {
		t.Errorf("theme after reset = %q", s.Theme)
	}
	if s, _ := m.Get("u2"); s.DisplayName != "" {
		t.Errorf("settings leaked to another user: %+v", s)
	}
}

func TestSet_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Set("u1", "favourite_color", "blue"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key err = %v", err)
	}
	if err := m.Set("u1", KeyTheme, "neon"); err == nil {
		t.Error("expected error for invalid theme")
	}
	if err := m.Set("u1", KeyLLMDelegation, "maybe"); err == nil {
		t.Error("expected error for non-boolean delegation")
	}
}

func TestGet_CachesUntilTTLOrWrite(t *testing.T) {
	m, store, clock := newTestManager(t)

	m.Get("u1")
	m.Get("u1")
	if store.reads != 1 {
		t.Errorf("reads = %d, want 1 (cached)", store.reads)
	}

	clock.t = clock.t.Add(2 * time.Minute)
	m.Get("u1")
	if store.reads != 2 {
		t.Errorf("reads = %d, want 2 after TTL", store.reads)
	}

	m.Set("u1", KeyDisplayName, "Grace")
	s, _ := m.Get("u1")
	if store.reads != 3 || s.DisplayName != "Grace" {
		t.Errorf("reads = %d, name = %q after write", store.reads, s.DisplayName)
	}
}
