// Package settings provides cached per-user preferences backed by the
// settings table.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Setting keys.
const (
	KeyDisplayName     = "display_name"
	KeyDefaultModel    = "default_model"
	KeyTheme           = "theme"
	KeyPlannerProvider = "planner_provider"
	KeyLLMDelegation   = "llm_delegation"
)

// ErrUnknownKey is returned by Set for keys outside the known set.
var ErrUnknownKey = errors.New("unknown setting")

type Settings struct {
	DisplayName     string `json:"displayName"`
	DefaultModel    string `json:"defaultModel"`
	Theme           string `json:"theme"`
	PlannerProvider string `json:"plannerProvider"`
	LLMDelegation   bool   `json:"llmDelegation"`
}

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetSettings(userID string) (map[string]string, error)
	SetSetting(userID, key, value string) error
	DeleteSetting(userID, key string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

var rules = map[string][]validation.Rule{
	KeyDisplayName:     {validation.Length(0, 80)},
	KeyDefaultModel:    {validation.Length(0, 200)},
	KeyTheme:           {validation.In("light", "dark", "system")},
	KeyPlannerProvider: {validation.In("auto", "openrouter", "openai", "heuristic")},
	KeyLLMDelegation:   {validation.In("true", "false")},
}

// Keys returns the known setting keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type entry struct {
	settings Settings
	at       time.Time
}

// Manager provides cached access to user settings. Stored values override
// the defaults it was created with.
type Manager struct {
	store    Store
	defaults Settings
	clock    Clock
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]entry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store, defaults Settings) *Manager {
	return NewManagerWithClock(store, defaults, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, defaults Settings, clock Clock, ttl time.Duration) *Manager {
	if defaults.Theme == "" {
		defaults.Theme = "system"
	}
	if defaults.PlannerProvider == "" {
		defaults.PlannerProvider = "auto"
	}
	return &Manager{
		store:    store,
		defaults: defaults,
		clock:    clock,
		ttl:      ttl,
		cache:    make(map[string]entry),
	}
}

func (m *Manager) Get(userID string) (Settings, error) {
	m.mu.RLock()
	e, ok := m.cache[userID]
	m.mu.RUnlock()
	if ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		return e.settings, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		return e.settings, nil
	}

	raw, err := m.store.GetSettings(userID)
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	s := m.build(raw)
	m.cache[userID] = entry{settings: s, at: m.clock.Now()}
	return s, nil
}

// Set validates and persists one setting. An empty value resets the key to
// its default.
func (m *Manager) Set(userID, key, value string) error {
	rs, ok := rules[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	value = strings.TrimSpace(value)
	if key == KeyLLMDelegation && value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: must be a boolean", key)
		}
		value = strconv.FormatBool(b)
	}
	if err := validation.Validate(value, rs...); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if value == "" {
		err = m.store.DeleteSetting(userID, key)
	} else {
		err = m.store.SetSetting(userID, key, value)
	}
	if err != nil {
		return fmt.Errorf("saving setting %q: %w", key, err)
	}
	delete(m.cache, userID)
	return nil
}

func (m *Manager) build(raw map[string]string) Settings {
	s := m.defaults
	if v, ok := raw[KeyDisplayName]; ok {
		s.DisplayName = v
	}
	if v, ok := raw[KeyDefaultModel]; ok {
		s.DefaultModel = v
	}
	if v, ok := raw[KeyTheme]; ok {
		s.Theme = v
	}
	if v, ok := raw[KeyPlannerProvider]; ok {
		s.PlannerProvider = v
	}
	if v, ok := raw[KeyLLMDelegation]; ok {
		s.LLMDelegation = v == "true"
	}
	return s
}
