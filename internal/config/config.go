package config

import (
	"strings"
)

const keychainService = "nodebench"

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	LLM         LLMConfig
	Planner     PlannerConfig
	Coordinator CoordinatorConfig
	Search      SearchConfig
	SEC         SECConfig
	Entity      EntityConfig
	Billing     BillingConfig
	Gmail       GmailConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type LLMConfig struct {
	OpenRouterAPIKey  string
	OpenAIAPIKey      string
	OpenRouterBaseURL string
	OpenAIBaseURL     string
	DefaultModel      string
	OpenAIModel       string
}

type PlannerConfig struct {
	// Provider is one of auto, openrouter, openai, heuristic.
	Provider string
}

type CoordinatorConfig struct {
	LLMDelegation bool
}

type SearchConfig struct {
	BaseURL string
	APIKey  string
}

type SECConfig struct {
	UserAgent string
}

type EntityConfig struct {
	StalenessDays int
}

type BillingConfig struct {
	// Mode is one of auto, polar, stripe, dev.
	Mode                string
	StripeSecretKey     string
	StripePriceID       string
	StripeWebhookSecret string
	PolarToken          string
	PolarProductID      string
	PolarWebhookSecret  string
	SuccessURL          string
	CancelURL           string
}

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateSecret  string
}

type RateLimitConfig struct {
	RedisAddr         string
	RequestsPerMinute int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       4100,
			MCPEnabled: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
			OpenAIBaseURL:     "https://api.openai.com/v1",
			DefaultModel:      "anthropic/claude-sonnet-4",
			OpenAIModel:       "gpt-4o-mini",
		},
		Planner: PlannerConfig{
			Provider: "auto",
		},
		SEC: SECConfig{
			UserAgent: "nodebench research admin@localhost",
		},
		Entity: EntityConfig{
			StalenessDays: 7,
		},
		Billing: BillingConfig{
			Mode:       "auto",
			SuccessURL: "http://localhost:3000/billing/success",
			CancelURL:  "http://localhost:3000/billing/cancel",
		},
		Gmail: GmailConfig{
			RedirectURL: "http://127.0.0.1:4100/gmail/callback",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.nodebench.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/nodebench/config.yaml
// and secrets live in $XDG_DATA_HOME/nodebench/secrets.yaml.
//
// Environment variables (NODEBENCH_*) override backend values on all platforms.
// No key is required; a missing LLM key only shortens the provider chains.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills secret keys still empty after env overrides from the
// platform secret store. The account name is the config key.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.key); err == nil && strings.TrimSpace(v) != "" {
			s.apply(cfg, strings.TrimSpace(v))
		}
	}
}
