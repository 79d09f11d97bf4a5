package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NODEBENCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "NODEBENCH_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NODEBENCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "NODEBENCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "NODEBENCH_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "NODEBENCH_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.openrouter_base_url", typ: kString, env: "NODEBENCH_LLM_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterBaseURL },
	},
	{
		key: "llm.openai_base_url", typ: kString, env: "NODEBENCH_LLM_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIBaseURL },
	},
	{
		key: "llm.default_model", typ: kString, env: "NODEBENCH_LLM_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.DefaultModel },
	},
	{
		key: "llm.openai_model", typ: kString, env: "NODEBENCH_LLM_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIModel },
	},
	{
		key: "planner.provider", typ: kString, env: "NODEBENCH_PLANNER_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Planner.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Planner.Provider },
	},
	{
		key: "coordinator.llm_delegation", typ: kBool, env: "NODEBENCH_COORDINATOR_LLM_DELEGATION",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.LLMDelegation = v.(bool) },
		extract: func(cfg Config) any { return cfg.Coordinator.LLMDelegation },
	},
	{
		key: "search.base_url", typ: kString, env: "NODEBENCH_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.api_key", typ: kString, env: "NODEBENCH_SEARCH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "sec.user_agent", typ: kString, env: "NODEBENCH_SEC_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.SEC.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.SEC.UserAgent },
	},
	{
		key: "entity.staleness_days", typ: kInt, env: "NODEBENCH_ENTITY_STALENESS_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Entity.StalenessDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Entity.StalenessDays },
	},
	{
		key: "billing.mode", typ: kString, env: "NODEBENCH_BILLING_MODE",
		apply:   func(cfg *Config, v any) { cfg.Billing.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.Mode },
	},
	{
		key: "billing.stripe_secret_key", typ: kString, env: "NODEBENCH_STRIPE_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Billing.StripeSecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.StripeSecretKey },
	},
	{
		key: "billing.stripe_price_id", typ: kString, env: "NODEBENCH_BILLING_STRIPE_PRICE_ID",
		apply:   func(cfg *Config, v any) { cfg.Billing.StripePriceID = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.StripePriceID },
	},
	{
		key: "billing.stripe_webhook_secret", typ: kString, env: "NODEBENCH_STRIPE_WEBHOOK_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Billing.StripeWebhookSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.StripeWebhookSecret },
	},
	{
		key: "billing.polar_token", typ: kString, env: "NODEBENCH_POLAR_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Billing.PolarToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.PolarToken },
	},
	{
		key: "billing.polar_product_id", typ: kString, env: "NODEBENCH_BILLING_POLAR_PRODUCT_ID",
		apply:   func(cfg *Config, v any) { cfg.Billing.PolarProductID = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.PolarProductID },
	},
	{
		key: "billing.polar_webhook_secret", typ: kString, env: "NODEBENCH_POLAR_WEBHOOK_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Billing.PolarWebhookSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.PolarWebhookSecret },
	},
	{
		key: "billing.success_url", typ: kString, env: "NODEBENCH_BILLING_SUCCESS_URL",
		apply:   func(cfg *Config, v any) { cfg.Billing.SuccessURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.SuccessURL },
	},
	{
		key: "billing.cancel_url", typ: kString, env: "NODEBENCH_BILLING_CANCEL_URL",
		apply:   func(cfg *Config, v any) { cfg.Billing.CancelURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Billing.CancelURL },
	},
	{
		key: "gmail.client_id", typ: kString, env: "NODEBENCH_GMAIL_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Gmail.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.ClientID },
	},
	{
		key: "gmail.client_secret", typ: kString, env: "NODEBENCH_GMAIL_CLIENT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gmail.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.ClientSecret },
	},
	{
		key: "gmail.redirect_url", typ: kString, env: "NODEBENCH_GMAIL_REDIRECT_URL",
		apply:   func(cfg *Config, v any) { cfg.Gmail.RedirectURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.RedirectURL },
	},
	{
		key: "gmail.state_secret", typ: kString, env: "NODEBENCH_GMAIL_STATE_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gmail.StateSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.StateSecret },
	},
	{
		key: "ratelimit.redis_addr", typ: kString, env: "NODEBENCH_RATELIMIT_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.RateLimit.RedisAddr },
	},
	{
		key: "ratelimit.requests_per_minute", typ: kInt, env: "NODEBENCH_RATELIMIT_REQUESTS_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.RequestsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.RequestsPerMinute },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetBool(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
