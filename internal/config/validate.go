package config

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate checks value ranges and enum keys after all sources are merged.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return prefixed("server", err)
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.DataDir, validation.Required),
	); err != nil {
		return prefixed("storage", err)
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
	); err != nil {
		return prefixed("log", err)
	}
	if err := validation.ValidateStruct(&c.Planner,
		validation.Field(&c.Planner.Provider, validation.Required, validation.In("auto", "openrouter", "openai", "heuristic")),
	); err != nil {
		return prefixed("planner", err)
	}
	if err := validation.ValidateStruct(&c.Entity,
		validation.Field(&c.Entity.StalenessDays, validation.Required, validation.Min(1)),
	); err != nil {
		return prefixed("entity", err)
	}
	if err := validation.ValidateStruct(&c.Billing,
		validation.Field(&c.Billing.Mode, validation.Required, validation.In("auto", "polar", "stripe", "dev")),
		validation.Field(&c.Billing.StripePriceID, validation.When(c.Billing.Mode == "stripe", validation.Required)),
		validation.Field(&c.Billing.PolarProductID, validation.When(c.Billing.Mode == "polar", validation.Required)),
	); err != nil {
		return prefixed("billing", err)
	}
	if err := validation.ValidateStruct(&c.RateLimit,
		validation.Field(&c.RateLimit.RequestsPerMinute, validation.When(c.RateLimit.RedisAddr != "", validation.Required, validation.Min(1))),
	); err != nil {
		return prefixed("ratelimit", err)
	}
	return nil
}

type sectionError struct {
	section string
	err     error
}

func (e sectionError) Error() string { return "invalid config " + e.section + ": " + e.err.Error() }
func (e sectionError) Unwrap() error { return e.err }

func prefixed(section string, err error) error {
	return sectionError{section: section, err: err}
}
