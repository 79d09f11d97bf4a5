// Package billing starts subscription checkouts with Polar or Stripe, falls
// back to a local dev mode, and applies Stripe and Polar webhook events.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

// Billing modes.
const (
	ModeAuto   = "auto"
	ModePolar  = "polar"
	ModeStripe = "stripe"
	ModeDev    = "dev"
)

const devPeriod = 30 * 24 * time.Hour

var (
	// ErrAlreadySubscribed is returned by Checkout for a user with an active subscription.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotConfigured is returned when the pinned provider has no credentials.
	ErrNotConfigured = errors.New("billing provider not configured")
	// ErrNoSubscription is returned by Cancel when nothing is active.
	ErrNoSubscription = errors.New("no active subscription")
)

// Store is the subset of storage.Store billing needs.
type Store interface {
	GetSubscription(userID string) (storage.Subscription, error)
	UpsertSubscription(sub storage.Subscription) error
	FindSubscriptionByExternalID(externalID string) (storage.Subscription, error)
}

type Config struct {
	Mode                string
	StripeSecretKey     string
	StripePriceID       string
	StripeWebhookSecret string
	StripeBaseURL       string
	PolarToken          string
	PolarProductID      string
	PolarWebhookSecret  string
	PolarBaseURL        string
	SuccessURL          string
	CancelURL           string
}

// Session is a started checkout. URL is where the user completes payment.
type Session struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
	ID       string `json:"id,omitempty"`
}

// CheckoutRequest is what a provider needs to start a checkout.
type CheckoutRequest struct {
	UserID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// Provider starts hosted checkouts.
type Provider interface {
	Name() string
	Checkout(ctx context.Context, req CheckoutRequest) (Session, error)
}

type Service struct {
	store              Store
	providers          []Provider
	stripe             *StripeClient
	polar              *PolarClient
	webhookSecret      string
	polarWebhookSecret string
	successURL         string
	cancelURL          string
	now                func() time.Time
}

// New builds the provider chain for cfg.Mode. In auto mode every configured
// provider is tried in the order Polar, Stripe, and dev mode closes the chain.
func New(store Store, cfg Config) (*Service, error) {
	s := &Service{
		store:              store,
		webhookSecret:      cfg.StripeWebhookSecret,
		polarWebhookSecret: cfg.PolarWebhookSecret,
		successURL:         cfg.SuccessURL,
		cancelURL:          cfg.CancelURL,
		now:                time.Now,
	}
	if cfg.PolarToken != "" && cfg.PolarProductID != "" {
		s.polar = NewPolarClient(cfg.PolarBaseURL, cfg.PolarToken, cfg.PolarProductID)
	}
	if cfg.StripeSecretKey != "" && cfg.StripePriceID != "" {
		s.stripe = NewStripeClient(cfg.StripeBaseURL, cfg.StripeSecretKey, cfg.StripePriceID)
	}
	dev := devProvider{s: s}

	switch cfg.Mode {
	case ModeAuto, "":
		if s.polar != nil {
			s.providers = append(s.providers, s.polar)
		}
		if s.stripe != nil {
			s.providers = append(s.providers, s.stripe)
		}
		s.providers = append(s.providers, dev)
	case ModePolar:
		if s.polar == nil {
			return nil, fmt.Errorf("%w: polar needs billing.polar_token and billing.polar_product_id", ErrNotConfigured)
		}
		s.providers = []Provider{s.polar}
	case ModeStripe:
		if s.stripe == nil {
			return nil, fmt.Errorf("%w: stripe needs billing.stripe_secret_key and billing.stripe_price_id", ErrNotConfigured)
		}
		s.providers = []Provider{s.stripe}
	case ModeDev:
		s.providers = []Provider{dev}
	default:
		return nil, fmt.Errorf("unknown billing mode %q", cfg.Mode)
	}
	return s, nil
}

// SetClock overrides the time source (for testing).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Providers returns the names of the providers in chain order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// Checkout starts a checkout with the first provider that succeeds.
func (s *Service) Checkout(ctx context.Context, userID, email string) (Session, error) {
	sub, err := s.store.GetSubscription(userID)
	if err != nil {
		return Session{}, fmt.Errorf("loading subscription: %w", err)
	}
	if sub.Status == storage.SubscriptionActive {
		return Session{}, ErrAlreadySubscribed
	}

	req := CheckoutRequest{UserID: userID, Email: email, SuccessURL: s.successURL, CancelURL: s.cancelURL}
	var errs []error
	for _, p := range s.providers {
		sess, err := p.Checkout(ctx, req)
		if err == nil {
			slog.Info("checkout started", "user", userID, "provider", p.Name())
			return sess, nil
		}
		slog.Warn("checkout provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return Session{}, fmt.Errorf("checkout failed: %w", errors.Join(errs...))
}

// Status returns the user's subscription; users without one have status none.
func (s *Service) Status(userID string) (storage.Subscription, error) {
	return s.store.GetSubscription(userID)
}

// Cancel marks the subscription canceled, cancelling it at the provider first
// when it came from Stripe or Polar and that provider is configured.
func (s *Service) Cancel(ctx context.Context, userID string) (storage.Subscription, error) {
	sub, err := s.store.GetSubscription(userID)
	if err != nil {
		return storage.Subscription{}, err
	}
	if sub.Status != storage.SubscriptionActive {
		return storage.Subscription{}, ErrNoSubscription
	}
	if sub.ExternalID != "" {
		switch {
		case sub.Provider == ModeStripe && s.stripe != nil:
			if err := s.stripe.CancelSubscription(ctx, sub.ExternalID); err != nil {
				return storage.Subscription{}, fmt.Errorf("canceling stripe subscription: %w", err)
			}
		case sub.Provider == ModePolar && s.polar != nil:
			if err := s.polar.CancelSubscription(ctx, sub.ExternalID); err != nil {
				return storage.Subscription{}, fmt.Errorf("canceling polar subscription: %w", err)
			}
		}
	}
	sub.Status = storage.SubscriptionCanceled
	if err := s.store.UpsertSubscription(sub); err != nil {
		return storage.Subscription{}, err
	}
	return s.store.GetSubscription(userID)
}

// devProvider activates the subscription locally without payment.
type devProvider struct {
	s *Service
}

func (devProvider) Name() string { return ModeDev }

func (d devProvider) Checkout(_ context.Context, req CheckoutRequest) (Session, error) {
	if err := d.s.store.UpsertSubscription(storage.Subscription{
		UserID:           req.UserID,
		Status:           storage.SubscriptionActive,
		Provider:         ModeDev,
		CurrentPeriodEnd: d.s.now().Add(devPeriod),
	}); err != nil {
		return Session{}, fmt.Errorf("activating dev subscription: %w", err)
	}
	return Session{URL: req.SuccessURL, Provider: ModeDev}, nil
}
