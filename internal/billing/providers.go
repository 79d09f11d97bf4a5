package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultStripeBaseURL = "https://api.stripe.com"
	DefaultPolarBaseURL  = "https://api.polar.sh"
)

type checkoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeClient creates Stripe Checkout Sessions.
type StripeClient struct {
	client  *resty.Client
	priceID string
}

func NewStripeClient(baseURL, secretKey, priceID string) *StripeClient {
	if baseURL == "" {
		baseURL = DefaultStripeBaseURL
	}
	return &StripeClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(secretKey).
			SetTimeout(20 * time.Second),
		priceID: priceID,
	}
}

func (c *StripeClient) Name() string { return ModeStripe }

func (c *StripeClient) Checkout(ctx context.Context, req CheckoutRequest) (Session, error) {
	form := map[string]string{
		"mode":                    "subscription",
		"line_items[0][price]":    c.priceID,
		"line_items[0][quantity]": "1",
		"success_url":             req.SuccessURL,
		"cancel_url":              req.CancelURL,
		"client_reference_id":     req.UserID,
	}
	if req.Email != "" {
		form["customer_email"] = req.Email
	}

	var out checkoutResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post("/v1/checkout/sessions")
	if err != nil {
		return Session{}, fmt.Errorf("stripe request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Session{}, fmt.Errorf("stripe status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.URL == "" {
		return Session{}, errors.New("stripe returned no checkout url")
	}
	return Session{URL: out.URL, Provider: ModeStripe, ID: out.ID}, nil
}

// CancelSubscription cancels a Stripe subscription immediately.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Delete("/v1/subscriptions/" + subscriptionID)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("stripe status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// PolarClient creates Polar checkout sessions.
type PolarClient struct {
	client    *resty.Client
	productID string
}

func NewPolarClient(baseURL, token, productID string) *PolarClient {
	if baseURL == "" {
		baseURL = DefaultPolarBaseURL
	}
	return &PolarClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetTimeout(20 * time.Second),
		productID: productID,
	}
}

func (c *PolarClient) Name() string { return ModePolar }

type polarCheckoutRequest struct {
	ProductID     string            `json:"product_id"`
	SuccessURL    string            `json:"success_url"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

func (c *PolarClient) Checkout(ctx context.Context, req CheckoutRequest) (Session, error) {
	body := polarCheckoutRequest{
		ProductID:     c.productID,
		SuccessURL:    req.SuccessURL,
		CustomerEmail: req.Email,
		Metadata:      map[string]string{"user_id": req.UserID},
	}
	var out checkoutResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&body).
		SetResult(&out).
		Post("/v1/checkouts/")
	if err != nil {
		return Session{}, fmt.Errorf("polar request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return Session{}, fmt.Errorf("polar status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.URL == "" {
		return Session{}, errors.New("polar returned no checkout url")
	}
	return Session{URL: out.URL, Provider: ModePolar, ID: out.ID}, nil
}

// CancelSubscription revokes a Polar subscription immediately.
func (c *PolarClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Delete("/v1/subscriptions/" + subscriptionID)
	if err != nil {
		return fmt.Errorf("polar request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("polar status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
