package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

const signatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrWebhookDisabled  = errors.New("webhook secret not configured")
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSessionObject struct {
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
}

type subscriptionObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// HandleStripeWebhook verifies the Stripe-Signature header and applies the
// event. Unhandled event types are accepted and ignored.
func (s *Service) HandleStripeWebhook(payload []byte, signatureHeader string) error {
	if s.webhookSecret == "" {
		return ErrWebhookDisabled
	}
	if err := VerifySignature(payload, signatureHeader, s.webhookSecret, s.now()); err != nil {
		return err
	}

	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding stripe event: %w", err)
	}

	switch ev.Type {
	case "checkout.session.completed":
		var obj checkoutSessionObject
		if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
			return fmt.Errorf("decoding checkout session: %w", err)
		}
		if obj.ClientReferenceID == "" {
			return errors.New("checkout session has no client_reference_id")
		}
		slog.Info("stripe checkout completed", "user", obj.ClientReferenceID, "event", ev.ID)
		return s.store.UpsertSubscription(storage.Subscription{
			UserID:     obj.ClientReferenceID,
			Status:     storage.SubscriptionActive,
			Provider:   ModeStripe,
			CustomerID: obj.Customer,
			ExternalID: obj.Subscription,
		})

	case "customer.subscription.deleted":
		var obj subscriptionObject
		if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
			return fmt.Errorf("decoding subscription: %w", err)
		}
		sub, err := s.store.FindSubscriptionByExternalID(obj.ID)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("stripe subscription deleted for unknown subscription", "subscription", obj.ID)
			return nil
		}
		if err != nil {
			return err
		}
		sub.Status = storage.SubscriptionCanceled
		if obj.CurrentPeriodEnd > 0 {
			sub.CurrentPeriodEnd = time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		}
		slog.Info("stripe subscription canceled", "user", sub.UserID, "event", ev.ID)
		return s.store.UpsertSubscription(sub)

	default:
		slog.Debug("ignoring stripe event", "type", ev.Type)
		return nil
	}
}

// VerifySignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against HMAC-SHA256("<t>.<payload>").
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: missing timestamp or v1 signature", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := Sign(payload, secret, unix)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign returns the hex v1 signature Stripe would send for payload at ts.
func Sign(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
