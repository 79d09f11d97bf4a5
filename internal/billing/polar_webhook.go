package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

// PolarHeaders are the Standard Webhooks headers Polar signs deliveries with.
type PolarHeaders struct {
	ID        string // webhook-id
	Timestamp string // webhook-timestamp
	Signature string // webhook-signature
}

type polarEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type polarSubscription struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CustomerID       string            `json:"customer_id"`
	CurrentPeriodEnd *time.Time        `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

// HandlePolarWebhook verifies a Polar delivery and applies subscription.*
// events. Checkout metadata carries user_id onto the subscription, so the
// first event for a subscription creates the local row. Other event types
// are accepted and ignored.
func (s *Service) HandlePolarWebhook(payload []byte, h PolarHeaders) error {
	if s.polarWebhookSecret == "" {
		return ErrWebhookDisabled
	}
	if err := VerifyPolarSignature(payload, h, s.polarWebhookSecret, s.now()); err != nil {
		return err
	}

	var ev polarEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding polar event: %w", err)
	}
	if !strings.HasPrefix(ev.Type, "subscription.") {
		slog.Debug("ignoring polar event", "type", ev.Type)
		return nil
	}

	var obj polarSubscription
	if err := json.Unmarshal(ev.Data, &obj); err != nil {
		return fmt.Errorf("decoding polar subscription: %w", err)
	}
	status, ok := polarStatus(ev.Type, obj.Status)
	if !ok {
		slog.Debug("ignoring polar subscription status", "type", ev.Type, "status", obj.Status)
		return nil
	}

	sub, err := s.store.FindSubscriptionByExternalID(obj.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		userID := obj.Metadata["user_id"]
		if userID == "" {
			slog.Warn("polar subscription without user_id metadata", "subscription", obj.ID)
			return nil
		}
		sub = storage.Subscription{UserID: userID, Provider: ModePolar, ExternalID: obj.ID}
	case err != nil:
		return err
	}
	sub.Status = status
	if obj.CustomerID != "" {
		sub.CustomerID = obj.CustomerID
	}
	if obj.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = obj.CurrentPeriodEnd.UTC()
	}
	slog.Info("polar subscription updated", "user", sub.UserID, "type", ev.Type, "status", status)
	return s.store.UpsertSubscription(sub)
}

// polarStatus maps a Polar subscription status onto the local one. Transient
// states such as incomplete and past_due leave the row unchanged.
func polarStatus(eventType, status string) (string, bool) {
	if eventType == "subscription.revoked" {
		return storage.SubscriptionCanceled, true
	}
	switch status {
	case "active", "trialing":
		return storage.SubscriptionActive, true
	case "canceled", "unpaid", "incomplete_expired":
		return storage.SubscriptionCanceled, true
	}
	return "", false
}

// VerifyPolarSignature checks Standard Webhooks headers: webhook-signature
// holds space-separated "v1,<base64>" entries over "<id>.<timestamp>.<payload>".
func VerifyPolarSignature(payload []byte, h PolarHeaders, secret string, now time.Time) error {
	if h.ID == "" || h.Timestamp == "" || h.Signature == "" {
		return fmt.Errorf("%w: missing webhook headers", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := SignPolar(payload, secret, h.ID, unix)
	for _, sig := range strings.Fields(h.Signature) {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPolar returns the "v1,<base64>" signature for payload. A "whsec_"
// secret is base64 after the prefix; any other secret is used as raw bytes,
// which is how Polar hands out its webhook secrets.
func SignPolar(payload []byte, secret, msgID string, ts int64) string {
	key := []byte(secret)
	if rest, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if decoded, err := base64.StdEncoding.DecodeString(rest); err == nil {
			key = decoded
		}
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%d.", msgID, ts)
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
