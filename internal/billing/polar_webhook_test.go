package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

func polarHeaders(payload []byte, secret, id string, ts time.Time) PolarHeaders {
	return PolarHeaders{
		ID:        id,
		Timestamp: strconv.FormatInt(ts.Unix(), 10),
		Signature: SignPolar(payload, secret, id, ts.Unix()),
	}
}

func TestSignPolar_StandardWebhooksVector(t *testing.T) {
	got := SignPolar([]byte(`{"test": 2432232314}`), "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw", "msg_p5jXN8AQM9LWM0D4loKWxJek", 1614265330)
	if want := "v1,g0hM9SsE+OTPJTGt/tmIKtSyZlE3uFJELVlNIOLJ1OE="; got != want {
		t.Errorf("SignPolar = %q, want %q", got, want)
	}
}

func TestVerifyPolarSignature(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	payload := []byte(`{"type":"checkout.created","data":{}}`)
	good := polarHeaders(payload, "polar_secret", "msg_1", now)

	if err := VerifyPolarSignature(payload, good, "polar_secret", now); err != nil {
		t.Fatalf("valid delivery rejected: %v", err)
	}
	rotated := good
	rotated.Signature = "v1,c3RhbGU= " + good.Signature
	if err := VerifyPolarSignature(payload, rotated, "polar_secret", now); err != nil {
		t.Errorf("second signature not considered: %v", err)
	}

	bad := map[string]PolarHeaders{
		"missing id":    {Timestamp: good.Timestamp, Signature: good.Signature},
		"other id":      {ID: "msg_2", Timestamp: good.Timestamp, Signature: good.Signature},
		"bad timestamp": {ID: "msg_1", Timestamp: "soon", Signature: good.Signature},
		"stale":         polarHeaders(payload, "polar_secret", "msg_1", now.Add(-10*time.Minute)),
		"wrong secret":  polarHeaders(payload, "other", "msg_1", now),
		"no v1 prefix":  {ID: "msg_1", Timestamp: good.Timestamp, Signature: good.Signature[3:]},
	}
	for name, h := range bad {
		if err := VerifyPolarSignature(payload, h, "polar_secret", now); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: err = %v, want ErrInvalidSignature", name, err)
		}
	}
}

func TestHandlePolarWebhook_Lifecycle(t *testing.T) {
	store := openStore(t)
	cfg := baseConfig()
	cfg.PolarWebhookSecret = "polar_secret"
	s, _ := New(store, cfg)
	now := time.Unix(1_800_000_000, 0)
	s.SetClock(func() time.Time { return now })

	deliver := func(id, payload string) error {
		return s.HandlePolarWebhook([]byte(payload), polarHeaders([]byte(payload), "polar_secret", id, now))
	}

	if err := deliver("msg_1", `{"type":"subscription.created","data":{"id":"psub_1","status":"incomplete","customer_id":"pc_1","metadata":{"user_id":"u1"}}}`); err != nil {
		t.Fatalf("created: %v", err)
	}
	if sub, _ := store.GetSubscription("u1"); sub.Status != storage.SubscriptionNone {
		t.Errorf("incomplete subscription recorded as %q", sub.Status)
	}

	if err := deliver("msg_2", `{"type":"subscription.active","data":{"id":"psub_1","status":"active","customer_id":"pc_1","current_period_end":"2027-02-15T00:00:00Z","metadata":{"user_id":"u1"}}}`); err != nil {
		t.Fatalf("active: %v", err)
	}
	sub, _ := store.GetSubscription("u1")
	if sub.Status != storage.SubscriptionActive || sub.Provider != ModePolar || sub.ExternalID != "psub_1" || sub.CustomerID != "pc_1" {
		t.Errorf("after active = %+v", sub)
	}
	if !sub.CurrentPeriodEnd.Equal(time.Date(2027, 2, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("period end = %v", sub.CurrentPeriodEnd)
	}

	// Later events are matched by subscription id even without metadata.
	if err := deliver("msg_3", `{"type":"subscription.revoked","data":{"id":"psub_1","status":"active"}}`); err != nil {
		t.Fatalf("revoked: %v", err)
	}
	if sub, _ := store.GetSubscription("u1"); sub.Status != storage.SubscriptionCanceled || sub.CustomerID != "pc_1" {
		t.Errorf("after revoked = %+v", sub)
	}

	if err := deliver("msg_4", `{"type":"subscription.active","data":{"id":"psub_9","status":"active"}}`); err != nil {
		t.Errorf("unknown subscription without user: %v", err)
	}
	if err := deliver("msg_5", `{"type":"order.paid","data":{"id":"ord_1"}}`); err != nil {
		t.Errorf("unhandled event: %v", err)
	}
}

func TestHandlePolarWebhook_Disabled(t *testing.T) {
	s, _ := New(openStore(t), baseConfig())
	if err := s.HandlePolarWebhook([]byte(`{}`), PolarHeaders{}); !errors.Is(err, ErrWebhookDisabled) {
		t.Errorf("err = %v, want ErrWebhookDisabled", err)
	}
}

func TestCancel_Polar(t *testing.T) {
	var deletedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletedPath = r.URL.Path
		}
		fmt.Fprint(w, `{"id":"psub_1","status":"canceled"}`)
	}))
	defer srv.Close()

	store := openStore(t)
	cfg := baseConfig()
	cfg.PolarToken, cfg.PolarProductID, cfg.PolarBaseURL = "pt", "prod", srv.URL
	s, _ := New(store, cfg)

	store.UpsertSubscription(storage.Subscription{UserID: "u1", Status: storage.SubscriptionActive, Provider: ModePolar, ExternalID: "psub_1"})
	sub, err := s.Cancel(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != storage.SubscriptionCanceled {
		t.Errorf("status = %q", sub.Status)
	}
	if deletedPath != "/v1/subscriptions/psub_1" {
		t.Errorf("polar delete path = %q", deletedPath)
	}
}
