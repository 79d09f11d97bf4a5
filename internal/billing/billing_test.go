package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func baseConfig() Config {
	return Config{
		Mode:       ModeAuto,
		SuccessURL: "http://localhost:3000/billing/success",
		CancelURL:  "http://localhost:3000/billing/cancel",
	}
}

func TestNew_ChainByMode(t *testing.T) {
	store := openStore(t)
	cfg := baseConfig()

	s, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Providers(); !reflect.DeepEqual(got, []string{ModeDev}) {
		t.Errorf("unconfigured auto chain = %v", got)
	}

	cfg.PolarToken, cfg.PolarProductID = "pt", "prod"
	cfg.StripeSecretKey, cfg.StripePriceID = "sk", "price"
	s, _ = New(store, cfg)
	if got := s.Providers(); !reflect.DeepEqual(got, []string{ModePolar, ModeStripe, ModeDev}) {
		t.Errorf("configured auto chain = %v", got)
	}

	cfg.Mode = ModeStripe
	s, _ = New(store, cfg)
	if got := s.Providers(); !reflect.DeepEqual(got, []string{ModeStripe}) {
		t.Errorf("stripe chain = %v", got)
	}

	if _, err := New(store, Config{Mode: ModePolar}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("polar without token err = %v", err)
	}
	if _, err := New(store, Config{Mode: "paypal"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCheckout_DevActivatesImmediately(t *testing.T) {
	store := openStore(t)
	s, _ := New(store, baseConfig())
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	sess, err := s.Checkout(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if sess.Provider != ModeDev || sess.URL != "http://localhost:3000/billing/success" {
		t.Errorf("session = %+v", sess)
	}
	sub, _ := s.Status("u1")
	if sub.Status != storage.SubscriptionActive || sub.Provider != ModeDev || !sub.CurrentPeriodEnd.Equal(now.Add(devPeriod)) {
		t.Errorf("subscription = %+v", sub)
	}

	if _, err := s.Checkout(context.Background(), "u1", ""); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("second checkout err = %v, want ErrAlreadySubscribed", err)
	}
}

func TestCheckout_StripeForm(t *testing.T) {
	var form map[string][]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		r.ParseForm()
		form = r.PostForm
		fmt.Fprint(w, `{"id":"cs_123","url":"https://checkout.stripe.example/cs_123"}`)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Mode = ModeStripe
	cfg.StripeSecretKey, cfg.StripePriceID, cfg.StripeBaseURL = "sk_test", "price_1", srv.URL
	s, err := New(openStore(t), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess, err := s.Checkout(context.Background(), "u1", "a@example.com")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if sess.URL != "https://checkout.stripe.example/cs_123" || sess.ID != "cs_123" || sess.Provider != ModeStripe {
		t.Errorf("session = %+v", sess)
	}
	if auth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", auth)
	}
	want := map[string]string{
		"mode":                 "subscription",
		"line_items[0][price]": "price_1",
		"client_reference_id":  "u1",
		"customer_email":       "a@example.com",
		"success_url":          cfg.SuccessURL,
		"cancel_url":           cfg.CancelURL,
	}
	for k, v := range want {
		if got := strings.Join(form[k], ","); got != v {
			t.Errorf("form[%s] = %q, want %q", k, got, v)
		}
	}
}

func TestCheckout_PolarFallsBackToStripe(t *testing.T) {
	var polarBody map[string]any
	polar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&polarBody)
		http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
	}))
	defer polar.Close()
	stripe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"cs_9","url":"https://stripe.example/cs_9"}`)
	}))
	defer stripe.Close()

	cfg := baseConfig()
	cfg.PolarToken, cfg.PolarProductID, cfg.PolarBaseURL = "pt", "prod_1", polar.URL
	cfg.StripeSecretKey, cfg.StripePriceID, cfg.StripeBaseURL = "sk", "price", stripe.URL
	s, _ := New(openStore(t), cfg)

	sess, err := s.Checkout(context.Background(), "u7", "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if sess.Provider != ModeStripe {
		t.Errorf("provider = %q, want stripe after polar failure", sess.Provider)
	}
	if polarBody["product_id"] != "prod_1" {
		t.Errorf("polar body = %v", polarBody)
	}
	meta, _ := polarBody["metadata"].(map[string]any)
	if meta["user_id"] != "u7" {
		t.Errorf("polar metadata = %v", polarBody["metadata"])
	}
}

func TestCheckout_PolarCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkouts/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"co_1","url":"https://polar.example/co_1"}`)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Mode = ModePolar
	cfg.PolarToken, cfg.PolarProductID, cfg.PolarBaseURL = "pt", "prod", srv.URL
	s, _ := New(openStore(t), cfg)
	sess, err := s.Checkout(context.Background(), "u1", "")
	if err != nil || sess.URL != "https://polar.example/co_1" {
		t.Errorf("sess=%+v err=%v", sess, err)
	}
}

func signedHeader(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), Sign(payload, secret, ts.Unix()))
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	payload := []byte(`{"type":"ping"}`)

	if err := VerifySignature(payload, signedHeader(payload, "whsec", now), "whsec", now); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	multi := fmt.Sprintf("t=%d,v1=deadbeef,v1=%s", now.Unix(), Sign(payload, "whsec", now.Unix()))
	if err := VerifySignature(payload, multi, "whsec", now); err != nil {
		t.Errorf("second v1 signature not accepted: %v", err)
	}

	bad := []string{
		signedHeader(payload, "other", now),
		signedHeader(payload, "whsec", now.Add(-6*time.Minute)),
		"v1=abc",
		"t=notanumber,v1=abc",
	}
	for _, h := range bad {
		if err := VerifySignature(payload, h, "whsec", now); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("header %q err = %v, want ErrInvalidSignature", h, err)
		}
	}
	if err := VerifySignature([]byte(`{"type":"tampered"}`), signedHeader(payload, "whsec", now), "whsec", now); err == nil {
		t.Error("tampered payload accepted")
	}
}

func TestHandleStripeWebhook_Lifecycle(t *testing.T) {
	store := openStore(t)
	cfg := baseConfig()
	cfg.StripeWebhookSecret = "whsec"
	s, _ := New(store, cfg)
	now := time.Unix(1_800_000_000, 0)
	s.SetClock(func() time.Time { return now })

	completed := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"client_reference_id":"u1","customer":"cus_1","subscription":"sub_1"}}}`)
	if err := s.HandleStripeWebhook(completed, signedHeader(completed, "whsec", now)); err != nil {
		t.Fatalf("completed: %v", err)
	}
	sub, _ := store.GetSubscription("u1")
	if sub.Status != storage.SubscriptionActive || sub.ExternalID != "sub_1" || sub.CustomerID != "cus_1" || sub.Provider != ModeStripe {
		t.Errorf("after completed = %+v", sub)
	}

	deleted := []byte(`{"id":"evt_2","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_1","current_period_end":1800086400}}}`)
	if err := s.HandleStripeWebhook(deleted, signedHeader(deleted, "whsec", now)); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	sub, _ = store.GetSubscription("u1")
	if sub.Status != storage.SubscriptionCanceled || sub.CustomerID != "cus_1" {
		t.Errorf("after deleted = %+v", sub)
	}
	if !sub.CurrentPeriodEnd.Equal(time.Unix(1800086400, 0)) {
		t.Errorf("period end = %v", sub.CurrentPeriodEnd)
	}

	other := []byte(`{"id":"evt_3","type":"invoice.paid","data":{"object":{}}}`)
	if err := s.HandleStripeWebhook(other, signedHeader(other, "whsec", now)); err != nil {
		t.Errorf("unhandled event err = %v", err)
	}
	if err := s.HandleStripeWebhook(other, "t=1,v1=00"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("bad signature err = %v", err)
	}
}

func TestHandleStripeWebhook_Disabled(t *testing.T) {
	s, _ := New(openStore(t), baseConfig())
	if err := s.HandleStripeWebhook([]byte(`{}`), ""); !errors.Is(err, ErrWebhookDisabled) {
		t.Errorf("err = %v, want ErrWebhookDisabled", err)
	}
}

func TestCancel(t *testing.T) {
	var deletedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletedPath = r.URL.Path
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	store := openStore(t)
	cfg := baseConfig()
	cfg.StripeSecretKey, cfg.StripePriceID, cfg.StripeBaseURL = "sk", "price", srv.URL
	s, _ := New(store, cfg)

	if _, err := s.Cancel(context.Background(), "u1"); err == nil {
		t.Error("expected error canceling without a subscription")
	}

	store.UpsertSubscription(storage.Subscription{UserID: "u1", Status: storage.SubscriptionActive, Provider: ModeStripe, ExternalID: "sub_9"})
	sub, err := s.Cancel(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != storage.SubscriptionCanceled {
		t.Errorf("status = %q", sub.Status)
	}
	if deletedPath != "/v1/subscriptions/sub_9" {
		t.Errorf("stripe delete path = %q", deletedPath)
	}
}
