// Package gmail connects a user's Gmail account over OAuth2 and syncs
// message metadata into the workspace.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kalambet/nodebench/internal/storage"
)

const (
	DefaultAPIBaseURL = "https://gmail.googleapis.com/gmail/v1"
	ReadonlyScope     = "https://www.googleapis.com/auth/gmail.readonly"

	stateTTL        = 10 * time.Minute
	defaultMax      = 50
	maxMessages     = 500
	initialLookback = 7
)

var (
	ErrNotConfigured = errors.New("gmail is not configured")
	ErrNotConnected  = errors.New("gmail account not connected")
	ErrInvalidState  = errors.New("invalid oauth state")
)

type Store interface {
	SaveGmailAccount(a storage.GmailAccount) error
	GetGmailAccount(userID string) (storage.GmailAccount, error)
	DeleteGmailAccount(userID string) error
	UpsertGmailMessage(m storage.GmailMessage) error
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateSecret  string
	// APIBaseURL defaults to DefaultAPIBaseURL.
	APIBaseURL string
	// Endpoint defaults to Google's OAuth2 endpoint.
	Endpoint oauth2.Endpoint
}

type Service struct {
	store   Store
	oauth   *oauth2.Config
	secret  []byte
	apiBase string
	now     func() time.Time
}

func NewService(store Store, cfg Config) *Service {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}
	return &Service{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{ReadonlyScope},
		},
		secret:  []byte(cfg.StateSecret),
		apiBase: apiBase,
		now:     time.Now,
	}
}

// SetClock overrides the time source (for testing).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Configured() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != "" && len(s.secret) > 0
}

// AuthURL returns the consent URL for userID. The state parameter is a
// short-lived HS256 token naming the user, checked again in Exchange.
func (s *Service) AuthURL(userID string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		ID:        uuid.New().String(),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (s *Service) userFromState(state string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}

// Exchange completes the OAuth flow: it verifies state, trades the code for
// tokens, looks up the account address and stores the account.
func (s *Service) Exchange(ctx context.Context, code, state string) (storage.GmailAccount, error) {
	if !s.Configured() {
		return storage.GmailAccount{}, ErrNotConfigured
	}
	userID, err := s.userFromState(state)
	if err != nil {
		return storage.GmailAccount{}, err
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return storage.GmailAccount{}, fmt.Errorf("exchanging code: %w", err)
	}

	api := s.apiClient(ctx, oauth2.StaticTokenSource(tok))
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	resp, err := api.R().SetContext(ctx).SetResult(&profile).Get("/users/me/profile")
	if err != nil {
		return storage.GmailAccount{}, fmt.Errorf("fetching profile: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return storage.GmailAccount{}, fmt.Errorf("fetching profile: status %d: %s", resp.StatusCode(), resp.String())
	}

	acct := storage.GmailAccount{
		UserID:       userID,
		Email:        profile.EmailAddress,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
	}
	if err := s.store.SaveGmailAccount(acct); err != nil {
		return storage.GmailAccount{}, fmt.Errorf("saving account: %w", err)
	}
	return acct, nil
}

// Sync pulls metadata for messages received since the last sync (the last
// week on first sync) and returns how many were stored.
func (s *Service) Sync(ctx context.Context, userID string, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultMax
	}
	limit = min(limit, maxMessages)

	acct, err := s.store.GetGmailAccount(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrNotConnected
	}
	if err != nil {
		return 0, err
	}

	tok := &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		Expiry:       acct.TokenExpiry,
		TokenType:    "Bearer",
	}
	ts := &savingTokenSource{
		base: s.oauth.TokenSource(ctx, tok),
		last: tok.AccessToken,
		save: func(t *oauth2.Token) error {
			return s.store.SaveGmailAccount(storage.GmailAccount{
				UserID:       userID,
				AccessToken:  t.AccessToken,
				RefreshToken: t.RefreshToken,
				TokenExpiry:  t.Expiry,
			})
		},
	}
	api := s.apiClient(ctx, ts)

	started := s.now()
	q := url.Values{}
	q.Set("q", fmt.Sprintf("newer_than:%dd", lookbackDays(acct.LastSyncAt, started)))
	q.Set("maxResults", strconv.Itoa(limit))

	var list struct {
		Messages []struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		} `json:"messages"`
	}
	resp, err := api.R().SetContext(ctx).SetQueryParamsFromValues(q).SetResult(&list).Get("/users/me/messages")
	if err != nil {
		return 0, fmt.Errorf("listing messages: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("listing messages: status %d: %s", resp.StatusCode(), resp.String())
	}

	synced := 0
	for _, ref := range list.Messages {
		m, err := s.fetchMetadata(ctx, api, ref.ID)
		if err != nil {
			return synced, err
		}
		m.ID = uuid.New().String()
		m.UserID = userID
		if m.ThreadID == "" {
			m.ThreadID = ref.ThreadID
		}
		if err := s.store.UpsertGmailMessage(m); err != nil {
			return synced, fmt.Errorf("storing message %s: %w", ref.ID, err)
		}
		synced++
	}

	// Tokens may have been refreshed during the sync; reload so the
	// LastSyncAt update does not overwrite them.
	acct, err = s.store.GetGmailAccount(userID)
	if err != nil {
		return synced, err
	}
	acct.LastSyncAt = started
	if err := s.store.SaveGmailAccount(acct); err != nil {
		return synced, fmt.Errorf("updating last sync: %w", err)
	}
	return synced, nil
}

func (s *Service) fetchMetadata(ctx context.Context, api *resty.Client, id string) (storage.GmailMessage, error) {
	q := url.Values{}
	q.Set("format", "metadata")
	q["metadataHeaders"] = []string{"Subject", "From", "Date"}

	var msg struct {
		ID           string `json:"id"`
		ThreadID     string `json:"threadId"`
		Snippet      string `json:"snippet"`
		InternalDate string `json:"internalDate"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	resp, err := api.R().SetContext(ctx).SetQueryParamsFromValues(q).SetResult(&msg).
		SetPathParam("id", id).Get("/users/me/messages/{id}")
	if err != nil {
		return storage.GmailMessage{}, fmt.Errorf("fetching message %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return storage.GmailMessage{}, fmt.Errorf("fetching message %s: status %d", id, resp.StatusCode())
	}

	out := storage.GmailMessage{MessageID: msg.ID, ThreadID: msg.ThreadID, Snippet: msg.Snippet}
	if out.MessageID == "" {
		out.MessageID = id
	}
	var dateHeader string
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			out.Subject = h.Value
		case "From":
			out.From = h.Value
		case "Date":
			dateHeader = h.Value
		}
	}
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil && ms > 0 {
		out.ReceivedAt = time.UnixMilli(ms).UTC()
	} else if t, err := mail.ParseDate(dateHeader); err == nil {
		out.ReceivedAt = t.UTC()
	}
	return out, nil
}

// Disconnect forgets the account and its synced messages.
func (s *Service) Disconnect(userID string) error {
	err := s.store.DeleteGmailAccount(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotConnected
	}
	return err
}

func (s *Service) apiClient(ctx context.Context, ts oauth2.TokenSource) *resty.Client {
	return resty.NewWithClient(oauth2.NewClient(ctx, ts)).
		SetBaseURL(s.apiBase).
		SetTimeout(30 * time.Second)
}

// lookbackDays is the newer_than window covering everything since last,
// rounded up to whole days.
func lookbackDays(last, now time.Time) int {
	if last.IsZero() {
		return initialLookback
	}
	days := int(now.Sub(last).Hours()/24) + 1
	return max(days, 1)
}

// savingTokenSource persists a token whenever the underlying source hands out
// a new access token.
type savingTokenSource struct {
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		if err := s.save(tok); err != nil {
			return nil, fmt.Errorf("saving refreshed token: %w", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
