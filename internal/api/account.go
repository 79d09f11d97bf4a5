package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/kalambet/nodebench/internal/admin"
	"github.com/kalambet/nodebench/internal/analytics"
	"github.com/kalambet/nodebench/internal/billing"
	"github.com/kalambet/nodebench/internal/gmail"
	"github.com/kalambet/nodebench/internal/settings"
	"github.com/kalambet/nodebench/internal/storage"
	"github.com/kalambet/nodebench/internal/worker"
)

const (
	maxUploadSize     = 10 << 20 // 10MB
	maxWebhookSize    = 1 << 16  // 64KB
	maxAnalyticsDays  = 365
	maxGmailMessages  = 500
	defaultGmailLimit = 50
)

// --- Billing ---

type checkoutRequest struct {
	Email string `json:"email"`
}

func (r checkoutRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.EmailFormat),
	)
}

func handleCheckout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkoutRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if deps.Billing == nil {
			unavailable(w, "billing")
			return
		}
		sess, err := deps.Billing.Checkout(r.Context(), userID(r), req.Email)
		switch {
		case errors.Is(err, billing.ErrAlreadySubscribed):
			httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, billing.ErrNotConfigured):
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleBillingStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Billing == nil {
			unavailable(w, "billing")
			return
		}
		sub, err := deps.Billing.Status(userID(r))
		if err != nil {
			storeError(w, err, "subscription")
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleCancelSubscription(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Billing == nil {
			unavailable(w, "billing")
			return
		}
		sub, err := deps.Billing.Cancel(r.Context(), userID(r))
		if errors.Is(err, billing.ErrNoSubscription) {
			httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleStripeWebhook(deps Deps) http.HandlerFunc {
	return handleWebhook(deps, func(b *billing.Service, payload []byte, r *http.Request) error {
		return b.HandleStripeWebhook(payload, r.Header.Get("Stripe-Signature"))
	})
}

func handlePolarWebhook(deps Deps) http.HandlerFunc {
	return handleWebhook(deps, func(b *billing.Service, payload []byte, r *http.Request) error {
		return b.HandlePolarWebhook(payload, billing.PolarHeaders{
			ID:        r.Header.Get("webhook-id"),
			Timestamp: r.Header.Get("webhook-timestamp"),
			Signature: r.Header.Get("webhook-signature"),
		})
	})
}

// handleWebhook reads a bounded provider payload and hands it to apply.
func handleWebhook(deps Deps, apply func(*billing.Service, []byte, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Billing == nil {
			unavailable(w, "billing")
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookSize))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading payload: %v", err)
			return
		}
		err = apply(deps.Billing, payload, r)
		switch {
		case errors.Is(err, billing.ErrWebhookDisabled):
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

// --- Analytics ---

func handleAnalyticsSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Analytics == nil {
			unavailable(w, "analytics")
			return
		}
		days := parseIntParam(r, "days", int(analytics.DefaultWindow/(24*time.Hour)), maxAnalyticsDays)
		if days == 0 {
			days = 1
		}
		sum, err := deps.Analytics.Summary(userID(r), time.Duration(days)*24*time.Hour)
		if err != nil {
			storeError(w, err, "analytics")
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// --- Files ---

func handleUploadFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart upload: %v", err)
			return
		}
		src, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required")
			return
		}
		defer src.Close()

		if err := os.MkdirAll(deps.UploadDir, 0o700); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating upload directory: %v", err)
			return
		}
		id := uuid.New().String()
		path := filepath.Join(deps.UploadDir, id)
		size, err := writeUpload(path, src)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing upload: %v", err)
			return
		}

		rec := storage.FileRecord{
			ID:       id,
			UserID:   uid,
			Name:     filepath.Base(header.Filename),
			MimeType: header.Header.Get("Content-Type"),
			Size:     size,
			Path:     path,
			Status:   storage.FileUploaded,
		}
		if err := deps.Store.SaveFile(rec); err != nil {
			os.Remove(path)
			storeError(w, err, "file")
			return
		}
		job, err := worker.NewJob(storage.JobFileConvert, worker.FileConvertPayload{FileID: id})
		if err == nil {
			err = deps.Store.EnqueueJob(job)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "file saved but conversion could not be queued: %v", err)
			return
		}
		saved, err := deps.Store.GetUserFile(uid, id)
		if err != nil {
			storeError(w, err, "file")
			return
		}
		writeJSON(w, http.StatusAccepted, saved)
	}
}

func writeUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

func handleGetFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.GetUserFile(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "file")
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

func handleListFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Store.ListFiles(userID(r))
		if err != nil {
			storeError(w, err, "files")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(files))
	}
}

// --- Gmail ---

func gmailError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gmail.ErrNotConfigured):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	case errors.Is(err, gmail.ErrNotConnected):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, gmail.ErrInvalidState):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func handleGmailAuth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Gmail == nil {
			unavailable(w, "gmail")
			return
		}
		url, err := deps.Gmail.AuthURL(userID(r))
		if err != nil {
			gmailError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// handleGmailCallback completes the OAuth flow. It is public: the signed
// state parameter identifies the user.
func handleGmailCallback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Gmail == nil {
			unavailable(w, "gmail")
			return
		}
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "authorization denied: %s", e)
			return
		}
		if q.Get("code") == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "code is required")
			return
		}
		acct, err := deps.Gmail.Exchange(r.Context(), q.Get("code"), q.Get("state"))
		if err != nil {
			gmailError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "email": acct.Email})
	}
}

func handleGmailSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		if _, err := deps.Store.GetGmailAccount(uid); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				gmailError(w, gmail.ErrNotConnected)
				return
			}
			storeError(w, err, "gmail account")
			return
		}
		enqueue(w, deps, storage.JobGmailSync, worker.UserPayload{UserID: uid})
	}
}

func handleGmailMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Store.ListGmailMessages(userID(r), parseIntParam(r, "limit", defaultGmailLimit, maxGmailMessages))
		if err != nil {
			storeError(w, err, "gmail messages")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(msgs))
	}
}

func handleGmailDisconnect(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Gmail == nil {
			unavailable(w, "gmail")
			return
		}
		if err := deps.Gmail.Disconnect(userID(r)); err != nil {
			gmailError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Settings ---

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Settings == nil {
			unavailable(w, "settings")
			return
		}
		s, err := deps.Settings.Get(userID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// handlePatchSettings applies a map of setting key to value. Keys are
// validated before any is written; an empty value resets a key.
func handlePatchSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Settings == nil {
			unavailable(w, "settings")
			return
		}
		var patch map[string]string
		if !decodeBody(w, r, &patch) {
			return
		}
		known := settings.Keys()
		for k := range patch {
			if !slices.Contains(known, k) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v: %s", settings.ErrUnknownKey, k)
				return
			}
		}
		uid := userID(r)
		for _, k := range known {
			v, ok := patch[k]
			if !ok {
				continue
			}
			if err := deps.Settings.Set(uid, k, v); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		s, err := deps.Settings.Get(uid)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// --- Admin ---

type cleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

func (r cleanupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OlderThanDays, validation.Min(0), validation.Max(3650)),
	)
}

func handleCleanup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cleanupRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		res, err := admin.Cleanup(r.Context(), deps.Store, time.Duration(req.OlderThanDays)*24*time.Hour)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cleanup failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
