package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/nodebench/internal/analytics"
	"github.com/kalambet/nodebench/internal/billing"
	"github.com/kalambet/nodebench/internal/coordinator"
	"github.com/kalambet/nodebench/internal/entity"
	"github.com/kalambet/nodebench/internal/gmail"
	"github.com/kalambet/nodebench/internal/planner"
	"github.com/kalambet/nodebench/internal/ratelimit"
	"github.com/kalambet/nodebench/internal/settings"
	"github.com/kalambet/nodebench/internal/storage"
)

// Deps holds everything the HTTP handlers call. Optional members may be nil;
// their routes then answer 503.
type Deps struct {
	Store *storage.Store
	Token string
	LLM   ChatProxy // optional

	// Coordinator returns the coordinator to use for a user, with or without
	// LLM delegation.
	Coordinator func(llmDelegation bool) *coordinator.Coordinator
	// Planner returns the planner chain for a planner.provider mode.
	Planner  func(mode string) (*planner.Planner, error)
	Executor *planner.Executor
	// Tools returns the plan tools bound to a user.
	Tools func(userID string) planner.Tools

	Entities  *entity.Service
	Billing   *billing.Service
	Gmail     *gmail.Service
	Settings  *settings.Manager
	Analytics *analytics.Service
	Limiter   *ratelimit.Limiter // optional

	// UploadDir is where POST /files stores uploads before conversion.
	UploadDir string
}

// NewRouter builds the full HTTP surface: public health, OpenAI-compatible
// passthrough and provider callbacks, plus the bearer-authenticated
// workspace API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/models", handleModels(deps))
	r.Post("/v1/chat/completions", handleChatCompletions(deps))
	r.Post("/billing/webhook/stripe", handleStripeWebhook(deps))
	r.Post("/billing/webhook/polar", handlePolarWebhook(deps))
	r.Get("/gmail/callback", handleGmailCallback(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(WithUser)
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware(requestUser))
		}

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", handleListDocuments(deps))
			r.Post("/", handleCreateDocument(deps))
			r.Get("/{id}", handleGetDocument(deps))
			r.Patch("/{id}", handleUpdateDocument(deps))
			r.Delete("/{id}", handleDeleteDocument(deps))
			r.Get("/{id}/export", handleExportDocument(deps))
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", handleListTasks(deps))
			r.Post("/", handleCreateTask(deps))
			r.Get("/{id}", handleGetTask(deps))
			r.Patch("/{id}", handleUpdateTask(deps))
			r.Delete("/{id}", handleDeleteTask(deps))
		})
		r.Route("/events", func(r chi.Router) {
			r.Get("/", handleListEvents(deps))
			r.Post("/", handleCreateEvent(deps))
			r.Get("/{id}", handleGetEvent(deps))
			r.Patch("/{id}", handleUpdateEvent(deps))
			r.Delete("/{id}", handleDeleteEvent(deps))
		})
		r.Route("/threads", func(r chi.Router) {
			r.Get("/", handleListThreads(deps))
			r.Post("/", handleCreateThread(deps))
			r.Get("/{id}", handleGetThread(deps))
			r.Patch("/{id}", handleUpdateThread(deps))
			r.Delete("/{id}", handleDeleteThread(deps))
			r.Post("/{id}/messages", handlePostMessage(deps))
		})

		r.Post("/agents/run", handleRunAgents(deps))
		r.Get("/agents/runs", handleListRuns(deps))
		r.Get("/agents/runs/{id}", handleGetRun(deps))

		r.Post("/plans", handleCreatePlan(deps))
		r.Post("/plans/execute", handleExecutePlan(deps))

		r.Get("/entities", handleListEntities(deps))
		r.Post("/entities/research", handleResearchEntity(deps))
		r.Post("/entities/refresh", handleRefreshEntities(deps))
		r.Delete("/entities/{id}", handleDeleteEntity(deps))

		r.Post("/billing/checkout", handleCheckout(deps))
		r.Get("/billing/status", handleBillingStatus(deps))
		r.Post("/billing/cancel", handleCancelSubscription(deps))

		r.Get("/analytics/summary", handleAnalyticsSummary(deps))

		r.Get("/files", handleListFiles(deps))
		r.Post("/files", handleUploadFile(deps))
		r.Get("/files/{id}", handleGetFile(deps))

		r.Get("/gmail/auth", handleGmailAuth(deps))
		r.Post("/gmail/sync", handleGmailSync(deps))
		r.Get("/gmail/messages", handleGmailMessages(deps))
		r.Delete("/gmail", handleGmailDisconnect(deps))

		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))

		r.Post("/admin/cleanup", handleCleanup(deps))
	})

	return r
}

func unavailable(w http.ResponseWriter, what string) {
	httpError(w, http.StatusServiceUnavailable, "api_error", "%s is not configured", what)
}
