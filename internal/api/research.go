package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/kalambet/nodebench/internal/entity"
	"github.com/kalambet/nodebench/internal/planner"
	"github.com/kalambet/nodebench/internal/storage"
	"github.com/kalambet/nodebench/internal/tasktree"
	"github.com/kalambet/nodebench/internal/worker"
)

// --- Plans ---

type planRequest struct {
	Goal string        `json:"goal"`
	Plan *planner.Plan `json:"plan,omitempty"`
}

func (r planRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Goal, validation.When(r.Plan == nil, validation.Required), validation.Length(0, maxPromptLength)),
	)
}

type planResponse struct {
	Plan     planner.Plan `json:"plan"`
	Provider string       `json:"provider"`
}

type executeResponse struct {
	RunID     string            `json:"runId"`
	Status    string            `json:"status"`
	Plan      planner.Plan      `json:"plan"`
	Provider  string            `json:"provider,omitempty"`
	Execution planner.Execution `json:"execution"`
	Report    string            `json:"report"`
	Tree      string            `json:"tree"`
}

// plannerFor builds the planner chain selected by the user's settings.
func plannerFor(deps Deps, uid string) (*planner.Planner, error) {
	mode := planner.ProviderAuto
	if deps.Settings != nil {
		s, err := deps.Settings.Get(uid)
		if err != nil {
			slog.Warn("failed to load settings", "user", uid, "error", err)
		} else if s.PlannerProvider != "" {
			mode = s.PlannerProvider
		}
	}
	return deps.Planner(mode)
}

func handleCreatePlan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req planRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if deps.Planner == nil {
			unavailable(w, "planner")
			return
		}
		p, err := plannerFor(deps, userID(r))
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		}
		plan, provider, err := p.Plan(r.Context(), req.Goal)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "planning failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, planResponse{Plan: plan, Provider: provider})
	}
}

// handleExecutePlan runs a supplied plan, or plans the goal first, and
// records the execution as an agent run whose response is the plan report.
func handleExecutePlan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		var req planRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if deps.Executor == nil || deps.Tools == nil {
			unavailable(w, "plan executor")
			return
		}

		var plan planner.Plan
		var provider string
		if req.Plan != nil {
			plan = *req.Plan
			if plan.Goal == "" {
				plan.Goal = req.Goal
			}
			if plan.StepCount() == 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "plan has no steps")
				return
			}
			plan.AssignIDs()
		} else {
			if deps.Planner == nil {
				unavailable(w, "planner")
				return
			}
			p, err := plannerFor(deps, uid)
			if err != nil {
				httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
				return
			}
			if plan, provider, err = p.Plan(r.Context(), req.Goal); err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "planning failed: %v", err)
				return
			}
		}

		runID := uuid.New().String()
		if err := deps.Store.CreateAgentRun(storage.AgentRun{ID: runID, UserID: uid, Prompt: plan.Goal}); err != nil {
			storeError(w, err, "agent run")
			return
		}
		exec, err := deps.Executor.Execute(r.Context(), runID, plan, deps.Tools(uid))
		if err != nil {
			if ferr := deps.Store.FinishAgentRun(runID, storage.RunFailed, nil, "", err.Error()); ferr != nil {
				slog.Warn("finishing failed plan run", "run", runID, "error", ferr)
			}
			if errors.Is(err, planner.ErrDuplicateStep) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "executing plan: %v", err)
			return
		}

		report := planner.Report(plan, exec)
		status, errMsg := storage.RunCompleted, ""
		if len(exec.Outputs) == 0 {
			status = storage.RunFailed
			errMsg = "every step failed"
		}
		if err := deps.Store.FinishAgentRun(runID, status, nil, report, errMsg); err != nil {
			storeError(w, err, "agent run")
			return
		}
		tasks, err := deps.Store.ListAgentTasks(runID)
		if err != nil {
			storeError(w, err, "agent tasks")
			return
		}
		writeJSON(w, http.StatusOK, executeResponse{
			RunID:     runID,
			Status:    status,
			Plan:      plan,
			Provider:  provider,
			Execution: exec,
			Report:    report,
			Tree:      tasktree.RenderString(tasktree.Build(tasks)),
		})
	}
}

// --- Entities ---

type entityRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Force bool   `json:"force"`
}

func (r entityRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.In(entity.TypeCompany, entity.TypePerson)),
	)
}

type entityResponse struct {
	storage.EntityContext
	Cached bool `json:"cached"`
}

func handleListEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Entities == nil {
			unavailable(w, "entity research")
			return
		}
		list, err := deps.Entities.List(userID(r))
		if err != nil {
			storeError(w, err, "entities")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(list))
	}
}

func handleResearchEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entityRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if deps.Entities == nil {
			unavailable(w, "entity research")
			return
		}
		e, cached, err := deps.Entities.Get(r.Context(), userID(r), strings.TrimSpace(req.Name), req.Type, req.Force)
		if errors.Is(err, entity.ErrNoSources) {
			httpError(w, http.StatusBadGateway, "api_error", "research failed: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "research failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entityResponse{EntityContext: e, Cached: cached})
	}
}

func handleDeleteEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Entities == nil {
			unavailable(w, "entity research")
			return
		}
		if err := deps.Entities.Invalidate(userID(r), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "entity")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleRefreshEntities queues a background refresh of the user's stale
// entities.
func handleRefreshEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enqueue(w, deps, storage.JobEntityRefresh, worker.UserPayload{UserID: userID(r)})
	}
}

// enqueue stores a job and answers 202 with its id.
func enqueue(w http.ResponseWriter, deps Deps, jobType string, payload any) {
	job, err := worker.NewJob(jobType, payload)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		return
	}
	if err := deps.Store.EnqueueJob(job); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "queueing %s job: %v", jobType, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}
