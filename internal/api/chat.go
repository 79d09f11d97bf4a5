package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/kalambet/nodebench/internal/coordinator"
	"github.com/kalambet/nodebench/internal/storage"
	"github.com/kalambet/nodebench/internal/tasktree"
)

const (
	maxThreadMessages = 500
	maxPromptLength   = 8000
	maxTitleLength    = 80
)

// --- Threads ---

type threadRequest struct {
	Title    *string `json:"title"`
	Model    *string `json:"model"`
	Archived *bool   `json:"archived"`
}

func (r threadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, 200)),
		validation.Field(&r.Model, validation.Length(0, 200)),
	)
}

type threadDetail struct {
	storage.ChatThread
	Messages []storage.ChatMessage `json:"messages"`
}

func handleCreateThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req threadRequest
		if !decodeBody(w, r, &req) {
			return
		}
		uid := userID(r)
		t := storage.ChatThread{ID: uuid.New().String(), UserID: uid, Title: "New chat"}
		if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
			t.Title = strings.TrimSpace(*req.Title)
		}
		if req.Model != nil {
			t.Model = *req.Model
		} else if deps.Settings != nil {
			if s, err := deps.Settings.Get(uid); err == nil {
				t.Model = s.DefaultModel
			}
		}
		if err := deps.Store.SaveThread(t); err != nil {
			storeError(w, err, "thread")
			return
		}
		saved, err := deps.Store.GetThread(uid, t.ID)
		if err != nil {
			storeError(w, err, "thread")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := deps.Store.ListThreads(userID(r), r.URL.Query().Get("archived") == "true")
		if err != nil {
			storeError(w, err, "threads")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(threads))
	}
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetThread(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "thread")
			return
		}
		msgs, err := deps.Store.ListMessages(t.ID, maxThreadMessages)
		if err != nil {
			storeError(w, err, "messages")
			return
		}
		writeJSON(w, http.StatusOK, threadDetail{ChatThread: t, Messages: orEmpty(msgs)})
	}
}

func handleUpdateThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		var req threadRequest
		if !decodeBody(w, r, &req) {
			return
		}
		t, err := deps.Store.GetThread(uid, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "thread")
			return
		}
		if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
			t.Title = strings.TrimSpace(*req.Title)
		}
		if req.Model != nil {
			t.Model = *req.Model
		}
		if req.Archived != nil {
			t.Archived = *req.Archived
		}
		if err := deps.Store.UpdateThread(t); err != nil {
			storeError(w, err, "thread")
			return
		}
		updated, err := deps.Store.GetThread(uid, t.ID)
		if err != nil {
			storeError(w, err, "thread")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteThread(userID(r), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "thread")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type promptRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"threadId"`
}

func (r promptRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompt, validation.Required, validation.Length(1, maxPromptLength)),
	)
}

type messageExchange struct {
	UserMessage      storage.ChatMessage  `json:"userMessage"`
	AssistantMessage storage.ChatMessage  `json:"assistantMessage"`
	Run              coordinator.Outcome `json:"run"`
}

// handlePostMessage stores the user's message, runs the coordinator over it
// and stores the formatted answer as the assistant reply.
func handlePostMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		var req promptRequest
		if !decodeBody(w, r, &req) {
			return
		}
		thread, err := deps.Store.GetThread(uid, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "thread")
			return
		}
		coord := coordinatorFor(deps, uid)
		if coord == nil {
			unavailable(w, "agent coordinator")
			return
		}

		userMsg := storage.ChatMessage{
			ID: uuid.New().String(), ThreadID: thread.ID, UserID: uid,
			Role: "user", Content: strings.TrimSpace(req.Prompt),
		}
		if err := deps.Store.AddMessage(userMsg); err != nil {
			storeError(w, err, "message")
			return
		}
		if thread.Title == "New chat" {
			thread.Title = threadTitle(userMsg.Content)
			if err := deps.Store.UpdateThread(thread); err != nil {
				slog.Warn("failed to title thread", "thread", thread.ID, "error", err)
			}
		}

		out, err := coord.Run(r.Context(), uid, thread.ID, userMsg.Content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "agent run failed: %v", err)
			return
		}
		assistantMsg := storage.ChatMessage{
			ID: uuid.New().String(), ThreadID: thread.ID, UserID: uid,
			Role: "assistant", Content: out.Response, AgentsUsed: out.AgentsUsed, RunID: out.RunID,
		}
		if err := deps.Store.AddMessage(assistantMsg); err != nil {
			storeError(w, err, "message")
			return
		}
		writeJSON(w, http.StatusOK, messageExchange{UserMessage: userMsg, AssistantMessage: assistantMsg, Run: out})
	}
}

// threadTitle derives a thread title from its first prompt.
func threadTitle(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if r := []rune(title); len(r) > maxTitleLength {
		title = strings.TrimSpace(string(r[:maxTitleLength])) + "…"
	}
	return title
}

// --- Agent runs ---

func coordinatorFor(deps Deps, uid string) *coordinator.Coordinator {
	if deps.Coordinator == nil {
		return nil
	}
	delegation := false
	if deps.Settings != nil {
		s, err := deps.Settings.Get(uid)
		if err != nil {
			slog.Warn("failed to load settings", "user", uid, "error", err)
		}
		delegation = s.LLMDelegation
	}
	return deps.Coordinator(delegation)
}

func handleRunAgents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		var req promptRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ThreadID != "" {
			if _, err := deps.Store.GetThread(uid, req.ThreadID); err != nil {
				storeError(w, err, "thread")
				return
			}
		}
		coord := coordinatorFor(deps, uid)
		if coord == nil {
			unavailable(w, "agent coordinator")
			return
		}
		out, err := coord.Run(r.Context(), uid, req.ThreadID, req.Prompt)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "agent run failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Store.ListAgentRuns(userID(r), parseIntParam(r, "limit", defaultListLimit, maxListLimit))
		if err != nil {
			storeError(w, err, "agent runs")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(runs))
	}
}

type runDetail struct {
	storage.AgentRun
	Timeline []storage.TimelineItem `json:"timeline"`
	Tasks    []storage.AgentTask    `json:"tasks"`
	Tree     string                 `json:"tree"`
	Done     int                    `json:"done"`
	Total    int                    `json:"total"`
}

func handleGetRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetAgentRun(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "agent run")
			return
		}
		timeline, err := deps.Store.ListTimeline(run.ID)
		if err != nil {
			storeError(w, err, "timeline")
			return
		}
		tasks, err := deps.Store.ListAgentTasks(run.ID)
		if err != nil {
			storeError(w, err, "agent tasks")
			return
		}
		nodes := tasktree.Build(tasks)
		done, total := tasktree.Progress(nodes)
		writeJSON(w, http.StatusOK, runDetail{
			AgentRun: run,
			Timeline: orEmpty(timeline),
			Tasks:    orEmpty(tasks),
			Tree:     tasktree.RenderString(nodes),
			Done:     done,
			Total:    total,
		})
	}
}
