package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/kalambet/nodebench/internal/export"
	"github.com/kalambet/nodebench/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	untitled         = "Untitled"
)

// --- Documents ---

type documentRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	ParentID *string `json:"parentId"`
	Archived *bool   `json:"archived"`
}

func (r documentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, 500)),
	)
}

func handleCreateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		uid := userID(r)
		doc := storage.Document{ID: uuid.New().String(), UserID: uid, Title: untitled}
		if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
			doc.Title = strings.TrimSpace(*req.Title)
		}
		if req.Content != nil {
			doc.Content = *req.Content
		}
		if req.ParentID != nil && *req.ParentID != "" {
			if _, err := deps.Store.GetDocument(uid, *req.ParentID); err != nil {
				storeError(w, err, "parent document")
				return
			}
			doc.ParentID = *req.ParentID
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			storeError(w, err, "document")
			return
		}
		saved, err := deps.Store.GetDocument(uid, doc.ID)
		if err != nil {
			storeError(w, err, "document")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		limit := parseIntParam(r, "limit", defaultListLimit, maxListLimit)

		var docs []storage.Document
		var err error
		if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
			docs, err = deps.Store.SearchDocuments(uid, strings.Fields(q), limit)
		} else {
			archived := r.URL.Query().Get("archived") == "true"
			docs, err = deps.Store.ListDocuments(uid, archived, limit, parseIntParam(r, "offset", 0, 0))
		}
		if err != nil {
			storeError(w, err, "documents")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(docs))
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "document")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleUpdateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		id := chi.URLParam(r, "id")
		var req documentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doc, err := deps.Store.GetDocument(uid, id)
		if err != nil {
			storeError(w, err, "document")
			return
		}
		if req.Title != nil {
			doc.Title = strings.TrimSpace(*req.Title)
			if doc.Title == "" {
				doc.Title = untitled
			}
		}
		if req.Content != nil {
			doc.Content = *req.Content
		}
		if req.Archived != nil {
			doc.Archived = *req.Archived
		}
		if req.ParentID != nil {
			if *req.ParentID == id {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "a document cannot be its own parent")
				return
			}
			if *req.ParentID != "" {
				if _, err := deps.Store.GetDocument(uid, *req.ParentID); err != nil {
					storeError(w, err, "parent document")
					return
				}
			}
			doc.ParentID = *req.ParentID
		}
		if err := deps.Store.UpdateDocument(doc); err != nil {
			storeError(w, err, "document")
			return
		}
		updated, err := deps.Store.GetDocument(uid, id)
		if err != nil {
			storeError(w, err, "document")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteDocument(userID(r), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "document")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleExportDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "document")
			return
		}
		f, err := export.Export(doc, r.URL.Query().Get("format"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		w.Header().Set("Content-Type", f.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName))
		w.Write(f.Data)
	}
}

// --- Tasks ---

var taskStatuses = []any{storage.TaskTodo, storage.TaskInProgress, storage.TaskDone, storage.TaskBlocked}

type taskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *int       `json:"priority"`
	DocumentID  *string    `json:"documentId"`
	DueAt       *time.Time `json:"dueAt"`
}

func (r taskRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.Length(1, 500)),
		validation.Field(&r.Status, validation.NilOrNotEmpty, validation.In(taskStatuses...)),
		validation.Field(&r.Priority, validation.Min(0), validation.Max(5)),
	)
}

func (r taskRequest) apply(t *storage.Task) {
	if r.Title != nil {
		t.Title = strings.TrimSpace(*r.Title)
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Status != nil {
		t.Status = *r.Status
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.DocumentID != nil {
		t.DocumentID = *r.DocumentID
	}
	if r.DueAt != nil {
		t.DueAt = r.DueAt.UTC()
	}
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req taskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		uid := userID(r)
		t := storage.Task{ID: uuid.New().String(), UserID: uid, Status: storage.TaskTodo}
		req.apply(&t)
		if t.DocumentID != "" {
			if _, err := deps.Store.GetDocument(uid, t.DocumentID); err != nil {
				storeError(w, err, "document")
				return
			}
		}
		if err := deps.Store.SaveTask(t); err != nil {
			storeError(w, err, "task")
			return
		}
		saved, err := deps.Store.GetTask(uid, t.ID)
		if err != nil {
			storeError(w, err, "task")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && !storage.ValidTaskStatus(status) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid status %q", status)
			return
		}
		tasks, err := deps.Store.ListTasks(userID(r), status)
		if err != nil {
			storeError(w, err, "tasks")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(tasks))
	}
}

func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTask(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "task")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		var req taskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		t, err := deps.Store.GetTask(uid, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "task")
			return
		}
		req.apply(&t)
		if err := deps.Store.UpdateTask(t); err != nil {
			storeError(w, err, "task")
			return
		}
		updated, err := deps.Store.GetTask(uid, t.ID)
		if err != nil {
			storeError(w, err, "task")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteTask(userID(r), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "task")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Events ---

var errEndsBeforeStart = errors.New("must not be before startsAt")

type eventRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartsAt    *time.Time `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
}

func (r eventRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.Length(1, 500)),
		validation.Field(&r.EndsAt, validation.By(func(any) error {
			if r.StartsAt != nil && r.EndsAt != nil && r.EndsAt.Before(*r.StartsAt) {
				return errEndsBeforeStart
			}
			return nil
		})),
	)
}

func (r eventRequest) apply(e *storage.Event) {
	if r.Title != nil {
		e.Title = strings.TrimSpace(*r.Title)
	}
	if r.Description != nil {
		e.Description = *r.Description
	}
	if r.Location != nil {
		e.Location = *r.Location
	}
	if r.StartsAt != nil {
		e.StartsAt = r.StartsAt.UTC()
	}
	if r.EndsAt != nil {
		e.EndsAt = r.EndsAt.UTC()
	}
}

func handleCreateEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title == nil || req.StartsAt == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title and startsAt are required")
			return
		}
		uid := userID(r)
		e := storage.Event{ID: uuid.New().String(), UserID: uid}
		req.apply(&e)
		if err := deps.Store.SaveEvent(e); err != nil {
			storeError(w, err, "event")
			return
		}
		saved, err := deps.Store.GetEvent(uid, e.ID)
		if err != nil {
			storeError(w, err, "event")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var from, to time.Time
		for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
			v := r.URL.Query().Get(name)
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s must be an RFC3339 timestamp", name)
				return
			}
			*dst = t
		}
		events, err := deps.Store.ListEvents(userID(r), from, to)
		if err != nil {
			storeError(w, err, "events")
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(events))
	}
}

func handleGetEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Store.GetEvent(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "event")
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func handleUpdateEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		var req eventRequest
		if !decodeBody(w, r, &req) {
			return
		}
		e, err := deps.Store.GetEvent(uid, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "event")
			return
		}
		req.apply(&e)
		if !e.EndsAt.IsZero() && e.EndsAt.Before(e.StartsAt) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "endsAt: %v", errEndsBeforeStart)
			return
		}
		if err := deps.Store.UpdateEvent(e); err != nil {
			storeError(w, err, "event")
			return
		}
		updated, err := deps.Store.GetEvent(uid, e.ID)
		if err != nil {
			storeError(w, err, "event")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteEvent(userID(r), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "event")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
