// Package worker drains the SQLite job queue: file conversions, Gmail syncs
// and entity refreshes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nodebench/internal/convert"
	"github.com/kalambet/nodebench/internal/storage"
)

// Types lists every job type the worker claims.
var Types = []string{storage.JobFileConvert, storage.JobGmailSync, storage.JobEntityRefresh}

const gmailSyncLimit = 100

// Store abstracts the job queue and the records jobs touch.
type Store interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetFile(id string) (storage.FileRecord, error)
	SetFileStatus(id, status, documentID, errMsg string) error
	SaveDocument(d storage.Document) error
}

type GmailSyncer interface {
	Sync(ctx context.Context, userID string, limit int) (int, error)
}

type EntityRefresher interface {
	RefreshStale(ctx context.Context, userID string) (int, error)
}

type FileConvertPayload struct {
	FileID string `json:"file_id"`
}

type UserPayload struct {
	UserID string `json:"user_id"`
}

// NewJob builds a pending job with a JSON payload.
func NewJob(jobType string, payload any) (storage.Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	return storage.Job{ID: uuid.New().String(), Type: jobType, PayloadJSON: string(b)}, nil
}

type Worker struct {
	store    Store
	gmail    GmailSyncer
	entities EntityRefresher
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. gmail and entities may be nil; their jobs then
// fail. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Store, gmail GmailSyncer, entities EntityRefresher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		gmail:    gmail,
		entities: entities,
		poll:     pollInterval,
		logger:   slog.Default().With("component", "worker"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It returns true if a job was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(Types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Debug("job completed", "job_id", job.ID, "type", job.Type)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case storage.JobFileConvert:
		var p FileConvertPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.convertFile(p.FileID)
	case storage.JobGmailSync:
		p, err := userPayload(job)
		if err != nil {
			return err
		}
		if w.gmail == nil {
			return errors.New("gmail sync is not configured")
		}
		n, err := w.gmail.Sync(ctx, p.UserID, gmailSyncLimit)
		if err != nil {
			return fmt.Errorf("syncing gmail: %w", err)
		}
		w.logger.Info("gmail synced", "user_id", p.UserID, "messages", n)
		return nil
	case storage.JobEntityRefresh:
		p, err := userPayload(job)
		if err != nil {
			return err
		}
		if w.entities == nil {
			return errors.New("entity research is not configured")
		}
		n, err := w.entities.RefreshStale(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("refreshing entities: %w", err)
		}
		w.logger.Info("entities refreshed", "user_id", p.UserID, "count", n)
		return nil
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

func userPayload(job *storage.Job) (UserPayload, error) {
	var p UserPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return p, fmt.Errorf("parsing payload: %w", err)
	}
	if p.UserID == "" {
		return p, errors.New("payload has no user_id")
	}
	return p, nil
}

// convertFile turns an uploaded file into a Document. Unsupported file types
// mark the file failed without retrying.
func (w *Worker) convertFile(fileID string) error {
	f, err := w.store.GetFile(fileID)
	if err != nil {
		return fmt.Errorf("loading file %s: %w", fileID, err)
	}
	if err := w.store.SetFileStatus(f.ID, storage.FileConverting, "", ""); err != nil {
		return fmt.Errorf("marking file converting: %w", err)
	}

	fail := func(err error) error {
		if setErr := w.store.SetFileStatus(f.ID, storage.FileFailed, "", err.Error()); setErr != nil {
			w.logger.Error("failed to mark file as failed", "file_id", f.ID, "error", setErr)
		}
		return err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fail(fmt.Errorf("reading upload: %w", err))
	}
	out, err := convert.Convert(f.Name, f.MimeType, data)
	if errors.Is(err, convert.ErrUnsupported) {
		fail(err)
		return nil
	}
	if err != nil {
		return fail(fmt.Errorf("converting %s: %w", f.Name, err))
	}

	doc := storage.Document{
		ID:      uuid.New().String(),
		UserID:  f.UserID,
		Title:   out.Title,
		Content: out.Content,
		FileID:  f.ID,
	}
	if err := w.store.SaveDocument(doc); err != nil {
		return fail(fmt.Errorf("saving document: %w", err))
	}
	if err := w.store.SetFileStatus(f.ID, storage.FileConverted, doc.ID, ""); err != nil {
		return fmt.Errorf("marking file converted: %w", err)
	}
	return nil
}
