// Package admin holds maintenance operations over the workspace database.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRetention is how long finished runs and jobs are kept by default.
const DefaultRetention = 30 * 24 * time.Hour

type Store interface {
	AgentRunIDsBefore(cutoff time.Time) ([]string, error)
	DeleteAgentRun(id string) error
	DeleteFinishedJobs(cutoff time.Time) (int64, error)
	DeleteOrphanMessages() (int64, error)
}

type CleanupResult struct {
	AgentRuns      int   `json:"agentRuns"`
	Jobs           int64 `json:"jobs"`
	OrphanMessages int64 `json:"orphanMessages"`
}

// Cleanup removes agent runs (with their timeline and tasks) and finished
// jobs older than olderThan, plus chat messages whose thread is gone. The
// three categories are cleaned concurrently.
func Cleanup(ctx context.Context, store Store, olderThan time.Duration) (CleanupResult, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	cutoff := time.Now().Add(-olderThan)

	var res CleanupResult
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ids, err := store.AgentRunIDsBefore(cutoff)
		if err != nil {
			return fmt.Errorf("listing old runs: %w", err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := store.DeleteAgentRun(id); err != nil {
				return fmt.Errorf("deleting run %s: %w", id, err)
			}
			res.AgentRuns++
		}
		return nil
	})
	g.Go(func() error {
		n, err := store.DeleteFinishedJobs(cutoff)
		if err != nil {
			return fmt.Errorf("deleting jobs: %w", err)
		}
		res.Jobs = n
		return nil
	})
	g.Go(func() error {
		n, err := store.DeleteOrphanMessages()
		if err != nil {
			return fmt.Errorf("deleting orphan messages: %w", err)
		}
		res.OrphanMessages = n
		return nil
	})

	err := g.Wait()
	slog.Info("cleanup finished", "cutoff", cutoff.Format(time.RFC3339),
		"agent_runs", res.AgentRuns, "jobs", res.Jobs, "orphan_messages", res.OrphanMessages, "error", err)
	return res, err
}
