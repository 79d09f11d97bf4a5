package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("applied %v, want 3 migrations", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_jobs_status_run_after", "idx_documents_user", "idx_agent_timeline_run", "idx_gmail_messages_user_received"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob err = %v, want ErrNotFound", err)
	}
}

func TestDeleteFinishedJobs(t *testing.T) {
	s := openTestStore(t)
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return past })

	for _, id := range []string{"done", "pending"} {
		if err := s.EnqueueJob(Job{ID: id, Type: "x", PayloadJSON: `{}`}); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.CompleteJob("done"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	n, err := s.DeleteFinishedJobs(past.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteFinishedJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.GetJob("pending"); err != nil {
		t.Errorf("pending job should survive: %v", err)
	}
}

func enqueue(t *testing.T, s *Store, jobs ...Job) {
	t.Helper()
	for _, j := range jobs {
		if j.PayloadJSON == "" {
			j.PayloadJSON = `{}`
		}
		if err := s.EnqueueJob(j); err != nil {
			t.Fatalf("EnqueueJob %s: %v", j.ID, err)
		}
	}
}

func TestEnqueueJob_Defaults(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "conv-1", Type: JobFileConvert, PayloadJSON: `{"file_id":"f1"}`})

	j, err := s.GetJob("conv-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" || j.Attempts != 0 || j.MaxAttempts != 3 {
		t.Errorf("job = %+v, want pending with 0/3 attempts", j)
	}
	if j.PayloadJSON != `{"file_id":"f1"}` {
		t.Errorf("PayloadJSON = %q", j.PayloadJSON)
	}
	if j.RunAfter.IsZero() {
		t.Error("run_after should default to now")
	}
}

func TestClaimNextJob(t *testing.T) {
	future := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name   string
		queued []Job
		types  []string
		wantID string
	}{
		{
			name:  "empty queue",
			types: []string{JobGmailSync},
		},
		{
			name:   "no types",
			queued: []Job{{ID: "sync-1", Type: JobGmailSync}},
		},
		{
			name:   "future run_after is skipped",
			queued: []Job{{ID: "refresh-later", Type: JobEntityRefresh, RunAfter: future}},
			types:  []string{JobEntityRefresh},
		},
		{
			name: "type filter",
			queued: []Job{
				{ID: "conv-1", Type: JobFileConvert},
				{ID: "sync-1", Type: JobGmailSync},
			},
			types:  []string{JobGmailSync},
			wantID: "sync-1",
		},
		{
			name: "oldest run_after first across types",
			queued: []Job{
				{ID: "sync-new", Type: JobGmailSync},
				{ID: "conv-old", Type: JobFileConvert, RunAfter: time.Now().UTC().Add(-time.Hour)},
			},
			types:  []string{JobGmailSync, JobFileConvert, JobEntityRefresh},
			wantID: "conv-old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			enqueue(t, s, tt.queued...)

			got, err := s.ClaimNextJob(tt.types)
			if err != nil {
				t.Fatalf("ClaimNextJob: %v", err)
			}
			if tt.wantID == "" {
				if got != nil {
					t.Fatalf("claimed %+v, want nothing", got)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Fatalf("claimed %+v, want %s", got, tt.wantID)
			}
			if got.Status != "running" {
				t.Errorf("Status = %q, want running", got.Status)
			}
		})
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "conv-1", Type: JobFileConvert})
	if _, err := s.ClaimNextJob([]string{JobFileConvert}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	enqueue(t, s, Job{ID: "conv-2", Type: JobFileConvert})

	got, err := s.ClaimNextJob([]string{JobFileConvert})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if got == nil || got.ID != "conv-2" {
		t.Fatalf("claimed %+v, want conv-2", got)
	}
	if again, _ := s.ClaimNextJob([]string{JobFileConvert}); again != nil {
		t.Errorf("queue should be drained, claimed %s", again.ID)
	}
}

func TestRequeueRunningJobs(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "conv-1", Type: JobFileConvert}, Job{ID: "sync-1", Type: JobGmailSync})
	if _, err := s.ClaimNextJob([]string{JobFileConvert}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	enqueue(t, s, Job{ID: "done-1", Type: JobEntityRefresh})
	if _, err := s.ClaimNextJob([]string{JobEntityRefresh}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CompleteJob("done-1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	n, err := s.RequeueRunningJobs()
	if err != nil {
		t.Fatalf("RequeueRunningJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d jobs, want 1", n)
	}
	if j, _ := s.GetJob("done-1"); j.Status != "completed" {
		t.Errorf("completed job status = %q", j.Status)
	}

	got, err := s.ClaimNextJob([]string{JobFileConvert})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if got == nil || got.ID != "conv-1" || got.Attempts != 0 {
		t.Errorf("reclaimed %+v, want conv-1 with no attempts used", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "sync-1", Type: JobGmailSync})
	if _, err := s.ClaimNextJob([]string{JobGmailSync}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("sync-1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	j, err := s.GetJob("sync-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "completed" {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestFailJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		maxAttempts  int
		wantStatus   string
		wantRunAfter time.Time
	}{
		{"retried with backoff", 3, "pending", now.Add(2 * time.Second)},
		{"last attempt fails the job", 1, "failed", now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			s.SetClock(func() time.Time { return now })
			enqueue(t, s, Job{ID: "conv-1", Type: JobFileConvert, MaxAttempts: tt.maxAttempts})
			if _, err := s.ClaimNextJob([]string{JobFileConvert}); err != nil {
				t.Fatalf("ClaimNextJob: %v", err)
			}

			if err := s.FailJob("conv-1", "unsupported file"); err != nil {
				t.Fatalf("FailJob: %v", err)
			}

			j, err := s.GetJob("conv-1")
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if j.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", j.Status, tt.wantStatus)
			}
			if j.Attempts != 1 || j.LastError != "unsupported file" {
				t.Errorf("attempts = %d, last_error = %q", j.Attempts, j.LastError)
			}
			if !j.RunAfter.Equal(tt.wantRunAfter) {
				t.Errorf("run_after = %v, want %v", j.RunAfter, tt.wantRunAfter)
			}
		})
	}
}

func TestFailJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}
