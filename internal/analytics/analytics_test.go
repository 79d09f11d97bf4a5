package analytics

import (
	"testing"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

func TestSummary(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	at := func(d time.Time) { store.SetClock(func() time.Time { return d }) }

	at(now.AddDate(0, 0, -2))
	store.SaveDocument(storage.Document{ID: "d1", UserID: "u1", Title: "a"})
	store.SaveDocument(storage.Document{ID: "d2", UserID: "u1", Title: "b", Archived: true})
	store.SaveThread(storage.ChatThread{ID: "t1", UserID: "u1", Title: "chat"})
	store.AddMessage(storage.ChatMessage{ID: "m1", ThreadID: "t1", UserID: "u1", Role: "user", Content: "hi"})
	at(now)
	store.AddMessage(storage.ChatMessage{ID: "m2", ThreadID: "t1", UserID: "u1", Role: "assistant", Content: "hello"})
	store.SaveDocument(storage.Document{ID: "d3", UserID: "u2", Title: "other user"})

	store.SaveTask(storage.Task{ID: "k1", UserID: "u1", Title: "t", Status: storage.TaskTodo})
	store.SaveTask(storage.Task{ID: "k2", UserID: "u1", Title: "t", Status: storage.TaskDone})
	store.SaveTask(storage.Task{ID: "k3", UserID: "u1", Title: "t", Status: storage.TaskDone})
	store.SaveEvent(storage.Event{ID: "e1", UserID: "u1", Title: "soon", StartsAt: now.Add(48 * time.Hour)})
	store.SaveEvent(storage.Event{ID: "e2", UserID: "u1", Title: "past", StartsAt: now.Add(-48 * time.Hour)})
	store.SaveEvent(storage.Event{ID: "e3", UserID: "u1", Title: "far", StartsAt: now.Add(30 * 24 * time.Hour)})

	store.CreateAgentRun(storage.AgentRun{ID: "r1", UserID: "u1", Prompt: "p"})
	store.FinishAgentRun("r1", storage.RunCompleted, []string{"Web", "SEC"}, "ok", "")
	store.CreateAgentRun(storage.AgentRun{ID: "r2", UserID: "u1", Prompt: "p"})
	store.FinishAgentRun("r2", storage.RunFailed, []string{"Web"}, "", "boom")

	svc := NewService(store)
	svc.SetClock(func() time.Time { return now })
	sum, err := svc.Summary("u1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.WindowDays != 7 || len(sum.Daily) != 7 {
		t.Fatalf("window = %d days, series = %d", sum.WindowDays, len(sum.Daily))
	}
	if sum.Documents != 2 || sum.ArchivedDocuments != 1 {
		t.Errorf("documents = %d/%d", sum.Documents, sum.ArchivedDocuments)
	}
	if sum.TasksByStatus[storage.TaskDone] != 2 || sum.TasksByStatus[storage.TaskTodo] != 1 {
		t.Errorf("tasks = %v", sum.TasksByStatus)
	}
	if sum.UpcomingEvents != 1 {
		t.Errorf("upcoming events = %d, want 1", sum.UpcomingEvents)
	}
	if sum.RunsByStatus[storage.RunCompleted] != 1 || sum.RunsByStatus[storage.RunFailed] != 1 {
		t.Errorf("runs = %v", sum.RunsByStatus)
	}
	if sum.AgentUsage["Web"] != 2 || sum.AgentUsage["SEC"] != 1 {
		t.Errorf("agent usage = %v", sum.AgentUsage)
	}
	if sum.ChatThreads != 1 || sum.ChatMessages != 2 {
		t.Errorf("chat = %d threads, %d messages", sum.ChatThreads, sum.ChatMessages)
	}

	if sum.Daily[0].Date != "2026-06-04" || sum.Daily[6].Date != "2026-06-10" {
		t.Errorf("series spans %s..%s", sum.Daily[0].Date, sum.Daily[6].Date)
	}
	byDay := map[string]int{}
	for _, d := range sum.Daily {
		byDay[d.Date] = d.Count
	}
	if byDay["2026-06-08"] != 3 || byDay["2026-06-10"] != 1 || byDay["2026-06-09"] != 0 {
		t.Errorf("daily = %v", sum.Daily)
	}
}

func TestSummary_DefaultWindow(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	sum, err := NewService(store).Summary("nobody", 0)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.WindowDays != 30 || len(sum.Daily) != 30 {
		t.Errorf("default window = %d days", sum.WindowDays)
	}
	for _, d := range sum.Daily {
		if d.Count != 0 {
			t.Errorf("unexpected activity %+v", d)
		}
	}
}
