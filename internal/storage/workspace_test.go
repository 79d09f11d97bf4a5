package storage

import (
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"
)

func fixedClock(s *Store, at time.Time) {
	s.SetClock(func() time.Time { return at })
}

func TestDocument_OwnershipChecked(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDocument(Document{ID: "d1", UserID: "alice", Title: "Plan", Content: "body"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument("alice", "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "Plan" || got.Content != "body" {
		t.Errorf("got %+v", got)
	}

	if _, err := s.GetDocument("bob", "d1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("GetDocument as bob err = %v, want ErrForbidden", err)
	}
	if err := s.DeleteDocument("bob", "d1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteDocument as bob err = %v, want ErrForbidden", err)
	}
	if _, err := s.GetDocument("alice", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument missing err = %v, want ErrNotFound", err)
	}
}

func TestUpdateDocument_Archive(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDocument(Document{ID: "d1", UserID: "u", Title: "a"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.SaveDocument(Document{ID: "d2", UserID: "u", Title: "b"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.UpdateDocument(Document{ID: "d1", UserID: "u", Title: "a2", Archived: true}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	active, err := s.ListDocuments("u", false, 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(active) != 1 || active[0].ID != "d2" {
		t.Errorf("active = %+v, want only d2", active)
	}

	all, err := s.ListDocuments("u", true, 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestSearchDocuments_RanksByMatchingTerms(t *testing.T) {
	s := openTestStore(t)

	docs := []Document{
		{ID: "d1", UserID: "u", Title: "Quarterly plan", Content: "revenue targets"},
		{ID: "d2", UserID: "u", Title: "Revenue", Content: "quarterly revenue and plan"},
		{ID: "d3", UserID: "u", Title: "Groceries", Content: "milk"},
		{ID: "d4", UserID: "other", Title: "Quarterly plan", Content: "revenue"},
	}
	for _, d := range docs {
		if err := s.SaveDocument(d); err != nil {
			t.Fatalf("SaveDocument: %v", err)
		}
	}

	got, err := s.SearchDocuments("u", []string{"quarterly", "revenue", "plan"}, 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	for _, d := range got {
		if d.UserID != "u" {
			t.Errorf("result from another user: %+v", d)
		}
	}

	none, err := s.SearchDocuments("u", nil, 10)
	if err != nil || none != nil {
		t.Errorf("empty terms = %v, %v; want nil, nil", none, err)
	}
}

func TestTask_StatusValidation(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveTask(Task{ID: "t1", UserID: "u", Title: "x", Status: "bogus"}); err == nil {
		t.Error("SaveTask with invalid status should fail")
	}
	if err := s.SaveTask(Task{ID: "t1", UserID: "u", Title: "x"}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	got, err := s.GetTask("u", "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != TaskTodo {
		t.Errorf("default status = %q, want %q", got.Status, TaskTodo)
	}

	got.Status = TaskDone
	if err := s.UpdateTask(got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	done, err := s.ListTasks("u", TaskDone)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(done) != 1 {
		t.Errorf("done tasks = %d, want 1", len(done))
	}
}

func TestEvent_RangeAndValidation(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.SaveEvent(Event{ID: "bad", UserID: "u", Title: "x", StartsAt: base, EndsAt: base.Add(-time.Hour)}); err == nil {
		t.Error("event ending before start should fail")
	}
	for i, id := range []string{"e1", "e2", "e3"} {
		if err := s.SaveEvent(Event{ID: id, UserID: "u", Title: id, StartsAt: base.Add(time.Duration(i) * 24 * time.Hour)}); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	got, err := s.ListEvents("u", base.Add(time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e2" {
		t.Errorf("got %+v, want e2, e3", got)
	}
}

func TestAgentRun_Lifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateAgentRun(AgentRun{ID: "r1", UserID: "u", Prompt: "hi"}); err != nil {
		t.Fatalf("CreateAgentRun: %v", err)
	}
	if err := s.AddTimelineItem(TimelineItem{ID: "i1", RunID: "r1", Kind: "delegate", Message: "Web"}); err != nil {
		t.Fatalf("AddTimelineItem: %v", err)
	}
	if err := s.SaveAgentTask(AgentTask{ID: "t1", RunID: "r1", Title: "Web", Agent: "Web"}); err != nil {
		t.Fatalf("SaveAgentTask: %v", err)
	}
	if err := s.UpdateAgentTaskStatus("t1", AgentTaskDone, "ok"); err != nil {
		t.Fatalf("UpdateAgentTaskStatus: %v", err)
	}
	if err := s.FinishAgentRun("r1", RunCompleted, []string{"Web"}, "answer", ""); err != nil {
		t.Fatalf("FinishAgentRun: %v", err)
	}

	run, err := s.GetAgentRun("u", "r1")
	if err != nil {
		t.Fatalf("GetAgentRun: %v", err)
	}
	if run.Status != RunCompleted || run.Response != "answer" || len(run.AgentsUsed) != 1 {
		t.Errorf("run = %+v", run)
	}
	if run.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
	if _, err := s.GetAgentRun("other", "r1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("GetAgentRun as other err = %v, want ErrForbidden", err)
	}

	tasks, err := s.ListAgentTasks("r1")
	if err != nil {
		t.Fatalf("ListAgentTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != AgentTaskDone || tasks[0].Output != "ok" {
		t.Errorf("tasks = %+v", tasks)
	}

	if err := s.DeleteAgentRun("r1"); err != nil {
		t.Fatalf("DeleteAgentRun: %v", err)
	}
	items, err := s.ListTimeline("r1")
	if err != nil {
		t.Fatalf("ListTimeline: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("timeline survived delete: %+v", items)
	}
}

func TestAgentRunIDsBefore(t *testing.T) {
	s := openTestStore(t)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	runs := []AgentRun{
		{ID: "old", Status: RunCompleted, CreatedAt: old},
		{ID: "old-failed", Status: RunFailed, CreatedAt: old.Add(time.Hour)},
		{ID: "still-running", CreatedAt: old},
		{ID: "new", Status: RunCompleted, CreatedAt: old.Add(48 * time.Hour)},
	}
	for _, r := range runs {
		r.UserID, r.Prompt = "u", "p"
		if err := s.CreateAgentRun(r); err != nil {
			t.Fatalf("CreateAgentRun(%s): %v", r.ID, err)
		}
	}

	ids, err := s.AgentRunIDsBefore(old.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("AgentRunIDsBefore: %v", err)
	}
	sort.Strings(ids)
	if !reflect.DeepEqual(ids, []string{"old", "old-failed"}) {
		t.Errorf("ids = %v, want [old old-failed]", ids)
	}
}

func TestUpsertEntityContext_KeepsID(t *testing.T) {
	s := openTestStore(t)
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.UpsertEntityContext(EntityContext{
		ID: "e1", UserID: "u", Name: "Acme", NormalizedName: "acme", EntityType: "company",
		Summary: "v1", ResearchedAt: t0,
	})
	if err != nil {
		t.Fatalf("UpsertEntityContext: %v", err)
	}
	second, err := s.UpsertEntityContext(EntityContext{
		ID: "e2", UserID: "u", Name: "ACME", NormalizedName: "acme", EntityType: "company",
		Summary: "v2", Sources: []string{"https://acme.test"}, ResearchedAt: t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertEntityContext: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID changed on upsert: %q -> %q", first.ID, second.ID)
	}
	if second.Summary != "v2" || len(second.Sources) != 1 {
		t.Errorf("second = %+v", second)
	}
	if !second.ResearchedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ResearchedAt = %v", second.ResearchedAt)
	}

	if _, err := s.UpsertEntityContext(EntityContext{
		ID: "e3", UserID: "u", Name: "Acme", NormalizedName: "acme", EntityType: "person",
	}); err != nil {
		t.Fatalf("UpsertEntityContext person: %v", err)
	}
	all, err := s.ListEntityContexts("u")
	if err != nil {
		t.Fatalf("ListEntityContexts: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len = %d, want 2 (company and person)", len(all))
	}
}

func TestDeleteOrphanMessages(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveThread(ChatThread{ID: "th1", UserID: "u", Title: "t"}); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	for _, id := range []string{"m1", "m2"} {
		if err := s.AddMessage(ChatMessage{ID: id, ThreadID: "th1", UserID: "u", Role: "user", Content: id}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	if err := s.DeleteThread("u", "th1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}

	n, err := s.DeleteOrphanMessages()
	if err != nil {
		t.Fatalf("DeleteOrphanMessages: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
}

func TestGetSubscription_DefaultsToNone(t *testing.T) {
	s := openTestStore(t)

	sub, err := s.GetSubscription("u")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.Status != SubscriptionNone {
		t.Errorf("Status = %q, want none", sub.Status)
	}

	if err := s.UpsertSubscription(Subscription{UserID: "u", Status: SubscriptionActive, Provider: "stripe", ExternalID: "sub_1"}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	if err := s.UpsertSubscription(Subscription{UserID: "u", Status: SubscriptionCanceled}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	sub, err = s.FindSubscriptionByExternalID("sub_1")
	if err != nil {
		t.Fatalf("FindSubscriptionByExternalID: %v", err)
	}
	if sub.Status != SubscriptionCanceled || sub.Provider != "stripe" {
		t.Errorf("sub = %+v, want canceled stripe", sub)
	}
}

func TestGmailMessages_UpsertAndDisconnect(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveGmailAccount(GmailAccount{UserID: "u", Email: "u@example.com", RefreshToken: "r"}); err != nil {
		t.Fatalf("SaveGmailAccount: %v", err)
	}
	// A refresh without a new refresh token keeps the stored one.
	if err := s.SaveGmailAccount(GmailAccount{UserID: "u", AccessToken: "a2"}); err != nil {
		t.Fatalf("SaveGmailAccount: %v", err)
	}
	acct, err := s.GetGmailAccount("u")
	if err != nil {
		t.Fatalf("GetGmailAccount: %v", err)
	}
	if acct.RefreshToken != "r" || acct.Email != "u@example.com" || acct.AccessToken != "a2" {
		t.Errorf("acct = %+v", acct)
	}

	for _, subj := range []string{"first", "second"} {
		if err := s.UpsertGmailMessage(GmailMessage{ID: subj, UserID: "u", MessageID: "m1", Subject: subj}); err != nil {
			t.Fatalf("UpsertGmailMessage: %v", err)
		}
	}
	msgs, err := s.ListGmailMessages("u", 10)
	if err != nil {
		t.Fatalf("ListGmailMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Subject != "second" {
		t.Errorf("msgs = %+v", msgs)
	}

	if err := s.DeleteGmailAccount("u"); err != nil {
		t.Fatalf("DeleteGmailAccount: %v", err)
	}
	if _, err := s.GetGmailAccount("u"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after disconnect err = %v, want ErrNotFound", err)
	}
	msgs, _ = s.ListGmailMessages("u", 10)
	if len(msgs) != 0 {
		t.Errorf("messages survived disconnect: %d", len(msgs))
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSetting("u", "theme", "dark"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("u", "theme", "light"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	got, err := s.GetSettings("u")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got["theme"] != "light" {
		t.Errorf("theme = %q, want light", got["theme"])
	}
	other, _ := s.GetSettings("v")
	if len(other) != 0 {
		t.Errorf("settings leaked across users: %v", other)
	}
}

func TestAnalyticsQueries(t *testing.T) {
	s := openTestStore(t)
	day := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	fixedClock(s, day)

	s.SaveDocument(Document{ID: "d1", UserID: "u", Title: "a"})
	s.SaveDocument(Document{ID: "d2", UserID: "u", Title: "b", Archived: true})
	s.SaveTask(Task{ID: "t1", UserID: "u", Title: "x", Status: TaskDone})
	s.SaveTask(Task{ID: "t2", UserID: "u", Title: "y"})
	s.CreateAgentRun(AgentRun{ID: "r1", UserID: "u", Prompt: "p", AgentsUsed: []string{"Web", "SEC"}})
	s.CreateAgentRun(AgentRun{ID: "r2", UserID: "u", Prompt: "p", AgentsUsed: []string{"Web"}, Status: RunFailed})

	total, archived, err := s.DocumentCounts("u")
	if err != nil {
		t.Fatalf("DocumentCounts: %v", err)
	}
	if total != 2 || archived != 1 {
		t.Errorf("DocumentCounts = %d, %d; want 2, 1", total, archived)
	}

	tasks, err := s.TaskCountsByStatus("u")
	if err != nil {
		t.Fatalf("TaskCountsByStatus: %v", err)
	}
	if tasks[TaskDone] != 1 || tasks[TaskTodo] != 1 {
		t.Errorf("tasks = %v", tasks)
	}

	usage, err := s.AgentUsageSince("u", day.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AgentUsageSince: %v", err)
	}
	if usage["Web"] != 2 || usage["SEC"] != 1 {
		t.Errorf("usage = %v", usage)
	}

	runs, err := s.RunCountsByStatus("u", day.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RunCountsByStatus: %v", err)
	}
	if runs[RunRunning] != 1 || runs[RunFailed] != 1 {
		t.Errorf("runs = %v", runs)
	}

	activity, err := s.DailyActivity("u", day.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DailyActivity: %v", err)
	}
	if activity["2026-04-10"] != 2 {
		t.Errorf("activity = %v, want 2 on 2026-04-10", activity)
	}
}
