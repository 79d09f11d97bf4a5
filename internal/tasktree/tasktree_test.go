package tasktree

import (
	"testing"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

func task(id, parent, title, status string, order int) storage.AgentTask {
	return storage.AgentTask{
		ID: id, ParentID: parent, Title: title, Status: status, Order: order,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, order, 0, time.UTC),
	}
}

func TestBuild_OrdersAndNests(t *testing.T) {
	tasks := []storage.AgentTask{
		task("c2", "p1", "second child", storage.AgentTaskPending, 3),
		task("p2", "", "second root", storage.AgentTaskDone, 5),
		task("p1", "", "first root", storage.AgentTaskRunning, 1),
		task("c1", "p1", "first child", storage.AgentTaskDone, 2),
	}
	roots := Build(tasks)
	if len(roots) != 2 || roots[0].Task.ID != "p1" || roots[1].Task.ID != "p2" {
		t.Fatalf("roots = %v", ids(roots))
	}
	if got := ids(roots[0].Children); len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("children = %v", got)
	}
}

func TestBuild_OrphansAndCyclesBecomeRoots(t *testing.T) {
	tasks := []storage.AgentTask{
		task("a", "b", "a", storage.AgentTaskPending, 1),
		task("b", "a", "b", storage.AgentTaskPending, 2),
		task("self", "self", "self", storage.AgentTaskPending, 3),
		task("orphan", "gone", "orphan", storage.AgentTaskPending, 4),
		task("kid", "a", "kid", storage.AgentTaskPending, 5),
	}
	roots := Build(tasks)
	got := ids(roots)
	want := []string{"a", "b", "self", "orphan"}
	if len(got) != len(want) {
		t.Fatalf("roots = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roots = %v, want %v", got, want)
		}
	}
	if kids := ids(roots[0].Children); len(kids) != 1 || kids[0] != "kid" {
		t.Errorf("a children = %v, want [kid]", kids)
	}
	if _, total := Progress(roots); total != 5 {
		t.Errorf("total = %d, want every task exactly once", total)
	}
}

func TestRender(t *testing.T) {
	tasks := []storage.AgentTask{
		task("p", "", "Research Acme", storage.AgentTaskRunning, 0),
		task("c1", "p", "Search the web", storage.AgentTaskDone, 1),
		task("c2", "p", "Extract key facts", storage.AgentTaskFailed, 2),
		task("q", "", "Synthesize", storage.AgentTaskPending, 3),
	}
	tasks[1].Agent = "web_search"
	got := RenderString(Build(tasks))
	want := "◐ Research Acme\n" +
		"  ● Search the web [web_search]\n" +
		"  ✗ Extract key facts\n" +
		"○ Synthesize\n"
	if got != want {
		t.Errorf("Render =\n%s\nwant\n%s", got, want)
	}
}

func TestProgress(t *testing.T) {
	tasks := []storage.AgentTask{
		task("p", "", "p", storage.AgentTaskDone, 0),
		task("c", "p", "c", storage.AgentTaskDone, 1),
		task("d", "p", "d", storage.AgentTaskFailed, 2),
	}
	done, total := Progress(Build(tasks))
	if done != 2 || total != 3 {
		t.Errorf("Progress = %d/%d, want 2/3", done, total)
	}
	if d, tot := Progress(nil); d != 0 || tot != 0 {
		t.Errorf("empty Progress = %d/%d", d, tot)
	}
}

func ids(ns []*Node) []string {
	var out []string
	for _, n := range ns {
		out = append(out, n.Task.ID)
	}
	return out
}
