// Package tasktree arranges a run's agent tasks into a forest and renders it
// as an indented outline.
package tasktree

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kalambet/nodebench/internal/storage"
)

type Node struct {
	Task     storage.AgentTask `json:"task"`
	Children []*Node           `json:"children,omitempty"`
}

// Build links tasks by ParentID. Siblings are ordered by Order, then
// CreatedAt. Tasks whose parent is missing, or whose ancestry loops back to
// themselves, become roots.
func Build(tasks []storage.AgentTask) []*Node {
	nodes := make(map[string]*Node, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &Node{Task: t}
	}

	var roots []*Node
	for _, t := range tasks {
		n := nodes[t.ID]
		parent, ok := nodes[t.ParentID]
		if t.ParentID == "" || !ok || cyclic(nodes, t.ID) {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	sortNodes(roots)
	return roots
}

// cyclic reports whether following ParentID links from id returns to id.
func cyclic(nodes map[string]*Node, id string) bool {
	seen := map[string]bool{id: true}
	cur := nodes[id].Task.ParentID
	for cur != "" {
		if seen[cur] {
			return cur == id
		}
		seen[cur] = true
		n, ok := nodes[cur]
		if !ok {
			return false
		}
		cur = n.Task.ParentID
	}
	return false
}

func sortNodes(ns []*Node) {
	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i].Task, ns[j].Task
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	for _, n := range ns {
		sortNodes(n.Children)
	}
}

// Glyph returns the outline marker for a task status.
func Glyph(status string) string {
	switch status {
	case storage.AgentTaskRunning:
		return "◐"
	case storage.AgentTaskDone:
		return "●"
	case storage.AgentTaskFailed:
		return "✗"
	default:
		return "○"
	}
}

// Render writes one line per task, indented two spaces per level:
//
//	● Research Acme [web_search]
//	  ✗ Extract key facts [summarize]
func Render(w io.Writer, nodes []*Node) error {
	var walk func(ns []*Node, depth int) error
	walk = func(ns []*Node, depth int) error {
		for _, n := range ns {
			line := strings.Repeat("  ", depth) + Glyph(n.Task.Status) + " " + n.Task.Title
			if n.Task.Agent != "" {
				line += " [" + n.Task.Agent + "]"
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
			if err := walk(n.Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(nodes, 0)
}

// RenderString is Render into a string.
func RenderString(nodes []*Node) string {
	var sb strings.Builder
	Render(&sb, nodes)
	return sb.String()
}

// Progress counts finished (done) and total tasks in the forest.
func Progress(nodes []*Node) (done, total int) {
	for _, n := range nodes {
		total++
		if n.Task.Status == storage.AgentTaskDone {
			done++
		}
		d, t := Progress(n.Children)
		done += d
		total += t
	}
	return done, total
}
