package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/nodebench/internal/storage"
)

// Tool executes one plan step with substituted arguments.
type Tool func(ctx context.Context, args map[string]string) (StepOutput, error)

// Tools maps tool names to implementations.
type Tools map[string]Tool

// TaskRecorder is the subset of storage.Store the executor records steps in.
type TaskRecorder interface {
	SaveAgentTask(t storage.AgentTask) error
	UpdateAgentTaskStatus(id, status, output string) error
}

// Execution holds the outputs of every successful step and the error message
// of every failed one, keyed by step id.
type Execution struct {
	Outputs map[string]StepOutput `json:"outputs"`
	Failed  map[string]string     `json:"failed,omitempty"`
}

type Executor struct {
	store TaskRecorder
}

func NewExecutor(store TaskRecorder) *Executor {
	return &Executor{store: store}
}

type execState struct {
	mu      sync.Mutex
	outputs map[string]StepOutput
	failed  map[string]string
	taskIDs map[string]string
}

func (s *execState) snapshot() map[string]StepOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]StepOutput, len(s.outputs))
	for k, v := range s.outputs {
		cp[k] = v
	}
	return cp
}

// Execute runs plan under runID. Every step is first recorded as a pending
// AgentTask; groups then run concurrently and the steps of each group in
// order. Step failures are recorded and do not stop execution; the returned
// error is reserved for plans with empty or repeated step ids and storage
// failures.
func (e *Executor) Execute(ctx context.Context, runID string, plan Plan, tools Tools) (Execution, error) {
	if err := plan.checkIDs(); err != nil {
		return Execution{}, err
	}
	st := &execState{
		outputs: make(map[string]StepOutput),
		failed:  make(map[string]string),
		taskIDs: make(map[string]string),
	}

	order := 0
	var record func(steps []Step, parentTask string) error
	record = func(steps []Step, parentTask string) error {
		for _, s := range steps {
			taskID := uuid.New().String()
			st.taskIDs[s.ID] = taskID
			if err := e.store.SaveAgentTask(storage.AgentTask{
				ID:       taskID,
				RunID:    runID,
				ParentID: parentTask,
				Title:    s.Title,
				Agent:    s.Tool,
				Status:   storage.AgentTaskPending,
				Order:    order,
			}); err != nil {
				return fmt.Errorf("recording step %s: %w", s.ID, err)
			}
			order++
			if err := record(s.Children, taskID); err != nil {
				return err
			}
		}
		return nil
	}
	for _, g := range plan.Groups {
		if err := record(g.Steps, ""); err != nil {
			return Execution{}, err
		}
	}

	var g errgroup.Group
	for _, group := range plan.Groups {
		g.Go(func() error {
			for _, s := range group.Steps {
				e.runStep(ctx, st, s, tools)
			}
			return nil
		})
	}
	g.Wait()

	return Execution{Outputs: st.outputs, Failed: st.failed}, nil
}

// runStep runs the children of s in order, then s itself. A step without a
// tool takes the output of its last successful child.
func (e *Executor) runStep(ctx context.Context, st *execState, s Step, tools Tools) (StepOutput, bool) {
	var last StepOutput
	haveChild := false
	for _, c := range s.Children {
		if out, ok := e.runStep(ctx, st, c, tools); ok {
			last, haveChild = out, true
		}
	}

	taskID := st.taskIDs[s.ID]
	e.setStatus(taskID, storage.AgentTaskRunning, "")

	var out StepOutput
	var err error
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case s.Tool == "":
		if haveChild {
			out = last
		} else {
			err = fmt.Errorf("step %s has no tool and no successful children", s.ID)
		}
	default:
		tool, ok := tools[s.Tool]
		if !ok {
			err = fmt.Errorf("unknown tool %q", s.Tool)
		} else {
			out, err = tool(ctx, SubstituteArgs(s.Args, st.snapshot()))
		}
	}

	if err != nil {
		slog.Warn("plan step failed", "step", s.ID, "tool", s.Tool, "error", err)
		st.mu.Lock()
		st.failed[s.ID] = err.Error()
		st.mu.Unlock()
		e.setStatus(taskID, storage.AgentTaskFailed, err.Error())
		return StepOutput{}, false
	}

	st.mu.Lock()
	st.outputs[s.ID] = out
	st.mu.Unlock()
	e.setStatus(taskID, storage.AgentTaskDone, outputText(out))
	return out, true
}

func (e *Executor) setStatus(taskID, status, output string) {
	if err := e.store.UpdateAgentTaskStatus(taskID, status, output); err != nil {
		slog.Warn("updating plan task", "task", taskID, "error", err)
	}
}

const maxTaskOutput = 2000

// outputText is the human-readable form of a step output stored on its task.
func outputText(out StepOutput) string {
	var s string
	if t, ok := out.Data["text"]; ok {
		s = stringify(t)
	} else if len(out.Data) > 0 {
		s = stringify(out.Data)
	}
	if r := []rune(s); len(r) > maxTaskOutput {
		s = string(r[:maxTaskOutput]) + "…"
	}
	return s
}

// Report renders one Markdown section per group holding the text output of
// the group's last step, or its error when that step failed.
func Report(plan Plan, exec Execution) string {
	var sb strings.Builder
	for i, g := range plan.Groups {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s\n\n", g.Name)
		if len(g.Steps) == 0 {
			sb.WriteString("_No steps._")
			continue
		}
		last := g.Steps[len(g.Steps)-1]
		if out, ok := exec.Outputs[last.ID]; ok {
			sb.WriteString(outputText(out))
		} else if msg, ok := exec.Failed[last.ID]; ok {
			fmt.Fprintf(&sb, "_Failed: %s_", msg)
		}
	}
	return sb.String()
}
