// Package coordinator turns a prompt into a multi-agent research answer:
// analyze the prompt, delegate to sub-agents, call them concurrently, and
// format their results as one Markdown response.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/nodebench/internal/agents"
	"github.com/kalambet/nodebench/internal/storage"
)

const agentTimeout = 90 * time.Second

// RunStore is the subset of storage.Store the coordinator records runs in.
type RunStore interface {
	CreateAgentRun(r storage.AgentRun) error
	FinishAgentRun(id, status string, agentsUsed []string, response, errMsg string) error
	AddTimelineItem(item storage.TimelineItem) error
	ListTimeline(runID string) ([]storage.TimelineItem, error)
	SaveAgentTask(t storage.AgentTask) error
	UpdateAgentTaskStatus(id, status, output string) error
}

// Outcome is the result of one coordinator run.
type Outcome struct {
	RunID      string                 `json:"runId"`
	Status     string                 `json:"status"`
	Response   string                 `json:"response"`
	AgentsUsed []string               `json:"agentsUsed"`
	Timeline   []storage.TimelineItem `json:"timeline"`
}

type Coordinator struct {
	store     RunStore
	agents    agents.Registry
	analyzer  *Analyzer
	delegator Delegator
}

// New creates a Coordinator. delegator may be nil, in which case only keyword
// analysis is used.
func New(store RunStore, registry agents.Registry, analyzer *Analyzer, delegator Delegator) *Coordinator {
	if analyzer == nil {
		analyzer = NewAnalyzer(nil)
	}
	return &Coordinator{store: store, agents: registry, analyzer: analyzer, delegator: delegator}
}

// Delegate picks agents and entities for prompt, preferring the LLM delegator
// and falling back to keyword analysis.
func (c *Coordinator) Delegate(ctx context.Context, prompt string) (Delegation, string) {
	if c.delegator != nil {
		d, err := c.delegator.Delegate(ctx, prompt)
		if err == nil {
			if len(d.Entities) == 0 {
				d.Entities = agents.ExtractEntities(prompt)
			}
			return d, "llm"
		}
		slog.Warn("llm delegation failed, using keywords", "error", err)
	}
	return Delegation{Agents: c.analyzer.Analyze(prompt), Entities: agents.ExtractEntities(prompt)}, "keywords"
}

type agentOutcome struct {
	result agents.Result
	err    error
}

// Run executes the full pipeline for one prompt. Individual agent failures are
// reported in the response; the run fails only when every agent failed. Task
// and timeline writes are best effort, so once the run row exists the only
// error returned is a failure to finish it.
func (c *Coordinator) Run(ctx context.Context, userID, threadID, prompt string) (Outcome, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Outcome{}, fmt.Errorf("prompt is required")
	}

	runID := uuid.New().String()
	if err := c.store.CreateAgentRun(storage.AgentRun{
		ID:       runID,
		UserID:   userID,
		ThreadID: threadID,
		Prompt:   prompt,
		Status:   storage.RunRunning,
	}); err != nil {
		return Outcome{}, fmt.Errorf("creating agent run: %w", err)
	}

	delegation, source := c.Delegate(ctx, prompt)
	c.record(runID, "", storage.TimelineDelegate,
		fmt.Sprintf("Delegating to %s (%s)", strings.Join(delegation.Agents, ", "), source))

	req := agents.Request{UserID: userID, Prompt: prompt, Entities: delegation.Entities}
	outcomes := make([]agentOutcome, len(delegation.Agents))

	var g errgroup.Group
	for i, name := range delegation.Agents {
		taskID := uuid.New().String()
		if err := c.store.SaveAgentTask(storage.AgentTask{
			ID:     taskID,
			RunID:  runID,
			Title:  "Run " + name + " agent",
			Agent:  name,
			Status: storage.AgentTaskPending,
			Order:  i,
		}); err != nil {
			slog.Warn("saving agent task", "run", runID, "agent", name, "error", err)
		}
		g.Go(func() error {
			outcomes[i] = c.callAgent(ctx, runID, taskID, name, req)
			return nil
		})
	}
	g.Wait()

	response, used, errs := format(delegation.Agents, outcomes)
	status := storage.RunCompleted
	errMsg := ""
	if len(used) == 0 {
		status = storage.RunFailed
		errMsg = strings.Join(errs, "; ")
	}
	c.record(runID, "", storage.TimelineFinal,
		fmt.Sprintf("Finished with %d of %d agents", len(used), len(delegation.Agents)))

	if err := c.store.FinishAgentRun(runID, status, used, response, errMsg); err != nil {
		return Outcome{}, fmt.Errorf("finishing agent run: %w", err)
	}
	timeline, err := c.store.ListTimeline(runID)
	if err != nil {
		slog.Warn("listing timeline", "run", runID, "error", err)
	}
	return Outcome{RunID: runID, Status: status, Response: response, AgentsUsed: used, Timeline: timeline}, nil
}

func (c *Coordinator) callAgent(ctx context.Context, runID, taskID, name string, req agents.Request) agentOutcome {
	agent, ok := c.agents[name]
	if !ok {
		err := fmt.Errorf("agent %s is not available", name)
		c.finishTask(runID, taskID, name, agents.Result{}, err)
		return agentOutcome{err: err}
	}

	c.record(runID, name, storage.TimelineAgentStart, name+" started")
	if err := c.store.UpdateAgentTaskStatus(taskID, storage.AgentTaskRunning, ""); err != nil {
		slog.Warn("updating agent task", "task", taskID, "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, agentTimeout)
	defer cancel()
	res, err := agent.Run(ctx, req)
	if err == nil && res.Agent == "" {
		res.Agent = name
	}
	c.finishTask(runID, taskID, name, res, err)
	return agentOutcome{result: res, err: err}
}

func (c *Coordinator) finishTask(runID, taskID, name string, res agents.Result, err error) {
	status, output := storage.AgentTaskDone, res.Content
	if err != nil {
		status, output = storage.AgentTaskFailed, err.Error()
		c.record(runID, name, storage.TimelineAgentError, err.Error())
	} else {
		c.record(runID, name, storage.TimelineAgentResult, fmt.Sprintf("%s returned %d sources", name, len(res.Sources)))
	}
	if uerr := c.store.UpdateAgentTaskStatus(taskID, status, output); uerr != nil {
		slog.Warn("updating agent task", "task", taskID, "error", uerr)
	}
}

// record appends a timeline item. Timeline writes are best effort.
func (c *Coordinator) record(runID, agent, kind, msg string) {
	if err := c.store.AddTimelineItem(storage.TimelineItem{
		ID:      uuid.New().String(),
		RunID:   runID,
		Agent:   agent,
		Kind:    kind,
		Message: msg,
	}); err != nil {
		slog.Warn("recording timeline item", "run", runID, "kind", kind, "error", err)
	}
}

// format renders one section per successful agent in delegation order,
// followed by an Unavailable section listing failures.
func format(order []string, outcomes []agentOutcome) (response string, used, errs []string) {
	var sb strings.Builder
	for i, name := range order {
		o := outcomes[i]
		if o.err != nil {
			errs = append(errs, name+": "+o.err.Error())
			continue
		}
		used = append(used, name)
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, strings.TrimSpace(o.result.Content))
	}
	if len(used) == 0 {
		sb.WriteString("No agent could answer this request.\n\n")
	}
	if len(errs) > 0 {
		sb.WriteString("## Unavailable\n\n")
		for _, e := range errs {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), used, errs
}
