package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Agent runs ---

const runColumns = `id, user_id, thread_id, prompt, status, agents_used, response, error, created_at, completed_at`

func scanRun(row scanner) (AgentRun, error) {
	var r AgentRun
	var agents, createdAt, completedAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.ThreadID, &r.Prompt, &r.Status, &agents, &r.Response, &r.Error, &createdAt, &completedAt); err != nil {
		return AgentRun{}, err
	}
	r.AgentsUsed = decodeStrings(agents)
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return AgentRun{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.CompletedAt, err = parseTime(completedAt); err != nil {
		return AgentRun{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return r, nil
}

func (s *Store) CreateAgentRun(r AgentRun) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.Exec(`INSERT INTO agent_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ThreadID, r.Prompt, r.Status, encodeStrings(r.AgentsUsed), r.Response, r.Error,
		formatTime(r.CreatedAt), formatTime(r.CompletedAt),
	)
	return err
}

// FinishAgentRun records the terminal state of a run.
func (s *Store) FinishAgentRun(id, status string, agentsUsed []string, response, errMsg string) error {
	return affectedOne(s.db.Exec(`
		UPDATE agent_runs SET status = ?, agents_used = ?, response = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		status, encodeStrings(agentsUsed), response, errMsg, formatTime(s.now()), id,
	))
}

func (s *Store) GetAgentRun(userID, id string) (AgentRun, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM agent_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return AgentRun{}, ErrNotFound
	}
	if err != nil {
		return AgentRun{}, err
	}
	if err := checkOwner(r.UserID, userID); err != nil {
		return AgentRun{}, err
	}
	return r, nil
}

func (s *Store) ListAgentRuns(userID string, limit int) ([]AgentRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM agent_runs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []AgentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AgentRunIDsBefore lists finished runs created before cutoff, across all
// users. Runs still in progress are never returned.
func (s *Store) AgentRunIDsBefore(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM agent_runs WHERE created_at < ? AND status IN (?, ?)`,
		formatTime(cutoff), RunCompleted, RunFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAgentRun removes a run together with its timeline and task rows.
func (s *Store) DeleteAgentRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM agent_timeline WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM agent_tasks WHERE run_id = ?`, id); err != nil {
		return err
	}
	if err := affectedOne(tx.Exec(`DELETE FROM agent_runs WHERE id = ?`, id)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Timeline ---

func (s *Store) AddTimelineItem(item TimelineItem) error {
	if item.At.IsZero() {
		item.At = s.now()
	}
	_, err := s.db.Exec(`INSERT INTO agent_timeline (id, run_id, agent, kind, message, at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.RunID, item.Agent, item.Kind, item.Message, formatNano(item.At),
	)
	return err
}

func (s *Store) ListTimeline(runID string) ([]TimelineItem, error) {
	rows, err := s.db.Query(`SELECT id, run_id, agent, kind, message, at FROM agent_timeline WHERE run_id = ? ORDER BY at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TimelineItem
	for rows.Next() {
		var it TimelineItem
		var at string
		if err := rows.Scan(&it.ID, &it.RunID, &it.Agent, &it.Kind, &it.Message, &at); err != nil {
			return nil, err
		}
		t, err := parseNano(at)
		if err != nil {
			return nil, fmt.Errorf("parsing at: %w", err)
		}
		it.At = t
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Agent tasks ---

const agentTaskColumns = `id, run_id, parent_id, title, agent, status, output, sort_order, created_at, updated_at`

func (s *Store) SaveAgentTask(t AgentTask) error {
	if t.Status == "" {
		t.Status = AgentTaskPending
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO agent_tasks (`+agentTaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.ParentID, t.Title, t.Agent, t.Status, t.Output, t.Order,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	return err
}

func (s *Store) UpdateAgentTaskStatus(id, status, output string) error {
	return affectedOne(s.db.Exec(`UPDATE agent_tasks SET status = ?, output = ?, updated_at = ? WHERE id = ?`,
		status, output, formatTime(s.now()), id))
}

func (s *Store) ListAgentTasks(runID string) ([]AgentTask, error) {
	rows, err := s.db.Query(`SELECT `+agentTaskColumns+` FROM agent_tasks WHERE run_id = ? ORDER BY sort_order ASC, created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []AgentTask
	for rows.Next() {
		var t AgentTask
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.RunID, &t.ParentID, &t.Title, &t.Agent, &t.Status, &t.Output, &t.Order, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Entity contexts ---

const entityColumns = `id, user_id, name, normalized_name, entity_type, summary, sources, researched_at, created_at`

func scanEntity(row scanner) (EntityContext, error) {
	var e EntityContext
	var sources, researchedAt, createdAt string
	if err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.NormalizedName, &e.EntityType, &e.Summary, &sources, &researchedAt, &createdAt); err != nil {
		return EntityContext{}, err
	}
	e.Sources = decodeStrings(sources)
	var err error
	if e.ResearchedAt, err = parseTime(researchedAt); err != nil {
		return EntityContext{}, fmt.Errorf("parsing researched_at: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return EntityContext{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return e, nil
}

// FindEntityContext looks up a cached entity by its normalized name and type.
func (s *Store) FindEntityContext(userID, normalizedName, entityType string) (EntityContext, error) {
	e, err := scanEntity(s.db.QueryRow(`SELECT `+entityColumns+` FROM entity_contexts
		WHERE user_id = ? AND normalized_name = ? AND entity_type = ?`, userID, normalizedName, entityType))
	if err == sql.ErrNoRows {
		return EntityContext{}, ErrNotFound
	}
	return e, err
}

// UpsertEntityContext inserts or refreshes the cached research for an entity.
// The row ID is preserved when the entity already exists.
func (s *Store) UpsertEntityContext(e EntityContext) (EntityContext, error) {
	now := s.now()
	if e.ResearchedAt.IsZero() {
		e.ResearchedAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO entity_contexts (`+entityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, normalized_name, entity_type) DO UPDATE SET
			name = excluded.name, summary = excluded.summary, sources = excluded.sources,
			researched_at = excluded.researched_at`,
		e.ID, e.UserID, e.Name, e.NormalizedName, e.EntityType, e.Summary, encodeStrings(e.Sources),
		formatTime(e.ResearchedAt), formatTime(e.CreatedAt),
	)
	if err != nil {
		return EntityContext{}, err
	}
	return s.FindEntityContext(e.UserID, e.NormalizedName, e.EntityType)
}

func (s *Store) ListEntityContexts(userID string) ([]EntityContext, error) {
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entity_contexts WHERE user_id = ? ORDER BY researched_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityContext
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEntityContext(userID, id string) error {
	var owner string
	err := s.db.QueryRow(`SELECT user_id FROM entity_contexts WHERE id = ?`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := checkOwner(owner, userID); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`DELETE FROM entity_contexts WHERE id = ?`, id))
}
