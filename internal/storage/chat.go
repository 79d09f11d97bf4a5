package storage

import (
	"database/sql"
	"fmt"
)

// --- Chat threads ---

const threadColumns = `id, user_id, title, model, archived, created_at, updated_at`

func scanThread(row scanner) (ChatThread, error) {
	var t ChatThread
	var archived int
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Model, &archived, &createdAt, &updatedAt); err != nil {
		return ChatThread{}, err
	}
	t.Archived = archived != 0
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatThread{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ChatThread{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

func (s *Store) SaveThread(t ChatThread) error {
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO chat_threads (`+threadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Model, boolToInt(t.Archived), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	return err
}

func (s *Store) GetThread(userID, id string) (ChatThread, error) {
	t, err := scanThread(s.db.QueryRow(`SELECT `+threadColumns+` FROM chat_threads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return ChatThread{}, ErrNotFound
	}
	if err != nil {
		return ChatThread{}, err
	}
	if err := checkOwner(t.UserID, userID); err != nil {
		return ChatThread{}, err
	}
	return t, nil
}

func (s *Store) UpdateThread(t ChatThread) error {
	if _, err := s.GetThread(t.UserID, t.ID); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`UPDATE chat_threads SET title = ?, model = ?, archived = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		t.Title, t.Model, boolToInt(t.Archived), formatTime(s.now()), t.ID, t.UserID))
}

// DeleteThread removes the thread. Its messages are left for the cleanup
// pass, which deletes messages whose thread no longer exists.
func (s *Store) DeleteThread(userID, id string) error {
	if _, err := s.GetThread(userID, id); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`DELETE FROM chat_threads WHERE id = ? AND user_id = ?`, id, userID))
}

func (s *Store) ListThreads(userID string, includeArchived bool) ([]ChatThread, error) {
	q := `SELECT ` + threadColumns + ` FROM chat_threads WHERE user_id = ?`
	if !includeArchived {
		q += ` AND archived = 0`
	}
	q += ` ORDER BY updated_at DESC`
	rows, err := s.db.Query(q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []ChatThread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// --- Chat messages ---

func (s *Store) AddMessage(m ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if _, err := s.db.Exec(`
		INSERT INTO chat_messages (id, thread_id, user_id, role, content, agents_used, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.UserID, m.Role, m.Content, encodeStrings(m.AgentsUsed), m.RunID,
		formatNano(m.CreatedAt),
	); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE chat_threads SET updated_at = ? WHERE id = ?`, formatTime(m.CreatedAt), m.ThreadID)
	return err
}

func (s *Store) ListMessages(threadID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, thread_id, user_id, role, content, agents_used, run_id, created_at
		FROM chat_messages WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var agents, createdAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &agents, &m.RunID, &createdAt); err != nil {
			return nil, err
		}
		m.AgentsUsed = decodeStrings(agents)
		t, err := parseNano(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteOrphanMessages removes messages whose thread no longer exists.
func (s *Store) DeleteOrphanMessages() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM chat_messages WHERE thread_id NOT IN (SELECT id FROM chat_threads)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
