package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// --- Documents ---

const documentColumns = `id, user_id, title, content, parent_id, archived, file_id, created_at, updated_at`

func scanDocument(row scanner) (Document, error) {
	var d Document
	var archived int
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Content, &d.ParentID, &archived, &d.FileID, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	d.Archived = archived != 0
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

func (s *Store) SaveDocument(d Document) error {
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Title, d.Content, d.ParentID, boolToInt(d.Archived), d.FileID,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return err
}

// GetDocument returns the document if it belongs to userID.
func (s *Store) GetDocument(userID, id string) (Document, error) {
	d, err := scanDocument(s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if err := checkOwner(d.UserID, userID); err != nil {
		return Document{}, err
	}
	return d, nil
}

// UpdateDocument overwrites title, content, parent and archived flag.
func (s *Store) UpdateDocument(d Document) error {
	if _, err := s.GetDocument(d.UserID, d.ID); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`
		UPDATE documents SET title = ?, content = ?, parent_id = ?, archived = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		d.Title, d.Content, d.ParentID, boolToInt(d.Archived), formatTime(s.now()), d.ID, d.UserID,
	))
}

func (s *Store) DeleteDocument(userID, id string) error {
	if _, err := s.GetDocument(userID, id); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`DELETE FROM documents WHERE id = ? AND user_id = ?`, id, userID))
}

// ListDocuments returns the user's documents, most recently updated first.
func (s *Store) ListDocuments(userID string, includeArchived bool, limit, offset int) ([]Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = ?`
	if !includeArchived {
		q += ` AND archived = 0`
	}
	q += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Query(q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SearchDocuments matches any of the terms against title or content.
// Results are ordered by the number of matching terms, then recency.
func (s *Store) SearchDocuments(userID string, terms []string, limit int) ([]Document, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	var hits, where []string
	var hitArgs, whereArgs []any
	for _, t := range terms {
		pattern := "%" + strings.ToLower(t) + "%"
		hits = append(hits, `(CASE WHEN lower(title) LIKE ? OR lower(content) LIKE ? THEN 1 ELSE 0 END)`)
		where = append(where, `lower(title) LIKE ? OR lower(content) LIKE ?`)
		hitArgs = append(hitArgs, pattern, pattern)
		whereArgs = append(whereArgs, pattern, pattern)
	}
	q := `SELECT ` + documentColumns + ` FROM documents
		WHERE user_id = ? AND archived = 0 AND (` + strings.Join(where, " OR ") + `)
		ORDER BY (` + strings.Join(hits, " + ") + `) DESC, updated_at DESC LIMIT ?`

	args := make([]any, 0, len(whereArgs)+len(hitArgs)+2)
	args = append(args, userID)
	args = append(args, whereArgs...)
	args = append(args, hitArgs...)
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, user_id, document_id, title, description, status, priority, due_at, created_at, updated_at`

func scanTask(row scanner) (Task, error) {
	var t Task
	var dueAt, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.DocumentID, &t.Title, &t.Description, &t.Status, &t.Priority, &dueAt, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	var err error
	if t.DueAt, err = parseTime(dueAt); err != nil {
		return Task{}, fmt.Errorf("parsing due_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

func (s *Store) SaveTask(t Task) error {
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if !ValidTaskStatus(t.Status) {
		return fmt.Errorf("invalid task status %q", t.Status)
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.DocumentID, t.Title, t.Description, t.Status, t.Priority,
		formatTime(t.DueAt), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	return err
}

func (s *Store) GetTask(userID, id string) (Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if err := checkOwner(t.UserID, userID); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(t Task) error {
	if !ValidTaskStatus(t.Status) {
		return fmt.Errorf("invalid task status %q", t.Status)
	}
	if _, err := s.GetTask(t.UserID, t.ID); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`
		UPDATE tasks SET document_id = ?, title = ?, description = ?, status = ?, priority = ?, due_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		t.DocumentID, t.Title, t.Description, t.Status, t.Priority, formatTime(t.DueAt), formatTime(s.now()), t.ID, t.UserID,
	))
}

func (s *Store) DeleteTask(userID, id string) error {
	if _, err := s.GetTask(userID, id); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID))
}

// ListTasks returns the user's tasks, optionally filtered by status.
func (s *Store) ListTasks(userID, status string) ([]Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY priority DESC, created_at ASC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Events ---

const eventColumns = `id, user_id, title, description, location, starts_at, ends_at, created_at, updated_at`

func scanEvent(row scanner) (Event, error) {
	var e Event
	var startsAt, endsAt, createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.Description, &e.Location, &startsAt, &endsAt, &createdAt, &updatedAt); err != nil {
		return Event{}, err
	}
	var err error
	if e.StartsAt, err = parseTime(startsAt); err != nil {
		return Event{}, fmt.Errorf("parsing starts_at: %w", err)
	}
	if e.EndsAt, err = parseTime(endsAt); err != nil {
		return Event{}, fmt.Errorf("parsing ends_at: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Event{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Event{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

func (s *Store) SaveEvent(e Event) error {
	if e.StartsAt.IsZero() {
		return fmt.Errorf("event start time is required")
	}
	if !e.EndsAt.IsZero() && e.EndsAt.Before(e.StartsAt) {
		return fmt.Errorf("event ends before it starts")
	}
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, e.Description, e.Location,
		formatTime(e.StartsAt), formatTime(e.EndsAt), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	return err
}

func (s *Store) GetEvent(userID, id string) (Event, error) {
	e, err := scanEvent(s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, err
	}
	if err := checkOwner(e.UserID, userID); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *Store) UpdateEvent(e Event) error {
	if !e.EndsAt.IsZero() && e.EndsAt.Before(e.StartsAt) {
		return fmt.Errorf("event ends before it starts")
	}
	if _, err := s.GetEvent(e.UserID, e.ID); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`
		UPDATE events SET title = ?, description = ?, location = ?, starts_at = ?, ends_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		e.Title, e.Description, e.Location, formatTime(e.StartsAt), formatTime(e.EndsAt), formatTime(s.now()), e.ID, e.UserID,
	))
}

func (s *Store) DeleteEvent(userID, id string) error {
	if _, err := s.GetEvent(userID, id); err != nil {
		return err
	}
	return affectedOne(s.db.Exec(`DELETE FROM events WHERE id = ? AND user_id = ?`, id, userID))
}

// ListEvents returns events starting in [from, to). Zero bounds are open.
func (s *Store) ListEvents(userID string, from, to time.Time) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ?`
	args := []any{userID}
	if !from.IsZero() {
		q += ` AND starts_at >= ?`
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		q += ` AND starts_at < ?`
		args = append(args, formatTime(to))
	}
	q += ` ORDER BY starts_at ASC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
