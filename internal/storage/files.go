package storage

import (
	"database/sql"
	"fmt"
)

const fileColumns = `id, user_id, name, mime_type, size, path, status, document_id, error, created_at, updated_at`

func scanFile(row scanner) (FileRecord, error) {
	var f FileRecord
	var createdAt, updatedAt string
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.MimeType, &f.Size, &f.Path, &f.Status, &f.DocumentID, &f.Error, &createdAt, &updatedAt); err != nil {
		return FileRecord{}, err
	}
	var err error
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return FileRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return FileRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return f, nil
}

func (s *Store) SaveFile(f FileRecord) error {
	if f.Status == "" {
		f.Status = FileUploaded
	}
	now := s.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, f.MimeType, f.Size, f.Path, f.Status, f.DocumentID, f.Error,
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	return err
}

// GetFile returns a file by id without an ownership check; the worker uses it.
func (s *Store) GetFile(id string) (FileRecord, error) {
	f, err := scanFile(s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return FileRecord{}, ErrNotFound
	}
	return f, err
}

func (s *Store) GetUserFile(userID, id string) (FileRecord, error) {
	f, err := s.GetFile(id)
	if err != nil {
		return FileRecord{}, err
	}
	if err := checkOwner(f.UserID, userID); err != nil {
		return FileRecord{}, err
	}
	return f, nil
}

// SetFileStatus moves a file through the conversion states.
func (s *Store) SetFileStatus(id, status, documentID, errMsg string) error {
	return affectedOne(s.db.Exec(`UPDATE files SET status = ?, document_id = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, documentID, errMsg, formatTime(s.now()), id))
}

func (s *Store) ListFiles(userID string) ([]FileRecord, error) {
	rows, err := s.db.Query(`SELECT `+fileColumns+` FROM files WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
