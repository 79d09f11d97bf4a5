package storage

import (
	"database/sql"
	"fmt"
)

func (s *Store) SaveGmailAccount(a GmailAccount) error {
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO gmail_accounts (user_id, email, access_token, refresh_token, token_expiry, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = CASE WHEN excluded.email = '' THEN gmail_accounts.email ELSE excluded.email END,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN gmail_accounts.refresh_token ELSE excluded.refresh_token END,
			token_expiry = excluded.token_expiry,
			last_sync_at = CASE WHEN excluded.last_sync_at = '' THEN gmail_accounts.last_sync_at ELSE excluded.last_sync_at END,
			updated_at = excluded.updated_at`,
		a.UserID, a.Email, a.AccessToken, a.RefreshToken, formatTime(a.TokenExpiry), formatTime(a.LastSyncAt),
		formatTime(a.CreatedAt), formatTime(now),
	)
	return err
}

func (s *Store) GetGmailAccount(userID string) (GmailAccount, error) {
	var a GmailAccount
	var expiry, lastSync, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, email, access_token, refresh_token, token_expiry, last_sync_at, created_at, updated_at
		FROM gmail_accounts WHERE user_id = ?`, userID).Scan(
		&a.UserID, &a.Email, &a.AccessToken, &a.RefreshToken, &expiry, &lastSync, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return GmailAccount{}, ErrNotFound
	}
	if err != nil {
		return GmailAccount{}, err
	}
	if a.TokenExpiry, err = parseTime(expiry); err != nil {
		return GmailAccount{}, fmt.Errorf("parsing token_expiry: %w", err)
	}
	if a.LastSyncAt, err = parseTime(lastSync); err != nil {
		return GmailAccount{}, fmt.Errorf("parsing last_sync_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return GmailAccount{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return GmailAccount{}, err
	}
	return a, nil
}

// DeleteGmailAccount removes the account and every message synced for it.
func (s *Store) DeleteGmailAccount(userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := affectedOne(tx.Exec(`DELETE FROM gmail_accounts WHERE user_id = ?`, userID)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM gmail_messages WHERE user_id = ?`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertGmailMessage stores message metadata, keyed by (user, message id).
func (s *Store) UpsertGmailMessage(m GmailMessage) error {
	if m.SyncedAt.IsZero() {
		m.SyncedAt = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO gmail_messages (id, user_id, message_id, thread_id, subject, sender, snippet, received_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, message_id) DO UPDATE SET
			thread_id = excluded.thread_id, subject = excluded.subject, sender = excluded.sender,
			snippet = excluded.snippet, received_at = excluded.received_at, synced_at = excluded.synced_at`,
		m.ID, m.UserID, m.MessageID, m.ThreadID, m.Subject, m.From, m.Snippet,
		formatTime(m.ReceivedAt), formatTime(m.SyncedAt),
	)
	return err
}

func (s *Store) ListGmailMessages(userID string, limit int) ([]GmailMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, message_id, thread_id, subject, sender, snippet, received_at, synced_at
		FROM gmail_messages WHERE user_id = ? ORDER BY received_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []GmailMessage
	for rows.Next() {
		var m GmailMessage
		var receivedAt, syncedAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.MessageID, &m.ThreadID, &m.Subject, &m.From, &m.Snippet, &receivedAt, &syncedAt); err != nil {
			return nil, err
		}
		if m.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}
		if m.SyncedAt, err = parseTime(syncedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
