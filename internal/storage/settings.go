package storage

// GetSettings returns every stored setting for the user as a key/value map.
func (s *Store) GetSettings(userID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SetSetting(userID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, formatTime(s.now()),
	)
	return err
}

func (s *Store) DeleteSetting(userID, key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE user_id = ? AND key = ?`, userID, key)
	return err
}
