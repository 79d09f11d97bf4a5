package storage

import "time"

// DocumentCounts returns the user's total and archived document counts.
func (s *Store) DocumentCounts(userID string) (total, archived int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(archived), 0) FROM documents WHERE user_id = ?`, userID).Scan(&total, &archived)
	return total, archived, err
}

func (s *Store) TaskCountsByStatus(userID string) (map[string]int, error) {
	return s.countBy(`SELECT status, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY status`, userID)
}

// CountEventsBetween counts events starting in [from, to).
func (s *Store) CountEventsBetween(userID string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE user_id = ? AND starts_at >= ? AND starts_at < ?`,
		userID, formatTime(from), formatTime(to)).Scan(&n)
	return n, err
}

func (s *Store) RunCountsByStatus(userID string, since time.Time) (map[string]int, error) {
	return s.countBy(`SELECT status, COUNT(*) FROM agent_runs WHERE user_id = ? AND created_at >= ? GROUP BY status`,
		userID, formatTime(since))
}

// AgentUsageSince counts how many runs since the cutoff used each agent.
func (s *Store) AgentUsageSince(userID string, since time.Time) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT agents_used FROM agent_runs WHERE user_id = ? AND created_at >= ?`, userID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		for _, a := range decodeStrings(raw) {
			out[a]++
		}
	}
	return out, rows.Err()
}

func (s *Store) ChatCounts(userID string) (threads, messages int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM chat_threads WHERE user_id = ?`, userID).Scan(&threads); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE user_id = ?`, userID).Scan(&messages)
	return threads, messages, err
}

// DailyActivity counts documents and chat messages created per UTC day
// (YYYY-MM-DD) since the cutoff. Days without activity are absent.
func (s *Store) DailyActivity(userID string, since time.Time) (map[string]int, error) {
	cutoff := formatTime(since)
	return s.countBy(`
		SELECT day, COUNT(*) FROM (
			SELECT substr(created_at, 1, 10) AS day FROM documents WHERE user_id = ? AND created_at >= ?
			UNION ALL
			SELECT substr(created_at, 1, 10) AS day FROM chat_messages WHERE user_id = ? AND created_at >= ?
		) GROUP BY day`,
		userID, cutoff, userID, cutoff)
}

func (s *Store) countBy(query string, args ...any) (map[string]int, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
