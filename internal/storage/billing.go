package storage

import (
	"database/sql"
	"fmt"
)

// GetSubscription returns the user's subscription. A user without a row has
// status "none".
func (s *Store) GetSubscription(userID string) (Subscription, error) {
	var sub Subscription
	var periodEnd, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, status, provider, customer_id, external_id, current_period_end, created_at, updated_at
		FROM subscriptions WHERE user_id = ?`, userID).Scan(
		&sub.UserID, &sub.Status, &sub.Provider, &sub.CustomerID, &sub.ExternalID, &periodEnd, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return Subscription{UserID: userID, Status: SubscriptionNone}, nil
	}
	if err != nil {
		return Subscription{}, err
	}
	if sub.CurrentPeriodEnd, err = parseTime(periodEnd); err != nil {
		return Subscription{}, fmt.Errorf("parsing current_period_end: %w", err)
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return Subscription{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Subscription{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sub, nil
}

// UpsertSubscription writes the user's subscription row. Empty provider and
// customer fields do not overwrite previously stored values.
func (s *Store) UpsertSubscription(sub Subscription) error {
	if sub.Status == "" {
		sub.Status = SubscriptionNone
	}
	now := formatTime(s.now())
	_, err := s.db.Exec(`
		INSERT INTO subscriptions (user_id, status, provider, customer_id, external_id, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status = excluded.status,
			provider = CASE WHEN excluded.provider = '' THEN subscriptions.provider ELSE excluded.provider END,
			customer_id = CASE WHEN excluded.customer_id = '' THEN subscriptions.customer_id ELSE excluded.customer_id END,
			external_id = CASE WHEN excluded.external_id = '' THEN subscriptions.external_id ELSE excluded.external_id END,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`,
		sub.UserID, sub.Status, sub.Provider, sub.CustomerID, sub.ExternalID, formatTime(sub.CurrentPeriodEnd), now, now,
	)
	return err
}

// FindSubscriptionByExternalID maps a provider subscription id back to its user.
func (s *Store) FindSubscriptionByExternalID(externalID string) (Subscription, error) {
	var userID string
	err := s.db.QueryRow(`SELECT user_id FROM subscriptions WHERE external_id = ?`, externalID).Scan(&userID)
	if err == sql.ErrNoRows {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	return s.GetSubscription(userID)
}
