// Package analytics aggregates per-user workspace activity for the
// dashboard summary.
package analytics

import (
	"fmt"
	"time"
)

// DefaultWindow is the summary window when none is requested.
const DefaultWindow = 30 * 24 * time.Hour

// Store is the subset of storage.Store analytics reads from.
type Store interface {
	DocumentCounts(userID string) (total, archived int, err error)
	TaskCountsByStatus(userID string) (map[string]int, error)
	CountEventsBetween(userID string, from, to time.Time) (int, error)
	RunCountsByStatus(userID string, since time.Time) (map[string]int, error)
	AgentUsageSince(userID string, since time.Time) (map[string]int, error)
	ChatCounts(userID string) (threads, messages int, err error)
	DailyActivity(userID string, since time.Time) (map[string]int, error)
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Summary struct {
	WindowDays        int            `json:"windowDays"`
	Documents         int            `json:"documents"`
	ArchivedDocuments int            `json:"archivedDocuments"`
	TasksByStatus     map[string]int `json:"tasksByStatus"`
	UpcomingEvents    int            `json:"upcomingEvents"`
	RunsByStatus      map[string]int `json:"runsByStatus"`
	AgentUsage        map[string]int `json:"agentUsage"`
	ChatThreads       int            `json:"chatThreads"`
	ChatMessages      int            `json:"chatMessages"`
	Daily             []DayCount     `json:"daily"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock overrides the time source (for testing).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Summary aggregates the user's activity. The window is rounded up to whole
// UTC days ending today; the daily series has one entry per day, oldest first,
// including days without activity.
func (s *Service) Summary(userID string, window time.Duration) (Summary, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	days := int((window + 24*time.Hour - 1) / (24 * time.Hour))
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	sum := Summary{WindowDays: days}
	var err error
	if sum.Documents, sum.ArchivedDocuments, err = s.store.DocumentCounts(userID); err != nil {
		return Summary{}, fmt.Errorf("counting documents: %w", err)
	}
	if sum.TasksByStatus, err = s.store.TaskCountsByStatus(userID); err != nil {
		return Summary{}, fmt.Errorf("counting tasks: %w", err)
	}
	if sum.UpcomingEvents, err = s.store.CountEventsBetween(userID, now, now.Add(window)); err != nil {
		return Summary{}, fmt.Errorf("counting events: %w", err)
	}
	if sum.RunsByStatus, err = s.store.RunCountsByStatus(userID, since); err != nil {
		return Summary{}, fmt.Errorf("counting runs: %w", err)
	}
	if sum.AgentUsage, err = s.store.AgentUsageSince(userID, since); err != nil {
		return Summary{}, fmt.Errorf("counting agent usage: %w", err)
	}
	if sum.ChatThreads, sum.ChatMessages, err = s.store.ChatCounts(userID); err != nil {
		return Summary{}, fmt.Errorf("counting chat: %w", err)
	}
	activity, err := s.store.DailyActivity(userID, since)
	if err != nil {
		return Summary{}, fmt.Errorf("daily activity: %w", err)
	}
	sum.Daily = make([]DayCount, days)
	for i := range days {
		d := since.AddDate(0, 0, i).Format("2006-01-02")
		sum.Daily[i] = DayCount{Date: d, Count: activity[d]}
	}
	return sum, nil
}
