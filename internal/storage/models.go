package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when a record exists but belongs to another user.
var ErrForbidden = errors.New("forbidden")

// Task statuses.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskBlocked    = "blocked"
)

// ValidTaskStatus reports whether s is one of the task status enum values.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// Subscription statuses.
const (
	SubscriptionNone     = "none"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Agent run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Timeline item kinds.
const (
	TimelineDelegate    = "delegate"
	TimelineAgentStart  = "agent_start"
	TimelineAgentResult = "agent_result"
	TimelineAgentError  = "agent_error"
	TimelineFinal       = "final"
)

// Agent task statuses.
const (
	AgentTaskPending = "pending"
	AgentTaskRunning = "running"
	AgentTaskDone    = "done"
	AgentTaskFailed  = "failed"
)

// File statuses.
const (
	FileUploaded   = "uploaded"
	FileConverting = "converting"
	FileConverted  = "converted"
	FileFailed     = "failed"
)

type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ParentID  string    `json:"parentId,omitempty"`
	Archived  bool      `json:"archived"`
	FileID    string    `json:"fileId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DocumentID  string    `json:"documentId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	DueAt       time.Time `json:"dueAt,omitzero"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt,omitzero"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ChatThread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId"`
	UserID     string    `json:"userId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AgentsUsed []string  `json:"agentsUsed"`
	RunID      string    `json:"runId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AgentRun is one pass of the coordinator over a user prompt.
type AgentRun struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ThreadID    string    `json:"threadId,omitempty"`
	Prompt      string    `json:"prompt"`
	Status      string    `json:"status"`
	AgentsUsed  []string  `json:"agentsUsed"`
	Response    string    `json:"response"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

type TimelineItem struct {
	ID      string    `json:"id"`
	RunID   string    `json:"runId"`
	Agent   string    `json:"agent,omitempty"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type AgentTask struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	ParentID  string    `json:"parentId,omitempty"`
	Title     string    `json:"title"`
	Agent     string    `json:"agent,omitempty"`
	Status    string    `json:"status"`
	Output    string    `json:"output,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntityContext is a cached research summary for a company or person.
type EntityContext struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalizedName"`
	EntityType     string    `json:"entityType"`
	Summary        string    `json:"summary"`
	Sources        []string  `json:"sources"`
	ResearchedAt   time.Time `json:"researchedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Subscription struct {
	UserID           string    `json:"userId"`
	Status           string    `json:"status"`
	Provider         string    `json:"provider,omitempty"`
	CustomerID       string    `json:"customerId,omitempty"`
	ExternalID       string    `json:"externalId,omitempty"`
	CurrentPeriodEnd time.Time `json:"currentPeriodEnd,omitzero"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
}

type FileRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Path       string    `json:"-"`
	Status     string    `json:"status"`
	DocumentID string    `json:"documentId,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type GmailAccount struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	LastSyncAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type GmailMessage struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	MessageID  string    `json:"messageId"`
	ThreadID   string    `json:"threadId"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"receivedAt,omitzero"`
	SyncedAt   time.Time `json:"syncedAt"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
