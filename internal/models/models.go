// Package models defines the core domain types for dealdesk.
package models

import "time"

// SelfAssignee is the assignee label used when a task belongs to the operator.
const SelfAssignee = "me"

// TaskState is the derived lifecycle state of a task.
type TaskState string

const (
	TaskStateNotStarted TaskState = "not_started"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateDone       TaskState = "done"
)

// Stage is a named, user-ordered pipeline bucket.
type Stage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Deal is the central pipeline record. It owns messages and tasks via DealID.
type Deal struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Company    string    `json:"company,omitempty"`
	ValueCents int64     `json:"value_cents"`
	StageID    string    `json:"stage_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Subtask is an embedded checklist item. Order within the parent is display order.
type Subtask struct {
	Text   string `json:"text"`
	IsDone bool   `json:"is_done"`
}

// Task is a unit of follow-up work, optionally attached to a deal.
type Task struct {
	ID                string     `json:"id"`
	Seq               int64      `json:"seq"`
	Text              string     `json:"text"`
	DealID            string     `json:"deal_id,omitempty"` // empty = global task
	Assignee          string     `json:"assignee"`
	Subtasks          []Subtask  `json:"subtasks"`
	IsDone            bool       `json:"is_done"`
	InProgress        bool       `json:"in_progress"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletionComment string     `json:"completion_comment,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsGlobal reports whether the task is not tied to any deal.
func (t *Task) IsGlobal() bool {
	return t.DealID == ""
}

// Message is a free-text entry in a deal's conversation.
type Message struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	DealID      string     `json:"deal_id"`
	Text        string     `json:"text"`
	IsMe        bool       `json:"is_me"`
	ReplyToID   string     `json:"reply_to_id,omitempty"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	IsQuickTask bool       `json:"is_quick_task"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Preferences holds per-user display settings.
type Preferences struct {
	FontSize   int             `json:"font_size"`
	Palette    string          `json:"palette"`
	PanelWidth int             `json:"panel_width"`
	Collapsed  map[string]bool `json:"collapsed,omitempty"` // stage id -> collapsed
}

// AuditEntry records a state-mutating action.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	EntityID   string    `json:"entity_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
