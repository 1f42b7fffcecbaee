// Package store defines the persistence contract for dealdesk. Concrete
// backends live in the sqlite and postgres subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
)

// ErrNotFound is returned by update and delete calls that match no record.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface for stages, deals, messages, tasks,
// preferences and the audit log.
// Get* methods return (nil, nil) when the record does not exist.
type Store interface {
	// Stages
	ListStages(ctx context.Context) ([]models.Stage, error)
	CreateStage(ctx context.Context, name string) (*models.Stage, error)
	RenameStage(ctx context.Context, id, name string) error
	SetStagePositions(ctx context.Context, orderedIDs []string) error
	DeleteStage(ctx context.Context, id string) error

	// Deals
	CreateDeal(ctx context.Context, d NewDeal) (*models.Deal, error)
	GetDeal(ctx context.Context, id string) (*models.Deal, error)
	ListDeals(ctx context.Context, stageID string) ([]models.Deal, error)
	UpdateDeal(ctx context.Context, id string, p DealPatch) error
	UpdateDealStage(ctx context.Context, dealID, stageID string) error
	DeleteDeal(ctx context.Context, id string) error

	// Messages
	ListMessages(ctx context.Context, dealID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	CreateMessage(ctx context.Context, m NewMessage) (*models.Message, error)
	UpdateMessage(ctx context.Context, id string, p MessagePatch) error
	DeleteMessage(ctx context.Context, id string) error

	// Tasks
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, t NewTask) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, p TaskPatch) error
	DeleteTask(ctx context.Context, id string) error

	// Preferences (opaque key/value)
	ListPreferences(ctx context.Context) (map[string]string, error)
	SetPreference(ctx context.Context, key, value string) error

	// Audit
	WriteAudit(ctx context.Context, e models.AuditEntry) error

	Ping(ctx context.Context) error
	Close() error
}

// NewDeal carries the caller-supplied fields of a deal.
type NewDeal struct {
	Title      string
	Company    string
	ValueCents int64
	StageID    string
}

// DealPatch updates the descriptive fields of a deal. Nil fields are left unchanged.
type DealPatch struct {
	Title      *string
	Company    *string
	ValueCents *int64
}

// NewMessage carries the caller-supplied fields of a message.
type NewMessage struct {
	DealID    string
	Text      string
	IsMe      bool
	ReplyToID string
}

// MessagePatch edits a message body.
type MessagePatch struct {
	Text     *string
	EditedAt *time.Time
}

// NewTask carries the caller-supplied fields of a task.
type NewTask struct {
	Text     string
	DealID   string
	Assignee string
	Subtasks []models.Subtask
	DueDate  *time.Time
}

// TaskFilter selects tasks. The zero value lists every task.
type TaskFilter struct {
	DealID     string     // only tasks of this deal
	GlobalOnly bool       // only tasks without a deal
	Assignee   string     // exact assignee match
	OpenOnly   bool       // exclude done tasks
	DueBefore  *time.Time // only tasks with a due date strictly before this instant
}

// TaskPatch is a partial task update. Nil pointers are left unchanged;
// the Clear* flags write NULL.
type TaskPatch struct {
	Text              *string
	Assignee          *string
	Subtasks          *[]models.Subtask
	IsDone            *bool
	InProgress        *bool
	DueDate           *time.Time
	ClearDueDate      bool
	CompletedAt       *time.Time
	ClearCompletedAt  bool
	CompletionComment *string
}

// Assignment is one column update produced from a patch. A nil Value writes NULL.
type Assignment struct {
	Column string
	Value  any
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return len(p.Assignments()) == 0
}

// Assignments flattens the patch into column updates in a fixed order.
func (p TaskPatch) Assignments() []Assignment {
	var out []Assignment
	if p.Text != nil {
		out = append(out, Assignment{"text", *p.Text})
	}
	if p.Assignee != nil {
		out = append(out, Assignment{"assignee", *p.Assignee})
	}
	if p.Subtasks != nil {
		out = append(out, Assignment{"subtasks", EncodeSubtasks(*p.Subtasks)})
	}
	if p.IsDone != nil {
		out = append(out, Assignment{"is_done", *p.IsDone})
	}
	if p.InProgress != nil {
		out = append(out, Assignment{"in_progress", *p.InProgress})
	}
	switch {
	case p.ClearDueDate:
		out = append(out, Assignment{"due_date", nil})
	case p.DueDate != nil:
		out = append(out, Assignment{"due_date", p.DueDate.UTC()})
	}
	switch {
	case p.ClearCompletedAt:
		out = append(out, Assignment{"completed_at", nil})
	case p.CompletedAt != nil:
		out = append(out, Assignment{"completed_at", p.CompletedAt.UTC()})
	}
	if p.CompletionComment != nil {
		out = append(out, Assignment{"completion_comment", *p.CompletionComment})
	}
	return out
}

// Assignments flattens the deal patch into column updates.
func (p DealPatch) Assignments() []Assignment {
	var out []Assignment
	if p.Title != nil {
		out = append(out, Assignment{"title", *p.Title})
	}
	if p.Company != nil {
		out = append(out, Assignment{"company", *p.Company})
	}
	if p.ValueCents != nil {
		out = append(out, Assignment{"value_cents", *p.ValueCents})
	}
	return out
}

// EncodeSubtasks renders a checklist for storage. A nil slice encodes as "[]".
func EncodeSubtasks(subtasks []models.Subtask) string {
	if subtasks == nil {
		subtasks = []models.Subtask{}
	}
	data, err := json.Marshal(subtasks)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeSubtasks parses a stored checklist. Empty input yields an empty slice.
func DecodeSubtasks(raw string) ([]models.Subtask, error) {
	out := []models.Subtask{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultStages seeds an empty pipeline.
var DefaultStages = []string{"Lead", "Qualified", "Proposal", "Negotiation", "Won", "Lost"}
