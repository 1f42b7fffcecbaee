// Package lifecycle owns the legal state transitions of a task.
//
// Every transition mutates the task in place and returns the patch that
// brings the stored record to the same state. Callers persist the patch
// and then reload the task list; nothing here talks to a store.
package lifecycle

import (
	"strings"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
)

// State derives the lifecycle state from the stored flags.
func State(t *models.Task) models.TaskState {
	switch {
	case t.IsDone:
		return models.TaskStateDone
	case t.InProgress:
		return models.TaskStateInProgress
	default:
		return models.TaskStateNotStarted
	}
}

// ToggleDone flips completion. Completing stamps CompletedAt with now,
// clears InProgress and stores comment; reopening clears both completion fields.
func ToggleDone(t *models.Task, comment string, now time.Time) store.TaskPatch {
	if t.IsDone {
		t.IsDone = false
		t.CompletedAt = nil
		t.CompletionComment = ""
		return store.TaskPatch{
			IsDone:            boolPtr(false),
			ClearCompletedAt:  true,
			CompletionComment: strPtr(""),
		}
	}

	at := now.UTC()
	t.IsDone = true
	t.InProgress = false
	t.CompletedAt = &at
	t.CompletionComment = strings.TrimSpace(comment)
	return store.TaskPatch{
		IsDone:            boolPtr(true),
		InProgress:        boolPtr(false),
		CompletedAt:       &at,
		CompletionComment: strPtr(t.CompletionComment),
	}
}

// SetInProgress flips the in-progress flag. Turning it on forces IsDone
// off; completion history is left alone.
func SetInProgress(t *models.Task) store.TaskPatch {
	t.InProgress = !t.InProgress
	if !t.InProgress {
		return store.TaskPatch{InProgress: boolPtr(false)}
	}
	t.IsDone = false
	return store.TaskPatch{InProgress: boolPtr(true), IsDone: boolPtr(false)}
}

// EditText replaces the title. Blank text is rejected and ok is false.
func EditText(t *models.Task, text string) (p store.TaskPatch, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.TaskPatch{}, false
	}
	t.Text = text
	return store.TaskPatch{Text: strPtr(text)}, true
}

// ToggleSubtask flips one checklist item. Out-of-range indexes are
// rejected and ok is false. The parent's flags never change.
func ToggleSubtask(t *models.Task, index int) (p store.TaskPatch, ok bool) {
	if index < 0 || index >= len(t.Subtasks) {
		return store.TaskPatch{}, false
	}
	subtasks := make([]models.Subtask, len(t.Subtasks))
	copy(subtasks, t.Subtasks)
	subtasks[index].IsDone = !subtasks[index].IsDone
	t.Subtasks = subtasks
	return store.TaskPatch{Subtasks: &subtasks}, true
}

// SetDueDate sets the due date, or clears it when due is nil.
func SetDueDate(t *models.Task, due *time.Time) store.TaskPatch {
	if due == nil {
		t.DueDate = nil
		return store.TaskPatch{ClearDueDate: true}
	}
	d := due.UTC()
	t.DueDate = &d
	return store.TaskPatch{DueDate: &d}
}

// DisplaySubtasks returns the checklist as it should be rendered: every
// item shows as done while the parent is done. The stored items are not touched.
func DisplaySubtasks(t *models.Task) []models.Subtask {
	out := make([]models.Subtask, len(t.Subtasks))
	copy(out, t.Subtasks)
	if t.IsDone {
		for i := range out {
			out[i].IsDone = true
		}
	}
	return out
}

// IsOverdue reports whether an open task's due date has passed.
func IsOverdue(t *models.Task, now time.Time) bool {
	return !t.IsDone && t.DueDate != nil && t.DueDate.Before(now)
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
