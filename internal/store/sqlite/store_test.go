package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// migrations are idempotent
	s2, err := New(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	s2.Close()
}

func TestStages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateStage(ctx, "Lead")
	if err != nil {
		t.Fatalf("CreateStage failed: %v", err)
	}
	b, _ := s.CreateStage(ctx, "Won")
	if a.Position != 0 || b.Position != 1 {
		t.Errorf("Expected positions 0,1, got %d,%d", a.Position, b.Position)
	}

	if err := s.RenameStage(ctx, a.ID, "Qualified"); err != nil {
		t.Fatalf("RenameStage failed: %v", err)
	}
	if err := s.SetStagePositions(ctx, []string{b.ID, a.ID}); err != nil {
		t.Fatalf("SetStagePositions failed: %v", err)
	}

	stages, err := s.ListStages(ctx)
	if err != nil {
		t.Fatalf("ListStages failed: %v", err)
	}
	if len(stages) != 2 || stages[0].ID != b.ID || stages[1].Name != "Qualified" {
		t.Errorf("Unexpected stage order: %+v", stages)
	}

	if err := s.RenameStage(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.SetStagePositions(ctx, []string{"missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown stage, got %v", err)
	}

	if err := s.DeleteStage(ctx, a.ID); err != nil {
		t.Fatalf("DeleteStage failed: %v", err)
	}
	stages, _ = s.ListStages(ctx)
	if len(stages) != 1 {
		t.Errorf("Expected 1 stage, got %d", len(stages))
	}
}

func TestDealCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead, _ := s.CreateStage(ctx, "Lead")
	won, _ := s.CreateStage(ctx, "Won")

	deal, err := s.CreateDeal(ctx, store.NewDeal{Title: "Acme", Company: "Acme Inc", ValueCents: 5000, StageID: lead.ID})
	if err != nil {
		t.Fatalf("CreateDeal failed: %v", err)
	}
	if deal.ID == "" {
		t.Error("Deal ID should not be empty")
	}

	title := "Acme renewal"
	if err := s.UpdateDeal(ctx, deal.ID, store.DealPatch{Title: &title}); err != nil {
		t.Fatalf("UpdateDeal failed: %v", err)
	}
	if err := s.UpdateDealStage(ctx, deal.ID, won.ID); err != nil {
		t.Fatalf("UpdateDealStage failed: %v", err)
	}

	got, err := s.GetDeal(ctx, deal.ID)
	if err != nil {
		t.Fatalf("GetDeal failed: %v", err)
	}
	if got.Title != title || got.StageID != won.ID || got.Company != "Acme Inc" || got.ValueCents != 5000 {
		t.Errorf("Unexpected deal: %+v", got)
	}

	inLead, _ := s.ListDeals(ctx, lead.ID)
	inWon, _ := s.ListDeals(ctx, won.ID)
	if len(inLead) != 0 || len(inWon) != 1 {
		t.Errorf("Expected deal only in won, got lead=%d won=%d", len(inLead), len(inWon))
	}

	missing, err := s.GetDeal(ctx, "missing")
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) for missing deal, got (%v, %v)", missing, err)
	}
	if err := s.UpdateDealStage(ctx, "missing", won.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSequenceIsSharedAndMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deal := newTestDeal(t, s)

	m1, _ := s.CreateMessage(ctx, store.NewMessage{DealID: deal.ID, Text: "one"})
	t1, _ := s.CreateTask(ctx, store.NewTask{Text: "two", DealID: deal.ID, Assignee: "me"})
	m2, _ := s.CreateMessage(ctx, store.NewMessage{DealID: deal.ID, Text: "three"})

	if !(m1.Seq < t1.Seq && t1.Seq < m2.Seq) {
		t.Errorf("Expected increasing seq, got %d %d %d", m1.Seq, t1.Seq, m2.Seq)
	}
}

func TestConcurrentCreatesGetDistinctSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deal := newTestDeal(t, s)

	const n = 20
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.CreateMessage(ctx, store.NewMessage{DealID: deal.ID, Text: "x"})
			if err != nil {
				t.Errorf("CreateMessage failed: %v", err)
				return
			}
			seqs <- m.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := map[int64]bool{}
	for seq := range seqs {
		if seen[seq] {
			t.Errorf("Duplicate seq %d", seq)
		}
		seen[seq] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d distinct seqs, got %d", n, len(seen))
	}
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deal := newTestDeal(t, s)

	m, err := s.CreateMessage(ctx, store.NewMessage{DealID: deal.ID, Text: "hello", IsMe: true})
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	reply, _ := s.CreateMessage(ctx, store.NewMessage{DealID: deal.ID, Text: "hi", ReplyToID: m.ID})

	text := "hello again"
	edited := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.UpdateMessage(ctx, m.ID, store.MessagePatch{Text: &text, EditedAt: &edited}); err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Text != text || got.EditedAt == nil || !got.EditedAt.Equal(edited) || !got.IsMe {
		t.Errorf("Unexpected message: %+v", got)
	}
	if got.IsQuickTask {
		t.Error("Messages are never quick tasks")
	}
	gotReply, _ := s.GetMessage(ctx, reply.ID)
	if gotReply.ReplyToID != m.ID {
		t.Errorf("Expected reply_to %s, got %s", m.ID, gotReply.ReplyToID)
	}

	if err := s.DeleteMessage(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	msgs, _ := s.ListMessages(ctx, deal.ID)
	if len(msgs) != 1 {
		t.Errorf("Expected 1 message, got %d", len(msgs))
	}
	if err := s.DeleteMessage(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deal := newTestDeal(t, s)

	due := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	task, err := s.CreateTask(ctx, store.NewTask{
		Text:     "Send proposal",
		DealID:   deal.ID,
		Assignee: "me",
		Subtasks: []models.Subtask{{Text: "pricing"}, {Text: "terms"}},
		DueDate:  &due,
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.IsDone || task.InProgress {
		t.Error("New task should be not started")
	}

	subtasks := []models.Subtask{{Text: "pricing", IsDone: true}, {Text: "terms"}}
	done := true
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	comment := "sent"
	err = s.UpdateTask(ctx, task.ID, store.TaskPatch{
		Subtasks:          &subtasks,
		IsDone:            &done,
		CompletedAt:       &now,
		CompletionComment: &comment,
		ClearDueDate:      true,
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !got.IsDone || got.CompletedAt == nil || got.CompletionComment != "sent" {
		t.Errorf("Expected done task with comment, got %+v", got)
	}
	if got.DueDate != nil {
		t.Error("Expected due date cleared")
	}
	if len(got.Subtasks) != 2 || !got.Subtasks[0].IsDone || got.Subtasks[1].IsDone {
		t.Errorf("Unexpected subtasks: %+v", got.Subtasks)
	}

	// empty patch is a no-op, even for a missing task
	if err := s.UpdateTask(ctx, "missing", store.TaskPatch{}); err != nil {
		t.Errorf("Expected nil for empty patch, got %v", err)
	}
	if err := s.UpdateTask(ctx, "missing", store.TaskPatch{IsDone: &done}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if got, _ := s.GetTask(ctx, task.ID); got != nil {
		t.Error("Expected task deleted")
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deal := newTestDeal(t, s)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	s.CreateTask(ctx, store.NewTask{Text: "a", DealID: deal.ID, Assignee: "me", DueDate: &past})
	s.CreateTask(ctx, store.NewTask{Text: "b", DealID: deal.ID, Assignee: "sam", DueDate: &future})
	g, _ := s.CreateTask(ctx, store.NewTask{Text: "global", Assignee: "me"})

	done := true
	s.UpdateTask(ctx, g.ID, store.TaskPatch{IsDone: &done})

	cases := []struct {
		name   string
		filter store.TaskFilter
		want   []string
	}{
		{"all", store.TaskFilter{}, []string{"a", "b", "global"}},
		{"deal", store.TaskFilter{DealID: deal.ID}, []string{"a", "b"}},
		{"global", store.TaskFilter{GlobalOnly: true}, []string{"global"}},
		{"assignee", store.TaskFilter{Assignee: "me"}, []string{"a", "global"}},
		{"open", store.TaskFilter{OpenOnly: true}, []string{"a", "b"}},
		{"due before now", store.TaskFilter{DueBefore: ptr(time.Now().UTC())}, []string{"a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tasks, err := s.ListTasks(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListTasks failed: %v", err)
			}
			var got []string
			for _, task := range tasks {
				got = append(got, task.Text)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("Expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("Expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestDeleteDealCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deal := newTestDeal(t, s)

	s.CreateMessage(ctx, store.NewMessage{DealID: deal.ID, Text: "hi"})
	task, _ := s.CreateTask(ctx, store.NewTask{Text: "call", DealID: deal.ID, Assignee: "me"})
	global, _ := s.CreateTask(ctx, store.NewTask{Text: "global", Assignee: "me"})

	if err := s.DeleteDeal(ctx, deal.ID); err != nil {
		t.Fatalf("DeleteDeal failed: %v", err)
	}
	if msgs, _ := s.ListMessages(ctx, deal.ID); len(msgs) != 0 {
		t.Errorf("Expected messages removed, got %d", len(msgs))
	}
	if got, _ := s.GetTask(ctx, task.ID); got != nil {
		t.Error("Expected deal task removed")
	}
	if got, _ := s.GetTask(ctx, global.ID); got == nil {
		t.Error("Global task should survive")
	}
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetPreference(ctx, "font_size", "14"); err != nil {
		t.Fatalf("SetPreference failed: %v", err)
	}
	if err := s.SetPreference(ctx, "font_size", "16"); err != nil {
		t.Fatalf("SetPreference upsert failed: %v", err)
	}
	prefs, err := s.ListPreferences(ctx)
	if err != nil {
		t.Fatalf("ListPreferences failed: %v", err)
	}
	if prefs["font_size"] != "16" || len(prefs) != 1 {
		t.Errorf("Unexpected preferences: %v", prefs)
	}
}

func TestAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, action := range []string{"task.done", "deal.move"} {
		err := s.WriteAudit(ctx, models.AuditEntry{
			ID:         action,
			Action:     action,
			InputsHash: "abc",
			Outcome:    "success",
			Timestamp:  time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("WriteAudit failed: %v", err)
		}
	}

	entries, err := s.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != "deal.move" {
		t.Errorf("Expected newest first, got %+v", entries)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDeal(t *testing.T, s *Store) *models.Deal {
	t.Helper()
	ctx := context.Background()
	st, err := s.CreateStage(ctx, "Lead")
	if err != nil {
		t.Fatalf("CreateStage failed: %v", err)
	}
	d, err := s.CreateDeal(ctx, store.NewDeal{Title: "Acme", StageID: st.ID})
	if err != nil {
		t.Fatalf("CreateDeal failed: %v", err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }
