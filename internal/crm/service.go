// Package crm provides the HTTP API and service layer for dealdesk.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/dealdesk/internal/audit"
	"github.com/fentz26/dealdesk/internal/command"
	"github.com/fentz26/dealdesk/internal/events"
	"github.com/fentz26/dealdesk/internal/inflight"
	"github.com/fentz26/dealdesk/internal/lifecycle"
	"github.com/fentz26/dealdesk/internal/metrics"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/prefs"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/fentz26/dealdesk/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	Marker          rune
	DefaultAssignee string
	Logger          *zap.Logger
	Hub             *events.Hub
	Metrics         *metrics.Metrics
}

// Service provides the dealdesk business logic.
type Service struct {
	store    store.Store
	audit    *audit.Writer
	prefs    *prefs.Manager
	hub      *events.Hub
	metrics  *metrics.Metrics
	guard    *inflight.Guard
	parser   command.Parser
	assignee string
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new service over s.
func NewService(s store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(opts.Metrics)
	}
	if opts.DefaultAssignee == "" {
		opts.DefaultAssignee = models.SelfAssignee
	}
	return &Service{
		store:    s,
		audit:    audit.NewWriter(s),
		prefs:    prefs.NewManager(s),
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		guard:    inflight.New(),
		parser:   command.New(opts.Marker),
		assignee: opts.DefaultAssignee,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Hub returns the event hub the service publishes to.
func (s *Service) Hub() *events.Hub { return s.hub }

// Metrics returns the service's collectors.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// mutate runs fn with the entity's in-flight slot held and records the
// outcome. ErrNoop results are neither audited nor logged.
func (s *Service) mutate(ctx context.Context, action, key, entityID string, inputs any, fn func() error) error {
	err := s.guard.Do(key, func() error {
		s.metrics.InFlight.Set(float64(s.guard.Len()))
		return fn()
	})
	s.metrics.InFlight.Set(float64(s.guard.Len()))

	switch {
	case errors.Is(err, ErrBusy):
		s.metrics.BusyRejections.Inc()
		s.logger.Debug("mutation rejected", zap.String("action", action), zap.String("entity_id", entityID))
		return err
	case errors.Is(err, ErrNoop):
		return err
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalid), errors.Is(err, ErrStageNotEmpty):
		s.record(ctx, action, inputs, audit.OutcomeFailure, entityID, err.Error())
		return err
	case err != nil:
		s.metrics.StoreErrors.WithLabelValues(action).Inc()
		s.logger.Error("mutation failed", zap.String("action", action), zap.String("entity_id", entityID), zap.Error(err))
		s.record(ctx, action, inputs, audit.OutcomeFailure, entityID, err.Error())
		return err
	}
	s.logger.Info(action, zap.String("entity_id", entityID))
	s.record(ctx, action, inputs, audit.OutcomeSuccess, entityID, "")
	return nil
}

func (s *Service) record(ctx context.Context, action string, inputs any, outcome, entityID, details string) {
	if _, err := s.audit.Record(ctx, action, inputs, outcome, entityID, details); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func dealKey(id string) string    { return "deal:" + id }
func stageKey(id string) string   { return "stage:" + id }
func messageKey(id string) string { return "message:" + id }
func taskKey(id string) string    { return "task:" + id }

const pipelineKey = "pipeline"

// --- Deal Operations ---

// DealInput carries the fields of a new deal. An empty StageID selects the
// first stage of the pipeline.
type DealInput struct {
	Title      string `json:"title"`
	Company    string `json:"company"`
	ValueCents int64  `json:"value_cents"`
	StageID    string `json:"stage_id"`
}

// CreateDeal creates a deal.
func (s *Service) CreateDeal(ctx context.Context, in DealInput) (*models.Deal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrNoop
	}
	var deal *models.Deal
	err := s.mutate(ctx, "deal.create", pipelineKey, "", in, func() error {
		stageID, err := s.resolveStage(ctx, in.StageID)
		if err != nil {
			return err
		}
		deal, err = s.store.CreateDeal(ctx, store.NewDeal{
			Title:      title,
			Company:    strings.TrimSpace(in.Company),
			ValueCents: in.ValueCents,
			StageID:    stageID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeDealChanged, deal.ID, deal.ID)
	return deal, nil
}

func (s *Service) resolveStage(ctx context.Context, id string) (string, error) {
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return "", err
	}
	if len(stages) == 0 {
		return "", fmt.Errorf("%w: pipeline has no stages", ErrInvalid)
	}
	if id == "" {
		return stages[0].ID, nil
	}
	for _, st := range stages {
		if st.ID == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("stage %s: %w", id, ErrNotFound)
}

// GetDeal retrieves a deal by ID.
func (s *Service) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	d, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return d, nil
}

// ListDeals returns deals, optionally limited to one stage.
func (s *Service) ListDeals(ctx context.Context, stageID string) ([]models.Deal, error) {
	return s.store.ListDeals(ctx, stageID)
}

// UpdateDeal edits a deal's descriptive fields.
func (s *Service) UpdateDeal(ctx context.Context, id string, p store.DealPatch) (*models.Deal, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, ErrNoop
		}
		p.Title = &title
	}
	if len(p.Assignments()) == 0 {
		return nil, ErrNoop
	}
	var deal *models.Deal
	err := s.mutate(ctx, "deal.update", dealKey(id), id, p, func() error {
		if err := s.store.UpdateDeal(ctx, id, p); err != nil {
			return mapNotFound(err, "deal", id)
		}
		var err error
		deal, err = s.store.GetDeal(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeDealChanged, id, id)
	return deal, nil
}

// DeleteDeal removes a deal with its messages and tasks.
func (s *Service) DeleteDeal(ctx context.Context, id string) error {
	err := s.mutate(ctx, "deal.delete", dealKey(id), id, map[string]string{"deal_id": id}, func() error {
		return mapNotFound(s.store.DeleteDeal(ctx, id), "deal", id)
	})
	if err != nil {
		return err
	}
	s.hub.Publish(events.TypeDealDeleted, id, id)
	return nil
}

// MoveDeal assigns a deal to a stage. Any stage may follow any other and
// only the stage changes.
func (s *Service) MoveDeal(ctx context.Context, dealID, stageID string) (*models.Deal, error) {
	var deal *models.Deal
	inputs := map[string]string{"deal_id": dealID, "stage_id": stageID}
	err := s.mutate(ctx, "deal.move", dealKey(dealID), dealID, inputs, func() error {
		if stageID == "" {
			return ErrNoop
		}
		if _, err := s.resolveStage(ctx, stageID); err != nil {
			return err
		}
		if err := s.store.UpdateDealStage(ctx, dealID, stageID); err != nil {
			return mapNotFound(err, "deal", dealID)
		}
		var err error
		deal, err = s.store.GetDeal(ctx, dealID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DealMoves.Inc()
	s.hub.Publish(events.TypeDealMoved, dealID, stageID)
	return deal, nil
}

// --- Stage Operations ---

// ListStages returns the pipeline in order.
func (s *Service) ListStages(ctx context.Context) ([]models.Stage, error) {
	return s.store.ListStages(ctx)
}

// EnsureStages seeds the pipeline with names when it has no stages yet.
func (s *Service) EnsureStages(ctx context.Context, names []string) error {
	err := s.mutate(ctx, "stage.seed", pipelineKey, "", names, func() error {
		existing, err := s.store.ListStages(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrNoop
		}
		for _, name := range names {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			if _, err := s.store.CreateStage(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrNoop) {
		return nil
	}
	return err
}

// CreateStage appends a stage.
func (s *Service) CreateStage(ctx context.Context, name string) (*models.Stage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoop
	}
	var st *models.Stage
	err := s.mutate(ctx, "stage.create", pipelineKey, "", map[string]string{"name": name}, func() error {
		var err error
		st, err = s.store.CreateStage(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeStageChanged, "", st.ID)
	return st, nil
}

// RenameStage changes a stage's name.
func (s *Service) RenameStage(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNoop
	}
	err := s.mutate(ctx, "stage.rename", stageKey(id), id, map[string]string{"name": name}, func() error {
		return mapNotFound(s.store.RenameStage(ctx, id, name), "stage", id)
	})
	if err != nil {
		return err
	}
	s.hub.Publish(events.TypeStageChanged, "", id)
	return nil
}

// ReorderStages sets the pipeline order. ids must list every stage once.
func (s *Service) ReorderStages(ctx context.Context, ids []string) ([]models.Stage, error) {
	var out []models.Stage
	err := s.mutate(ctx, "stage.reorder", pipelineKey, "", ids, func() error {
		current, err := s.store.ListStages(ctx)
		if err != nil {
			return err
		}
		if !samePermutation(current, ids) {
			return fmt.Errorf("%w: reorder must list every stage exactly once", ErrInvalid)
		}
		if err := s.store.SetStagePositions(ctx, ids); err != nil {
			return err
		}
		out, err = s.store.ListStages(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeStageChanged, "", "")
	return out, nil
}

func samePermutation(stages []models.Stage, ids []string) bool {
	if len(stages) != len(ids) {
		return false
	}
	want := make(map[string]bool, len(stages))
	for _, st := range stages {
		want[st.ID] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

// DeleteStage removes an empty stage.
func (s *Service) DeleteStage(ctx context.Context, id string) error {
	err := s.mutate(ctx, "stage.delete", pipelineKey, id, map[string]string{"stage_id": id}, func() error {
		deals, err := s.store.ListDeals(ctx, id)
		if err != nil {
			return err
		}
		if len(deals) > 0 {
			return ErrStageNotEmpty
		}
		return mapNotFound(s.store.DeleteStage(ctx, id), "stage", id)
	})
	if err != nil {
		return err
	}
	s.hub.Publish(events.TypeStageChanged, "", id)
	return nil
}

// --- Input ---

// SubmitResult is what one input submission produced.
type SubmitResult struct {
	Kind    command.Kind    `json:"kind"`
	Message *models.Message `json:"message,omitempty"`
	Task    *models.Task    `json:"task,omitempty"`
}

// Submit turns one input block typed into a deal's activity panel into a
// message or a task. Blank input, a bare marker and a missing deal id
// return ErrNoop.
func (s *Service) Submit(ctx context.Context, dealID, raw string) (*SubmitResult, error) {
	cmd, ok := s.parser.Parse(raw)
	if !ok || strings.TrimSpace(dealID) == "" {
		return nil, ErrNoop
	}

	res := &SubmitResult{Kind: cmd.Kind}
	err := s.mutate(ctx, "input.submit", "input:"+dealID, dealID, map[string]string{"deal_id": dealID, "raw": raw}, func() error {
		if _, err := s.GetDeal(ctx, dealID); err != nil {
			return err
		}
		var err error
		switch cmd.Kind {
		case command.KindTask:
			subtasks := make([]models.Subtask, 0, len(cmd.Subtasks))
			for _, text := range cmd.Subtasks {
				subtasks = append(subtasks, models.Subtask{Text: text})
			}
			res.Task, err = s.store.CreateTask(ctx, store.NewTask{
				Text:     cmd.Text,
				DealID:   dealID,
				Assignee: s.assignee,
				Subtasks: subtasks,
			})
		default:
			res.Message, err = s.store.CreateMessage(ctx, store.NewMessage{
				DealID: dealID,
				Text:   cmd.Text,
				IsMe:   true,
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Submissions.WithLabelValues(string(cmd.Kind)).Inc()
	if res.Task != nil {
		s.hub.Publish(events.TypeTask, dealID, res.Task.ID)
	} else {
		s.hub.Publish(events.TypeMessage, dealID, res.Message.ID)
	}
	return res, nil
}

// --- Message Operations ---

// ListMessages returns a deal's messages in creation order.
func (s *Service) ListMessages(ctx context.Context, dealID string) ([]models.Message, error) {
	return s.store.ListMessages(ctx, dealID)
}

// SendMessage posts a message to a deal without command parsing.
func (s *Service) SendMessage(ctx context.Context, dealID, text string, isMe bool) (*models.Message, error) {
	return s.createMessage(ctx, "message.send", store.NewMessage{DealID: dealID, Text: text, IsMe: isMe})
}

// ReplyTo posts a message to dealID quoting an earlier one. The parent must
// belong to the same deal.
func (s *Service) ReplyTo(ctx context.Context, dealID, messageID, text string) (*models.Message, error) {
	parent, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if parent.DealID != dealID {
		return nil, fmt.Errorf("message %s belongs to another deal: %w", messageID, ErrInvalid)
	}
	return s.createMessage(ctx, "message.reply", store.NewMessage{
		DealID:    dealID,
		Text:      text,
		IsMe:      true,
		ReplyToID: parent.ID,
	})
}

func (s *Service) createMessage(ctx context.Context, action string, nm store.NewMessage) (*models.Message, error) {
	nm.Text = strings.TrimSpace(nm.Text)
	if nm.Text == "" || strings.TrimSpace(nm.DealID) == "" {
		return nil, ErrNoop
	}
	var msg *models.Message
	err := s.mutate(ctx, action, "input:"+nm.DealID, nm.DealID, nm, func() error {
		if _, err := s.GetDeal(ctx, nm.DealID); err != nil {
			return err
		}
		var err error
		msg, err = s.store.CreateMessage(ctx, nm)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeMessage, msg.DealID, msg.ID)
	return msg, nil
}

// EditMessage replaces a message body and stamps edited_at.
func (s *Service) EditMessage(ctx context.Context, id, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoop
	}
	var msg *models.Message
	err := s.mutate(ctx, "message.edit", messageKey(id), id, map[string]string{"text": text}, func() error {
		cur, err := s.store.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil || cur.Text == text {
			return ErrNoop
		}
		editedAt := s.now()
		if err := s.store.UpdateMessage(ctx, id, store.MessagePatch{Text: &text, EditedAt: &editedAt}); err != nil {
			return mapNotFound(err, "message", id)
		}
		msg, err = s.store.GetMessage(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeMessage, msg.DealID, id)
	return msg, nil
}

// DeleteMessage removes a message.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	var dealID string
	err := s.mutate(ctx, "message.delete", messageKey(id), id, map[string]string{"message_id": id}, func() error {
		cur, err := s.store.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoop
		}
		dealID = cur.DealID
		return mapNotFound(s.store.DeleteMessage(ctx, id), "message", id)
	})
	if err != nil {
		return err
	}
	s.hub.Publish(events.TypeMessage, dealID, id)
	return nil
}

// --- Task Operations ---

// TaskInput carries the fields of a task created from the task form.
// An empty DealID creates a global task.
type TaskInput struct {
	Text     string     `json:"text"`
	DealID   string     `json:"deal_id,omitempty"`
	Assignee string     `json:"assignee,omitempty"`
	Subtasks []string   `json:"subtasks,omitempty"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

// AddTask creates a task.
func (s *Service) AddTask(ctx context.Context, in TaskInput) (*models.Task, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrNoop
	}
	assignee := strings.TrimSpace(in.Assignee)
	if assignee == "" {
		assignee = s.assignee
	}
	subtasks := []models.Subtask{}
	for _, st := range in.Subtasks {
		if st = strings.TrimSpace(st); st != "" {
			subtasks = append(subtasks, models.Subtask{Text: st})
		}
	}

	var task *models.Task
	err := s.mutate(ctx, "task.create", "input:"+in.DealID, in.DealID, in, func() error {
		if in.DealID != "" {
			if _, err := s.GetDeal(ctx, in.DealID); err != nil {
				return err
			}
		}
		var err error
		task, err = s.store.CreateTask(ctx, store.NewTask{
			Text:     text,
			DealID:   in.DealID,
			Assignee: assignee,
			Subtasks: subtasks,
			DueDate:  in.DueDate,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(events.TypeTask, task.DealID, task.ID)
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// ListTasks returns tasks matching the filter.
func (s *Service) ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error) {
	return s.store.ListTasks(ctx, f)
}

// ToggleDone completes an open task or reopens a done one. comment is kept
// only when completing.
func (s *Service) ToggleDone(ctx context.Context, id, comment string) (*models.Task, error) {
	return s.applyTask(ctx, "done", id, map[string]string{"comment": comment}, func(t *models.Task) (store.TaskPatch, bool) {
		return lifecycle.ToggleDone(t, comment, s.now()), true
	})
}

// SetInProgress flips the in-progress flag.
func (s *Service) SetInProgress(ctx context.Context, id string) (*models.Task, error) {
	return s.applyTask(ctx, "progress", id, nil, func(t *models.Task) (store.TaskPatch, bool) {
		return lifecycle.SetInProgress(t), true
	})
}

// EditTaskText replaces a task's text.
func (s *Service) EditTaskText(ctx context.Context, id, text string) (*models.Task, error) {
	return s.applyTask(ctx, "text", id, map[string]string{"text": text}, func(t *models.Task) (store.TaskPatch, bool) {
		return lifecycle.EditText(t, text)
	})
}

// ToggleSubtask flips the checklist item at index.
func (s *Service) ToggleSubtask(ctx context.Context, id string, index int) (*models.Task, error) {
	return s.applyTask(ctx, "subtask", id, map[string]int{"index": index}, func(t *models.Task) (store.TaskPatch, bool) {
		return lifecycle.ToggleSubtask(t, index)
	})
}

// SetDueDate sets or, with nil, clears a task's due date.
func (s *Service) SetDueDate(ctx context.Context, id string, due *time.Time) (*models.Task, error) {
	return s.applyTask(ctx, "due", id, map[string]*time.Time{"due_date": due}, func(t *models.Task) (store.TaskPatch, bool) {
		return lifecycle.SetDueDate(t, due), true
	})
}

// applyTask loads the task, builds a patch from it and persists the patch.
// A missing task or an empty patch is a no-op.
func (s *Service) applyTask(ctx context.Context, op, id string, inputs any, build func(*models.Task) (store.TaskPatch, bool)) (*models.Task, error) {
	var task *models.Task
	err := s.mutate(ctx, "task."+op, taskKey(id), id, inputs, func() error {
		cur, err := s.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoop
		}
		p, ok := build(cur)
		if !ok || p.IsEmpty() {
			return ErrNoop
		}
		if err := s.store.UpdateTask(ctx, id, p); err != nil {
			return mapNotFound(err, "task", id)
		}
		task, err = s.store.GetTask(ctx, id)
		if err == nil && task == nil {
			err = fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.TaskChanges.WithLabelValues(op).Inc()
	s.hub.Publish(events.TypeTask, task.DealID, id)
	return task, nil
}

// DeleteTask hard-deletes a task with its subtasks.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	var dealID string
	err := s.mutate(ctx, "task.delete", taskKey(id), id, map[string]string{"task_id": id}, func() error {
		cur, err := s.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoop
		}
		dealID = cur.DealID
		return mapNotFound(s.store.DeleteTask(ctx, id), "task", id)
	})
	if err != nil {
		return err
	}
	s.metrics.TaskChanges.WithLabelValues("delete").Inc()
	s.hub.Publish(events.TypeTask, dealID, id)
	return nil
}

// --- Stream ---

// Stream returns the deal's merged activity timeline.
func (s *Service) Stream(ctx context.Context, dealID string) (stream.Stream, error) {
	if _, err := s.GetDeal(ctx, dealID); err != nil {
		return stream.Stream{}, err
	}

	var (
		messages []models.Message
		tasks    []models.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		messages, err = s.store.ListMessages(gctx, dealID)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = s.store.ListTasks(gctx, store.TaskFilter{DealID: dealID})
		return err
	})
	if err := g.Wait(); err != nil {
		return stream.Stream{}, fmt.Errorf("load activity: %w", err)
	}
	return stream.Compose(messages, tasks), nil
}

// --- Preferences ---

// Preferences returns the saved display preferences.
func (s *Service) Preferences(ctx context.Context) (models.Preferences, error) {
	return s.prefs.Get(ctx)
}

// UpdatePreferences replaces the display preferences.
func (s *Service) UpdatePreferences(ctx context.Context, p models.Preferences) (models.Preferences, error) {
	var out models.Preferences
	err := s.mutate(ctx, "prefs.update", "prefs", "", p, func() error {
		var err error
		out, err = s.prefs.Replace(ctx, p)
		if errors.Is(err, prefs.ErrInvalid) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return err
	})
	if err != nil {
		return models.Preferences{}, err
	}
	s.hub.Publish(events.TypePrefs, "", "")
	return out, nil
}

// SubscribePreferences streams saved preferences until cancel is called.
func (s *Service) SubscribePreferences() (<-chan models.Preferences, func()) {
	return s.prefs.Subscribe()
}

// --- Attachments ---

// Attach is reserved for file attachments on deals. There is no blob
// storage backend, so it always fails.
func (s *Service) Attach(ctx context.Context, dealID, filename string) error {
	s.record(ctx, "deal.attach", map[string]string{"deal_id": dealID, "filename": filename}, audit.OutcomeFailure, dealID, ErrAttachmentsUnavailable.Error())
	return ErrAttachmentsUnavailable
}

func mapNotFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
