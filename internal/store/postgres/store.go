// Package postgres provides the hosted PostgreSQL backend for dealdesk.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open opens a connection pool and runs migrations. An empty dsn falls back to DATABASE_URL.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE SEQUENCE IF NOT EXISTS record_seq;

	CREATE TABLE IF NOT EXISTS stages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		value_cents BIGINT NOT NULL DEFAULT 0,
		stage_id TEXT NOT NULL REFERENCES stages(id),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL DEFAULT nextval('record_seq'),
		deal_id TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		is_me BOOLEAN NOT NULL DEFAULT FALSE,
		reply_to_id TEXT,
		edited_at TIMESTAMPTZ,
		is_quick_task BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL DEFAULT nextval('record_seq'),
		text TEXT NOT NULL,
		deal_id TEXT REFERENCES deals(id) ON DELETE CASCADE,
		assignee TEXT NOT NULL,
		subtasks TEXT NOT NULL DEFAULT '[]',
		is_done BOOLEAN NOT NULL DEFAULT FALSE,
		in_progress BOOLEAN NOT NULL DEFAULT FALSE,
		due_date TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		completion_comment TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		entity_id TEXT,
		details TEXT,
		timestamp TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deals_stage_id ON deals(stage_id);
	CREATE INDEX IF NOT EXISTS idx_messages_deal_id ON messages(deal_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_deal_id ON tasks(deal_id);
	`)
	return err
}

func checkTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// setClause renders "a = $n, b = $n+1" starting at placeholder start.
func setClause(as []store.Assignment, start int) (string, []any) {
	cols := make([]string, len(as))
	args := make([]any, len(as))
	for i, a := range as {
		cols[i] = fmt.Sprintf("%s = $%d", a.Column, start+i)
		args[i] = a.Value
	}
	return strings.Join(cols, ", "), args
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// --- Stages ---

// ListStages returns stages ordered by position.
func (s *Store) ListStages(ctx context.Context) ([]models.Stage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, position FROM stages ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []models.Stage
	for rows.Next() {
		var st models.Stage
		if err := rows.Scan(&st.ID, &st.Name, &st.Position); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CreateStage appends a stage at the end of the pipeline.
func (s *Store) CreateStage(ctx context.Context, name string) (*models.Stage, error) {
	st := &models.Stage{ID: uuid.New().String(), Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stages (id, name, position)
		 VALUES ($1, $2, (SELECT COALESCE(MAX(position) + 1, 0) FROM stages))
		 RETURNING position`,
		st.ID, st.Name,
	).Scan(&st.Position)
	if err != nil {
		return nil, fmt.Errorf("insert stage: %w", err)
	}
	return st, nil
}

// RenameStage changes a stage name.
func (s *Store) RenameStage(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE stages SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("rename stage: %w", err)
	}
	return checkTag(tag)
}

// SetStagePositions rewrites positions so that orderedIDs[i] sits at position i.
func (s *Store) SetStagePositions(ctx context.Context, orderedIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, id := range orderedIDs {
		tag, err := tx.Exec(ctx, `UPDATE stages SET position = $1 WHERE id = $2`, i, id)
		if err != nil {
			return fmt.Errorf("update stage position: %w", err)
		}
		if err := checkTag(tag); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteStage removes a stage.
func (s *Store) DeleteStage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	return checkTag(tag)
}

// --- Deals ---

const dealColumns = `id, title, company, value_cents, stage_id, created_at, updated_at`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	d := &models.Deal{}
	if err := row.Scan(&d.ID, &d.Title, &d.Company, &d.ValueCents, &d.StageID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDeal inserts a new deal.
func (s *Store) CreateDeal(ctx context.Context, nd store.NewDeal) (*models.Deal, error) {
	now := s.now()
	d := &models.Deal{
		ID:         uuid.New().String(),
		Title:      nd.Title,
		Company:    nd.Company,
		ValueCents: nd.ValueCents,
		StageID:    nd.StageID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (`+dealColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Title, d.Company, d.ValueCents, d.StageID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert deal: %w", err)
	}
	return d, nil
}

// GetDeal retrieves a deal by ID.
func (s *Store) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	d, err := scanDeal(s.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query deal: %w", err)
	}
	return d, nil
}

// ListDeals returns deals, optionally restricted to one stage.
func (s *Store) ListDeals(ctx context.Context, stageID string) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	var args []any
	if stageID != "" {
		query += ` WHERE stage_id = $1`
		args = append(args, stageID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var out []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateDeal applies a descriptive patch.
func (s *Store) UpdateDeal(ctx context.Context, id string, p store.DealPatch) error {
	as := append(p.Assignments(), store.Assignment{Column: "updated_at", Value: s.now()})
	set, args := setClause(as, 1)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE deals SET %s WHERE id = $%d`, set, len(args)+1),
		append(args, id)...,
	)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	return checkTag(tag)
}

// UpdateDealStage moves a deal to another stage.
func (s *Store) UpdateDealStage(ctx context.Context, dealID, stageID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET stage_id = $1, updated_at = $2 WHERE id = $3`,
		stageID, s.now(), dealID,
	)
	if err != nil {
		return fmt.Errorf("update deal stage: %w", err)
	}
	return checkTag(tag)
}

// DeleteDeal removes a deal; its messages and tasks cascade.
func (s *Store) DeleteDeal(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	return checkTag(tag)
}

// --- Messages ---

const messageColumns = `id, seq, deal_id, text, is_me, reply_to_id, edited_at, is_quick_task, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var replyTo *string
	if err := row.Scan(&m.ID, &m.Seq, &m.DealID, &m.Text, &m.IsMe, &replyTo, &m.EditedAt, &m.IsQuickTask, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ReplyToID = deref(replyTo)
	m.EditedAt = utcPtr(m.EditedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

// ListMessages returns a deal's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, dealID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE deal_id = $1 ORDER BY seq`, dealID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// CreateMessage inserts a message; the sequence number comes from record_seq.
func (s *Store) CreateMessage(ctx context.Context, nm store.NewMessage) (*models.Message, error) {
	m := &models.Message{
		ID:        uuid.New().String(),
		DealID:    nm.DealID,
		Text:      nm.Text,
		IsMe:      nm.IsMe,
		ReplyToID: nm.ReplyToID,
		CreatedAt: s.now(),
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, deal_id, text, is_me, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		m.ID, m.DealID, m.Text, m.IsMe, optString(m.ReplyToID), m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// UpdateMessage edits a message.
func (s *Store) UpdateMessage(ctx context.Context, id string, p store.MessagePatch) error {
	var as []store.Assignment
	if p.Text != nil {
		as = append(as, store.Assignment{Column: "text", Value: *p.Text})
	}
	if p.EditedAt != nil {
		as = append(as, store.Assignment{Column: "edited_at", Value: p.EditedAt.UTC()})
	}
	if len(as) == 0 {
		return nil
	}
	set, args := setClause(as, 1)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE messages SET %s WHERE id = $%d`, set, len(args)+1),
		append(args, id)...,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return checkTag(tag)
}

// DeleteMessage hard-deletes a message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return checkTag(tag)
}

// --- Tasks ---

const taskColumns = `id, seq, text, deal_id, assignee, subtasks, is_done, in_progress, due_date, completed_at, completion_comment, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	t := &models.Task{}
	var dealID, comment *string
	var subtasks string
	if err := row.Scan(&t.ID, &t.Seq, &t.Text, &dealID, &t.Assignee, &subtasks, &t.IsDone, &t.InProgress,
		&t.DueDate, &t.CompletedAt, &comment, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.DealID = deref(dealID)
	t.CompletionComment = deref(comment)
	t.DueDate = utcPtr(t.DueDate)
	t.CompletedAt = utcPtr(t.CompletedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	st, err := store.DecodeSubtasks(subtasks)
	if err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	t.Subtasks = st
	return t, nil
}

// ListTasks returns tasks matching the filter in creation order.
func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case f.DealID != "":
		where = append(where, `deal_id = `+arg(f.DealID))
	case f.GlobalOnly:
		where = append(where, `deal_id IS NULL`)
	}
	if f.Assignee != "" {
		where = append(where, `assignee = `+arg(f.Assignee))
	}
	if f.OpenOnly {
		where = append(where, `NOT is_done`)
	}
	if f.DueBefore != nil {
		where = append(where, `due_date IS NOT NULL AND due_date < `+arg(f.DueBefore.UTC()))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// CreateTask inserts a new not-started task.
func (s *Store) CreateTask(ctx context.Context, nt store.NewTask) (*models.Task, error) {
	now := s.now()
	subtasks := nt.Subtasks
	if subtasks == nil {
		subtasks = []models.Subtask{}
	}
	t := &models.Task{
		ID:        uuid.New().String(),
		Text:      nt.Text,
		DealID:    nt.DealID,
		Assignee:  nt.Assignee,
		Subtasks:  subtasks,
		DueDate:   utcPtr(nt.DueDate),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, text, deal_id, assignee, subtasks, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
		t.ID, t.Text, optString(t.DealID), t.Assignee, store.EncodeSubtasks(t.Subtasks), t.DueDate, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.Seq)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// UpdateTask applies a partial update.
func (s *Store) UpdateTask(ctx context.Context, id string, p store.TaskPatch) error {
	as := p.Assignments()
	if len(as) == 0 {
		return nil
	}
	as = append(as, store.Assignment{Column: "updated_at", Value: s.now()})
	set, args := setClause(as, 1)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d`, set, len(args)+1),
		append(args, id)...,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return checkTag(tag)
}

// DeleteTask hard-deletes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return checkTag(tag)
}

// --- Preferences ---

// ListPreferences returns every stored preference.
func (s *Store) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetPreference upserts a preference value.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preferences (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// --- Audit ---

// WriteAudit appends an audit entry.
func (s *Store) WriteAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit (id, action, inputs_hash, outcome, entity_id, details, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Action, e.InputsHash, e.Outcome, optString(e.EntityID), optString(e.Details), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}
