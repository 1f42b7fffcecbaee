// Package sqlite provides the embedded SQLite backend for dealdesk.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var _ store.Store = (*Store)(nil)

// Store provides access to the dealdesk SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		value_cents INTEGER NOT NULL DEFAULT 0,
		stage_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (stage_id) REFERENCES stages(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		deal_id TEXT NOT NULL,
		text TEXT NOT NULL,
		is_me INTEGER NOT NULL DEFAULT 0,
		reply_to_id TEXT,
		edited_at DATETIME,
		is_quick_task INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (deal_id) REFERENCES deals(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		deal_id TEXT,
		assignee TEXT NOT NULL,
		subtasks TEXT NOT NULL DEFAULT '[]',
		is_done INTEGER NOT NULL DEFAULT 0,
		in_progress INTEGER NOT NULL DEFAULT 0,
		due_date DATETIME,
		completed_at DATETIME,
		completion_comment TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (deal_id) REFERENCES deals(id) ON DELETE CASCADE
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
		timestamp DATETIME NOT NULL
	);

	INSERT OR IGNORE INTO counters (name, value) VALUES ('records', 0);

	CREATE INDEX IF NOT EXISTS idx_deals_stage_id ON deals(stage_id);
	CREATE INDEX IF NOT EXISTS idx_messages_deal_id ON messages(deal_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_deal_id ON tasks(deal_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// nextSeq hands out the shared monotonic record sequence inside tx.
func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'records' RETURNING value`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// setClause renders "a = ?, b = ?" for the given assignments.
func setClause(as []store.Assignment) (string, []any) {
	cols := make([]string, len(as))
	args := make([]any, len(as))
	for i, a := range as {
		cols[i] = a.Column + " = ?"
		args[i] = a.Value
	}
	return strings.Join(cols, ", "), args
}

// --- Stage Operations ---

// ListStages returns stages ordered by position.
func (s *Store) ListStages(ctx context.Context) ([]models.Stage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, position FROM stages ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var stages []models.Stage
	for rows.Next() {
		var st models.Stage
		if err := rows.Scan(&st.ID, &st.Name, &st.Position); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// CreateStage appends a stage at the end of the pipeline.
func (s *Store) CreateStage(ctx context.Context, name string) (*models.Stage, error) {
	var pos int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM stages`).Scan(&pos); err != nil {
		return nil, fmt.Errorf("next stage position: %w", err)
	}
	st := &models.Stage{ID: uuid.New().String(), Name: name, Position: pos}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stages (id, name, position) VALUES (?, ?, ?)`,
		st.ID, st.Name, st.Position,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stage: %w", err)
	}
	return st, nil
}

// RenameStage changes a stage name.
func (s *Store) RenameStage(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stages SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename stage: %w", err)
	}
	return checkAffected(res)
}

// SetStagePositions rewrites positions so that orderedIDs[i] sits at position i.
func (s *Store) SetStagePositions(ctx context.Context, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, id := range orderedIDs {
		res, err := tx.ExecContext(ctx, `UPDATE stages SET position = ? WHERE id = ?`, i, id)
		if err != nil {
			return fmt.Errorf("update stage position: %w", err)
		}
		if err := checkAffected(res); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteStage removes a stage. The caller must ensure it holds no deals.
func (s *Store) DeleteStage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	return checkAffected(res)
}

// --- Deal Operations ---

const dealColumns = `id, title, company, value_cents, stage_id, created_at, updated_at`

func scanDeal(sc interface{ Scan(...any) error }) (*models.Deal, error) {
	d := &models.Deal{}
	if err := sc.Scan(&d.ID, &d.Title, &d.Company, &d.ValueCents, &d.StageID, &d.CreatedAt, &d.UpdatedAt); err != nil {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (`+dealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Company, d.ValueCents, d.StageID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert deal: %w", err)
	}
	return d, nil
}

// GetDeal retrieves a deal by ID.
func (s *Store) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	d, err := scanDeal(s.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
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
		query += ` WHERE stage_id = ?`
		args = append(args, stageID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

// UpdateDeal applies a descriptive patch.
func (s *Store) UpdateDeal(ctx context.Context, id string, p store.DealPatch) error {
	as := append(p.Assignments(), store.Assignment{Column: "updated_at", Value: s.now()})
	set, args := setClause(as)
	res, err := s.db.ExecContext(ctx, `UPDATE deals SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	return checkAffected(res)
}

// UpdateDealStage moves a deal to another stage.
func (s *Store) UpdateDealStage(ctx context.Context, dealID, stageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET stage_id = ?, updated_at = ? WHERE id = ?`,
		stageID, s.now(), dealID,
	)
	if err != nil {
		return fmt.Errorf("update deal stage: %w", err)
	}
	return checkAffected(res)
}

// DeleteDeal removes a deal; its messages and tasks cascade.
func (s *Store) DeleteDeal(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	return checkAffected(res)
}

// --- Message Operations ---

const messageColumns = `id, seq, deal_id, text, is_me, reply_to_id, edited_at, is_quick_task, created_at`

func scanMessage(sc interface{ Scan(...any) error }) (*models.Message, error) {
	m := &models.Message{}
	var replyTo sql.NullString
	var editedAt sql.NullTime
	if err := sc.Scan(&m.ID, &m.Seq, &m.DealID, &m.Text, &m.IsMe, &replyTo, &editedAt, &m.IsQuickTask, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ReplyToID = replyTo.String
	m.EditedAt = timePtr(editedAt)
	return m, nil
}

// ListMessages returns a deal's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, dealID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE deal_id = ? ORDER BY seq`,
		dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// CreateMessage inserts a message and assigns its sequence number.
func (s *Store) CreateMessage(ctx context.Context, nm store.NewMessage) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return nil, err
	}

	m := &models.Message{
		ID:        uuid.New().String(),
		Seq:       seq,
		DealID:    nm.DealID,
		Text:      nm.Text,
		IsMe:      nm.IsMe,
		ReplyToID: nm.ReplyToID,
		CreatedAt: s.now(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Seq, m.DealID, m.Text, m.IsMe, nullString(m.ReplyToID), nullTime(nil), m.IsQuickTask, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
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
	set, args := setClause(as)
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return checkAffected(res)
}

// DeleteMessage hard-deletes a message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return checkAffected(res)
}

// --- Task Operations ---

const taskColumns = `id, seq, text, deal_id, assignee, subtasks, is_done, in_progress, due_date, completed_at, completion_comment, created_at, updated_at`

func scanTask(sc interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var dealID, comment sql.NullString
	var subtasks string
	var dueDate, completedAt sql.NullTime
	if err := sc.Scan(&t.ID, &t.Seq, &t.Text, &dealID, &t.Assignee, &subtasks, &t.IsDone, &t.InProgress,
		&dueDate, &completedAt, &comment, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.DealID = dealID.String
	t.CompletionComment = comment.String
	t.DueDate = timePtr(dueDate)
	t.CompletedAt = timePtr(completedAt)
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

	switch {
	case f.DealID != "":
		where = append(where, `deal_id = ?`)
		args = append(args, f.DealID)
	case f.GlobalOnly:
		where = append(where, `deal_id IS NULL`)
	}
	if f.Assignee != "" {
		where = append(where, `assignee = ?`)
		args = append(args, f.Assignee)
	}
	if f.OpenOnly {
		where = append(where, `is_done = 0`)
	}
	if f.DueBefore != nil {
		where = append(where, `due_date IS NOT NULL AND due_date < ?`)
		args = append(args, f.DueBefore.UTC())
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// CreateTask inserts a new not-started task.
func (s *Store) CreateTask(ctx context.Context, nt store.NewTask) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	subtasks := nt.Subtasks
	if subtasks == nil {
		subtasks = []models.Subtask{}
	}
	t := &models.Task{
		ID:        uuid.New().String(),
		Seq:       seq,
		Text:      nt.Text,
		DealID:    nt.DealID,
		Assignee:  nt.Assignee,
		Subtasks:  subtasks,
		DueDate:   nt.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Seq, t.Text, nullString(t.DealID), t.Assignee, store.EncodeSubtasks(t.Subtasks),
		t.IsDone, t.InProgress, nullTime(t.DueDate), nullTime(nil), nullString(""), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
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
	set, args := setClause(as)
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return checkAffected(res)
}

// DeleteTask hard-deletes a task and its embedded subtasks.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return checkAffected(res)
}

// --- Preference Operations ---

// ListPreferences returns every stored preference.
func (s *Store) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// --- Audit Operations ---

// WriteAudit appends an audit entry.
func (s *Store) WriteAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (id, action, inputs_hash, outcome, entity_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.InputsHash, e.Outcome, nullString(e.EntityID), nullString(e.Details), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, entity_id, details, timestamp FROM audit ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var entityID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &entityID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.EntityID = entityID.String
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}
