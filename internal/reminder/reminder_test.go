package reminder

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/dealdesk/internal/events"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/fentz26/dealdesk/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(typ, dealID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typ+":"+id)
}

func (r *recordingPublisher) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type counter struct{ n int }

func (c *counter) Inc() { c.n++ }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "reminder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSweepNotifiesOncePerDueDate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	overdue, err := st.CreateTask(ctx, store.NewTask{Text: "call back", Assignee: "me", DueDate: &past})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, store.NewTask{Text: "later", Assignee: "me", DueDate: &future})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, store.NewTask{Text: "no date", Assignee: "me"})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	c := &counter{}
	sw := New(st, pub, c, nil, time.Hour)
	defer sw.Stop()
	sw.now = func() time.Time { return now }

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{events.TypeTaskOverdue + ":" + overdue.ID}, pub.events)

	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep stays quiet")

	earlier := past.Add(-time.Hour)
	require.NoError(t, st.UpdateTask(ctx, overdue.ID, store.TaskPatch{DueDate: &earlier}))
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "new due date re-arms")
	assert.Equal(t, 2, c.n)
}

func TestSweepSkipsDoneTasks(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	task, err := st.CreateTask(ctx, store.NewTask{Text: "x", Assignee: "me", DueDate: &past})
	require.NoError(t, err)
	done := true
	require.NoError(t, st.UpdateTask(ctx, task.ID, store.TaskPatch{IsDone: &done}))

	pub := &recordingPublisher{}
	sw := New(st, pub, nil, nil, time.Hour)
	defer sw.Stop()

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartStopRunsLoop(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	_, err := st.CreateTask(ctx, store.NewTask{Text: "x", Assignee: "me", DueDate: &past})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	sw := New(st, pub, nil, nil, 10*time.Millisecond)
	sw.Start()
	require.Eventually(t, func() bool { return pub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	sw.Stop()
}
