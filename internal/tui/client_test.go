package tui

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fentz26/dealdesk/internal/crm"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store/sqlite"
	"github.com/fentz26/dealdesk/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemon struct {
	url    string
	svc    *crm.Service
	stages []models.Stage
	deal   *models.Deal
}

func newDaemon(t *testing.T) *daemon {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	svc := crm.NewService(st, crm.Options{})
	require.NoError(t, svc.EnsureStages(ctx, []string{"Lead", "Proposal", "Won"}))
	stages, err := svc.ListStages(ctx)
	require.NoError(t, err)
	deal, err := svc.CreateDeal(ctx, crm.DealInput{Title: "Acme renewal", StageID: stages[0].ID})
	require.NoError(t, err)

	ts := httptest.NewServer(crm.NewServer(svc, "127.0.0.1:0", nil).Handler())
	t.Cleanup(ts.Close)
	return &daemon{url: ts.URL, svc: svc, stages: stages, deal: deal}
}

func TestClientBoard(t *testing.T) {
	d := newDaemon(t)
	c := NewClient(d.url + "/")

	stages, deals, err := c.Board(context.Background())
	require.NoError(t, err)
	assert.Len(t, stages, 3)
	require.Len(t, deals, 1)
	assert.Equal(t, "Acme renewal", deals[0].Title)
}

func TestClientSubmitAndActivity(t *testing.T) {
	d := newDaemon(t)
	c := NewClient(d.url)
	ctx := context.Background()

	res, err := c.Submit(ctx, d.deal.ID, "hello there")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotNil(t, res.Message)

	res, err = c.Submit(ctx, d.deal.ID, "#Send proposal\nPricing\nTerms")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Task)
	assert.Len(t, res.Task.Subtasks, 2)

	entries, err := c.Activity(ctx, d.deal.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, stream.KindMessage, entries[0].Kind)
	assert.Equal(t, stream.KindTask, entries[1].Kind)
}

func TestClientSubmitNoop(t *testing.T) {
	d := newDaemon(t)
	res, err := NewClient(d.url).Submit(context.Background(), d.deal.ID, "   \n  ")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestClientTaskActions(t *testing.T) {
	d := newDaemon(t)
	c := NewClient(d.url)
	ctx := context.Background()

	res, err := c.Submit(ctx, d.deal.ID, "#Call\nprep")
	require.NoError(t, err)
	id := res.Task.ID

	require.NoError(t, c.SetInProgress(ctx, id))
	require.NoError(t, c.ToggleSubtask(ctx, id, 0))
	require.NoError(t, c.ToggleDone(ctx, id, "went well"))

	task, err := d.svc.GetTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, task.IsDone)
	assert.False(t, task.InProgress)
	assert.True(t, task.Subtasks[0].IsDone)
	assert.Equal(t, "went well", task.CompletionComment)

	// out of range is a silent no-op
	require.NoError(t, c.ToggleSubtask(ctx, id, 5))

	require.NoError(t, c.DeleteTask(ctx, id))
	_, err = d.svc.GetTask(ctx, id)
	assert.ErrorIs(t, err, crm.ErrNotFound)
}

func TestClientMoveDeal(t *testing.T) {
	d := newDaemon(t)
	c := NewClient(d.url)
	require.NoError(t, c.MoveDeal(context.Background(), d.deal.ID, d.stages[2].ID))

	deal, err := d.svc.GetDeal(context.Background(), d.deal.ID)
	require.NoError(t, err)
	assert.Equal(t, d.stages[2].ID, deal.StageID)
}

func TestClientAPIError(t *testing.T) {
	d := newDaemon(t)
	err := NewClient(d.url).MoveDeal(context.Background(), "missing", d.stages[0].ID)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientPreferences(t *testing.T) {
	d := newDaemon(t)
	c := NewClient(d.url)
	ctx := context.Background()

	p, err := c.Preferences(ctx)
	require.NoError(t, err)
	p.FontSize = 18
	saved, err := c.SavePreferences(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 18, saved.FontSize)

	p.FontSize = 99
	_, err = c.SavePreferences(ctx, p)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClientCheckHealth(t *testing.T) {
	d := newDaemon(t)
	ok, err := NewClient(d.url).CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewClient("http://127.0.0.1:1").CheckHealth(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
