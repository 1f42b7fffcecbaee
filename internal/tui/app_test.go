package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect runs cmd and any batched commands it returns.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func feed(a *App, msgs []tea.Msg) {
	for _, m := range msgs {
		a.Update(m)
	}
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loadedApp(t *testing.T) (*App, *daemon) {
	t.Helper()
	d := newDaemon(t)
	a := New(d.url, '#')
	feed(a, collect(a.fetchBoard()))
	require.Len(t, a.board.Columns(), 3)
	return a, d
}

func TestApp_OpenDealLoadsActivity(t *testing.T) {
	a, d := loadedApp(t)
	_, err := d.svc.SendMessage(context.Background(), d.deal.ID, "first", true)
	require.NoError(t, err)

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeActivity, a.mode)
	assert.Equal(t, d.deal.ID, a.board.Selected())

	feed(a, collect(cmd))
	require.Len(t, a.entries, 1)
	assert.Equal(t, "first", a.entries[0].Message.Text)
}

func TestApp_DropsStaleActivity(t *testing.T) {
	a, d := loadedApp(t)
	a.openDeal(d.deal.ID)
	staleGen := a.gen

	a.Update(tea.KeyMsg{Type: tea.KeyEscape})
	assert.Equal(t, modeBoard, a.mode)
	assert.Empty(t, a.board.Selected())

	stale := []stream.Entry{{Kind: stream.KindMessage, Message: &models.Message{ID: "old", Text: "old"}}}
	a.Update(activityLoadedMsg{dealID: d.deal.ID, gen: staleGen, entries: stale})
	assert.Empty(t, a.entries)

	// reopened: only the newest request is accepted
	a.openDeal(d.deal.ID)
	a.Update(activityLoadedMsg{dealID: d.deal.ID, gen: staleGen, entries: stale})
	assert.Empty(t, a.entries)

	a.Update(activityLoadedMsg{dealID: "other", gen: a.gen, entries: stale})
	assert.Empty(t, a.entries)

	a.Update(activityLoadedMsg{dealID: d.deal.ID, gen: a.gen, entries: stale})
	assert.Len(t, a.entries, 1)
}

func TestApp_SubmitTaskFromInput(t *testing.T) {
	a, d := loadedApp(t)
	a.openDeal(d.deal.ID)

	a.input.SetValue("#Send proposal\nPricing\nTerms")
	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, a.input.Value())

	msgs := collect(cmd)
	require.Len(t, msgs, 1)
	require.IsType(t, mutationDoneMsg{}, msgs[0])

	_, cmd = a.Update(msgs[0])
	feed(a, collect(cmd))
	require.Len(t, a.entries, 1)
	task := a.entries[0].Task
	require.NotNil(t, task)
	assert.Equal(t, "Send proposal", task.Text)
	assert.Len(t, task.Subtasks, 2)
	assert.Equal(t, models.SelfAssignee, task.Assignee)
}

func TestApp_BlankSubmitIsSilent(t *testing.T) {
	a, d := loadedApp(t)
	a.openDeal(d.deal.ID)

	a.input.SetValue("   \n ")
	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, a.banner)

	a.input.SetValue("#   ")
	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestApp_TaskKeys(t *testing.T) {
	a, d := loadedApp(t)
	ctx := context.Background()
	res, err := d.svc.Submit(ctx, d.deal.ID, "#Call\na\nb")
	require.NoError(t, err)
	id := res.Task.ID

	feed(a, collect(a.openDeal(d.deal.ID)))
	a.Update(tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusStream, a.focus)

	step := func(k tea.KeyMsg) {
		_, cmd := a.Update(k)
		for _, m := range collect(cmd) {
			_, next := a.Update(m)
			feed(a, collect(next))
		}
	}

	step(keys("p"))
	task, err := d.svc.GetTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, task.InProgress)

	step(keys("s"))
	step(keys("2"))
	task, err = d.svc.GetTask(ctx, id)
	require.NoError(t, err)
	assert.False(t, task.Subtasks[0].IsDone)
	assert.True(t, task.Subtasks[1].IsDone)

	step(keys("x"))
	task, err = d.svc.GetTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, task.IsDone)
	assert.False(t, task.InProgress)

	step(keys("d"))
	require.Equal(t, modeConfirm, a.mode)
	step(keys("n"))
	assert.Equal(t, modeActivity, a.mode)
	_, err = d.svc.GetTask(ctx, id)
	require.NoError(t, err)

	step(keys("d"))
	step(keys("y"))
	assert.Equal(t, "Deleted", a.banner)
	assert.Empty(t, a.entries)
}

func TestApp_CompleteWithComment(t *testing.T) {
	a, d := loadedApp(t)
	ctx := context.Background()
	res, err := d.svc.Submit(ctx, d.deal.ID, "#Send contract")
	require.NoError(t, err)

	feed(a, collect(a.openDeal(d.deal.ID)))
	a.Update(tea.KeyMsg{Type: tea.KeyTab})

	a.Update(keys("c"))
	require.Equal(t, focusInput, a.focus)
	assert.Equal(t, res.Task.ID, a.completing)

	a.Update(tea.KeyMsg{Type: tea.KeyEscape})
	assert.Equal(t, modeActivity, a.mode, "esc cancels the comment, not the panel")
	assert.Empty(t, a.completing)
	assert.Equal(t, focusStream, a.focus)

	a.Update(keys("c"))
	a.input.SetValue("  signed by legal  ")
	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, focusStream, a.focus)
	assert.Equal(t, a.placeholder, a.input.Placeholder)
	msgs := collect(cmd)
	require.Len(t, msgs, 1)
	require.IsType(t, mutationDoneMsg{}, msgs[0])

	task, err := d.svc.GetTask(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.True(t, task.IsDone)
	assert.Equal(t, "signed by legal", task.CompletionComment)
}

func TestApp_SubtaskBeyondNine(t *testing.T) {
	a, d := loadedApp(t)
	ctx := context.Background()
	raw := "#Onboarding"
	for i := 1; i <= 12; i++ {
		raw += fmt.Sprintf("\nstep %d", i)
	}
	res, err := d.svc.Submit(ctx, d.deal.ID, raw)
	require.NoError(t, err)
	require.Len(t, res.Task.Subtasks, 12)

	feed(a, collect(a.openDeal(d.deal.ID)))
	a.Update(tea.KeyMsg{Type: tea.KeyTab})

	run := func(ks ...tea.KeyMsg) {
		for _, k := range ks {
			_, cmd := a.Update(k)
			for _, m := range collect(cmd) {
				_, next := a.Update(m)
				feed(a, collect(next))
			}
		}
	}

	run(keys("s"), keys("1"), keys("2"))
	run(keys("s"), keys("1"), tea.KeyMsg{Type: tea.KeyEnter})
	run(keys("s"), keys("3"))

	task, err := d.svc.GetTask(ctx, res.Task.ID)
	require.NoError(t, err)
	var done []int
	for i, st := range task.Subtasks {
		if st.IsDone {
			done = append(done, i+1)
		}
	}
	assert.Equal(t, []int{1, 3, 12}, done)
	assert.False(t, a.awaitingSubtask)
}

func TestApp_FailedMoveRestoresBoard(t *testing.T) {
	a, d := loadedApp(t)
	ctx := context.Background()
	require.NoError(t, d.svc.DeleteStage(ctx, d.stages[1].ID))

	_, cmd := a.Update(keys("m"))
	local, ok := a.board.Deal(d.deal.ID)
	require.True(t, ok)
	require.Equal(t, d.stages[1].ID, local.StageID, "moved locally before the daemon answers")

	msgs := collect(cmd)
	require.Len(t, msgs, 1)
	require.IsType(t, mutationFailedMsg{}, msgs[0])
	_, cmd = a.Update(msgs[0])
	assert.True(t, a.bannerErr)
	feed(a, collect(cmd))

	cols := a.board.Columns()
	require.Len(t, cols, 2)
	local, ok = a.board.Deal(d.deal.ID)
	require.True(t, ok)
	assert.Equal(t, d.stages[0].ID, local.StageID)
	require.Len(t, cols[0].Deals, 1)
	assert.Empty(t, cols[1].Deals)
}

func TestApp_DropsStaleActivityError(t *testing.T) {
	a, d := loadedApp(t)
	a.openDeal(d.deal.ID)
	staleGen := a.gen
	a.Update(tea.KeyMsg{Type: tea.KeyEscape})
	a.openDeal(d.deal.ID)

	a.Update(activityFailedMsg{dealID: d.deal.ID, gen: staleGen, err: errors.New("timeout")})
	assert.Empty(t, a.banner)

	a.Update(activityFailedMsg{dealID: d.deal.ID, gen: a.gen, err: errors.New("timeout")})
	assert.True(t, a.bannerErr)
	assert.Contains(t, a.banner, "timeout")
}

func TestApp_MoveFromBoardKeepsCursorOnDeal(t *testing.T) {
	a, d := loadedApp(t)

	_, cmd := a.Update(keys("m"))
	assert.Equal(t, 1, a.col)
	moved, ok := a.cursorDeal()
	require.True(t, ok)
	assert.Equal(t, d.deal.ID, moved.ID)
	feed(a, collect(cmd))

	deal, err := d.svc.GetDeal(context.Background(), d.deal.ID)
	require.NoError(t, err)
	assert.Equal(t, d.stages[1].ID, deal.StageID)

	// no stage before the first one
	a.Update(keys("M"))
	_, cmd = a.Update(keys("M"))
	assert.Nil(t, cmd)
	assert.Equal(t, 0, a.col)
}

func TestApp_MoveClearsFocus(t *testing.T) {
	a, d := loadedApp(t)
	a.openDeal(d.deal.ID)
	a.Update(tea.KeyMsg{Type: tea.KeyTab})
	gen := a.gen

	_, cmd := a.Update(keys("m"))
	require.NotNil(t, cmd)
	assert.Equal(t, modeBoard, a.mode)
	assert.Empty(t, a.board.Selected())
	assert.Empty(t, a.activeDeal)
	assert.Greater(t, a.gen, gen)

	local, ok := a.board.Deal(d.deal.ID)
	require.True(t, ok)
	assert.Equal(t, d.stages[1].ID, local.StageID)
	assert.Equal(t, d.deal.Title, local.Title)

	feed(a, collect(cmd))
	deal, err := d.svc.GetDeal(context.Background(), d.deal.ID)
	require.NoError(t, err)
	assert.Equal(t, d.stages[1].ID, deal.StageID)
}

func TestApp_ErrorShowsBanner(t *testing.T) {
	a, _ := loadedApp(t)
	a.Update(errMsg{errors.New("disk full")})
	assert.True(t, a.bannerErr)
	assert.Contains(t, a.banner, "disk full")
	assert.Contains(t, a.View(), "disk full")

	a.Update(mutationDoneMsg{note: "Saved"})
	assert.False(t, a.bannerErr)
	assert.Equal(t, "Saved", a.banner)
}

func TestApp_CollapseAndFontPersist(t *testing.T) {
	a, d := loadedApp(t)
	ctx := context.Background()

	_, cmd := a.Update(keys("c"))
	feed(a, collect(cmd))
	assert.True(t, a.board.Columns()[0].Collapsed)

	_, cmd = a.Update(keys("+"))
	feed(a, collect(cmd))

	p, err := d.svc.Preferences(ctx)
	require.NoError(t, err)
	assert.True(t, p.Collapsed[d.stages[0].ID])
	assert.Equal(t, 15, p.FontSize)
	assert.Equal(t, 15, a.prefs.FontSize)
}

func TestApp_ViewRendersBoard(t *testing.T) {
	a, _ := loadedApp(t)
	out := a.View()
	assert.Contains(t, out, "Lead")
	assert.Contains(t, out, "Acme renewal")
	assert.Contains(t, out, "enter: open")
}
