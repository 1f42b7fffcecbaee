package board

import (
	"testing"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBoard() *Board {
	stages := []models.Stage{
		{ID: "s1", Name: "Lead", Position: 0},
		{ID: "s2", Name: "Proposal", Position: 1},
		{ID: "s3", Name: "Won", Position: 2},
	}
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	deals := []models.Deal{
		{ID: "D", Title: "Acme", Company: "Acme Inc", ValueCents: 5000, StageID: "s1", CreatedAt: created, UpdatedAt: created},
		{ID: "E", Title: "Globex", StageID: "s2", CreatedAt: created, UpdatedAt: created},
	}
	return New(stages, deals)
}

func TestMoveClearsFocusAndOnlyChangesStage(t *testing.T) {
	b := testBoard()
	before, _ := b.Deal("D")
	b.Select("D")
	require.Equal(t, "D", b.Selected())

	require.True(t, b.Move("D", "s2"))
	assert.Empty(t, b.Selected())

	after, ok := b.Deal("D")
	require.True(t, ok)
	assert.Equal(t, "s2", after.StageID)
	before.StageID = "s2"
	assert.Equal(t, before, after)
}

func TestMoveAnyStageToAnyStage(t *testing.T) {
	b := testBoard()
	assert.True(t, b.Move("D", "s3"))
	assert.True(t, b.Move("D", "s1"))
	assert.True(t, b.Move("D", "s1"), "same stage is allowed")
}

func TestMoveUnknown(t *testing.T) {
	b := testBoard()
	b.Select("D")
	assert.False(t, b.Move("D", "nope"))
	assert.False(t, b.Move("nope", "s2"))
	assert.Equal(t, "D", b.Selected(), "failed move keeps focus")
}

func TestColumns(t *testing.T) {
	b := testBoard()
	b.ToggleCollapsed("s3")
	cols := b.Columns()
	require.Len(t, cols, 3)
	assert.Len(t, cols[0].Deals, 1)
	assert.Len(t, cols[1].Deals, 1)
	assert.Empty(t, cols[2].Deals)
	assert.True(t, cols[2].Collapsed)
	assert.Equal(t, map[string]bool{"s3": true}, b.Collapsed())
}

func TestAdjacentStage(t *testing.T) {
	b := testBoard()
	next, ok := b.AdjacentStage("s1", 1)
	assert.True(t, ok)
	assert.Equal(t, "s2", next)

	_, ok = b.AdjacentStage("s1", -1)
	assert.False(t, ok)
	_, ok = b.AdjacentStage("s3", 1)
	assert.False(t, ok)
}

func TestReloadDropsMissingFocus(t *testing.T) {
	b := testBoard()
	b.Select("E")
	b.Reload(b.Stages(), []models.Deal{{ID: "D", StageID: "s1"}})
	assert.Empty(t, b.Selected())

	b.Select("D")
	b.Reload(b.Stages(), []models.Deal{{ID: "D", StageID: "s2"}})
	assert.Equal(t, "D", b.Selected())
}
