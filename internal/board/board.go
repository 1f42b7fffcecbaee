// Package board holds the kanban view state: stages as columns, deals in
// them, and which deal currently has focus.
package board

import "github.com/fentz26/dealdesk/internal/models"

// Column is one stage with the deals it currently holds.
type Column struct {
	Stage     models.Stage
	Deals     []models.Deal
	Collapsed bool
}

// Board is the in-memory pipeline view. It is rebuilt from the store after
// every mutation; Move only keeps it consistent until that reload lands.
type Board struct {
	stages    []models.Stage
	deals     []models.Deal
	collapsed map[string]bool
	selected  string
}

// New builds a board. stages must already be in display order.
func New(stages []models.Stage, deals []models.Deal) *Board {
	return &Board{
		stages:    append([]models.Stage(nil), stages...),
		deals:     append([]models.Deal(nil), deals...),
		collapsed: make(map[string]bool),
	}
}

// Reload replaces stages and deals, keeping focus when the deal still exists.
func (b *Board) Reload(stages []models.Stage, deals []models.Deal) {
	b.stages = append(b.stages[:0], stages...)
	b.deals = append(b.deals[:0], deals...)
	if _, ok := b.Deal(b.selected); !ok {
		b.selected = ""
	}
}

// Stages returns the stages in display order.
func (b *Board) Stages() []models.Stage {
	return b.stages
}

// Columns groups deals by stage in stage order.
func (b *Board) Columns() []Column {
	cols := make([]Column, len(b.stages))
	index := make(map[string]int, len(b.stages))
	for i, st := range b.stages {
		cols[i] = Column{Stage: st, Collapsed: b.collapsed[st.ID]}
		index[st.ID] = i
	}
	for _, d := range b.deals {
		if i, ok := index[d.StageID]; ok {
			cols[i].Deals = append(cols[i].Deals, d)
		}
	}
	return cols
}

// Deal looks a deal up by id.
func (b *Board) Deal(id string) (models.Deal, bool) {
	if id == "" {
		return models.Deal{}, false
	}
	for _, d := range b.deals {
		if d.ID == id {
			return d, true
		}
	}
	return models.Deal{}, false
}

// Select focuses a deal. Unknown ids clear focus.
func (b *Board) Select(id string) {
	if _, ok := b.Deal(id); ok {
		b.selected = id
		return
	}
	b.selected = ""
}

// Selected returns the focused deal id, or "".
func (b *Board) Selected() string {
	return b.selected
}

// ClearSelection drops focus.
func (b *Board) ClearSelection() {
	b.selected = ""
}

// Move puts a deal into another stage. Any stage may follow any other.
// Only the deal's StageID changes, and focus is always cleared since the
// deal leaves the column its detail panel was opened from.
func (b *Board) Move(dealID, stageID string) bool {
	if !b.hasStage(stageID) {
		return false
	}
	for i := range b.deals {
		if b.deals[i].ID == dealID {
			b.deals[i].StageID = stageID
			b.selected = ""
			return true
		}
	}
	return false
}

// AdjacentStage returns the stage delta positions away from stageID, if any.
func (b *Board) AdjacentStage(stageID string, delta int) (string, bool) {
	for i, st := range b.stages {
		if st.ID != stageID {
			continue
		}
		j := i + delta
		if j < 0 || j >= len(b.stages) {
			return "", false
		}
		return b.stages[j].ID, true
	}
	return "", false
}

// ToggleCollapsed flips a column's collapsed flag and returns the new value.
func (b *Board) ToggleCollapsed(stageID string) bool {
	b.collapsed[stageID] = !b.collapsed[stageID]
	return b.collapsed[stageID]
}

// SetCollapsed replaces the collapse flags, typically from saved preferences.
func (b *Board) SetCollapsed(flags map[string]bool) {
	b.collapsed = make(map[string]bool, len(flags))
	for k, v := range flags {
		b.collapsed[k] = v
	}
}

// Collapsed returns a copy of the collapse flags.
func (b *Board) Collapsed() map[string]bool {
	out := make(map[string]bool, len(b.collapsed))
	for k, v := range b.collapsed {
		if v {
			out[k] = true
		}
	}
	return out
}

func (b *Board) hasStage(id string) bool {
	for _, st := range b.stages {
		if st.ID == id {
			return true
		}
	}
	return false
}
