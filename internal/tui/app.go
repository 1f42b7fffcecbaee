// Package tui provides the interactive terminal UI for dealdesk.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/dealdesk/internal/board"
	"github.com/fentz26/dealdesk/internal/command"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/prefs"
	"github.com/fentz26/dealdesk/internal/stream"
)

// App is the main TUI application model.
type App struct {
	client *Client
	board  *board.Board
	col    int
	row    int

	mode       mode
	prevMode   mode
	focus      focus
	activeDeal string
	gen        uint64
	entries    []stream.Entry
	entryIdx   int

	input       textarea.Model
	viewport    viewport.Model
	suggestions *Suggestions
	parser      command.Parser

	prefs           models.Preferences
	banner          string
	bannerErr       bool
	awaitingSubtask bool
	subtaskPrefix   int
	completing      string
	placeholder     string
	confirm         *pendingDelete

	width        int
	height       int
	daemonOnline bool
}

// New creates a new TUI application talking to the daemon at apiAddr.
func New(apiAddr string, marker rune) *App {
	ta := textarea.New()
	ta.Placeholder = "Message, or " + string(command.New(marker).Marker) + "task title (ctrl+j for subtask lines)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j", "alt+enter"))

	return &App{
		client:      NewClient(apiAddr),
		board:       board.New(nil, nil),
		input:       ta,
		placeholder: ta.Placeholder,
		viewport:    viewport.New(80, 20),
		suggestions: NewSuggestions(marker),
		parser:      command.New(marker),
		prefs:       prefs.Defaults(),
		width:       80,
		height:      24,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		a.fetchBoard(),
		a.fetchPrefs(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.mode {
		case modeConfirm:
			return a, a.updateConfirm(msg)
		case modeActivity:
			return a, a.updateActivity(msg)
		default:
			return a, a.updateBoard(msg)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()

	case boardLoadedMsg:
		a.daemonOnline = true
		a.board.Reload(msg.stages, msg.deals)
		a.clampCursor()

	case activityLoadedMsg:
		if !a.isCurrent(msg.dealID, msg.gen) {
			return a, nil
		}
		a.entries = msg.entries
		if a.entryIdx >= len(a.entries) {
			a.entryIdx = max(0, len(a.entries)-1)
		}
		a.refreshViewport()

	case mutationDoneMsg:
		if msg.note != "" {
			a.banner, a.bannerErr = msg.note, false
		}
		return a, a.refetch()

	case mutationFailedMsg:
		a.banner, a.bannerErr = "Error: "+msg.err.Error(), true
		return a, tea.Batch(a.refetch(), a.fetchPrefs())

	case activityFailedMsg:
		if !a.isCurrent(msg.dealID, msg.gen) {
			return a, nil
		}
		a.banner, a.bannerErr = "Error: "+msg.err.Error(), true

	case prefsLoadedMsg:
		a.prefs = msg.prefs
		a.board.SetCollapsed(msg.prefs.Collapsed)
		a.resize()

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case errMsg:
		a.banner, a.bannerErr = "Error: "+msg.err.Error(), true
	}

	if a.mode == modeActivity && a.focus == focusInput {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

// isCurrent reports whether a fetch answer still belongs to the open panel.
func (a *App) isCurrent(dealID string, gen uint64) bool {
	open := a.mode == modeActivity || (a.mode == modeConfirm && a.prevMode == modeActivity)
	return open && dealID == a.activeDeal && gen == a.gen
}

func (a *App) updateBoard(msg tea.KeyMsg) tea.Cmd {
	cols := a.board.Columns()
	switch msg.String() {
	case "q":
		return tea.Quit
	case "left", "h":
		if a.col > 0 {
			a.col--
			a.row = 0
		}
	case "right", "l":
		if a.col < len(cols)-1 {
			a.col++
			a.row = 0
		}
	case "up", "k":
		if a.row > 0 {
			a.row--
		}
	case "down", "j":
		if a.col < len(cols) && a.row < len(cols[a.col].Deals)-1 {
			a.row++
		}
	case "enter":
		if d, ok := a.cursorDeal(); ok {
			return a.openDeal(d.ID)
		}
	case "m":
		return a.moveCursorDeal(1)
	case "M":
		return a.moveCursorDeal(-1)
	case "c":
		if a.col < len(cols) {
			a.board.ToggleCollapsed(cols[a.col].Stage.ID)
			return a.savePrefs(func(p *models.Preferences) { p.Collapsed = a.board.Collapsed() })
		}
	case "+", "=":
		return a.adjustFont(1)
	case "-":
		return a.adjustFont(-1)
	case "r":
		return a.fetchBoard()
	}
	return nil
}

func (a *App) updateActivity(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		if a.completing != "" {
			a.endCompletion()
			if a.focus == focusInput {
				a.toggleFocus()
			}
			return nil
		}
		a.closeDeal()
		return nil
	case "tab":
		if a.focus == focusInput && a.suggestions.IsVisible() {
			if s := a.suggestions.Selected(); s != nil {
				a.input.SetValue(string(a.parser.Marker) + s.Text)
				a.suggestions.Update("")
			}
			return nil
		}
		a.toggleFocus()
		return nil
	}

	if a.focus == focusInput {
		switch msg.String() {
		case "enter":
			raw := a.input.Value()
			a.input.Reset()
			a.suggestions.Update("")
			if id := a.completing; id != "" {
				a.endCompletion()
				a.toggleFocus()
				comment := strings.TrimSpace(raw)
				return a.mutate(func(ctx context.Context) error {
					return a.client.ToggleDone(ctx, id, comment)
				}, "Completed")
			}
			cmd, ok := a.parser.Parse(raw)
			if !ok {
				return nil
			}
			if cmd.Kind == command.KindTask {
				a.suggestions.Remember(cmd.Text)
			}
			return a.submit(a.activeDeal, raw)
		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
				return nil
			}
		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
				return nil
			}
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		if a.completing == "" {
			a.suggestions.Update(a.input.Value())
		}
		return cmd
	}

	key := msg.String()
	if a.awaitingSubtask {
		if cmd, handled := a.subtaskKey(key); handled {
			return cmd
		}
	}

	switch key {
	case "up", "k":
		if a.entryIdx > 0 {
			a.entryIdx--
			a.refreshViewport()
		}
	case "down", "j":
		if a.entryIdx < len(a.entries)-1 {
			a.entryIdx++
			a.refreshViewport()
		}
	case "x":
		if t := a.selectedTask(); t != nil {
			id := t.ID
			return a.mutate(func(ctx context.Context) error {
				return a.client.ToggleDone(ctx, id, "")
			}, "")
		}
	case "c":
		if t := a.selectedTask(); t != nil && !t.IsDone {
			a.completing = t.ID
			a.input.Placeholder = "Completion comment for " + t.Text + " (enter to finish, esc to cancel)"
			a.toggleFocus()
		}
	case "p":
		if t := a.selectedTask(); t != nil {
			id := t.ID
			return a.mutate(func(ctx context.Context) error {
				return a.client.SetInProgress(ctx, id)
			}, "")
		}
	case "s":
		if a.selectedTask() != nil {
			a.awaitingSubtask = true
			a.subtaskPrefix = 0
		}
	case "d":
		if a.entryIdx < len(a.entries) {
			e := a.entries[a.entryIdx]
			text := ""
			if e.Kind == stream.KindTask {
				text = e.Task.Text
			} else {
				text = e.Message.Text
			}
			a.confirm = &pendingDelete{kind: e.Kind, id: e.ID(), text: text}
			a.prevMode, a.mode = a.mode, modeConfirm
		}
	case "m":
		return a.moveOpenDeal(1)
	case "M":
		return a.moveOpenDeal(-1)
	case "+", "=":
		return a.adjustFont(1)
	case "-":
		return a.adjustFont(-1)
	}
	return nil
}

// subtaskKey consumes the digits typed after "s". A number is toggled as
// soon as no further digit could still name a subtask; enter toggles what
// was typed so far. Any other key cancels.
func (a *App) subtaskKey(key string) (tea.Cmd, bool) {
	t := a.selectedTask()
	if t == nil {
		a.awaitingSubtask = false
		return nil, false
	}
	toggle := func(n int) tea.Cmd {
		a.awaitingSubtask, a.subtaskPrefix = false, 0
		if n < 1 || n > len(t.Subtasks) {
			return nil
		}
		id, index := t.ID, n-1
		return a.mutate(func(ctx context.Context) error {
			return a.client.ToggleSubtask(ctx, id, index)
		}, "")
	}

	if key == "enter" && a.subtaskPrefix > 0 {
		return toggle(a.subtaskPrefix), true
	}
	if len(key) != 1 || key[0] < '0' || key[0] > '9' {
		a.awaitingSubtask, a.subtaskPrefix = false, 0
		return nil, false
	}
	n := a.subtaskPrefix*10 + int(key[0]-'0')
	if n == 0 {
		a.awaitingSubtask = false
		return nil, true
	}
	if n*10 > len(t.Subtasks) {
		return toggle(n), true
	}
	a.subtaskPrefix = n
	return nil, true
}

func (a *App) endCompletion() {
	a.completing = ""
	a.input.Placeholder = a.placeholder
	a.input.Reset()
}

func (a *App) updateConfirm(msg tea.KeyMsg) tea.Cmd {
	pd := a.confirm
	a.confirm = nil
	a.mode = a.prevMode
	if pd == nil {
		return nil
	}
	switch strings.ToLower(msg.String()) {
	case "y":
		return a.mutate(func(ctx context.Context) error {
			if pd.kind == stream.KindTask {
				return a.client.DeleteTask(ctx, pd.id)
			}
			return a.client.DeleteMessage(ctx, pd.id)
		}, "Deleted")
	}
	return nil
}

func (a *App) toggleFocus() {
	if a.focus == focusInput {
		a.focus = focusStream
		a.input.Blur()
	} else {
		a.focus = focusInput
		a.input.Focus()
	}
	a.refreshViewport()
}

// cursorDeal returns the deal under the board cursor.
func (a *App) cursorDeal() (models.Deal, bool) {
	cols := a.board.Columns()
	if a.col >= len(cols) {
		return models.Deal{}, false
	}
	c := cols[a.col]
	if c.Collapsed || a.row >= len(c.Deals) {
		return models.Deal{}, false
	}
	return c.Deals[a.row], true
}

func (a *App) clampCursor() {
	cols := a.board.Columns()
	if a.col >= len(cols) {
		a.col = max(0, len(cols)-1)
	}
	if a.col < len(cols) && a.row >= len(cols[a.col].Deals) {
		a.row = max(0, len(cols[a.col].Deals)-1)
	}
}

func (a *App) openDeal(dealID string) tea.Cmd {
	a.board.Select(dealID)
	a.activeDeal = dealID
	a.entries = nil
	a.entryIdx = 0
	a.mode = modeActivity
	a.focus = focusInput
	a.input.Focus()
	a.gen++
	a.refreshViewport()
	return a.fetchActivity(dealID, a.gen)
}

func (a *App) closeDeal() {
	a.board.ClearSelection()
	a.activeDeal = ""
	a.entries = nil
	a.awaitingSubtask = false
	if a.completing != "" {
		a.endCompletion()
	}
	a.mode = modeBoard
	a.input.Blur()
	a.gen++
}

// moveCursorDeal moves the deal under the cursor one stage along and keeps
// the cursor on it.
func (a *App) moveCursorDeal(delta int) tea.Cmd {
	d, ok := a.cursorDeal()
	if !ok {
		return nil
	}
	target, ok := a.board.AdjacentStage(d.StageID, delta)
	if !ok || !a.board.Move(d.ID, target) {
		return nil
	}
	for i, c := range a.board.Columns() {
		if c.Stage.ID != target {
			continue
		}
		a.col = i
		for j, cd := range c.Deals {
			if cd.ID == d.ID {
				a.row = j
			}
		}
	}
	return a.moveDeal(d.ID, target)
}

// moveOpenDeal moves the deal whose panel is open. Moving drops focus, so
// the panel closes.
func (a *App) moveOpenDeal(delta int) tea.Cmd {
	d, ok := a.board.Deal(a.activeDeal)
	if !ok {
		return nil
	}
	target, ok := a.board.AdjacentStage(d.StageID, delta)
	if !ok || !a.board.Move(d.ID, target) {
		return nil
	}
	a.closeDeal()
	return a.moveDeal(d.ID, target)
}

func (a *App) moveDeal(dealID, stageID string) tea.Cmd {
	return a.mutate(func(ctx context.Context) error {
		return a.client.MoveDeal(ctx, dealID, stageID)
	}, "")
}

func (a *App) selectedTask() *models.Task {
	if a.entryIdx >= len(a.entries) {
		return nil
	}
	e := a.entries[a.entryIdx]
	if e.Kind != stream.KindTask {
		return nil
	}
	return e.Task
}

func (a *App) adjustFont(delta int) tea.Cmd {
	size := a.prefs.FontSize + delta
	if size < prefs.MinFontSize || size > prefs.MaxFontSize {
		return nil
	}
	return a.savePrefs(func(p *models.Preferences) { p.FontSize = size })
}

func (a *App) resize() {
	a.input.SetWidth(max(20, a.panelWidth()-4))
	a.viewport.Width = a.panelWidth()
	a.viewport.Height = max(3, a.height-12)
	a.refreshViewport()
}

func (a *App) panelWidth() int {
	w := a.prefs.PanelWidth
	if w <= 0 || w > a.width {
		w = a.width
	}
	return w
}

// --- Commands ---

func (a *App) fetchBoard() tea.Cmd {
	return func() tea.Msg {
		stages, deals, err := a.client.Board(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return boardLoadedMsg{stages: stages, deals: deals}
	}
}

func (a *App) fetchActivity(dealID string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		entries, err := a.client.Activity(context.Background(), dealID)
		if err != nil {
			return activityFailedMsg{dealID: dealID, gen: gen, err: err}
		}
		return activityLoadedMsg{dealID: dealID, gen: gen, entries: entries}
	}
}

func (a *App) fetchPrefs() tea.Cmd {
	return func() tea.Msg {
		p, err := a.client.Preferences(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return prefsLoadedMsg{p}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, _ := a.client.CheckHealth(context.Background())
		return daemonStatusMsg{online: ok}
	}
}

// refetch reloads the board and, when a panel is open, its activity.
func (a *App) refetch() tea.Cmd {
	cmds := []tea.Cmd{a.fetchBoard()}
	if a.activeDeal != "" {
		a.gen++
		cmds = append(cmds, a.fetchActivity(a.activeDeal, a.gen))
	}
	return tea.Batch(cmds...)
}

// mutate runs a write. Failures surface in the banner; every outcome
// triggers a refetch.
func (a *App) mutate(fn func(ctx context.Context) error, note string) tea.Cmd {
	return func() tea.Msg {
		if err := fn(context.Background()); err != nil {
			return mutationFailedMsg{err}
		}
		return mutationDoneMsg{note: note}
	}
}

func (a *App) submit(dealID, raw string) tea.Cmd {
	return func() tea.Msg {
		if _, err := a.client.Submit(context.Background(), dealID, raw); err != nil {
			return mutationFailedMsg{err}
		}
		return mutationDoneMsg{}
	}
}

func (a *App) savePrefs(edit func(*models.Preferences)) tea.Cmd {
	p := a.prefs
	p.Collapsed = a.board.Collapsed()
	edit(&p)
	a.prefs = p
	a.resize()
	return func() tea.Msg {
		saved, err := a.client.SavePreferences(context.Background(), p)
		if err != nil {
			return mutationFailedMsg{err}
		}
		return prefsLoadedMsg{saved}
	}
}
