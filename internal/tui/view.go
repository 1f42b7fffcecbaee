package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/dealdesk/internal/lifecycle"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/stream"
)

// palette colors, keyed by preference name
var palettes = map[string]struct{ accent, muted, text, bg string }{
	"default":       {accent: "#7C3AED", muted: "#6B7280", text: "#F9FAFB", bg: "#1F2937"},
	"light":         {accent: "#2563EB", muted: "#9CA3AF", text: "#111827", bg: "#E5E7EB"},
	"high-contrast": {accent: "#FACC15", muted: "#D1D5DB", text: "#FFFFFF", bg: "#000000"},
}

var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
)

type styles struct {
	title     lipgloss.Style
	accent    lipgloss.Style
	muted     lipgloss.Style
	selected  lipgloss.Style
	panel     lipgloss.Style
	column    lipgloss.Style
	statusBar lipgloss.Style
	ok        lipgloss.Style
	warn      lipgloss.Style
	bad       lipgloss.Style
}

func stylesFor(palette string) styles {
	p, ok := palettes[palette]
	if !ok {
		p = palettes["default"]
	}
	accent := lipgloss.Color(p.accent)
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1),
		accent:    lipgloss.NewStyle().Foreground(accent),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color(p.muted)),
		selected:  lipgloss.NewStyle().Background(accent).Foreground(lipgloss.Color(p.text)).Bold(true),
		panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1),
		column:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(p.muted)).Padding(0, 1),
		statusBar: lipgloss.NewStyle().Foreground(lipgloss.Color(p.muted)).Background(lipgloss.Color(p.bg)).Padding(0, 1),
		ok:        lipgloss.NewStyle().Foreground(successColor),
		warn:      lipgloss.NewStyle().Foreground(warningColor),
		bad:       lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
}

// View implements tea.Model
func (a *App) View() string {
	st := stylesFor(a.prefs.Palette)
	var b strings.Builder

	status := st.ok.Render("● online")
	if !a.daemonOnline {
		status = st.bad.Render("● offline")
	}
	b.WriteString(st.title.Render("DEALDESK") + "  " + status + st.muted.Render(fmt.Sprintf("  font %d", a.prefs.FontSize)))
	b.WriteString("\n")

	switch {
	case a.mode == modeActivity || a.prevMode == modeActivity && a.mode == modeConfirm:
		b.WriteString(a.renderActivity(st))
	default:
		b.WriteString(a.renderBoard(st))
	}
	b.WriteString("\n")

	if a.confirm != nil {
		b.WriteString(st.warn.Render(fmt.Sprintf("Delete %s %q? (y/n)", a.confirm.kind, truncate(a.confirm.text, 40))))
		b.WriteString("\n")
	}
	if a.banner != "" {
		if a.bannerErr {
			b.WriteString(st.bad.Render(a.banner))
		} else {
			b.WriteString(st.ok.Render(a.banner))
		}
		b.WriteString("\n")
	}
	b.WriteString(st.statusBar.Width(a.width).Render(a.helpLine()))
	return b.String()
}

func (a *App) helpLine() string {
	switch {
	case a.mode == modeConfirm:
		return "y: confirm • n: cancel"
	case a.mode == modeActivity && a.completing != "" && a.focus == focusInput:
		return "enter: complete task • esc: cancel"
	case a.mode == modeActivity && a.focus == focusInput:
		return "enter: send • ctrl+j: new line • tab: stream • esc: board"
	case a.mode == modeActivity:
		return "↑/↓: select • x: done • c: done with comment • p: in progress • s+N: subtask • d: delete • m/M: move • tab: input • esc: board"
	}
	return "←/→/↑/↓: navigate • enter: open • m/M: move • c: collapse • +/-: font • r: refresh • q: quit"
}

func (a *App) renderBoard(st styles) string {
	cols := a.board.Columns()
	if len(cols) == 0 {
		return st.muted.Render("No stages yet.")
	}
	open := 0
	for _, c := range cols {
		if !c.Collapsed {
			open++
		}
	}
	width := 24
	if open > 0 {
		width = max(16, (a.width-4*len(cols))/open)
	}

	rendered := make([]string, 0, len(cols))
	for i, c := range cols {
		header := c.Stage.Name
		if i == a.col {
			header = st.accent.Bold(true).Render(header)
		}
		if c.Collapsed {
			rendered = append(rendered, st.column.Render(header+st.muted.Render(fmt.Sprintf(" (%d)", len(c.Deals)))))
			continue
		}
		var lines []string
		lines = append(lines, header+st.muted.Render(fmt.Sprintf(" %d", len(c.Deals))))
		for j, d := range c.Deals {
			line := truncate(d.Title, width-2)
			if d.ValueCents != 0 {
				line += "\n" + st.muted.Render(formatValue(d.ValueCents))
			}
			if i == a.col && j == a.row {
				line = st.selected.Render(truncate(d.Title, width-2))
				if d.ValueCents != 0 {
					line += "\n" + formatValue(d.ValueCents)
				}
			}
			lines = append(lines, line)
		}
		rendered = append(rendered, st.column.Width(width).Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (a *App) renderActivity(st styles) string {
	var b strings.Builder
	if d, ok := a.board.Deal(a.activeDeal); ok {
		b.WriteString(st.accent.Bold(true).Render(d.Title))
		if d.Company != "" {
			b.WriteString(st.muted.Render("  " + d.Company))
		}
		b.WriteString("\n")
	}
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	if s := a.suggestions.Render(a.panelWidth(), st); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	inputStyle := st.column
	if a.focus == focusInput {
		inputStyle = st.panel
	}
	b.WriteString(inputStyle.Render(a.input.View()))
	if a.parser.IsTaskCommand(a.input.Value()) {
		b.WriteString("\n" + st.accent.Render("new task: first line is the title, further lines are subtasks"))
	}
	return b.String()
}

// refreshViewport re-renders the stream and keeps the selected entry visible.
func (a *App) refreshViewport() {
	st := stylesFor(a.prefs.Palette)
	now := time.Now()
	var lines []string
	selectedLine := 0
	for i, e := range a.entries {
		if i == a.entryIdx {
			selectedLine = len(lines)
		}
		lines = append(lines, renderEntry(e, i == a.entryIdx && a.focus == focusStream, now, st)...)
	}
	if len(lines) == 0 {
		lines = []string{st.muted.Render("No activity yet.")}
	}
	a.viewport.SetContent(strings.Join(lines, "\n"))
	if selectedLine < a.viewport.YOffset || selectedLine >= a.viewport.YOffset+a.viewport.Height {
		a.viewport.SetYOffset(selectedLine)
	}
}

func renderEntry(e stream.Entry, selected bool, now time.Time, st styles) []string {
	cursor := "  "
	if selected {
		cursor = st.accent.Render("▶ ")
	}
	stamp := st.muted.Render(e.CreatedAt().Local().Format("Jan 2 15:04"))

	if e.Kind == stream.KindMessage {
		m := e.Message
		who := "them"
		if m.IsMe {
			who = "you"
		}
		line := fmt.Sprintf("%s%s %s %s", cursor, stamp, st.accent.Render(who+":"), m.Text)
		if m.EditedAt != nil {
			line += st.muted.Render(" (edited)")
		}
		return []string{line}
	}

	t := e.Task
	line := cursor + stamp + " " + stateIcon(t, st) + " " + t.Text
	if t.Assignee != "" && t.Assignee != models.SelfAssignee {
		line += st.muted.Render(" @" + t.Assignee)
	}
	if t.DueDate != nil {
		due := "due " + t.DueDate.Local().Format("Jan 2")
		if lifecycle.IsOverdue(t, now) {
			line += " " + st.bad.Render(due)
		} else {
			line += " " + st.muted.Render(due)
		}
	}
	lines := []string{line}
	for i, sub := range lifecycle.DisplaySubtasks(t) {
		box := "[ ]"
		if sub.IsDone {
			box = st.ok.Render("[x]")
		}
		lines = append(lines, fmt.Sprintf("      %d. %s %s", i+1, box, sub.Text))
	}
	if t.IsDone && t.CompletionComment != "" {
		lines = append(lines, st.muted.Render("      "+t.CompletionComment))
	}
	return lines
}

func stateIcon(t *models.Task, st styles) string {
	switch lifecycle.State(t) {
	case models.TaskStateDone:
		return st.ok.Render("●")
	case models.TaskStateInProgress:
		return st.warn.Render("◐")
	}
	return "○"
}

func formatValue(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
