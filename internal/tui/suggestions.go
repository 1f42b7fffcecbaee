package tui

import (
	"fmt"
	"slices"
	"strings"
)

// maxRecent bounds the remembered task titles.
const maxRecent = 20

// Suggestions completes task titles once the input starts with the marker.
type Suggestions struct {
	marker      rune
	recent      []SuggestionItem
	filtered    []SuggestionItem
	selectedIdx int
	visible     bool
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "template" or "recent"
}

var taskTemplates = []SuggestionItem{
	{Text: "Follow up call", Description: "Schedule the next call", Type: "template"},
	{Text: "Send proposal", Description: "Draft and send pricing", Type: "template"},
	{Text: "Send contract", Description: "Contract out for signature", Type: "template"},
	{Text: "Book demo", Description: "Product walkthrough", Type: "template"},
	{Text: "Check in", Description: "Light touch with the contact", Type: "template"},
	{Text: "Update deal value", Description: "Revise the forecast", Type: "template"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions(marker rune) *Suggestions {
	return &Suggestions{marker: marker}
}

// Update updates suggestions based on current input. Only the first line of a
// marker-prefixed input is completed.
func (s *Suggestions) Update(input string) {
	first, _, multi := strings.Cut(input, "\n")
	query, ok := strings.CutPrefix(first, string(s.marker))
	if !ok || multi {
		s.visible = false
		s.filtered = nil
		return
	}
	s.visible = true
	s.filter(strings.ToLower(strings.TrimSpace(query)))
}

// Remember records a created task title so it is offered again.
func (s *Suggestions) Remember(title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	s.recent = slices.DeleteFunc(s.recent, func(it SuggestionItem) bool { return it.Text == title })
	s.recent = append([]SuggestionItem{{Text: title, Description: "recent", Type: "recent"}}, s.recent...)
	if len(s.recent) > maxRecent {
		s.recent = s.recent[:maxRecent]
	}
}

func (s *Suggestions) filter(query string) {
	s.filtered = s.filtered[:0]
	seen := map[string]bool{}
	for _, item := range slices.Concat(s.recent, taskTemplates) {
		if seen[item.Text] {
			continue
		}
		if query == "" || strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
			seen[item.Text] = true
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int, st styles) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder
	b.WriteString(st.accent.Bold(true).Render("Tasks"))
	b.WriteString("\n")

	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(st.muted.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}
		var line string
		if i == s.selectedIdx {
			line = st.selected.Render("▶ " + item.Text)
		} else {
			line = "  " + item.Text
		}
		if item.Description != "" {
			line += " " + st.muted.Italic(true).Render(item.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return st.panel.Width(max(10, width-4)).Render(strings.TrimRight(b.String(), "\n"))
}
