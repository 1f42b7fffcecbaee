// Package command interprets text typed into a deal's input line.
//
// A line starting with the marker character (default '#') is a task
// command: the rest of the first line is the task title and each further
// non-empty line becomes a subtask. Anything else is a plain message.
package command

import "strings"

// DefaultMarker prefixes task commands.
const DefaultMarker = '#'

// Kind says what an input line turns into.
type Kind string

const (
	KindMessage Kind = "message"
	KindTask    Kind = "task"
)

// Command is the parsed form of one submitted input block.
type Command struct {
	Kind     Kind
	Text     string   // message body or task title
	Subtasks []string // only for KindTask
}

// Parser parses input using a configurable marker.
type Parser struct {
	Marker rune
}

// New returns a parser for the given marker. A zero marker selects DefaultMarker.
func New(marker rune) Parser {
	if marker == 0 {
		marker = DefaultMarker
	}
	return Parser{Marker: marker}
}

// Parse uses the default marker.
func Parse(raw string) (Command, bool) {
	return New(DefaultMarker).Parse(raw)
}

// Parse classifies raw. ok is false when the input should be ignored:
// blank input, or a task marker with no title.
func (p Parser) Parse(raw string) (Command, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Command{}, false
	}

	marker := p.Marker
	if marker == 0 {
		marker = DefaultMarker
	}
	if !strings.HasPrefix(text, string(marker)) {
		return Command{Kind: KindMessage, Text: text}, true
	}

	body := strings.TrimPrefix(text, string(marker))
	lines := strings.Split(body, "\n")
	title := strings.TrimSpace(lines[0])
	if title == "" {
		return Command{}, false
	}

	var subtasks []string
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			subtasks = append(subtasks, line)
		}
	}
	return Command{Kind: KindTask, Text: title, Subtasks: subtasks}, true
}

// IsTaskCommand reports whether raw would parse as a task command. The TUI
// uses it to hint the user while typing.
func (p Parser) IsTaskCommand(raw string) bool {
	cmd, ok := p.Parse(raw)
	return ok && cmd.Kind == KindTask
}
