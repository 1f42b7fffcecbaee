package tui

import (
	"github.com/fentz26/dealdesk/internal/command"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/stream"
)

// SubmitResult is the daemon's answer to an input submission.
type SubmitResult struct {
	Kind    command.Kind    `json:"kind"`
	Message *models.Message `json:"message,omitempty"`
	Task    *models.Task    `json:"task,omitempty"`
}

type mode int

const (
	modeBoard mode = iota
	modeActivity
	modeConfirm
)

// focus says which part of the activity panel receives keys.
type focus int

const (
	focusInput focus = iota
	focusStream
)

type boardLoadedMsg struct {
	stages []models.Stage
	deals  []models.Deal
}

// activityLoadedMsg carries a deal fetch. dealID and gen identify the
// request so answers for a deal that is no longer open are dropped.
type activityLoadedMsg struct {
	dealID  string
	gen     uint64
	entries []stream.Entry
}

// mutationDoneMsg reports a finished write. note is shown as a banner when
// non-empty; the board and open activity are refetched either way.
type mutationDoneMsg struct {
	note string
}

// mutationFailedMsg reports a rejected write. Local optimistic changes are
// undone by the refetch that follows.
type mutationFailedMsg struct {
	err error
}

// activityFailedMsg is a failed deal fetch, tagged like activityLoadedMsg.
type activityFailedMsg struct {
	dealID string
	gen    uint64
	err    error
}

type prefsLoadedMsg struct {
	prefs models.Preferences
}

type daemonStatusMsg struct {
	online bool
}

type errMsg struct {
	err error
}

// pendingDelete is the record awaiting y/n confirmation.
type pendingDelete struct {
	kind stream.Kind
	id   string
	text string
}
