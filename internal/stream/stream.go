// Package stream merges a deal's messages and tasks into one timeline.
package stream

import (
	"iter"
	"sort"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
)

// Kind tags an entry.
type Kind string

const (
	KindMessage Kind = "message"
	KindTask    Kind = "task"
)

// Entry is one item of the activity stream. Exactly one of Message and Task is set.
type Entry struct {
	Kind    Kind            `json:"kind"`
	Message *models.Message `json:"message,omitempty"`
	Task    *models.Task    `json:"task,omitempty"`
}

// CreatedAt returns the ordering timestamp of the entry.
func (e Entry) CreatedAt() time.Time {
	if e.Kind == KindTask {
		return e.Task.CreatedAt
	}
	return e.Message.CreatedAt
}

// Seq returns the store-assigned sequence number of the entry.
func (e Entry) Seq() int64 {
	if e.Kind == KindTask {
		return e.Task.Seq
	}
	return e.Message.Seq
}

// ID returns the id of the underlying record.
func (e Entry) ID() string {
	if e.Kind == KindTask {
		return e.Task.ID
	}
	return e.Message.ID
}

// Stream is an ordered, immutable sequence of entries.
type Stream struct {
	entries []Entry
}

// Compose builds the timeline for one deal. Both inputs must already be
// filtered to that deal. Entries are ordered by creation time; ties are
// broken by sequence number, then messages before tasks, then input order.
// The inputs are copied, never modified.
func Compose(messages []models.Message, tasks []models.Task) Stream {
	entries := make([]Entry, 0, len(messages)+len(tasks))
	for i := range messages {
		m := messages[i]
		entries = append(entries, Entry{Kind: KindMessage, Message: &m})
	}
	for i := range tasks {
		t := tasks[i]
		entries = append(entries, Entry{Kind: KindTask, Task: &t})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ta, tb := a.CreatedAt(), b.CreatedAt(); !ta.Equal(tb) {
			return ta.Before(tb)
		}
		if sa, sb := a.Seq(), b.Seq(); sa != sb {
			return sa < sb
		}
		return a.Kind == KindMessage && b.Kind == KindTask
	})
	return Stream{entries: entries}
}

// Len returns the number of entries.
func (s Stream) Len() int {
	return len(s.entries)
}

// All yields entries in order. Iteration stops early if yield returns false.
func (s Stream) All() iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for i, e := range s.entries {
			if !yield(i, e) {
				return
			}
		}
	}
}

// Entries returns a copy of the ordered entries.
func (s Stream) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
