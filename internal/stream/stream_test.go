package stream

import (
	"math/rand"
	"testing"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(n int) time.Time { return base.Add(time.Duration(n) * time.Second) }

// labels renders entries as "kind:id" for compact diffs.
func labels(s Stream) []string {
	var out []string
	for _, e := range s.All() {
		out = append(out, string(e.Kind)+":"+e.ID())
	}
	return out
}

func TestCompose_Interleaves(t *testing.T) {
	messages := []models.Message{
		{ID: "m1", DealID: "D", CreatedAt: at(1), Seq: 1},
		{ID: "m3", DealID: "D", CreatedAt: at(3), Seq: 3},
	}
	tasks := []models.Task{
		{ID: "t2", DealID: "D", CreatedAt: at(2), Seq: 2},
	}

	got := labels(Compose(messages, tasks))
	want := []string{"message:m1", "task:t2", "message:m3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stream order mismatch (-want +got):\n%s", diff)
	}
}

func TestCompose_TieBreaks(t *testing.T) {
	messages := []models.Message{
		{ID: "m-late-seq", CreatedAt: at(5), Seq: 9},
		{ID: "m-same", CreatedAt: at(5), Seq: 7},
		{ID: "m-a", CreatedAt: at(5)},
		{ID: "m-b", CreatedAt: at(5)},
	}
	tasks := []models.Task{
		{ID: "t-same", CreatedAt: at(5), Seq: 7},
		{ID: "t-early-seq", CreatedAt: at(5), Seq: 8},
		{ID: "t-a", CreatedAt: at(5)},
	}

	got := labels(Compose(messages, tasks))
	want := []string{
		// seq 0 group: messages first, then input order
		"message:m-a", "message:m-b", "task:t-a",
		// seq 7: message before task
		"message:m-same", "task:t-same",
		"task:t-early-seq",
		"message:m-late-seq",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tiebreak mismatch (-want +got):\n%s", diff)
	}
}

func TestCompose_NonDecreasingAndDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var messages []models.Message
	var tasks []models.Task
	for i := 0; i < 200; i++ {
		ts := at(rng.Intn(20))
		if rng.Intn(2) == 0 {
			messages = append(messages, models.Message{ID: string(rune('a' + i%26)), CreatedAt: ts, Seq: int64(rng.Intn(5))})
		} else {
			tasks = append(tasks, models.Task{ID: string(rune('A' + i%26)), CreatedAt: ts, Seq: int64(rng.Intn(5))})
		}
	}

	s := Compose(messages, tasks)
	require.Equal(t, len(messages)+len(tasks), s.Len())

	var prev time.Time
	for i, e := range s.All() {
		if i > 0 {
			require.False(t, e.CreatedAt().Before(prev), "entry %d goes back in time", i)
		}
		prev = e.CreatedAt()
	}

	assert.Equal(t, s.Entries(), Compose(messages, tasks).Entries())
}

func TestCompose_DoesNotMutateInputs(t *testing.T) {
	messages := []models.Message{{ID: "m2", CreatedAt: at(2)}, {ID: "m1", CreatedAt: at(1)}}
	tasks := []models.Task{{ID: "t0", CreatedAt: at(0)}}

	s := Compose(messages, tasks)
	assert.Equal(t, "m2", messages[0].ID)
	assert.Equal(t, "m1", messages[1].ID)

	entries := s.Entries()
	entries[0].Task.Text = "changed"
	assert.Empty(t, tasks[0].Text)
}

func TestCompose_Empty(t *testing.T) {
	s := Compose(nil, nil)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Entries())
}

func TestAll_StopsEarly(t *testing.T) {
	s := Compose([]models.Message{{ID: "1", CreatedAt: at(1)}, {ID: "2", CreatedAt: at(2)}}, nil)
	n := 0
	for range s.All() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}
