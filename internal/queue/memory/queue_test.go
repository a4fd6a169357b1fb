package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/job"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	for i := 0; i < 3; i++ {
		q.Enqueue(job.Job{ID: fmt.Sprintf("job-%d", i)})
	}
	require.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		got, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("job-%d", i), got.ID)
	}
	_, ok := q.Dequeue()
	require.False(t, ok)
	require.Equal(t, 0, q.Len())
}

func TestQueueItemsIsCopy(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	q.Enqueue(job.Job{ID: "a"})
	items := q.Items()
	items[0].ID = "mutated"

	got, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "a", got.ID)
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()

	q := NewQueue(-1)
	q.Enqueue(job.Job{ID: "a"})
	q.Enqueue(job.Job{ID: "b"})
	_, _ = q.Dequeue()
	q.Enqueue(job.Job{ID: "c"})

	drained := q.Drain()
	require.Equal(t, []string{"b", "c"}, ids(drained))
	require.Equal(t, 0, q.Len())
	require.Empty(t, q.Items())
}

func TestQueueCompactionKeepsOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	for i := 0; i < 200; i++ {
		q.Enqueue(job.Job{ID: fmt.Sprintf("%03d", i)})
	}
	for i := 0; i < 150; i++ {
		got, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("%03d", i), got.ID)
	}
	q.Enqueue(job.Job{ID: "tail"})
	items := q.Items()
	require.Len(t, items, 51)
	require.Equal(t, "150", items[0].ID)
	require.Equal(t, "tail", items[50].ID)
}

func ids(jobs []job.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
