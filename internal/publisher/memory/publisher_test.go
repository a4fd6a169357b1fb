package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "topic-a", msgs[0].Topic)
	require.Equal(t, "topic-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	pub := New()
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "t", 1)
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "t", 1)
	require.ErrorIs(t, err, context.Canceled)
}
