package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryMQ_PublishReceive(t *testing.T) {
	q, err := NewInMemoryMQ(1)
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "events", []byte("one")))
	assert.ErrorIs(t, q.Publish(ctx, "events", []byte("two")), ErrQueueFull)

	msg, err := q.Receive(ctx, "events")
	require.NoError(t, err)
	data, err := q.GetMessageData(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
	assert.NoError(t, q.Ack("events", msg))
}

func TestInMemoryMQ_ReceiveHonoursContext(t *testing.T) {
	q, err := NewInMemoryMQ(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = q.Receive(ctx, "empty")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.CloseTopic("empty"))
	assert.ErrorIs(t, q.CloseTopic("empty"), ErrTopicNotExists)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), "x", nil), ErrQueueClosed)
}
