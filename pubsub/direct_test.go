package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectPublisherDeliversInPublicationOrder(t *testing.T) {
	p := NewDirectPublisher(DirectConfig{})
	defer p.Close()

	sub, err := p.Subscribe("actor:1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), "actor:1", []byte{byte(i)}))
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-sub.Messages():
			assert.Equal(t, []byte{byte(i)}, msg.Payload)
		case <-time.After(time.Second):
			require.Fail(t, "timed out waiting for message")
		}
	}
}

func TestDirectPublisherDoesNotCrossDeliverChannels(t *testing.T) {
	p := NewDirectPublisher(DirectConfig{})
	defer p.Close()

	subA, err := p.Subscribe("actor:a")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := p.Subscribe("actor:b")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, p.Publish(context.Background(), "actor:a", []byte("hello")))

	select {
	case msg := <-subA.Messages():
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		require.Fail(t, "subscriber on actor:a never received its message")
	}

	select {
	case <-subB.Messages():
		require.Fail(t, "subscriber on actor:b must not receive actor:a's message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDirectPublisherCloseUnblocksSubscribers(t *testing.T) {
	p := NewDirectPublisher(DirectConfig{})
	sub, err := p.Subscribe("node:1")
	require.NoError(t, err)

	p.Close()

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok, "Messages channel must be closed after publisher Close")
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for Messages to close")
	}
}

func TestDirectPublisherDisconnectsSlowSubscriber(t *testing.T) {
	p := NewDirectPublisher(DirectConfig{BatchSize: 1, SubscriberTimeout: 10 * time.Millisecond})
	defer p.Close()

	sub, err := p.Subscribe("object:1")
	require.NoError(t, err)

	// Fill the one-slot queue, then publish again without draining:
	// the second Publish blocks for SubscriberTimeout, then disconnects
	// the subscriber and closes its Messages channel.
	require.NoError(t, p.Publish(context.Background(), "object:1", []byte("first")))
	require.NoError(t, p.Publish(context.Background(), "object:1", []byte("second")))

	msg, ok := <-sub.Messages()
	require.True(t, ok)
	assert.Equal(t, []byte("first"), msg.Payload)

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok, "subscriber must be disconnected after failing to drain within SubscriberTimeout")
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for slow subscriber disconnect")
	}
}
