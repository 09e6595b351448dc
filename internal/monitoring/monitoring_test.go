package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRingBounded(t *testing.T) {
	stream := NewStream(3)
	for i := 0; i < 10; i++ {
		stream.Publish(Event{Kind: EventMessageRouted, Subject: "m"})
	}
	events := stream.Events()
	assert.Len(t, events, 3)
	assert.Equal(t, uint64(10), stream.Snapshot().ByKind[EventMessageRouted])
}

func TestSubscribeReceivesEvents(t *testing.T) {
	stream := NewStream(10)
	ch, unsubscribe := stream.Subscribe(4)
	defer unsubscribe()

	stream.Publish(Event{Kind: EventAgentRegistered, Subject: "a1"})
	event := <-ch
	assert.Equal(t, EventAgentRegistered, event.Kind)
	assert.Equal(t, "a1", event.Subject)
	assert.False(t, event.Timestamp.IsZero())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	stream := NewStream(10)
	_, unsubscribe := stream.Subscribe(1)
	defer unsubscribe()

	// Publishes beyond the subscriber's buffer drop instead of blocking.
	for i := 0; i < 5; i++ {
		stream.Publish(Event{Kind: EventMessageRouted, Subject: "m"})
	}
	assert.Len(t, stream.Events(), 5)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	stream := NewStream(10)
	ch, unsubscribe := stream.Subscribe(1)
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, stream.Snapshot().Subscribers)
}

func TestSamplesAndSnapshot(t *testing.T) {
	stream := NewStream(2)
	stream.Record(Sample{Name: "cpu", Value: 0.5})
	stream.Record(Sample{Name: "cpu", Value: 0.7})
	stream.Record(Sample{Name: "mem", Value: 0.3})

	samples := stream.Samples()
	require.Len(t, samples, 2) // capacity bound

	snapshot := stream.Snapshot()
	assert.InDelta(t, 0.7, snapshot.LastSamples["cpu"].Value, 1e-9)
	assert.InDelta(t, 0.3, snapshot.LastSamples["mem"].Value, 1e-9)
}
