package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTopic(t *testing.T) {
	p := &Publisher{}
	topicName := "test-topic"

	require.NoError(t, p.NewTopic(topicName, time.Second))
	_, ok := p.topics[topicName]
	assert.True(t, ok, "topic should be created")

	assert.Error(t, p.NewTopic(topicName, time.Second), "should return error when topic already exists")
}

func TestRegisterSubscriber(t *testing.T) {
	p := NewPublisher(time.Second, "test-topic")

	assert.Error(t, p.RegisterSubscriber("non-existent-topic", func(param any) {}))

	require.NoError(t, p.RegisterSubscriber("test-topic", func(param any) {}))
	assert.Equal(t, 1, p.Subscribers("test-topic"))
	assert.Equal(t, 0, p.Subscribers("non-existent-topic"))
}

func TestPublishInRegistrationOrder(t *testing.T) {
	p := NewPublisher(time.Second, EngineTopics...)

	assert.Error(t, p.Publish("non-existent-topic", "x"))

	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		require.NoError(t, p.RegisterSubscriber(Data, func(param any) {
			got = append(got, name+":"+param.(string))
		}))
	}

	require.NoError(t, p.Publish(Data, "m1"))
	require.NoError(t, p.Publish(Data, "m2"))
	assert.Equal(t, []string{"a:m1", "b:m1", "c:m1", "a:m2", "b:m2", "c:m2"}, got)
}

func TestSubscribeFromSubscriber(t *testing.T) {
	p := NewPublisher(0, Connection)

	calls := 0
	require.NoError(t, p.RegisterSubscriber(Connection, func(any) {
		calls++
		_ = p.RegisterSubscriber(Connection, func(any) { calls += 10 })
	}))

	require.NoError(t, p.Publish(Connection, nil))
	assert.Equal(t, 1, calls)

	require.NoError(t, p.Publish(Connection, nil))
	assert.Equal(t, 12, calls)
}

func TestSlowSubscriberStillDelivers(t *testing.T) {
	p := NewPublisher(time.Millisecond, Error)
	done := false
	require.NoError(t, p.RegisterSubscriber(Error, func(any) { time.Sleep(3 * time.Millisecond) }))
	require.NoError(t, p.RegisterSubscriber(Error, func(any) { done = true }))

	require.NoError(t, p.Publish(Error, nil))
	assert.True(t, done)
}
