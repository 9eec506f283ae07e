package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewBroker(8)

	ch1, cancel1 := broker.Subscribe()
	ch2, cancel2 := broker.Subscribe()
	defer cancel1()
	defer cancel2()

	broker.Publish(Event{Kind: EventLog, Message: "hello"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "hello", ev.Message)
			assert.False(t, ev.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	broker := NewBroker(2)
	ch, cancel := broker.Subscribe()
	defer cancel()

	// Publish never blocks, regardless of consumer speed.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			broker.Publish(Event{Kind: EventProgress, Progress: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Only the buffered prefix survives.
	var received int
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 2, received)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker(1)
	ch, cancel := broker.Subscribe()

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	broker.Publish(Event{Kind: EventLog, Message: "after"})

	// Double cancel is a no-op.
	cancel()
}

func TestBrokerDefaultBuffer(t *testing.T) {
	broker := NewBroker(0)
	require.Equal(t, 256, broker.buffer)
}
