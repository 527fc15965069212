package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qubesd/qubesd/pkg/property"
)

func TestEventBus_DeliversToMatchingSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	all := bus.Subscribe("")
	workOnly := bus.Subscribe("work")

	bus.Publish(EventLine{Subject: "work", Event: "domain-start", Args: property.Args{"foo": "bar"}})
	bus.Publish(EventLine{Subject: "other", Event: "domain-start"})

	line := <-all.Events()
	assert.Equal(t, "work", line.Subject)
	line = <-all.Events()
	assert.Equal(t, "other", line.Subject)

	line = <-workOnly.Events()
	assert.Equal(t, "work", line.Subject)
	select {
	case <-workOnly.Events():
		t.Fatal("workOnly subscriber should not receive the 'other' event")
	default:
	}
}

func TestEventBus_OverflowClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	sub := bus.Subscribe("")

	for i := 0; i < EventsQueueCap+1; i++ {
		bus.Publish(EventLine{Event: "tick"})
	}
	// one more publish notices the overflow flag and closes the channel.
	bus.Publish(EventLine{Event: "tick"})

	_, ok := <-sub.Events()
	for ok {
		_, ok = <-sub.Events()
	}
	assert.True(t, sub.Overflowed())
}

func TestEventBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	sub := bus.Subscribe("")
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.False(t, sub.Overflowed())
}

func TestEventLine_Render(t *testing.T) {
	t.Parallel()

	line := EventLine{Subject: "work", Event: "domain-start", Args: property.Args{"qid": 3}}
	got := line.Render()
	assert.Contains(t, string(got), "work\x00domain-start\x00")
	assert.Contains(t, string(got), "qid=3\x00")
}
