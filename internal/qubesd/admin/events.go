package admin

import (
	"fmt"
	"sync"

	"github.com/qubesd/qubesd/pkg/property"
)

// EventsQueueCap bounds how many pending events a single admin.Events
// subscriber may accumulate before it is considered slow and disconnected,
// per spec.md §4.4's "slow clients have their queue capped; on overflow
// the stream is closed with an error event."
const EventsQueueCap = 256

// EventLine is one rendered `<subject>\0<event>\0<kwarg>=<value>\0…\n`
// line, subject being the Domain name the event fired on, or "" for
// Application-level events.
type EventLine struct {
	Subject string
	Event   string
	Args    property.Args
}

// Render formats the line exactly as spec.md §4.4 describes it.
func (e EventLine) Render() []byte {
	out := []byte(e.Subject)
	out = append(out, frameSep)
	out = append(out, e.Event...)
	out = append(out, frameSep)
	for k, v := range e.Args {
		out = append(out, fmt.Sprintf("%s=%v", k, v)...)
		out = append(out, frameSep)
	}
	out = append(out, '\n')
	return out
}

// subscriber is one admin.Events client's bounded mailbox. Filter, when
// non-empty, restricts delivery to events whose Subject matches exactly
// (a specific Domain) — an empty Filter means "every event."
type subscriber struct {
	ch       chan EventLine
	filter   string
	overflow bool
}

// Subscription is what a server connection handler reads admin.Events
// lines from. Overflowed reports true once the channel has been closed
// because the client fell too far behind — the handler uses it to decide
// whether to write a trailing error event before closing the connection.
type Subscription struct {
	bus *EventBus
	id  int
	sub *subscriber
}

// Events returns the channel to range over until it closes.
func (s *Subscription) Events() <-chan EventLine { return s.sub.ch }

// Overflowed reports whether the channel closed due to back-pressure
// rather than an explicit Close call.
func (s *Subscription) Overflowed() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.sub.overflow
}

// Close unsubscribes, if not already removed by an overflow.
func (s *Subscription) Close() { s.bus.Unsubscribe(s.id) }

// EventBus fans Application/Domain events out to every admin.Events
// subscriber, dropping and disconnecting any that fall behind instead of
// blocking the firing goroutine — mirroring the property package's
// FireAsync "don't let one slow handler stall the others" discipline,
// generalized across process boundaries to network clients.
type EventBus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new admin.Events client. filter is a Domain name
// ("" for all events).
func (b *EventBus) Subscribe(filter string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan EventLine, EventsQueueCap), filter: filter}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, sub: sub}
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *EventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers line to every matching subscriber, non-blockingly.
// A subscriber whose queue is already full is marked overflowed and
// dropped on the next Publish rather than mid-send, so the caller never
// observes a partially-delivered EventLine.
func (b *EventBus) Publish(line EventLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.overflow {
			close(sub.ch)
			delete(b.subs, id)
			continue
		}
		if sub.filter != "" && sub.filter != line.Subject {
			continue
		}
		select {
		case sub.ch <- line:
		default:
			sub.overflow = true
		}
	}
}
