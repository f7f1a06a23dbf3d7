package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	OrderCreated = "order.created"
	OrderUpdated = "order.updated"
	OrderFilled  = "order.filled"

	PositionOpened  = "position.opened"
	PositionUpdated = "position.updated"
	PositionClosed  = "position.closed"

	TradeClosed = "trade.closed"
)

type Event struct {
	Name    string
	At      time.Time
	Payload any
}

type subscriber struct {
	ch chan Event
}

// Bus is a small in-process pub/sub fanout for order, position, and trade
// change events. Publish never blocks: a subscriber with a full buffer
// misses the event and a drop counter ticks.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscriber
	closed  bool
	dropped uint64
}

func NewBus() *Bus {
	return &Bus{subs: map[string][]*subscriber{}}
}

func (b *Bus) Subscribe(name string, buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	sub := &subscriber{ch: make(chan Event, buf)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[name]
		for i, it := range list {
			if it == sub {
				b.subs[name] = append(list[:i], list[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

func (b *Bus) Publish(name string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Name: name, At: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[name] {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			close(sub.ch)
		}
	}
	b.subs = map[string][]*subscriber{}
}
