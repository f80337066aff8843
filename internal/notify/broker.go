// README: In-process event log that pollers page through and websocket clients subscribe to.
package notify

import (
	"sync"

	"carpool/internal/types"
)

const DefaultBacklog = 1024

// Broker keeps the most recent events in a ring and fans them out to live
// subscribers. A subscriber with a full buffer misses the event and can catch up
// with Since.
type Broker struct {
	mu      sync.RWMutex
	seq     uint64
	ring    []Event
	next    int
	full    bool
	subs    map[types.ID]map[chan Event]struct{}
	onDrop  func()
	bufSize int
}

func NewBroker(backlog int) *Broker {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Broker{
		ring:    make([]Event, backlog),
		subs:    make(map[types.ID]map[chan Event]struct{}),
		bufSize: 16,
	}
}

// Publish stamps e with the next sequence number and delivers it.
func (b *Broker) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e.Seq = b.seq
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	for _, r := range e.Recipients {
		for ch := range b.subs[r] {
			select {
			case ch <- e:
			default:
				if b.onDrop != nil {
					b.onDrop()
				}
			}
		}
	}
	return e
}

// Since returns userID's events with Seq > after, oldest first, at most limit.
func (b *Broker) Since(userID types.ID, after uint64, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.next
	start := 0
	if b.full {
		n = len(b.ring)
		start = b.next
	}
	out := []Event{}
	for i := 0; i < n; i++ {
		e := b.ring[(start+i)%len(b.ring)]
		if e.Seq <= after || !addressedTo(e, userID) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe streams userID's future events until cancel is called.
func (b *Broker) Subscribe(userID types.ID) (<-chan Event, func()) {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func addressedTo(e Event, userID types.ID) bool {
	for _, r := range e.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}
