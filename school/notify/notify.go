/*
Package notify implements the in-process change notifier.

PURPOSE:
  Fans domain events out to subscribers (typically presentation-layer
  caches) after the core commits a mutation. Delivery is best-effort:
  a slow subscriber drops events rather than blocking the publisher,
  because events carry row identities, not state - a dropped event is
  at worst a stale cache until the next one.

USAGE:
  n := notify.New()
  sub := n.Subscribe(school.EventSlotReserved)
  defer sub.Close()
  for ev := range sub.C {
      // invalidate local views for ev.SlotID
  }
*/
package notify

import (
	"sync"
	"time"

	"github.com/drivehub/school-engine/school"
)

const subscriberBuffer = 16

// Notifier is a topic-keyed fan-out of domain events.
type Notifier struct {
	mu   sync.RWMutex
	subs map[school.EventType][]*Subscription
}

// Subscription receives events for one topic on C until closed.
type Subscription struct {
	C chan school.Event

	topic    school.EventType
	notifier *Notifier
	once     sync.Once
}

func New() *Notifier {
	return &Notifier{subs: make(map[school.EventType][]*Subscription)}
}

// Subscribe registers for one event type. The caller must Close the
// subscription when done.
func (n *Notifier) Subscribe(topic school.EventType) *Subscription {
	sub := &Subscription{
		C:        make(chan school.Event, subscriberBuffer),
		topic:    topic,
		notifier: n,
	}

	n.mu.Lock()
	n.subs[topic] = append(n.subs[topic], sub)
	n.mu.Unlock()

	return sub
}

// Publish delivers an event to every subscriber of its type.
// Non-blocking: subscribers with a full buffer miss the event. The
// sends run under the read lock; Close holds the write lock for the
// channel close, so a send can never hit a closed channel.
func (n *Notifier) Publish(ev school.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs[ev.Type] {
		select {
		case sub.C <- ev:
		default:
			// subscriber lagging; drop rather than block the mutation path
		}
	}
}

// Close removes the subscription and closes its channel. The removal
// and the close happen under the write lock, excluding in-flight
// publishes.
func (s *Subscription) Close() {
	s.once.Do(func() {
		n := s.notifier
		n.mu.Lock()
		defer n.mu.Unlock()

		subs := n.subs[s.topic]
		for i, sub := range subs {
			if sub == s {
				n.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.C)
	})
}
