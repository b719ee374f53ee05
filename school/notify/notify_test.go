package notify_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivehub/school-engine/school"
	"github.com/drivehub/school-engine/school/notify"
)

func TestPublish_DeliversToTopicSubscribers(t *testing.T) {
	n := notify.New()
	reserved := n.Subscribe(school.EventSlotReserved)
	defer reserved.Close()
	swept := n.Subscribe(school.EventSlotSwept)
	defer swept.Close()

	n.Publish(school.Event{Type: school.EventSlotReserved, SlotID: "slot-1", UserID: "stu-1"})

	ev := <-reserved.C
	assert.Equal(t, "slot-1", ev.SlotID)
	assert.Equal(t, "stu-1", ev.UserID)
	assert.False(t, ev.OccurredAt.IsZero(), "publish stamps the event")

	select {
	case ev := <-swept.C:
		t.Fatalf("unexpected event on the swept topic: %+v", ev)
	default:
	}
}

func TestPublish_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	// GIVEN: A subscriber that never drains its buffer
	// WHEN: Publishing more events than the buffer holds
	// THEN: Publish returns without blocking; overflow is dropped

	n := notify.New()
	sub := n.Subscribe(school.EventSlotReserved)
	defer sub.Close()

	for i := 0; i < 100; i++ {
		n.Publish(school.Event{Type: school.EventSlotReserved})
	}

	delivered := len(sub.C)
	assert.Greater(t, delivered, 0)
	assert.Less(t, delivered, 100, "overflow beyond the buffer is dropped")
}

func TestConcurrentPublishAndClose(t *testing.T) {
	// GIVEN: Publishers hammering a topic
	// WHEN: Subscribers connect and disconnect concurrently
	// THEN: No send ever hits a closed channel and no slice read tears

	n := notify.New()
	stop := make(chan struct{})

	var publishers sync.WaitGroup
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					n.Publish(school.Event{Type: school.EventSlotReserved, SlotID: "slot-1"})
				}
			}
		}()
	}

	var closers sync.WaitGroup
	for i := 0; i < 200; i++ {
		subs := make([]*notify.Subscription, 4)
		for j := range subs {
			subs[j] = n.Subscribe(school.EventSlotReserved)
		}
		for _, sub := range subs {
			closers.Add(1)
			go func(sub *notify.Subscription) {
				defer closers.Done()
				sub.Close()
			}(sub)
		}
	}
	closers.Wait()

	close(stop)
	publishers.Wait()
}

func TestClose_RemovesSubscription(t *testing.T) {
	n := notify.New()
	sub := n.Subscribe(school.EventSlotReserved)

	sub.Close()
	sub.Close() // idempotent

	_, open := <-sub.C
	require.False(t, open, "channel closed exactly once")

	// Publishing after close must not panic on the closed channel.
	n.Publish(school.Event{Type: school.EventSlotReserved})
}
