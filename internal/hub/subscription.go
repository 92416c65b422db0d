package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/metrics"
)

// Subscription is one live listener on an event. Read encoded messages from
// Messages until Done is closed.
type Subscription struct {
	hub  *Hub
	key  domain.EventKey
	out  chan []byte
	done chan struct{}
	once sync.Once

	// guarded by the topic lock
	hasUpdate    bool
	lastRevision uint64

	lastDelivered atomic.Int64
}

func newSubscription(h *Hub, key domain.EventKey, buffer int) *Subscription {
	s := &Subscription{
		hub:  h,
		key:  key,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	s.lastDelivered.Store(h.now().UnixNano())
	return s
}

// Key returns the event this subscription listens to.
func (s *Subscription) Key() domain.EventKey { return s.key }

// Messages yields encoded JSON messages in publish order.
func (s *Subscription) Messages() <-chan []byte { return s.out }

// Done is closed once the hub has removed the subscription.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Delivered records that a message reached the client. Subscribers that stop
// confirming delivery are swept as stale.
func (s *Subscription) Delivered() {
	s.lastDelivered.Store(s.hub.now().UnixNano())
}

func (s *Subscription) lastDelivery() time.Time {
	return time.Unix(0, s.lastDelivered.Load())
}

func (s *Subscription) close(cause string) {
	s.once.Do(func() {
		close(s.done)
		metrics.SubscriberRemoved()
		if cause != "" {
			metrics.SubscriberDropped(cause)
		}
	})
}
