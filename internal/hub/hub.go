// Package hub fans queue snapshots out to live subscribers of each event.
//
// Each (organization, event) key owns a topic with its own lock. A publish
// marshals the message once and offers it to every subscriber without
// blocking; a subscriber whose outbox is full is dropped rather than waited
// on.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/metrics"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBuffer            = 16
)

// ErrClosed is returned by Subscribe after the hub has shut down.
var ErrClosed = errors.New("hub closed")

// MessageType names a wire message.
type MessageType string

const (
	TypeConnected   MessageType = "connected"
	TypeHeartbeat   MessageType = "heartbeat"
	TypeQueueUpdate MessageType = "queue_update"
)

// Message is one JSON message on a live update stream.
type Message struct {
	Type           MessageType `json:"type"`
	OrganizationID string      `json:"organization_id,omitempty"`
	EventCode      string      `json:"event_code,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           any         `json:"data,omitempty"`

	// Revision orders queue updates; zero means unordered.
	Revision uint64 `json:"-"`
}

// Snapshotter builds the current state of an event queue.
type Snapshotter interface {
	Snapshot(ctx context.Context, key domain.EventKey) (domain.Snapshot, error)
}

// Config tunes a Hub.
type Config struct {
	HeartbeatInterval time.Duration
	// Buffer is the outbox size of each subscriber.
	Buffer int
}

type topic struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Hub owns every live subscription. Create one per process with New.
type Hub struct {
	snapshots Snapshotter
	interval  time.Duration
	buffer    int
	now       func() time.Time

	mu     sync.Mutex
	topics map[domain.EventKey]*topic
	closed bool
}

// New creates a Hub that sends initial snapshots from snapshots.
func New(snapshots Snapshotter, cfg Config) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	return &Hub{
		snapshots: snapshots,
		interval:  cfg.HeartbeatInterval,
		buffer:    cfg.Buffer,
		now:       time.Now,
		topics:    make(map[domain.EventKey]*topic),
	}
}

// Subscribe registers a subscriber for key. The outbox already holds a
// connected message followed by a queue_update with the current state, or a
// newer update if one was published while the snapshot was being built.
func (h *Hub) Subscribe(ctx context.Context, key domain.EventKey) (*Subscription, error) {
	sub := newSubscription(h, key, h.buffer)
	connected, err := h.encode(Message{
		Type:           TypeConnected,
		OrganizationID: key.OrganizationID,
		EventCode:      key.EventCode,
		Timestamp:      h.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	for {
		t, err := h.topic(key)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		if t.closed {
			// pruned between lookup and lock
			t.mu.Unlock()
			continue
		}
		sub.out <- connected
		t.subs[sub] = struct{}{}
		t.mu.Unlock()
		break
	}
	metrics.SubscriberAdded()
	metrics.MessagesSent(string(TypeConnected), 1)

	snap, err := h.snapshots.Snapshot(ctx, key)
	if err != nil {
		h.Unsubscribe(sub)
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	if h.offerInitial(sub, snap) {
		metrics.MessagesSent(string(TypeQueueUpdate), 1)
	}
	return sub, nil
}

// offerInitial enqueues snap unless a newer update already reached sub.
func (h *Hub) offerInitial(sub *Subscription, snap domain.Snapshot) bool {
	payload, err := h.encode(updateMessage(snap, h.now().UTC()))
	if err != nil {
		slog.Error("failed to encode snapshot", slog.String("event", sub.key.String()), slog.Any("error", err))
		return false
	}

	h.mu.Lock()
	t := h.topics[sub.key]
	h.mu.Unlock()
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; !ok {
		return false
	}
	if sub.hasUpdate && snap.Revision <= sub.lastRevision {
		return false
	}
	select {
	case sub.out <- payload:
		sub.hasUpdate = true
		sub.lastRevision = snap.Revision
		return true
	default:
		return false
	}
}

func (h *Hub) topic(key domain.EventKey) (*topic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	t, ok := h.topics[key]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[key] = t
	}
	return t, nil
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, "")
}

func (h *Hub) remove(sub *Subscription, cause string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[sub.key]
	if !ok {
		return
	}
	t.mu.Lock()
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		sub.close(cause)
	}
	if len(t.subs) == 0 {
		t.closed = true
		delete(h.topics, sub.key)
	}
	t.mu.Unlock()
}

// prune drops the topic for key if it has no subscribers left.
func (h *Hub) prune(key domain.EventKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[key]
	if !ok {
		return
	}
	t.mu.Lock()
	if len(t.subs) == 0 {
		t.closed = true
		delete(h.topics, key)
	}
	t.mu.Unlock()
}

// PublishSnapshot sends snap to every subscriber of its event.
func (h *Hub) PublishSnapshot(snap domain.Snapshot) int {
	return h.Publish(snap.Key(), updateMessage(snap, h.now().UTC()))
}

func updateMessage(snap domain.Snapshot, at time.Time) Message {
	return Message{
		Type:      TypeQueueUpdate,
		Timestamp: at,
		Data:      snap,
		Revision:  snap.Revision,
	}
}

// Publish offers msg to every subscriber of key and returns how many
// accepted it. Subscribers with a full outbox are dropped. A queue update
// older than one a subscriber already has is skipped for that subscriber.
func (h *Hub) Publish(key domain.EventKey, msg Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	payload, err := h.encode(msg)
	if err != nil {
		slog.Error("failed to encode message",
			slog.String("event", key.String()),
			slog.String("type", string(msg.Type)),
			slog.Any("error", err))
		return 0
	}

	h.mu.Lock()
	t := h.topics[key]
	h.mu.Unlock()
	if t == nil {
		return 0
	}

	delivered, dropped := t.offer(payload, msg)
	if delivered > 0 {
		metrics.MessagesSent(string(msg.Type), delivered)
	}
	if dropped > 0 {
		slog.Warn("dropped slow subscribers",
			slog.String("event", key.String()),
			slog.Int("count", dropped))
		h.prune(key)
	}
	return delivered
}

func (t *topic) offer(payload []byte, msg Message) (delivered, dropped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ordered := msg.Type == TypeQueueUpdate && msg.Revision > 0
	for sub := range t.subs {
		if ordered && sub.hasUpdate && msg.Revision < sub.lastRevision {
			continue
		}
		select {
		case sub.out <- payload:
			delivered++
			if msg.Type == TypeQueueUpdate {
				sub.hasUpdate = true
				if msg.Revision > sub.lastRevision {
					sub.lastRevision = msg.Revision
				}
			}
		default:
			delete(t.subs, sub)
			sub.close(metrics.DropSlow)
			dropped++
		}
	}
	return delivered, dropped
}

func (h *Hub) encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return payload, nil
}

// Run sends heartbeats and sweeps stale subscribers until ctx ends, then
// closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.tick()
		}
	}
}

// tick removes subscribers that have not taken a message for two intervals,
// then sends a heartbeat to everyone left.
func (h *Hub) tick() {
	now := h.now()
	deadline := now.Add(-2 * h.interval)

	h.mu.Lock()
	keys := make([]domain.EventKey, 0, len(h.topics))
	var stale []*Subscription
	for key, t := range h.topics {
		keys = append(keys, key)
		t.mu.Lock()
		for sub := range t.subs {
			if sub.lastDelivery().Before(deadline) {
				stale = append(stale, sub)
			}
		}
		t.mu.Unlock()
	}
	h.mu.Unlock()

	for _, sub := range stale {
		h.remove(sub, metrics.DropStale)
	}
	if len(stale) > 0 {
		slog.Info("removed stale subscribers", slog.Int("count", len(stale)))
	}

	beat := Message{Type: TypeHeartbeat, Timestamp: now.UTC()}
	for _, key := range keys {
		h.Publish(key, beat)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for key, t := range h.topics {
		t.mu.Lock()
		for sub := range t.subs {
			delete(t.subs, sub)
			sub.close(metrics.DropShutdown)
		}
		t.closed = true
		t.mu.Unlock()
		delete(h.topics, key)
	}
}

// Subscribers returns the number of live subscribers of key.
func (h *Hub) Subscribers(key domain.EventKey) int {
	h.mu.Lock()
	t := h.topics[key]
	h.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
