// Package trigger turns queue changes into broadcasts. Changes arriving from
// the change feed are debounced per event; when an event goes quiet its
// snapshot is rebuilt and published to the hub.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/changefeed"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/hub"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/keylock"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/metrics"
)

const flushTimeout = 5 * time.Second

// Snapshotter builds the current state of an event queue.
type Snapshotter interface {
	Snapshot(ctx context.Context, key domain.EventKey) (domain.Snapshot, error)
}

// Publisher fans messages out to live subscribers.
type Publisher interface {
	Publish(key domain.EventKey, msg hub.Message) int
	PublishSnapshot(snap domain.Snapshot) int
}

// Trigger rebuilds and publishes snapshots in response to changes.
type Trigger struct {
	snapshots Snapshotter
	hub       Publisher
	debouncer *Debouncer
	locks     keylock.Map
}

// New creates a Trigger that debounces changes over window.
func New(snapshots Snapshotter, h Publisher, window time.Duration) *Trigger {
	t := &Trigger{
		snapshots: snapshots,
		hub:       h,
	}
	t.debouncer = NewDebouncer(window, t.fire)
	return t
}

// Notify schedules a broadcast for the change's event.
func (t *Trigger) Notify(c changefeed.Change) {
	t.debouncer.Trigger(c.Key())
}

// Run consumes feed until ctx ends, then cancels pending broadcasts.
func (t *Trigger) Run(ctx context.Context, feed changefeed.Feed) error {
	defer t.debouncer.Stop()

	err := feed.Subscribe(ctx, t.Notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume change feed: %w", err)
	}
	return nil
}

// Broadcast pushes data to every subscriber of key right away. With nil
// data a fresh snapshot is sent as a queue_update. It returns the number of
// subscribers reached.
func (t *Trigger) Broadcast(ctx context.Context, key domain.EventKey, updateType string, data any) (int, error) {
	if data == nil {
		return t.flush(ctx, key)
	}
	if updateType == "" {
		updateType = string(hub.TypeQueueUpdate)
	}

	defer t.locks.Lock(key)()

	return t.hub.Publish(key, hub.Message{
		Type:           hub.MessageType(updateType),
		OrganizationID: key.OrganizationID,
		EventCode:      key.EventCode,
		Data:           data,
	}), nil
}

func (t *Trigger) fire(key domain.EventKey) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if _, err := t.flush(ctx, key); err != nil {
		slog.Error("broadcast failed",
			slog.String("event", key.String()),
			slog.Any("error", logging.WrapError(err, "flush queue snapshot")))
	}
}

// flush rebuilds the snapshot for key and publishes it. Flushes of the same
// key never interleave.
func (t *Trigger) flush(ctx context.Context, key domain.EventKey) (int, error) {
	defer t.locks.Lock(key)()

	start := time.Now()
	snap, err := t.snapshots.Snapshot(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", key, err)
	}
	n := t.hub.PublishSnapshot(snap)
	metrics.ObserveFlush(start)

	slog.Debug("queue broadcast",
		slog.String("event", key.String()),
		slog.Uint64("revision", snap.Revision),
		slog.Int("subscribers", n))
	return n, nil
}
