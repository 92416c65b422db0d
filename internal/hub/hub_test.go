package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

var (
	eventA = domain.EventKey{OrganizationID: "org-1", EventCode: "FRIDAY"}
	eventB = domain.EventKey{OrganizationID: "org-1", EventCode: "SATURDAY"}
)

type fakeSnapshots struct {
	mu       sync.Mutex
	revision uint64
	err      error
	// onSnapshot runs before the snapshot is returned.
	onSnapshot func()
}

func (f *fakeSnapshots) Snapshot(_ context.Context, key domain.EventKey) (domain.Snapshot, error) {
	if f.onSnapshot != nil {
		f.onSnapshot()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Snapshot{}, f.err
	}
	return domain.Snapshot{
		OrganizationID: key.OrganizationID,
		EventCode:      key.EventCode,
		Queue:          []domain.QueueItem{},
		Revision:       f.revision,
	}, nil
}

type wireMessage struct {
	Type           MessageType     `json:"type"`
	OrganizationID string          `json:"organization_id"`
	EventCode      string          `json:"event_code"`
	Data           json.RawMessage `json:"data"`
}

func (m wireMessage) revision(t *testing.T) uint64 {
	t.Helper()
	var snap domain.Snapshot
	if err := json.Unmarshal(m.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap.Revision
}

func receive(t *testing.T, sub *Subscription) wireMessage {
	t.Helper()
	select {
	case raw := <-sub.Messages():
		var m wireMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		return m
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a message")
	}
	return wireMessage{}
}

func expectNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case raw := <-sub.Messages():
		t.Fatalf("unexpected message %s", raw)
	case <-time.After(30 * time.Millisecond):
	}
}

func subscribe(t *testing.T, h *Hub, key domain.EventKey) *Subscription {
	t.Helper()
	sub, err := h.Subscribe(context.Background(), key)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	return sub
}

func TestSubscribe_ConnectedThenSnapshot(t *testing.T) {
	h := New(&fakeSnapshots{revision: 4}, Config{})
	sub := subscribe(t, h, eventA)
	defer h.Unsubscribe(sub)

	first := receive(t, sub)
	if first.Type != TypeConnected {
		t.Errorf("first.Type = %q, want %q", first.Type, TypeConnected)
	}
	if first.OrganizationID != "org-1" || first.EventCode != "FRIDAY" {
		t.Errorf("connected scope = %s/%s, want org-1/FRIDAY", first.OrganizationID, first.EventCode)
	}

	second := receive(t, sub)
	if second.Type != TypeQueueUpdate {
		t.Fatalf("second.Type = %q, want %q", second.Type, TypeQueueUpdate)
	}
	if rev := second.revision(t); rev != 4 {
		t.Errorf("snapshot revision = %d, want 4", rev)
	}
}

func TestSubscribe_SnapshotError(t *testing.T) {
	h := New(&fakeSnapshots{err: errors.New("db down")}, Config{})
	if _, err := h.Subscribe(context.Background(), eventA); err == nil {
		t.Fatal("Subscribe() should fail when the snapshot fails")
	}
	if n := h.Subscribers(eventA); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestSubscribe_NewerUpdateWinsOverInitialSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{revision: 1}
	h := New(snaps, Config{})
	snaps.onSnapshot = func() {
		h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: 2})
	}

	sub := subscribe(t, h, eventA)
	defer h.Unsubscribe(sub)

	receive(t, sub) // connected
	update := receive(t, sub)
	if rev := update.revision(t); rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}
	expectNothing(t, sub)
}

func TestPublish_DeliversToEventOnly(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{})
	subA := subscribe(t, h, eventA)
	subB := subscribe(t, h, eventB)
	defer h.Unsubscribe(subA)
	defer h.Unsubscribe(subB)
	receive(t, subA)
	receive(t, subA)
	receive(t, subB)
	receive(t, subB)

	n := h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: 1})
	if n != 1 {
		t.Errorf("PublishSnapshot() = %d, want 1", n)
	}

	if m := receive(t, subA); m.Type != TypeQueueUpdate {
		t.Errorf("Type = %q, want %q", m.Type, TypeQueueUpdate)
	}
	expectNothing(t, subB)
}

func TestPublish_NoSubscribers(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{})
	if n := h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY"}); n != 0 {
		t.Errorf("PublishSnapshot() = %d, want 0", n)
	}
}

func TestPublish_SkipsStaleRevision(t *testing.T) {
	h := New(&fakeSnapshots{revision: 5}, Config{})
	sub := subscribe(t, h, eventA)
	defer h.Unsubscribe(sub)
	receive(t, sub)
	receive(t, sub)

	if n := h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: 3}); n != 0 {
		t.Errorf("stale PublishSnapshot() = %d, want 0", n)
	}
	expectNothing(t, sub)

	// equal revisions are re-sent; a forced refresh carries the current revision
	if n := h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: 5}); n != 1 {
		t.Errorf("current PublishSnapshot() = %d, want 1", n)
	}
}

func TestPublish_DropsSlowSubscriber(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{Buffer: 2})
	slow := subscribe(t, h, eventA)
	fast := subscribe(t, h, eventA)
	defer h.Unsubscribe(fast)

	// slow never reads; its outbox already holds connected + snapshot
	receive(t, fast)
	receive(t, fast)

	n := h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: 1})
	if n != 1 {
		t.Errorf("PublishSnapshot() = %d, want 1", n)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber should have been dropped")
	}
	if got := h.Subscribers(eventA); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
	receive(t, fast)
}

func TestPublish_NeverBlocks(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{Buffer: 2})
	sub := subscribe(t, h, eventA)
	defer h.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: uint64(i + 1)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{})
	sub := subscribe(t, h, eventA)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done() should be closed after Unsubscribe")
	}
	if n := h.Subscribers(eventA); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
	if n := h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY"}); n != 0 {
		t.Errorf("PublishSnapshot() after unsubscribe = %d, want 0", n)
	}
}

func TestTick_HeartbeatAndStaleSweep(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	h := New(&fakeSnapshots{}, Config{HeartbeatInterval: 10 * time.Second, Buffer: 8})
	h.now = func() time.Time { return now }

	live := subscribe(t, h, eventA)
	idle := subscribe(t, h, eventA)
	defer h.Unsubscribe(live)
	receive(t, live)
	receive(t, live)

	now = now.Add(15 * time.Second)
	live.Delivered()
	h.tick()

	if m := receive(t, live); m.Type != TypeHeartbeat {
		t.Errorf("Type = %q, want %q", m.Type, TypeHeartbeat)
	}
	select {
	case <-idle.Done():
		t.Fatal("idle subscriber removed too early")
	default:
	}

	now = now.Add(10 * time.Second)
	live.Delivered()
	h.tick()

	select {
	case <-idle.Done():
	default:
		t.Fatal("idle subscriber should be removed after two missed intervals")
	}
	if n := h.Subscribers(eventA); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
}

func TestRun_ClosesOnShutdown(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{})
	sub := subscribe(t, h, eventA)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return")
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription should be closed on shutdown")
	}
	if _, err := h.Subscribe(context.Background(), eventA); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	h := New(&fakeSnapshots{}, Config{Buffer: 4})
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := h.Subscribe(context.Background(), eventA)
			if err != nil {
				t.Errorf("Subscribe() error: %v", err)
				return
			}
			h.PublishSnapshot(domain.Snapshot{OrganizationID: "org-1", EventCode: "FRIDAY", Revision: 1})
			h.Unsubscribe(sub)
		}()
	}

	wg.Wait()
	if n := h.Subscribers(eventA); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}
