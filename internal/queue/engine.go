// Package queue owns the state machine of each event's singer queue.
//
// Every (organization, event) pair has one logical owner: a lock that
// serializes mutations of that event while snapshots read under a shared
// lock. The store stays the source of truth; the engine only holds the locks
// and a process-wide revision counter that every committed mutation bumps.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/admission"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/changefeed"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/keylock"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/metrics"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/normalize"
)

// DefaultSongDuration is the per-song estimate used for wait times.
const DefaultSongDuration = 4 * time.Minute

const publishTimeout = 2 * time.Second

// Store is the persistence the engine needs.
type Store interface {
	ActiveEntries(ctx context.Context, key domain.EventKey) ([]domain.Entry, error)
	GetEntry(ctx context.Context, key domain.EventKey, id string) (domain.Entry, error)
	InsertEntry(ctx context.Context, e domain.Entry, performedBy string) error
	Apply(ctx context.Context, key domain.EventKey, performedBy string, muts []domain.Mutation) error
}

// Admitter decides whether a candidate may join the queue.
type Admitter interface {
	Evaluate(ctx context.Context, key domain.EventKey, c admission.Candidate, active []domain.Entry, now time.Time) (admission.Decision, error)
}

// Publisher receives a change after every committed mutation.
type Publisher interface {
	Publish(ctx context.Context, c changefeed.Change) error
}

// Engine runs queue operations for all events.
type Engine struct {
	store        Store
	admitter     Admitter
	feed         Publisher
	songDuration time.Duration
	origin       string
	now          func() time.Time

	locks keylock.Map
	// revision only grows, so each event's snapshots are ordered by it.
	revision atomic.Uint64
}

// NewEngine creates an Engine. origin tags the changes it publishes so
// other processes can tell where they came from.
func NewEngine(store Store, admitter Admitter, feed Publisher, songDuration time.Duration, origin string) *Engine {
	if songDuration <= 0 {
		songDuration = DefaultSongDuration
	}
	return &Engine{
		store:        store,
		admitter:     admitter,
		feed:         feed,
		songDuration: songDuration,
		origin:       origin,
		now:          time.Now,
	}
}

// Submit runs admission for c and, when admitted, adds it to the queue.
// A rejected decision is returned with a nil entry and no error.
func (e *Engine) Submit(ctx context.Context, key domain.EventKey, c admission.Candidate, performedBy string) (admission.Decision, *domain.Entry, error) {
	d, entry, err := e.submit(ctx, key, c, performedBy)
	metrics.QueueOperation("submit", err)
	return d, entry, err
}

func (e *Engine) submit(ctx context.Context, key domain.EventKey, c admission.Candidate, performedBy string) (admission.Decision, *domain.Entry, error) {
	unlock := e.locks.Lock(key)

	now := e.now().UTC()
	active, err := e.store.ActiveEntries(ctx, key)
	if err != nil {
		unlock()
		return admission.Decision{}, nil, fmt.Errorf("load queue: %w", err)
	}

	d, err := e.admitter.Evaluate(ctx, key, c, active, now)
	if err != nil {
		unlock()
		return admission.Decision{}, nil, fmt.Errorf("evaluate request: %w", err)
	}
	if !d.IsAdmitted() {
		unlock()
		return d, nil, nil
	}

	tier := c.Tier
	if tier == "" {
		tier = domain.TierRegular
	}
	pair := d.Normalized
	if pair == (normalize.Pair{}) {
		pair = normalize.Key(c.SongTitle, c.SongArtist, normalize.Options{})
	}
	groupSize := c.GroupSize
	if groupSize < 1 {
		groupSize = 1
	}

	entry := domain.Entry{
		ID:               uuid.NewString(),
		OrganizationID:   key.OrganizationID,
		EventCode:        key.EventCode,
		SingerName:       strings.TrimSpace(c.SingerName),
		GroupSize:        groupSize,
		GroupMembers:     c.GroupMembers,
		SongTitle:        strings.TrimSpace(c.SongTitle),
		SongArtist:       strings.TrimSpace(c.SongArtist),
		NormalizedTitle:  pair.Title,
		NormalizedArtist: pair.Artist,
		Status:           domain.StatusQueued,
		Tier:             tier,
		IsPriority:       tier == domain.TierFastTrack,
		CreatedAt:        now,
		AmountCents:      d.PriceCents,
		IsPremium:        d.Premium,
		PricingRuleID:    d.PricingRuleID,
		Video:            c.Video,
	}
	if err := e.store.InsertEntry(ctx, entry, performedBy); err != nil {
		unlock()
		return admission.Decision{}, nil, fmt.Errorf("save entry: %w", err)
	}
	e.revision.Add(1)
	unlock()

	e.publish(ctx, key, changefeed.OpInsert, []string{entry.ID}, now)
	return d, &entry, nil
}

// Advance puts the next singer on stage and promotes the head of the queue
// to next. It does nothing when nobody is next or waiting.
func (e *Engine) Advance(ctx context.Context, key domain.EventKey, performedBy string) error {
	return e.mutate(ctx, key, "advance", performedBy, func(l lineup, at time.Time) ([]domain.Mutation, error) {
		return planAdvance(l, at), nil
	})
}

// Skip removes a queued or next entry from the line.
func (e *Engine) Skip(ctx context.Context, key domain.EventKey, id, performedBy string) error {
	return e.remove(ctx, key, id, "skip", domain.StatusSkipped, performedBy)
}

// Cancel withdraws a queued or next entry, e.g. at the singer's request.
func (e *Engine) Cancel(ctx context.Context, key domain.EventKey, id, performedBy string) error {
	return e.remove(ctx, key, id, "cancel", domain.StatusCancelled, performedBy)
}

func (e *Engine) remove(ctx context.Context, key domain.EventKey, id, action string, to domain.Status, performedBy string) error {
	return e.mutate(ctx, key, action, performedBy, func(l lineup, at time.Time) ([]domain.Mutation, error) {
		target, err := e.target(ctx, key, l, id, action)
		if err != nil {
			return nil, err
		}
		return planRemoval(l, target, action, to, at)
	})
}

// Prioritize moves a queued entry ahead of every non-priority entry.
func (e *Engine) Prioritize(ctx context.Context, key domain.EventKey, id, performedBy string) error {
	return e.mutate(ctx, key, "prioritize", performedBy, func(l lineup, at time.Time) ([]domain.Mutation, error) {
		target, err := e.target(ctx, key, l, id, "prioritize")
		if err != nil {
			return nil, err
		}
		if target.Status != domain.StatusQueued {
			return nil, &domain.TransitionError{EntryID: id, From: target.Status, Action: "prioritize"}
		}
		if target.IsPriority {
			return nil, nil
		}
		m := move(target, "prioritize", domain.StatusQueued, at)
		m.Prioritize = true
		return []domain.Mutation{m}, nil
	})
}

// Complete ends the current singer's turn. It never advances the queue.
func (e *Engine) Complete(ctx context.Context, key domain.EventKey, id, performedBy string) error {
	return e.mutate(ctx, key, "complete", performedBy, func(l lineup, at time.Time) ([]domain.Mutation, error) {
		target, err := e.target(ctx, key, l, id, "complete")
		if err != nil {
			return nil, err
		}
		return []domain.Mutation{move(target, "complete", domain.StatusCompleted, at)}, nil
	})
}

// AttachVideo stores matched video metadata on an active entry.
func (e *Engine) AttachVideo(ctx context.Context, key domain.EventKey, id string, video domain.Video, performedBy string) error {
	return e.mutate(ctx, key, "attach_video", performedBy, func(l lineup, at time.Time) ([]domain.Mutation, error) {
		target, err := e.target(ctx, key, l, id, "attach_video")
		if err != nil {
			return nil, err
		}
		m := move(target, "attach_video", target.Status, at)
		m.Video = &video
		return []domain.Mutation{m}, nil
	})
}

// target finds id among the active entries. An entry that exists but is
// finished yields a transition error.
func (e *Engine) target(ctx context.Context, key domain.EventKey, l lineup, id, action string) (*domain.Entry, error) {
	if t := l.find(id); t != nil {
		return t, nil
	}
	entry, err := e.store.GetEntry(ctx, key, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return nil, &domain.TransitionError{EntryID: id, From: entry.Status, Action: action}
}

type planFunc func(l lineup, at time.Time) ([]domain.Mutation, error)

// mutate runs plan under the event's write lock and applies the result
// atomically. The change is published after the lock is released.
func (e *Engine) mutate(ctx context.Context, key domain.EventKey, op, performedBy string, plan planFunc) error {
	ids, at, err := e.apply(ctx, key, performedBy, plan)
	metrics.QueueOperation(op, err)
	if err != nil || len(ids) == 0 {
		return err
	}
	e.publish(ctx, key, changefeed.OpUpdate, ids, at)
	return nil
}

func (e *Engine) apply(ctx context.Context, key domain.EventKey, performedBy string, plan planFunc) ([]string, time.Time, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	at := e.now().UTC()
	active, err := e.store.ActiveEntries(ctx, key)
	if err != nil {
		return nil, at, fmt.Errorf("load queue: %w", err)
	}

	muts, err := plan(newLineup(active), at)
	if err != nil || len(muts) == 0 {
		return nil, at, err
	}
	if err := checkTransitions(muts); err != nil {
		return nil, at, err
	}
	if err := e.store.Apply(ctx, key, performedBy, muts); err != nil {
		return nil, at, err
	}
	e.revision.Add(1)

	ids := make([]string, 0, len(muts))
	for _, m := range muts {
		ids = append(ids, m.EntryID)
	}
	return ids, at, nil
}

// checkTransitions rejects a plan holding any move the status table forbids.
// Mutations that keep the status, such as prioritize or attach_video, must
// target an active entry.
func checkTransitions(muts []domain.Mutation) error {
	for _, m := range muts {
		ok := domain.CanTransition(m.From, m.To)
		if m.From == m.To {
			ok = m.From.IsActive()
		}
		if !ok {
			return &domain.TransitionError{EntryID: m.EntryID, From: m.From, Action: m.Action}
		}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, key domain.EventKey, op changefeed.Op, ids []string, at time.Time) {
	if e.feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := e.feed.Publish(ctx, changefeed.Change{
		OrganizationID: key.OrganizationID,
		EventCode:      key.EventCode,
		Op:             op,
		EntryIDs:       ids,
		Origin:         e.origin,
		At:             at,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to publish queue change",
			slog.String("event", key.String()),
			slog.String("op", string(op)),
			slog.Any("error", err))
	}
}

// Snapshot returns the event's current derived state.
func (e *Engine) Snapshot(ctx context.Context, key domain.EventKey) (domain.Snapshot, error) {
	unlock := e.locks.RLock(key)
	active, err := e.store.ActiveEntries(ctx, key)
	rev := e.revision.Load()
	unlock()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load queue: %w", err)
	}
	return e.build(key, active, rev, e.now().UTC()), nil
}

// Position returns one entry with its place in line. Finished entries are
// returned with position 0.
func (e *Engine) Position(ctx context.Context, key domain.EventKey, id string) (domain.QueueItem, error) {
	snap, err := e.Snapshot(ctx, key)
	if err != nil {
		return domain.QueueItem{}, err
	}
	if snap.Current != nil && snap.Current.ID == id {
		return *snap.Current, nil
	}
	if snap.Next != nil && snap.Next.ID == id {
		return *snap.Next, nil
	}
	for _, item := range snap.Queue {
		if item.ID == id {
			return item, nil
		}
	}

	entry, err := e.store.GetEntry(ctx, key, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.QueueItem{}, fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)
		}
		return domain.QueueItem{}, err
	}
	return domain.QueueItem{Entry: entry, DisplayName: entry.DisplayName()}, nil
}

func (e *Engine) build(key domain.EventKey, active []domain.Entry, rev uint64, now time.Time) domain.Snapshot {
	l := newLineup(active)
	remaining := remainingFor(l.singing, e.songDuration, now)

	snap := domain.Snapshot{
		OrganizationID: key.OrganizationID,
		EventCode:      key.EventCode,
		Queue:          make([]domain.QueueItem, 0, len(l.waiting)),
		Revision:       rev,
		GeneratedAt:    now,
	}

	if l.singing != nil {
		snap.Current = &domain.QueueItem{
			Entry:         *l.singing,
			DisplayName:   l.singing.DisplayName(),
			EstimatedWait: FormatWait(0),
		}
	}

	pos := 1
	if l.next != nil {
		snap.Next = item(*l.next, pos, remaining)
		pos++
	}
	for i, w := range l.waiting {
		wait := waitFor(i, l.next != nil, remaining, e.songDuration)
		snap.Queue = append(snap.Queue, *item(w, pos+i, wait))
	}

	snap.TotalInQueue = len(l.waiting)
	if l.next != nil {
		snap.TotalInQueue++
	}
	return snap
}

func item(entry domain.Entry, pos int, wait time.Duration) *domain.QueueItem {
	return &domain.QueueItem{
		Entry:                entry,
		DisplayName:          entry.DisplayName(),
		Position:             pos,
		EstimatedWaitSeconds: int64(wait / time.Second),
		EstimatedWait:        FormatWait(wait),
	}
}
