package queue

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

// lineup is the derived view of an event's active entries.
type lineup struct {
	singing *domain.Entry
	next    *domain.Entry
	waiting []domain.Entry
}

func newLineup(active []domain.Entry) lineup {
	var l lineup
	for i := range active {
		e := active[i]
		switch e.Status {
		case domain.StatusSinging:
			if l.singing == nil {
				l.singing = &e
			}
		case domain.StatusNext:
			if l.next == nil {
				l.next = &e
			}
		case domain.StatusQueued:
			l.waiting = append(l.waiting, e)
		}
	}
	sortWaiting(l.waiting)
	return l
}

// sortWaiting orders entries priority first, then by arrival.
func sortWaiting(entries []domain.Entry) {
	slices.SortStableFunc(entries, func(a, b domain.Entry) int {
		if a.IsPriority != b.IsPriority {
			if a.IsPriority {
				return -1
			}
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (l lineup) find(id string) *domain.Entry {
	if l.singing != nil && l.singing.ID == id {
		return l.singing
	}
	if l.next != nil && l.next.ID == id {
		return l.next
	}
	for i := range l.waiting {
		if l.waiting[i].ID == id {
			return &l.waiting[i]
		}
	}
	return nil
}

func move(e *domain.Entry, action string, to domain.Status, at time.Time) domain.Mutation {
	return domain.Mutation{EntryID: e.ID, Action: action, From: e.Status, To: to, At: at}
}

// planAdvance puts the next singer on stage. Whoever is singing is completed
// first so the one-singer rule holds at every statement. With nobody waiting
// the stage is simply cleared, and an empty lineup plans nothing.
func planAdvance(l lineup, at time.Time) []domain.Mutation {
	var muts []domain.Mutation
	if l.singing != nil {
		muts = append(muts, move(l.singing, "advance", domain.StatusCompleted, at))
	}
	if l.next == nil && len(l.waiting) == 0 {
		return muts
	}

	waiting := l.waiting
	if l.next != nil {
		muts = append(muts, move(l.next, "advance", domain.StatusSinging, at))
	} else {
		muts = append(muts, move(&waiting[0], "advance", domain.StatusSinging, at))
		waiting = waiting[1:]
	}
	if len(waiting) > 0 {
		muts = append(muts, move(&waiting[0], "advance", domain.StatusNext, at))
	}
	return muts
}

// planRemoval takes a waiting or next entry out of line. When the next
// singer leaves, the head of the queue takes their place.
func planRemoval(l lineup, target *domain.Entry, action string, to domain.Status, at time.Time) ([]domain.Mutation, error) {
	if !domain.CanTransition(target.Status, to) {
		return nil, &domain.TransitionError{EntryID: target.ID, From: target.Status, Action: action}
	}

	muts := []domain.Mutation{move(target, action, to, at)}
	if target.Status == domain.StatusNext && len(l.waiting) > 0 {
		muts = append(muts, move(&l.waiting[0], action, domain.StatusNext, at))
	}
	return muts, nil
}

// waitFor estimates how long the entry at waiting index i has until it sings.
func waitFor(i int, hasNext bool, remaining, songDuration time.Duration) time.Duration {
	ahead := i
	if hasNext {
		ahead++
	}
	return time.Duration(ahead)*songDuration + remaining
}

// remainingFor is how much of the current song is left, floored at zero.
func remainingFor(singing *domain.Entry, songDuration time.Duration, now time.Time) time.Duration {
	if singing == nil {
		return 0
	}
	if singing.StartedAt == nil {
		return songDuration
	}
	return max(0, songDuration-now.Sub(*singing.StartedAt))
}

// FormatWait renders a wait for people, e.g. "~12 min" or "~1 hr 5 min".
// Partial minutes round up.
func FormatWait(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("~%d min", minutes)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "~%d hr", minutes/60)
	if m := minutes % 60; m > 0 {
		fmt.Fprintf(&b, " %d min", m)
	}
	return b.String()
}
