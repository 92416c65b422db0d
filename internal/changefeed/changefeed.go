// Package changefeed carries queue-entry change notifications from the code
// that writes them to the code that rebroadcasts queue state.
package changefeed

import (
	"context"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change says that entries of one event were written.
type Change struct {
	OrganizationID string    `json:"organization_id"`
	EventCode      string    `json:"event_code"`
	Op             Op        `json:"op"`
	EntryIDs       []string  `json:"entry_ids,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	At             time.Time `json:"at"`
}

// Key returns the queue the change belongs to.
func (c Change) Key() domain.EventKey {
	return domain.EventKey{OrganizationID: c.OrganizationID, EventCode: c.EventCode}
}

// Feed delivers changes to one consumer. Subscribe blocks until ctx ends.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, handle func(Change)) error
}
