// Package domain holds the queue, rule and snapshot types shared by the
// admission, queue engine, broadcast hub and store packages.
package domain

import (
	"strconv"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusNext      Status = "next"
	StatusSinging   Status = "singing"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the statuses that still occupy a place at the event.
var ActiveStatuses = []Status{StatusQueued, StatusNext, StatusSinging}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusCancelled
}

// IsActive reports whether the entry is waiting, up next, or on stage.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusNext || s == StatusSinging
}

var transitions = map[Status][]Status{
	StatusQueued:  {StatusNext, StatusSinging, StatusSkipped, StatusCancelled},
	StatusNext:    {StatusSinging, StatusSkipped, StatusCancelled},
	StatusSinging: {StatusCompleted},
}

// CanTransition reports whether an entry may move from one status to another.
// Skipped and cancelled are only reachable before the singer is on stage.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tier is the service level a request was submitted under.
type Tier string

const (
	TierRegular   Tier = "regular"
	TierFastTrack Tier = "fast_track"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierRegular || t == TierFastTrack
}

// EventKey identifies one logical queue: an event within an organization.
type EventKey struct {
	OrganizationID string
	EventCode      string
}

func (k EventKey) String() string {
	return k.OrganizationID + ":" + k.EventCode
}

// Video is a matched video record attached to an entry. The queue never
// inspects it beyond storing and returning it.
type Video struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Embeddable bool   `json:"embeddable"`
}

// Entry is one singer's or group's place in an event queue.
type Entry struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization_id"`
	EventCode        string     `json:"event_code"`
	SingerName       string     `json:"singer_name"`
	GroupSize        int        `json:"group_size"`
	GroupMembers     []string   `json:"group_members,omitempty"`
	SongTitle        string     `json:"song_title"`
	SongArtist       string     `json:"song_artist"`
	NormalizedTitle  string     `json:"normalized_title"`
	NormalizedArtist string     `json:"normalized_artist"`
	Status           Status     `json:"status"`
	Tier             Tier       `json:"tier"`
	IsPriority       bool       `json:"is_priority"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	AmountCents      int64      `json:"amount_cents"`
	IsPremium        bool       `json:"is_premium"`
	PricingRuleID    *string    `json:"pricing_rule_id,omitempty"`
	Video            *Video     `json:"video,omitempty"`
}

// Key returns the queue the entry belongs to.
func (e Entry) Key() EventKey {
	return EventKey{OrganizationID: e.OrganizationID, EventCode: e.EventCode}
}

// DisplayName renders the singer for stage displays, e.g. "Sam + 2".
func (e Entry) DisplayName() string {
	if e.GroupSize <= 1 || len(e.GroupMembers) == 0 {
		return e.SingerName
	}
	others := len(e.GroupMembers) - 1
	if others <= 0 {
		return e.SingerName
	}
	return e.SingerName + " + " + strconv.Itoa(others)
}

// Mutation is one guarded row change applied atomically with its siblings.
// The store applies it only if the entry is still in From.
type Mutation struct {
	EntryID    string
	Action     string
	From       Status
	To         Status
	At         time.Time
	Prioritize bool
	Video      *Video
}

// AuditRecord is one row of the queue operation history.
type AuditRecord struct {
	ID             int64     `json:"id"`
	OrganizationID string    `json:"organization_id"`
	EventCode      string    `json:"event_code"`
	EntryID        string    `json:"entry_id"`
	Action         string    `json:"action"`
	OldStatus      Status    `json:"old_status,omitempty"`
	NewStatus      Status    `json:"new_status,omitempty"`
	PerformedBy    string    `json:"performed_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
