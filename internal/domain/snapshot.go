package domain

import "time"

// QueueItem is an entry with its derived place in line.
type QueueItem struct {
	Entry
	DisplayName          string `json:"display_name"`
	Position             int    `json:"position"`
	EstimatedWaitSeconds int64  `json:"estimated_wait_seconds"`
	EstimatedWait        string `json:"estimated_wait"`
}

// Snapshot is the full derived state of one event queue at a point in time.
// Queue excludes Current and Next and is sorted by priority then arrival.
type Snapshot struct {
	OrganizationID string      `json:"organization_id"`
	EventCode      string      `json:"event_code"`
	Current        *QueueItem  `json:"current"`
	Next           *QueueItem  `json:"next"`
	Queue          []QueueItem `json:"queue"`
	TotalInQueue   int         `json:"total_in_queue"`
	Revision       uint64      `json:"revision"`
	GeneratedAt    time.Time   `json:"generated_at"`
}

// Key returns the queue the snapshot describes.
func (s Snapshot) Key() EventKey {
	return EventKey{OrganizationID: s.OrganizationID, EventCode: s.EventCode}
}
