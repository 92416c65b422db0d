// Package models defines the JSON request and response bodies of the HTTP API.
package models

import (
	"encoding/json"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/admission"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

// Song requests
type SubmitSongRequest struct {
	SingerName   string        `json:"singer_name"`
	GroupSize    int           `json:"group_size"`
	GroupMembers []string      `json:"group_members,omitempty"`
	SongTitle    string        `json:"song_title"`
	SongArtist   string        `json:"song_artist"`
	Tier         domain.Tier   `json:"tier,omitempty"`
	Video        *domain.Video `json:"video,omitempty"`
}

// Candidate converts the request body into an admission candidate. Prices
// always come from the organization's configuration.
func (r SubmitSongRequest) Candidate() admission.Candidate {
	return admission.Candidate{
		SingerName:   r.SingerName,
		GroupSize:    r.GroupSize,
		GroupMembers: r.GroupMembers,
		SongTitle:    r.SongTitle,
		SongArtist:   r.SongArtist,
		Tier:         r.Tier,
		Video:        r.Video,
	}
}

type SubmitSongResponse struct {
	Entry    domain.Entry       `json:"entry"`
	Decision admission.Decision `json:"decision"`
}

// RejectionResponse is returned with 400 or 422 when admission refuses a request.
type RejectionResponse struct {
	Error   string           `json:"error"`
	Reason  admission.Reason `json:"reason"`
	Message string           `json:"message"`
	Field   string           `json:"field,omitempty"`
}

type AttachVideoRequest struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Embeddable bool   `json:"embeddable"`
}

type AuditResponse struct {
	Entries []domain.AuditRecord `json:"entries"`
}

// Rules
type SongRuleRequest struct {
	SongTitle  string `json:"song_title"`
	SongArtist string `json:"song_artist"`
	Reason     string `json:"reason,omitempty"`
}

type PricingRuleRequest struct {
	SongTitle          string `json:"song_title"`
	SongArtist         string `json:"song_artist"`
	CustomPriceCents   *int64 `json:"custom_price_cents"`
	AppliesToFastTrack *bool  `json:"applies_to_fast_track,omitempty"`
	AppliesToRegular   *bool  `json:"applies_to_regular,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

// Broadcast
type BroadcastRequest struct {
	EventCode      string          `json:"event_code"`
	OrganizationID string          `json:"organization_id"`
	UpdateType     string          `json:"updateType"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type BroadcastResponse struct {
	Success   bool `json:"success"`
	Delivered int  `json:"delivered"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
