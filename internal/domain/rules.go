package domain

import "time"

// PriceDeny is the custom price that turns a pricing rule into a denial.
const PriceDeny int64 = -1

// RuleAction is what happens when a duplicate or library rule matches.
type RuleAction string

const (
	ActionReject       RuleAction = "reject"
	ActionPremiumPrice RuleAction = "premium_price"
	ActionAllow        RuleAction = "allow"
)

// Valid reports whether a is a known action.
func (a RuleAction) Valid() bool {
	return a == ActionReject || a == ActionPremiumPrice || a == ActionAllow
}

// BlacklistEntry marks a song as permanently rejected for an organization.
type BlacklistEntry struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization_id"`
	SongTitle        string    `json:"song_title"`
	SongArtist       string    `json:"song_artist"`
	NormalizedTitle  string    `json:"normalized_title"`
	NormalizedArtist string    `json:"normalized_artist"`
	Reason           string    `json:"reason,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PricingRule overrides the price of one song. CustomPriceCents is PriceDeny
// to refuse the song, 0 to make it free, or a fixed price.
type PricingRule struct {
	ID                 string    `json:"id"`
	OrganizationID     string    `json:"organization_id"`
	SongTitle          string    `json:"song_title"`
	SongArtist         string    `json:"song_artist"`
	NormalizedTitle    string    `json:"normalized_title"`
	NormalizedArtist   string    `json:"normalized_artist"`
	CustomPriceCents   int64     `json:"custom_price_cents"`
	AppliesToFastTrack bool      `json:"applies_to_fast_track"`
	AppliesToRegular   bool      `json:"applies_to_regular"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AppliesTo reports whether the rule covers requests of the given tier.
func (r PricingRule) AppliesTo(t Tier) bool {
	if t == TierFastTrack {
		return r.AppliesToFastTrack
	}
	return r.AppliesToRegular
}

// DefaultDuplicateWindowMinutes is used when a rule has no usable window.
const DefaultDuplicateWindowMinutes = 60

// DuplicateRule governs a second request for a song already active in the queue.
type DuplicateRule struct {
	OrganizationID           string     `json:"organization_id"`
	EnableDuplicateDetection bool       `json:"enable_duplicate_detection"`
	DuplicateAction          RuleAction `json:"duplicate_action"`
	TimeWindowMinutes        int        `json:"duplicate_time_window_minutes"`
	PremiumMultiplier        *float64   `json:"duplicate_premium_multiplier,omitempty"`
	PremiumFixedCents        *int64     `json:"duplicate_premium_fixed_cents,omitempty"`
	MatchByExactTitle        bool       `json:"match_by_exact_title"`
	MatchByExactArtist       bool       `json:"match_by_exact_artist"`
	MatchCaseSensitive       bool       `json:"match_case_sensitive"`
	UpdatedAt                *time.Time `json:"updated_at,omitempty"`
}

// DefaultDuplicateRule is in effect until an operator saves a rule.
func DefaultDuplicateRule(orgID string) DuplicateRule {
	return DuplicateRule{
		OrganizationID:     orgID,
		DuplicateAction:    ActionReject,
		TimeWindowMinutes:  DefaultDuplicateWindowMinutes,
		MatchByExactTitle:  true,
		MatchByExactArtist: true,
	}
}

// Window is how far back an existing entry still counts as a duplicate.
func (r DuplicateRule) Window() time.Duration {
	minutes := r.TimeWindowMinutes
	if minutes <= 0 {
		minutes = DefaultDuplicateWindowMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// LibrarySong is one song in an organization's music library.
type LibrarySong struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization_id"`
	SongTitle        string    `json:"song_title"`
	SongArtist       string    `json:"song_artist"`
	NormalizedTitle  string    `json:"normalized_title"`
	NormalizedArtist string    `json:"normalized_artist"`
	CreatedAt        time.Time `json:"created_at"`
}

// DefaultLibraryMultiplier applies when library premium pricing has no amount set.
const DefaultLibraryMultiplier = 2.0

// Settings are per-organization queue settings.
type Settings struct {
	OrganizationID           string     `json:"organization_id"`
	RegularPriceCents        int64      `json:"regular_price_cents"`
	FastTrackPriceCents      int64      `json:"fast_track_price_cents"`
	AutoAdvance              bool       `json:"auto_advance"`
	LibraryEnabled           bool       `json:"library_enabled"`
	LibraryAction            RuleAction `json:"library_action"`
	LibraryPremiumMultiplier *float64   `json:"library_premium_multiplier,omitempty"`
	LibraryPremiumFixedCents *int64     `json:"library_premium_fixed_cents,omitempty"`
	UpdatedAt                *time.Time `json:"updated_at,omitempty"`
}

// DefaultSettings is in effect until an operator saves settings.
func DefaultSettings(orgID string) Settings {
	return Settings{
		OrganizationID: orgID,
		LibraryAction:  ActionAllow,
	}
}

// BasePrice is the price of a request of the given tier before any rule applies.
func (s Settings) BasePrice(t Tier) int64 {
	if t == TierFastTrack {
		return s.FastTrackPriceCents
	}
	return s.RegularPriceCents
}
