// Package admission decides whether a song request may join an event queue
// and at what price.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/metrics"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/normalize"
)

// Outcome is the top-level result of an evaluation.
type Outcome string

const (
	Admitted Outcome = "admitted"
	Rejected Outcome = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonInvalidInput Reason = "invalid_input"
	ReasonBlacklisted  Reason = "blacklisted"
	ReasonDeniedByRule Reason = "denied_by_rule"
	ReasonDuplicate    Reason = "duplicate"
	ReasonNotInLibrary Reason = "not_in_library"
)

// Candidate is a song request as submitted by an attendee.
type Candidate struct {
	SingerName   string
	GroupSize    int
	GroupMembers []string
	SongTitle    string
	SongArtist   string
	Tier         domain.Tier
	Video        *domain.Video
}

// Decision is the result of evaluating a candidate.
type Decision struct {
	Outcome       Outcome        `json:"outcome"`
	Reason        Reason         `json:"reason,omitempty"`
	Message       string         `json:"message,omitempty"`
	PriceCents    int64          `json:"price_cents"`
	Premium       bool           `json:"premium"`
	PricingRuleID *string        `json:"pricing_rule_id,omitempty"`
	Adjustment    string         `json:"price_adjustment,omitempty"`
	Normalized    normalize.Pair `json:"-"`
}

// IsAdmitted reports whether the request may join the queue.
func (d Decision) IsAdmitted() bool {
	return d.Outcome == Admitted
}

// Rules is the read side of the rule tables. Finders return nil when nothing matches.
type Rules interface {
	FindBlacklisted(ctx context.Context, orgID string, key normalize.Pair) (*domain.BlacklistEntry, error)
	FindPricingRule(ctx context.Context, orgID string, key normalize.Pair) (*domain.PricingRule, error)
	InLibrary(ctx context.Context, orgID string, key normalize.Pair) (bool, error)
	DuplicateRule(ctx context.Context, orgID string) (domain.DuplicateRule, error)
	Settings(ctx context.Context, orgID string) (domain.Settings, error)
}

// StoreError wraps a failed rule lookup. Evaluation never falls back to
// admitting a request it could not check.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("admission %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Evaluator runs the admission checks against a Rules source.
type Evaluator struct {
	rules Rules
}

// NewEvaluator creates an Evaluator backed by rules.
func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate checks c against the organization's rules and the event's active
// entries. Checks run in order and the first decisive one wins: blacklist,
// pricing rule, music library, duplicate detection.
func (e *Evaluator) Evaluate(ctx context.Context, key domain.EventKey, c Candidate, active []domain.Entry, now time.Time) (Decision, error) {
	d, err := e.evaluate(ctx, key, c, active, now)
	if err != nil {
		return Decision{}, err
	}
	metrics.AdmissionDecision(string(d.Outcome), string(d.Reason))
	return d, nil
}

func (e *Evaluator) evaluate(ctx context.Context, key domain.EventKey, c Candidate, active []domain.Entry, now time.Time) (Decision, error) {
	if verr := Validate(c); verr != nil {
		return reject(ReasonInvalidInput, verr.Error()), nil
	}

	pair := normalize.Key(c.SongTitle, c.SongArtist, normalize.Options{})

	blocked, err := e.rules.FindBlacklisted(ctx, key.OrganizationID, pair)
	if err != nil {
		return Decision{}, &StoreError{Op: "blacklist lookup", Err: err}
	}
	if blocked != nil {
		msg := blocked.Reason
		if msg == "" {
			msg = "This song is blacklisted"
		}
		d := reject(ReasonBlacklisted, msg)
		d.Normalized = pair
		return d, nil
	}

	rule, err := e.rules.FindPricingRule(ctx, key.OrganizationID, pair)
	if err != nil {
		return Decision{}, &StoreError{Op: "pricing rule lookup", Err: err}
	}
	if rule != nil && rule.AppliesTo(c.Tier) {
		if rule.CustomPriceCents == domain.PriceDeny {
			d := reject(ReasonDeniedByRule, "This song has been configured to be denied")
			d.Normalized = pair
			return d, nil
		}
		id := rule.ID
		adj := "Custom pricing rule applied"
		if rule.CustomPriceCents == 0 {
			adj = "Free song (configured pricing rule)"
		}
		return Decision{
			Outcome:       Admitted,
			PriceCents:    rule.CustomPriceCents,
			PricingRuleID: &id,
			Adjustment:    adj,
			Normalized:    pair,
		}, nil
	}

	settings, err := e.rules.Settings(ctx, key.OrganizationID)
	if err != nil {
		return Decision{}, &StoreError{Op: "settings lookup", Err: err}
	}
	base := settings.BasePrice(c.Tier)

	d := Decision{Outcome: Admitted, PriceCents: base, Normalized: pair}

	if settings.LibraryEnabled {
		found, err := e.rules.InLibrary(ctx, key.OrganizationID, pair)
		if err != nil {
			return Decision{}, &StoreError{Op: "library lookup", Err: err}
		}
		if !found {
			switch settings.LibraryAction {
			case domain.ActionReject:
				r := reject(ReasonNotInLibrary, "This song is not in the DJ's music library")
				r.Normalized = pair
				return r, nil
			case domain.ActionPremiumPrice:
				d.PriceCents = libraryPrice(base, settings)
				d.Premium = true
				d.Adjustment = "Premium price (song not in library)"
			}
		}
	}

	dup, err := e.rules.DuplicateRule(ctx, key.OrganizationID)
	if err != nil {
		return Decision{}, &StoreError{Op: "duplicate rule lookup", Err: err}
	}
	if !dup.EnableDuplicateDetection {
		return d, nil
	}

	match, ok := FindDuplicate(c, dup, active, now)
	if !ok {
		return d, nil
	}
	ago := int(now.Sub(match.CreatedAt).Minutes())

	switch dup.DuplicateAction {
	case domain.ActionReject:
		r := reject(ReasonDuplicate, fmt.Sprintf("This song was requested %d minutes ago", ago))
		r.Normalized = pair
		return r, nil
	case domain.ActionPremiumPrice:
		price, premium := duplicatePrice(base, dup)
		if premium {
			if price > d.PriceCents {
				d.PriceCents = price
			}
			d.Premium = true
			d.Adjustment = fmt.Sprintf("Premium price (duplicate, requested %d min ago)", ago)
		}
	}
	return d, nil
}

// Validate checks the candidate's shape before any rule is consulted.
func Validate(c Candidate) *domain.ValidationError {
	switch {
	case strings.TrimSpace(c.SongTitle) == "":
		return &domain.ValidationError{Field: "song_title", Message: "is required"}
	case strings.TrimSpace(c.SongArtist) == "":
		return &domain.ValidationError{Field: "song_artist", Message: "is required"}
	case strings.TrimSpace(c.SingerName) == "":
		return &domain.ValidationError{Field: "singer_name", Message: "is required"}
	case c.GroupSize < 1:
		return &domain.ValidationError{Field: "group_size", Message: "must be at least 1"}
	case c.GroupSize > 1 && len(c.GroupMembers) != c.GroupSize:
		return &domain.ValidationError{
			Field:   "group_members",
			Message: fmt.Sprintf("expected %d names, got %d", c.GroupSize, len(c.GroupMembers)),
		}
	case c.Tier != "" && !c.Tier.Valid():
		return &domain.ValidationError{Field: "tier", Message: "must be regular or fast_track"}
	}
	return nil
}

// FindDuplicate returns the most recent active entry inside the rule's window
// that names the same song as c.
func FindDuplicate(c Candidate, rule domain.DuplicateRule, active []domain.Entry, now time.Time) (domain.Entry, bool) {
	opts := normalize.Options{CaseSensitive: rule.MatchCaseSensitive}
	want := normalize.Key(c.SongTitle, c.SongArtist, opts)
	m := normalize.Matcher{Title: rule.MatchByExactTitle, Artist: rule.MatchByExactArtist}
	since := now.Add(-rule.Window())

	var found domain.Entry
	ok := false
	for _, e := range active {
		if !e.Status.IsActive() || e.CreatedAt.Before(since) {
			continue
		}
		if !m.Match(want, normalize.Key(e.SongTitle, e.SongArtist, opts)) {
			continue
		}
		if !ok || e.CreatedAt.After(found.CreatedAt) {
			found, ok = e, true
		}
	}
	return found, ok
}

// duplicatePrice applies the duplicate premium to base. The multiplier wins
// when both a multiplier and a fixed amount are configured.
func duplicatePrice(base int64, rule domain.DuplicateRule) (int64, bool) {
	switch {
	case rule.PremiumMultiplier != nil:
		return multiply(base, *rule.PremiumMultiplier), true
	case rule.PremiumFixedCents != nil:
		return base + *rule.PremiumFixedCents, true
	}
	return base, false
}

// libraryPrice prices a song missing from the library. A fixed amount
// replaces the price outright.
func libraryPrice(base int64, s domain.Settings) int64 {
	if s.LibraryPremiumFixedCents != nil {
		return *s.LibraryPremiumFixedCents
	}
	mult := domain.DefaultLibraryMultiplier
	if s.LibraryPremiumMultiplier != nil && *s.LibraryPremiumMultiplier > 0 {
		mult = *s.LibraryPremiumMultiplier
	}
	return multiply(base, mult)
}

// multiply scales cents by factor, rounding half away from zero.
func multiply(cents int64, factor float64) int64 {
	return decimal.NewFromInt(cents).Mul(decimal.NewFromFloat(factor)).Round(0).IntPart()
}

func reject(reason Reason, msg string) Decision {
	return Decision{Outcome: Rejected, Reason: reason, Message: msg}
}
