package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/normalize"
)

type fakeRules struct {
	blacklist map[normalize.Pair]domain.BlacklistEntry
	pricing   map[normalize.Pair]domain.PricingRule
	library   map[normalize.Pair]bool
	dup       domain.DuplicateRule
	settings  domain.Settings
	err       error
}

func newFakeRules() *fakeRules {
	return &fakeRules{
		blacklist: map[normalize.Pair]domain.BlacklistEntry{},
		pricing:   map[normalize.Pair]domain.PricingRule{},
		library:   map[normalize.Pair]bool{},
		dup:       domain.DefaultDuplicateRule("O1"),
		settings:  domain.DefaultSettings("O1"),
	}
}

func (f *fakeRules) FindBlacklisted(_ context.Context, _ string, key normalize.Pair) (*domain.BlacklistEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.blacklist[key]; ok {
		return &b, nil
	}
	return nil, nil
}

func (f *fakeRules) FindPricingRule(_ context.Context, _ string, key normalize.Pair) (*domain.PricingRule, error) {
	if r, ok := f.pricing[key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeRules) InLibrary(_ context.Context, _ string, key normalize.Pair) (bool, error) {
	return f.library[key], nil
}

func (f *fakeRules) DuplicateRule(context.Context, string) (domain.DuplicateRule, error) {
	return f.dup, nil
}

func (f *fakeRules) Settings(context.Context, string) (domain.Settings, error) {
	return f.settings, nil
}

var (
	testKey = domain.EventKey{OrganizationID: "O1", EventCode: "E1"}
	testNow = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)
	lucky   = normalize.Pair{Title: "get lucky", Artist: "daft punk"}
)

func candidate() Candidate {
	return Candidate{
		SingerName: "Sam",
		GroupSize:  1,
		SongTitle:  "Get Lucky",
		SongArtist: "Daft Punk",
		Tier:       domain.TierRegular,
	}
}

func activeEntry(title, artist string, age time.Duration) domain.Entry {
	return domain.Entry{
		ID:             "existing",
		OrganizationID: "O1",
		EventCode:      "E1",
		SongTitle:      title,
		SongArtist:     artist,
		Status:         domain.StatusQueued,
		CreatedAt:      testNow.Add(-age),
	}
}

func ptr[T any](v T) *T { return &v }

func TestEvaluate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"missing title", func(c *Candidate) { c.SongTitle = " " }},
		{"missing artist", func(c *Candidate) { c.SongArtist = "" }},
		{"missing singer", func(c *Candidate) { c.SingerName = "" }},
		{"group size zero", func(c *Candidate) { c.GroupSize = 0 }},
		{"group members mismatch", func(c *Candidate) {
			c.GroupSize = 3
			c.GroupMembers = []string{"a", "b"}
		}},
		{"unknown tier", func(c *Candidate) { c.Tier = "vip" }},
	}

	ev := NewEvaluator(newFakeRules())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := candidate()
			tt.mutate(&c)
			d, err := ev.Evaluate(context.Background(), testKey, c, nil, testNow)
			require.NoError(t, err)
			assert.Equal(t, Rejected, d.Outcome)
			assert.Equal(t, ReasonInvalidInput, d.Reason)
		})
	}
}

func TestEvaluate_GroupWithMatchingMembers(t *testing.T) {
	c := candidate()
	c.GroupSize = 2
	c.GroupMembers = []string{"Sam", "Alex"}

	d, err := NewEvaluator(newFakeRules()).Evaluate(context.Background(), testKey, c, nil, testNow)
	require.NoError(t, err)
	assert.True(t, d.IsAdmitted())
}

func TestEvaluate_BlacklistBeatsEverything(t *testing.T) {
	rules := newFakeRules()
	rules.blacklist[lucky] = domain.BlacklistEntry{Reason: "played out"}
	rules.pricing[lucky] = domain.PricingRule{ID: "r1", CustomPriceCents: 0, AppliesToRegular: true}
	rules.dup.EnableDuplicateDetection = true
	rules.dup.DuplicateAction = domain.ActionAllow

	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, ReasonBlacklisted, d.Reason)
	assert.Equal(t, "played out", d.Message)
}

func TestEvaluate_BlacklistMatchesNormalized(t *testing.T) {
	rules := newFakeRules()
	rules.blacklist[lucky] = domain.BlacklistEntry{}

	c := candidate()
	c.SongTitle = "  GET   lucky!! "
	c.SongArtist = "Daft-Punk"

	// "daft-punk" normalizes to "daftpunk", which is a different artist key
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, c, nil, testNow)
	require.NoError(t, err)
	assert.True(t, d.IsAdmitted())

	c.SongArtist = "DAFT punk."
	d, err = NewEvaluator(rules).Evaluate(context.Background(), testKey, c, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, ReasonBlacklisted, d.Reason)
	assert.Equal(t, "This song is blacklisted", d.Message)
}

func TestEvaluate_PricingRule(t *testing.T) {
	tests := []struct {
		name      string
		rule      domain.PricingRule
		tier      domain.Tier
		outcome   Outcome
		reason    Reason
		price     int64
		ruleApply bool
	}{
		{"deny", domain.PricingRule{ID: "r", CustomPriceCents: -1, AppliesToRegular: true}, domain.TierRegular, Rejected, ReasonDeniedByRule, 0, false},
		{"free", domain.PricingRule{ID: "r", CustomPriceCents: 0, AppliesToRegular: true}, domain.TierRegular, Admitted, "", 0, true},
		{"fixed", domain.PricingRule{ID: "r", CustomPriceCents: 1200, AppliesToRegular: true}, domain.TierRegular, Admitted, "", 1200, true},
		{"other tier only", domain.PricingRule{ID: "r", CustomPriceCents: -1, AppliesToFastTrack: true}, domain.TierRegular, Admitted, "", 500, false},
		{"fast track", domain.PricingRule{ID: "r", CustomPriceCents: 2500, AppliesToFastTrack: true}, domain.TierFastTrack, Admitted, "", 2500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := newFakeRules()
			rules.settings.RegularPriceCents = 500
			rules.settings.FastTrackPriceCents = 1500
			rules.pricing[lucky] = tt.rule

			c := candidate()
			c.Tier = tt.tier
			d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, c, nil, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.outcome == Admitted {
				assert.Equal(t, tt.price, d.PriceCents)
			}
			if tt.ruleApply {
				require.NotNil(t, d.PricingRuleID)
				assert.Equal(t, "r", *d.PricingRuleID)
			} else {
				assert.Nil(t, d.PricingRuleID)
			}
		})
	}
}

func TestEvaluate_DenyRuleBeatsDuplicateAllow(t *testing.T) {
	rules := newFakeRules()
	rules.pricing[lucky] = domain.PricingRule{ID: "r", CustomPriceCents: -1, AppliesToRegular: true, AppliesToFastTrack: true}
	rules.dup.EnableDuplicateDetection = true
	rules.dup.DuplicateAction = domain.ActionAllow

	active := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", time.Minute)}
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), active, testNow)
	require.NoError(t, err)
	assert.Equal(t, ReasonDeniedByRule, d.Reason)
}

func TestEvaluate_PricingRuleSkipsDuplicateCheck(t *testing.T) {
	rules := newFakeRules()
	rules.pricing[lucky] = domain.PricingRule{ID: "r", CustomPriceCents: 300, AppliesToRegular: true}
	rules.dup.EnableDuplicateDetection = true
	rules.dup.DuplicateAction = domain.ActionReject

	active := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", time.Minute)}
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), active, testNow)
	require.NoError(t, err)
	assert.True(t, d.IsAdmitted())
	assert.Equal(t, int64(300), d.PriceCents)
}

func TestEvaluate_DuplicatePremium(t *testing.T) {
	rules := newFakeRules()
	rules.settings.RegularPriceCents = 500
	rules.dup.EnableDuplicateDetection = true
	rules.dup.DuplicateAction = domain.ActionPremiumPrice
	rules.dup.PremiumMultiplier = ptr(1.5)
	ev := NewEvaluator(rules)

	inside := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", 30*time.Minute)}
	d, err := ev.Evaluate(context.Background(), testKey, candidate(), inside, testNow)
	require.NoError(t, err)
	assert.True(t, d.IsAdmitted())
	assert.Equal(t, int64(750), d.PriceCents)
	assert.True(t, d.Premium)

	outside := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", 61*time.Minute)}
	d, err = ev.Evaluate(context.Background(), testKey, candidate(), outside, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(500), d.PriceCents)
	assert.False(t, d.Premium)
}

func TestEvaluate_DuplicatePremiumPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		multiplier *float64
		fixed      *int64
		price      int64
		premium    bool
	}{
		{"multiplier wins over fixed", ptr(2.0), ptr(int64(100)), 1000, true},
		{"fixed when no multiplier", nil, ptr(int64(250)), 750, true},
		{"neither set", nil, nil, 500, false},
		{"half cent rounds up", ptr(1.001), nil, 501, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := newFakeRules()
			rules.settings.RegularPriceCents = 500
			rules.dup.EnableDuplicateDetection = true
			rules.dup.DuplicateAction = domain.ActionPremiumPrice
			rules.dup.PremiumMultiplier = tt.multiplier
			rules.dup.PremiumFixedCents = tt.fixed

			active := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", time.Minute)}
			d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), active, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.price, d.PriceCents)
			assert.Equal(t, tt.premium, d.Premium)
		})
	}
}

func TestEvaluate_DuplicateReject(t *testing.T) {
	rules := newFakeRules()
	rules.dup.EnableDuplicateDetection = true

	active := []domain.Entry{activeEntry("get lucky", "DAFT PUNK", 5*time.Minute)}
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), active, testNow)
	require.NoError(t, err)
	assert.Equal(t, Rejected, d.Outcome)
	assert.Equal(t, ReasonDuplicate, d.Reason)
	assert.Equal(t, "This song was requested 5 minutes ago", d.Message)
}

func TestEvaluate_DuplicateIgnoresTerminalEntries(t *testing.T) {
	rules := newFakeRules()
	rules.dup.EnableDuplicateDetection = true

	done := activeEntry("Get Lucky", "Daft Punk", time.Minute)
	done.Status = domain.StatusCompleted
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), []domain.Entry{done}, testNow)
	require.NoError(t, err)
	assert.True(t, d.IsAdmitted())
}

func TestEvaluate_DuplicateDisabled(t *testing.T) {
	rules := newFakeRules()
	active := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", time.Minute)}
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), active, testNow)
	require.NoError(t, err)
	assert.True(t, d.IsAdmitted())
}

func TestFindDuplicate_Strictness(t *testing.T) {
	sameTitle := activeEntry("Get Lucky", "Someone Else", time.Minute)
	sameArtist := activeEntry("One More Time", "Daft Punk", time.Minute)
	upper := activeEntry("GET LUCKY", "DAFT PUNK", time.Minute)

	tests := []struct {
		name     string
		rule     domain.DuplicateRule
		existing domain.Entry
		want     bool
	}{
		{"title only matches same title", domain.DuplicateRule{MatchByExactTitle: true}, sameTitle, true},
		{"title only ignores same artist", domain.DuplicateRule{MatchByExactTitle: true}, sameArtist, false},
		{"artist only matches same artist", domain.DuplicateRule{MatchByExactArtist: true}, sameArtist, true},
		{"both needs both", domain.DuplicateRule{MatchByExactTitle: true, MatchByExactArtist: true}, sameTitle, false},
		{"neither flag means both", domain.DuplicateRule{}, sameArtist, false},
		{"case insensitive", domain.DuplicateRule{}, upper, true},
		{"case sensitive", domain.DuplicateRule{MatchCaseSensitive: true}, upper, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := FindDuplicate(candidate(), tt.rule, []domain.Entry{tt.existing}, testNow)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Library(t *testing.T) {
	tests := []struct {
		name       string
		action     domain.RuleAction
		multiplier *float64
		fixed      *int64
		inLibrary  bool
		outcome    Outcome
		price      int64
		premium    bool
	}{
		{"in library", domain.ActionReject, nil, nil, true, Admitted, 400, false},
		{"reject", domain.ActionReject, nil, nil, false, Rejected, 0, false},
		{"premium default multiplier", domain.ActionPremiumPrice, nil, nil, false, Admitted, 800, true},
		{"premium custom multiplier", domain.ActionPremiumPrice, ptr(1.25), nil, false, Admitted, 500, true},
		{"premium fixed replaces price", domain.ActionPremiumPrice, ptr(3.0), ptr(int64(999)), false, Admitted, 999, true},
		{"allow", domain.ActionAllow, nil, nil, false, Admitted, 400, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := newFakeRules()
			rules.settings.RegularPriceCents = 400
			rules.settings.LibraryEnabled = true
			rules.settings.LibraryAction = tt.action
			rules.settings.LibraryPremiumMultiplier = tt.multiplier
			rules.settings.LibraryPremiumFixedCents = tt.fixed
			if tt.inLibrary {
				rules.library[lucky] = true
			}

			d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), nil, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, d.Outcome)
			if tt.outcome == Rejected {
				assert.Equal(t, ReasonNotInLibrary, d.Reason)
				return
			}
			assert.Equal(t, tt.price, d.PriceCents)
			assert.Equal(t, tt.premium, d.Premium)
		})
	}
}

func TestEvaluate_LibraryAndDuplicatePremiumKeepsHigherPrice(t *testing.T) {
	rules := newFakeRules()
	rules.settings.RegularPriceCents = 400
	rules.settings.LibraryEnabled = true
	rules.settings.LibraryAction = domain.ActionPremiumPrice
	rules.dup.EnableDuplicateDetection = true
	rules.dup.DuplicateAction = domain.ActionPremiumPrice
	rules.dup.PremiumMultiplier = ptr(1.5)

	active := []domain.Entry{activeEntry("Get Lucky", "Daft Punk", time.Minute)}
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), active, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(800), d.PriceCents)
	assert.True(t, d.Premium)
}

func TestEvaluate_TierBasePrice(t *testing.T) {
	rules := newFakeRules()
	rules.settings.RegularPriceCents = 400
	rules.settings.FastTrackPriceCents = 1500

	c := candidate()
	d, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, c, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(400), d.PriceCents)

	c.Tier = domain.TierFastTrack
	d, err = NewEvaluator(rules).Evaluate(context.Background(), testKey, c, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), d.PriceCents)
}

func TestEvaluate_StoreErrorDoesNotAdmit(t *testing.T) {
	rules := newFakeRules()
	rules.err = errors.New("connection reset")

	_, err := NewEvaluator(rules).Evaluate(context.Background(), testKey, candidate(), nil, testNow)
	require.Error(t, err)

	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "blacklist lookup", serr.Op)
	assert.ErrorIs(t, err, rules.err)
}
