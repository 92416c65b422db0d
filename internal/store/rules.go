package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/normalize"
)

func songKey(title, artist string) normalize.Pair {
	return normalize.Key(title, artist, normalize.Options{})
}

// FindBlacklisted returns the blacklist row for a normalized song, or nil.
func (s *Store) FindBlacklisted(ctx context.Context, orgID string, key normalize.Pair) (*domain.BlacklistEntry, error) {
	var b domain.BlacklistEntry
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, song_title, song_artist, normalized_title, normalized_artist, reason, created_by, created_at
		FROM song_blacklist WHERE organization_id = ? AND normalized_title = ? AND normalized_artist = ?`,
		orgID, key.Title, key.Artist,
	).Scan(&b.ID, &b.OrganizationID, &b.SongTitle, &b.SongArtist, &b.NormalizedTitle, &b.NormalizedArtist,
		&b.Reason, &b.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find blacklisted song: %w", err)
	}
	b.CreatedAt = fromMicros(createdAt)
	return &b, nil
}

// ListBlacklist returns an organization's blacklist, newest first.
func (s *Store) ListBlacklist(ctx context.Context, orgID string) ([]domain.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, song_title, song_artist, normalized_title, normalized_artist, reason, created_by, created_at
		FROM song_blacklist WHERE organization_id = ? ORDER BY created_at DESC, id`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	list := []domain.BlacklistEntry{}
	for rows.Next() {
		var b domain.BlacklistEntry
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.OrganizationID, &b.SongTitle, &b.SongArtist, &b.NormalizedTitle,
			&b.NormalizedArtist, &b.Reason, &b.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan blacklist: %w", err)
		}
		b.CreatedAt = fromMicros(createdAt)
		list = append(list, b)
	}
	return list, rows.Err()
}

// AddBlacklist inserts a song into the blacklist. It returns ErrAlreadyExists
// when the normalized song is already listed.
func (s *Store) AddBlacklist(ctx context.Context, b domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	key := songKey(b.SongTitle, b.SongArtist)
	b.ID = uuid.NewString()
	b.NormalizedTitle, b.NormalizedArtist = key.Title, key.Artist
	b.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO song_blacklist (id, organization_id, song_title, song_artist, normalized_title, normalized_artist, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, normalized_title, normalized_artist) DO NOTHING`,
		b.ID, b.OrganizationID, b.SongTitle, b.SongArtist, b.NormalizedTitle, b.NormalizedArtist,
		b.Reason, b.CreatedBy, toMicros(b.CreatedAt))
	if err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("add blacklist: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("add blacklist: %w", err)
	} else if n == 0 {
		return domain.BlacklistEntry{}, domain.ErrAlreadyExists
	}
	return b, nil
}

// DeleteBlacklist removes one blacklist row of an organization.
func (s *Store) DeleteBlacklist(ctx context.Context, orgID, id string) error {
	return s.deleteOwned(ctx, "song_blacklist", orgID, id)
}

const pricingColumns = `id, organization_id, song_title, song_artist, normalized_title, normalized_artist,
	custom_price_cents, applies_to_fast_track, applies_to_regular, notes, created_at, updated_at`

func scanPricingRule(row rowScanner) (domain.PricingRule, error) {
	var r domain.PricingRule
	var createdAt, updatedAt int64
	err := row.Scan(&r.ID, &r.OrganizationID, &r.SongTitle, &r.SongArtist, &r.NormalizedTitle, &r.NormalizedArtist,
		&r.CustomPriceCents, &r.AppliesToFastTrack, &r.AppliesToRegular, &r.Notes, &createdAt, &updatedAt)
	if err != nil {
		return domain.PricingRule{}, err
	}
	r.CreatedAt = fromMicros(createdAt)
	r.UpdatedAt = fromMicros(updatedAt)
	return r, nil
}

// FindPricingRule returns the pricing rule for a normalized song, or nil.
func (s *Store) FindPricingRule(ctx context.Context, orgID string, key normalize.Pair) (*domain.PricingRule, error) {
	r, err := scanPricingRule(s.db.QueryRowContext(ctx,
		`SELECT `+pricingColumns+` FROM song_pricing_rules
		WHERE organization_id = ? AND normalized_title = ? AND normalized_artist = ?`,
		orgID, key.Title, key.Artist))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pricing rule: %w", err)
	}
	return &r, nil
}

// ListPricingRules returns an organization's pricing rules ordered by song.
func (s *Store) ListPricingRules(ctx context.Context, orgID string) ([]domain.PricingRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pricingColumns+` FROM song_pricing_rules
		WHERE organization_id = ? ORDER BY normalized_artist, normalized_title`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list pricing rules: %w", err)
	}
	defer rows.Close()

	list := []domain.PricingRule{}
	for rows.Next() {
		r, err := scanPricingRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pricing rule: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// UpsertPricingRule creates or replaces the rule for a song.
func (s *Store) UpsertPricingRule(ctx context.Context, r domain.PricingRule) (domain.PricingRule, error) {
	key := songKey(r.SongTitle, r.SongArtist)
	now := s.now().UTC()

	out, err := scanPricingRule(s.db.QueryRowContext(ctx,
		`INSERT INTO song_pricing_rules (`+pricingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, normalized_title, normalized_artist) DO UPDATE SET
			song_title = excluded.song_title,
			song_artist = excluded.song_artist,
			custom_price_cents = excluded.custom_price_cents,
			applies_to_fast_track = excluded.applies_to_fast_track,
			applies_to_regular = excluded.applies_to_regular,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING `+pricingColumns,
		uuid.NewString(), r.OrganizationID, r.SongTitle, r.SongArtist, key.Title, key.Artist,
		r.CustomPriceCents, r.AppliesToFastTrack, r.AppliesToRegular, r.Notes, toMicros(now), toMicros(now)))
	if err != nil {
		return domain.PricingRule{}, fmt.Errorf("upsert pricing rule: %w", err)
	}
	return out, nil
}

// DeletePricingRule removes one pricing rule of an organization.
func (s *Store) DeletePricingRule(ctx context.Context, orgID, id string) error {
	return s.deleteOwned(ctx, "song_pricing_rules", orgID, id)
}

// DuplicateRule returns the organization's duplicate rule, or the defaults
// when none has been saved.
func (s *Store) DuplicateRule(ctx context.Context, orgID string) (domain.DuplicateRule, error) {
	r := domain.DuplicateRule{OrganizationID: orgID}
	var (
		action     string
		multiplier sql.NullFloat64
		fixed      sql.NullInt64
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enable_duplicate_detection, duplicate_action, duplicate_time_window_minutes,
			duplicate_premium_multiplier, duplicate_premium_fixed_cents,
			match_by_exact_title, match_by_exact_artist, match_case_sensitive, updated_at
		FROM song_duplicate_rules WHERE organization_id = ?`,
		orgID,
	).Scan(&r.EnableDuplicateDetection, &action, &r.TimeWindowMinutes, &multiplier, &fixed,
		&r.MatchByExactTitle, &r.MatchByExactArtist, &r.MatchCaseSensitive, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultDuplicateRule(orgID), nil
	}
	if err != nil {
		return domain.DuplicateRule{}, fmt.Errorf("get duplicate rule: %w", err)
	}
	r.DuplicateAction = domain.RuleAction(action)
	r.PremiumMultiplier = float64Ptr(multiplier)
	r.PremiumFixedCents = int64Ptr(fixed)
	t := fromMicros(updatedAt)
	r.UpdatedAt = &t
	return r, nil
}

// SaveDuplicateRule upserts the organization's duplicate rule.
func (s *Store) SaveDuplicateRule(ctx context.Context, r domain.DuplicateRule) (domain.DuplicateRule, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO song_duplicate_rules (organization_id, enable_duplicate_detection, duplicate_action,
			duplicate_time_window_minutes, duplicate_premium_multiplier, duplicate_premium_fixed_cents,
			match_by_exact_title, match_by_exact_artist, match_case_sensitive, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id) DO UPDATE SET
			enable_duplicate_detection = excluded.enable_duplicate_detection,
			duplicate_action = excluded.duplicate_action,
			duplicate_time_window_minutes = excluded.duplicate_time_window_minutes,
			duplicate_premium_multiplier = excluded.duplicate_premium_multiplier,
			duplicate_premium_fixed_cents = excluded.duplicate_premium_fixed_cents,
			match_by_exact_title = excluded.match_by_exact_title,
			match_by_exact_artist = excluded.match_by_exact_artist,
			match_case_sensitive = excluded.match_case_sensitive,
			updated_at = excluded.updated_at`,
		r.OrganizationID, r.EnableDuplicateDetection, string(r.DuplicateAction), r.TimeWindowMinutes,
		nullFloat64(r.PremiumMultiplier), nullInt64(r.PremiumFixedCents),
		r.MatchByExactTitle, r.MatchByExactArtist, r.MatchCaseSensitive, toMicros(now))
	if err != nil {
		return domain.DuplicateRule{}, fmt.Errorf("save duplicate rule: %w", err)
	}
	r.UpdatedAt = &now
	return r, nil
}

// Settings returns the organization's queue settings, or the defaults.
func (s *Store) Settings(ctx context.Context, orgID string) (domain.Settings, error) {
	st := domain.Settings{OrganizationID: orgID}
	var (
		action     string
		multiplier sql.NullFloat64
		fixed      sql.NullInt64
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT regular_price_cents, fast_track_price_cents, auto_advance, library_enabled, library_action,
			library_premium_multiplier, library_premium_fixed_cents, updated_at
		FROM karaoke_settings WHERE organization_id = ?`,
		orgID,
	).Scan(&st.RegularPriceCents, &st.FastTrackPriceCents, &st.AutoAdvance, &st.LibraryEnabled, &action,
		&multiplier, &fixed, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(orgID), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	st.LibraryAction = domain.RuleAction(action)
	st.LibraryPremiumMultiplier = float64Ptr(multiplier)
	st.LibraryPremiumFixedCents = int64Ptr(fixed)
	t := fromMicros(updatedAt)
	st.UpdatedAt = &t
	return st, nil
}

// SaveSettings upserts the organization's queue settings.
func (s *Store) SaveSettings(ctx context.Context, st domain.Settings) (domain.Settings, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO karaoke_settings (organization_id, regular_price_cents, fast_track_price_cents, auto_advance,
			library_enabled, library_action, library_premium_multiplier, library_premium_fixed_cents, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id) DO UPDATE SET
			regular_price_cents = excluded.regular_price_cents,
			fast_track_price_cents = excluded.fast_track_price_cents,
			auto_advance = excluded.auto_advance,
			library_enabled = excluded.library_enabled,
			library_action = excluded.library_action,
			library_premium_multiplier = excluded.library_premium_multiplier,
			library_premium_fixed_cents = excluded.library_premium_fixed_cents,
			updated_at = excluded.updated_at`,
		st.OrganizationID, st.RegularPriceCents, st.FastTrackPriceCents, st.AutoAdvance,
		st.LibraryEnabled, string(st.LibraryAction), nullFloat64(st.LibraryPremiumMultiplier),
		nullInt64(st.LibraryPremiumFixedCents), toMicros(now))
	if err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	st.UpdatedAt = &now
	return st, nil
}

// InLibrary reports whether a normalized song is in the organization's library.
func (s *Store) InLibrary(ctx context.Context, orgID string, key normalize.Pair) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM music_library WHERE organization_id = ? AND normalized_title = ? AND normalized_artist = ?`,
		orgID, key.Title, key.Artist,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check library: %w", err)
	}
	return true, nil
}

// ListLibrary returns the organization's library ordered by artist and title.
func (s *Store) ListLibrary(ctx context.Context, orgID string) ([]domain.LibrarySong, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, song_title, song_artist, normalized_title, normalized_artist, created_at
		FROM music_library WHERE organization_id = ? ORDER BY normalized_artist, normalized_title`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	defer rows.Close()

	list := []domain.LibrarySong{}
	for rows.Next() {
		var l domain.LibrarySong
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.SongTitle, &l.SongArtist,
			&l.NormalizedTitle, &l.NormalizedArtist, &createdAt); err != nil {
			return nil, fmt.Errorf("scan library song: %w", err)
		}
		l.CreatedAt = fromMicros(createdAt)
		list = append(list, l)
	}
	return list, rows.Err()
}

// AddLibrarySong inserts a song into the library. It returns ErrAlreadyExists
// when the normalized song is already present.
func (s *Store) AddLibrarySong(ctx context.Context, l domain.LibrarySong) (domain.LibrarySong, error) {
	key := songKey(l.SongTitle, l.SongArtist)
	l.ID = uuid.NewString()
	l.NormalizedTitle, l.NormalizedArtist = key.Title, key.Artist
	l.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO music_library (id, organization_id, song_title, song_artist, normalized_title, normalized_artist, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, normalized_title, normalized_artist) DO NOTHING`,
		l.ID, l.OrganizationID, l.SongTitle, l.SongArtist, l.NormalizedTitle, l.NormalizedArtist, toMicros(l.CreatedAt))
	if err != nil {
		return domain.LibrarySong{}, fmt.Errorf("add library song: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.LibrarySong{}, fmt.Errorf("add library song: %w", err)
	} else if n == 0 {
		return domain.LibrarySong{}, domain.ErrAlreadyExists
	}
	return l, nil
}

// DeleteLibrarySong removes one library song of an organization.
func (s *Store) DeleteLibrarySong(ctx context.Context, orgID, id string) error {
	return s.deleteOwned(ctx, "music_library", orgID, id)
}

// deleteOwned deletes a row by id within an organization. table is always a
// constant from this package.
func (s *Store) deleteOwned(ctx context.Context, table, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = ? AND organization_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
