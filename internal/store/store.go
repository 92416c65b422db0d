// Package store persists queue entries, rule tables and the audit log in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/database"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

// ErrSchemaVersion is returned by New when the database is not at the
// version this build was written against.
var ErrSchemaVersion = errors.New("unexpected schema version")

// Store is the sqlite-backed source of truth.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps db after checking its migration version.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	var version uint
	var dirty bool
	err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if dirty || version != database.SchemaVersion {
		return nil, fmt.Errorf("%w: have %d (dirty=%t), want %d", ErrSchemaVersion, version, dirty, database.SchemaVersion)
	}
	return &Store{db: db, now: time.Now}, nil
}

const entryColumns = `id, organization_id, event_code, singer_name, group_size, group_members,
	song_title, song_artist, normalized_title, normalized_artist, status, tier, is_priority,
	created_at, started_at, completed_at, amount_cents, is_premium, pricing_rule_id,
	video_id, video_external_id, video_title, video_embeddable`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.Entry, error) {
	var (
		e                               domain.Entry
		members                         string
		createdAt                       int64
		startedAt, completedAt          sql.NullInt64
		ruleID                          sql.NullString
		videoID, videoExtID, videoTitle sql.NullString
		videoEmbeddable                 sql.NullBool
	)
	err := row.Scan(&e.ID, &e.OrganizationID, &e.EventCode, &e.SingerName, &e.GroupSize, &members,
		&e.SongTitle, &e.SongArtist, &e.NormalizedTitle, &e.NormalizedArtist, &e.Status, &e.Tier, &e.IsPriority,
		&createdAt, &startedAt, &completedAt, &e.AmountCents, &e.IsPremium, &ruleID,
		&videoID, &videoExtID, &videoTitle, &videoEmbeddable)
	if err != nil {
		return domain.Entry{}, err
	}

	if members != "" {
		if err := json.Unmarshal([]byte(members), &e.GroupMembers); err != nil {
			return domain.Entry{}, fmt.Errorf("decode group members of %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = fromMicros(createdAt)
	e.StartedAt = fromNullMicros(startedAt)
	e.CompletedAt = fromNullMicros(completedAt)
	if ruleID.Valid {
		id := ruleID.String
		e.PricingRuleID = &id
	}
	if videoID.Valid {
		e.Video = &domain.Video{
			ID:         videoID.String,
			ExternalID: videoExtID.String,
			Title:      videoTitle.String,
			Embeddable: videoEmbeddable.Bool,
		}
	}
	return e, nil
}

var activeStatusList = func() string {
	quoted := make([]string, len(domain.ActiveStatuses))
	for i, st := range domain.ActiveStatuses {
		quoted[i] = "'" + string(st) + "'"
	}
	return strings.Join(quoted, ", ")
}()

// ActiveEntries returns every entry of an event in one of domain.ActiveStatuses.
func (s *Store) ActiveEntries(ctx context.Context, key domain.EventKey) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		WHERE organization_id = ? AND event_code = ? AND status IN (`+activeStatusList+`)
		ORDER BY created_at, id`,
		key.OrganizationID, key.EventCode)
	if err != nil {
		return nil, fmt.Errorf("query active entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active entries: %w", err)
	}
	return entries, nil
}

// GetEntry loads one entry of an event in any status.
func (s *Store) GetEntry(ctx context.Context, key domain.EventKey, id string) (domain.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = ? AND organization_id = ? AND event_code = ?`,
		id, key.OrganizationID, key.EventCode)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// InsertEntry persists a newly admitted entry together with its audit row.
func (s *Store) InsertEntry(ctx context.Context, e domain.Entry, performedBy string) error {
	members, err := json.Marshal(nonNil(e.GroupMembers))
	if err != nil {
		return fmt.Errorf("encode group members: %w", err)
	}

	var videoID, videoExtID, videoTitle sql.NullString
	var videoEmbeddable sql.NullBool
	if e.Video != nil {
		videoID = sql.NullString{String: e.Video.ID, Valid: true}
		videoExtID = sql.NullString{String: e.Video.ExternalID, Valid: true}
		videoTitle = sql.NullString{String: e.Video.Title, Valid: true}
		videoEmbeddable = sql.NullBool{Bool: e.Video.Embeddable, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert entry: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queue_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrganizationID, e.EventCode, e.SingerName, e.GroupSize, string(members),
		e.SongTitle, e.SongArtist, e.NormalizedTitle, e.NormalizedArtist, string(e.Status), string(e.Tier), e.IsPriority,
		toMicros(e.CreatedAt), toNullMicros(e.StartedAt), toNullMicros(e.CompletedAt), e.AmountCents, e.IsPremium,
		nullString(e.PricingRuleID), videoID, videoExtID, videoTitle, videoEmbeddable)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if err := insertAudit(ctx, tx, domain.AuditRecord{
		OrganizationID: e.OrganizationID,
		EventCode:      e.EventCode,
		EntryID:        e.ID,
		Action:         "submit",
		NewStatus:      e.Status,
		PerformedBy:    performedBy,
		CreatedAt:      e.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert entry: %w", err)
	}
	return nil
}

// Apply writes a set of guarded mutations in one transaction. Each row is only
// updated if it is still in its expected status; if any guard fails nothing is
// written and ErrConflict is returned.
func (s *Store) Apply(ctx context.Context, key domain.EventKey, performedBy string, muts []domain.Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	for _, m := range muts {
		sets := []string{"status = ?"}
		args := []any{string(m.To)}
		if m.To == domain.StatusSinging && m.From != domain.StatusSinging {
			sets = append(sets, "started_at = ?")
			args = append(args, toMicros(m.At))
		}
		if m.To.IsTerminal() {
			sets = append(sets, "completed_at = ?")
			args = append(args, toMicros(m.At))
		}
		if m.Prioritize {
			sets = append(sets, "is_priority = 1")
		}
		if m.Video != nil {
			sets = append(sets, "video_id = ?", "video_external_id = ?", "video_title = ?", "video_embeddable = ?")
			args = append(args, m.Video.ID, m.Video.ExternalID, m.Video.Title, m.Video.Embeddable)
		}
		args = append(args, m.EntryID, key.OrganizationID, key.EventCode, string(m.From))

		res, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET `+strings.Join(sets, ", ")+`
			WHERE id = ? AND organization_id = ? AND event_code = ? AND status = ?`,
			args...)
		if err != nil {
			return fmt.Errorf("%s entry %s: %w", m.Action, m.EntryID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s entry %s: %w", m.Action, m.EntryID, err)
		}
		if n == 0 {
			return fmt.Errorf("%s entry %s: %w", m.Action, m.EntryID, domain.ErrConflict)
		}

		if err := insertAudit(ctx, tx, domain.AuditRecord{
			OrganizationID: key.OrganizationID,
			EventCode:      key.EventCode,
			EntryID:        m.EntryID,
			Action:         m.Action,
			OldStatus:      m.From,
			NewStatus:      m.To,
			PerformedBy:    performedBy,
			CreatedAt:      m.At,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func toNullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
