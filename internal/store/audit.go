package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

// DefaultAuditLimit caps ListAudit when the caller passes no limit.
const DefaultAuditLimit = 100

func insertAudit(ctx context.Context, tx *sql.Tx, a domain.AuditRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO queue_audit_log (organization_id, event_code, entry_id, action, old_status, new_status, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OrganizationID, a.EventCode, a.EntryID, a.Action, string(a.OldStatus), string(a.NewStatus),
		a.PerformedBy, toMicros(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListAudit returns an event's most recent operations, newest first.
func (s *Store) ListAudit(ctx context.Context, key domain.EventKey, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, event_code, entry_id, action, old_status, new_status, performed_by, created_at
		FROM queue_audit_log WHERE organization_id = ? AND event_code = ?
		ORDER BY id DESC LIMIT ?`,
		key.OrganizationID, key.EventCode, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	list := []domain.AuditRecord{}
	for rows.Next() {
		var a domain.AuditRecord
		var oldStatus, newStatus string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.EventCode, &a.EntryID, &a.Action,
			&oldStatus, &newStatus, &a.PerformedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		a.OldStatus = domain.Status(oldStatus)
		a.NewStatus = domain.Status(newStatus)
		a.CreatedAt = fromMicros(createdAt)
		list = append(list, a)
	}
	return list, rows.Err()
}
