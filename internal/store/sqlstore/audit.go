package sqlstore

import (
	"context"
	"database/sql"

	"kioskvote.org/internal/audit"
)

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into audit_log (id, occurred_at, level, tag, content, kiosk_id, request_id)
		values ($1, $2, $3, $4, $5, $6, $7)
	`), e.ID, s.ts(e.OccurredAt), e.Level, e.Tag, e.Content, nullIfEmpty(e.KioskID), nullIfEmpty(e.RequestID))
	return err
}

// ListAudit returns the newest entries first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		select id, occurred_at, level, tag, content, coalesce(kiosk_id, ''), coalesce(request_id, '')
		from audit_log
		order by occurred_at desc, id desc
		limit $1
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e  audit.Entry
			at nullTime
		)
		if err := rows.Scan(&e.ID, &at, &e.Level, &e.Tag, &e.Content, &e.KioskID, &e.RequestID); err != nil {
			return nil, err
		}
		e.OccurredAt = at.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
