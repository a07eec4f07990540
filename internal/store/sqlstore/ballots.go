package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kioskvote.org/internal/ballot"
)

const ballotColumns = `id, uid, serial, kiosk_id, tx, committed, card_sec, category, unit, created_at, committed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBallot(row rowScanner) (ballot.Record, error) {
	var (
		rec         ballot.Record
		serial      sql.NullString
		created     nullTime
		committedAt nullTime
	)
	if err := row.Scan(&rec.ID, &rec.UID, &serial, &rec.KioskID, &rec.Tx, &rec.Committed,
		&rec.CardSec, &rec.Category, &rec.Unit, &created, &committedAt); err != nil {
		return ballot.Record{}, err
	}
	if serial.Valid {
		s := serial.String
		rec.Serial = &s
	}
	rec.CreatedAt = created.Time
	rec.CommittedAt = committedAt.ptr()
	return rec, nil
}

// FindOrCreateBallot relies on the unique uid constraint: the insert either
// wins or does nothing, and the loser reads the winning row.
func (s *Store) FindOrCreateBallot(ctx context.Context, draft ballot.Record) (ballot.Record, bool, error) {
	if draft.Tx == "" {
		draft.Tx = ballot.NoToken
	}
	var serial sql.NullString
	if draft.Serial != nil {
		serial = sql.NullString{String: *draft.Serial, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, s.q(`
		insert into ballots (id, uid, serial, kiosk_id, tx, committed, card_sec, category, unit, created_at)
		values ($1, $2, $3, $4, $5, false, $6, $7, $8, $9)
		on conflict (uid) do nothing
		returning `+ballotColumns),
		draft.ID, draft.UID, serial, draft.KioskID, draft.Tx,
		draft.CardSec, draft.Category, draft.Unit, s.ts(draft.CreatedAt))
	rec, err := scanBallot(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ballot.Record{}, false, err
	}

	rec, err = s.GetBallot(ctx, draft.UID)
	if err != nil {
		return ballot.Record{}, false, err
	}
	return rec, false, nil
}

// CommitBallot is a single conditional update.
func (s *Store) CommitBallot(ctx context.Context, tx, kioskID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		update ballots set committed = true, committed_at = $1
		where tx = $2 and kiosk_id = $3 and committed = false and tx <> '!'
	`), s.ts(at), tx, kioskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetBallot(ctx context.Context, uid string) (ballot.Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(`select `+ballotColumns+` from ballots where uid = $1`), uid)
	rec, err := scanBallot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ballot.Record{}, ballot.ErrNotFound
	}
	return rec, err
}
