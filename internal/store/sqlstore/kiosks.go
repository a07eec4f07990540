package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kioskvote.org/internal/kiosk"
)

const kioskColumns = `id, name, comment, auth_code, last_ping, created_at`

func scanKiosk(row rowScanner) (kiosk.Kiosk, error) {
	var (
		k        kiosk.Kiosk
		lastPing nullTime
		created  nullTime
	)
	if err := row.Scan(&k.ID, &k.Name, &k.Comment, &k.AuthCode, &lastPing, &created); err != nil {
		return kiosk.Kiosk{}, err
	}
	k.LastPing = lastPing.ptr()
	k.CreatedAt = created.Time
	return k, nil
}

func (s *Store) CreateKiosk(ctx context.Context, k *kiosk.Kiosk) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into kiosks (id, name, comment, auth_code, created_at)
		values ($1, $2, $3, $4, $5)
	`), k.ID, k.Name, k.Comment, k.AuthCode, s.ts(k.CreatedAt))
	if isUniqueViolation(err) {
		return kiosk.ErrAlreadyExists
	}
	return err
}

func (s *Store) FindKioskByAuthCode(ctx context.Context, authCode string) (kiosk.Kiosk, error) {
	row := s.db.QueryRowContext(ctx, s.q(`select `+kioskColumns+` from kiosks where auth_code = $1`), authCode)
	k, err := scanKiosk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return kiosk.Kiosk{}, kiosk.ErrNotFound
	}
	return k, err
}

func (s *Store) TouchKiosk(ctx context.Context, id string, at time.Time) (kiosk.Kiosk, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		update kiosks set last_ping = $1 where id = $2
		returning `+kioskColumns), s.ts(at), id)
	k, err := scanKiosk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return kiosk.Kiosk{}, kiosk.ErrNotFound
	}
	return k, err
}
