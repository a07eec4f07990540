package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/ballot/repotest"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/migrate"
)

var ballotCols = []string{"id", "uid", "serial", "kiosk_id", "tx", "committed", "card_sec", "category", "unit", "created_at", "committed_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, migrate.Postgres), mock
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(migrate.SQLite, filepath.Join(t.TempDir(), "kioskvote.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedKiosks(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		k := kiosk.Kiosk{ID: id, Name: id, AuthCode: kiosk.HashSecret("salt", id), CreatedAt: time.Now()}
		if err := s.CreateKiosk(context.Background(), &k); err != nil {
			t.Fatalf("seed kiosk %s: %v", id, err)
		}
	}
}

func TestFindOrCreateInsertsWithConflictGuard(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	serial := "3"

	mock.ExpectQuery(`insert into ballots .* on conflict \(uid\) do nothing\s+returning`).
		WithArgs("id-1", "b01234567", "3", "k1", "tx-1", "", "B", "EE", now).
		WillReturnRows(sqlmock.NewRows(ballotCols).
			AddRow("id-1", "b01234567", "3", "k1", "tx-1", false, "", "B", "EE", now, nil))

	rec, created, err := s.FindOrCreateBallot(context.Background(), ballot.Record{
		ID: "id-1", UID: "b01234567", Serial: &serial, KioskID: "k1", Tx: "tx-1",
		Category: "B", Unit: "EE", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("FindOrCreateBallot: %v", err)
	}
	if !created || rec.Serial == nil || *rec.Serial != "3" || rec.CommittedAt != nil {
		t.Fatalf("unexpected record: %+v created=%v", rec, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindOrCreateFallsBackToExisting(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`insert into ballots`).WillReturnRows(sqlmock.NewRows(ballotCols))
	mock.ExpectQuery(`select .* from ballots where uid = \$1`).
		WithArgs("b01234567").
		WillReturnRows(sqlmock.NewRows(ballotCols).
			AddRow("id-0", "b01234567", nil, "k0", "tx-0", true, "", "", "", now, now))

	rec, created, err := s.FindOrCreateBallot(context.Background(), ballot.Record{ID: "id-1", UID: "b01234567", KioskID: "k1", Tx: "tx-1", CreatedAt: now})
	if err != nil {
		t.Fatalf("FindOrCreateBallot: %v", err)
	}
	if created || rec.Tx != "tx-0" || rec.KioskID != "k0" || !rec.Committed || rec.Serial != nil || rec.CommittedAt == nil {
		t.Fatalf("unexpected record: %+v created=%v", rec, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCommitBallotIsConditionalUpdate(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`update ballots set committed = true, committed_at = \$1\s+where tx = \$2 and kiosk_id = \$3 and committed = false`).
		WithArgs(at, "tx-1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update ballots set committed = true`).
		WithArgs(at, "tx-1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.CommitBallot(context.Background(), "tx-1", "k1", at)
	if err != nil || !ok {
		t.Fatalf("first commit: ok=%v err=%v", ok, err)
	}
	ok, err = s.CommitBallot(context.Background(), "tx-1", "k1", at)
	if err != nil || ok {
		t.Fatalf("second commit: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateKioskMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`insert into kiosks`).WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.CreateKiosk(context.Background(), &kiosk.Kiosk{ID: "k1", Name: "n", AuthCode: "x"})
	if !errors.Is(err, kiosk.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetBallotNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`select .* from ballots`).WillReturnRows(sqlmock.NewRows(ballotCols))
	if _, err := s.GetBallot(context.Background(), "z00000000"); !errors.Is(err, ballot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ballot.Repository {
		s := openSQLite(t)
		seedKiosks(t, s, "kiosk-a", "kiosk-b")
		return s
	})
}

func TestSQLiteKiosks(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	k := kiosk.Kiosk{ID: "k1", Name: "Hall", Comment: "door", AuthCode: kiosk.HashSecret("salt", "secret"), CreatedAt: time.Now()}
	if err := s.CreateKiosk(ctx, &k); err != nil {
		t.Fatalf("CreateKiosk: %v", err)
	}
	dup := k
	dup.ID = "k2"
	if err := s.CreateKiosk(ctx, &dup); !errors.Is(err, kiosk.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.FindKioskByAuthCode(ctx, k.AuthCode)
	if err != nil || got.ID != "k1" || got.Comment != "door" || got.LastPing != nil {
		t.Fatalf("FindKioskByAuthCode: %+v %v", got, err)
	}
	if _, err := s.FindKioskByAuthCode(ctx, "nope"); !errors.Is(err, kiosk.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	touched, err := s.TouchKiosk(ctx, "k1", at)
	if err != nil || touched.LastPing == nil || !touched.LastPing.Equal(at) {
		t.Fatalf("TouchKiosk: %+v %v", touched, err)
	}
	if _, err := s.TouchKiosk(ctx, "missing", at); !errors.Is(err, kiosk.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteBallotRequiresKnownKiosk(t *testing.T) {
	s := openSQLite(t)
	_, _, err := s.FindOrCreateBallot(context.Background(), repotest.Draft(t, "b01234567", "ghost", nil))
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestSQLiteAudit(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	seedKiosks(t, s, "k1")

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{ID: "a1", OccurredAt: base, Level: audit.LevelInfo, Tag: "ballot.token.issued", Content: `{"uid":"b01234567"}`, KioskID: "k1", RequestID: "r1"},
		{ID: "a2", OccurredAt: base.Add(time.Second), Level: audit.LevelWarn, Tag: "ballot.serial.bypass", Content: "{}"},
	}
	for _, e := range entries {
		if err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	got, err := s.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a2" || got[1].KioskID != "k1" || got[1].RequestID != "r1" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if !got[1].OccurredAt.Equal(base) {
		t.Fatalf("occurred_at round trip: %v", got[1].OccurredAt)
	}
}
