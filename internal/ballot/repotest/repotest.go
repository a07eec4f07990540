// Package repotest holds behaviour checks shared by every ballot.Repository
// implementation.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/ids"
)

// Run exercises repo with the repository contract. newRepo must return an
// empty repository whose kiosk foreign keys, if any, accept "kiosk-a" and
// "kiosk-b".
func Run(t *testing.T, newRepo func(t *testing.T) ballot.Repository) {
	t.Run("FindOrCreate", func(t *testing.T) { testFindOrCreate(t, newRepo(t)) })
	t.Run("Commit", func(t *testing.T) { testCommit(t, newRepo(t)) })
	t.Run("ConcurrentFindOrCreate", func(t *testing.T) { testConcurrentFindOrCreate(t, newRepo(t)) })
	t.Run("ConcurrentCommit", func(t *testing.T) { testConcurrentCommit(t, newRepo(t)) })
}

func token(t *testing.T) string {
	t.Helper()
	tx, err := ids.Secret(16)
	require.NoError(t, err)
	return tx
}

// Draft builds a creatable record.
func Draft(t *testing.T, uid, kioskID string, serial *string) ballot.Record {
	return ballot.Record{
		ID:        ids.New(),
		UID:       uid,
		Serial:    serial,
		KioskID:   kioskID,
		Tx:        token(t),
		CardSec:   "c1",
		Category:  "B",
		Unit:      "EE",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testFindOrCreate(t *testing.T, repo ballot.Repository) {
	ctx := context.Background()
	serial := "3"
	first := Draft(t, "b01234567", "kiosk-a", &serial)

	rec, created, err := repo.FindOrCreateBallot(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.Tx, rec.Tx)
	require.NotNil(t, rec.Serial)
	assert.Equal(t, "3", *rec.Serial)
	assert.Equal(t, "EE", rec.Unit)
	assert.Equal(t, "c1", rec.CardSec)
	assert.False(t, rec.Committed)

	second := Draft(t, "b01234567", "kiosk-b", nil)
	rec, created, err = repo.FindOrCreateBallot(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Tx, rec.Tx, "existing token must not rotate")
	assert.Equal(t, "kiosk-a", rec.KioskID)

	nullSerial := Draft(t, "r07654321", "kiosk-a", nil)
	rec, created, err = repo.FindOrCreateBallot(ctx, nullSerial)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, rec.Serial)

	got, err := repo.GetBallot(ctx, "r07654321")
	require.NoError(t, err)
	assert.Nil(t, got.Serial)
	assert.Equal(t, nullSerial.Tx, got.Tx)

	_, err = repo.GetBallot(ctx, "z00000000")
	assert.True(t, errors.Is(err, ballot.ErrNotFound))
}

func testCommit(t *testing.T, repo ballot.Repository) {
	ctx := context.Background()
	rec, _, err := repo.FindOrCreateBallot(ctx, Draft(t, "b01234567", "kiosk-a", nil))
	require.NoError(t, err)
	now := time.Now().UTC()

	ok, err := repo.CommitBallot(ctx, rec.Tx, "kiosk-b", now)
	require.NoError(t, err)
	assert.False(t, ok, "foreign kiosk must not commit")

	ok, err = repo.CommitBallot(ctx, token(t), "kiosk-a", now)
	require.NoError(t, err)
	assert.False(t, ok, "unknown tx must not commit")

	ok, err = repo.CommitBallot(ctx, ballot.NoToken, "kiosk-a", now)
	require.NoError(t, err)
	assert.False(t, ok, "sentinel tx must not commit")

	ok, err = repo.CommitBallot(ctx, rec.Tx, "kiosk-a", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CommitBallot(ctx, rec.Tx, "kiosk-a", now)
	require.NoError(t, err)
	assert.False(t, ok, "second commit must fail")

	got, err := repo.GetBallot(ctx, "b01234567")
	require.NoError(t, err)
	assert.True(t, got.Committed)
	require.NotNil(t, got.CommittedAt)

	again, created, err := repo.FindOrCreateBallot(ctx, Draft(t, "b01234567", "kiosk-a", nil))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.Committed, "committed never reverts")
}

func testConcurrentFindOrCreate(t *testing.T, repo ballot.Repository) {
	ctx := context.Background()
	const n = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		mu      sync.Mutex
		tokens  = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kioskID := "kiosk-a"
			if i%2 == 1 {
				kioskID = "kiosk-b"
			}
			rec, ok, err := repo.FindOrCreateBallot(ctx, Draft(t, "b01234567", kioskID, nil))
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			if ok {
				created.Add(1)
			}
			mu.Lock()
			tokens[rec.Tx] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load(), "exactly one creator")
	assert.Len(t, tokens, 1, fmt.Sprintf("all callers must see one token, got %v", tokens))
}

func testConcurrentCommit(t *testing.T, repo ballot.Repository) {
	ctx := context.Background()
	rec, _, err := repo.FindOrCreateBallot(ctx, Draft(t, "b01234567", "kiosk-a", nil))
	require.NoError(t, err)

	const n = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CommitBallot(ctx, rec.Tx, "kiosk-a", time.Now())
			if err != nil {
				t.Errorf("commit: %v", err)
				return
			}
			if ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
}
