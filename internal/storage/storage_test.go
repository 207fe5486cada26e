package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yp-alpha/progression/internal/progression"
)

func openSQLite(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	b, err := Open(Options{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b.(*GormStore)
}

// backends returns every store implementation under test.
func backends(t *testing.T) map[string]progression.Store {
	t.Helper()
	file, err := OpenFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return map[string]progression.Store{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": openSQLite(t),
	}
}

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func completion(user, ref string, day int) *progression.Completion {
	return &progression.Completion{
		ID:              uuid.NewString(),
		UserID:          user,
		EnrollmentRef:   ref,
		DayNumber:       day,
		CompletedAt:     t0,
		XPAwarded:       110,
		CurrencyAwarded: 5,
		DurationSeconds: 900,
	}
}

func TestStore_CreateAndLoad(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, progression.NewRecord("ath-1", t0)))

			rec, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			assert.Equal(t, "ath-1", rec.UserID)
			assert.Equal(t, int64(1), rec.Version)
			assert.True(t, rec.LastActivityAt.IsZero())
			assert.NotNil(t, rec.Milestones)

			err = s.Create(ctx, progression.NewRecord("ath-1", t0))
			assert.ErrorIs(t, err, progression.ErrAlreadyEnrolled)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "nobody")
			assert.ErrorIs(t, err, progression.ErrNotFound)
		})
	}
}

func TestStore_CommitBumpsVersion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, progression.NewRecord("ath-1", t0)))

			rec, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			rec.TotalXP = 110
			rec.Currency = 5
			rec.CurrentStreak = 1
			rec.BestStreak = 1
			rec.LastActivityAt = t0
			rec.Milestones["streak-3"] = t0
			require.NoError(t, s.Commit(ctx, rec, completion("ath-1", "prog-a", 1)))
			assert.Equal(t, int64(2), rec.Version)

			got, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			assert.Equal(t, int64(110), got.TotalXP)
			assert.Equal(t, int64(2), got.Version)
			assert.True(t, got.LastActivityAt.Equal(t0))
			assert.True(t, got.HasMilestone("streak-3"))

			log, err := s.Completions(ctx, "ath-1")
			require.NoError(t, err)
			require.Len(t, log, 1)
			assert.Equal(t, 1, log[0].DayNumber)
		})
	}
}

func TestStore_CommitStaleVersionConflicts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, progression.NewRecord("ath-1", t0)))

			a, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			b, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)

			a.Currency = 10
			require.NoError(t, s.Commit(ctx, a, nil))

			b.Currency = 99
			assert.ErrorIs(t, s.Commit(ctx, b, nil), progression.ErrConflict)

			got, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			assert.Equal(t, int64(10), got.Currency)
		})
	}
}

func TestStore_DuplicateCompletionRejected(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, progression.NewRecord("ath-1", t0)))

			rec, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			require.NoError(t, s.Commit(ctx, rec, completion("ath-1", "prog-a", 3)))

			rec.TotalXP = 999
			err = s.Commit(ctx, rec, completion("ath-1", "prog-a", 3))
			assert.ErrorIs(t, err, progression.ErrAlreadyCompleted)

			got, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), got.TotalXP, "rejected commit must not apply")

			// Another program's day 3 is a different slot.
			require.NoError(t, s.Commit(ctx, rec, completion("ath-1", "prog-b", 3)))
		})
	}
}

func TestStore_ConcurrentCommitsOnlyOneWins(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, progression.NewRecord("ath-1", t0)))

			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				wins      int
				conflicts int
			)
			base, err := s.Load(ctx, "ath-1")
			require.NoError(t, err)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec := base.Clone()
					rec.Currency += 10
					err := s.Commit(ctx, rec, nil)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
					} else if assert.ErrorIs(t, err, progression.ErrConflict) {
						conflicts++
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
			assert.Equal(t, writers-1, conflicts)
		})
	}
}

func TestFileStore_FlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, progression.NewRecord("ath-1", t0)))
	rec, err := s.Load(ctx, "ath-1")
	require.NoError(t, err)
	rec.TotalXP = 420
	rec.Milestones["level-2"] = t0
	require.NoError(t, s.Commit(ctx, rec, completion("ath-1", "prog-a", 1)))
	require.NoError(t, s.Close())

	reopened, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	got, err := reopened.Load(ctx, "ath-1")
	require.NoError(t, err)
	assert.Equal(t, int64(420), got.TotalXP)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.HasMilestone("level-2"))

	log, err := reopened.Completions(ctx, "ath-1")
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestFileStore_FlushSkipsCleanState(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	_, err = OpenFileStore(dir, nil)
	require.NoError(t, err)
	assert.NoFileExists(t, s.Path())
}

func TestFileStore_RunFlushesOnCancel(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), progression.NewRecord("ath-1", t0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done
	assert.FileExists(t, s.Path())
}

func TestFileStore_RejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.write([]byte(`{"version": 99}`)))

	_, err = OpenFileStore(dir, nil)
	assert.Error(t, err)
}

func TestDefaultStateDir_XDG(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/progression", defaultStateDir())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "mongo"})
	assert.Error(t, err)
}

func TestOpenDB_PostgresRequiresDSN(t *testing.T) {
	_, err := OpenDB(Options{Driver: DriverPostgres})
	assert.Error(t, err)
}
