package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
)

type backend interface {
	SessionStore
	RatingStore
}

var testDefaults = RatingDefaults{Start: 1000, Floor: 0}

func backends(t *testing.T) map[string]backend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	out := map[string]backend{
		"memory": NewMemory(testDefaults),
		"redis":  NewRedis(rdb, testDefaults),
	}
	if pg := postgresBackend(t); pg != nil {
		out["postgres"] = pg
	}
	return out
}

// postgresBackend returns an emptied Postgres store when POSTGRES_TEST_URL
// is set.
func postgresBackend(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		return nil
	}
	pg, err := NewPostgres(url, testDefaults)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	ctx := context.Background()
	require.NoError(t, pg.EnsureSchema(ctx))
	_, err = pg.db.ExecContext(ctx, `TRUNCATE pending_results, sessions, ratings, applied_results`)
	require.NoError(t, err)
	return pg
}

func pair(id string) NewSession {
	return NewSession{ID: id, Kind: domain.KindChallenge, Game: "chess", Room: "room1", Participants: []string{"u1", "u2"}}
}

func TestCreateSessionIsExclusive(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := s.CreateSession(ctx, pair("CH-AAAAAA"))
			require.NoError(t, err)
			assert.Equal(t, domain.StatusActive, sess.Status)
			assert.Equal(t, []string{"u1", "u2"}, sess.Participants)

			_, err = s.CreateSession(ctx, pair("CH-AAAAAA"))
			assert.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestCreateSessionRejectsSoloRoster(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := pair("CH-SOLO00")
			in.Participants = []string{"u1"}
			_, err := s.CreateSession(context.Background(), in)
			require.Error(t, err)
			_, err = s.GetSession(context.Background(), "CH-SOLO00")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateSession(ctx, pair("CH-CLOSE1"))
			require.NoError(t, err)
			require.NoError(t, s.SetPendingResult(ctx, domain.PendingResult{SessionID: "CH-CLOSE1", ReportID: "r1", Reporter: "u1", Winner: "u1", Loser: "u2", Game: "chess"}))

			require.NoError(t, s.CloseSession(ctx, "CH-CLOSE1"))
			require.NoError(t, s.CloseSession(ctx, "CH-CLOSE1"))
			require.NoError(t, s.CloseSession(ctx, "never-existed"))

			_, err = s.GetSession(ctx, "CH-CLOSE1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetPendingResult(ctx, "CH-CLOSE1")
			assert.ErrorIs(t, err, ErrNotFound)
			list, err := s.SessionsByUser(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestSessionsByUser(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateSession(ctx, pair("CH-BYUSR1"))
			require.NoError(t, err)
			other := pair("CH-BYUSR2")
			other.Participants = []string{"u3", "u4"}
			_, err = s.CreateSession(ctx, other)
			require.NoError(t, err)

			list, err := s.SessionsByUser(ctx, "u2")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "CH-BYUSR1", list[0].ID)
		})
	}
}

func TestPendingResultOverwriteAndTake(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateSession(ctx, pair("CH-PEND01"))
			require.NoError(t, err)

			first := domain.PendingResult{SessionID: "CH-PEND01", ReportID: "r1", Reporter: "u1", Winner: "u1", Loser: "u2", Game: "chess"}
			second := domain.PendingResult{SessionID: "CH-PEND01", ReportID: "r2", Reporter: "u2", Winner: "u2", Loser: "u1", Game: "chess"}
			require.NoError(t, s.SetPendingResult(ctx, first))
			require.NoError(t, s.SetPendingResult(ctx, second))

			sess, err := s.GetSession(ctx, "CH-PEND01")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusAwaitingConfirmation, sess.Status)

			got, err := s.GetPendingResult(ctx, "CH-PEND01")
			require.NoError(t, err)
			assert.Equal(t, "r2", got.ReportID)

			// the overwritten report can no longer be applied
			_, err = s.TakePendingResult(ctx, "CH-PEND01", "r1")
			assert.ErrorIs(t, err, ErrSuperseded)

			taken, err := s.TakePendingResult(ctx, "CH-PEND01", "r2")
			require.NoError(t, err)
			assert.Equal(t, "u2", taken.Winner)

			_, err = s.TakePendingResult(ctx, "CH-PEND01", "r2")
			assert.ErrorIs(t, err, ErrSuperseded)

			sess, err = s.GetSession(ctx, "CH-PEND01")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusActive, sess.Status)
		})
	}
}

func TestSetPendingResultWithoutSession(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.SetPendingResult(context.Background(), domain.PendingResult{SessionID: "CH-NOPE00", ReportID: "r1"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestClearPendingResult(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateSession(ctx, pair("CH-CLEAR1"))
			require.NoError(t, err)
			require.NoError(t, s.SetPendingResult(ctx, domain.PendingResult{SessionID: "CH-CLEAR1", ReportID: "r1", Winner: "u1", Loser: "u2"}))
			require.NoError(t, s.ClearPendingResult(ctx, "CH-CLEAR1"))
			require.NoError(t, s.ClearPendingResult(ctx, "CH-CLEAR1"))

			_, err = s.GetPendingResult(ctx, "CH-CLEAR1")
			assert.ErrorIs(t, err, ErrNotFound)
			sess, err := s.GetSession(ctx, "CH-CLEAR1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusActive, sess.Status)
		})
	}
}

func TestRatingsDefaultClampAndTop(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			v, err := s.GetRating(ctx, "nobody", "chess")
			require.NoError(t, err)
			assert.Equal(t, 1000, v)

			require.NoError(t, s.SetRating(ctx, "u1", "chess", 1016))
			require.NoError(t, s.SetRating(ctx, "u2", "chess", -20))
			require.NoError(t, s.SetRating(ctx, "u3", "chess", 1200))
			require.NoError(t, s.SetRating(ctx, "u1", "go", 900))

			v, err = s.GetRating(ctx, "u2", "chess")
			require.NoError(t, err)
			assert.Equal(t, 0, v)

			top, err := s.TopRatings(ctx, "chess", 2)
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, domain.Rating{UserID: "u3", Game: "chess", Value: 1200}, top[0])
			assert.Equal(t, domain.Rating{UserID: "u1", Game: "chess", Value: 1016}, top[1])

			// ratings are per game
			v, err = s.GetRating(ctx, "u1", "go")
			require.NoError(t, err)
			assert.Equal(t, 900, v)
		})
	}
}

func TestRedisStorageErrorOnOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedis(rdb, testDefaults)
	mr.Close()

	_, err = s.GetSession(context.Background(), "CH-DOWN00")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	assert.Equal(t, "get session", se.Op)
}

func plus(n int) func(w, l int) (int, int) {
	return func(w, l int) (int, int) { return w + n, l - n }
}

func TestApplyResultOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := ResultApply{ReportID: "r1", Game: "chess", Winner: "u1", Loser: "u2", Compute: plus(16)}
			up, err := s.ApplyResult(ctx, r)
			require.NoError(t, err)
			assert.Equal(t, RatingUpdate{WinnerOld: 1000, WinnerNew: 1016, LoserOld: 1000, LoserNew: 984}, up)

			_, err = s.ApplyResult(ctx, r)
			assert.ErrorIs(t, err, ErrAlreadyApplied)

			w, err := s.GetRating(ctx, "u1", "chess")
			require.NoError(t, err)
			l, err := s.GetRating(ctx, "u2", "chess")
			require.NoError(t, err)
			assert.Equal(t, 1016, w)
			assert.Equal(t, 984, l)

			up, err = s.ApplyResult(ctx, ResultApply{ReportID: "r2", Game: "chess", Winner: "u1", Loser: "u2", Compute: plus(2000)})
			require.NoError(t, err)
			assert.Equal(t, 0, up.LoserNew)
			l, err = s.GetRating(ctx, "u2", "chess")
			require.NoError(t, err)
			assert.Equal(t, 0, l)
		})
	}
}

func TestApplyResultRejectsSelfMatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ApplyResult(context.Background(), ResultApply{ReportID: "r1", Game: "chess", Winner: "u1", Loser: "u1", Compute: plus(1)})
			require.Error(t, err)
			v, err := s.GetRating(context.Background(), "u1", "chess")
			require.NoError(t, err)
			assert.Equal(t, 1000, v)
		})
	}
}

func TestConcurrentApplyLosesNoUpdate(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg sync.WaitGroup
				mu sync.Mutex
				ok int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.ApplyResult(ctx, ResultApply{ReportID: fmt.Sprintf("r%d", i), Game: "chess", Winner: "u1", Loser: "u2", Compute: plus(1)})
					if err == nil {
						mu.Lock()
						ok++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			require.Positive(t, ok)

			w, err := s.GetRating(ctx, "u1", "chess")
			require.NoError(t, err)
			l, err := s.GetRating(ctx, "u2", "chess")
			require.NoError(t, err)
			assert.Equal(t, 1000+ok, w)
			assert.Equal(t, 1000-ok, l)
		})
	}
}

func TestRestorePendingResult(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CreateSession(ctx, pair("CH-RSTR01"))
			require.NoError(t, err)
			first := domain.PendingResult{SessionID: "CH-RSTR01", ReportID: "r1", Reporter: "u1", Winner: "u1", Loser: "u2", Game: "chess"}
			require.NoError(t, s.SetPendingResult(ctx, first))
			taken, err := s.TakePendingResult(ctx, "CH-RSTR01", "r1")
			require.NoError(t, err)

			require.NoError(t, s.RestorePendingResult(ctx, *taken))
			got, err := s.GetPendingResult(ctx, "CH-RSTR01")
			require.NoError(t, err)
			assert.Equal(t, "r1", got.ReportID)
			sess, err := s.GetSession(ctx, "CH-RSTR01")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusAwaitingConfirmation, sess.Status)

			// a newer report is never replaced by a restore
			second := first
			second.ReportID, second.Winner, second.Loser = "r2", "u2", "u1"
			require.NoError(t, s.SetPendingResult(ctx, second))
			require.NoError(t, s.RestorePendingResult(ctx, first))
			got, err = s.GetPendingResult(ctx, "CH-RSTR01")
			require.NoError(t, err)
			assert.Equal(t, "r2", got.ReportID)

			require.NoError(t, s.CloseSession(ctx, "CH-RSTR01"))
			assert.ErrorIs(t, s.RestorePendingResult(ctx, first), ErrNotFound)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}
