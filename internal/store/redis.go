package store

import (
    "context"
    "encoding/json"
    "errors"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/park285/Cheese-Challenge-bot/internal/domain"
)

const (
    ttlSession   = 24 * time.Hour
    ttlApplied   = 72 * time.Hour
    txRetryLimit = 3
)

// Redis keeps live sessions as JSON rows with a TTL and ratings as one sorted
// set per game.
type Redis struct {
    rdb      *redis.Client
    defaults RatingDefaults
}

func NewRedis(rdb *redis.Client, defaults RatingDefaults) *Redis {
    return &Redis{rdb: rdb, defaults: defaults}
}

func (s *Redis) keySession(id string) string { return "ch:" + strings.TrimSpace(id) }
func (s *Redis) keyPending(id string) string { return s.keySession(id) + ":pending" }
func (s *Redis) keyUserIdx(user string) string { return "ch:index:user:" + strings.TrimSpace(user) }
func (s *Redis) keyRatings(game string) string { return "rating:" + strings.TrimSpace(game) }
func (s *Redis) keyApplied(report string) string { return "applied:" + report }

func (s *Redis) CreateSession(ctx context.Context, in NewSession) (*domain.Session, error) {
    if err := in.validate(); err != nil { return nil, err }
    sess := in.build(time.Now())
    raw, err := json.Marshal(sess)
    if err != nil { return nil, err }
    // SETNX makes creation exclusive: two acceptances of one proposal race on the same key.
    ok, err := s.rdb.SetNX(ctx, s.keySession(sess.ID), raw, ttlSession).Result()
    if err != nil { return nil, storageErr("create session", err) }
    if !ok { return nil, ErrConflict }

    pipe := s.rdb.Pipeline()
    for _, p := range sess.Participants {
        pipe.SAdd(ctx, s.keyUserIdx(p), sess.ID)
        pipe.Expire(ctx, s.keyUserIdx(p), ttlSession)
    }
    if _, err := pipe.Exec(ctx); err != nil {
        // roll back so no half-created session stays behind
        _ = s.rdb.Del(ctx, s.keySession(sess.ID)).Err()
        return nil, storageErr("index session", err)
    }
    return sess, nil
}

func (s *Redis) GetSession(ctx context.Context, id string) (*domain.Session, error) {
    sess, err := loadJSON[domain.Session](ctx, s.rdb, s.keySession(id))
    if err != nil { return nil, storageErr("get session", err) }
    if sess == nil { return nil, ErrNotFound }
    return sess, nil
}

func (s *Redis) CloseSession(ctx context.Context, id string) error {
    sess, err := loadJSON[domain.Session](ctx, s.rdb, s.keySession(id))
    if err != nil { return storageErr("close session", err) }
    _, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        pipe.Del(ctx, s.keySession(id), s.keyPending(id))
        if sess != nil {
            for _, p := range sess.Participants {
                pipe.SRem(ctx, s.keyUserIdx(p), sess.ID)
            }
        }
        return nil
    })
    return storageErr("close session", err)
}

func (s *Redis) SessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
    ids, err := s.rdb.SMembers(ctx, s.keyUserIdx(userID)).Result()
    if err != nil { return nil, storageErr("sessions by user", err) }
    var out []*domain.Session
    for _, id := range ids {
        sess, err := loadJSON[domain.Session](ctx, s.rdb, s.keySession(id))
        if err != nil { return nil, storageErr("sessions by user", err) }
        if sess == nil {
            // expired session: drop the dangling index entry
            _ = s.rdb.SRem(ctx, s.keyUserIdx(userID), id).Err()
            continue
        }
        out = append(out, sess)
    }
    latestFirst(out)
    return out, nil
}

func (s *Redis) SetPendingResult(ctx context.Context, pr domain.PendingResult) error {
    if pr.CreatedAt.IsZero() { pr.CreatedAt = time.Now() }
    sessKey := s.keySession(pr.SessionID)
    return s.watch(ctx, "set pending result", func(tx *redis.Tx) error {
        sess, err := loadJSON[domain.Session](ctx, tx, sessKey)
        if err != nil { return err }
        if sess == nil { return ErrNotFound }
        sess.Status = domain.StatusAwaitingConfirmation
        sess.UpdatedAt = time.Now()
        rawSess, _ := json.Marshal(sess)
        rawPR, _ := json.Marshal(&pr)
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Set(ctx, s.keyPending(pr.SessionID), rawPR, ttlSession)
            pipe.Set(ctx, sessKey, rawSess, redis.KeepTTL)
            return nil
        })
        return err
    }, sessKey)
}

func (s *Redis) GetPendingResult(ctx context.Context, sessionID string) (*domain.PendingResult, error) {
    pr, err := loadJSON[domain.PendingResult](ctx, s.rdb, s.keyPending(sessionID))
    if err != nil { return nil, storageErr("get pending result", err) }
    if pr == nil { return nil, ErrNotFound }
    return pr, nil
}

func (s *Redis) ClearPendingResult(ctx context.Context, sessionID string) error {
    _, err := s.take(ctx, "clear pending result", sessionID, func(*domain.PendingResult) bool { return true })
    return err
}

func (s *Redis) TakePendingResult(ctx context.Context, sessionID, reportID string) (*domain.PendingResult, error) {
    pr, err := s.take(ctx, "take pending result", sessionID, func(pr *domain.PendingResult) bool {
        return pr != nil && pr.ReportID == reportID
    })
    if err != nil { return nil, err }
    if pr == nil { return nil, ErrSuperseded }
    return pr, nil
}

func (s *Redis) RestorePendingResult(ctx context.Context, pr domain.PendingResult) error {
    sessKey, prKey := s.keySession(pr.SessionID), s.keyPending(pr.SessionID)
    return s.watch(ctx, "restore pending result", func(tx *redis.Tx) error {
        sess, err := loadJSON[domain.Session](ctx, tx, sessKey)
        if err != nil { return err }
        if sess == nil { return ErrNotFound }
        n, err := tx.Exists(ctx, prKey).Result()
        if err != nil { return err }
        if n > 0 { return nil }
        sess.Status = domain.StatusAwaitingConfirmation
        sess.UpdatedAt = time.Now()
        rawSess, _ := json.Marshal(sess)
        rawPR, _ := json.Marshal(&pr)
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Set(ctx, prKey, rawPR, ttlSession)
            pipe.Set(ctx, sessKey, rawSess, redis.KeepTTL)
            return nil
        })
        return err
    }, sessKey, prKey)
}

// take deletes the pending result when match accepts it and flips the session
// back to ACTIVE, all under WATCH so a concurrent overwrite aborts the delete.
func (s *Redis) take(ctx context.Context, op, sessionID string, match func(*domain.PendingResult) bool) (*domain.PendingResult, error) {
    sessKey, prKey := s.keySession(sessionID), s.keyPending(sessionID)
    var taken *domain.PendingResult
    err := s.watch(ctx, op, func(tx *redis.Tx) error {
        taken = nil
        pr, err := loadJSON[domain.PendingResult](ctx, tx, prKey)
        if err != nil { return err }
        if !match(pr) { return nil }
        sess, err := loadJSON[domain.Session](ctx, tx, sessKey)
        if err != nil { return err }
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Del(ctx, prKey)
            if sess != nil && sess.Status == domain.StatusAwaitingConfirmation {
                sess.Status = domain.StatusActive
                sess.UpdatedAt = time.Now()
                raw, _ := json.Marshal(sess)
                pipe.Set(ctx, sessKey, raw, redis.KeepTTL)
            }
            return nil
        })
        if err == nil { taken = pr }
        return err
    }, sessKey, prKey)
    return taken, err
}

// watch runs fn under optimistic locking, retrying when a concurrent writer
// touched the watched keys.
func (s *Redis) watch(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
    var err error
    for i := 0; i < txRetryLimit; i++ {
        err = s.rdb.Watch(ctx, fn, keys...)
        if !errors.Is(err, redis.TxFailedErr) { break }
    }
    if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyApplied) { return err }
    return storageErr(op, err)
}

func (s *Redis) GetRating(ctx context.Context, userID, game string) (int, error) {
    v, err := s.rdb.ZScore(ctx, s.keyRatings(game), userID).Result()
    if err == redis.Nil { return s.defaults.Start, nil }
    if err != nil { return 0, storageErr("get rating", err) }
    return int(v), nil
}

func (s *Redis) SetRating(ctx context.Context, userID, game string, value int) error {
    z := redis.Z{Score: float64(s.defaults.clamp(value)), Member: userID}
    return storageErr("set rating", s.rdb.ZAdd(ctx, s.keyRatings(game), z).Err())
}

// ApplyResult watches the game's sorted set and the applied marker, so a
// concurrent rating write or a second apply of the same report aborts the
// MULTI and the read is redone.
func (s *Redis) ApplyResult(ctx context.Context, r ResultApply) (RatingUpdate, error) {
    if err := r.validate(); err != nil { return RatingUpdate{}, err }
    key, done := s.keyRatings(r.Game), s.keyApplied(r.ReportID)
    var up RatingUpdate
    err := s.watch(ctx, "apply result", func(tx *redis.Tx) error {
        n, err := tx.Exists(ctx, done).Result()
        if err != nil { return err }
        if n > 0 { return ErrAlreadyApplied }
        wOld, err := s.score(ctx, tx, key, r.Winner)
        if err != nil { return err }
        lOld, err := s.score(ctx, tx, key, r.Loser)
        if err != nil { return err }
        next := r.update(s.defaults, wOld, lOld)
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.ZAdd(ctx, key,
                redis.Z{Score: float64(next.WinnerNew), Member: r.Winner},
                redis.Z{Score: float64(next.LoserNew), Member: r.Loser},
            )
            pipe.Set(ctx, done, r.Game, ttlApplied)
            return nil
        })
        if err == nil { up = next }
        return err
    }, key, done)
    return up, err
}

func (s *Redis) score(ctx context.Context, tx *redis.Tx, key, member string) (int, error) {
    v, err := tx.ZScore(ctx, key, member).Result()
    if err == redis.Nil { return s.defaults.Start, nil }
    if err != nil { return 0, err }
    return int(v), nil
}

func (s *Redis) TopRatings(ctx context.Context, game string, limit int) ([]domain.Rating, error) {
    if limit <= 0 { limit = 10 }
    zs, err := s.rdb.ZRevRangeWithScores(ctx, s.keyRatings(game), 0, int64(limit-1)).Result()
    if err != nil { return nil, storageErr("top ratings", err) }
    out := make([]domain.Rating, 0, len(zs))
    for _, z := range zs {
        member, _ := z.Member.(string)
        out = append(out, domain.Rating{UserID: member, Game: game, Value: int(z.Score)})
    }
    return out, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
    Get(ctx context.Context, key string) *redis.StringCmd
}

func loadJSON[T any](ctx context.Context, c getter, key string) (*T, error) {
    raw, err := c.Get(ctx, key).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var v T
    if err := json.Unmarshal(raw, &v); err != nil { return nil, err }
    return &v, nil
}
