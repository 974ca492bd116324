// Package store persists sessions, pending results and ratings.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
)

var (
	ErrConflict = errors.New("session already exists")
	ErrNotFound = errors.New("not found")
	// ErrSuperseded is returned by TakePendingResult when the stored result
	// belongs to a different report (or was already resolved).
	ErrSuperseded = errors.New("pending result superseded")
	// ErrAlreadyApplied is returned by ApplyResult for a report that already
	// changed ratings.
	ErrAlreadyApplied = errors.New("result already applied")
)

// StorageError wraps backend failures (connectivity, unexpected constraint
// violations) so callers can tell them apart from domain outcomes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NewSession is the input to CreateSession. ID is the channel key and must be
// unique among live sessions.
type NewSession struct {
	ID           string
	Kind         domain.Kind
	Game         string
	Room         string
	Participants []string
}

func (n NewSession) validate() error {
	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.Game) == "" {
		return fmt.Errorf("session id and game are required")
	}
	if len(n.Participants) < 2 {
		return fmt.Errorf("session needs at least two participants")
	}
	return nil
}

func (n NewSession) build(now time.Time) *domain.Session {
	return &domain.Session{
		ID:           strings.TrimSpace(n.ID),
		Kind:         n.Kind,
		Game:         n.Game,
		Room:         n.Room,
		Participants: append([]string(nil), n.Participants...),
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SessionStore owns Session and PendingResult rows. Every method is atomic
// with respect to other callers acting on the same session id.
type SessionStore interface {
	CreateSession(ctx context.Context, in NewSession) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// CloseSession deletes the session and its pending result. Closing an
	// unknown id is a no-op.
	CloseSession(ctx context.Context, id string) error
	SessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error)

	// SetPendingResult overwrites any unresolved result for the session.
	SetPendingResult(ctx context.Context, pr domain.PendingResult) error
	GetPendingResult(ctx context.Context, sessionID string) (*domain.PendingResult, error)
	ClearPendingResult(ctx context.Context, sessionID string) error
	// TakePendingResult deletes and returns the pending result only when it
	// still carries reportID.
	TakePendingResult(ctx context.Context, sessionID, reportID string) (*domain.PendingResult, error)
	// RestorePendingResult puts a taken result back when the session still
	// exists and no newer report took its place.
	RestorePendingResult(ctx context.Context, pr domain.PendingResult) error
}

// RatingStore owns Rating rows.
type RatingStore interface {
	GetRating(ctx context.Context, userID, game string) (int, error)
	SetRating(ctx context.Context, userID, game string, value int) error
	TopRatings(ctx context.Context, game string, limit int) ([]domain.Rating, error)
	// ApplyResult reads both ratings, runs Compute and writes both values in
	// one transaction. A ReportID is applied at most once.
	ApplyResult(ctx context.Context, r ResultApply) (RatingUpdate, error)
}

// ResultApply is one confirmed 1:1 result.
type ResultApply struct {
	ReportID string
	Game     string
	Winner   string
	Loser    string
	// Compute maps the current winner and loser ratings to the new ones.
	Compute func(winner, loser int) (int, int)
}

func (r ResultApply) validate() error {
	if r.ReportID == "" || r.Game == "" || r.Compute == nil {
		return fmt.Errorf("report id, game and compute are required")
	}
	if r.Winner == "" || r.Winner == r.Loser {
		return fmt.Errorf("winner and loser must be two different users")
	}
	return nil
}

type RatingUpdate struct {
	WinnerOld int
	WinnerNew int
	LoserOld  int
	LoserNew  int
}

func (r ResultApply) update(d RatingDefaults, wOld, lOld int) RatingUpdate {
	w, l := r.Compute(wOld, lOld)
	return RatingUpdate{WinnerOld: wOld, WinnerNew: d.clamp(w), LoserOld: lOld, LoserNew: d.clamp(l)}
}

// RatingDefaults configures lazily created ratings.
type RatingDefaults struct {
	Start int
	Floor int
}

func (d RatingDefaults) clamp(v int) int {
	if v < d.Floor {
		return d.Floor
	}
	return v
}

// latestFirst orders sessions by UpdatedAt, newest first.
func latestFirst(list []*domain.Session) {
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
}
