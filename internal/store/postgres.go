package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/park285/Cheese-Challenge-bot/internal/domain"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	game         TEXT NOT NULL,
	room         TEXT NOT NULL DEFAULT '',
	participants JSONB NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_results (
	session_id TEXT PRIMARY KEY REFERENCES sessions(session_id) ON DELETE CASCADE,
	report_id  TEXT NOT NULL,
	reporter   TEXT NOT NULL,
	winner     TEXT NOT NULL,
	loser      TEXT NOT NULL,
	game       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ratings (
	user_id TEXT NOT NULL,
	game    TEXT NOT NULL,
	value   INTEGER NOT NULL,
	PRIMARY KEY (user_id, game)
);
CREATE INDEX IF NOT EXISTS ratings_game_value_idx ON ratings (game, value DESC);
CREATE TABLE IF NOT EXISTS applied_results (
	report_id  TEXT PRIMARY KEY,
	game       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Postgres implements SessionStore and RatingStore on the tables sessions,
// pending_results, ratings and applied_results.
type Postgres struct {
	db       *sql.DB
	defaults RatingDefaults
}

func NewPostgres(databaseURL string, defaults RatingDefaults) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db, defaults: defaults}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// EnsureSchema creates the tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return storageErr("ensure schema", err)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, in NewSession) (*domain.Session, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	s := in.build(time.Now())
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return nil, fmt.Errorf("marshal participants: %w", err)
	}
	const q = `
		INSERT INTO sessions (session_id, kind, game, room, participants, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`
	_, err = p.db.ExecContext(ctx, q, s.ID, string(s.Kind), s.Game, s.Room, participants, string(s.Status), s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, storageErr("create session", err)
	}
	return s, nil
}

const sessionColumns = `session_id, kind, game, room, participants, status, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var (
		s            domain.Session
		kind, status string
		participants []byte
	)
	if err := row.Scan(&s.ID, &kind, &s.Game, &s.Room, &participants, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Kind = domain.Kind(kind)
	s.Status = domain.Status(status)
	if err := json.Unmarshal(participants, &s.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	return &s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, strings.TrimSpace(id))
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return s, nil
}

func (p *Postgres) CloseSession(ctx context.Context, id string) error {
	return p.inTx(ctx, "close session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_results WHERE session_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id)
		return err
	})
}

func (p *Postgres) SessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	needle, _ := json.Marshal([]string{strings.TrimSpace(userID)})
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE participants @> $1::jsonb ORDER BY updated_at DESC`, needle)
	if err != nil {
		return nil, storageErr("sessions by user", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storageErr("scan session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sessions by user", err)
	}
	return out, nil
}

func (p *Postgres) SetPendingResult(ctx context.Context, pr domain.PendingResult) error {
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = time.Now()
	}
	return p.inTx(ctx, "set pending result", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = $2, updated_at = NOW() WHERE session_id = $1`,
			pr.SessionID, string(domain.StatusAwaitingConfirmation))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		const q = `
			INSERT INTO pending_results (session_id, report_id, reporter, winner, loser, game, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id) DO UPDATE SET
				report_id = EXCLUDED.report_id,
				reporter = EXCLUDED.reporter,
				winner = EXCLUDED.winner,
				loser = EXCLUDED.loser,
				game = EXCLUDED.game,
				created_at = EXCLUDED.created_at`
		_, err = tx.ExecContext(ctx, q, pr.SessionID, pr.ReportID, pr.Reporter, pr.Winner, pr.Loser, pr.Game, pr.CreatedAt)
		return err
	})
}

func (p *Postgres) GetPendingResult(ctx context.Context, sessionID string) (*domain.PendingResult, error) {
	var pr domain.PendingResult
	err := p.db.QueryRowContext(ctx,
		`SELECT session_id, report_id, reporter, winner, loser, game, created_at FROM pending_results WHERE session_id = $1`,
		sessionID,
	).Scan(&pr.SessionID, &pr.ReportID, &pr.Reporter, &pr.Winner, &pr.Loser, &pr.Game, &pr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get pending result", err)
	}
	return &pr, nil
}

func (p *Postgres) ClearPendingResult(ctx context.Context, sessionID string) error {
	_, err := p.take(ctx, "clear pending result", sessionID, "")
	return err
}

func (p *Postgres) TakePendingResult(ctx context.Context, sessionID, reportID string) (*domain.PendingResult, error) {
	pr, err := p.take(ctx, "take pending result", sessionID, reportID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, ErrSuperseded
	}
	return pr, nil
}

func (p *Postgres) RestorePendingResult(ctx context.Context, pr domain.PendingResult) error {
	return p.inTx(ctx, "restore pending result", func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM sessions WHERE session_id = $1 FOR UPDATE`, pr.SessionID,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pending_results (session_id, report_id, reporter, winner, loser, game, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id) DO NOTHING`,
			pr.SessionID, pr.ReportID, pr.Reporter, pr.Winner, pr.Loser, pr.Game, pr.CreatedAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET status = $2, updated_at = NOW() WHERE session_id = $1`,
			pr.SessionID, string(domain.StatusAwaitingConfirmation))
		return err
	})
}

// take deletes the pending row (restricted to reportID when non-empty) and
// returns it; nil when nothing matched.
func (p *Postgres) take(ctx context.Context, op, sessionID, reportID string) (*domain.PendingResult, error) {
	var taken *domain.PendingResult
	err := p.inTx(ctx, op, func(tx *sql.Tx) error {
		var pr domain.PendingResult
		err := tx.QueryRowContext(ctx, `
			DELETE FROM pending_results
			WHERE session_id = $1 AND ($2 = '' OR report_id = $2)
			RETURNING session_id, report_id, reporter, winner, loser, game, created_at`,
			sessionID, reportID,
		).Scan(&pr.SessionID, &pr.ReportID, &pr.Reporter, &pr.Winner, &pr.Loser, &pr.Game, &pr.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = $2, updated_at = NOW() WHERE session_id = $1 AND status = $3`,
			sessionID, string(domain.StatusActive), string(domain.StatusAwaitingConfirmation)); err != nil {
			return err
		}
		taken = &pr
		return nil
	})
	return taken, err
}

func (p *Postgres) GetRating(ctx context.Context, userID, game string) (int, error) {
	var v int
	err := p.db.QueryRowContext(ctx, `SELECT value FROM ratings WHERE user_id = $1 AND game = $2`, userID, game).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return p.defaults.Start, nil
	}
	if err != nil {
		return 0, storageErr("get rating", err)
	}
	return v, nil
}

func (p *Postgres) SetRating(ctx context.Context, userID, game string, value int) error {
	const q = `
		INSERT INTO ratings (user_id, game, value) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, game) DO UPDATE SET value = EXCLUDED.value`
	if _, err := p.db.ExecContext(ctx, q, userID, game, p.defaults.clamp(value)); err != nil {
		return storageErr("set rating", err)
	}
	return nil
}

func (p *Postgres) TopRatings(ctx context.Context, game string, limit int) ([]domain.Rating, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id, value FROM ratings WHERE game = $1 ORDER BY value DESC, user_id ASC LIMIT $2`, game, limit)
	if err != nil {
		return nil, storageErr("top ratings", err)
	}
	defer rows.Close()
	out := make([]domain.Rating, 0, limit)
	for rows.Next() {
		r := domain.Rating{Game: game}
		if err := rows.Scan(&r.UserID, &r.Value); err != nil {
			return nil, storageErr("scan rating", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("top ratings", err)
	}
	return out, nil
}

// ApplyResult locks both rating rows in user id order and writes them in the
// same transaction that records the report id.
func (p *Postgres) ApplyResult(ctx context.Context, r ResultApply) (RatingUpdate, error) {
	if err := r.validate(); err != nil {
		return RatingUpdate{}, err
	}
	var up RatingUpdate
	err := p.inTx(ctx, "apply result", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO applied_results (report_id, game) VALUES ($1, $2)`, r.ReportID, r.Game)
		if isUniqueViolation(err) {
			return ErrAlreadyApplied
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ratings (user_id, game, value) VALUES ($1, $3, $4), ($2, $3, $4)
			ON CONFLICT (user_id, game) DO NOTHING`,
			r.Winner, r.Loser, r.Game, p.defaults.Start); err != nil {
			return err
		}
		current := make(map[string]int, 2)
		rows, err := tx.QueryContext(ctx, `
			SELECT user_id, value FROM ratings
			WHERE game = $1 AND user_id IN ($2, $3)
			ORDER BY user_id
			FOR UPDATE`, r.Game, r.Winner, r.Loser)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				user string
				v    int
			)
			if err := rows.Scan(&user, &v); err != nil {
				rows.Close()
				return err
			}
			current[user] = v
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		next := r.update(p.defaults, current[r.Winner], current[r.Loser])
		if _, err := tx.ExecContext(ctx, `
			UPDATE ratings SET value = CASE user_id WHEN $2 THEN $3 ELSE $5 END
			WHERE game = $1 AND user_id IN ($2, $4)`,
			r.Game, r.Winner, next.WinnerNew, r.Loser, next.LoserNew); err != nil {
			return err
		}
		up = next
		return nil
	})
	return up, err
}

func (p *Postgres) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyApplied) {
			return err
		}
		return storageErr(op, err)
	}
	return storageErr(op, tx.Commit())
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
