package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/metrics"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

// ReportOutcome is how a reported result was resolved.
type ReportOutcome string

const (
	OutcomeConfirmed  ReportOutcome = "confirmed"
	OutcomeRejected   ReportOutcome = "rejected"
	OutcomeExpired    ReportOutcome = "expired"
	OutcomeSuperseded ReportOutcome = "superseded"
)

// ReportRequest covers both "I won" (WinnerClaim) and "I lost". SessionID may
// be empty to use the reporter's latest session in Room.
type ReportRequest struct {
	Room        string
	SessionID   string
	Reporter    string
	WinnerClaim bool
}

type RatingChange struct {
	Game      string
	Winner    string
	Loser     string
	WinnerOld int
	WinnerNew int
	LoserOld  int
	LoserNew  int
}

type ReportResult struct {
	Code    string
	Outcome ReportOutcome
	Pending domain.PendingResult
	Change  *RatingChange
}

// Report records a pending result, asks the opponent to confirm it and applies
// the rating update on confirmation. Only a confirmation of the latest report
// for the session changes ratings.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	req.Reporter = strings.TrimSpace(req.Reporter)
	if req.Reporter == "" {
		return nil, invalid("reporter is required")
	}
	sess, err := s.resolveSession(ctx, req.Room, req.SessionID, req.Reporter)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(req.Reporter) {
		return nil, ErrForbidden
	}
	if sess.Kind != domain.KindChallenge || len(sess.Participants) != 2 {
		return nil, invalid("results can only be reported for 1:1 challenges")
	}
	opponent := sess.Opponent(req.Reporter)
	winner, loser := req.Reporter, opponent
	if !req.WinnerClaim {
		winner, loser = opponent, req.Reporter
	}

	pr := domain.PendingResult{
		SessionID: sess.ID,
		ReportID:  uuid.NewString(),
		Reporter:  req.Reporter,
		Winner:    winner,
		Loser:     loser,
		Game:      sess.Game,
		CreatedAt: time.Now(),
	}
	// the session may have been closed since it was read
	if err := s.sessions.SetPendingResult(ctx, pr); err != nil {
		return nil, fromStore(err)
	}
	obslog.L().Info("result_report",
		zap.String("session", sess.ID),
		zap.String("report", pr.ReportID),
		zap.String("reporter", pr.Reporter),
		zap.String("winner", winner),
		zap.String("loser", loser),
	)

	code, err := s.newCode()
	if err != nil {
		s.dropPending(ctx, pr)
		return nil, err
	}
	art, err := s.notifier.Publish(ctx, sess.Room, Content{Code: code, Text: s.texts.Text("report.prompt", map[string]any{
		"Reporter": s.name(ctx, pr.Reporter),
		"Winner":   s.name(ctx, winner),
		"Loser":    s.name(ctx, loser),
		"Opponent": s.name(ctx, opponent),
		"Game":     sess.Game,
		"Prefix":   s.cfg.Prefix,
		"Code":     code,
	})})
	if err != nil {
		s.dropPending(ctx, pr)
		return nil, err
	}
	res := &ReportResult{Code: art.ID, Pending: pr}

	ev, err := s.awaiter.Await(ctx, art.ID, art.Room, reaction.Latch(func(ev reaction.Event) bool {
		return ev.Actor == opponent && (ev.Kind == reaction.KindConfirm || ev.Kind == reaction.KindReject)
	}), s.cfg.ConfirmTimeout)
	switch {
	case errors.Is(err, ErrTimedOut):
		res.Outcome = OutcomeExpired
		if !s.dropPending(ctx, pr) {
			res.Outcome = OutcomeSuperseded
		}
		key := "report.expired"
		if res.Outcome == OutcomeSuperseded {
			key = "report.superseded"
		}
		s.settle(ctx, art, key, map[string]any{"Code": art.ID})
		metrics.Confirmation(string(res.Outcome))
		return res, nil
	case err != nil:
		// the pending row stays; a later report replaces it
		s.settle(ctx, art, "", nil)
		return nil, err
	}

	if ev.Kind == reaction.KindReject {
		res.Outcome = OutcomeRejected
		key := "report.rejected"
		if !s.dropPending(ctx, pr) {
			res.Outcome, key = OutcomeSuperseded, "report.superseded"
		}
		s.settle(ctx, art, key, map[string]any{"Code": art.ID, "Opponent": s.name(ctx, opponent)})
		metrics.Confirmation(string(res.Outcome))
		obslog.L().Info("result_reject", zap.String("session", sess.ID), zap.String("report", pr.ReportID), zap.String("outcome", string(res.Outcome)))
		return res, nil
	}

	change, err := s.apply(context.WithoutCancel(ctx), pr)
	if errors.Is(err, store.ErrSuperseded) {
		res.Outcome = OutcomeSuperseded
		s.settle(ctx, art, "report.superseded", map[string]any{"Code": art.ID})
		metrics.Confirmation(string(res.Outcome))
		return res, nil
	}
	if err != nil {
		s.settle(ctx, art, "", nil)
		return nil, err
	}
	res.Outcome, res.Change = OutcomeConfirmed, change
	s.settle(ctx, art, "report.summary", map[string]any{
		"Game":      change.Game,
		"Winner":    s.name(ctx, change.Winner),
		"Loser":     s.name(ctx, change.Loser),
		"WinnerOld": change.WinnerOld,
		"WinnerNew": change.WinnerNew,
		"LoserOld":  change.LoserOld,
		"LoserNew":  change.LoserNew,
		"Gain":      change.WinnerNew - change.WinnerOld,
		"Loss":      change.LoserOld - change.LoserNew,
	})
	metrics.Confirmation(string(res.Outcome))
	return res, nil
}

// apply is the only place ratings change. Taking the pending row claims the
// confirmation; the store then writes both ratings in one transaction. When
// that write fails the row is put back so the result can still be confirmed.
func (s *Service) apply(ctx context.Context, pr domain.PendingResult) (*RatingChange, error) {
	taken, err := s.sessions.TakePendingResult(ctx, pr.SessionID, pr.ReportID)
	if err != nil {
		return nil, err
	}
	up, err := s.ratings.ApplyResult(ctx, store.ResultApply{
		ReportID: taken.ReportID,
		Game:     taken.Game,
		Winner:   taken.Winner,
		Loser:    taken.Loser,
		Compute:  s.cfg.Rating.Compute,
	})
	if errors.Is(err, store.ErrAlreadyApplied) {
		return nil, store.ErrSuperseded
	}
	if err != nil {
		obslog.L().Error("rating_write_failed", zap.String("session", taken.SessionID), zap.String("report", taken.ReportID), zap.Error(err))
		if rerr := s.sessions.RestorePendingResult(ctx, *taken); rerr != nil {
			obslog.L().Warn("pending_restore_failed", zap.String("session", taken.SessionID), zap.Error(rerr))
		}
		return nil, err
	}
	metrics.RatingUpdate(taken.Game)
	obslog.L().Info("rating_update",
		zap.String("session", taken.SessionID),
		zap.String("game", taken.Game),
		zap.String("winner", taken.Winner),
		zap.Int("winner_old", up.WinnerOld),
		zap.Int("winner_new", up.WinnerNew),
		zap.String("loser", taken.Loser),
		zap.Int("loser_old", up.LoserOld),
		zap.Int("loser_new", up.LoserNew),
	)
	return &RatingChange{
		Game: taken.Game, Winner: taken.Winner, Loser: taken.Loser,
		WinnerOld: up.WinnerOld, WinnerNew: up.WinnerNew, LoserOld: up.LoserOld, LoserNew: up.LoserNew,
	}, nil
}

// dropPending clears the pending result only while it still belongs to pr.
// Returns false when another report replaced it or the session closed.
func (s *Service) dropPending(ctx context.Context, pr domain.PendingResult) bool {
	_, err := s.sessions.TakePendingResult(context.WithoutCancel(ctx), pr.SessionID, pr.ReportID)
	if err == nil {
		return true
	}
	if !errors.Is(err, store.ErrSuperseded) {
		obslog.L().Warn("pending_clear_failed", zap.String("session", pr.SessionID), zap.Error(err))
	}
	return false
}
