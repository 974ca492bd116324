package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/metrics"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

// ProposalState tracks one challenge or party proposal.
type ProposalState string

const (
	StateProposed    ProposalState = "PROPOSED"
	StateAccepted    ProposalState = "ACCEPTED"
	StateSessionOpen ProposalState = "SESSION_OPEN"
	StateExpired     ProposalState = "EXPIRED"
)

// ChallengeRequest names either a specific Opponent or AnyOne, never both.
type ChallengeRequest struct {
	Room     string
	Proposer string
	Opponent string
	AnyOne   bool
	Game     string
}

type ChallengeResult struct {
	Code     string
	State    ProposalState
	Acceptor string
	Session  *domain.Session
	Channel  Channel
}

// Propose publishes a challenge and blocks the calling goroutine until it is
// accepted or expires. Expiry is reported through State, not as an error.
func (s *Service) Propose(ctx context.Context, req ChallengeRequest) (*ChallengeResult, error) {
	req.Proposer = strings.TrimSpace(req.Proposer)
	req.Opponent = strings.TrimSpace(req.Opponent)
	if req.Proposer == "" {
		return nil, invalid("proposer is required")
	}
	if (req.Opponent != "") == req.AnyOne {
		return nil, invalid("name exactly one opponent or open the challenge to anyone")
	}
	if req.Opponent == req.Proposer {
		return nil, invalid("cannot challenge yourself")
	}
	game, err := s.Game(req.Game)
	if err != nil {
		return nil, err
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"Proposer": s.name(ctx, req.Proposer),
		"Game":     game,
		"Prefix":   s.cfg.Prefix,
		"Code":     code,
		"Minutes":  s.minutes(s.cfg.ChallengeTimeout),
	}
	key := "challenge.open"
	if req.Opponent != "" {
		key = "challenge.named"
		data["Opponent"] = s.name(ctx, req.Opponent)
	}
	art, err := s.notifier.Publish(ctx, req.Room, Content{Code: code, Text: s.texts.Text(key, data)})
	if err != nil {
		return nil, err
	}
	res := &ChallengeResult{Code: art.ID, State: StateProposed}
	started := time.Now()
	obslog.L().Info("challenge_propose",
		zap.String("code", art.ID),
		zap.String("room", req.Room),
		zap.String("proposer", req.Proposer),
		zap.String("opponent", req.Opponent),
		zap.String("game", game),
	)

	ev, err := s.awaiter.Await(ctx, art.ID, art.Room, reaction.Latch(acceptedBy(req)), s.cfg.ChallengeTimeout)
	if errors.Is(err, ErrTimedOut) {
		res.State = StateExpired
		s.settle(ctx, art, "challenge.expired", map[string]any{"Code": art.ID})
		metrics.Proposal(string(domain.KindChallenge), "expired", time.Since(started))
		obslog.L().Info("challenge_expired", zap.String("code", art.ID))
		return res, nil
	}
	if err != nil {
		s.settle(ctx, art, "", nil)
		return nil, err
	}

	res.State = StateAccepted
	res.Acceptor = ev.Actor
	sess, ch, err := s.openSession(ctx, store.NewSession{
		ID:           sessionPrefix + art.ID,
		Kind:         domain.KindChallenge,
		Game:         game,
		Room:         req.Room,
		Participants: []string{req.Proposer, ev.Actor},
	})
	if err != nil {
		s.settle(ctx, art, "", nil)
		metrics.Proposal(string(domain.KindChallenge), "failed", time.Since(started))
		obslog.L().Warn("challenge_session_failed", zap.String("code", art.ID), zap.Error(err))
		return res, err
	}
	res.State = StateSessionOpen
	res.Session, res.Channel = sess, ch
	s.settle(ctx, art, "challenge.accepted", map[string]any{
		"Acceptor": s.name(ctx, ev.Actor),
		"Proposer": data["Proposer"],
		"Game":     game,
	})
	metrics.Proposal(string(domain.KindChallenge), "accepted", time.Since(started))
	metrics.Session(string(domain.KindChallenge), "opened")
	return res, nil
}

// acceptedBy accepts an acceptance from anyone but the proposer, restricted to
// the named opponent when there is one.
func acceptedBy(req ChallengeRequest) reaction.Predicate {
	return func(ev reaction.Event) bool {
		if ev.Kind != reaction.KindAccept || ev.Actor == "" || ev.Actor == req.Proposer {
			return false
		}
		return req.Opponent == "" || ev.Actor == req.Opponent
	}
}
