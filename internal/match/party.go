package match

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/metrics"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

// PartyRequest gathers up to MaxPlayers including the proposer. Zero means the
// configured cap.
type PartyRequest struct {
	Room       string
	Proposer   string
	Game       string
	MaxPlayers int
}

type PartyResult struct {
	Code         string
	State        ProposalState
	Participants []string
	Session      *domain.Session
	Channel      Channel
}

// FindParty collects joins until the roster is full or the party timeout
// passes, then opens a party session when at least two players gathered.
func (s *Service) FindParty(ctx context.Context, req PartyRequest) (*PartyResult, error) {
	req.Proposer = strings.TrimSpace(req.Proposer)
	if req.Proposer == "" {
		return nil, invalid("proposer is required")
	}
	limit := req.MaxPlayers
	if limit == 0 {
		limit = s.cfg.PartyMaxPlayers
	}
	if limit < 2 || limit > s.cfg.PartyMaxPlayers {
		return nil, invalid("party size must be between 2 and %d", s.cfg.PartyMaxPlayers)
	}
	game, err := s.Game(req.Game)
	if err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, err
	}

	roster := []string{req.Proposer}
	render := func() Content {
		return Content{Code: code, Text: s.texts.Text("party.roster", map[string]any{
			"Proposer": s.name(ctx, req.Proposer),
			"Game":     game,
			"Count":    len(roster),
			"Max":      limit,
			"Names":    s.names(ctx, roster),
			"Prefix":   s.cfg.Prefix,
			"Code":     code,
		})}
	}
	art, err := s.notifier.Publish(ctx, req.Room, render())
	if err != nil {
		return nil, err
	}
	started := time.Now()
	obslog.L().Info("party_propose",
		zap.String("code", art.ID),
		zap.String("room", req.Room),
		zap.String("proposer", req.Proposer),
		zap.String("game", game),
		zap.Int("max", limit),
	)

	// joined is only touched by the predicate, which the hub serialises
	joined := map[string]bool{req.Proposer: true}
	events, cancel := s.awaiter.Subscribe(art.ID, art.Room, func(ev reaction.Event) bool {
		if ev.Kind != reaction.KindJoin || ev.Actor == "" || joined[ev.Actor] || len(joined) >= limit {
			return false
		}
		joined[ev.Actor] = true
		return true
	})
	defer cancel()

	timer := time.NewTimer(s.cfg.PartyTimeout)
	defer timer.Stop()
gather:
	for len(roster) < limit {
		select {
		case ev := <-events:
			roster = append(roster, ev.Actor)
			obslog.L().Info("party_join", zap.String("code", art.ID), zap.String("user", ev.Actor), zap.Int("count", len(roster)))
			if len(roster) < limit {
				if err := s.notifier.Update(ctx, art, render()); err != nil {
					obslog.L().Warn("artifact_update_failed", zap.String("artifact", art.ID), zap.Error(err))
				}
			}
		case <-timer.C:
			break gather
		case <-ctx.Done():
			s.settle(ctx, art, "", nil)
			return nil, ctx.Err()
		}
	}
	cancel()
	// joins accepted right before the deadline are still in the buffer
	for drained := false; !drained; {
		select {
		case ev := <-events:
			roster = append(roster, ev.Actor)
		default:
			drained = true
		}
	}

	res := &PartyResult{Code: art.ID, State: StateProposed, Participants: append([]string(nil), roster...)}
	if len(roster) < 2 {
		res.State = StateExpired
		s.settle(ctx, art, "party.expired", map[string]any{"Code": art.ID})
		metrics.Proposal(string(domain.KindParty), "expired", time.Since(started))
		obslog.L().Info("party_expired", zap.String("code", art.ID))
		return res, nil
	}

	res.State = StateAccepted
	sess, ch, err := s.openSession(ctx, store.NewSession{
		ID:           sessionPrefix + art.ID,
		Kind:         domain.KindParty,
		Game:         game,
		Room:         req.Room,
		Participants: roster,
	})
	if err != nil {
		s.settle(ctx, art, "", nil)
		metrics.Proposal(string(domain.KindParty), "failed", time.Since(started))
		return res, err
	}
	res.State = StateSessionOpen
	res.Session, res.Channel = sess, ch
	s.settle(ctx, art, "party.full", map[string]any{"Game": game, "Count": len(roster)})
	metrics.Proposal(string(domain.KindParty), "gathered", time.Since(started))
	metrics.Session(string(domain.KindParty), "opened")
	return res, nil
}
