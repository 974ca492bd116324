package match

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/metrics"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
)

// EndRequest closes SessionID, or the requester's latest session in Room.
type EndRequest struct {
	Room      string
	SessionID string
	Requester string
}

// End removes the session from the store and then tears down its channel.
// The store is the source of truth: a failed teardown is retried and logged
// but never restores the session.
func (s *Service) End(ctx context.Context, req EndRequest) (*domain.Session, error) {
	req.Requester = strings.TrimSpace(req.Requester)
	sess, err := s.resolveSession(ctx, req.Room, req.SessionID, req.Requester)
	if err != nil {
		return nil, err
	}
	ch := channelOf(sess)
	ok, err := s.perms.IsParticipant(ctx, ch, req.Requester)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	if err := s.sessions.CloseSession(ctx, sess.ID); err != nil {
		return nil, fromStore(err)
	}
	obslog.L().Info("session_close", zap.String("session", sess.ID), zap.String("by", req.Requester))
	metrics.Session(string(sess.Kind), "closed")

	s.closeChannel(context.WithoutCancel(ctx), ch)
	return sess, nil
}

func (s *Service) closeChannel(ctx context.Context, ch Channel) {
	var err error
	for attempt := 1; attempt <= s.cfg.CloseAttempts; attempt++ {
		if err = s.channels.CloseChannel(ctx, ch); err == nil {
			return
		}
		obslog.L().Warn("channel_close_retry", zap.String("channel", ch.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.cfg.CloseAttempts {
			time.Sleep(time.Duration(attempt) * s.cfg.CloseBackoff)
		}
	}
	obslog.L().Error("channel_close_failed", zap.String("channel", ch.ID), zap.Error(err))
}
