package match

import (
	"context"
	"time"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
)

// Artifact is a published chat message users acknowledge by Code.
type Artifact struct {
	ID   string
	Room string
}

type Content struct {
	Code string
	Text string
}

// Notifier publishes proposal, roster and prompt artifacts.
type Notifier interface {
	Publish(ctx context.Context, room string, c Content) (Artifact, error)
	Update(ctx context.Context, a Artifact, c Content) error
	Retract(ctx context.Context, a Artifact) error
}

// Awaiter suspends the calling workflow until an acknowledgement arrives.
type Awaiter interface {
	Await(ctx context.Context, artifact, room string, pred reaction.Predicate, timeout time.Duration) (reaction.Event, error)
	Subscribe(artifact, room string, pred reaction.Predicate) (<-chan reaction.Event, func())
}

// Channel is the communication context bound to one session. ID is the
// session id, fixed at creation.
type Channel struct {
	ID           string
	Room         string
	Participants []string
}

type ChannelProvisioner interface {
	OpenChannel(ctx context.Context, s *domain.Session) (Channel, error)
	CloseChannel(ctx context.Context, ch Channel) error
}

type Permissions interface {
	IsParticipant(ctx context.Context, ch Channel, userID string) (bool, error)
}

type Directory interface {
	DisplayName(ctx context.Context, userID string) string
}

// Texts renders user-facing templates.
type Texts interface {
	Text(key string, data any) string
}

func channelOf(s *domain.Session) Channel {
	return Channel{ID: s.ID, Room: s.Room, Participants: append([]string(nil), s.Participants...)}
}
