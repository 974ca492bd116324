// Package digest posts leaderboards to rooms, on demand and on a gocron
// schedule.
package digest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/board"
	"github.com/park285/Cheese-Challenge-bot/internal/irisfast"
	"github.com/park285/Cheese-Challenge-bot/internal/match"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
)

// Source is the part of match.Service the digest reads.
type Source interface {
	Leaderboard(ctx context.Context, game string, n int) (string, []match.Standing, error)
	FormatLeaderboard(game string, standings []match.Standing) string
}

type Options struct {
	Size  int
	Games []string
	Rooms []string
	// Images enables the PNG card next to the text board.
	Images bool
}

type Publisher struct {
	src    Source
	out    irisfast.Egress
	texts  match.Texts
	render *board.Renderer
	opts   Options

	sched gocron.Scheduler
}

func New(src Source, out irisfast.Egress, texts match.Texts, render *board.Renderer, opts Options) *Publisher {
	if opts.Size <= 0 {
		opts.Size = 10
	}
	if render == nil {
		opts.Images = false
	}
	return &Publisher{src: src, out: out, texts: texts, render: render, opts: opts}
}

// Post sends the leaderboard for game to room. The image is best effort;
// the text board is always sent.
func (p *Publisher) Post(ctx context.Context, room, game string) error {
	name, standings, err := p.src.Leaderboard(ctx, game, p.opts.Size)
	if err != nil {
		return err
	}
	if err := p.out.SendText(ctx, room, p.src.FormatLeaderboard(name, standings)); err != nil {
		return fmt.Errorf("send leaderboard: %w", err)
	}
	if !p.opts.Images || len(standings) == 0 {
		return nil
	}
	rows := make([]board.Row, 0, len(standings))
	for _, st := range standings {
		rows = append(rows, board.Row{Rank: st.Rank, Name: st.Name, Value: st.Value})
	}
	title := p.texts.Text("leaderboard.header", map[string]any{"Game": name, "Size": len(standings)})
	png, err := p.render.RenderPNG(ctx, title, rows)
	if err != nil {
		obslog.L().Warn("leaderboard_render_failed", zap.String("game", name), zap.Error(err))
		return nil
	}
	if err := p.out.SendImage(ctx, room, base64.StdEncoding.EncodeToString(png)); err != nil {
		obslog.L().Warn("leaderboard_image_failed", zap.String("room", room), zap.Error(err))
	}
	return nil
}

// RunOnce posts every configured game to every configured room.
func (p *Publisher) RunOnce(ctx context.Context) {
	for _, room := range p.opts.Rooms {
		if err := p.out.SendText(ctx, room, p.texts.Text("leaderboard.digest", map[string]any{"Game": strings.Join(p.opts.Games, ", ")})); err != nil {
			obslog.L().Warn("digest_send_failed", zap.String("room", room), zap.Error(err))
			continue
		}
		for _, game := range p.opts.Games {
			if err := p.Post(ctx, room, game); err != nil {
				obslog.L().Warn("digest_post_failed", zap.String("room", room), zap.String("game", game), zap.Error(err))
			}
		}
	}
}

// Start schedules RunOnce every interval. It is a no-op without rooms or a
// positive interval.
func (p *Publisher) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || len(p.opts.Rooms) == 0 || len(p.opts.Games) == 0 {
		return nil
	}
	if p.sched != nil {
		return errors.New("digest already started")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("new scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			jctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			p.RunOnce(jctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule digest: %w", err)
	}
	sched.Start()
	p.sched = sched
	obslog.L().Info("digest_scheduled", zap.Duration("interval", interval), zap.Strings("rooms", p.opts.Rooms))
	return nil
}

func (p *Publisher) Shutdown() error {
	if p.sched == nil {
		return nil
	}
	err := p.sched.Shutdown()
	p.sched = nil
	return err
}
