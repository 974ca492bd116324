// Package command turns prefixed chat lines into match workflow calls.
package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/irisfast"
	"github.com/park285/Cheese-Challenge-bot/internal/match"
	"github.com/park285/Cheese-Challenge-bot/internal/metrics"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
)

// Dispatcher delivers acknowledgements to waiting workflows.
type Dispatcher interface {
	Dispatch(ev reaction.Event) bool
}

// Artifacts resolves the proposal an acknowledgement without a code refers to.
type Artifacts interface {
	Latest(room string) (string, bool)
}

// People records sender names and resolves typed opponents.
type People interface {
	Remember(ctx context.Context, userID, name string)
	Lookup(name string) (string, bool)
	DisplayName(ctx context.Context, userID string) string
}

// Boards posts a leaderboard to a room.
type Boards interface {
	Post(ctx context.Context, room, game string) error
}

type Deps struct {
	Match     *match.Service
	Hub       Dispatcher
	Artifacts Artifacts
	People    People
	Boards    Boards
	Out       irisfast.Egress
	Texts     match.Texts
	// Allowed filters rooms; nil allows every room.
	Allowed func(room string) bool
}

type Router struct {
	Deps
	prefix string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(d Deps) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{Deps: d, prefix: d.Match.Config().Prefix, ctx: ctx, cancel: cancel}
}

type handler func(r *Router, ctx context.Context, in input) error

type input struct {
	room string
	user string
	name string
	cmd  string
	args []string
}

var handlers = map[string]handler{
	"도전":          (*Router).challenge,
	"challenge":   (*Router).challenge,
	"파티":          (*Router).party,
	"party":       (*Router).party,
	"findparty":   (*Router).party,
	"수락":          ack(reaction.KindAccept),
	"accept":      ack(reaction.KindAccept),
	"참가":          ack(reaction.KindJoin),
	"join":        ack(reaction.KindJoin),
	"확인":          ack(reaction.KindConfirm),
	"confirm":     ack(reaction.KindConfirm),
	"거절":          ack(reaction.KindReject),
	"reject":      ack(reaction.KindReject),
	"승리":          report(true),
	"iwon":        report(true),
	"패배":          report(false),
	"ilost":       report(false),
	"레이팅":         (*Router).rating,
	"rating":      (*Router).rating,
	"리더보드":        (*Router).leaderboard,
	"leaderboard": (*Router).leaderboard,
	"종료":          (*Router).end,
	"end":         (*Router).end,
	"도움말":         (*Router).help,
	"help":        (*Router).help,
}

// Handle is the WebSocket message callback. Commands run on their own
// goroutine so a blocking workflow never stalls the feed.
func (r *Router) Handle(msg *irisfast.Message) {
	if msg == nil || strings.TrimSpace(msg.Msg) == "" {
		return
	}
	user := msg.UserID()
	r.People.Remember(r.ctx, user, msg.SenderName())

	text := strings.TrimSpace(msg.Msg)
	if !strings.HasPrefix(text, r.prefix) {
		return
	}
	if r.Allowed != nil && !r.Allowed(msg.Room) {
		obslog.L().Debug("room_ignored", zap.String("room", msg.Room))
		return
	}
	fields := strings.Fields(strings.TrimPrefix(text, r.prefix))
	in := input{room: msg.Room, user: user, name: msg.SenderName(), cmd: "help"}
	if len(fields) > 0 {
		in.cmd, in.args = strings.ToLower(fields[0]), fields[1:]
	}
	h, ok := handlers[in.cmd]
	if !ok {
		return
	}
	r.wg.Add(1)
	go r.run(h, in)
}

func (r *Router) run(h handler, in input) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			obslog.L().Error("command_panic",
				zap.String("cmd", in.cmd),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			metrics.Command(in.cmd, "panic")
		}
	}()
	if in.user == "" {
		return
	}
	err := h(r, r.ctx, in)
	metrics.Command(in.cmd, resultClass(err))
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.reply(in.room, r.errorText(err))
}

// Shutdown cancels in-flight workflows and waits for them up to ctx.
func (r *Router) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) reply(room, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Out.SendText(ctx, room, text); err != nil {
		obslog.L().Warn("reply_failed", zap.String("room", room), zap.Error(err))
	}
}

func (r *Router) text(key string, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	data["Prefix"] = r.prefix
	return r.Texts.Text(key, data)
}

// usageError is shown verbatim instead of going through the error mapping.
type usageError struct{ text string }

func (e *usageError) Error() string { return e.text }

func (r *Router) usage(key string, data map[string]any) error {
	return &usageError{text: r.text(key, data)}
}

func (r *Router) errorText(err error) string {
	var (
		usage *usageError
		req   *match.RequestError
	)
	switch {
	case errors.As(err, &usage):
		return usage.text
	case errors.As(err, &req):
		return r.text("error.invalid", map[string]any{"Detail": req.Detail})
	case errors.Is(err, match.ErrNotFound):
		return r.text("error.not_found", nil)
	case errors.Is(err, match.ErrConflict):
		return r.text("error.conflict", nil)
	case errors.Is(err, match.ErrForbidden):
		return r.text("error.forbidden", nil)
	}
	obslog.L().Error("command_failed", zap.Bool("storage", match.IsStorage(err)), zap.Error(err))
	return r.text("error.storage", nil)
}

func resultClass(err error) string {
	var usage *usageError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &usage), errors.Is(err, match.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, match.ErrNotFound):
		return "not_found"
	case errors.Is(err, match.ErrConflict):
		return "conflict"
	case errors.Is(err, match.ErrForbidden):
		return "forbidden"
	case match.IsStorage(err):
		return "storage"
	}
	return "error"
}

// game resolves the first argument or returns the unknown game message.
func (r *Router) game(arg string) (string, error) {
	g, err := r.Match.Game(arg)
	if err != nil {
		return "", r.usage("error.unknown_game", map[string]any{"Games": strings.Join(r.Match.Config().Games, ", ")})
	}
	return g, nil
}

// person resolves a typed opponent: a known display name, "@name", or a raw
// user id.
func (r *Router) person(arg string) string {
	if id, ok := r.People.Lookup(arg); ok {
		return id
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(arg), "@"))
}

func (r *Router) challenge(ctx context.Context, in input) error {
	if len(in.args) == 0 {
		return r.usage("usage.challenge", nil)
	}
	game, err := r.game(in.args[0])
	if err != nil {
		return err
	}
	req := match.ChallengeRequest{Room: in.room, Proposer: in.user, Game: game, AnyOne: true}
	if len(in.args) > 1 {
		req.Opponent, req.AnyOne = r.person(strings.Join(in.args[1:], " ")), false
	}
	_, err = r.Match.Propose(ctx, req)
	return err
}

func (r *Router) party(ctx context.Context, in input) error {
	maxPlayers := r.Match.Config().PartyMaxPlayers
	if len(in.args) == 0 {
		return r.usage("usage.party", map[string]any{"Max": maxPlayers})
	}
	game, err := r.game(in.args[0])
	if err != nil {
		return err
	}
	req := match.PartyRequest{Room: in.room, Proposer: in.user, Game: game}
	if len(in.args) > 1 {
		n, err := strconv.Atoi(in.args[1])
		if err != nil {
			return r.usage("usage.party", map[string]any{"Max": maxPlayers})
		}
		req.MaxPlayers = n
	}
	_, err = r.Match.FindParty(ctx, req)
	return err
}

func ack(kind reaction.Kind) handler {
	return func(r *Router, _ context.Context, in input) error {
		code := ""
		if len(in.args) > 0 {
			code = strings.ToUpper(strings.TrimSpace(in.args[0]))
		} else if latest, ok := r.Artifacts.Latest(in.room); ok {
			code = latest
		}
		if code == "" {
			return r.usage("usage.ack", map[string]any{"Command": in.cmd})
		}
		delivered := r.Hub.Dispatch(reaction.Event{
			Artifact: code,
			Kind:     kind,
			Actor:    in.user,
			Name:     in.name,
			Room:     in.room,
			At:       time.Now(),
		})
		if !delivered {
			return r.usage("error.no_pending", map[string]any{"Code": code})
		}
		return nil
	}
}

func report(won bool) handler {
	return func(r *Router, ctx context.Context, in input) error {
		req := match.ReportRequest{Room: in.room, Reporter: in.user, WinnerClaim: won}
		if len(in.args) > 0 {
			req.SessionID = in.args[0]
		}
		_, err := r.Match.Report(ctx, req)
		return err
	}
}

func (r *Router) rating(ctx context.Context, in input) error {
	if len(in.args) == 0 {
		return r.usage("error.unknown_game", map[string]any{"Games": strings.Join(r.Match.Config().Games, ", ")})
	}
	game, err := r.game(in.args[0])
	if err != nil {
		return err
	}
	who := in.user
	if len(in.args) > 1 {
		who = r.person(strings.Join(in.args[1:], " "))
	}
	v, err := r.Match.Rating(ctx, who, game)
	if err != nil {
		return err
	}
	r.reply(in.room, r.text("rating.show", map[string]any{
		"Name":  r.People.DisplayName(ctx, who),
		"Game":  game,
		"Value": v,
	}))
	return nil
}

func (r *Router) leaderboard(ctx context.Context, in input) error {
	if len(in.args) == 0 {
		return r.usage("error.unknown_game", map[string]any{"Games": strings.Join(r.Match.Config().Games, ", ")})
	}
	game, err := r.game(in.args[0])
	if err != nil {
		return err
	}
	if err := r.Boards.Post(ctx, in.room, game); err != nil {
		return fmt.Errorf("leaderboard %s: %w", game, err)
	}
	return nil
}

func (r *Router) end(ctx context.Context, in input) error {
	req := match.EndRequest{Room: in.room, Requester: in.user}
	if len(in.args) > 0 {
		req.SessionID = in.args[0]
	}
	_, err := r.Match.End(ctx, req)
	return err
}

func (r *Router) help(_ context.Context, in input) error {
	r.reply(in.room, r.text("help", map[string]any{"Games": strings.Join(r.Match.Config().Games, ", ")}))
	return nil
}
