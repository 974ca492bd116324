package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/board"
	"github.com/park285/Cheese-Challenge-bot/internal/chatroom"
	"github.com/park285/Cheese-Challenge-bot/internal/command"
	appcfg "github.com/park285/Cheese-Challenge-bot/internal/config"
	"github.com/park285/Cheese-Challenge-bot/internal/digest"
	"github.com/park285/Cheese-Challenge-bot/internal/irisfast"
	"github.com/park285/Cheese-Challenge-bot/internal/match"
	"github.com/park285/Cheese-Challenge-bot/internal/metrics"
	"github.com/park285/Cheese-Challenge-bot/internal/msgcat"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/rating"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		obslog.L().Warn("logger_init_failed", zap.Error(err))
	}
	defer obslog.Sync()
	log := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal("store init error", zap.Error(err))
	}
	defer backends.close()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatal("message catalog error", zap.Error(err))
	}

	headers := irisfast.HeadersFromIdentity(cfg.XUserID, cfg.XUserEmail, cfg.XSessionID)
	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers), irisfast.WithReplyRetry(true))
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	// Inject WS handshake headers if required by the server
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		log.Info("ws_state", zap.String("state", string(state)))
	})
	out := irisfast.NewEgress(cfg.EgressMode, cfg.EgressDry, client, ws, log)

	hub := reaction.NewHub()
	dir := chatroom.NewDirectory(backends.rdb)
	notifier := chatroom.NewNotifier(out)

	mcfg := match.DefaultConfig()
	mcfg.Prefix = cfg.BotPrefix
	mcfg.Games = cfg.Games
	mcfg.ChallengeTimeout = cfg.ChallengeTimeout
	mcfg.PartyTimeout = cfg.PartyTimeout
	mcfg.ConfirmTimeout = cfg.ConfirmTimeout
	mcfg.PartyMaxPlayers = cfg.PartyMaxPlayers
	mcfg.Rating = rating.New(cfg.KFactor, cfg.RatingFloor)
	svc, err := match.New(mcfg, match.Deps{
		Sessions:    backends.sessions,
		Ratings:     backends.ratings,
		Notifier:    notifier,
		Awaiter:     hub,
		Channels:    chatroom.NewProvisioner(out, cat, dir, cfg.BotPrefix),
		Permissions: chatroom.Roster{},
		Directory:   dir,
		Texts:       cat,
	})
	if err != nil {
		log.Fatal("match service error", zap.Error(err))
	}

	var renderer *board.Renderer
	if cfg.LeaderboardImage {
		renderer = board.NewRenderer(cfg.LeaderboardFont)
	}
	boards := digest.New(svc, out, cat, renderer, digest.Options{
		Size:   cfg.LeaderboardSize,
		Games:  cfg.Games,
		Rooms:  cfg.LeaderboardRooms,
		Images: cfg.LeaderboardImage,
	})
	if err := boards.Start(ctx, cfg.LeaderboardInterval); err != nil {
		log.Fatal("digest schedule error", zap.Error(err))
	}

	router := command.New(command.Deps{
		Match:     svc,
		Hub:       hub,
		Artifacts: notifier,
		People:    dir,
		Boards:    boards,
		Out:       out,
		Texts:     cat,
		Allowed:   cfg.Allowed,
	})
	ws.OnMessage(router.Handle)

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Error("metrics_serve_failed", zap.Error(err))
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		log.Fatal("ws connect error", zap.Error(err))
	}
	cancel()
	log.Info("bot_started",
		zap.String("prefix", cfg.BotPrefix),
		zap.Strings("games", cfg.Games),
		zap.String("egress", cfg.EgressMode),
		zap.String("store", backends.kind),
	)

	<-ctx.Done()
	log.Info("bot_stopping")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := router.Shutdown(sctx); err != nil {
		log.Warn("router_shutdown", zap.Error(err))
	}
	if err := boards.Shutdown(); err != nil {
		log.Warn("digest_shutdown", zap.Error(err))
	}
	_ = ws.Close(sctx)
}

type stores struct {
	kind     string
	sessions store.SessionStore
	ratings  store.RatingStore
	rdb      *redis.Client
	pg       *store.Postgres
}

// openStores keeps live sessions in Redis and ratings in Postgres when both
// are configured. Either alone serves both roles. The in-memory store is only
// used when ALLOW_MEMORY_STORE is set.
func openStores(ctx context.Context, cfg *appcfg.AppConfig) (*stores, error) {
	defaults := store.RatingDefaults{Start: cfg.StartRating, Floor: cfg.RatingFloor}
	s := &stores{}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.rdb = redis.NewClient(opt)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.rdb.Ping(pctx).Err(); err != nil {
			_ = s.rdb.Close()
			return nil, err
		}
		r := store.NewRedis(s.rdb, defaults)
		s.kind, s.sessions, s.ratings = "redis", r, r
	}
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL, defaults)
		if err != nil {
			s.close()
			return nil, err
		}
		s.pg = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.ratings = pg
		if s.sessions == nil {
			s.kind, s.sessions = "postgres", pg
		} else {
			s.kind = "redis+postgres"
		}
	}
	if s.sessions == nil {
		if !cfg.MemoryStore {
			return nil, errors.New("REDIS_URL or DATABASE_URL is required (set ALLOW_MEMORY_STORE=1 for a throwaway run)")
		}
		m := store.NewMemory(defaults)
		s.kind, s.sessions, s.ratings = "memory", m, m
	}
	return s, nil
}

func (s *stores) close() {
	if s.pg != nil {
		_ = s.pg.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}
