package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/irisfast"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

// irischeck verifies the Iris HTTP/WS endpoints and the configured stores
// without starting the bot.
func main() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv(); err != nil {
		obslog.L().Warn("logger_init_failed", zap.Error(err))
	}
	defer obslog.Sync()
	log := obslog.L()

	baseURL := os.Getenv("IRIS_BASE_URL")
	wsURL := os.Getenv("IRIS_WS_URL")
	if baseURL == "" {
		log.Fatal("IRIS_BASE_URL is required")
	}
	headers := irisfast.HeadersFromIdentity(os.Getenv("X_USER_ID"), os.Getenv("X_USER_EMAIL"), os.Getenv("X_SESSION_ID"))

	client := irisfast.NewClient(baseURL,
		irisfast.WithHeaderProvider(headers),
		irisfast.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg, err := client.GetConfig(ctx)
	if err != nil {
		log.Error("iris_config_failed", zap.Error(err))
	} else {
		log.Info("iris_config_ok",
			zap.Int("port", cfg.Port),
			zap.Int("polling", cfg.PollingSpeed),
			zap.Int("rate", cfg.MessageRate),
			zap.String("endpoint", cfg.WebserverEndpoint),
		)
	}

	checkStores(ctx, log)

	if wsURL == "" {
		log.Info("IRIS_WS_URL not set; skipping WS check")
		return
	}

	ws := irisfast.NewWebSocket(wsURL, 0, time.Second)
	ws.SetHeaderProvider(headers)
	observe(ws, 10*time.Second, log)
}

// observe connects the feed and logs whatever arrives for window.
func observe(ws irisfast.WSClient, window time.Duration, log *zap.Logger) {
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		log.Info("ws_state", zap.String("state", string(state)))
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		log.Info("ws_message",
			zap.String("room", msg.Room),
			zap.String("user", msg.UserID()),
			zap.String("from", msg.SenderName()),
			zap.String("text", msg.Msg),
		)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		log.Error("ws_connect_failed", zap.Error(err))
		return
	}

	time.Sleep(window)
	_ = ws.Close(context.Background())
}

func checkStores(ctx context.Context, log *zap.Logger) {
	if u := os.Getenv("REDIS_URL"); u != "" {
		opt, err := redis.ParseURL(u)
		if err != nil {
			log.Error("redis_url_invalid", zap.Error(err))
		} else {
			rdb := redis.NewClient(opt)
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Error("redis_ping_failed", zap.Error(err))
			} else {
				log.Info("redis_ping_ok", zap.String("addr", opt.Addr))
			}
			_ = rdb.Close()
		}
	}
	if u := os.Getenv("DATABASE_URL"); u != "" {
		pg, err := store.NewPostgres(u, store.RatingDefaults{})
		if err != nil {
			log.Error("postgres_connect_failed", zap.Error(err))
			return
		}
		defer pg.Close()
		if err := pg.Ping(ctx); err != nil {
			log.Error("postgres_ping_failed", zap.Error(err))
			return
		}
		log.Info("postgres_ping_ok")
	}
}
