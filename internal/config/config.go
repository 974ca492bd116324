package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/Cheese-Challenge-bot/internal/rating"
)

type AppConfig struct {
	IrisBaseURL string
	IrisWSURL   string
	EgressMode  string
	EgressDry   bool

	BotPrefix string

	XUserID    string
	XUserEmail string
	XSessionID string

	RedisURL    string
	DatabaseURL string
	MemoryStore bool

	AllowedRooms []string

	Games            []string
	StartRating      int
	KFactor          float64
	RatingFloor      int
	ChallengeTimeout time.Duration
	PartyTimeout     time.Duration
	ConfirmTimeout   time.Duration
	PartyMaxPlayers  int

	LeaderboardSize     int
	LeaderboardImage    bool
	LeaderboardFont     string
	LeaderboardRooms    []string
	LeaderboardInterval time.Duration

	MessagesDir string
	MetricsAddr string
}

// Load reads .env (when present) and the environment. Values already set in
// the environment win over .env.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		EgressMode:          "auto",
		Games:               []string{"chess", "omok", "go"},
		StartRating:         rating.DefaultStart,
		KFactor:             rating.DefaultKFactor,
		RatingFloor:         rating.DefaultFloor,
		ChallengeTimeout:    300 * time.Second,
		PartyTimeout:        600 * time.Second,
		ConfirmTimeout:      30 * time.Minute,
		PartyMaxPlayers:     8,
		LeaderboardSize:     10,
		LeaderboardInterval: 24 * time.Hour,
	}

	cfg.IrisBaseURL = env("IRIS_BASE_URL")
	cfg.IrisWSURL = env("IRIS_WS_URL")
	cfg.BotPrefix = env("BOT_PREFIX")

	cfg.XUserID = env("X_USER_ID")
	cfg.XUserEmail = env("X_USER_EMAIL")
	cfg.XSessionID = env("X_SESSION_ID")

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.AllowedRooms = list("ALLOWED_ROOMS")
	cfg.MessagesDir = env("MESSAGES_DIR")
	cfg.MetricsAddr = env("METRICS_ADDR")
	cfg.LeaderboardFont = env("LEADERBOARD_FONT")
	cfg.LeaderboardRooms = list("LEADERBOARD_ROOMS")

	if v := strings.ToLower(env("EGRESS_MODE")); v != "" {
		cfg.EgressMode = v
	}
	if games := list("GAMES"); len(games) > 0 {
		cfg.Games = games
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(boolVar("EGRESS_DRYRUN", &cfg.EgressDry))
	collect(boolVar("ALLOW_MEMORY_STORE", &cfg.MemoryStore))
	collect(boolVar("LEADERBOARD_IMAGE", &cfg.LeaderboardImage))
	collect(intVar("START_RATING", &cfg.StartRating))
	collect(intVar("RATING_FLOOR", &cfg.RatingFloor))
	collect(intVar("PARTY_MAX_PLAYERS", &cfg.PartyMaxPlayers))
	collect(intVar("LEADERBOARD_SIZE", &cfg.LeaderboardSize))
	collect(durationVar("CHALLENGE_TIMEOUT", &cfg.ChallengeTimeout))
	collect(durationVar("PARTY_TIMEOUT", &cfg.PartyTimeout))
	collect(durationVar("CONFIRM_TIMEOUT", &cfg.ConfirmTimeout))
	collect(durationVar("LEADERBOARD_INTERVAL", &cfg.LeaderboardInterval))
	if v := env("K_FACTOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			collect(fmt.Errorf("K_FACTOR: %w", err))
		} else {
			cfg.KFactor = f
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.IrisBaseURL == "" {
		return errors.New("IRIS_BASE_URL is required")
	}
	if c.IrisWSURL == "" {
		return errors.New("IRIS_WS_URL is required")
	}
	if c.BotPrefix == "" {
		return errors.New("BOT_PREFIX is required")
	}
	switch c.EgressMode {
	case "http", "ws", "auto":
	default:
		return fmt.Errorf("EGRESS_MODE must be http, ws or auto: %q", c.EgressMode)
	}
	if c.KFactor <= 0 {
		return errors.New("K_FACTOR must be positive")
	}
	if c.StartRating < c.RatingFloor {
		return errors.New("START_RATING must not be below RATING_FLOOR")
	}
	if c.PartyMaxPlayers < 2 {
		return errors.New("PARTY_MAX_PLAYERS must be at least 2")
	}
	for name, d := range map[string]time.Duration{
		"CHALLENGE_TIMEOUT": c.ChallengeTimeout,
		"PARTY_TIMEOUT":     c.PartyTimeout,
		"CONFIRM_TIMEOUT":   c.ConfirmTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.LeaderboardSize <= 0 {
		return errors.New("LEADERBOARD_SIZE must be positive")
	}
	return nil
}

// Allowed reports whether room may use the bot. An empty list allows all.
func (c *AppConfig) Allowed(room string) bool {
	if len(c.AllowedRooms) == 0 {
		return true
	}
	for _, r := range c.AllowedRooms {
		if r == room {
			return true
		}
	}
	return false
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func list(key string) []string {
	var out []string
	for _, p := range strings.Split(env(key), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolVar(key string, dst *bool) error {
	v := env(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func intVar(key string, dst *int) error {
	v := env(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// durationVar accepts Go durations ("90s", "5m") or bare seconds.
func durationVar(key string, dst *time.Duration) error {
	v := env(key)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
