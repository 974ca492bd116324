package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
)

var (
	proposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challengebot",
		Name:      "proposals_total",
		Help:      "Challenge and party proposals by outcome",
	}, []string{"kind", "outcome"})

	acceptWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "challengebot",
		Name:      "proposal_wait_seconds",
		Help:      "Time from proposal to session creation or expiry",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challengebot",
		Name:      "sessions_total",
		Help:      "Session lifecycle transitions",
	}, []string{"kind", "event"})

	confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challengebot",
		Name:      "result_confirmations_total",
		Help:      "Reported results by resolution",
	}, []string{"outcome"})

	ratingUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challengebot",
		Name:      "rating_updates_total",
		Help:      "Committed rating updates per game",
	}, []string{"game"})

	commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challengebot",
		Name:      "commands_total",
		Help:      "Chat commands handled, labelled by result class",
	}, []string{"command", "result"})

	egress = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challengebot",
		Name:      "egress_total",
		Help:      "Outbound Iris replies by transport and result",
	}, []string{"transport", "kind", "result"})
)

func Proposal(kind, outcome string, waited time.Duration) {
	kind = strings.ToLower(kind)
	proposals.WithLabelValues(kind, outcome).Inc()
	acceptWait.WithLabelValues(kind).Observe(waited.Seconds())
}

func Session(kind, event string) { sessions.WithLabelValues(strings.ToLower(kind), event).Inc() }

func Confirmation(outcome string) { confirmations.WithLabelValues(outcome).Inc() }

func RatingUpdate(game string) { ratingUpdates.WithLabelValues(game).Inc() }

func Command(name, result string) { commands.WithLabelValues(name, result).Inc() }

// Egress records one outbound reply; err nil counts as ok.
func Egress(transport, kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	egress.WithLabelValues(transport, kind, result).Inc()
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the /metrics endpoint on addr until ctx ends. Empty addr disables it.
func Serve(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	obslog.L().Info("metrics_listen", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
