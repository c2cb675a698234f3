package metrics

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UtterancesSpoken = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_utterances_total",
			Help: "Utterances taken off the speech queue, by result",
		},
		[]string{"result"},
	)

	SpeechQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aide_speech_queue_depth",
			Help: "Utterances waiting to be spoken",
		},
	)

	PlaybackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aide_playback_duration_seconds",
			Help:    "Time spent synthesizing and playing one utterance",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	Triggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_triggers_total",
			Help: "Wake triggers, by source",
		},
		[]string{"source"},
	)

	Transcriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_transcriptions_total",
			Help: "Capture cycles, by outcome or winning tier",
		},
		[]string{"outcome"},
	)

	CommandsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_commands_total",
			Help: "Routed commands, by skill",
		},
		[]string{"skill"},
	)

	RemindersFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aide_reminders_fired_total",
			Help: "Scheduled events announced and marked notified",
		},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
