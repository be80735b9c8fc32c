// Package metrics exposes bot counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recorder implements the chess service's Metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	gamesFinished *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chess_requests_total",
				Help: "Handled chat requests by kind and resulting notice",
			},
			[]string{"kind", "notice"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chess_request_duration_seconds",
				Help:    "Time to handle a chat request, engine search included",
				Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		gamesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chess_games_finished_total",
				Help: "Finished games by PGN result",
			},
			[]string{"result"},
		),
	}
	r.registry.MustRegister(
		r.requests,
		r.duration,
		r.gamesFinished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveRequest(kind, notice string, elapsed time.Duration) {
	r.requests.WithLabelValues(kind, notice).Inc()
	r.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (r *Recorder) GameFinished(result string) {
	r.gamesFinished.WithLabelValues(result).Inc()
}

// TrackSessions publishes the number of live sessions, read at scrape time.
func (r *Recorder) TrackSessions(count func() int) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "chess_sessions_live", Help: "Sessions held in memory"},
		func() float64 { return float64(count()) },
	))
}

// TrackEnginePool publishes engine process counts, read at scrape time.
func (r *Recorder) TrackEnginePool(stats func() (total, idle int)) {
	r.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "chess_engine_processes", Help: "Running engine processes"},
			func() float64 { total, _ := stats(); return float64(total) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "chess_engine_processes_idle", Help: "Engine processes waiting for a game"},
			func() float64 { _, idle := stats(); return float64(idle) },
		),
	)
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves /metrics and /healthz.
func (r *Recorder) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve listens on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics_server_started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
