package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmora/rootshell"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records shell activity. It implements rootshell.Listener, so it
// can be attached with shell.WithListener.
type Metrics struct {
	BatchesTotal    *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
	WinningAttempt  *prometheus.CounterVec
	ConnectsTotal   prometheus.Counter
	DisconnectTotal *prometheus.CounterVec
	Connected       prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ rootshell.Listener = (*Metrics)(nil)

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{gatherer: reg}

	m.BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootshell_batches_total",
			Help: "Completed batches by outcome",
		},
		[]string{"outcome"},
	)

	m.BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rootshell_batch_duration_seconds",
			Help:    "Time from first write to final sentinel of a batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.WinningAttempt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootshell_batch_attempt_total",
			Help: "Index of the attempt that ended each batch",
		},
		[]string{"attempt"},
	)

	m.ConnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rootshell_connects_total",
			Help: "Sessions spawned and probed, including reconnects",
		},
	)

	m.DisconnectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootshell_disconnects_total",
			Help: "Sessions lost, by reason",
		},
		[]string{"reason"},
	)

	m.Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rootshell_connected",
			Help: "1 while a session is connected",
		},
	)

	reg.MustRegister(
		m.BatchesTotal,
		m.BatchDuration,
		m.WinningAttempt,
		m.ConnectsTotal,
		m.DisconnectTotal,
		m.Connected,
	)
	return m
}

func (m *Metrics) OnConnected() {
	m.ConnectsTotal.Inc()
	m.Connected.Set(1)
}

func (m *Metrics) OnDisconnected(err error) {
	reason := "closed"
	switch {
	case errors.Is(err, rootshell.ErrTimeout):
		reason = "timeout"
	case errors.Is(err, rootshell.ErrProtocolDesync):
		reason = "desync"
	case err != nil:
		reason = "error"
	}
	m.DisconnectTotal.WithLabelValues(reason).Inc()
	m.Connected.Set(0)
}

func (m *Metrics) OnCommandResult(res rootshell.Result) {
	outcome := "failure"
	if res.Success() {
		outcome = "success"
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(res.Duration.Seconds())
	m.WinningAttempt.WithLabelValues(strconv.Itoa(res.Attempt)).Inc()
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.gatherer }

// Handler returns the Prometheus HTTP handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartMetricsServer serves /metrics on addr until ctx is done. It
// returns once the listener is bound; the bound address is returned so
// ":0" can be used.
func (m *Metrics) StartMetricsServer(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	slog.Debug("metrics server listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}
