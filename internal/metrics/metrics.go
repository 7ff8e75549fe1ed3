// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_ticks_published_total", Help: "Market snapshots published by collectors"},
		[]string{"venue", "symbol"},
	)
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_ticks_dropped_total", Help: "Ticks dropped by collectors"},
		[]string{"venue", "symbol", "reason"},
	)
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_signals_emitted_total", Help: "Signals emitted by detectors"},
		[]string{"detector", "symbol"},
	)
	SignalsSuperseded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_signals_superseded_total", Help: "Pending signals replaced by a newer one"},
		[]string{"symbol"},
	)
	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_risk_rejections_total", Help: "Signals rejected by the risk gate"},
		[]string{"reason"},
	)
	OrdersDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_orders_dispatched_total", Help: "Order legs submitted"},
		[]string{"venue", "side"},
	)
	FillsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradecore_fills_applied_total", Help: "Fill reports handled"},
		[]string{"status"},
	)
	LedgerAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradecore_ledger_anomalies_total", Help: "Ledger batches rolled back"},
	)
	JournalDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradecore_journal_dropped_total", Help: "Journal events dropped on a full buffer"},
	)
	Cash = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tradecore_cash", Help: "Ledger cash balance"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tradecore_open_positions", Help: "Symbols with an open position"},
	)
	APIRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecore_api_request_seconds",
			Help:    "Operator API request latency",
			Buckets: []float64{.001, .005, .025, .1, .5, 2},
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksPublished, TicksDropped,
		SignalsEmitted, SignalsSuperseded,
		RiskRejections, OrdersDispatched, FillsApplied,
		LedgerAnomalies, JournalDropped,
		Cash, OpenPositions,
		APIRequests,
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.InfoContext(ctx, "metrics server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
