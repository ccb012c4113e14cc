// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/whereami/internal/logger"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Metrics struct {
	LocationFixes       *prometheus.CounterVec
	FetchFailures       *prometheus.CounterVec
	AddressResolutions  *prometheus.CounterVec
	GeocodeSeconds      *prometheus.HistogramVec
	ResolutionsInFlight prometheus.Gauge
	DroppedDeliveries   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LocationFixes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "whereami_location_fixes_total",
			Help: "Total number of location fixes obtained, by location source.",
		}, []string{"source"}),
		FetchFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "whereami_location_fetch_failures_total",
			Help: "Total number of failed location fetches, by reason.",
		}, []string{"reason"}),
		AddressResolutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "whereami_address_resolutions_total",
			Help: "Total number of address resolutions, by outcome.",
		}, []string{"outcome"}),
		GeocodeSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whereami_geocoder_request_duration_seconds",
			Help:    "Duration of reverse geocoding requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ResolutionsInFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "whereami_address_resolutions_in_flight",
			Help: "Current number of address resolutions waiting for the geocoder.",
		}),
		DroppedDeliveries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whereami_address_deliveries_dropped_total",
			Help: "Total number of address results dropped because the receiver was gone.",
		}),
	}
}

// Handler returns the monitoring endpoints: /metrics for the collectors of reg and /healthz.
func Handler(log *logger.Logger, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		if _, err := writer.Write([]byte("OK")); err != nil {
			log.Error("failed to write health check reply", logger.Err(err))
		}
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// Serve runs the monitoring server on addr until ctx is cancelled.
func Serve(ctx context.Context, log *logger.Logger, reg *prometheus.Registry, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      Handler(log, reg),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down monitoring server", logger.Err(err))
		}
	})

	log.Debug("starting monitoring server", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitoring server failed: %w", err)
	}
	return nil
}
