package main

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_polls_total",
		Help: "Poll queries executed.",
	})
	rowsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_rows_fetched_total",
		Help: "Rows returned by poll queries.",
	})
	eventsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_events_submitted_total",
		Help: "Events handed to the event sink.",
	})
	rowsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_rows_skipped_total",
		Help: "Rows which could not be converted into an event.",
	})
	fieldWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_field_warnings_total",
		Help: "Values which were forwarded unconverted after a normalization error.",
	})
	checkpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_checkpoints_total",
		Help: "Checkpoints persisted.",
	})
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdbms_reconnects_total",
		Help: "Sessions re-established after a connection or query failure.",
	})
	lastPollTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rdbms_last_poll_timestamp_seconds",
		Help: "Unix time at which the last poll query completed.",
	})
)

// serveDebug serves metrics and pprof profiles at addr until the process exits.
func serveDebug(addr string) {
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithField("addr", addr).Info("starting debug server")
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.WithField("err", err).Info("debug server shut down unexpectedly")
		}
	}()
}
