package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exchangesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_exchanges_recorded_total",
		Help: "HTTP exchanges recorded, by outcome (normal or error)",
	}, []string{"outcome"})
	exchangesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_exchanges_cancelled_total",
		Help: "HTTP exchanges abandoned by the client before completion and not recorded",
	})
	exchangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_exchange_duration_seconds",
		Help:    "Time from interception to completion of an HTTP exchange",
		Buckets: prometheus.DefBuckets,
	})
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)
