package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the marketplace-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	songsRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "catalog",
			Name:      "songs_registered_total",
			Help:      "Total number of songs registered.",
		},
	)

	mints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "mint",
			Name:      "mints_total",
			Help:      "Total number of settled mint calls.",
		},
	)

	mintedUnits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "mint",
			Name:      "units_total",
			Help:      "Total number of song units minted.",
		},
	)

	mintFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "mint",
			Name:      "failures_total",
			Help:      "Total number of rejected mint calls.",
		},
		[]string{"reason"},
	)

	feesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "platform",
			Name:      "fees_collected_total",
			Help:      "Platform fees collected, in smallest currency units.",
		},
	)

	feesWithdrawn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "platform",
			Name:      "fees_withdrawn_total",
			Help:      "Platform fees withdrawn by the owner.",
		},
	)

	platformFee = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "platform",
			Name:      "fee",
			Help:      "Current flat platform fee.",
		},
	)

	pausedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "platform",
			Name:      "paused",
			Help:      "1 while the marketplace is paused.",
		},
	)

	treasuryBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "platform",
			Name:      "treasury_balance",
			Help:      "Funds currently held by the treasury.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		songsRegistered,
		mints,
		mintedUnits,
		mintFailures,
		feesCollected,
		feesWithdrawn,
		platformFee,
		pausedGauge,
		treasuryBalance,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// pathFor maps a request to its route template so label cardinality stays
// bounded; a nil pathFor falls back to the raw path.
func InstrumentHandler(next http.Handler, pathFor func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if pathFor != nil {
			path = pathFor(r)
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordSongRegistered counts a successful catalog registration.
func RecordSongRegistered() {
	songsRegistered.Inc()
}

// RecordMint counts a settled mint call.
func RecordMint(units uint64, fee uint64) {
	mints.Inc()
	mintedUnits.Add(float64(units))
	feesCollected.Add(float64(fee))
}

// RecordMintFailure counts a rejected mint call by reason.
func RecordMintFailure(reason string) {
	if reason == "" {
		reason = "internal"
	}
	mintFailures.WithLabelValues(reason).Inc()
}

// RecordFeeWithdrawal counts an owner withdrawal.
func RecordFeeWithdrawal(amount uint64) {
	feesWithdrawn.Add(float64(amount))
}

// SetPlatformFee publishes the configured fee.
func SetPlatformFee(fee uint64) {
	platformFee.Set(float64(fee))
}

// SetPaused publishes the guard state.
func SetPaused(paused bool) {
	if paused {
		pausedGauge.Set(1)
	} else {
		pausedGauge.Set(0)
	}
}

// SetTreasuryBalance publishes the treasury holdings.
func SetTreasuryBalance(balance uint64) {
	treasuryBalance.Set(float64(balance))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
