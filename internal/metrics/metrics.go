// Package metrics exposes the spell server's Prometheus counters and
// gauges, grounded on internal/metrics/metrics.go from the teacher
// repo: promauto-registered collectors, a local mirrored-counter
// snapshot for log-only deployments, and a /metrics + /ready HTTP
// surface.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClientsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spellserver_clients_pending",
		Help: "Clients that have connected but not completed the handshake.",
	})
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spellserver_clients_connected",
		Help: "Clients that have completed the handshake.",
	})
	ClientsKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spellserver_clients_kicked_total",
		Help: "Total clients disconnected by the server (errors, timeouts, bad password).",
	})
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spellserver_handshake_failures_total",
		Help: "Total failed client handshakes (bad password, timeout).",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spellserver_broadcast_fanout",
		Help: "Number of clients targeted by the most recent snapshot broadcast.",
	})
	SnapshotBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spellserver_snapshot_bytes",
		Help: "Size in bytes of the most recently built world snapshot.",
	})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spellserver_tick_duration_seconds",
		Help:    "Wall time spent running one simulation tick.",
		Buckets: prometheus.DefBuckets,
	})
	EntitiesAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spellserver_entities_alive",
		Help: "Current number of live entities.",
	})
	MalformedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spellserver_malformed_packets_total",
		Help: "Total rejected malformed client input packets.",
	})
	DroppedSimEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spellserver_dropped_sim_events_total",
		Help: "Simulation events dropped because a channel between the network loop and the scheduler was full, or because an aura id is unknown, by reason.",
	}, []string{"reason"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spellserver_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spellserver_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrConnRead   = "conn_read"
	ErrConnWrite  = "conn_write"
	ErrHandshake  = "handshake"
	ErrListen     = "listen"
	ErrAccept     = "accept"
	ErrChanClosed = "channel_closed"
)

// IncError increments both the Prometheus and local error counters for where.
func IncError(where string) {
	Errors.WithLabelValues(where).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// IncDroppedSimEvent increments the dropped-event counter for reason.
func IncDroppedSimEvent(reason string) { DroppedSimEvents.WithLabelValues(reason).Inc() }

// InitBuildInfo sets the build info gauge to 1 for the given labels.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// SetReadinessFunc installs the function /ready polls.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady reports the current readiness state.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Local mirrored counters for log-only deployments without Prometheus scraping.
var (
	localKicked            uint64
	localHandshakeFailures uint64
	localErrors            uint64
	localMalformed         uint64
)

// Snapshot is a cheap copy of local counters, grounded on
// internal/metrics.Snap's local-mirror pattern.
type Snapshot struct {
	Kicked            uint64
	HandshakeFailures uint64
	Errors            uint64
	Malformed         uint64
}

// Snap returns the current local counter snapshot.
func Snap() Snapshot {
	return Snapshot{
		Kicked:            atomic.LoadUint64(&localKicked),
		HandshakeFailures: atomic.LoadUint64(&localHandshakeFailures),
		Errors:            atomic.LoadUint64(&localErrors),
		Malformed:         atomic.LoadUint64(&localMalformed),
	}
}

// IncKicked increments both the Prometheus and local kicked counters.
func IncKicked() {
	ClientsKicked.Inc()
	atomic.AddUint64(&localKicked, 1)
}

// IncHandshakeFailure increments both the Prometheus and local counters.
func IncHandshakeFailure() {
	HandshakeFailures.Inc()
	atomic.AddUint64(&localHandshakeFailures, 1)
}

// IncMalformed increments both the Prometheus and local malformed-packet counters.
func IncMalformed() {
	MalformedPackets.Inc()
	atomic.AddUint64(&localMalformed, 1)
}
