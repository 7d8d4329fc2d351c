// Package metrics exposes the reconciliation engine's own health as
// Prometheus series: write outcomes, pending/inflight gauges per server,
// and registry subscriber count. It is metrics about the engine, not a
// query API into device state.
package metrics

import (
    "fmt"
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/cloudtel/asterisk-blf-sync/pkg/logger"
)

// Metrics holds the process-wide Prometheus collectors.
type Metrics struct {
    writesTotal         *prometheus.CounterVec
    writeDuration       *prometheus.HistogramVec
    pendingDevices      *prometheus.GaugeVec
    inflightWrites      *prometheus.GaugeVec
    registrySubscribers prometheus.Gauge
}

// New registers and returns the daemon's metric set.
func New() *Metrics {
    m := &Metrics{
        writesTotal: prometheus.NewCounterVec(
            prometheus.CounterOpts{
                Name: "blfsync_writes_total",
                Help: "Total number of setDeviceState attempts, by outcome.",
            },
            []string{"server", "result"},
        ),
        writeDuration: prometheus.NewHistogramVec(
            prometheus.HistogramOpts{
                Name:    "blfsync_write_duration_seconds",
                Help:    "Duration of setDeviceState calls.",
                Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
            },
            []string{"server"},
        ),
        pendingDevices: prometheus.NewGaugeVec(
            prometheus.GaugeOpts{
                Name: "blfsync_pending_devices",
                Help: "Number of devices with an outstanding target in the forwarder.",
            },
            []string{"server"},
        ),
        inflightWrites: prometheus.NewGaugeVec(
            prometheus.GaugeOpts{
                Name: "blfsync_inflight_writes",
                Help: "1 if the forwarder has a write in flight, else 0.",
            },
            []string{"server"},
        ),
        registrySubscribers: prometheus.NewGauge(
            prometheus.GaugeOpts{
                Name: "blfsync_registry_subscribers",
                Help: "Current number of forwarders subscribed to the global registry.",
            },
        ),
    }

    prometheus.MustRegister(
        m.writesTotal,
        m.writeDuration,
        m.pendingDevices,
        m.inflightWrites,
        m.registrySubscribers,
    )

    return m
}

// ObserveWrite records the outcome and duration of one setDeviceState call.
// result is "success" or "failure".
func (m *Metrics) ObserveWrite(server, result string, duration float64) {
    m.writesTotal.WithLabelValues(server, result).Inc()
    m.writeDuration.WithLabelValues(server).Observe(duration)
}

// SetPendingDevices records len(pending) for a forwarder.
func (m *Metrics) SetPendingDevices(server string, n int) {
    m.pendingDevices.WithLabelValues(server).Set(float64(n))
}

// SetInflight records whether a forwarder currently has a write in flight.
func (m *Metrics) SetInflight(server string, inflight bool) {
    v := 0.0
    if inflight {
        v = 1.0
    }
    m.inflightWrites.WithLabelValues(server).Set(v)
}

// SetRegistrySubscribers records the current subscriber count of the
// global registry.
func (m *Metrics) SetRegistrySubscribers(n int) {
    m.registrySubscribers.Set(float64(n))
}

// ServeHTTP blocks serving /metrics on port until the process exits or the
// listener fails.
func (m *Metrics) ServeHTTP(port int, path string) error {
    mux := http.NewServeMux()
    mux.Handle(path, promhttp.Handler())
    addr := fmt.Sprintf(":%d", port)
    logger.WithField("addr", addr).Info("metrics server started")
    return http.ListenAndServe(addr, mux)
}
