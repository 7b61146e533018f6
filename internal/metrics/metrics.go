// Package metrics holds the broker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "broker"

// Result labels for ControlCalls.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// Nodes is the number of registered nodes.
	Nodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_nodes",
		Help:      "Number of nodes currently registered.",
	})

	// Endpoints is the number of registered endpoints by kind (publisher or subscriber).
	Endpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_endpoints",
		Help:      "Number of publishers and subscribers currently registered.",
	}, []string{"kind"})

	// Matches counts publisher/subscriber pairs the matcher connected.
	Matches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Publisher/subscriber pairs the broker told to connect.",
	})

	// ControlCalls counts calls made to node control endpoints.
	ControlCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_calls_total",
		Help:      "Calls made to node control endpoints by operation and result.",
	}, []string{"op", "result"})

	// Requests counts packets served by a broker server, by packet type.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Requests served by packet type and result.",
	}, []string{"type", "result"})
)

// ObserveCall records the outcome of one control call.
func ObserveCall(op string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	ControlCalls.WithLabelValues(op, result).Inc()
}

// SetRegistry publishes the current registry sizes.
func SetRegistry(nodes, publishers, subscribers int) {
	Nodes.Set(float64(nodes))
	Endpoints.WithLabelValues("publisher").Set(float64(publishers))
	Endpoints.WithLabelValues("subscriber").Set(float64(subscribers))
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
