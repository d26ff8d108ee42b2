// Package metrics exposes Prometheus counters for the record lifecycle
// and serves them on a dedicated listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the lifecycle instruments registered on one registry.
type Metrics struct {
	RecordsStored    prometheus.Counter
	RecordsRead      prometheus.Counter
	RecordsDestroyed *prometheus.CounterVec
	KeysShredded     prometheus.Counter
	ActiveKeys       prometheus.GaugeFunc
}

// MetricsServer serves a Prometheus registry over HTTP.
type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry
	metrics  *Metrics
}

// New creates a metrics server with process and Go runtime collectors
// plus the record lifecycle instruments. activeKeys, if non-nil, is
// sampled on scrape.
func New(namespace, listenAddr string, activeKeys func() float64) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	m := &Metrics{
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_stored_total",
			Help:      "Records stored.",
		}),
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Successful record reads.",
		}),
		RecordsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_destroyed_total",
			Help:      "Records destroyed, by destruction method.",
		}, []string{"method"}),
		KeysShredded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_shredded_total",
			Help:      "Data encryption keys shredded.",
		}),
	}
	registry.MustRegister(m.RecordsStored, m.RecordsRead, m.RecordsDestroyed, m.KeysShredded)

	if activeKeys != nil {
		m.ActiveKeys = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_keys",
			Help:      "Data encryption keys currently live.",
		}, activeKeys)
		registry.MustRegister(m.ActiveKeys)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		registry: registry,
		metrics:  m,
	}, nil
}

// Metrics returns the lifecycle instruments for callers to increment.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
