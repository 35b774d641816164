// Package metrics exposes reactor-level observability through a
// Prometheus registry: one HTTP endpoint serving a fixed set of named
// collectors.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles the gauges/counters/histogram the reactor updates
// as it runs. All fields are safe for concurrent use, though in
// practice only the single reactor goroutine ever writes them; a
// second goroutine serving /metrics only reads via the registry.
type Collectors struct {
	Connections     prometheus.Gauge
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	WriteQueueBytes prometheus.Histogram
	AcceptTotal     prometheus.Counter
	TeardownTotal   *prometheus.CounterVec
}

// NewCollectors constructs and registers the reactor's metrics on reg.
func NewCollectors(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reactor",
			Name:      "connections",
			Help:      "Number of live client connections in the connection table.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "bytes_in_total",
			Help:      "Total bytes read from clients.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "bytes_out_total",
			Help:      "Total bytes written to clients.",
		}),
		WriteQueueBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reactor",
			Name:      "write_queue_bytes",
			Help:      "Distribution of per-connection write queue depth observed after each drain attempt.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		AcceptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "accept_total",
			Help:      "Total connections accepted.",
		}),
		TeardownTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "teardown_total",
			Help:      "Total connection teardowns by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(c.Connections, c.BytesIn, c.BytesOut, c.WriteQueueBytes, c.AcceptTotal, c.TeardownTotal)
	return c
}

// Server serves /metrics on its own listener, independent of the
// reactor's epoll loop: plain net/http on its own goroutine, never
// sharing the reactor's fd set.
type Server struct {
	httpSrv *http.Server
}

// StartServer starts the Prometheus exposition endpoint on addr and
// returns immediately; Stop shuts it down gracefully.
func StartServer(addr string, reg *prometheus.Registry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		_ = srv.Serve(ln)
	}()
	return &Server{httpSrv: srv}, nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
