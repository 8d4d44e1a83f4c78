// Package metrics serves a private Prometheus registry on a dedicated
// listener, kept off the main API address so scrapes never compete with
// application traffic.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratusworks/fsmux/common"
)

// MetricsServer owns a registry and exposes it at GET /metrics.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New builds a metrics server for the named application listening on addr.
// The registry starts with only a <appName>_build_info gauge; wire further
// collectors in with MustRegister.
func New(appName, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: appName,
		Name:      "build_info",
		Help:      "Constant 1, labeled by build version.",
	}, []string{"version"})
	buildInfo.WithLabelValues(common.Version).Set(1)
	if err := registry.Register(buildInfo); err != nil {
		return nil, err
	}

	s := &MetricsServer{registry: registry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// MustRegister adds collectors to the server's registry, panicking on
// duplicate registration like prometheus.MustRegister.
func (s *MetricsServer) MustRegister(cs ...prometheus.Collector) {
	s.registry.MustRegister(cs...)
}

// Handler returns the exposition handler for the server's registry so the
// same metrics can also be mounted on another router.
func (s *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ListenAndServe blocks serving scrapes until Shutdown or failure.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
