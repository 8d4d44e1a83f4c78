/*
Package httpserver implements the diagnostics HTTP server run by the fsxd
agent.

It exposes the health, statistics and drain surface of a running filesystem
multiplexer. The server owns a Prometheus registry fed by the multiplexer's
statistics registry, so the same counters are available both as JSON and as
scrape-format metrics.

# Endpoints

  - GET /livez - Liveness check with build version
  - GET /readyz - Readiness check (503 while draining)
  - GET /metrics - Prometheus metrics
  - GET /api/v1/stats - Per-backend-type I/O counter snapshot
  - POST /api/v1/reset - Zero the byte counters (op counters survive)
  - POST /api/v1/drain - Mark not ready, then close cached backend handles
  - POST /api/v1/undrain - Mark ready again

When MetricsAddr is configured, the same registry is additionally served on
a dedicated listener so scrape traffic stays off the API address.

# Drain Flow

Draining flips the readiness flag first, waits out DrainDuration so load
balancers stop routing to the instance, and only then closes the cached
backend handles through the multiplexer. In-flight operations on already
resolved handles are not interrupted; new resolutions construct fresh
backends.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:8080",
		MetricsAddr:              "127.0.0.1:8090",
		Log:                      logger,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	handler := httpserver.NewHandler(mux, logger)

	server, err := httpserver.New(cfg, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
