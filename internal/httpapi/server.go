package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux returns a mux with the metrics endpoint pre-mounted. The worker uses
// it as its whole surface; the HTTP-facing binaries mount the same endpoints
// on their routers instead.
func NewMux() *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	return m
}
