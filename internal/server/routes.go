// Package server wires HTTP handlers into a ServeMux for the relay
// via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health check, the relay endpoint, the test page and, when metrics is not nil,
// the Prometheus endpoint.
func SetupRoutes(relay *Relay, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle(relay.cfg.WSPath, relay)
	mux.HandleFunc("/test", TestPageHandler(relay.cfg.WSPath))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}
