// Copyright 2026 The Panel Engine Authors
package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateSnapshot is whatever the caller wants surfaced at /statez — paneld
// publishes the available modes and each plugin's enabled flag and circuit
// state here so an operator can curl the engine directly without going
// through the (out of scope) control plane.
type StateSnapshot func() interface{}

// StartHTTPServer exposes /metrics, /healthz, /readyz and /statez on the
// configured metrics port. This is the engine's own self-check surface, not
// a control API for submitting on-demand requests.
func StartHTTPServer(metricsPort int, readiness func(context.Context) error, state StateSnapshot) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if readiness == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		if err := readiness(req.Context()); err != nil {
			http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/statez", func(w http.ResponseWriter, req *http.Request) {
		if state == nil {
			http.Error(w, "state snapshot unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state())
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: r}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
