// Package statusapi implements a small, read-only HTTP surface for
// introspecting a running robotd supervisor: the set of registered
// device types, the number of live workers per type, recent log lines,
// and a Prometheus /metrics endpoint. It is entirely optional and ambient
// to the spec's core (enabled only when a status address is configured,
// via --status-addr or the config file's status_addr), grounded
// on laitos's own pattern of a lightweight HTTP handler wrapping the
// global prometheus registry (daemon/httpd/handler/prometheus.go) routed
// through gorilla/mux, the HTTP router jduranf-device-sdk-go depends on
// directly.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotd/robotd/internal/registry"
	"github.com/robotd/robotd/internal/rlog"
)

// WorkerCounter is the subset of *supervisor.Supervisor the status API
// depends on, kept as an interface so this package never imports
// internal/supervisor (which would create an import cycle were the
// supervisor ever to serve its own status, and keeps this package
// trivially testable with a fake).
type WorkerCounter interface {
	WorkerCount() map[string]int

	// Generations returns each live worker's generation id, keyed by
	// type_id and then device path, so /status can distinguish one
	// respawn of a worker from the next.
	Generations() map[string]map[string]string
}

// liveWorkers is a Prometheus gauge, one time series per device type,
// updated by Server.refreshMetrics on every /metrics scrape. Grounded on
// ActivityMonitorMetrics's GaugeVec-per-dimension shape in
// daemon/maintenance/perfmetrics.go.
var liveWorkers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "robotd",
	Name:      "live_workers",
	Help:      "Number of currently running worker processes, by device type.",
}, []string{"type_id"})

func init() {
	prometheus.MustRegister(liveWorkers)
}

// Server is the status API's HTTP handler set.
type Server struct {
	supervisor WorkerCounter
	router     *mux.Router
}

// New builds a Server backed by sup. Call ListenAndServe to run it.
func New(sup WorkerCounter) *Server {
	s := &Server{supervisor: sup, router: mux.NewRouter()}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	return s
}

func (s *Server) metricsHandler() http.Handler {
	gatherer := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
	refreshing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.refreshMetrics()
		gatherer.ServeHTTP(w, r)
	})
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer, refreshing)
}

func (s *Server) refreshMetrics() {
	counts := s.supervisor.WorkerCount()
	for _, typeID := range registry.TypeIDs() {
		liveWorkers.WithLabelValues(typeID).Set(float64(counts[typeID]))
	}
}

// statusDoc is the JSON shape served by GET /status.
type statusDoc struct {
	Types       []string                     `json:"types"`
	LiveWorkers map[string]int               `json:"live_workers"`
	Generations map[string]map[string]string `json:"worker_generations"`
	RecentLog   []string                     `json:"recent_log"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc := statusDoc{
		Types:       registry.TypeIDs(),
		LiveWorkers: s.supervisor.WorkerCount(),
		Generations: s.supervisor.Generations(),
		RecentLog:   rlog.RecentLines(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// ListenAndServe binds addr and serves the status API until the process
// exits or the listener errors. It is run on its own goroutine by the
// caller; a failure here is never fatal to the supervisor (spec.md §7:
// only root-directory creation failure is).
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.router)
}
