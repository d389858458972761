// Package web exposes the observability surface of a running daemon: a health
// endpoint, the pipeline's lifetime counters, and optional profiling handlers.
package web

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CounterGroup is a named set of lifetime counters served at /counters.
type CounterGroup struct {
	Name string
	Get  func() map[string]uint64
}

// Server is the HTTP observability server.
type Server struct {
	logger    logrus.FieldLogger
	address   string
	router    *mux.Router
	groups    []CounterGroup
	startTime time.Time
}

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

// NewServer constructs an observability server on address.
func NewServer(logger logrus.FieldLogger, address string, enablePprof bool, groups []CounterGroup) (*Server, error) {
	if address == "" {
		return nil, fmt.Errorf("web server address is required")
	}
	server := &Server{
		logger:    logger,
		address:   address,
		groups:    groups,
		startTime: time.Now(),
	}

	routes := []route{
		{path: "/healthz", handler: server.healthz, method: "GET", name: "healthz_get"},
		{path: "/counters", handler: server.counters, method: "GET", name: "counters_get"},
		{path: "/expvar", handler: expvar.Handler().ServeHTTP, method: "GET", name: "expvar_get"},
	}
	if enablePprof {
		profiler := &profiler{}
		routes = append(routes,
			route{path: "/memprof", handler: profiler.MemProf, method: "POST", name: "profmem_post"},
			route{path: "/pprof", handler: profiler.PProf, method: "POST", name: "profpprof_post"},
			route{path: "/trace", handler: profiler.Trace, method: "POST", name: "proftrace_post"},
		)
	}

	router, err := createRoutes(routes)
	if err != nil {
		return nil, err
	}
	router.NotFoundHandler = server.logRequest(http.HandlerFunc(server.notFound))
	router.Use(server.logRequest)
	server.router = router

	logger.WithFields(logrus.Fields{
		"address":      address,
		"enable-pprof": enablePprof,
	}).Info("created web server")

	return server, nil
}

func createRoutes(routes []route) (*mux.Router, error) {
	router := mux.NewRouter()
	for _, route := range routes {
		r := router.HandleFunc(route.path, route.handler).Methods(route.method).Name(route.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %v", route.name, err)
		}
	}
	return router, nil
}

func (s *Server) healthz(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("content-type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(map[string]interface{}{
		"ok":             true,
		"uptime_seconds": int64(time.Since(s.startTime) / time.Second),
	})
}

func (s *Server) counters(w http.ResponseWriter, req *http.Request) {
	snapshot := make(map[string]map[string]uint64, len(s.groups))
	for _, group := range s.groups {
		snapshot[group.Name] = group.Get()
	}
	w.Header().Set("content-type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(snapshot)
}

func (s *Server) notFound(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("not found"))
}

func (s *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logFields := logrus.Fields{
			"srcip": strings.Split(req.RemoteAddr, ":")[0],
			"path":  req.URL.Path,
		}
		if route := mux.CurrentRoute(req); route != nil {
			logFields["route"] = route.GetName()
		} else {
			logFields["method"] = req.Method
		}

		start := time.Now()
		handler.ServeHTTP(w, req)

		logFields["duration"] = float64(time.Since(start)) / float64(time.Millisecond)
		s.logger.WithFields(logFields).Debug("request")
	})
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    s.address,
		Handler: s.router,
	}

	chStopped := make(chan struct{})
	go s.waitAndStop(ctx, server, chStopped)

	s.logger.WithField("address", server.Addr).Info("listening")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		s.logger.WithError(err).Error("web server failed")
		return
	}

	// Wait for graceful shutdown of existing connections
	select {
	case <-chStopped:
	case <-time.After(6 * time.Second):
		s.logger.Info("timeout waiting for web server to stop")
	}
}

// waitAndStop gracefully shuts down the server when the context is cancelled and signals on
// chStopped when done.  There is no guarantee that it will signal if the server does not shut down.
func (s *Server) waitAndStop(ctx context.Context, server *http.Server, chStopped chan<- struct{}) {
	<-ctx.Done()

	s.logger.Info("shutting down web server")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(timeoutCtx); err != nil {
		s.logger.WithError(err).Warn("failed to stop web server")
	}
	close(chStopped)
}
