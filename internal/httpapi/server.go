// Package httpapi exposes the intelligence, arbitrage, brand and alert
// operations over JSON HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/commercesignal/commercesignal/internal/metrics"
)

const requestTimeout = 60 * time.Second // analyze may scrape a live page

type contextKey string

const requestIDKey contextKey = "request_id"

// Server wraps the router and the http.Server lifecycle.
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *metrics.Registry
}

// NewServer builds the server on addr. reg may be nil to run without
// instrumentation.
func NewServer(addr string, handlers *Handlers, reg *metrics.Registry) *Server {
	s := &Server{router: mux.NewRouter(), metrics: reg}
	s.setupRoutes(handlers)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(h *Handlers) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/health", h.Health).Methods("GET")
	s.router.HandleFunc("/status", h.Status).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze-product", h.AnalyzeProduct).Methods("POST")
	api.HandleFunc("/compare-prices", h.ComparePrices).Methods("POST")
	api.HandleFunc("/detect-trending", h.DetectTrending).Methods("GET")
	api.HandleFunc("/analyze-brand", h.AnalyzeBrand).Methods("POST")
	api.HandleFunc("/compare-brands", h.CompareBrands).Methods("POST")
	api.HandleFunc("/subscribe-alert", h.SubscribeAlert).Methods("POST")
	api.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/ack", h.AckAlert).Methods("POST")
	api.HandleFunc("/subscriptions/{id}", h.Unsubscribe).Methods("DELETE")
	api.HandleFunc("/pending-alerts", h.PendingAlerts).Methods("GET", "DELETE")

	s.router.NotFoundHandler = http.HandlerFunc(h.NotFound)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving until shutdown or listener failure.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, wrapper.status, duration)
		}

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
