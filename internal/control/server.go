// Package control serves the kernel's control plane: a JSON command
// endpoint, a websocket event stream, and a Prometheus-style metrics
// endpoint.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"wasmkernel/pkg/logger"
)

// Server exposes the control plane over HTTP.
type Server struct {
	addr       string
	dispatcher *Dispatcher
	hub        *Hub
	log        *slog.Logger
}

// NewServer constructs a Server listening on addr.
func NewServer(addr string, dispatcher *Dispatcher, hub *Hub) *Server {
	return &Server{addr: addr, dispatcher: dispatcher, hub: hub, log: logger.Named("control")}
}

// Start runs the HTTP server until ctx is cancelled or it fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.handleControl)
	mux.HandleFunc("/events", s.hub.ServeHTTP)
	mux.Handle("/metrics", MetricsHandler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withRequestMetrics(withContext(ctx, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.CloseAll()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, chanOK := <-errCh:
		if !chanOK {
			return nil
		}
		return err
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Dispatch(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ok {
		w.WriteHeader(http.StatusBadRequest)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode control response", "error", err)
	}
}

// withContext aborts in-flight requests once ctx is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func withRequestMetrics(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(rec, r)
		ObserveHTTPRequest(r.URL.Path, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets /events still upgrade to a websocket through this wrapper;
// gorilla/websocket requires the ResponseWriter it's given to support it.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, isOK := r.ResponseWriter.(http.Hijacker)
	if !isOK {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}
