// Package health exposes an HTTP server with a Docker-reachability health
// check and a Prometheus metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// upGauge reports 1 on /metrics for as long as the process is serving it.
var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Name: "sherpa_dns_up",
	Help: "Always 1 while sherpa-dns is running.",
}, func() float64 { return 1 })

// Pinger is satisfied by any source that can report whether it is
// currently reachable. source.DockerSource implements this via its Ping
// method.
type Pinger interface {
	Ping(ctx context.Context) error
}

const pingTimeout = 5 * time.Second

// Server serves /health and /metrics on a single HTTP listener.
type Server struct {
	addr   string
	pinger Pinger
	log    *slog.Logger
	srv    *http.Server
}

// New returns a Server bound to addr (e.g. "0.0.0.0:8080"). A nil logger
// falls back to slog.Default().
func New(addr string, pinger Pinger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{addr: addr, pinger: pinger, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

type healthResponse struct {
	Status string `json:"status"`
	Docker string `json:"docker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.pinger.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status: "unhealthy",
			Docker: fmt.Sprintf("error: %s", err),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status: "healthy",
		Docker: "connected",
	})
}

// Start begins serving in the background and stops when ctx is cancelled,
// giving in-flight requests up to 5s to complete.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutCtx); err != nil {
			s.log.Warn("health: shutdown error", "err", err)
		}
	}()

	go func() {
		s.log.Info("health: listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health: server error", "err", err)
		}
	}()
}
