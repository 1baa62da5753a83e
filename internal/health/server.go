// Package health exposes a minimal liveness endpoint for the scheduler
// process.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxPortAttempts bounds the fallback scan when the base port is taken.
const maxPortAttempts = 10

// Server answers liveness probes. If the configured port is busy it walks
// up to maxPortAttempts consecutive ports before giving up.
type Server struct {
	basePort int
	logger   *zap.Logger

	port int
}

func NewServer(basePort int, logger *zap.Logger) *Server {
	return &Server{basePort: basePort, logger: logger}
}

// Port returns the port actually bound, valid after Start listens.
func (s *Server) Port() int {
	return s.port
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleLiveness)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("health server listening", zap.Int("port", s.port))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	var lastErr error
	for i := 0; i < maxPortAttempts; i++ {
		port := s.basePort + i
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, nil
		}
		lastErr = err
		s.logger.Warn("health port busy, trying next",
			zap.Int("port", port), zap.Error(err))
	}
	return nil, fmt.Errorf("no free health port in [%d, %d]: %w",
		s.basePort, s.basePort+maxPortAttempts-1, lastErr)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Scheduler is running")
}
