package admin

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"dynamic-datasource/internal/common/logging"
)

// Server is the admin HTTP server.
type Server struct {
	srv    *http.Server
	logger logging.Logger
	errCh  chan error
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logging.OrGlobal(logger),
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors arrive on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Admin server listening", logging.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Errors delivers a fatal serve error, then closes.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
