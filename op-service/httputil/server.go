package httputil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// HTTPServer wraps a http.Server, exposing the running state and the bound address.
//
// The listen address contains both host and port. A 0 port binds to any available port,
// the result can be retrieved with HTTPServer.Addr or HTTPServer.HTTPEndpoint.
//
// The server may be started, stopped and started back up.
type HTTPServer struct {
	// mu guards bringing the server online/offline, and access to the listener.
	mu sync.RWMutex

	// listener that the server is bound to. Nil if offline.
	listener net.Listener

	srv *http.Server

	// used as BaseContext of the http.Server
	srvCtx    context.Context
	srvCancel context.CancelFunc

	config *config
}

// NewHTTPServer creates an HTTPServer that serves the given HTTP handler.
// The server is inactive and has to be started explicitly.
func NewHTTPServer(addr string, handler http.Handler, opts ...Option) *HTTPServer {
	cfg := &config{
		listenAddr: addr,
		handler:    handler,
	}
	cfg.ApplyOptions(opts...)
	return &HTTPServer{config: cfg}
}

func StartHTTPServer(addr string, handler http.Handler, opts ...Option) (*HTTPServer, error) {
	out := NewHTTPServer(addr, handler, opts...)
	return out, out.Start()
}

// Start binds the listener and serves in the background.
// It returns an error if the server fails within the standup window.
func (s *HTTPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("already have existing server")
	}

	srvCtx, srvCancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.config.handler,
		ReadTimeout:       DefaultTimeouts.ReadTimeout,
		ReadHeaderTimeout: DefaultTimeouts.ReadHeaderTimeout,
		WriteTimeout:      DefaultTimeouts.WriteTimeout,
		IdleTimeout:       DefaultTimeouts.IdleTimeout,
		BaseContext: func(listener net.Listener) context.Context {
			return srvCtx
		},
	}
	for _, opt := range s.config.httpOpts {
		if err := opt(srv); err != nil {
			srvCancel()
			return fmt.Errorf("failed to apply HTTP option: %w", err)
		}
	}

	listener, err := net.Listen("tcp", s.config.listenAddr)
	if err != nil {
		srvCancel()
		return fmt.Errorf("failed to bind to address %q: %w", s.config.listenAddr, err)
	}
	s.listener = listener
	s.srv = srv
	s.srvCtx = srvCtx
	s.srvCancel = srvCancel

	// cap of 1, to not block on non-immediate shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	standupTimer := time.NewTimer(10 * time.Millisecond)
	defer standupTimer.Stop()

	select {
	case err := <-errCh:
		s.cleanup()
		return fmt.Errorf("http server failed: %w", err)
	case <-standupTimer.C:
		return nil
	}
}

func (s *HTTPServer) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srv == nil
}

// Stop gracefully shuts down the server, and force-closes it if the ctx is cancelled first.
// The ctx error is not returned when the force-close succeeds.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if err := s.Shutdown(ctx); err != nil {
		if errors.Is(err, ctx.Err()) {
			return s.Close()
		}
		return err
	}
	return nil
}

func (s *HTTPServer) cleanup() {
	s.srv = nil
	s.listener = nil
	s.srvCtx = nil
	s.srvCancel = nil
}

// Shutdown closes the listener and lets active connections finish.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	s.srvCancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	s.cleanup()
	return nil
}

// Close force-closes the HTTPServer, its listener, and all its active connections.
func (s *HTTPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	s.srvCancel()
	if err := s.srv.Close(); err != nil {
		return err
	}
	s.cleanup()
	return nil
}

// Addr returns the address that the server is listening on, or nil if offline.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the port that the server is listening on.
func (s *HTTPServer) Port() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return 0, errors.New("server is not online")
	}
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0, fmt.Errorf("failed to extract port from server: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("failed to convert extracted port: %w", err)
	}
	return port, nil
}

// HTTPEndpoint returns the http endpoint the server is serving, or an empty string if offline.
func (s *HTTPServer) HTTPEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}
