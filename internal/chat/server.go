package chat

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

type ServerConfig struct {
	Addr           string
	MetricsAddr    string // empty disables the metrics endpoint
	OutboundBuffer int
	Session        SessionOptions
}

type Server struct {
	cfg       ServerConfig
	logger    *slog.Logger
	reg       *Registry
	listener  net.Listener
	metrics   *http.Server
	metricsLn net.Listener

	sessions conc.WaitGroup
	mu       sync.Mutex
	clients  map[*Client]struct{}
	closing  bool
}

func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		reg:     NewRegistry(128, logger),
		clients: make(map[*Client]struct{}),
	}
}

// Registry exposes the server's directory of online users and groups.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Addr returns the bound chat address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if s.cfg.MetricsAddr != "" {
		if err := s.startMetrics(); err != nil {
			ln.Close()
			return err
		}
	}
	s.listener = ln

	go s.reg.Run()
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

func (s *Server) startMetrics() error {
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return err
	}
	s.metricsLn = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("metrics listening", "addr", ln.Addr().String())
		if err := s.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	if s.listener == nil {
		return
	}
	s.logger.Info("shutting down")

	s.listener.Close()
	if s.metrics != nil {
		_ = s.metrics.Close()
	}

	// Closing the sockets unblocks every session's read.
	s.mu.Lock()
	s.closing = true
	for c := range s.clients {
		_ = c.Conn.Close()
	}
	s.mu.Unlock()
	s.sessions.Wait()

	s.reg.Stop()
	s.reg.Wait()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		ConnectionsTotal.Inc()
		c := NewClient(conn, s.cfg.OutboundBuffer)
		s.logger.Info("client connected", "addr", conn.RemoteAddr().String(), "conn_id", c.ID)

		if !s.spawn(c) {
			_ = conn.Close()
			return
		}
	}
}

// spawn starts the session for c. It reports false once Stop has begun.
func (s *Server) spawn(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c] = struct{}{}
	s.sessions.Go(func() {
		defer s.untrack(c)
		// HandleSession's deferred cleanup still runs while the panic unwinds.
		if r := panics.Try(func() { HandleSession(c, s.reg, s.cfg.Session) }); r != nil {
			s.logger.Error("session panicked", "conn_id", c.ID, "error", r.AsError(), "stack", string(r.Stack))
		}
	})
	return true
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
