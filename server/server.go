package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"ringlog/storage"
)

const (
	DefaultAddr = ":9000"

	// DefaultMaxLineLength matches the 64 KiB receive buffer of the
	// aesdsocket daemon.
	DefaultMaxLineLength = 64 << 10
)

// acceptRetryDelay throttles the accept loop after a failed Accept.
const acceptRetryDelay = 10 * time.Millisecond

type Options struct {
	Addr string

	// MaxConns bounds connections served at once. Further accepted
	// connections wait for a free slot. 0 means unlimited.
	MaxConns int

	// MaxLineLength bounds one received line, delimiter included. A client
	// exceeding it is disconnected. 0 means DefaultMaxLineLength.
	MaxLineLength int

	// Per-operation deadlines, 0 disables them.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server accepts TCP connections and runs one Worker per connection, all
// sharing a single store.
type Server struct {
	logger   log.Logger
	metrics  *ServerMetrics
	store    storage.Store
	options  Options
	registry *Registry

	mu       sync.Mutex
	listener net.Listener
}

func New(logger log.Logger, registerer prometheus.Registerer, store storage.Store, options Options) *Server {
	if options.Addr == "" {
		options.Addr = DefaultAddr
	}

	if options.MaxLineLength <= 0 {
		options.MaxLineLength = DefaultMaxLineLength
	}

	if registerer != nil {
		registerer = prometheus.WrapRegistererWithPrefix("server_", registerer)
	}

	return &Server{
		logger:   logger,
		metrics:  NewServerMetrics(registerer),
		store:    store,
		options:  options,
		registry: NewRegistry(logger, options.MaxConns),
	}
}

// Listen binds the listening socket. Failing to bind is the one fatal
// error of the server.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.options.Addr)

	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.options.Addr)
	}

	s.Attach(ln)

	return nil
}

// Attach makes the server accept on an already bound listener, such as one
// inherited from the parent of a daemonized process.
func (s *Server) Attach(ln net.Listener) {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "Listening", "addr", ln.Addr().String())
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called, then
// closes all live connections and waits for their workers to return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	defer func() {
		s.registry.CloseAll()
		s.registry.Wait()
	}()

	for {
		conn, err := ln.Accept()

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			level.Error(s.logger).Log("msg", "Accept failed", "err", err)
			time.Sleep(acceptRetryDelay)

			continue
		}

		s.serveConn(ctx, conn)
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(ctx)
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := uuid.New().String()
	logger := log.With(s.logger, "conn", id, "client", remoteIP(conn))

	s.metrics.connectionsAccepted.Inc()
	level.Info(logger).Log("msg", "Accepted connection")

	s.registry.Go(id, conn, func() error {
		s.metrics.connectionsActive.Inc()
		defer s.metrics.connectionsActive.Dec()

		err := NewWorker(logger, s.metrics, s.store, conn, s.options).Run(ctx)

		if err != nil {
			s.metrics.connectionsFailed.Inc()
		}

		level.Info(logger).Log("msg", "Closed connection")

		return err
	})
}

// Close stops accepting connections and closes every live connection so
// that Serve returns once their workers are done.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	s.registry.CloseAll()

	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

// Active returns the number of connections being served.
func (s *Server) Active() int {
	return s.registry.Active()
}

func remoteIP(conn net.Conn) string {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}

	return conn.RemoteAddr().String()
}
