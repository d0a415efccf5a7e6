package lpstream

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Server accepts TCP connections and runs each one as a framed Conn.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	connOpts        []Option
	shutdownTimeout time.Duration
	onConnect       func(*Conn)
	onDisconnect    func(*Conn, error)

	mu          sync.Mutex
	shutdown    bool
	conns       map[*Conn]struct{}
	wg          sync.WaitGroup
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server keeps its connections running for
// up to this duration before closing the listener and every tracked
// connection. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// OnConnectOption sets a hook called before a new connection starts running.
func OnConnectOption(cb func(*Conn)) ServerOption {
	return func(s *Server) {
		s.onConnect = cb
	}
}

// OnDisconnectOption sets a hook called after a connection has stopped,
// with the error Run returned.
func OnDisconnectOption(cb func(*Conn, error)) ServerOption {
	return func(s *Server) {
		s.onDisconnect = cb
	}
}

// New creates a server bound to addr. connOpts are applied to every accepted
// connection and must include OnMessageOption.
func New(addr *net.TCPAddr, connOpts []Option, opts ...ServerOption) (*Server, error) {
	check := buildOptions(connOpts)
	if err := checkOptions(&check); err != nil {
		return nil, err
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		connOpts:    connOpts,
		conns:       make(map[*Conn]struct{}),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections until the context is canceled or an
// unrecoverable error occurs. On cancellation it stops accepting, waits for
// the shutdown timeout if one is set, then closes all tracked connections
// and waits for them to finish. Call Close() to skip the timeout.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		raw, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.closeConns()
				s.wg.Wait()
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return errors.Wrap(err, "accept")
		}

		s.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
		_ = raw.SetNoDelay(true)

		conn, err := NewConn(raw, s.connOpts...)
		if err != nil {
			_ = raw.Close()
			return err
		}

		s.track(conn)
		s.wg.Add(1)
		go s.run(ctx, conn)
	}
}

func (s *Server) run(ctx context.Context, conn *Conn) {
	defer s.wg.Done()

	if s.onConnect != nil {
		s.onConnect(conn)
	}

	// Connections outlive ctx during a graceful shutdown; closeConns ends them.
	err := conn.Run(context.WithoutCancel(ctx))

	s.untrack(conn)
	if s.onDisconnect != nil {
		s.onDisconnect(conn, err)
	}
}

// Broadcast queues msg on every live connection without blocking and
// returns how many connections accepted it.
func (s *Server) Broadcast(msg []byte) int {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if err := c.Write(msg); err != nil {
			s.logger.Debug("broadcast skipped", "addr", c.Addr(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Conns returns the number of live connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining timeout.
// Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}
