package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Versifine/strait/internal/event"
)

const (
	// DefaultMaxSessions bounds concurrently live bridges so a flood of
	// clients cannot grow resource usage without limit. Clients beyond the
	// bound are closed immediately rather than queued.
	DefaultMaxSessions = 1024

	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = 1 * time.Second
)

// Server owns the listening socket and pairs every accepted client
// connection with a new Bridge to the fixed upstream target.
type Server struct {
	listenAddr   string
	upstreamAddr string
	dialTimeout  time.Duration
	bus          *event.Bus

	sem    chan struct{}
	nextID atomic.Uint64

	mu sync.Mutex
	ln net.Listener
}

type Option func(*Server)

// WithDialTimeout bounds each upstream connection attempt. 0 disables the
// bound.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Server) { s.dialTimeout = d }
}

// WithMaxSessions overrides DefaultMaxSessions.
func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithBus publishes session lifecycle events to bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

func NewServer(listenAddr, upstreamAddr string, opts ...Option) *Server {
	s := &Server{
		listenAddr:   listenAddr,
		upstreamAddr: upstreamAddr,
		sem:          make(chan struct{}, DefaultMaxSessions),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listening socket and serves until ctx is canceled or an
// unrecoverable accept error occurs. A bind failure is returned to the
// caller; it is fatal to startup and never retried. Established sessions
// are not torn down on ctx cancellation, they end when a leg dies.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("Starting relay", "listen", s.listenAddr, "upstream", s.upstreamAddr)
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.listenAddr, err)
	}
	defer ln.Close()

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down relay")
		_ = ln.Close()
	}()

	return s.serve(ctx, ln)
}

// Addr reports the bound listener address, or nil before Start has bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// serve accepts clients until the listener dies. Temporary accept errors
// (fd exhaustion and the like) are retried with exponential backoff; only
// a non-temporary error stops the loop. The accept loop never waits on a
// session's upstream dial or I/O.
func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("Relay stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				if backoff == 0 {
					backoff = acceptBackoffMin
				} else {
					backoff *= 2
					if backoff > acceptBackoffMax {
						backoff = acceptBackoffMax
					}
				}
				slog.Warn("Transient accept error", "error", err, "retryIn", backoff)
				time.Sleep(backoff)
				continue
			}
			slog.Error("Error accepting connection", "error", err)
			return err
		}
		backoff = 0

		select {
		case s.sem <- struct{}{}:
		default:
			slog.Warn("Session limit reached, closing client", "client", conn.RemoteAddr(), "limit", cap(s.sem))
			s.publish(event.EventSessionRefused, &event.SessionRefused{
				ClientAddr: conn.RemoteAddr().String(),
				Reason:     "session limit reached",
			})
			_ = conn.Close()
			continue
		}
		go func() {
			defer func() { <-s.sem }()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection runs one client session from accept to teardown. All
// errors stay contained here; nothing a session does can stop the accept
// loop or touch other sessions.
func (s *Server) handleConnection(clientConn net.Conn) {
	// Disable Nagle's algorithm for lower latency
	if tcpConn, ok := clientConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	id := s.nextID.Add(1)
	clientAddr := clientConn.RemoteAddr().String()

	bridge := NewBridge(clientConn)
	if err := bridge.DialUpstream(s.upstreamAddr, s.dialTimeout); err != nil {
		slog.Error("Error connecting to upstream", "id", id, "client", clientAddr, "error", err)
		s.publish(event.EventSessionRefused, &event.SessionRefused{
			ClientAddr: clientAddr,
			Reason:     err.Error(),
		})
		return
	}

	slog.Info("Session opened", "id", id, "client", clientAddr, "upstream", s.upstreamAddr)
	s.publish(event.EventSessionOpened, &event.SessionOpened{
		ID:           id,
		ClientAddr:   clientAddr,
		UpstreamAddr: s.upstreamAddr,
	})

	start := time.Now()
	bridge.Run()

	duration := time.Since(start)
	slog.Info("Session closed", "id", id, "client", clientAddr,
		"bytesUp", bridge.BytesUp(), "bytesDown", bridge.BytesDown(), "duration", duration)
	s.publish(event.EventSessionClosed, &event.SessionClosed{
		ID:         id,
		ClientAddr: clientAddr,
		BytesUp:    bridge.BytesUp(),
		BytesDown:  bridge.BytesDown(),
		Duration:   duration,
	})
}

func (s *Server) publish(name string, evt any) {
	if s.bus != nil {
		s.bus.Publish(name, evt)
	}
}
