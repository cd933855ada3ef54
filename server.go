package rtmp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/config"
	"github.com/rtmpengine/rtmp/internal/bufpool"
	"github.com/rtmpengine/rtmp/metrics"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("rtmp: server closed")

// Server accepts RTMP connections and runs each one on its own goroutines.
// A failing connection never affects the others.
type Server struct {
	// Addr is the TCP address to listen on, ":1935" if empty.
	Addr   string
	Config *config.Config
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Dispatcher handles the application messages of every connection. When
	// nil a Session relaying between publishers and players is built from
	// Config.
	Dispatcher Dispatcher

	pool *bufpool.Pool

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	initOnce sync.Once
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Logger == nil {
			s.Logger = zap.NewNop()
		}
		if s.Config == nil {
			s.Config = config.Default()
		}
		if s.Addr == "" {
			s.Addr = s.Config.RTMP.Addr
		}
		if s.Addr == "" {
			s.Addr = config.DefaultAddr
		}
		if s.Dispatcher == nil {
			s.Dispatcher = NewSessionFromConfig(s.Config, s.Logger, s.Metrics)
		}
		s.pool = bufpool.New()
		s.conns = make(map[*Conn]struct{})
		s.ctx, s.cancel = context.WithCancel(context.Background())
	})
}

// NewSessionFromConfig builds the default relay Session.
func NewSessionFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Session {
	s := NewSession(NewBroadcaster(NewInMemoryContext(), logger, m), logger)
	s.Metrics = m
	s.App = cfg.RTMP.App
	if cfg.RTMP.WriteWindowSize > 0 {
		s.WindowAckSize = cfg.RTMP.WriteWindowSize
	}
	if cfg.RTMP.PeerBandwidth > 0 {
		s.PeerBandwidth = cfg.RTMP.PeerBandwidth
	}
	if limit, err := ParseLimitType(cfg.RTMP.LimitType); err == nil {
		s.LimitType = limit
	}
	if cfg.RTMP.WriteChunkSize > 0 {
		s.ChunkSize = cfg.RTMP.WriteChunkSize
	}
	s.RecordDir = cfg.Record.Dir
	s.PlayerQueueSize = cfg.RTMP.PlayerQueueSize
	return s
}

func (s *Server) connConfig() ConnConfig {
	return ConnConfig{
		ReadChunkSize:  s.Config.RTMP.ReadChunkSize,
		WriteChunkSize: DefaultChunkSize,
		ReadWindowSize: s.Config.RTMP.ReadWindowSize,
		WriteQueueSize: s.Config.RTMP.WriteQueueSize,
		Dispatcher:     s.Dispatcher,
		Logger:         s.Logger,
		Metrics:        s.Metrics,
		Pool:           s.pool,
	}
}

// ListenAndServe listens on Addr, with TLS when the config names a
// certificate, and serves until Close.
func (s *Server) ListenAndServe() error {
	s.init()

	var (
		l   net.Listener
		err error
	)
	if tlsCfg := s.Config.RTMP.TLS; tlsCfg.Enabled() {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return errors.Wrap(err, "[server] loading certificate")
		}
		l, err = tls.Listen("tcp", s.Addr, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			return errors.Wrapf(err, "[server] listening on %s", s.Addr)
		}
	} else {
		l, err = net.Listen("tcp", s.Addr)
		if err != nil {
			return errors.Wrapf(err, "[server] listening on %s", s.Addr)
		}
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close is called. It always closes l.
func (s *Server) Serve(l net.Listener) error {
	s.init()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()
	defer l.Close()

	s.Logger.Info("[server] listening", zap.String("addr", l.Addr().String()))

	var delay time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > time.Second {
					delay = time.Second
				}
				s.Logger.Warn("[server] accept error, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return errors.Wrap(err, "[server] accept")
		}
		delay = 0
		s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	c := NewConn(nc, s.connConfig())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	c.Logger().Info("[server] accepted connection")
	go func() {
		defer s.wg.Done()
		err := c.Serve(s.ctx)
		if err != nil {
			c.Logger().Warn("[server] connection ended with an error", zap.Error(err))
		} else {
			c.Logger().Info("[server] connection ended")
		}
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ListenerAddr returns the listener's address once Serve is running.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every connection and waits for them.
func (s *Server) Close() error {
	s.init()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return err
}

// Shutdown is Close bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
