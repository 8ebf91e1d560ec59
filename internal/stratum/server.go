package stratum

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meowcoin/stratum-proxy/internal/bitcoin"
	"github.com/meowcoin/stratum-proxy/internal/metrics"
	"github.com/meowcoin/stratum-proxy/internal/work"
)

// Server accepts miner connections and runs one session per connection.
type Server struct {
	engine  *work.Engine
	rpc     bitcoin.NodeRPC
	book    *HashrateBook
	testnet bool
	logger  *zap.Logger

	// Accept-rate token bucket; a reconnect storm from misconfigured miners
	// must not starve existing sessions.
	limiter *rate.Limiter

	listener net.Listener

	mu       sync.Mutex
	sessions map[*Session]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a stratum server over the given engine and node client.
func NewServer(engine *work.Engine, rpc bitcoin.NodeRPC, testnet bool, logger *zap.Logger) *Server {
	return &Server{
		engine:   engine,
		rpc:      rpc,
		book:     NewHashrateBook(),
		testnet:  testnet,
		logger:   logger,
		limiter:  rate.NewLimiter(20, 40),
		sessions: make(map[*Session]struct{}),
	}
}

// Start listens on addr and begins accepting miners.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.logger.Info("stratum server listening", zap.String("addr", ln.Addr().String()))
	if s.testnet {
		s.logger.Info("using testnet")
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if !s.limiter.Allow() {
			s.logger.Warn("connection rate limited",
				zap.String("client", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		sess := newSession(conn, s.engine, s.rpc, s.book, s.testnet, s.logger)

		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()
		metrics.MinersConnected.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run(ctx)

			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
			metrics.MinersConnected.Dec()
		}()
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop closes the listener and all sessions.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
