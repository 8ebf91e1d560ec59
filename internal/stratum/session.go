package stratum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/meowcoin/stratum-proxy/internal/address"
	"github.com/meowcoin/stratum-proxy/internal/bitcoin"
	"github.com/meowcoin/stratum-proxy/internal/metrics"
	"github.com/meowcoin/stratum-proxy/internal/work"
	"github.com/meowcoin/stratum-proxy/pkg/util"
)

// jobQueueSize bounds the per-session outbound job queue. Overflow drops the
// incoming job rather than stalling the refresher on a dead miner.
const jobQueueSize = 8

// Session serves one miner connection.
type Session struct {
	codec   *Codec
	remote  string
	engine  *work.Engine
	rpc     bitcoin.NodeRPC
	book    *HashrateBook
	logger  *zap.Logger
	testnet bool

	jobCh     chan *work.Job
	done      chan struct{}
	closeOnce sync.Once
}

// newSession wraps an accepted connection.
func newSession(conn net.Conn, engine *work.Engine, rpc bitcoin.NodeRPC, book *HashrateBook, testnet bool, logger *zap.Logger) *Session {
	remote := conn.RemoteAddr().String()
	return &Session{
		codec:   NewCodec(conn),
		remote:  remote,
		engine:  engine,
		rpc:     rpc,
		book:    book,
		logger:  logger.With(zap.String("client", remote)),
		testnet: testnet,
		jobCh:   make(chan *work.Job, jobQueueSize),
		done:    make(chan struct{}),
	}
}

// NotifyJob queues a job for delivery. Never blocks; a full queue drops the
// job and the miner catches up on the next one.
func (s *Session) NotifyJob(job *work.Job) {
	select {
	case s.jobCh <- job:
	default:
		metrics.JobsDropped.Inc()
		s.logger.Warn("job queue full, dropping job", zap.String("job", job.ID))
	}
}

// run serves the session until the connection drops or the context ends.
func (s *Session) run(ctx context.Context) {
	defer s.close()

	s.logger.Info("connection established")

	go s.writeLoop()

	for {
		req, err := s.codec.ReadRequest()
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				// Malformed line: drop it, keep the connection.
				s.logger.Debug("dropping malformed request", zap.Error(err))
				continue
			}
			s.logger.Info("connection closed", zap.Error(err))
			return
		}
		s.handle(ctx, req)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// writeLoop delivers queued jobs as a set_target / notify pair, in queue
// order.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case job := <-s.jobCh:
			if err := s.sendJob(job); err != nil {
				s.logger.Debug("job delivery failed", zap.Error(err))
				s.close()
				return
			}
		}
	}
}

func (s *Session) sendJob(job *work.Job) error {
	if err := s.codec.SendNotification(&Notification{
		Method: "mining.set_target",
		Params: []interface{}{job.Target},
	}); err != nil {
		return err
	}
	return s.codec.SendNotification(&Notification{
		Method: "mining.notify",
		Params: []interface{}{
			job.ID, job.HeaderHash, job.SeedHash, job.Target,
			job.Clean, job.Height, job.Bits,
		},
	})
}

// handle dispatches one request. Unknown methods are dropped without a
// response; several miner implementations probe with nonstandard calls and
// treat any error as fatal.
func (s *Session) handle(ctx context.Context, req *Request) {
	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(req)
	case "mining.authorize":
		s.handleAuthorize(req)
	case "mining.submit":
		s.handleSubmit(ctx, req)
	case "eth_submitHashrate":
		s.handleHashrate(ctx, req)
	}
}

func (s *Session) handleSubscribe(req *Request) {
	extranonce := s.engine.RegisterSession(s)
	s.respond(req, []interface{}{nil, extranonce}, nil)
}

func (s *Session) handleAuthorize(req *Request) {
	params, err := stringParams(req.Params, 2)
	if err != nil {
		s.logger.Debug("bad authorize params", zap.Error(err))
		return
	}
	username := params[0]
	// The password is ignored.

	h160, err := address.DecodeMiner(username, s.testnet)
	if err != nil {
		s.respond(req, nil, &Error{Code: 20, Message: err.Error()})
		return
	}

	s.engine.Authorize(h160)
	s.respond(req, true, nil)
}

func (s *Session) handleSubmit(ctx context.Context, req *Request) {
	params, err := stringParams(req.Params, 5)
	if err != nil {
		s.logger.Debug("bad submit params", zap.Error(err))
		return
	}
	worker, jobID, nonceHex, headerHex, mixHashHex := params[0], params[1], params[2], params[3], params[4]

	s.logger.Debug("possible solution",
		zap.String("worker", worker),
		zap.String("job", jobID),
		zap.String("header", headerHex),
	)

	height, err := s.engine.SubmitShare(ctx, worker, jobID, nonceHex, mixHashHex)
	if err != nil {
		s.logger.Error("share submission failed", zap.Error(err))
	} else {
		s.showMessage(fmt.Sprintf("Found block (may or may not be accepted by the chain): %d", height))
	}

	// The miner keeps working as long as shares are acknowledged.
	s.respond(req, true, nil)
}

func (s *Session) handleHashrate(ctx context.Context, req *Request) {
	params, err := stringParams(req.Params, 2)
	if err != nil {
		s.logger.Debug("bad hashrate params", zap.Error(err))
		return
	}
	rateHex := params[0]

	rate, err := strconv.ParseUint(util.Prune0x(rateHex), 16, 64)
	if err != nil {
		s.logger.Debug("bad hashrate value", zap.String("hashrate", rateHex))
		s.respond(req, true, nil)
		return
	}

	total := s.book.Update(s.remote, rate)

	info, err := s.rpc.GetMiningInfo(ctx)
	if err != nil {
		s.logger.Error("RPC error for mininginfo", zap.Error(err))
		s.respond(req, true, nil)
		return
	}
	metrics.NetworkHashrate.Set(info.NetworkHashPS)

	rates, _ := s.book.Snapshot()
	for worker, r := range rates {
		s.logger.Info("reported hashrate",
			zap.String("worker", worker),
			zap.Float64("mhs", round2(float64(r)/1e6)),
		)
	}
	s.logger.Info("total reported hashrate", zap.Float64("mhs", round2(float64(total)/1e6)))
	if s.testnet {
		s.logger.Info("network hashrate", zap.Float64("mhs", round2(info.NetworkHashPS/1e6)))
	} else {
		s.logger.Info("network hashrate", zap.Float64("ths", round2(info.NetworkHashPS/1e12)))
	}

	if total != 0 {
		ttf := info.Difficulty * math.Pow(2, 32) / float64(total)
		var msg string
		if s.testnet {
			msg = fmt.Sprintf("Estimated time to find: %.0f seconds", ttf)
		} else {
			msg = fmt.Sprintf("Estimated time to find: %.2f days", ttf/86400)
		}
		s.logger.Info(msg)
		s.showMessage(msg)
	} else {
		s.logger.Info("mining software has yet to send data")
	}

	s.respond(req, true, nil)
}

func (s *Session) showMessage(msg string) {
	if err := s.codec.SendNotification(&Notification{
		Method: "client.show_message",
		Params: []interface{}{msg},
	}); err != nil {
		s.logger.Debug("show_message failed", zap.Error(err))
	}
}

func (s *Session) respond(req *Request, result interface{}, rpcErr *Error) {
	if err := s.codec.SendResponse(&Response{
		ID:     req.ID,
		Result: result,
		Error:  rpcErr,
	}); err != nil {
		s.logger.Debug("response write failed", zap.Error(err))
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.codec.Close()
		s.engine.UnregisterSession(s)
		s.book.Remove(s.remote)
	})
}

// stringParams decodes a JSON params array of at least n strings.
func stringParams(raw json.RawMessage, n int) ([]string, error) {
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if len(params) < n {
		return nil, fmt.Errorf("want %d params, got %d", n, len(params))
	}
	return params, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
