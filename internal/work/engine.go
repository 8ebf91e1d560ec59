package work

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/meowcoin/stratum-proxy/internal/address"
	"github.com/meowcoin/stratum-proxy/internal/bitcoin"
	"github.com/meowcoin/stratum-proxy/internal/metrics"
	"github.com/meowcoin/stratum-proxy/pkg/util"
)

const (
	// PollInterval is how often the node is asked for a fresh template.
	// The update fast-fails when nothing changed, so this can be tight.
	PollInterval = 100 * time.Millisecond

	// StaleAfter forces a header rebuild (fresh timestamp) even when the
	// template itself did not change.
	StaleAfter = 60 * time.Second

	// FailureBackoff is how long the refresher sleeps after a failed tick.
	FailureBackoff = 300 * time.Second
)

// Subscriber receives job broadcasts from the engine. Implementations must
// not block: the engine calls them with its lock held.
type Subscriber interface {
	NotifyJob(job *Job)
}

// Engine owns the template state, polls the node, rebuilds jobs, and
// reconstructs submitted blocks. It is the single writer of all mining state.
type Engine struct {
	rpc    bitcoin.NodeRPC
	logger *zap.Logger

	showJobs bool
	dumpDir  string

	// First authorized payout address; written exactly once.
	minerH160 atomic.Pointer[[20]byte]

	mu          sync.Mutex
	state       *TemplateState
	history     *History
	newSessions map[Subscriber]struct{}
	allSessions map[Subscriber]struct{}
	bitsCounter uint16
}

// Options configures an Engine.
type Options struct {
	// ShowJobs logs a line per broadcast job.
	ShowJobs bool
	// DumpDir, when non-empty, receives one text file per block submission.
	DumpDir string
	// HistorySize bounds the late-submission job history (default 20).
	HistorySize int
}

// NewEngine creates an engine bound to a node RPC client.
func NewEngine(rpc bitcoin.NodeRPC, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		rpc:         rpc,
		logger:      logger,
		showJobs:    opts.ShowJobs,
		dumpDir:     opts.DumpDir,
		state:       NewTemplateState(),
		history:     NewHistory(opts.HistorySize),
		newSessions: make(map[Subscriber]struct{}),
		allSessions: make(map[Subscriber]struct{}),
	}
}

// Run polls the node until the context is canceled. A failed tick backs off
// for FailureBackoff instead of exiting; solutions found in that window may
// no longer be current.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.update(ctx); err != nil {
				e.logger.Error("template refresh failed", zap.Error(err))
				e.logger.Error("pausing template refresh",
					zap.Duration("backoff", FailureBackoff))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(FailureBackoff):
				}
			}
		}
	}
}

// RegisterSession assigns the session its extranonce tag and queues it for
// its first job on the next tick. Every subscribe gets a fresh tag; resumed
// sessions are not supported.
func (e *Engine) RegisterSession(sub Subscriber) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bitsCounter++
	if _, ok := e.allSessions[sub]; !ok {
		e.newSessions[sub] = struct{}{}
	}
	return fmt.Sprintf("%04x", e.bitsCounter)
}

// UnregisterSession removes a disconnected session from both registries.
func (e *Engine) UnregisterSession(sub Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.newSessions, sub)
	delete(e.allSessions, sub)
}

// Authorize records the payout hash-160 of the first miner to authorize.
// Later calls are accepted but never change the payout address.
func (e *Engine) Authorize(h160 [20]byte) {
	v := h160
	if e.minerH160.CompareAndSwap(nil, &v) {
		e.logger.Info("payout address locked",
			zap.String("h160", hex.EncodeToString(h160[:])))
	}
}

// MinerH160 returns the locked payout address, if any.
func (e *Engine) MinerH160() ([20]byte, bool) {
	p := e.minerH160.Load()
	if p == nil {
		return [20]byte{}, false
	}
	return *p, true
}

// CurrentJobID returns the job id of the live state.
func (e *Engine) CurrentJobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.JobID()
}

// RefreshOnce runs a single refresher tick outside the Run loop.
func (e *Engine) RefreshOnce(ctx context.Context) error {
	return e.update(ctx)
}

// update performs one refresher tick: fetch the template, decide whether a
// rebuild is needed, rebuild, and broadcast.
func (e *Engine) update(ctx context.Context) error {
	miner := e.minerH160.Load()
	if miner == nil {
		// Nobody has authorized yet; there is nothing to pay out to.
		return nil
	}

	tmpl, err := e.rpc.GetBlockTemplate(ctx)
	if err != nil {
		return err
	}

	communityH160, err := address.DecodeAny(tmpl.CommunityAddress)
	if err != nil {
		return fmt.Errorf("community payout address: %w", err)
	}

	prevRaw, err := util.HexToBytes(tmpl.PreviousBlockHash)
	if err != nil || len(prevRaw) != 32 {
		return fmt.Errorf("bad previousblockhash %q", tmpl.PreviousBlockHash)
	}

	witness, err := util.HexToBytes(tmpl.DefaultWitnessCommitment)
	if err != nil {
		return fmt.Errorf("bad witness commitment: %w", err)
	}

	bitsRaw, err := util.HexToBytes(tmpl.Bits)
	if err != nil || len(bitsRaw) != 4 {
		return fmt.Errorf("bad bits %q", tmpl.Bits)
	}

	ts := time.Now().Unix()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.state

	newBlock := s.Height == -1 || s.Height != tmpl.Height
	newTxs := tmpl.DefaultWitnessCommitment != s.CurrentCommitment
	stale := s.Timestamp+int64(StaleAfter/time.Second) < ts
	rebuild := newBlock || newTxs || stale

	// Snapshot before any mutation so late submissions see the job exactly
	// as it was broadcast.
	var prior *TemplateState
	if rebuild {
		prior = s.Clone()
	}

	s.CurrentCommitment = tmpl.DefaultWitnessCommitment
	s.Target = tmpl.Target
	s.Bits = tmpl.Bits
	s.Version = tmpl.Version
	s.PrevHash = util.ReverseBytes(prevRaw)

	if newBlock {
		updateSeed(s, tmpl.Height)
		s.Height = tmpl.Height
		e.logger.Debug("new block, updating state", zap.Int64("height", s.Height))
	}

	if rebuild {
		tx, txid := BuildCoinbase(s.Height, CoinbasePayouts{
			MinerValue:        tmpl.CoinbaseValue,
			MinerH160:         miner[:],
			CommunityValue:    tmpl.CommunityValue,
			CommunityH160:     communityH160[:],
			WitnessCommitment: witness,
		})
		s.CoinbaseTx = tx
		s.CoinbaseTxID = txid

		txids := make([][32]byte, 0, len(tmpl.Transactions)+1)
		txids = append(txids, txid)
		s.ExternalTxs = s.ExternalTxs[:0]
		for _, t := range tmpl.Transactions {
			raw, err := util.HexToBytes(t.TxID)
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("bad txid %q in template", t.TxID)
			}
			var id [32]byte
			copy(id[:], util.ReverseBytes(raw))
			txids = append(txids, id)
			s.ExternalTxs = append(s.ExternalTxs, t.Data)
		}
		merkle := util.MerkleRoot(txids)

		header := bytes.Buffer{}
		header.Write(util.Uint32LE(uint32(s.Version)))
		header.Write(s.PrevHash)
		header.Write(merkle[:])
		header.Write(util.Uint32LE(uint32(ts)))
		header.Write(util.ReverseBytes(bitsRaw))
		header.Write(util.Uint32LE(uint32(s.Height)))
		s.Header = header.Bytes()
		s.HeaderHash = util.HashToHex(util.DoubleSHA256(s.Header))
		s.Timestamp = ts
		s.JobCounter++

		e.history.Add(prior)

		metrics.TemplateHeight.Set(float64(s.Height))

		if e.showJobs {
			e.logger.Info("new job",
				zap.String("job", s.JobID()),
				zap.String("diff", util.FormatDifficulty(s.Target)),
				zap.Int64("height", s.Height),
			)
		}

		job := s.job()
		for sub := range e.allSessions {
			sub.NotifyJob(job)
			metrics.JobsBroadcast.Inc()
		}
	}

	// Newly subscribed sessions get the current job even when this tick did
	// not rebuild; this is how a fresh miner receives its first work.
	if len(e.newSessions) > 0 {
		job := s.job()
		for sub := range e.newSessions {
			e.allSessions[sub] = struct{}{}
			sub.NotifyJob(job)
			metrics.JobsBroadcast.Inc()
		}
		clear(e.newSessions)
	}

	return nil
}

// knownNonFatal are submitblock verdicts that do not indicate a broken block.
var knownNonFatal = map[string]bool{
	"inconclusive":                  true,
	"duplicate":                     true,
	"duplicate-inconclusive":        true,
	"inconclusive-not-best-prevblk": true,
}

// SubmitShare reconstructs a block from a miner's solution and posts it to
// the node. The job is resolved against the live state first, then the
// history; an unknown job still tries the live state since any share is a
// potential block. The returned height is parsed back out of the submitted
// block bytes.
func (e *Engine) SubmitShare(ctx context.Context, worker, jobID, nonceHex, mixHashHex string) (int64, error) {
	metrics.SharesSubmitted.Inc()

	nonce, err := reverseHex(util.Prune0x(nonceHex))
	if err != nil {
		return 0, fmt.Errorf("bad nonce %q: %w", nonceHex, err)
	}
	mixHash, err := reverseHex(util.Prune0x(mixHashHex))
	if err != nil {
		return 0, fmt.Errorf("bad mix hash %q: %w", mixHashHex, err)
	}

	e.mu.Lock()
	st := e.state
	if jobID != st.JobID() {
		if old := e.history.Get(jobID); old != nil && len(old.Header) == headerLen {
			e.logger.Debug("late submit resolved from history",
				zap.String("worker", worker), zap.String("job", jobID))
			st = old
		} else {
			e.logger.Error("submit for unknown job, trying live state",
				zap.String("worker", worker), zap.String("job", jobID))
		}
	}
	if len(st.Header) != headerLen {
		e.mu.Unlock()
		return 0, fmt.Errorf("no job built yet")
	}
	blockHex := st.BuildBlock(nonce, mixHash)
	height := st.Height
	jobCounter := st.JobCounter
	stateDump := st.Dump()
	e.mu.Unlock()

	verdict, err := e.rpc.SubmitBlock(ctx, blockHex)
	switch {
	case err != nil:
		metrics.BlockSubmissions.WithLabelValues("error").Inc()
		e.logger.Error("block submission failed", zap.Error(err))
	case verdict == "":
		metrics.BlockSubmissions.WithLabelValues("accepted").Inc()
	case knownNonFatal[verdict]:
		metrics.BlockSubmissions.WithLabelValues(verdict).Inc()
		e.logger.Error("block not accepted", zap.String("verdict", verdict))
	default:
		metrics.BlockSubmissions.WithLabelValues("rejected").Inc()
		e.logger.Error("block rejected", zap.String("verdict", verdict))
	}

	e.writeDump(height, jobCounter, verdict, err, stateDump)

	blockHeight, perr := ParseBlockHeight(blockHex)
	if perr != nil {
		return height, nil
	}
	e.logger.Info("Found block (may or may not be accepted by the chain)",
		zap.Int64("height", blockHeight), zap.String("worker", worker))
	return blockHeight, nil
}

// reverseHex decodes hex, reverses the bytes, and re-encodes. Miners send
// nonce and mix hash in display order; the block wants them reversed.
func reverseHex(s string) (string, error) {
	b, err := util.HexToBytes(s)
	if err != nil {
		return "", err
	}
	return util.BytesToHex(util.ReverseBytes(b)), nil
}
