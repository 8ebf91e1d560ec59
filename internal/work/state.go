package work

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/meowcoin/stratum-proxy/pkg/util"
)

// headerLen is the serialized header length before the miner's nonce and mix
// hash are appended: version(4) prev(32) merkle(32) time(4) bits(4) height(4).
const headerLen = 80

// TemplateState is a snapshot of the block under construction plus the
// derived stratum job fields. The engine owns the live instance; deep copies
// of past instances live in the job history.
type TemplateState struct {
	Height    int64 // -1 until the first template arrives
	Version   int32
	Bits      string // 8 hex chars, node byte order
	Target    string // 64 hex chars
	PrevHash  []byte // 32 bytes, internal byte order
	Timestamp int64  // wall clock of the last header rebuild
	SeedHash  []byte // 32-byte KAWPOW epoch seed

	// Last-seen witness commitment; detects new transactions without a new
	// block.
	CurrentCommitment string

	CoinbaseTx   []byte   // segwit serialization
	CoinbaseTxID [32]byte // dsha256 of the non-witness serialization
	ExternalTxs  []string // raw tx hex, node order preserved

	Header     []byte // 80 bytes
	HeaderHash string // reversed dsha256 hex

	JobCounter uint64
}

// NewTemplateState returns an uninitialized state.
func NewTemplateState() *TemplateState {
	return &TemplateState{
		Height:    -1,
		Timestamp: -1,
	}
}

// JobID returns the stratum job id for this state: the job counter in
// lower-case hex, no prefix, no padding.
func (s *TemplateState) JobID() string {
	return strconv.FormatUint(s.JobCounter, 16)
}

// Clone returns a deep copy of the template fields. Snapshots stored in the
// job history must stay value-equal while the live state mutates.
func (s *TemplateState) Clone() *TemplateState {
	c := *s
	c.PrevHash = append([]byte(nil), s.PrevHash...)
	c.SeedHash = append([]byte(nil), s.SeedHash...)
	c.CoinbaseTx = append([]byte(nil), s.CoinbaseTx...)
	c.Header = append([]byte(nil), s.Header...)
	c.ExternalTxs = append([]string(nil), s.ExternalTxs...)
	return &c
}

// BuildBlock assembles the full submission hex from this state and the
// miner's solution. Both nonce and mix hash must already be hex in header
// byte order (8 and 32 bytes respectively).
func (s *TemplateState) BuildBlock(nonceHex, mixHashHex string) string {
	var b strings.Builder
	b.WriteString(hex.EncodeToString(s.Header))
	b.WriteString(nonceHex)
	b.WriteString(mixHashHex)
	b.WriteString(hex.EncodeToString(util.WriteVarInt(uint64(len(s.ExternalTxs) + 1))))
	b.WriteString(hex.EncodeToString(s.CoinbaseTx))
	for _, tx := range s.ExternalTxs {
		b.WriteString(tx)
	}
	return b.String()
}

// Dump renders the state as text for submission history files.
func (s *TemplateState) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Height:\t\t%d\n", s.Height)
	fmt.Fprintf(&b, "Version:\t%d\n", s.Version)
	fmt.Fprintf(&b, "Bits:\t\t%s\n", s.Bits)
	fmt.Fprintf(&b, "Target:\t\t%s\n", s.Target)
	fmt.Fprintf(&b, "Prev hash:\t%x\n", s.PrevHash)
	fmt.Fprintf(&b, "Seed hash:\t%x\n", s.SeedHash)
	fmt.Fprintf(&b, "Header:\t\t%x\n", s.Header)
	fmt.Fprintf(&b, "Header hash:\t%s\n", s.HeaderHash)
	fmt.Fprintf(&b, "Coinbase:\t%x\n", s.CoinbaseTx)
	fmt.Fprintf(&b, "Coinbase txid:\t%x\n", s.CoinbaseTxID)
	fmt.Fprintf(&b, "External txs:\t%d\n", len(s.ExternalTxs))
	fmt.Fprintf(&b, "Job counter:\t%d\n", s.JobCounter)
	return b.String()
}

// Job is the per-rebuild notification payload broadcast to sessions.
type Job struct {
	ID         string
	HeaderHash string
	SeedHash   string
	Target     string
	Bits       string
	Height     int64
	Clean      bool
}

// job captures the current state as a broadcastable Job.
func (s *TemplateState) job() *Job {
	return &Job{
		ID:         s.JobID(),
		HeaderHash: s.HeaderHash,
		SeedHash:   hex.EncodeToString(s.SeedHash),
		Target:     s.Target,
		Bits:       s.Bits,
		Height:     s.Height,
		Clean:      true,
	}
}

// ParseBlockHeight reads the height from the fixed little-endian offset of a
// serialized block hex (after version, prev hash, merkle root, time, bits).
func ParseBlockHeight(blockHex string) (int64, error) {
	const start = (4 + 32 + 32 + 4 + 4) * 2
	if len(blockHex) < start+8 {
		return 0, fmt.Errorf("block hex too short: %d chars", len(blockHex))
	}
	raw, err := hex.DecodeString(blockHex[start : start+8])
	if err != nil {
		return 0, fmt.Errorf("invalid height bytes: %w", err)
	}
	return int64(binary.LittleEndian.Uint32(raw)), nil
}
