package work

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/meowcoin/stratum-proxy/internal/bitcoin"
	"github.com/meowcoin/stratum-proxy/testutil"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// recordingSub collects job notifications in delivery order.
type recordingSub struct {
	mu   sync.Mutex
	jobs []*Job
}

func (r *recordingSub) NotifyJob(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingSub) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Job(nil), r.jobs...)
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *bitcoin.MockRPC) {
	t.Helper()
	mock := bitcoin.NewMockRPC()
	mock.SetTemplate(testutil.SampleBlockTemplate())
	return NewEngine(mock, opts, testLogger()), mock
}

func TestUpdateNoopWithoutAuthorize(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	sub := &recordingSub{}
	engine.RegisterSession(sub)

	if err := engine.update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}

	if engine.CurrentJobID() != "0" {
		t.Error("no job should be built before the first authorize")
	}
	if len(sub.Jobs()) != 0 {
		t.Error("sessions must not be promoted before the first authorize")
	}
}

func TestFirstUpdateBuildsAndBroadcasts(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	sub := &recordingSub{}

	extranonce := engine.RegisterSession(sub)
	if extranonce != "0001" {
		t.Errorf("extranonce = %s, want 0001", extranonce)
	}

	engine.Authorize(testutil.MinerH160())
	if err := engine.update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}

	jobs := sub.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.ID != "1" {
		t.Errorf("job id = %s, want 1", job.ID)
	}
	if job.Height != 100000 {
		t.Errorf("height = %d, want 100000", job.Height)
	}
	if job.Bits != "1d00ffff" {
		t.Errorf("bits = %s", job.Bits)
	}
	if len(job.HeaderHash) != 64 || len(job.SeedHash) != 64 {
		t.Errorf("hash lengths wrong: header=%d seed=%d", len(job.HeaderHash), len(job.SeedHash))
	}
	if !job.Clean {
		t.Error("jobs are always broadcast clean")
	}

	// Height 100000 is epoch 13
	if job.SeedHash != hex.EncodeToString(SeedHash(100000)) {
		t.Error("seed hash not derived from the template height")
	}
}

func TestSteadyStateDoesNotRebroadcast(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	sub := &recordingSub{}
	engine.RegisterSession(sub)
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := engine.update(ctx); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	if got := len(sub.Jobs()); got != 1 {
		t.Errorf("got %d jobs for an unchanged template, want 1", got)
	}
	if engine.CurrentJobID() != "1" {
		t.Errorf("job counter advanced without a rebuild: %s", engine.CurrentJobID())
	}
}

func TestNewCommitmentTriggersRebuild(t *testing.T) {
	engine, mock := newTestEngine(t, Options{})
	sub := &recordingSub{}
	engine.RegisterSession(sub)
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	tmpl := testutil.SampleBlockTemplate()
	tmpl.DefaultWitnessCommitment = "6a24aa21a9ed" + strings.Repeat("00", 32)
	tmpl.Transactions = []bitcoin.TemplateTransaction{{
		Data: "0100000001aa",
		TxID: strings.Repeat("12", 32),
	}}
	mock.SetTemplate(tmpl)

	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	jobs := sub.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[1].ID != "2" {
		t.Errorf("second job id = %s, want 2", jobs[1].ID)
	}
	if jobs[1].HeaderHash == jobs[0].HeaderHash {
		t.Error("new transactions must change the header")
	}
}

func TestLateSubscriberPromotedNextTick(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	first := &recordingSub{}
	engine.RegisterSession(first)
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	// A session subscribing mid-flight gets the current job on the next tick
	// even though nothing rebuilt.
	late := &recordingSub{}
	if got := engine.RegisterSession(late); got != "0002" {
		t.Errorf("extranonce = %s, want 0002", got)
	}
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	if len(late.Jobs()) != 1 {
		t.Fatalf("late subscriber got %d jobs, want 1", len(late.Jobs()))
	}
	if late.Jobs()[0].ID != "1" {
		t.Errorf("late subscriber job id = %s, want 1", late.Jobs()[0].ID)
	}
	if len(first.Jobs()) != 1 {
		t.Error("existing session must not be re-notified without a rebuild")
	}
}

func TestAuthorizeIsWriteOnce(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	first := testutil.MinerH160()
	engine.Authorize(first)

	var second [20]byte
	for i := range second {
		second[i] = 0x55
	}
	engine.Authorize(second)

	got, ok := engine.MinerH160()
	if !ok || got != first {
		t.Error("payout address must never change after the first authorize")
	}
}

func TestSubmitShareLiveJob(t *testing.T) {
	engine, mock := newTestEngine(t, Options{})
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	height, err := engine.SubmitShare(ctx, "rig0", "1", "0x0102030405060708", "0x"+strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	if height != 100000 {
		t.Errorf("height = %d, want 100000", height)
	}

	subs := mock.Submissions()
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	block := subs[0]

	// 76-byte header, then the byte-reversed nonce and mix hash
	if len(block) < 152+16+64 {
		t.Fatal("block too short")
	}
	if block[152:152+16] != "0807060504030201" {
		t.Errorf("nonce not reversed: %s", block[152:152+16])
	}

	parsed, err := ParseBlockHeight(block)
	if err != nil || parsed != 100000 {
		t.Errorf("submitted block height = %d (%v)", parsed, err)
	}
}

func TestSubmitShareFromHistory(t *testing.T) {
	engine, mock := newTestEngine(t, Options{})
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}
	oldHeaderHex := func() string {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return hex.EncodeToString(engine.state.Header)
	}()

	// Advance to job 2 so job 1 only exists in the history
	tmpl := testutil.SampleBlockTemplate()
	tmpl.Height = 100001
	tmpl.PreviousBlockHash = strings.Repeat("22", 32)
	mock.SetTemplate(tmpl)
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}
	if engine.CurrentJobID() != "2" {
		t.Fatalf("live job = %s, want 2", engine.CurrentJobID())
	}

	if _, err := engine.SubmitShare(ctx, "rig0", "1", strings.Repeat("00", 8), strings.Repeat("00", 32)); err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}

	subs := mock.Submissions()
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	if !strings.HasPrefix(subs[0], oldHeaderHex) {
		t.Error("late submit must be built from the historical snapshot")
	}
}

func TestSubmitShareUnknownJobUsesLiveState(t *testing.T) {
	engine, mock := newTestEngine(t, Options{})
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.SubmitShare(ctx, "rig0", "ffff", strings.Repeat("00", 8), strings.Repeat("00", 32)); err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	if len(mock.Submissions()) != 1 {
		t.Error("unknown job should still submit with the live state")
	}
}

func TestSubmitShareRejectVerdictIsNonFatal(t *testing.T) {
	engine, mock := newTestEngine(t, Options{})
	engine.Authorize(testutil.MinerH160())
	mock.SubmitVerdict = "duplicate"

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.SubmitShare(ctx, "rig0", "1", strings.Repeat("00", 8), strings.Repeat("00", 32)); err != nil {
		t.Errorf("known non-fatal verdict must not error: %v", err)
	}
}

func TestSubmitShareBeforeFirstJob(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	_, err := engine.SubmitShare(context.Background(), "rig0", "1", "00", "00")
	if err == nil {
		t.Error("submit before any job must error")
	}
}

func TestSubmitShareWritesDump(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, Options{DumpDir: dir})
	engine.Authorize(testutil.MinerH160())

	ctx := context.Background()
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SubmitShare(ctx, "rig0", "1", strings.Repeat("00", 8), strings.Repeat("00", 32)); err != nil {
		t.Fatal(err)
	}

	name := filepath.Join(dir, "100000_1.txt")
	body, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("dump file not written: %v", err)
	}
	if !strings.Contains(string(body), "Response:") || !strings.Contains(string(body), "Height:") {
		t.Error("dump file missing response or state sections")
	}
}

func TestReorgKeepsSeedWithinEpoch(t *testing.T) {
	engine, mock := newTestEngine(t, Options{})
	engine.Authorize(testutil.MinerH160())
	ctx := context.Background()

	tmpl := testutil.SampleBlockTemplate()
	tmpl.Height = 7510
	mock.SetTemplate(tmpl)
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}
	seedBefore := func() string {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return hex.EncodeToString(engine.state.SeedHash)
	}()

	reorg := testutil.SampleBlockTemplate()
	reorg.Height = 7505
	reorg.PreviousBlockHash = strings.Repeat("33", 32)
	mock.SetTemplate(reorg)
	if err := engine.update(ctx); err != nil {
		t.Fatal(err)
	}

	seedAfter := func() string {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return hex.EncodeToString(engine.state.SeedHash)
	}()
	if seedAfter != seedBefore {
		t.Error("in-epoch reorg must not change the seed hash")
	}
	if seedBefore != hex.EncodeToString(SeedHash(7510)) {
		t.Error("seed for epoch 1 wrong")
	}
}
