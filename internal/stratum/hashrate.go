package stratum

import (
	"sync"

	"github.com/meowcoin/stratum-proxy/internal/metrics"
)

// HashrateBook tracks miner-reported hashrates keyed by connection. Entries
// disappear with their session.
type HashrateBook struct {
	mu    sync.Mutex
	rates map[string]uint64
}

// NewHashrateBook creates an empty hashrate book.
func NewHashrateBook() *HashrateBook {
	return &HashrateBook{rates: make(map[string]uint64)}
}

// Update records the reported hashrate for a worker and returns the new
// total across all workers.
func (b *HashrateBook) Update(worker string, rate uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rates[worker] = rate
	return b.totalLocked()
}

// Remove drops a worker's entry on disconnect.
func (b *HashrateBook) Remove(worker string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rates, worker)
	b.totalLocked()
}

// Snapshot returns a copy of the per-worker rates and the total.
func (b *HashrateBook) Snapshot() (map[string]uint64, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uint64, len(b.rates))
	for k, v := range b.rates {
		out[k] = v
	}
	return out, b.totalLocked()
}

func (b *HashrateBook) totalLocked() uint64 {
	var total uint64
	for _, v := range b.rates {
		total += v
	}
	metrics.ReportedHashrate.Set(float64(total))
	return total
}
