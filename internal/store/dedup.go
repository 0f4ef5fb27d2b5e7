package store

import (
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// DedupGuard remembers which match ids have already been flushed to the
// rating history. The match feed consults it so that a late-arriving
// second version of an already-rated match (the analytical store
// deduplicates lazily, between compactions) is never fed to the engine
// twice. Only flushed ids are marked: an aborted pass leaves its matches
// unmarked and they replay normally.
type DedupGuard struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewDedupGuard sizes the filter for the expected match volume between
// process restarts. ~5M matches at 0.1% false positives.
func NewDedupGuard() *DedupGuard {
	return &DedupGuard{
		filter: bloom.NewWithEstimates(5000000, 0.001),
	}
}

// MarkFlushed records match ids whose rating rows were durably written.
func (g *DedupGuard) MarkFlushed(matchIDs []uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range matchIDs {
		g.filter.AddString(strconv.FormatUint(id, 10))
	}
}

// Seen reports whether a match id was already flushed (modulo the
// filter's false-positive rate).
func (g *DedupGuard) Seen(matchID uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filter.TestString(strconv.FormatUint(matchID, 10))
}

// Reset clears the filter.
func (g *DedupGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filter = bloom.NewWithEstimates(5000000, 0.001)
}
