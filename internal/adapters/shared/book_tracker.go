package shared

import (
	"sync"

	"github.com/shopspring/decimal"
)

// BookLevel is one price level from a snapshot or an increment. A zero quantity removes the level.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BestLevels is the top of both sides. Empty sides are zero.
type BestLevels struct {
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
}

// Equal reports whether both tops match exactly.
func (b BestLevels) Equal(other BestLevels) bool {
	return b.BidPrice.Equal(other.BidPrice) && b.BidSize.Equal(other.BidSize) &&
		b.AskPrice.Equal(other.AskPrice) && b.AskSize.Equal(other.AskSize)
}

// BookTracker maintains a price-keyed book from a snapshot plus increments and reports
// the best bid and ask after each update. Increments before the first snapshot are discarded.
type BookTracker struct {
	mu          sync.Mutex
	initialized bool
	bids        map[string]BookLevel
	asks        map[string]BookLevel
	last        BestLevels
}

// NewBookTracker returns an empty tracker.
func NewBookTracker() *BookTracker {
	return &BookTracker{
		bids: make(map[string]BookLevel),
		asks: make(map[string]BookLevel),
	}
}

// ApplySnapshot replaces both sides. It reports the new top and whether it differs from the previous one.
func (t *BookTracker) ApplySnapshot(bids, asks []BookLevel) (BestLevels, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.bids)
	clear(t.asks)
	applyLevels(t.bids, bids)
	applyLevels(t.asks, asks)
	first := !t.initialized
	t.initialized = true
	return t.publishLocked(first)
}

// ApplyIncrement merges level changes into the book.
func (t *BookTracker) ApplyIncrement(bids, asks []BookLevel) (BestLevels, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return BestLevels{}, false
	}
	applyLevels(t.bids, bids)
	applyLevels(t.asks, asks)
	return t.publishLocked(false)
}

// Reset forgets the book; used when the socket reconnects.
func (t *BookTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.bids)
	clear(t.asks)
	t.initialized = false
	t.last = BestLevels{}
}

func (t *BookTracker) publishLocked(force bool) (BestLevels, bool) {
	best := BestLevels{}
	if level, ok := bestLevel(t.bids, true); ok {
		best.BidPrice, best.BidSize = level.Price, level.Quantity
	}
	if level, ok := bestLevel(t.asks, false); ok {
		best.AskPrice, best.AskSize = level.Price, level.Quantity
	}
	changed := force || !best.Equal(t.last)
	t.last = best
	return best, changed
}

func applyLevels(target map[string]BookLevel, levels []BookLevel) {
	for _, level := range levels {
		key := level.Price.String()
		if level.Quantity.Sign() <= 0 {
			delete(target, key)
			continue
		}
		target[key] = level
	}
}

func bestLevel(side map[string]BookLevel, highest bool) (BookLevel, bool) {
	var (
		best  BookLevel
		found bool
	)
	for _, level := range side {
		if !found {
			best, found = level, true
			continue
		}
		cmp := level.Price.Cmp(best.Price)
		if (highest && cmp > 0) || (!highest && cmp < 0) {
			best = level
		}
	}
	return best, found
}
