package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

const (
	// DefaultRefreshInterval limits how often missing prices trigger a fetch.
	DefaultRefreshInterval = 60 * time.Second
	// DefaultRetention is how long cached entries are kept after their slot.
	DefaultRetention = 72 * time.Hour
)

// PriceBook caches balancing prices keyed by slot start. Lookups never touch
// the network; Refresh and RefreshMissing do.
type PriceBook struct {
	Fetcher         PriceFetcher
	RefreshInterval time.Duration
	Retention       time.Duration

	nowFunc func() time.Time

	fetchMu sync.Mutex

	mu          sync.RWMutex
	entries     map[int64]PricePoint
	lastFetch   time.Time
	lastAttempt time.Time
}

// NewPriceBook creates an empty book backed by fetcher.
func NewPriceBook(fetcher PriceFetcher, refreshInterval time.Duration) *PriceBook {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &PriceBook{
		Fetcher:         fetcher,
		RefreshInterval: refreshInterval,
		Retention:       DefaultRetention,
		nowFunc:         time.Now,
		entries:         make(map[int64]PricePoint),
	}
}

func key(start time.Time) int64 {
	return model.FloorToSlot(start).Unix()
}

func (b *PriceBook) lookup(start time.Time) (PricePoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.entries[key(start)]
	return p, ok
}

// MFFRPrice returns the cached activation price for the slot starting at start.
func (b *PriceBook) MFFRPrice(_ context.Context, start, _ time.Time) (float64, bool) {
	p, ok := b.lookup(start)
	if !ok || p.MFFRPrice == nil {
		return 0, false
	}
	return *p.MFFRPrice, true
}

// NordpoolPrice returns the cached day-ahead price for the slot starting at start.
func (b *PriceBook) NordpoolPrice(_ context.Context, start, _ time.Time) (float64, bool) {
	p, ok := b.lookup(start)
	if !ok || p.NordpoolPrice == nil {
		return 0, false
	}
	return *p.NordpoolPrice, true
}

// Has reports whether the activation price of the slot is cached.
func (b *PriceBook) Has(start time.Time) bool {
	_, ok := b.MFFRPrice(context.Background(), start, start.Add(model.SlotLength))
	return ok
}

// LastFetch returns the time of the last successful fetch.
func (b *PriceBook) LastFetch() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFetch
}

// Len returns the number of cached slots.
func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Refresh fetches the price window and merges it into the book. A point
// without an activation price never overwrites a cached one.
func (b *PriceBook) Refresh(ctx context.Context) error {
	b.fetchMu.Lock()
	defer b.fetchMu.Unlock()

	now := b.nowFunc()
	b.mu.Lock()
	b.lastAttempt = now
	b.mu.Unlock()

	points, err := b.Fetcher.FetchPrices(ctx)
	if err != nil {
		return fmt.Errorf("refresh prices from %s: %w", b.Fetcher.Name(), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range points {
		k := key(p.Start)
		old, ok := b.entries[k]
		if ok && p.MFFRPrice == nil {
			p.MFFRPrice = old.MFFRPrice
		}
		if ok && p.NordpoolPrice == nil {
			p.NordpoolPrice = old.NordpoolPrice
		}
		b.entries[k] = p
	}
	cutoff := now.Add(-b.Retention).Unix()
	for k := range b.entries {
		if k < cutoff {
			delete(b.entries, k)
		}
	}
	b.lastFetch = now
	log.Debugf("price book: merged %d points from %s, %d cached", len(points), b.Fetcher.Name(), len(b.entries))
	return nil
}

// RefreshMissing fetches only when one of the wanted slots has no activation
// price and the last attempt is older than RefreshInterval. It reports
// whether a fetch was made.
func (b *PriceBook) RefreshMissing(ctx context.Context, wanted []time.Time) (bool, error) {
	missing := 0
	for _, start := range wanted {
		if !b.Has(start) {
			missing++
		}
	}
	if missing == 0 {
		return false, nil
	}

	b.mu.RLock()
	recent := !b.lastAttempt.IsZero() && b.nowFunc().Sub(b.lastAttempt) < b.RefreshInterval
	b.mu.RUnlock()
	if recent {
		return false, nil
	}
	log.Debugf("price book: %d slot(s) missing prices, fetching", missing)
	return true, b.Refresh(ctx)
}
