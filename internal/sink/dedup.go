package sink

import (
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// Deduper drops deliveries whose content was already seen within a window.
// A non-positive window disables suppression.
type Deduper struct {
	window time.Duration

	mu         sync.Mutex
	seen       map[uint64]time.Time
	lastSweep  time.Time
	processed  uint64
	duplicates uint64
}

// NewDeduper creates a deduper for the given window
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[uint64]time.Time),
	}
}

// ShouldForward records the delivery and reports whether it is new
func (d *Deduper) ShouldForward(del *Delivery, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.processed++
	if d.window <= 0 {
		return true
	}

	// Expired entries are swept at most once per window
	if now.Sub(d.lastSweep) >= d.window {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	key := xxh3.Hash(del.content())
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		d.duplicates++
		return false
	}
	d.seen[key] = now
	return true
}

// DedupStats reports deduper counters
type DedupStats struct {
	Processed  uint64 `json:"processed"`
	Duplicates uint64 `json:"duplicates"`
	Tracked    int    `json:"tracked"`
}

// Stats returns a snapshot of the counters
func (d *Deduper) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DedupStats{
		Processed:  d.processed,
		Duplicates: d.duplicates,
		Tracked:    len(d.seen),
	}
}
