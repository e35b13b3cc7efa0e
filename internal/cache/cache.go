// Package cache implements the fixed-bucket hash table described in
// spec.md §4.3: per-entry read/write locking, last-access timestamps,
// and a background evictor that removes entries idle past a TTL.
//
// Locking discipline follows the corrected version of the source's
// pitfalls called out in spec.md §4.3/§9: lock-coupling for traversal
// (Get), and `deleted` set before unlink rather than after. Delete holds
// the bucket's write lock for its whole walk, which serializes it with
// Add and other Deletes on that bucket; it takes the victim's write lock
// to set `deleted`, releases it, and then takes the predecessor's write
// lock to repoint next, so the two node locks are never held together.
// Each bucket additionally carries its own head-pointer lock - the
// source's delete sets the bucket head to nil even when a successor
// exists; this implementation resolves that open question by always
// setting head = victim.next under the bucket's write lock.
package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/coldbyte/cacheproxy/internal/cacheerr"
	"github.com/coldbyte/cacheproxy/internal/metrics"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
)

type bucket struct {
	mu   sync.RWMutex
	head *Entry
}

// Cache is a fixed-capacity, fixed-bucket hash table of Entry values.
type Cache struct {
	buckets []bucket
	ttl     time.Duration
	logger  log.Logger
	metrics *metrics.Metrics

	evictor services.Service
}

// New constructs a Cache with the given bucket count and eviction TTL.
// The evictor goroutine is not started until Start is called.
func New(capacity int, ttl time.Duration, logger log.Logger, m *metrics.Metrics) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{
		buckets: make([]bucket, capacity),
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}
	c.evictor = services.NewBasicService(nil, c.runEvictor, c.stoppingEvictor)
	return c
}

// Start launches the background evictor and blocks until it reports
// running.
func (c *Cache) Start(ctx context.Context) error {
	return services.StartAndAwaitRunning(ctx, c.evictor)
}

// Destroy stops the evictor and drains every bucket chain, per spec.md
// §4.3's Cache.destroy() contract.
func (c *Cache) Destroy(ctx context.Context) error {
	err := services.StopAndAwaitTerminated(ctx, c.evictor)
	for i := range c.buckets {
		c.buckets[i].mu.Lock()
		c.buckets[i].head = nil
		c.buckets[i].mu.Unlock()
	}
	return err
}

func (c *Cache) bucketFor(fingerprint []byte) *bucket {
	return &c.buckets[c.bucketIndex(fingerprint)]
}

// bucketIndex implements the rolling polynomial hash from spec.md §4.3:
// h = (h*31 + byte) mod capacity, starting at zero. It is intentionally
// weak; collisions are handled by chaining.
func (c *Cache) bucketIndex(fingerprint []byte) int {
	var h uint64
	capacity := uint64(len(c.buckets))
	for _, b := range fingerprint {
		h = (h*31 + uint64(b)) % capacity
	}
	return int(h)
}

// Get walks the target bucket using lock-coupling, refreshing
// last_access on a match. It never fails; absence is reported via ok.
func (c *Cache) Get(fingerprint []byte) (entry *Entry, ok bool) {
	b := c.bucketFor(fingerprint)

	b.mu.RLock()
	cur := b.head
	b.mu.RUnlock()

	if cur == nil {
		return nil, false
	}

	cur.mu.RLock()
	for {
		if !cur.deleted && bytes.Equal(cur.fingerprint, fingerprint) {
			cur.touch()
			cur.mu.RUnlock()
			return cur, true
		}
		next := cur.next
		if next == nil {
			cur.mu.RUnlock()
			return nil, false
		}
		next.mu.RLock()
		cur.mu.RUnlock()
		cur = next
	}
}

// Add installs a newly constructed entry for fingerprint, unless a
// concurrent producer already holds one - in which case the existing
// entry is returned and installed is false, and the caller should fall
// back to the hit path exactly as spec.md §4.5 describes. The check and
// the insert happen under the same bucket write-lock critical section,
// which is how this implementation satisfies §4.3's requirement that
// "the caller MUST ensure uniqueness by a prior get under the same
// critical section": the critical section is Add's own.
func (c *Cache) Add(fingerprint []byte) (entry *Entry, installed bool) {
	if fingerprint == nil {
		return nil, false
	}

	b := c.bucketFor(fingerprint)

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.head
	for cur != nil {
		cur.mu.RLock()
		match := !cur.deleted && bytes.Equal(cur.fingerprint, fingerprint)
		next := cur.next
		if match {
			cur.touch()
		}
		cur.mu.RUnlock()
		if match {
			return cur, false
		}
		cur = next
	}

	e := newEntry(fingerprint)
	e.next = b.head
	b.head = e
	if c.metrics != nil {
		c.metrics.CacheEntries.Inc()
	}
	return e, true
}

// Delete removes the entry for fingerprint. It walks the bucket
// acquiring each node's write lock (draining any in-flight readers
// before proceeding), sets deleted, then unlinks - swinging the bucket
// head or the predecessor's next pointer as appropriate. Returns
// ErrNotFound if no matching, non-deleted entry exists.
func (c *Cache) Delete(fingerprint []byte) error {
	b := c.bucketFor(fingerprint)

	b.mu.Lock()
	defer b.mu.Unlock()

	var prev *Entry
	cur := b.head
	for cur != nil {
		cur.mu.Lock()
		if !cur.deleted && bytes.Equal(cur.fingerprint, fingerprint) {
			cur.deleted = true
			next := cur.next
			cur.mu.Unlock()

			if prev == nil {
				b.head = next
			} else {
				prev.mu.Lock()
				prev.next = next
				prev.mu.Unlock()
			}

			if c.metrics != nil {
				c.metrics.CacheEntries.Dec()
			}
			return nil
		}
		next := cur.next
		cur.mu.Unlock()
		prev = cur
		cur = next
	}

	return cacheerr.ErrNotFound
}

// sweepInterval is min(TTL/2, 1s), per spec.md §4.3.
func (c *Cache) sweepInterval() time.Duration {
	interval := c.ttl / 2
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	return interval
}

func (c *Cache) runEvictor(ctx context.Context) error {
	ticker := time.NewTicker(c.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache) stoppingEvictor(_ error) error {
	level.Info(c.logger).Log("thread", "evictor", "msg", "evictor stopped")
	return nil
}

// sweep performs one pass over every bucket, collecting idle
// fingerprints under read locks and deleting them afterward so the
// delete path's own locking (not the sweep) owns the unlink.
func (c *Cache) sweep(now time.Time) {
	removed := 0
	for i := range c.buckets {
		b := &c.buckets[i]

		b.mu.RLock()
		cur := b.head
		b.mu.RUnlock()

		var idle [][]byte
		for cur != nil {
			cur.mu.RLock()
			if !cur.deleted && cur.idleSince(now) >= c.ttl {
				idle = append(idle, cur.Fingerprint())
			}
			next := cur.next
			cur.mu.RUnlock()
			cur = next
		}

		for _, fp := range idle {
			if err := c.Delete(fp); err == nil {
				removed++
				if c.metrics != nil {
					c.metrics.CacheEvictions.Inc()
				}
			}
		}
	}

	if removed > 0 {
		level.Info(c.logger).Log("thread", "evictor", "msg", "sweep removed idle entries", "count", removed)
	}
}
