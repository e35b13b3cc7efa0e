package cache

import (
	"sync"
	"time"

	"github.com/coldbyte/cacheproxy/internal/msgbuffer"
	"go.uber.org/atomic"
)

// Entry is a keyed cache slot: a fingerprint bound to one Message
// buffer, as described in spec.md §3 ("Cache entry"). It also doubles
// as a hash-chain node - next, guarded by mu, links it to the following
// entry in its bucket.
//
// lastAccess is an atomic.Int64 (UnixNano) rather than a plain field
// under mu, per the spec's explicit allowance to collapse last_access
// to an atomically-stored timestamp so Cache.Get can refresh it while
// only holding a read lock. Grounded on go.uber.org/atomic usage in the
// teacher's friggdb/pool.Pool (atomic.Int32/Bool/Error counters).
type Entry struct {
	fingerprint []byte
	buf         *msgbuffer.Buffer

	mu      sync.RWMutex // guards next and deleted
	next    *Entry
	deleted bool

	lastAccess atomic.Int64
}

func newEntry(fingerprint []byte) *Entry {
	fp := make([]byte, len(fingerprint))
	copy(fp, fingerprint)

	e := &Entry{
		fingerprint: fp,
		buf:         msgbuffer.New(),
	}
	e.touch()
	return e
}

// Buffer returns the entry's owned Message buffer.
func (e *Entry) Buffer() *msgbuffer.Buffer {
	return e.buf
}

// Fingerprint returns a copy of the entry's key bytes.
func (e *Entry) Fingerprint() []byte {
	out := make([]byte, len(e.fingerprint))
	copy(out, e.fingerprint)
	return out
}

// IsDeleted reports whether the entry has been logically removed from
// the cache. A consumer that observes true after reaching this entry
// through a stale pointer must treat it as absent.
func (e *Entry) IsDeleted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deleted
}

func (e *Entry) touch() {
	e.lastAccess.Store(time.Now().UnixNano())
}

func (e *Entry) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastAccess.Load()))
}
