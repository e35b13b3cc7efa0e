// Package msgbuffer implements the append-only, producer/multi-consumer
// byte buffer described in spec.md §3 ("Message buffer"): a growable
// container for one HTTP message, guarded by a mutex and a broadcast
// condition, immutable once it reaches a terminal state.
//
// The locking/waiting shape is grounded on the teacher's contextCond
// helper in modules/frontend/queue (a sync.Cond wrapped to also respect
// context cancellation); here the wait loop is inlined into ReadFrom
// since Buffer has no notion of a caller context of its own - the
// caller decides whether to keep calling ReadFrom at all.
package msgbuffer

import (
	"sync"

	"github.com/coldbyte/cacheproxy/internal/cacheerr"
)

// State is the lifecycle stage of a Buffer.
type State int

const (
	// StateProducing means the buffer may still grow.
	StateProducing State = iota
	// StateComplete means the producer finished successfully; the byte
	// slice is final.
	StateComplete
	// StateError means the producer aborted; Err() holds the reason.
	StateError
)

func (s State) String() string {
	switch s {
	case StateProducing:
		return "producing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Buffer is a growable byte container with a completion flag, safe for
// one producer and any number of concurrent consumers. The zero value is
// not usable; construct with New.
type Buffer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	data  []byte
	state State
	err   error
}

// New returns an empty Buffer in the producing state.
func New() *Buffer {
	b := &Buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Append grows the buffer and wakes any consumer blocked in ReadFrom.
// It is producer-only and fails with ErrAlreadyFinalized once the
// buffer has reached a terminal state.
func (b *Buffer) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateProducing {
		return cacheerr.ErrAlreadyFinalized
	}
	if len(p) == 0 {
		return nil
	}

	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return nil
}

// Finalize marks the buffer complete. Idempotent: calling it again, or
// calling it after Fail, is a no-op.
func (b *Buffer) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateProducing {
		return
	}
	b.state = StateComplete
	b.cond.Broadcast()
}

// Fail marks the buffer as errored with reason. Idempotent in the same
// way as Finalize: only the first terminal transition sticks.
func (b *Buffer) Fail(reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateProducing {
		return
	}
	b.state = StateError
	b.err = reason
	b.cond.Broadcast()
}

// ReadFrom returns every byte appended since offset, plus the buffer's
// current state. If no new bytes are available and the buffer is still
// producing, ReadFrom blocks on the append/finalize condition and
// retries until there is something to report. Callers drive a simple
// loop: write the returned slice to their destination, advance their
// offset by its length, and call ReadFrom again until the state is no
// longer StateProducing.
func (b *Buffer) ReadFrom(offset int) ([]byte, State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for offset >= len(b.data) && b.state == StateProducing {
		b.cond.Wait()
	}

	if offset > len(b.data) {
		offset = len(b.data)
	}

	out := make([]byte, len(b.data)-offset)
	copy(out, b.data[offset:])
	return out, b.state, b.err
}

// Len returns the number of bytes currently held, for diagnostics and
// tests. It does not block.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// State reports the current lifecycle stage without blocking.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
