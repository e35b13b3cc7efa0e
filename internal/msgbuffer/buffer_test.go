package msgbuffer

import (
	"sync"
	"testing"
	"time"

	"github.com/coldbyte/cacheproxy/internal/cacheerr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAppendThenFinalizeIsVisibleToReader(t *testing.T) {
	b := New()

	require.NoError(t, b.Append([]byte("hello ")))
	require.NoError(t, b.Append([]byte("world")))
	b.Finalize()

	data, state, err := b.ReadFrom(0)
	require.NoError(t, err)
	require.Equal(t, StateComplete, state)
	require.Equal(t, "hello world", string(data))
}

func TestAppendAfterFinalizeFails(t *testing.T) {
	b := New()
	b.Finalize()
	require.ErrorIs(t, b.Append([]byte("too late")), cacheerr.ErrAlreadyFinalized)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	b := New()
	require.NoError(t, b.Append([]byte("x")))
	b.Finalize()
	b.Finalize() // must not panic, must not change state
	require.Equal(t, StateComplete, b.State())
}

func TestFailAfterFinalizeIsNoOp(t *testing.T) {
	b := New()
	b.Finalize()
	b.Fail(cacheerr.ErrUpstreamFailure)
	require.Equal(t, StateComplete, b.State())
}

// TestByteExactFanOut covers testable property 2 from spec.md §8: N
// concurrent consumers of the same entry see identical byte sequences
// equal to the producer's append sequence.
func TestByteExactFanOut(t *testing.T) {
	b := New()
	const chunks = 50
	const consumers = 8

	var want []byte
	for i := 0; i < chunks; i++ {
		want = append(want, byte(i))
	}

	var wg sync.WaitGroup
	got := make([][]byte, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			offset := 0
			var out []byte
			for {
				data, state, _ := b.ReadFrom(offset)
				out = append(out, data...)
				offset += len(data)
				if state != StateProducing {
					break
				}
			}
			got[idx] = out
		}(i)
	}

	for i := 0; i < chunks; i++ {
		require.NoError(t, b.Append([]byte{byte(i)}))
		time.Sleep(time.Millisecond)
	}
	b.Finalize()

	wg.Wait()
	for i, g := range got {
		require.Equal(t, want, g, "consumer %d", i)
	}
}

func TestReadFromUnblocksOnFail(t *testing.T) {
	b := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, state, err := b.ReadFrom(0)
		require.Equal(t, StateError, state)
		require.ErrorIs(t, err, cacheerr.ErrUpstreamFailure)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Fail(cacheerr.ErrUpstreamFailure)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadFrom did not unblock after Fail")
	}
}
