package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityZeroValueIsUnset(t *testing.T) {
	var c Identity[uint64]
	v, ok := c.Get()
	assert.False(t, ok)
	assert.Zero(t, v)

	s, ok := NewIdentity[string]().Get()
	assert.False(t, ok)
	assert.Empty(t, s)
}

func TestIdentitySetOnce(t *testing.T) {
	c := NewIdentity[uint64]()

	assert.Equal(t, uint64(7), c.Set(7))
	assert.Equal(t, uint64(7), c.Set(9), "second set must return the resident value")
	assert.Equal(t, uint64(7), c.Set(7))

	v, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(7), v)
}

func TestIdentityZeroIsAValidValue(t *testing.T) {
	c := NewIdentity[int]()
	assert.Equal(t, 0, c.Set(0))
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, c.Set(5))
}

func TestIdentityBindOutcome(t *testing.T) {
	c := NewIdentity[string]()

	v, out := c.Bind("a")
	assert.Equal(t, "a", v)
	assert.Equal(t, Bound, out)

	v, out = c.Bind("a")
	assert.Equal(t, "a", v)
	assert.Equal(t, AlreadyBound, out)

	v, out = c.Bind("b")
	assert.Equal(t, "a", v)
	assert.Equal(t, Conflict, out)
}

func TestBindOutcomeString(t *testing.T) {
	assert.Equal(t, "bound", Bound.String())
	assert.Equal(t, "already_bound", AlreadyBound.String())
	assert.Equal(t, "conflict", Conflict.String())
	assert.Equal(t, "unknown", BindOutcome(42).String())
}

func TestIdentityConcurrentSetSingleWinner(t *testing.T) {
	const (
		rounds  = 200
		writers = 32
	)
	for round := 0; round < rounds; round++ {
		c := NewIdentity[uint64]()
		start := make(chan struct{})
		results := make([]uint64, writers)
		outcomes := make([]BindOutcome, writers)

		wg := conc.NewWaitGroup()
		for i := 0; i < writers; i++ {
			i := i
			wg.Go(func() {
				<-start
				results[i], outcomes[i] = c.Bind(uint64(i + 1))
			})
		}
		close(start)
		wg.Wait()

		final, ok := c.Get()
		require.True(t, ok)
		require.GreaterOrEqual(t, final, uint64(1))
		require.LessOrEqual(t, final, uint64(writers))

		bound := 0
		for i, r := range results {
			require.Equal(t, final, r, "writer %d saw a value other than the winner", i)
			switch outcomes[i] {
			case Bound:
				bound++
				require.Equal(t, uint64(i+1), final)
			case Conflict:
				require.NotEqual(t, uint64(i+1), final)
			}
		}
		require.Equal(t, 1, bound, "exactly one writer must store the value")
	}
}

func TestIdentityReadersNeverRegress(t *testing.T) {
	const (
		readers    = 16
		readsAfter = 200
	)
	for round := 0; round < 50; round++ {
		c := NewIdentity[uint64]()
		const want = uint64(0xDEADBEEF)

		var (
			violations atomic.Int64
			observed   atomic.Int64
			start      sync.WaitGroup
		)
		start.Add(readers)

		// Each reader spins until it sees the value, then keeps reading a
		// fixed number of times so a regression to unset would be caught.
		wg := conc.NewWaitGroup()
		for i := 0; i < readers; i++ {
			wg.Go(func() {
				start.Done()
				after := 0
				for after < readsAfter {
					v, ok := c.Get()
					if !ok {
						if after > 0 {
							violations.Add(1)
						}
						continue
					}
					if v != want {
						violations.Add(1)
					}
					after++
				}
				observed.Add(1)
			})
		}

		start.Wait()
		assert.Equal(t, want, c.Set(want))
		wg.Wait()

		require.Zero(t, violations.Load())
		require.Equal(t, int64(readers), observed.Load(), "every reader saw the value")
	}
}

type pair struct{ a, b uint64 }

func TestIdentityMultiWordValueIsNeverTorn(t *testing.T) {
	c := NewIdentity[pair]()
	start := make(chan struct{})
	var torn atomic.Int64

	wg := conc.NewWaitGroup()
	for i := 0; i < 8; i++ {
		n := uint64(i + 1)
		wg.Go(func() {
			<-start
			got := c.Set(pair{a: n, b: n})
			if got.a != got.b {
				torn.Add(1)
			}
		})
	}
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			<-start
			for j := 0; j < 10000; j++ {
				if v, ok := c.Get(); ok && v.a != v.b {
					torn.Add(1)
				}
			}
		})
	}
	close(start)
	wg.Wait()

	assert.Zero(t, torn.Load())
	v, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, v.a, v.b)
}
