package session

import "sync/atomic"

// BindOutcome tells a binder how its attempt relates to the resident value.
type BindOutcome int

const (
	// Bound means this call stored the value.
	Bound BindOutcome = iota
	// AlreadyBound means the same value was already resident.
	AlreadyBound
	// Conflict means a different value is resident and the attempt was refused.
	Conflict
)

func (o BindOutcome) String() string {
	switch o {
	case Bound:
		return "bound"
	case AlreadyBound:
		return "already_bound"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Identity is a set-once cell. The zero value is unset.
//
// The value lives in a heap cell that is fully written before its pointer is
// published with a CAS and is never written again, so Get observes either
// nothing or the complete value. sync/atomic operations are sequentially
// consistent: a Load that returns the pointer is synchronized after the CAS
// that stored it.
//
// An Identity must not be copied after first use.
type Identity[K comparable] struct {
	v atomic.Pointer[K]
}

// NewIdentity returns an unset cell.
func NewIdentity[K comparable]() *Identity[K] {
	return &Identity[K]{}
}

// Get returns the resident value and true, or the zero K and false while unset.
// Wait-free.
func (c *Identity[K]) Get() (K, bool) {
	p := c.v.Load()
	if p == nil {
		var zero K
		return zero, false
	}
	return *p, true
}

// Set stores v if the cell is unset and returns the resident value,
// which is v only if this call (or an earlier one with the same value) won.
func (c *Identity[K]) Set(v K) K {
	winner, _ := c.Bind(v)
	return winner
}

// Bind is Set with the outcome reported. It never fails: a differing value
// is refused and the winner returned with Conflict.
func (c *Identity[K]) Bind(v K) (K, BindOutcome) {
	if p := c.v.Load(); p != nil {
		return resolve(*p, v)
	}
	p := new(K)
	*p = v
	if c.v.CompareAndSwap(nil, p) {
		return v, Bound
	}
	// Lost the race. The winner is published and never changes.
	return resolve(*c.v.Load(), v)
}

func resolve[K comparable](resident, attempted K) (K, BindOutcome) {
	if resident == attempted {
		return resident, AlreadyBound
	}
	return resident, Conflict
}
