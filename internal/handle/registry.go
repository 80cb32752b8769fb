// Package handle maps opaque tokens to live values through a
// generation-checked slot table.
//
// Asynchronous callbacks (socket readers, writers, timers) carry a Token
// instead of a pointer.  When the callback finally runs on the event loop
// it calls Resolve; if the value has been removed in the meantime, or its
// slot has since been handed to a different value, Resolve reports false
// and the callback becomes a no-op.
//
// A Registry is not safe for concurrent use.  It is owned by the event
// loop goroutine, which is the only place tokens are resolved.
package handle

import "fmt"

// Token addresses one value stored in a Registry.  The high 32 bits hold
// the slot generation, the low 32 bits the slot index.  The zero Token
// never resolves.
type Token uint64

func makeToken(gen, idx uint32) Token { return Token(uint64(gen)<<32 | uint64(idx)) }

// Generation returns the generation stamped into t.
func (t Token) Generation() uint32 { return uint32(t >> 32) }

// Index returns the slot index stamped into t.
func (t Token) Index() uint32 { return uint32(t) }

func (t Token) String() string {
	return fmt.Sprintf("%d/%d", t.Index(), t.Generation())
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Registry is a slot table with per-slot generation counters.
type Registry[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// New returns an empty registry with room for sizeHint values before the
// slot table grows.
func New[T any](sizeHint int) *Registry[T] {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Registry[T]{slots: make([]slot[T], 0, sizeHint)}
}

// Insert stores v in a free slot and returns the token addressing it.
func (r *Registry[T]) Insert(v T) Token {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{gen: 1})
	}

	s := &r.slots[idx]
	s.live = true
	s.val = v
	r.live++
	return makeToken(s.gen, idx)
}

// Resolve returns the value addressed by t.  It reports false when t was
// never issued, has been removed, or its slot now belongs to a later value.
func (r *Registry[T]) Resolve(t Token) (T, bool) {
	var zero T
	idx := t.Index()
	if t == 0 || int(idx) >= len(r.slots) {
		return zero, false
	}
	s := &r.slots[idx]
	if !s.live || s.gen != t.Generation() {
		return zero, false
	}
	return s.val, true
}

// Remove releases the slot addressed by t.  The slot generation is bumped
// so every outstanding copy of t stops resolving.  Remove reports false if
// t did not resolve.
func (r *Registry[T]) Remove(t Token) bool {
	if _, ok := r.Resolve(t); !ok {
		return false
	}
	idx := t.Index()
	s := &r.slots[idx]

	var zero T
	s.val = zero
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.live--
	r.free = append(r.free, idx)
	return true
}

// Len returns the number of live values.
func (r *Registry[T]) Len() int { return r.live }

// Range calls fn for every live value in slot order until fn returns
// false.  fn must not insert into the registry; removing the current
// token is allowed.
func (r *Registry[T]) Range(fn func(Token, T) bool) {
	for i := range r.slots {
		s := &r.slots[i]
		if !s.live {
			continue
		}
		if !fn(makeToken(s.gen, uint32(i)), s.val) {
			return
		}
	}
}
