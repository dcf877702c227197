package engine

// TokenBuffer is a bounded, ordered sequence of token IDs with O(1)
// amortized append and front-drop. The backing slice carries a head
// index; when more than half the backing array is dead it is rebuilt
// in one copy instead of sliding elements one at a time.
type TokenBuffer struct {
	data     []int
	head     int
	capacity int
}

func NewTokenBuffer(capacity int) *TokenBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBuffer{
		data:     make([]int, 0, capacity),
		capacity: capacity,
	}
}

func (b *TokenBuffer) Len() int { return len(b.data) - b.head }

func (b *TokenBuffer) Cap() int { return b.capacity }

// compact rebuilds the backing slice when the dead prefix dominates.
func (b *TokenBuffer) compact() {
	if b.head == 0 || b.head*2 < len(b.data) {
		return
	}
	live := len(b.data) - b.head
	copy(b.data, b.data[b.head:])
	b.data = b.data[:live]
	b.head = 0
}

// Append adds tokens at the tail. It does not enforce capacity; the
// caller trims via DropFront or Replace, so a policy can observe the
// overflowing state before deciding what to evict.
func (b *TokenBuffer) Append(tokens []int) {
	b.data = append(b.data, tokens...)
}

// DropFront removes up to n tokens from the head and returns how many
// were actually removed.
func (b *TokenBuffer) DropFront(n int) int {
	if n <= 0 {
		return 0
	}
	live := b.Len()
	if n > live {
		n = live
	}
	b.head += n
	b.compact()
	return n
}

// Replace swaps the buffer contents for the given retained sequence,
// preserving the order the caller supplies. Used by policies that
// recompute the whole retained set; survivors keep their relative
// arrival order because policies emit indices in ascending order.
func (b *TokenBuffer) Replace(tokens []int) {
	b.data = append(b.data[:0], tokens...)
	b.head = 0
}

// Snapshot returns a copy of the live contents, never an aliased view.
func (b *TokenBuffer) Snapshot() []int {
	out := make([]int, b.Len())
	copy(out, b.data[b.head:])
	return out
}

// Tail returns a copy of the last n tokens (all of them if n exceeds
// the live length).
func (b *TokenBuffer) Tail(n int) []int {
	live := b.Len()
	if n > live {
		n = live
	}
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	copy(out, b.data[len(b.data)-n:])
	return out
}

func (b *TokenBuffer) Reset() {
	b.data = b.data[:0]
	b.head = 0
}
