// Package sparse builds attention masks over retained token positions,
// for exporting which query/key pairs a policy's eviction implies and
// for estimating the attention cost saved.
package sparse

import (
	"fmt"
	"math/bits"
)

// Mask is a dense n by n boolean attention mask backed by bitset rows.
// True means the pair is attendable.
type Mask struct {
	n    int
	rows []uint64
}

func wordsPerRow(n int) int { return (n + 63) / 64 }

func NewMask(n int) *Mask {
	if n < 0 {
		n = 0
	}
	return &Mask{n: n, rows: make([]uint64, n*wordsPerRow(n))}
}

func (m *Mask) Size() int { return m.n }

func (m *Mask) index(i, j int) (int, uint64) {
	return i*wordsPerRow(m.n) + j/64, 1 << uint(j%64)
}

func (m *Mask) Allow(i, j int) {
	if i < 0 || j < 0 || i >= m.n || j >= m.n {
		return
	}
	w, bit := m.index(i, j)
	m.rows[w] |= bit
}

func (m *Mask) Allowed(i, j int) bool {
	if i < 0 || j < 0 || i >= m.n || j >= m.n {
		return false
	}
	w, bit := m.index(i, j)
	return m.rows[w]&bit != 0
}

// FromKeepSet builds the mask implied by a retained-position set:
// kept positions attend to each other, dropped positions attend to
// nothing.
func FromKeepSet(n int, keep []int) *Mask {
	m := NewMask(n)
	for _, i := range keep {
		for _, j := range keep {
			m.Allow(i, j)
		}
	}
	return m
}

// BlockMask allows attention within and between the given blocks of
// blockSize positions each.
func BlockMask(n, blockSize int, keepBlocks []int) (*Mask, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block mask: block size must be positive, got %d", blockSize)
	}
	m := NewMask(n)
	for _, bi := range keepBlocks {
		for _, bj := range keepBlocks {
			for i := bi * blockSize; i < (bi+1)*blockSize && i < n; i++ {
				for j := bj * blockSize; j < (bj+1)*blockSize && j < n; j++ {
					m.Allow(i, j)
				}
			}
		}
	}
	return m, nil
}

// ApplyCausal zeroes every entry above the diagonal.
func (m *Mask) ApplyCausal() {
	for i := 0; i < m.n; i++ {
		for j := i + 1; j < m.n; j++ {
			w, bit := m.index(i, j)
			m.rows[w] &^= bit
		}
	}
}

// Sparsity is the fraction of pairs the mask disallows; 1.0 for an
// empty or all-zero mask.
func (m *Mask) Sparsity() float64 {
	if m.n == 0 {
		return 1.0
	}
	allowed := 0
	for _, w := range m.rows {
		allowed += bits.OnesCount64(w)
	}
	total := m.n * m.n
	return 1.0 - float64(allowed)/float64(total)
}
