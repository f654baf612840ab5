package population

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SampleTree is an order-statistic treap over reference samples.
//
// Ordering: value ASC. Equal values share one node carrying a multiplicity,
// so size counts samples rather than nodes. In-order traversal yields the
// distinct (value, count) bins a Distribution is frozen from.
//
// SampleTree is not safe for concurrent use; Store serializes writers.
type SampleTree struct {
	root *node
	rng  *rand.Rand
}

type node struct {
	value float64
	count int
	prio  uint64
	left  *node
	right *node
	size  int
}

// NewSampleTree returns an empty tree. seed fixes node priorities, which only
// affects balance and never the answers.
func NewSampleTree(seed uint64) *SampleTree {
	return &SampleTree{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))} //nolint:gosec // treap priorities
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = n.count + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func (t *SampleTree) insert(n *node, value float64, count int) *node {
	if n == nil {
		return &node{value: value, count: count, prio: t.rng.Uint64(), size: count}
	}
	switch {
	case value == n.value:
		n.count += count
	case value < n.value:
		n.left = t.insert(n.left, value, count)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	default:
		n.right = t.insert(n.right, value, count)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

// Insert adds count copies of value in O(log n) expected time.
// Non-positive counts are ignored. A count that would overflow the sample
// size is rejected with ErrConfig and leaves the tree unchanged.
func (t *SampleTree) Insert(value float64, count int) error {
	if count <= 0 {
		return nil
	}
	if t.Len() > math.MaxInt-count {
		return fmt.Errorf("%w: sample size overflows at value %v", ErrConfig, value)
	}
	t.root = t.insert(t.root, value, count)
	return nil
}

// Len returns the number of samples, counting multiplicity.
func (t *SampleTree) Len() int {
	return nsize(t.root)
}

func (t *SampleTree) lenOrZero() int {
	if t == nil {
		return 0
	}
	return t.Len()
}

// Bins returns one Bin per distinct value in ascending order.
func (t *SampleTree) Bins() []Bin {
	var out []Bin
	walk(t.root, func(n *node) {
		out = append(out, Bin{Value: n.value, Count: n.count})
	})
	return out
}

func walk(n *node, fn func(*node)) {
	for n != nil {
		walk(n.left, fn)
		fn(n)
		n = n.right
	}
}
