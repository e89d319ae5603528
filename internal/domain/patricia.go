package domain

import "math/bits"

// PatriciaMap is a persistent big-endian patricia-tree map from uint32 keys
// to values. All operations return a new map sharing structure with the
// receiver; the zero value is the empty map. Environments use it so that
// copying a state at a CFG join is O(1) and unions of near-identical maps
// short-circuit on shared subtrees.
type PatriciaMap[V any] struct {
	root *patNode[V]
}

type patNode[V any] struct {
	// Branch fields; a leaf has left == nil.
	prefix uint32
	mask   uint32
	left   *patNode[V]
	right  *patNode[V]

	key uint32
	val V
}

func (n *patNode[V]) isLeaf() bool { return n.left == nil }

func matchPrefix(k, prefix, mask uint32) bool {
	return k&^((mask<<1)-1) == prefix
}

func zeroBit(k, mask uint32) bool { return k&mask == 0 }

func branchingBit(a, b uint32) uint32 {
	return uint32(1) << (bits.Len32(a^b) - 1)
}

func linkNodes[V any](p0 uint32, t0 *patNode[V], p1 uint32, t1 *patNode[V]) *patNode[V] {
	m := branchingBit(p0, p1)
	br := &patNode[V]{prefix: p0 &^ ((m << 1) - 1), mask: m}
	if zeroBit(p0, m) {
		br.left, br.right = t0, t1
	} else {
		br.left, br.right = t1, t0
	}
	return br
}

// Get returns the value bound to k.
func (m PatriciaMap[V]) Get(k uint32) (V, bool) {
	n := m.root
	for n != nil {
		if n.isLeaf() {
			if n.key == k {
				return n.val, true
			}
			var zero V
			return zero, false
		}
		if !matchPrefix(k, n.prefix, n.mask) {
			break
		}
		if zeroBit(k, n.mask) {
			n = n.left
		} else {
			n = n.right
		}
	}
	var zero V
	return zero, false
}

// Insert returns a map with k bound to v.
func (m PatriciaMap[V]) Insert(k uint32, v V) PatriciaMap[V] {
	return PatriciaMap[V]{root: insertNode(m.root, k, v)}
}

func insertNode[V any](n *patNode[V], k uint32, v V) *patNode[V] {
	if n == nil {
		return &patNode[V]{key: k, val: v}
	}
	if n.isLeaf() {
		if n.key == k {
			return &patNode[V]{key: k, val: v}
		}
		return linkNodes(k, &patNode[V]{key: k, val: v}, n.key, n)
	}
	if !matchPrefix(k, n.prefix, n.mask) {
		return linkNodes(k, &patNode[V]{key: k, val: v}, n.prefix, n)
	}
	cp := *n
	if zeroBit(k, n.mask) {
		cp.left = insertNode(n.left, k, v)
	} else {
		cp.right = insertNode(n.right, k, v)
	}
	return &cp
}

// Remove returns a map without k.
func (m PatriciaMap[V]) Remove(k uint32) PatriciaMap[V] {
	return PatriciaMap[V]{root: removeNode(m.root, k)}
}

func removeNode[V any](n *patNode[V], k uint32) *patNode[V] {
	if n == nil {
		return nil
	}
	if n.isLeaf() {
		if n.key == k {
			return nil
		}
		return n
	}
	if !matchPrefix(k, n.prefix, n.mask) {
		return n
	}
	cp := *n
	if zeroBit(k, n.mask) {
		cp.left = removeNode(n.left, k)
	} else {
		cp.right = removeNode(n.right, k)
	}
	if cp.left == nil {
		return cp.right
	}
	if cp.right == nil {
		return cp.left
	}
	if cp.left == n.left && cp.right == n.right {
		return n
	}
	return &cp
}

// Union merges two maps. For keys present on both sides the bound value is
// combine(left, right). Shared subtrees are returned as-is, which makes the
// union of a map with itself O(1).
func (m PatriciaMap[V]) Union(other PatriciaMap[V], combine func(V, V) V) PatriciaMap[V] {
	return PatriciaMap[V]{root: unionNodes(m.root, other.root, combine)}
}

func unionNodes[V any](a, b *patNode[V], combine func(V, V) V) *patNode[V] {
	switch {
	case a == b:
		return a
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if a.isLeaf() {
		return insertWith(b, a.key, a.val, func(old V) V { return combine(a.val, old) })
	}
	if b.isLeaf() {
		return insertWith(a, b.key, b.val, func(old V) V { return combine(old, b.val) })
	}
	switch {
	case a.mask == b.mask && a.prefix == b.prefix:
		l := unionNodes(a.left, b.left, combine)
		r := unionNodes(a.right, b.right, combine)
		if l == a.left && r == a.right {
			return a
		}
		return &patNode[V]{prefix: a.prefix, mask: a.mask, left: l, right: r}
	case a.mask > b.mask && matchPrefix(b.prefix, a.prefix, a.mask):
		cp := *a
		if zeroBit(b.prefix, a.mask) {
			cp.left = unionNodes(a.left, b, combine)
		} else {
			cp.right = unionNodes(a.right, b, combine)
		}
		return &cp
	case a.mask < b.mask && matchPrefix(a.prefix, b.prefix, b.mask):
		cp := *b
		if zeroBit(a.prefix, b.mask) {
			cp.left = unionNodes(a, b.left, combine)
		} else {
			cp.right = unionNodes(a, b.right, combine)
		}
		return &cp
	default:
		return linkNodes(a.prefix, a, b.prefix, b)
	}
}

// insertWith binds k, combining with the previous value when present.
func insertWith[V any](n *patNode[V], k uint32, v V, combine func(V) V) *patNode[V] {
	if n == nil {
		return &patNode[V]{key: k, val: v}
	}
	if n.isLeaf() {
		if n.key == k {
			return &patNode[V]{key: k, val: combine(n.val)}
		}
		return linkNodes(k, &patNode[V]{key: k, val: v}, n.key, n)
	}
	if !matchPrefix(k, n.prefix, n.mask) {
		return linkNodes(k, &patNode[V]{key: k, val: v}, n.prefix, n)
	}
	cp := *n
	if zeroBit(k, n.mask) {
		cp.left = insertWith(n.left, k, v, combine)
	} else {
		cp.right = insertWith(n.right, k, v, combine)
	}
	return &cp
}

// IntersectKeys keeps only keys present on both sides, combining the values.
func (m PatriciaMap[V]) IntersectKeys(other PatriciaMap[V], combine func(V, V) V) PatriciaMap[V] {
	return PatriciaMap[V]{root: intersectNodes(m.root, other.root, combine)}
}

func intersectNodes[V any](a, b *patNode[V], combine func(V, V) V) *patNode[V] {
	if a == nil || b == nil {
		return nil
	}
	if a == b {
		return a
	}
	if a.isLeaf() {
		if bv, ok := (PatriciaMap[V]{root: b}).Get(a.key); ok {
			return &patNode[V]{key: a.key, val: combine(a.val, bv)}
		}
		return nil
	}
	if b.isLeaf() {
		if av, ok := (PatriciaMap[V]{root: a}).Get(b.key); ok {
			return &patNode[V]{key: b.key, val: combine(av, b.val)}
		}
		return nil
	}
	switch {
	case a.mask == b.mask && a.prefix == b.prefix:
		l := intersectNodes(a.left, b.left, combine)
		r := intersectNodes(a.right, b.right, combine)
		if l == nil {
			return r
		}
		if r == nil {
			return l
		}
		if l == a.left && r == a.right {
			return a
		}
		return &patNode[V]{prefix: a.prefix, mask: a.mask, left: l, right: r}
	case a.mask > b.mask && matchPrefix(b.prefix, a.prefix, a.mask):
		if zeroBit(b.prefix, a.mask) {
			return intersectNodes(a.left, b, combine)
		}
		return intersectNodes(a.right, b, combine)
	case a.mask < b.mask && matchPrefix(a.prefix, b.prefix, b.mask):
		if zeroBit(a.prefix, b.mask) {
			return intersectNodes(a, b.left, combine)
		}
		return intersectNodes(a, b.right, combine)
	default:
		return nil
	}
}

// ForEach visits every binding in ascending key order.
func (m PatriciaMap[V]) ForEach(fn func(uint32, V)) {
	forEachNode(m.root, fn)
}

func forEachNode[V any](n *patNode[V], fn func(uint32, V)) {
	if n == nil {
		return
	}
	if n.isLeaf() {
		fn(n.key, n.val)
		return
	}
	forEachNode(n.left, fn)
	forEachNode(n.right, fn)
}

// Len counts the bindings.
func (m PatriciaMap[V]) Len() int {
	n := 0
	m.ForEach(func(uint32, V) { n++ })
	return n
}

// IsEmpty reports whether the map has no bindings.
func (m PatriciaMap[V]) IsEmpty() bool { return m.root == nil }

// Equals compares two maps under eq, short-circuiting on shared subtrees.
func (m PatriciaMap[V]) Equals(other PatriciaMap[V], eq func(V, V) bool) bool {
	return equalNodes(m.root, other.root, eq)
}

func equalNodes[V any](a, b *patNode[V], eq func(V, V) bool) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.isLeaf() != b.isLeaf() {
		return false
	}
	if a.isLeaf() {
		return a.key == b.key && eq(a.val, b.val)
	}
	return a.prefix == b.prefix && a.mask == b.mask &&
		equalNodes(a.left, b.left, eq) && equalNodes(a.right, b.right, eq)
}
