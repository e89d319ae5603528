// Package fixpoint runs forward monotonic dataflow analyses over a method
// CFG: reverse-postorder worklist, join at block entries, widening after a
// visit threshold, bounded total work with a sound fallback on divergence.
package fixpoint

import (
	"dexopt/internal/cfg"
)

// WideningThreshold is the number of visits to a block after which joins at
// its entry are replaced by widening.
const WideningThreshold = 4

// Params configures an analysis over states of type S. States are values;
// Join, Widen and Transfer must not mutate their inputs.
type Params[S any] struct {
	// Entry is the state at the method entry.
	Entry S
	// Join combines two reachable states.
	Join func(S, S) S
	// Widen extrapolates at loop heads once the threshold is passed. Nil
	// falls back to Join, which is sound whenever the lattice has finite
	// height.
	Widen func(S, S) S
	// Equals detects convergence.
	Equals func(S, S) bool
	// MaxSteps bounds the number of block transfers; zero means
	// 64 * number of blocks. On exhaustion the analysis returns the
	// current over-approximation with Converged unset.
	MaxSteps int
}

// Transfer computes the state after a block from the state before it.
type Transfer[S any] func(b *cfg.Block, in S) S

// Result holds the per-block entry and exit states of a finished analysis.
type Result[S any] struct {
	entry     map[cfg.BlockID]S
	exit      map[cfg.BlockID]S
	Converged bool
	Steps     int
}

// EntryState returns the state before b; ok is false when b was never
// reached.
func (r *Result[S]) EntryState(b *cfg.Block) (S, bool) {
	s, ok := r.entry[b.ID()]
	return s, ok
}

// ExitState returns the state after b.
func (r *Result[S]) ExitState(b *cfg.Block) (S, bool) {
	s, ok := r.exit[b.ID()]
	return s, ok
}

// Analyze runs the forward fixpoint of transfer over g.
func Analyze[S any](g *cfg.Graph, p Params[S], transfer Transfer[S]) *Result[S] {
	if p.Widen == nil {
		p.Widen = p.Join
	}
	order := postorderReverse(g)
	rpoIndex := make(map[cfg.BlockID]int, len(order))
	for i, b := range order {
		rpoIndex[b.ID()] = i
	}

	res := &Result[S]{
		entry: make(map[cfg.BlockID]S, len(order)),
		exit:  make(map[cfg.BlockID]S, len(order)),
	}
	visits := make(map[cfg.BlockID]int, len(order))

	maxSteps := p.MaxSteps
	if maxSteps == 0 {
		maxSteps = 64 * len(order)
	}

	res.entry[g.Entry().ID()] = p.Entry
	wl := newWorklist(rpoIndex)
	wl.push(g.Entry())

	for !wl.empty() {
		if res.Steps >= maxSteps {
			return res
		}
		b := wl.pop()
		res.Steps++

		// Fold predecessor exits into the entry state.
		var in S
		reached := false
		if b == g.Entry() {
			in = p.Entry
			reached = true
		}
		for _, e := range b.Preds() {
			out, ok := res.exit[e.Src().ID()]
			if !ok {
				continue
			}
			if !reached {
				in = out
				reached = true
			} else {
				in = p.Join(in, out)
			}
		}
		if !reached {
			continue
		}

		visits[b.ID()]++
		if prev, ok := res.entry[b.ID()]; ok && visits[b.ID()] > WideningThreshold {
			in = p.Widen(prev, in)
		}
		res.entry[b.ID()] = in

		out := transfer(b, in)
		if prev, ok := res.exit[b.ID()]; ok && p.Equals(prev, out) {
			continue
		}
		res.exit[b.ID()] = out
		for _, e := range b.Succs() {
			wl.push(e.Tgt())
		}
	}
	res.Converged = true
	return res
}

// postorderReverse returns the blocks in reverse postorder from the entry,
// with unreachable blocks appended at the end in id order.
func postorderReverse(g *cfg.Graph) []*cfg.Block {
	var post []*cfg.Block
	visited := make(map[cfg.BlockID]bool)

	var walk func(b *cfg.Block)
	walk = func(b *cfg.Block) {
		visited[b.ID()] = true
		for _, e := range b.Succs() {
			if !visited[e.Tgt().ID()] {
				walk(e.Tgt())
			}
		}
		post = append(post, b)
	}
	walk(g.Entry())

	order := make([]*cfg.Block, 0, len(post))
	for i := len(post) - 1; i >= 0; i-- {
		order = append(order, post[i])
	}
	for _, b := range g.BlocksInOrder() {
		if !visited[b.ID()] {
			order = append(order, b)
		}
	}
	return order
}

// worklist is a priority queue keyed by reverse-postorder index with
// membership dedup, so earlier blocks re-run before their dependents.
type worklist struct {
	rpo     map[cfg.BlockID]int
	pending map[cfg.BlockID]*cfg.Block
}

func newWorklist(rpo map[cfg.BlockID]int) *worklist {
	return &worklist{rpo: rpo, pending: make(map[cfg.BlockID]*cfg.Block)}
}

func (w *worklist) push(b *cfg.Block) { w.pending[b.ID()] = b }

func (w *worklist) empty() bool { return len(w.pending) == 0 }

func (w *worklist) pop() *cfg.Block {
	best := -1
	var bestID cfg.BlockID
	for id := range w.pending {
		idx, ok := w.rpo[id]
		if !ok {
			idx = int(id) + 1<<30
		}
		if best == -1 || idx < best || (idx == best && id < bestID) {
			best = idx
			bestID = id
		}
	}
	b := w.pending[bestID]
	delete(w.pending, bestID)
	return b
}
