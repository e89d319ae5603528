// Package walk provides the traversal helpers passes use to visit a class
// scope: methods, fields, opcodes and annotations, serially or sharded across
// workers. Parallel variants assign whole classes to workers, so a worker
// owns every mutation inside its classes and the assignment is deterministic
// for a fixed scope order.
package walk

import (
	"runtime"
	"sort"
	"sync"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

// Methods visits every method definition in the scope, direct then virtual,
// in class order.
func Methods(scope []*dex.Class, fn func(m *dex.MethodRef)) {
	for _, c := range scope {
		for _, m := range c.AllMethods() {
			fn(m)
		}
	}
}

// MethodsWithCode visits every method that has a body.
func MethodsWithCode(scope []*dex.Class, fn func(m *dex.MethodRef)) {
	Methods(scope, func(m *dex.MethodRef) {
		if m.Code() != nil {
			fn(m)
		}
	})
}

// Fields visits every field definition in the scope, static then instance.
func Fields(scope []*dex.Class, fn func(f *dex.FieldRef)) {
	for _, c := range scope {
		for _, f := range c.AllFields() {
			fn(f)
		}
	}
}

// Opcodes visits every instruction of every method passing pred. A nil pred
// admits all methods. Bodies in either list or CFG form are traversed.
func Opcodes(scope []*dex.Class, pred func(m *dex.MethodRef) bool, fn func(m *dex.MethodRef, in *ir.Instruction)) {
	Methods(scope, func(m *dex.MethodRef) {
		if pred != nil && !pred(m) {
			return
		}
		EachInstruction(m, func(in *ir.Instruction) { fn(m, in) })
	})
}

// Annotations visits every annotation in the scope: class sets, then field
// sets, then method sets.
func Annotations(scope []*dex.Class, fn func(a *dex.Annotation)) {
	visit := func(s *dex.AnnotationSet) {
		if s == nil {
			return
		}
		for _, a := range s.Annotations {
			fn(a)
		}
	}
	for _, c := range scope {
		visit(c.Annotations())
		for _, f := range c.AllFields() {
			if f.IsDef() {
				visit(f.Def().Annotations)
			}
		}
		for _, m := range c.AllMethods() {
			if m.IsDef() {
				visit(m.Def().Annotations)
			}
		}
	}
}

// EachInstruction visits the instructions of m's body in order, whether the
// body is in flat-list or CFG form. Methods without a body are a no-op.
func EachInstruction(m *dex.MethodRef, fn func(in *ir.Instruction)) {
	code, ok := m.Code().(*ir.Code)
	if !ok || code == nil {
		return
	}
	if code.HasCFG() {
		if g, ok := code.CFG().(*cfg.Graph); ok {
			for it := g.InstructionIterator(); !it.IsEnd(); it.Next() {
				fn(it.Insn())
			}
		}
		return
	}
	for _, in := range code.List().Instructions() {
		fn(in)
	}
}

// ParallelClasses shards the scope across workers, each class owned by
// exactly one worker. workers <= 0 uses GOMAXPROCS. fn must only touch the
// class it is handed.
func ParallelClasses(scope []*dex.Class, workers int, fn func(c *dex.Class)) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(scope) {
		workers = len(scope)
	}
	if workers <= 1 {
		for _, c := range scope {
			fn(c)
		}
		return
	}
	ordered := orderClasses(scope)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(ordered); i += workers {
				fn(ordered[i])
			}
		}(w)
	}
	wg.Wait()
}

// ParallelMethods visits every method definition, sharded by owning class.
func ParallelMethods(scope []*dex.Class, workers int, fn func(m *dex.MethodRef)) {
	ParallelClasses(scope, workers, func(c *dex.Class) {
		for _, m := range c.AllMethods() {
			fn(m)
		}
	})
}

// ParallelMethodsWithCode visits every method that has a body, sharded by
// owning class.
func ParallelMethodsWithCode(scope []*dex.Class, workers int, fn func(m *dex.MethodRef)) {
	ParallelMethods(scope, workers, func(m *dex.MethodRef) {
		if m.Code() != nil {
			fn(m)
		}
	})
}

// ParallelOpcodes visits every instruction of every method passing pred,
// sharded by owning class.
func ParallelOpcodes(scope []*dex.Class, workers int, pred func(m *dex.MethodRef) bool, fn func(m *dex.MethodRef, in *ir.Instruction)) {
	ParallelMethods(scope, workers, func(m *dex.MethodRef) {
		if pred != nil && !pred(m) {
			return
		}
		EachInstruction(m, func(in *ir.Instruction) { fn(m, in) })
	})
}

// orderClasses returns the scope sorted by type descriptor so the shard
// assignment does not depend on the caller's slice order.
func orderClasses(scope []*dex.Class) []*dex.Class {
	ordered := append([]*dex.Class(nil), scope...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Type().Descriptor() < ordered[j].Type().Descriptor()
	})
	return ordered
}
