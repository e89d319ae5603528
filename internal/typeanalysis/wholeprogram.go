package typeanalysis

import (
	"dexopt/internal/dex"
	"dexopt/internal/domain"
)

// WholeProgramState is the cross-method summary the refinement loop
// converges: the joined value written to every known field and the joined
// value returned from every known method. Absent entries are top.
type WholeProgramState struct {
	fields  map[*dex.FieldRef]domain.TypeDomain
	returns map[*dex.MethodRef]domain.TypeDomain
}

// NewWholeProgramState returns the empty (all-top) summary.
func NewWholeProgramState() *WholeProgramState {
	return &WholeProgramState{
		fields:  make(map[*dex.FieldRef]domain.TypeDomain),
		returns: make(map[*dex.MethodRef]domain.TypeDomain),
	}
}

// GetFieldType returns the summarized value of a known field.
func (w *WholeProgramState) GetFieldType(f *dex.FieldRef) (domain.TypeDomain, bool) {
	d, ok := w.fields[f]
	return d, ok
}

// GetReturnType returns the summarized return value of a known method.
func (w *WholeProgramState) GetReturnType(m *dex.MethodRef) (domain.TypeDomain, bool) {
	d, ok := w.returns[m]
	return d, ok
}

// JoinFieldWrite folds one observed write into the field summary. The first
// write seeds the entry.
func (w *WholeProgramState) JoinFieldWrite(o domain.TypeOracle, f *dex.FieldRef, d domain.TypeDomain) {
	if prev, ok := w.fields[f]; ok {
		w.fields[f] = prev.Join(o, d)
	} else {
		w.fields[f] = d
	}
}

// JoinReturn folds one observed return site into the method summary.
func (w *WholeProgramState) JoinReturn(o domain.TypeOracle, m *dex.MethodRef, d domain.TypeDomain) {
	if prev, ok := w.returns[m]; ok {
		w.returns[m] = prev.Join(o, d)
	} else {
		w.returns[m] = d
	}
}

// SealUnwritten pins every field in the known set that saw no write to null:
// an unwritten reference field keeps its default value.
func (w *WholeProgramState) SealUnwritten(known []*dex.FieldRef) {
	for _, f := range known {
		if _, ok := w.fields[f]; !ok && f.Type().IsObject() {
			w.fields[f] = domain.Null()
		}
	}
}

// Leq reports whether w is pointwise at or below other. Entries absent on
// the other side are top there and compare trivially.
func (w *WholeProgramState) Leq(o domain.TypeOracle, other *WholeProgramState) bool {
	for f, d := range w.fields {
		if prev, ok := other.fields[f]; ok && !d.Leq(o, prev) {
			return false
		}
	}
	for m, d := range w.returns {
		if prev, ok := other.returns[m]; ok && !d.Leq(o, prev) {
			return false
		}
	}
	return true
}

// Equals reports pointwise equality over the recorded entries.
func (w *WholeProgramState) Equals(other *WholeProgramState) bool {
	if len(w.fields) != len(other.fields) || len(w.returns) != len(other.returns) {
		return false
	}
	for f, d := range w.fields {
		prev, ok := other.fields[f]
		if !ok || !d.Equals(prev) {
			return false
		}
	}
	for m, d := range w.returns {
		prev, ok := other.returns[m]
		if !ok || !d.Equals(prev) {
			return false
		}
	}
	return true
}

// ArgumentTypePartition joins, per callee, the abstract argument values seen
// at every call site. The global loop feeds it back as the callee's initial
// parameter types.
type ArgumentTypePartition struct {
	args map[*dex.MethodRef][]domain.TypeDomain
}

// NewArgumentTypePartition returns an empty partition.
func NewArgumentTypePartition() *ArgumentTypePartition {
	return &ArgumentTypePartition{args: make(map[*dex.MethodRef][]domain.TypeDomain)}
}

// JoinCallSite folds one call site's argument values into the callee's
// entry.
func (p *ArgumentTypePartition) JoinCallSite(o domain.TypeOracle, callee *dex.MethodRef, args []domain.TypeDomain) {
	prev, ok := p.args[callee]
	if !ok {
		p.args[callee] = append([]domain.TypeDomain(nil), args...)
		return
	}
	for i := range prev {
		if i < len(args) {
			prev[i] = prev[i].Join(o, args[i])
		} else {
			prev[i] = domain.Top()
		}
	}
}

// Get returns the joined argument values for a callee, nil when no call site
// was seen.
func (p *ArgumentTypePartition) Get(callee *dex.MethodRef) []domain.TypeDomain {
	return p.args[callee]
}
