package typeanalysis

import (
	"github.com/tliron/commonlog"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/domain"
	"dexopt/internal/hierarchy"
	"dexopt/internal/ir"
	"dexopt/internal/walk"
)

var log = commonlog.GetLogger("dexopt.typeanalysis")

// DefaultMaxGlobalIterations bounds the refinement loop.
const DefaultMaxGlobalIterations = 10

// GlobalTypeAnalysis configures and runs the whole-program refinement.
type GlobalTypeAnalysis struct {
	Registry      *dex.Registry
	MaxIterations int
}

// GlobalTypeAnalyzer is the finished result: the converged summaries plus
// the derived reachability sets consumers must respect.
type GlobalTypeAnalyzer struct {
	reg       *dex.Registry
	oracle    *hierarchy.ClassHierarchy
	wps       *WholeProgramState
	partition *ArgumentTypePartition
	initReach map[*dex.MethodRef]bool

	// Iterations is the number of refinement rounds run; Exhausted is set
	// when the loop hit its cap before converging.
	Iterations int
	Exhausted  bool
}

// Analyze runs the bootstrap/refine loop over the scope.
func (ga *GlobalTypeAnalysis) Analyze(scope []*dex.Class) *GlobalTypeAnalyzer {
	maxIter := ga.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxGlobalIterations
	}

	ch := hierarchy.BuildClassHierarchy(ga.Registry, scope)
	og := hierarchy.BuildOverrideGraph(ga.Registry, scope, ch)
	cg := hierarchy.BuildCallGraph(ga.Registry, scope, og)

	gta := &GlobalTypeAnalyzer{
		reg:       ga.Registry,
		oracle:    ch,
		wps:       NewWholeProgramState(),
		partition: NewArgumentTypePartition(),
		initReach: anyInitReachables(ga.Registry, scope, cg),
	}

	knownFields := knownFieldDefs(scope)
	var prev *WholeProgramState
	for round := 0; round < maxIter; round++ {
		gta.Iterations = round + 1
		fresh := NewWholeProgramState()
		part := NewArgumentTypePartition()
		walk.MethodsWithCode(scope, func(m *dex.MethodRef) {
			gta.summarize(m, prev, fresh, part)
		})
		fresh.SealUnwritten(knownFields)

		if prev != nil && fresh.Equals(prev) {
			gta.Exhausted = false
			break
		}
		if prev != nil && !fresh.Leq(ch, prev) {
			// The summaries stopped descending; keep the last sound state.
			log.Debugf("summaries no longer descending after %d rounds", round)
			break
		}
		prev = fresh
		gta.wps = fresh
		gta.partition = part
		gta.Exhausted = round == maxIter-1
	}
	if gta.Exhausted {
		log.Warningf("global type analysis hit the %d-iteration cap", maxIter)
	}
	return gta
}

// GetWholeProgramState returns the converged summary.
func (gta *GlobalTypeAnalyzer) GetWholeProgramState() *WholeProgramState { return gta.wps }

// GetLocalAnalysis re-runs the local fixpoint of m against the converged
// summaries. The result is independent of any prior run.
func (gta *GlobalTypeAnalyzer) GetLocalAnalysis(m *dex.MethodRef) *LocalTypeAnalyzer {
	var la *LocalTypeAnalyzer
	gta.withCFG(m, func(g *cfg.Graph) {
		la = AnalyzeMethod(gta.context(m), g)
	})
	return la
}

// IsAnyInitReachable reports whether m is transitively reachable from any
// clinit or ctor, or may be called back from an external ctor.
func (gta *GlobalTypeAnalyzer) IsAnyInitReachable(m *dex.MethodRef) bool {
	return gta.initReach[m]
}

// CanUseNullnessResults gates transforms on the nullness half of the
// analysis: inside initializers, and in anything an initializer can reach,
// field summaries may describe a state the heap has not arrived at yet.
func (gta *GlobalTypeAnalyzer) CanUseNullnessResults(m *dex.MethodRef) bool {
	return !m.IsInit() && !m.IsClinit() && !gta.initReach[m]
}

func (gta *GlobalTypeAnalyzer) context(m *dex.MethodRef) *Context {
	return &Context{
		Registry: gta.reg,
		Oracle:   gta.oracle,
		WPS:      gta.wps,
		Method:   m,
		Args:     gta.partition.Get(m),
	}
}

// summarize runs one local analysis of m against the previous round's
// summaries and folds its writes, returns and call sites into the fresh
// ones.
func (gta *GlobalTypeAnalyzer) summarize(m *dex.MethodRef, prev, fresh *WholeProgramState, part *ArgumentTypePartition) {
	ctx := &Context{
		Registry: gta.reg,
		Oracle:   gta.oracle,
		WPS:      prev,
		Method:   m,
		Args:     gta.partition.Get(m),
	}
	gta.withCFG(m, func(g *cfg.Graph) {
		la := AnalyzeMethod(ctx, g)
		la.ForEach(func(b *cfg.Block, in *ir.Instruction, env domain.TypeEnvironment) {
			op := in.Op()
			switch {
			case op == ir.OpReturn, op == ir.OpReturnWide, op == ir.OpReturnObject:
				fresh.JoinReturn(gta.oracle, m, env.Get(in.Src(0)))
			case ir.IsSput(op):
				if f := in.FieldRef(); f.IsDef() {
					fresh.JoinFieldWrite(gta.oracle, f, env.Get(in.Src(0)))
				}
			case ir.IsIput(op):
				if f := in.FieldRef(); f.IsDef() {
					fresh.JoinFieldWrite(gta.oracle, f, env.Get(in.Src(0)))
				}
			case ir.IsInvoke(op):
				callee := in.MethodRef()
				if !callee.IsDef() {
					return
				}
				args := make([]domain.TypeDomain, in.SrcsSize())
				for i := range args {
					args[i] = env.Get(in.Src(i))
				}
				part.JoinCallSite(gta.oracle, callee, args)
			}
		})
	})
}

// withCFG hands fn the method's CFG, building and tearing down a transient
// one when the body is in flat-list form.
func (gta *GlobalTypeAnalyzer) withCFG(m *dex.MethodRef, fn func(g *cfg.Graph)) {
	code, ok := m.Code().(*ir.Code)
	if !ok || code == nil {
		return
	}
	if code.HasCFG() {
		if g, ok := code.CFG().(*cfg.Graph); ok {
			fn(g)
		}
		return
	}
	g := cfg.Build(code, m.String(), false)
	fn(g)
	g.ClearCFG()
}

// anyInitReachables walks the call graph from every clinit and ctor. Virtual
// methods whose hierarchy reaches an external class are included as well; an
// external ctor can call back into them before the object is fully built.
func anyInitReachables(reg *dex.Registry, scope []*dex.Class, cg *hierarchy.CallGraph) map[*dex.MethodRef]bool {
	var seeds []*dex.MethodRef
	for _, c := range scope {
		if clinit := c.Clinit(); clinit != nil {
			seeds = append(seeds, clinit)
		}
		seeds = append(seeds, c.Ctors()...)
	}
	reach := cg.ReachableFrom(seeds)

	for _, c := range scope {
		if !hierarchyFullyKnown(reg, c) {
			for _, m := range c.VirtualMethods() {
				reach[m] = true
			}
		}
	}
	return reach
}

// hierarchyFullyKnown reports whether every ancestor of c, classes and
// interfaces, resolves to an in-scope class.
func hierarchyFullyKnown(reg *dex.Registry, c *dex.Class) bool {
	for cur := c.Super(); cur != nil; {
		if cur.Descriptor() == "Ljava/lang/Object;" {
			break
		}
		cls := reg.ClassOf(cur)
		if cls == nil || cls.IsExternal() {
			return false
		}
		cur = cls.Super()
	}
	for _, i := range c.Interfaces() {
		cls := reg.ClassOf(i)
		if cls == nil || cls.IsExternal() {
			return false
		}
	}
	return true
}

// knownFieldDefs lists every field definition in the scope.
func knownFieldDefs(scope []*dex.Class) []*dex.FieldRef {
	var out []*dex.FieldRef
	walk.Fields(scope, func(f *dex.FieldRef) {
		if f.IsDef() {
			out = append(out, f)
		}
	})
	return out
}
