// Package typeanalysis infers types and nullness for every register: a local
// forward fixpoint per method, and a whole-program loop that refines field
// and return-type summaries across the call graph until they stop improving.
package typeanalysis

import (
	"math"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/domain"
	"dexopt/internal/fixpoint"
	"dexopt/internal/ir"
)

// ResultReg is the virtual register holding the value between a producer and
// its move-result.
const ResultReg = ir.Reg(math.MaxUint32)

// Context carries everything a transfer function may consult.
type Context struct {
	Registry *dex.Registry
	Oracle   domain.TypeOracle
	// WPS is nil during the bootstrap run.
	WPS    *WholeProgramState
	Method *dex.MethodRef
	// Args overrides the declared parameter types, joined in from call
	// sites by the global analysis.
	Args []domain.TypeDomain

	params map[*ir.Instruction]paramFact
}

type paramFact struct {
	value  domain.TypeDomain
	isThis bool
}

// InstructionAnalyzer is one link of the transfer chain. It returns the
// updated environment and whether it handled the instruction; an unhandled
// instruction falls through to the next link.
type InstructionAnalyzer func(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool)

// Chain composes analyzers left to right, first handler wins.
func Chain(links ...InstructionAnalyzer) InstructionAnalyzer {
	return func(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
		for _, link := range links {
			if out, ok := link(ctx, in, env); ok {
				return out, true
			}
		}
		return env, false
	}
}

// defaultChain is the full transfer function of the type analysis.
var defaultChain = Chain(
	analyzeParam,
	analyzeConst,
	analyzeAlloc,
	analyzeArray,
	analyzeField,
	analyzeInvoke,
	analyzeMove,
	analyzeBinop,
	analyzeClobber,
)

// LocalTypeAnalyzer holds the finished per-block states of one method and
// replays transfer functions inside a block on demand.
type LocalTypeAnalyzer struct {
	ctx *Context
	g   *cfg.Graph
	res *fixpoint.Result[domain.TypeEnvironment]
}

// AnalyzeMethod runs the local fixpoint over m's CFG. The method must be in
// CFG form.
func AnalyzeMethod(ctx *Context, g *cfg.Graph) *LocalTypeAnalyzer {
	ctx.params = paramFacts(ctx, g)
	p := fixpoint.Params[domain.TypeEnvironment]{
		Entry:  domain.TopEnv(),
		Join:   func(a, b domain.TypeEnvironment) domain.TypeEnvironment { return a.Join(ctx.Oracle, b) },
		Equals: domain.TypeEnvironment.Equals,
	}
	res := fixpoint.Analyze(g, p, func(b *cfg.Block, in domain.TypeEnvironment) domain.TypeEnvironment {
		for _, item := range b.Items() {
			if item.Kind == ir.ItemInsn {
				in, _ = defaultChain(ctx, item.Insn, in)
			}
		}
		return in
	})
	return &LocalTypeAnalyzer{ctx: ctx, g: g, res: res}
}

// EnvBefore returns the environment immediately before the instruction at
// index idx of block b; ok is false for unreached blocks.
func (la *LocalTypeAnalyzer) EnvBefore(b *cfg.Block, idx int) (domain.TypeEnvironment, bool) {
	env, ok := la.res.EntryState(b)
	if !ok {
		return env, false
	}
	for i, item := range b.Items() {
		if i >= idx {
			break
		}
		if item.Kind == ir.ItemInsn {
			env, _ = defaultChain(la.ctx, item.Insn, env)
		}
	}
	return env, true
}

// ForEach replays every reached block and hands the caller the environment
// before each instruction.
func (la *LocalTypeAnalyzer) ForEach(fn func(b *cfg.Block, in *ir.Instruction, env domain.TypeEnvironment)) {
	for _, b := range la.g.BlocksInOrder() {
		env, ok := la.res.EntryState(b)
		if !ok {
			continue
		}
		for _, item := range b.Items() {
			if item.Kind != ir.ItemInsn {
				continue
			}
			fn(b, item.Insn, env)
			env, _ = defaultChain(la.ctx, item.Insn, env)
		}
	}
}

// Converged reports whether the fixpoint finished inside its step budget.
func (la *LocalTypeAnalyzer) Converged() bool { return la.res.Converged }

// paramFacts zips the method's load-param instructions with the signature,
// honoring call-site argument types when the global analysis provides them.
func paramFacts(ctx *Context, g *cfg.Graph) map[*ir.Instruction]paramFact {
	declared := declaredParams(ctx)
	facts := make(map[*ir.Instruction]paramFact)
	i := 0
	for it := g.InstructionIterator(); !it.IsEnd(); it.Next() {
		if !ir.IsLoadParam(it.Insn().Op()) {
			continue
		}
		if i < len(declared) {
			f := declared[i]
			if i < len(ctx.Args) && !ctx.Args[i].IsTop() && !ctx.Args[i].IsBottom() {
				f.value = ctx.Args[i]
			}
			facts[it.Insn()] = f
		}
		i++
	}
	return facts
}

func declaredParams(ctx *Context) []paramFact {
	m := ctx.Method
	var out []paramFact
	if !m.IsStatic() {
		out = append(out, paramFact{
			value:  domain.TypeOf(m.Owner(), domain.NotNull),
			isThis: true,
		})
	}
	for _, t := range m.Proto().Args() {
		out = append(out, paramFact{value: declaredValue(t, domain.Nullable)})
	}
	return out
}

// declaredValue maps a declared type to its abstract value: objects carry
// their type, primitives carry nothing.
func declaredValue(t *dex.Type, n domain.Nullness) domain.TypeDomain {
	if t == nil || !t.IsObject() {
		return domain.Top()
	}
	return domain.TypeOf(t, n)
}

func analyzeParam(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	if !ir.IsLoadParam(in.Op()) {
		return env, false
	}
	f, ok := ctx.params[in]
	if !ok {
		return env.Set(in.Dest(), domain.Top()), true
	}
	env = env.Set(in.Dest(), f.value)
	if f.isThis {
		env = env.SetThis(in.Dest())
	}
	return env, true
}

func analyzeConst(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	switch in.Op() {
	case ir.OpConst, ir.OpConstWide:
		if in.Literal() == 0 && in.Op() == ir.OpConst {
			return env.Set(in.Dest(), domain.Null()), true
		}
		return env.Set(in.Dest(), domain.ConstDomain(in.Literal())), true
	case ir.OpConstString:
		t := ctx.Registry.MakeType("Ljava/lang/String;")
		return env.Set(in.Dest(), domain.TypeOf(t, domain.NotNull)), true
	case ir.OpConstClass:
		t := ctx.Registry.MakeType("Ljava/lang/Class;")
		return env.Set(in.Dest(), domain.TypeOf(t, domain.NotNull)), true
	case ir.OpMoveException:
		t := ctx.Registry.MakeType("Ljava/lang/Throwable;")
		return env.Set(in.Dest(), domain.TypeOf(t, domain.NotNull)), true
	}
	return env, false
}

func analyzeAlloc(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	switch in.Op() {
	case ir.OpNewInstance:
		return env.Set(in.Dest(), domain.TypeOf(in.TypeRef(), domain.NotNull)), true
	case ir.OpNewArray:
		length := int64(-1)
		if v, ok := env.Get(in.Src(0)).Constant(); ok {
			length = v
		}
		return env.Set(in.Dest(), domain.ArrayOf(in.TypeRef(), length)), true
	case ir.OpFilledNewArray:
		return env.Set(ResultReg, domain.ArrayOf(in.TypeRef(), int64(in.SrcsSize()))), true
	case ir.OpCheckCast:
		n := env.Get(in.Src(0)).Nullness()
		return env.Set(in.Dest(), domain.TypeOf(in.TypeRef(), n)), true
	}
	return env, false
}

func analyzeArray(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	switch {
	case in.Op() == ir.OpAgetObject:
		arr := env.Get(in.Src(0))
		out := domain.Top()
		if t, ok := arr.SingleType(); ok && t.IsArray() {
			n := domain.Nullable
			if an, isArr := arr.Array(); isArr {
				if idx, known := env.Get(in.Src(1)).Constant(); known {
					n = an.Element(idx)
				}
			}
			out = domain.TypeOf(ctx.Registry.ElementType(t), n)
		}
		return env.Set(in.Dest(), out), true
	case in.Op() == ir.OpAputObject:
		arr := env.Get(in.Src(1))
		if an, isArr := arr.Array(); isArr {
			if idx, known := env.Get(in.Src(2)).Constant(); known {
				val := env.Get(in.Src(0))
				env = env.Set(in.Src(1), arr.SetArray(an.SetElement(idx, val.Nullness())))
			}
		}
		return env, true
	case in.Op() == ir.OpArrayLength:
		if an, isArr := env.Get(in.Src(0)).Array(); isArr {
			if length, ok := an.Length(); ok {
				return env.Set(in.Dest(), domain.ConstDomain(length)), true
			}
		}
		return env.Set(in.Dest(), domain.Top()), true
	case ir.IsAget(in.Op()):
		return env.Set(in.Dest(), domain.Top()), true
	case ir.IsAput(in.Op()):
		return env, true
	}
	return env, false
}

func analyzeField(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	op := in.Op()
	switch {
	case ir.IsSget(op), ir.IsIget(op):
		f := in.FieldRef()
		out := declaredValue(f.Type(), domain.Nullable)
		if local, ok := localFieldRead(ctx, in, env); ok {
			out = local
		} else if ctx.WPS != nil {
			if d, ok := ctx.WPS.GetFieldType(f); ok {
				out = d
			}
		}
		return env.Set(ResultReg, out), true
	case ir.IsSput(op):
		f := in.FieldRef()
		if ctx.Method.IsClinit() && ctx.Method.Owner() == f.Owner() {
			env = env.SetField(f, env.Get(in.Src(0)))
		}
		return env, true
	case ir.IsIput(op):
		f := in.FieldRef()
		if ctx.Method.IsInit() && env.IsThis(in.Src(1)) {
			env = env.SetField(f, env.Get(in.Src(0)))
		}
		return env, true
	}
	return env, false
}

// localFieldRead answers field reads out of the local field environment, but
// only inside the initializer that owns those writes. An iget must read
// through the this pointer for the fact to apply.
func localFieldRead(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeDomain, bool) {
	f := in.FieldRef()
	if ir.IsSget(in.Op()) {
		if !ctx.Method.IsClinit() || ctx.Method.Owner() != f.Owner() {
			return domain.TypeDomain{}, false
		}
	} else {
		if !ctx.Method.IsInit() || !env.IsThis(in.Src(0)) {
			return domain.TypeDomain{}, false
		}
	}
	d := env.GetField(f)
	if d.IsTop() {
		return domain.TypeDomain{}, false
	}
	return d, true
}

func analyzeInvoke(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	op := in.Op()
	if !ir.IsInvoke(op) {
		if !ir.IsMoveResultAny(op) {
			return env, false
		}
		return env.Set(in.Dest(), env.Get(ResultReg)), true
	}

	target := in.MethodRef()
	rtype := target.Proto().Rtype()
	out := declaredValue(rtype, domain.Nullable)
	if ctx.WPS != nil {
		if d, ok := ctx.WPS.GetReturnType(target); ok {
			out = d
		}
	}
	if rtype != nil && !rtype.IsVoid() {
		env = env.Set(ResultReg, out)
	}

	// The callee may have stored into any array argument.
	for i := 0; i < in.SrcsSize(); i++ {
		arg := env.Get(in.Src(i))
		if an, isArr := arg.Array(); isArr {
			if length, ok := an.Length(); ok && length > 0 {
				env = env.Set(in.Src(i), arg.SetArray(an.ResetElements()))
			}
		}
	}
	return env, true
}

func analyzeMove(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	if !ir.IsMove(in.Op()) {
		return env, false
	}
	src := in.Src(0)
	wasThis := env.IsThis(src)
	env = env.Set(in.Dest(), env.Get(src))
	if wasThis {
		env = env.SetThis(in.Dest())
	}
	return env, true
}

func analyzeBinop(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	if !ir.IsBinop(in.Op()) {
		return env, false
	}
	a, aok := env.Get(in.Src(0)).Constant()
	b, bok := env.Get(in.Src(1)).Constant()
	if aok && bok {
		if v, ok := foldBinop(in.Op(), a, b); ok {
			return env.Set(in.Dest(), domain.ConstDomain(v)), true
		}
	}
	return env.Set(in.Dest(), domain.Top()), true
}

func foldBinop(op ir.Op, a, b int64) (int64, bool) {
	wide := ir.IsBinop64(op)
	if !wide {
		a, b = int64(int32(a)), int64(int32(b))
	}
	var v int64
	switch op {
	case ir.OpAddInt, ir.OpAddLong:
		v = a + b
	case ir.OpSubInt, ir.OpSubLong:
		v = a - b
	case ir.OpMulInt, ir.OpMulLong:
		v = a * b
	case ir.OpDivInt, ir.OpDivLong:
		if b == 0 {
			return 0, false
		}
		v = a / b
	case ir.OpRemInt, ir.OpRemLong:
		if b == 0 {
			return 0, false
		}
		v = a % b
	case ir.OpAndInt, ir.OpAndLong:
		v = a & b
	case ir.OpOrInt, ir.OpOrLong:
		v = a | b
	case ir.OpXorInt, ir.OpXorLong:
		v = a ^ b
	case ir.OpShlInt:
		v = a << (uint(b) & 31)
	case ir.OpShrInt:
		v = a >> (uint(b) & 31)
	case ir.OpUshrInt:
		v = int64(uint32(a) >> (uint(b) & 31))
	default:
		return 0, false
	}
	if !wide {
		v = int64(int32(v))
	}
	return v, true
}

// analyzeClobber is the chain's last link: anything unhandled that writes a
// destination loses all facts about it.
func analyzeClobber(ctx *Context, in *ir.Instruction, env domain.TypeEnvironment) (domain.TypeEnvironment, bool) {
	if in.HasDest() {
		return env.Set(in.Dest(), domain.Top()), true
	}
	return env, true
}
