// Package ir defines the in-memory instruction set the optimizer works on:
// the dex opcode surface plus internal pseudo-opcodes for parameter loading
// and move-result-pseudo, which never appear in serialized bytecode.
package ir

// Op is an IR opcode.
type Op int

const (
	OpNop Op = iota

	OpConst
	OpConstWide
	OpConstString
	OpConstClass

	OpMove
	OpMoveWide
	OpMoveObject
	OpMoveResult
	OpMoveResultWide
	OpMoveResultObject
	OpMoveException

	OpReturnVoid
	OpReturn
	OpReturnWide
	OpReturnObject

	OpCheckCast
	OpInstanceOf
	OpArrayLength
	OpNewInstance
	OpNewArray
	OpFilledNewArray
	OpFillArrayData
	OpThrow
	OpGoto
	OpSwitch

	OpIfEq
	OpIfNe
	OpIfLt
	OpIfGe
	OpIfGt
	OpIfLe
	OpIfEqz
	OpIfNez
	OpIfLtz
	OpIfGez
	OpIfGtz
	OpIfLez

	OpAget
	OpAgetWide
	OpAgetObject
	OpAput
	OpAputWide
	OpAputObject

	OpIget
	OpIgetWide
	OpIgetObject
	OpIput
	OpIputWide
	OpIputObject
	OpSget
	OpSgetWide
	OpSgetObject
	OpSput
	OpSputWide
	OpSputObject

	OpInvokeVirtual
	OpInvokeSuper
	OpInvokeDirect
	OpInvokeStatic
	OpInvokeInterface

	OpNegInt
	OpNotInt
	OpAddInt
	OpSubInt
	OpMulInt
	OpDivInt
	OpRemInt
	OpAndInt
	OpOrInt
	OpXorInt
	OpShlInt
	OpShrInt
	OpUshrInt

	OpAddLong
	OpSubLong
	OpMulLong
	OpDivLong
	OpRemLong
	OpAndLong
	OpOrLong
	OpXorLong

	// Internal pseudo-opcodes. These never serialize.
	OpLoadParam
	OpLoadParamWide
	OpLoadParamObject
	OpMoveResultPseudo
	OpMoveResultPseudoWide
	OpMoveResultPseudoObject

	numOps
)

// PayloadKind identifies the single typed payload slot an opcode carries.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadLiteral
	PayloadString
	PayloadType
	PayloadField
	PayloadMethod
	PayloadData
)

// BranchKind classifies an opcode's control-flow behavior.
type BranchKind int

const (
	BranchNone BranchKind = iota
	BranchGoto
	BranchIf
	BranchSwitch
	BranchReturn
	BranchThrow
)

// opInfo is the static metadata record for one opcode.
type opInfo struct {
	name     string
	srcs     int // -1: variable arity (invokes, filled-new-array)
	hasDest  bool
	destWide bool
	destObj  bool
	payload  PayloadKind
	mayThrow bool
	branch   BranchKind
}

var opTable = [numOps]opInfo{
	OpNop: {name: "nop"},

	OpConst:       {name: "const", hasDest: true, payload: PayloadLiteral},
	OpConstWide:   {name: "const-wide", hasDest: true, destWide: true, payload: PayloadLiteral},
	OpConstString: {name: "const-string", hasDest: true, destObj: true, payload: PayloadString},
	OpConstClass:  {name: "const-class", hasDest: true, destObj: true, payload: PayloadType, mayThrow: true},

	OpMove:             {name: "move", srcs: 1, hasDest: true},
	OpMoveWide:         {name: "move-wide", srcs: 1, hasDest: true, destWide: true},
	OpMoveObject:       {name: "move-object", srcs: 1, hasDest: true, destObj: true},
	OpMoveResult:       {name: "move-result", hasDest: true},
	OpMoveResultWide:   {name: "move-result-wide", hasDest: true, destWide: true},
	OpMoveResultObject: {name: "move-result-object", hasDest: true, destObj: true},
	OpMoveException:    {name: "move-exception", hasDest: true, destObj: true},

	OpReturnVoid:   {name: "return-void", branch: BranchReturn},
	OpReturn:       {name: "return", srcs: 1, branch: BranchReturn},
	OpReturnWide:   {name: "return-wide", srcs: 1, branch: BranchReturn},
	OpReturnObject: {name: "return-object", srcs: 1, branch: BranchReturn},

	OpCheckCast:      {name: "check-cast", srcs: 1, hasDest: true, destObj: true, payload: PayloadType, mayThrow: true},
	OpInstanceOf:     {name: "instance-of", srcs: 1, hasDest: true, payload: PayloadType},
	OpArrayLength:    {name: "array-length", srcs: 1, hasDest: true, mayThrow: true},
	OpNewInstance:    {name: "new-instance", hasDest: true, destObj: true, payload: PayloadType, mayThrow: true},
	OpNewArray:       {name: "new-array", srcs: 1, hasDest: true, destObj: true, payload: PayloadType, mayThrow: true},
	OpFilledNewArray: {name: "filled-new-array", srcs: -1, payload: PayloadType, mayThrow: true},
	OpFillArrayData:  {name: "fill-array-data", srcs: 1, payload: PayloadData, mayThrow: true},
	OpThrow:          {name: "throw", srcs: 1, branch: BranchThrow},
	OpGoto:           {name: "goto", branch: BranchGoto},
	OpSwitch:         {name: "switch", srcs: 1, branch: BranchSwitch},

	OpIfEq:  {name: "if-eq", srcs: 2, branch: BranchIf},
	OpIfNe:  {name: "if-ne", srcs: 2, branch: BranchIf},
	OpIfLt:  {name: "if-lt", srcs: 2, branch: BranchIf},
	OpIfGe:  {name: "if-ge", srcs: 2, branch: BranchIf},
	OpIfGt:  {name: "if-gt", srcs: 2, branch: BranchIf},
	OpIfLe:  {name: "if-le", srcs: 2, branch: BranchIf},
	OpIfEqz: {name: "if-eqz", srcs: 1, branch: BranchIf},
	OpIfNez: {name: "if-nez", srcs: 1, branch: BranchIf},
	OpIfLtz: {name: "if-ltz", srcs: 1, branch: BranchIf},
	OpIfGez: {name: "if-gez", srcs: 1, branch: BranchIf},
	OpIfGtz: {name: "if-gtz", srcs: 1, branch: BranchIf},
	OpIfLez: {name: "if-lez", srcs: 1, branch: BranchIf},

	OpAget:       {name: "aget", srcs: 2, hasDest: true, mayThrow: true},
	OpAgetWide:   {name: "aget-wide", srcs: 2, hasDest: true, destWide: true, mayThrow: true},
	OpAgetObject: {name: "aget-object", srcs: 2, hasDest: true, destObj: true, mayThrow: true},
	OpAput:       {name: "aput", srcs: 3, mayThrow: true},
	OpAputWide:   {name: "aput-wide", srcs: 3, mayThrow: true},
	OpAputObject: {name: "aput-object", srcs: 3, mayThrow: true},

	OpIget:       {name: "iget", srcs: 1, payload: PayloadField, mayThrow: true},
	OpIgetWide:   {name: "iget-wide", srcs: 1, payload: PayloadField, mayThrow: true},
	OpIgetObject: {name: "iget-object", srcs: 1, payload: PayloadField, mayThrow: true},
	OpIput:       {name: "iput", srcs: 2, payload: PayloadField, mayThrow: true},
	OpIputWide:   {name: "iput-wide", srcs: 2, payload: PayloadField, mayThrow: true},
	OpIputObject: {name: "iput-object", srcs: 2, payload: PayloadField, mayThrow: true},
	OpSget:       {name: "sget", payload: PayloadField, mayThrow: true},
	OpSgetWide:   {name: "sget-wide", payload: PayloadField, mayThrow: true},
	OpSgetObject: {name: "sget-object", payload: PayloadField, mayThrow: true},
	OpSput:       {name: "sput", srcs: 1, payload: PayloadField, mayThrow: true},
	OpSputWide:   {name: "sput-wide", srcs: 1, payload: PayloadField, mayThrow: true},
	OpSputObject: {name: "sput-object", srcs: 1, payload: PayloadField, mayThrow: true},

	OpInvokeVirtual:   {name: "invoke-virtual", srcs: -1, payload: PayloadMethod, mayThrow: true},
	OpInvokeSuper:     {name: "invoke-super", srcs: -1, payload: PayloadMethod, mayThrow: true},
	OpInvokeDirect:    {name: "invoke-direct", srcs: -1, payload: PayloadMethod, mayThrow: true},
	OpInvokeStatic:    {name: "invoke-static", srcs: -1, payload: PayloadMethod, mayThrow: true},
	OpInvokeInterface: {name: "invoke-interface", srcs: -1, payload: PayloadMethod, mayThrow: true},

	OpNegInt:  {name: "neg-int", srcs: 1, hasDest: true},
	OpNotInt:  {name: "not-int", srcs: 1, hasDest: true},
	OpAddInt:  {name: "add-int", srcs: 2, hasDest: true},
	OpSubInt:  {name: "sub-int", srcs: 2, hasDest: true},
	OpMulInt:  {name: "mul-int", srcs: 2, hasDest: true},
	OpDivInt:  {name: "div-int", srcs: 2, hasDest: true, mayThrow: true},
	OpRemInt:  {name: "rem-int", srcs: 2, hasDest: true, mayThrow: true},
	OpAndInt:  {name: "and-int", srcs: 2, hasDest: true},
	OpOrInt:   {name: "or-int", srcs: 2, hasDest: true},
	OpXorInt:  {name: "xor-int", srcs: 2, hasDest: true},
	OpShlInt:  {name: "shl-int", srcs: 2, hasDest: true},
	OpShrInt:  {name: "shr-int", srcs: 2, hasDest: true},
	OpUshrInt: {name: "ushr-int", srcs: 2, hasDest: true},

	OpAddLong: {name: "add-long", srcs: 2, hasDest: true, destWide: true},
	OpSubLong: {name: "sub-long", srcs: 2, hasDest: true, destWide: true},
	OpMulLong: {name: "mul-long", srcs: 2, hasDest: true, destWide: true},
	OpDivLong: {name: "div-long", srcs: 2, hasDest: true, destWide: true, mayThrow: true},
	OpRemLong: {name: "rem-long", srcs: 2, hasDest: true, destWide: true, mayThrow: true},
	OpAndLong: {name: "and-long", srcs: 2, hasDest: true, destWide: true},
	OpOrLong:  {name: "or-long", srcs: 2, hasDest: true, destWide: true},
	OpXorLong: {name: "xor-long", srcs: 2, hasDest: true, destWide: true},

	OpLoadParam:              {name: "load-param", hasDest: true},
	OpLoadParamWide:          {name: "load-param-wide", hasDest: true, destWide: true},
	OpLoadParamObject:        {name: "load-param-object", hasDest: true, destObj: true},
	OpMoveResultPseudo:       {name: "move-result-pseudo", hasDest: true},
	OpMoveResultPseudoWide:   {name: "move-result-pseudo-wide", hasDest: true, destWide: true},
	OpMoveResultPseudoObject: {name: "move-result-pseudo-object", hasDest: true, destObj: true},
}

func (op Op) String() string {
	if op < 0 || op >= numOps {
		return "op(?)"
	}
	return opTable[op].name
}

func info(op Op) *opInfo {
	if op < 0 || op >= numOps {
		panic("ir: opcode out of range")
	}
	return &opTable[op]
}

// OpByName returns the opcode with the given assembly name.
func OpByName(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, numOps)
	for op := Op(0); op < numOps; op++ {
		m[opTable[op].name] = op
	}
	return m
}()

// IsInvoke reports whether op is one of the invoke variants.
func IsInvoke(op Op) bool {
	return op >= OpInvokeVirtual && op <= OpInvokeInterface
}

// IsReturn reports whether op is a return variant.
func IsReturn(op Op) bool { return info(op).branch == BranchReturn }

// IsBranch reports whether op is a goto, if or switch.
func IsBranch(op Op) bool {
	b := info(op).branch
	return b == BranchGoto || b == BranchIf || b == BranchSwitch
}

// IsConditionalBranch reports whether op is an if variant.
func IsConditionalBranch(op Op) bool { return info(op).branch == BranchIf }

// IsSwitch reports whether op is a switch.
func IsSwitch(op Op) bool { return info(op).branch == BranchSwitch }

// IsGoto reports whether op is a goto.
func IsGoto(op Op) bool { return info(op).branch == BranchGoto }

// MayThrow reports whether op can raise at runtime (THROW excluded).
func MayThrow(op Op) bool { return info(op).mayThrow }

// CanThrow reports whether op can transfer control to a catch handler.
func CanThrow(op Op) bool { return info(op).mayThrow || op == OpThrow }

// IsTerminal reports whether op always ends its block.
func IsTerminal(op Op) bool { return info(op).branch != BranchNone }

// HasMoveResultAny reports whether op produces a value through a following
// move-result or move-result-pseudo.
func HasMoveResultAny(op Op) bool {
	return IsInvoke(op) || op == OpFilledNewArray || HasMoveResultPseudo(op)
}

// HasMoveResult reports whether op may be followed by a real move-result.
func HasMoveResult(op Op) bool { return IsInvoke(op) || op == OpFilledNewArray }

// HasMoveResultPseudo reports whether op writes through a move-result-pseudo.
func HasMoveResultPseudo(op Op) bool { return IsIget(op) || IsSget(op) }

// IsMove reports whether op is a register-to-register move.
func IsMove(op Op) bool { return op == OpMove || op == OpMoveWide || op == OpMoveObject }

// IsMoveResult reports whether op is a real move-result.
func IsMoveResult(op Op) bool {
	return op == OpMoveResult || op == OpMoveResultWide || op == OpMoveResultObject
}

// IsMoveResultPseudo reports whether op is an internal move-result-pseudo.
func IsMoveResultPseudo(op Op) bool {
	return op == OpMoveResultPseudo || op == OpMoveResultPseudoWide || op == OpMoveResultPseudoObject
}

// IsMoveResultAny reports whether op is a real or pseudo move-result.
func IsMoveResultAny(op Op) bool { return IsMoveResult(op) || IsMoveResultPseudo(op) }

// IsLoadParam reports whether op is an internal load-param.
func IsLoadParam(op Op) bool {
	return op == OpLoadParam || op == OpLoadParamWide || op == OpLoadParamObject
}

// IsConst reports whether op is const or const-wide.
func IsConst(op Op) bool { return op == OpConst || op == OpConstWide }

// HasVariableSrcsSize reports whether op takes a variable source list.
func HasVariableSrcsSize(op Op) bool { return info(op).srcs < 0 }

// IsBinop64 reports whether op is a 64-bit binary arithmetic op.
func IsBinop64(op Op) bool { return op >= OpAddLong && op <= OpXorLong }

// IsBinop reports whether op is a 32- or 64-bit binary arithmetic op.
func IsBinop(op Op) bool { return op >= OpAddInt && op <= OpXorLong }

// IsIget reports whether op is an instance-field get.
func IsIget(op Op) bool { return op >= OpIget && op <= OpIgetObject }

// IsIput reports whether op is an instance-field put.
func IsIput(op Op) bool { return op >= OpIput && op <= OpIputObject }

// IsSget reports whether op is a static-field get.
func IsSget(op Op) bool { return op >= OpSget && op <= OpSgetObject }

// IsSput reports whether op is a static-field put.
func IsSput(op Op) bool { return op >= OpSput && op <= OpSputObject }

// IsIfieldOp reports whether op accesses an instance field.
func IsIfieldOp(op Op) bool { return IsIget(op) || IsIput(op) }

// IsSfieldOp reports whether op accesses a static field.
func IsSfieldOp(op Op) bool { return IsSget(op) || IsSput(op) }

// IsAget reports whether op is an array get.
func IsAget(op Op) bool { return op >= OpAget && op <= OpAgetObject }

// IsAput reports whether op is an array put.
func IsAput(op Op) bool { return op >= OpAput && op <= OpAputObject }

// MoveResultPseudoForIget returns the pseudo opcode matching an iget variant.
func MoveResultPseudoForIget(op Op) Op {
	switch op {
	case OpIget:
		return OpMoveResultPseudo
	case OpIgetWide:
		return OpMoveResultPseudoWide
	case OpIgetObject:
		return OpMoveResultPseudoObject
	}
	panic("ir: MoveResultPseudoForIget on " + op.String())
}

// MoveResultPseudoForSget returns the pseudo opcode matching an sget variant.
func MoveResultPseudoForSget(op Op) Op {
	switch op {
	case OpSget:
		return OpMoveResultPseudo
	case OpSgetWide:
		return OpMoveResultPseudoWide
	case OpSgetObject:
		return OpMoveResultPseudoObject
	}
	panic("ir: MoveResultPseudoForSget on " + op.String())
}

// LoadParamToMove returns the move opcode matching a load-param variant.
func LoadParamToMove(op Op) Op {
	switch op {
	case OpLoadParam:
		return OpMove
	case OpLoadParamWide:
		return OpMoveWide
	case OpLoadParamObject:
		return OpMoveObject
	}
	panic("ir: LoadParamToMove on " + op.String())
}

// ReturnToMove returns the move opcode matching a non-void return variant.
func ReturnToMove(op Op) Op {
	switch op {
	case OpReturn:
		return OpMove
	case OpReturnWide:
		return OpMoveWide
	case OpReturnObject:
		return OpMoveObject
	}
	panic("ir: ReturnToMove on " + op.String())
}

// InvertConditionalBranch flips the sense of an if variant.
func InvertConditionalBranch(op Op) Op {
	switch op {
	case OpIfEq:
		return OpIfNe
	case OpIfNe:
		return OpIfEq
	case OpIfLt:
		return OpIfGe
	case OpIfGe:
		return OpIfLt
	case OpIfGt:
		return OpIfLe
	case OpIfLe:
		return OpIfGt
	case OpIfEqz:
		return OpIfNez
	case OpIfNez:
		return OpIfEqz
	case OpIfLtz:
		return OpIfGez
	case OpIfGez:
		return OpIfLtz
	case OpIfGtz:
		return OpIfLez
	case OpIfLez:
		return OpIfGtz
	}
	panic("ir: InvertConditionalBranch on " + op.String())
}
