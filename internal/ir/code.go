package ir

// Graph is the built-CFG form of a method body, seen from here as an opaque
// handle so the IR package does not depend on the CFG package. The CFG
// package's Graph type implements it.
type Graph interface {
	InstructionCount() int
}

// Code is a method body. It is in exactly one of two forms at any time: the
// flat item list, or a built CFG. Transitions between the forms are explicit
// and owned by the CFG package.
type Code struct {
	regCount int
	list     *List
	graph    Graph
}

// NewCode creates a code object in flat-list form.
func NewCode(regCount int, list *List) *Code {
	if list == nil {
		list = NewList()
	}
	return &Code{regCount: regCount, list: list}
}

// RegisterCount returns the number of registers the body uses.
func (c *Code) RegisterCount() int { return c.regCount }

// SetRegisterCount grows or shrinks the register file.
func (c *Code) SetRegisterCount(n int) { c.regCount = n }

// InstructionCount returns the number of instructions in either form.
func (c *Code) InstructionCount() int {
	if c.graph != nil {
		return c.graph.InstructionCount()
	}
	return c.list.InstructionCount()
}

// HasCFG reports whether the body is currently in CFG form.
func (c *Code) HasCFG() bool { return c.graph != nil }

// List returns the flat list. Panics while a CFG is built.
func (c *Code) List() *List {
	if c.graph != nil {
		panic("ir: List() while CFG is built")
	}
	return c.list
}

// CFG returns the built graph. Panics in flat-list form.
func (c *Code) CFG() Graph {
	if c.graph == nil {
		panic("ir: CFG() without a built CFG")
	}
	return c.graph
}

// AttachCFG moves the body into CFG form. Only the CFG package calls this.
func (c *Code) AttachCFG(g Graph) {
	if c.graph != nil {
		panic("ir: AttachCFG with a CFG already built")
	}
	c.graph = g
	c.list = nil
}

// DetachCFG moves the body back into flat-list form with the linearized
// items. Only the CFG package calls this.
func (c *Code) DetachCFG(list *List) {
	if c.graph == nil {
		panic("ir: DetachCFG without a built CFG")
	}
	c.graph = nil
	c.list = list
}
