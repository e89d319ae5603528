// Package passes hosts the optimizer's pass harness and the passes built on
// it. The Manager owns pass registration, per-pass metrics and the CFG form
// discipline: a pass asking for editable CFGs gets every method body built
// before it runs and linearized after, so the next pass sees flat lists.
package passes

import (
	"sort"
	"sync"

	"github.com/tliron/commonlog"

	"dexopt/internal/cfg"
	"dexopt/internal/config"
	"dexopt/internal/dex"
	"dexopt/internal/ir"
	"dexopt/internal/walk"
)

var log = commonlog.GetLogger("dexopt.passes")

// Pass is a single scope transformation.
type Pass interface {
	Name() string
	Description() string
	// EditableCFG reports whether the pass mutates method bodies through
	// the CFG and needs them built editable.
	EditableCFG() bool
	Run(ctx *Context)
}

// Context is what a running pass sees.
type Context struct {
	Registry *dex.Registry
	Scope    []*dex.Class
	Config   *config.Bag
	mgr      *Manager
	pass     string
	newScope []*dex.Class
}

// ShrinkScope hands the manager a reduced scope; later passes see it instead
// of the one this pass received.
func (c *Context) ShrinkScope(s []*dex.Class) {
	c.newScope = s
}

// IncrMetric adds delta to a pass-local counter.
func (c *Context) IncrMetric(name string, delta int64) {
	c.mgr.incrMetric(c.pass+"."+name, delta)
}

// SetMetric overwrites a pass-local gauge.
func (c *Context) SetMetric(name string, v int64) {
	c.mgr.setMetric(c.pass+"."+name, v)
}

// Metric is one named counter in the final snapshot.
type Metric struct {
	Name  string
	Value int64
}

// Manager runs registered passes in order over a scope.
type Manager struct {
	reg    *dex.Registry
	cfg    *config.Bag
	passes []Pass

	mu      sync.Mutex
	metrics map[string]int64
}

// NewManager creates an empty manager.
func NewManager(reg *dex.Registry, bag *config.Bag) *Manager {
	return &Manager{reg: reg, cfg: bag, metrics: make(map[string]int64)}
}

// Register appends a pass to the pipeline.
func (m *Manager) Register(p Pass) {
	m.passes = append(m.passes, p)
}

// Run executes every registered pass and returns the final scope, which may
// be smaller than the input when passes delete classes. Bodies enter and
// leave each pass in flat-list form; editable-CFG passes get the
// build/teardown around them.
func (m *Manager) Run(scope []*dex.Class) []*dex.Class {
	for _, p := range m.passes {
		log.Infof("running %s: %s", p.Name(), p.Description())
		if p.EditableCFG() {
			buildAllCFGs(scope, true)
		}
		ctx := &Context{
			Registry: m.reg,
			Scope:    scope,
			Config:   m.cfg.Sub(p.Name()),
			mgr:      m,
			pass:     p.Name(),
		}
		p.Run(ctx)
		if ctx.newScope != nil {
			scope = ctx.newScope
		}
		clearAllCFGs(scope)
	}
	return scope
}

// Metrics returns the counters sorted by name.
func (m *Manager) Metrics() []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metric, 0, len(m.metrics))
	for name, v := range m.metrics {
		out = append(out, Metric{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) incrMetric(name string, delta int64) {
	m.mu.Lock()
	m.metrics[name] += delta
	m.mu.Unlock()
}

func (m *Manager) setMetric(name string, v int64) {
	m.mu.Lock()
	m.metrics[name] = v
	m.mu.Unlock()
}

func buildAllCFGs(scope []*dex.Class, editable bool) {
	walk.MethodsWithCode(scope, func(method *dex.MethodRef) {
		code := method.Code().(*ir.Code)
		if !code.HasCFG() {
			cfg.Build(code, method.String(), editable)
		}
	})
}

func clearAllCFGs(scope []*dex.Class) {
	walk.MethodsWithCode(scope, func(method *dex.MethodRef) {
		code := method.Code().(*ir.Code)
		if code.HasCFG() {
			if g, ok := code.CFG().(*cfg.Graph); ok {
				g.ClearCFG()
			}
		}
	})
}
