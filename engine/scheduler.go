package engine

import (
	"fmt"
	"math/rand"

	"github.com/frank-ceva/nem/backend"
	"github.com/frank-ceva/nem/device"
	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/opcode"
	"github.com/frank-ceva/nem/parser"
	"github.com/frank-ceva/nem/validate"
)

// Policy selects the next task among the ready set.
type Policy interface {
	Name() string
	// Pick returns an index into the ready slice, which is ordered by task
	// sequence number.
	Pick(ready []*rtTask) int
}

type sourceOrder struct{}

func (sourceOrder) Name() string            { return "source-order" }
func (sourceOrder) Pick(ready []*rtTask) int { return 0 }

// SourceOrderPolicy is the default, stable policy: the ready task that
// appears earliest in the expanded program runs first.
func SourceOrderPolicy() Policy { return sourceOrder{} }

type randomPolicy struct {
	rng *rand.Rand
}

func (randomPolicy) Name() string { return "random" }
func (p randomPolicy) Pick(ready []*rtTask) int {
	return p.rng.Intn(len(ready))
}

// RandomPolicy selects uniformly among ready tasks, seeded for
// reproducibility. It exposes hidden ordering assumptions in programs.
func RandomPolicy(seed int64) Policy {
	return randomPolicy{rng: rand.New(rand.NewSource(seed))}
}

// Builder assembles an execution engine.
type Builder struct {
	dev      *device.Config
	reg      *opcode.Registry
	backend  backend.Backend
	col      *diag.Collector
	policy   Policy
	offChip  int64
}

// WithDevice sets the resolved device the engine models.
func (b Builder) WithDevice(dev *device.Config) Builder {
	b.dev = dev
	return b
}

// WithRegistry sets the opcode registry.
func (b Builder) WithRegistry(reg *opcode.Registry) Builder {
	b.reg = reg
	return b
}

// WithBackend sets the numeric backend.
func (b Builder) WithBackend(be backend.Backend) Builder {
	b.backend = be
	return b
}

// WithCollector sets the diagnostic collector.
func (b Builder) WithCollector(col *diag.Collector) Builder {
	b.col = col
	return b
}

// WithPolicy sets the scheduling policy; the default is source order.
func (b Builder) WithPolicy(p Policy) Builder {
	b.policy = p
	return b
}

// WithOffChipBytes overrides the modeled main-memory capacity.
func (b Builder) WithOffChipBytes(n int64) Builder {
	b.offChip = n
	return b
}

// Build creates the engine.
func (b Builder) Build() *Engine {
	if b.policy == nil {
		b.policy = SourceOrderPolicy()
	}
	if b.col == nil {
		b.col = &diag.Collector{}
	}
	return &Engine{
		dev:     b.dev,
		reg:     b.reg,
		backend: b.backend,
		col:     b.col,
		policy:  b.policy,
		offChip: b.offChip,
		tokens:  &TokenManager{},
	}
}

// Engine executes one validated program. Single-threaded and event-driven:
// concurrency in the source program is linearized into one valid order.
type Engine struct {
	dev     *device.Config
	reg     *opcode.Registry
	backend backend.Backend
	col     *diag.Collector
	policy  Policy
	offChip int64

	an     *validate.Analysis
	mem    *MemorySystem
	tokens *TokenManager
	tasks  []*rtTask
	loops  []*loopInstance

	loaded    bool
	executed  int
	maxActive []int
}

// Load allocates buffers and builds the task graph. It refuses programs
// whose validation collected errors.
func (e *Engine) Load(prog *parser.Program, an *validate.Analysis) error {
	if e.col.HasErrors() {
		return fmt.Errorf("refusing to execute: validation reported %d errors",
			e.col.ErrorCount())
	}
	if e.dev == nil || e.dev.Topology == nil {
		return fmt.Errorf("cannot execute against an abstract device")
	}
	e.an = an
	e.mem = NewMemorySystem(e.dev, e.offChip)

	// Buffers allocate linearly in declaration order.
	for _, stmt := range prog.Body {
		decl, ok := stmt.(*parser.BufferDecl)
		if !ok {
			continue
		}
		info := an.Buffers[decl.Name]
		if info == nil {
			return fmt.Errorf("buffer %q has no analysis record", decl.Name)
		}
		if _, err := e.mem.Allocate(decl.Name, spaceFor(info), info.Size, info.Align); err != nil {
			e.col.Errorf(decl.Loc(), "%v", err)
			return err
		}
	}

	if err := e.build(prog); err != nil {
		e.col.Errorf(prog.Loc(), "cannot build task graph: %v", err)
		return err
	}
	e.loaded = true
	return nil
}

func spaceFor(info *validate.BufferInfo) nem.Space {
	s := nem.Space{Level: info.Decl.Level}
	if info.Decl.Level == nem.Scratchpad {
		s.Engine = info.Engine
	}
	return s
}

// Run executes every task.
func (e *Engine) Run() error {
	_, err := e.RunBounded(len(e.tasks))
	return err
}

// RunBounded dispatches at most maxTasks tasks and returns how many ran.
// Bounded stepping is an inspection convenience, not cancellation.
func (e *Engine) RunBounded(maxTasks int) (int, error) {
	if !e.loaded {
		return 0, fmt.Errorf("no program loaded")
	}
	ran := 0
	for ran < maxTasks {
		ready := e.readyTasks()
		if len(ready) == 0 {
			if e.pendingCount() == 0 {
				break
			}
			err := fmt.Errorf(
				"scheduler invariant violation: %d tasks pending but none ready",
				e.pendingCount())
			e.col.Errorf(diag.Location{}, "%v", err)
			return ran, err
		}
		t := ready[e.policy.Pick(ready)]
		Trace("dispatch", "seq", t.seq, "task", t.label)
		if err := e.dispatch(t); err != nil {
			e.col.Errorf(t.stmt.Loc(), "task failed: %v", err)
			return ran, err
		}
		t.done = true
		e.executed++
		ran++
		if t.hasToken {
			if err := e.tokens.Produce(t.token); err != nil {
				e.col.Errorf(t.stmt.Loc(), "%v", err)
				return ran, err
			}
		}
		for _, w := range t.window {
			w.loop.taskDone(w.idx)
		}
		e.noteActive()
	}
	return ran, nil
}

// readyTasks returns pending tasks whose dependencies are satisfied and
// whose loop iterations fall inside every enclosing pipelining window.
func (e *Engine) readyTasks() []*rtTask {
	var ready []*rtTask
	for _, t := range e.tasks {
		if t.done {
			continue
		}
		if !e.tokens.AllSatisfied(t.deps) {
			continue
		}
		eligible := true
		for _, w := range t.window {
			if !w.loop.eligible(w.idx) {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, t)
		}
	}
	return ready
}

func (e *Engine) pendingCount() int {
	n := 0
	for _, t := range e.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

// noteActive records the widest pipelining window each loop reached, for
// invariant checks.
func (e *Engine) noteActive() {
	for i, li := range e.loops {
		active := 0
		for idx, rem := range li.remaining {
			if rem > 0 && idx < li.oldest+li.bound {
				// Iterations inside the window with incomplete tasks.
				active++
			}
		}
		for len(e.maxActive) <= i {
			e.maxActive = append(e.maxActive, 0)
		}
		if active > e.maxActive[i] {
			e.maxActive[i] = active
		}
	}
}

// MaxActiveIterations reports, per expanded loop, the largest number of
// simultaneously incomplete iterations observed inside the window.
func (e *Engine) MaxActiveIterations() []int {
	return append([]int(nil), e.maxActive...)
}

// ExecutedTasks returns how many tasks have been dispatched.
func (e *Engine) ExecutedTasks() int { return e.executed }

// Memory exposes the memory system for preloading inputs and collecting
// outputs.
func (e *Engine) Memory() *MemorySystem { return e.mem }

// Ledger returns the allocation bookkeeping.
func (e *Engine) Ledger() []Allocation { return e.mem.Ledger() }
