package validate

import (
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/parser"
)

// Pass 8: engine placement. A single task must not reference the
// scratchpads of two different engines. Scratchpad buffers carry the
// concrete engine that pass 3 evaluated from constants.
func (c *context) checkPlacement() {
	for _, inst := range c.insts {
		engine := -1
		for _, a := range inst.accesses {
			if a.level != nem.Scratchpad || a.engine < 0 {
				continue
			}
			if engine < 0 {
				engine = a.engine
				continue
			}
			if engine != a.engine {
				if c.reportOnce(inst.stmt.ID()) {
					c.col.Errorf(inst.stmt.Loc(),
						"task references scratchpads of engines %d and %d; a task must not straddle two engines",
						engine, a.engine)
				}
				break
			}
		}
	}
}

// decoratorSite names where a decorator is attached.
type decoratorSite int

const (
	onBuffer decoratorSite = iota
	onRegion
	onOperand
	onTask
	onLoop
)

// Pass 9: decorator validation. Names come from the closed registry;
// argument counts and kinds must match; placement must suit the effect.
func (c *context) checkDecorators() {
	var walk func(body []parser.Stmt)
	walk = func(body []parser.Stmt) {
		for _, stmt := range body {
			switch stmt := stmt.(type) {
			case *parser.BufferDecl:
				c.checkDecoratorList(stmt.Decorators, onBuffer)
			case *parser.LetDecl:
				c.checkDecoratorList(stmt.Decorators, onRegion)
			case *parser.LoopStmt:
				c.checkDecoratorList(stmt.Decorators, onLoop)
				walk(stmt.Body)
			case *parser.TaskStmt:
				c.checkDecoratorList(stmt.Decorators, onTask)
				c.checkCallDecorators(stmt)
			}
		}
	}
	walk(c.prog.Body)
}

func (c *context) checkCallDecorators(stmt *parser.TaskStmt) {
	each := func(ops ...*parser.Operand) {
		for _, op := range ops {
			if op != nil {
				c.checkDecoratorList(op.Decorators, onOperand)
			}
		}
	}
	switch call := stmt.Call.(type) {
	case *parser.TransferCall:
		each(call.Src, call.Dst)
	case *parser.StoreCall:
		each(call.Target)
	case *parser.ComputeCall:
		each(call.In...)
		each(call.Out...)
	}

	// memmove is a property of a transfer; anywhere else it has no effect
	// to grant.
	if taskHasDecorator(stmt, "memmove") {
		if _, isTransfer := stmt.Call.(*parser.TransferCall); !isTransfer {
			c.col.Errorf(stmt.Loc(), "@memmove applies only to transfer tasks")
		}
	}
}

func (c *context) checkDecoratorList(decs []*parser.Decorator, site decoratorSite) {
	for _, d := range decs {
		spec, known := nem.DecoratorByName(d.Name)
		if !known {
			c.col.Errorf(d.Loc(), "unknown decorator @%s", d.Name)
			continue
		}
		if len(d.Args) != len(spec.Args) {
			c.col.Errorf(d.Loc(), "@%s takes %d arguments, got %d",
				d.Name, len(spec.Args), len(d.Args))
			continue
		}
		for i, arg := range d.Args {
			switch spec.Args[i] {
			case nem.ArgInt:
				if arg.Expr == nil {
					c.col.Errorf(arg.Loc(), "@%s argument %d must be an integer expression",
						d.Name, i+1)
				}
			case nem.ArgString:
				if !arg.IsStr {
					c.col.Errorf(arg.Loc(), "@%s argument %d must be a string", d.Name, i+1)
				}
			case nem.ArgUnitRef:
				if arg.Unit == "" {
					c.col.Errorf(arg.Loc(), "@%s argument %d must name a unit as unit_type[index]",
						d.Name, i+1)
				}
			}
		}

		switch spec.Kind {
		case nem.MaxInFlight:
			if site != onLoop {
				c.col.Errorf(d.Loc(), "@max_in_flight applies only to loops")
			}
		case nem.Resource:
			if site != onTask {
				c.col.Errorf(d.Loc(), "@resource applies only to tasks")
			} else {
				c.checkResourceTarget(d)
			}
		case nem.ReadOnly, nem.WriteOnly:
			if site != onRegion && site != onOperand && site != onBuffer {
				c.col.Errorf(d.Loc(), "@%s applies to buffers and regions", d.Name)
			}
		case nem.Memmove:
			if site != onTask {
				c.col.Errorf(d.Loc(), "@memmove applies only to transfer tasks")
			}
		}
	}
}

// checkResourceTarget enforces that @resource pins to a per-engine unit
// type; device-level units and the sequencer are not valid targets.
func (c *context) checkResourceTarget(d *parser.Decorator) {
	if len(d.Args) != 1 || d.Args[0].Unit == "" {
		return
	}
	unit := d.Args[0].Unit
	if c.dev == nil || c.dev.Topology == nil {
		return
	}
	if unit == "sequencer" {
		c.col.Errorf(d.Loc(), "@resource cannot target the sequencer")
		return
	}
	if c.dev.PerEngineUnit(unit) {
		if idx := d.Args[0].UnitIndex; idx != nil {
			if n, err := idx.Eval(c.an.Consts); err == nil {
				if max := c.dev.Topology.PerEngineUnits[unit]; n < 0 || n >= max {
					c.col.Errorf(d.Loc(), "@resource index %d outside %q count %d",
						n, unit, max)
				}
			}
		}
		return
	}
	if _, deviceLevel := c.dev.Topology.DeviceUnits[unit]; deviceLevel {
		c.col.Errorf(d.Loc(),
			"@resource target %q is a device-level unit; only per-engine units can be pinned", unit)
		return
	}
	c.col.Errorf(d.Loc(), "@resource targets unknown unit type %q", unit)
}

// Pass 10: loop validation. Bound at least one, non-empty range, fresh
// iteration variable (pass 1 flags shadowing), no constants in the body
// (pass 2 flags them).
func (c *context) checkLoops() {
	var walk func(body []parser.Stmt, env map[string]int64)
	walk = func(body []parser.Stmt, env map[string]int64) {
		for _, stmt := range body {
			loop, ok := stmt.(*parser.LoopStmt)
			if !ok {
				continue
			}
			for _, d := range loop.Decorators {
				if d.Name != "max_in_flight" || len(d.Args) != 1 || d.Args[0].Expr == nil {
					continue
				}
				n, err := d.Args[0].Expr.Eval(env)
				if err != nil {
					c.col.Errorf(d.Loc(), "cannot evaluate max_in_flight bound: %v", err)
					continue
				}
				if n < 1 {
					c.col.Errorf(d.Loc(), "max_in_flight(%d) must be at least 1", n)
				}
			}
			from, errFrom := loop.From.Eval(env)
			to, errTo := loop.To.Eval(env)
			if errFrom == nil && errTo == nil && from > to {
				c.col.Errorf(loop.Loc(), "loop range [%d .. %d] is empty", from, to)
			}
			walk(loop.Body, env)
		}
	}
	walk(c.prog.Body, c.an.Consts)
}
