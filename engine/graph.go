package engine

import (
	"fmt"

	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/opcode"
	"github.com/frank-ceva/nem/parser"
)

// regionRT is a fully resolved region access of one task instance.
type regionRT struct {
	buffer  string
	lo, hi  int64
	elem    nem.ElemType
	hasType bool
	shape   []int
	strides []int64
	quant   *parser.Quant
}

// loopInstance tracks the pipelining window of one expanded loop.
type loopInstance struct {
	bound     int64
	oldest    int64
	last      int64
	remaining map[int64]int
}

// eligible reports whether iteration idx may hold active tasks: every
// iteration at least bound steps older must have completed.
func (li *loopInstance) eligible(idx int64) bool {
	for li.oldest < idx && li.remaining[li.oldest] == 0 {
		li.oldest++
	}
	return idx-li.oldest < li.bound
}

func (li *loopInstance) taskDone(idx int64) {
	li.remaining[idx]--
}

// windowKey ties a task instance to one iteration of one loop instance.
type windowKey struct {
	loop *loopInstance
	idx  int64
}

type taskKind int

const (
	taskTransfer taskKind = iota
	taskStore
	taskCompute
	taskWait
)

// rtTask is one instantiated task.
type rtTask struct {
	seq   int
	kind  taskKind
	stmt  *parser.TaskStmt
	label string

	token    Token
	hasToken bool
	deps     []Token
	window   []windowKey

	// reads and writes follow the registry operand order for computes;
	// transfers carry src in reads and dst in writes.
	reads  []*regionRT
	writes []*regionRT
	// readonly/writeonly intent per access, enforced at dispatch
	writeIsReadonly []bool
	readIsWriteonly []bool

	memmove bool
	op      *opcode.Op
	opName  string
	attrs   map[string]any

	done bool
}

// buildScope mirrors the program's nesting during expansion.
type buildScope struct {
	parent  *buildScope
	tokens  map[string]Token
	regions map[string]*letRT
	barrier []Token
}

type letRT struct {
	let *parser.LetDecl
	rt  regionRT
}

func (s *buildScope) findToken(name string) (Token, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if t, ok := cur.tokens[name]; ok {
			return t, true
		}
	}
	return 0, false
}

func (s *buildScope) findRegion(name string) (*letRT, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if r, ok := cur.regions[name]; ok {
			return r, true
		}
	}
	return nil, false
}

func (s *buildScope) allBarriers() []Token {
	var out []Token
	for cur := s; cur != nil; cur = cur.parent {
		out = append(out, cur.barrier...)
	}
	return out
}

// build expands the program into the runtime task list. Loop iterations
// are registered with their loop instance so the scheduler can gate them
// by the pipelining bound.
func (e *Engine) build(prog *parser.Program) error {
	env := make(map[string]int64, len(e.an.Consts))
	for k, v := range e.an.Consts {
		env[k] = v
	}
	root := &buildScope{tokens: map[string]Token{}, regions: map[string]*letRT{}}
	return e.buildBody(prog.Body, env, nil, root)
}

func (e *Engine) buildBody(
	body []parser.Stmt,
	env map[string]int64,
	window []windowKey,
	sc *buildScope,
) error {
	for _, stmt := range body {
		switch stmt := stmt.(type) {
		case *parser.LetDecl:
			rt, err := e.resolveRegion(stmt.Region, env)
			if err != nil {
				return err
			}
			sc.regions[stmt.Name] = &letRT{let: stmt, rt: rt}
		case *parser.LoopStmt:
			if err := e.buildLoop(stmt, env, window, sc); err != nil {
				return err
			}
		case *parser.TaskStmt:
			if err := e.buildTask(stmt, env, window, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) buildLoop(
	loop *parser.LoopStmt,
	env map[string]int64,
	window []windowKey,
	sc *buildScope,
) error {
	from, err := loop.From.Eval(env)
	if err != nil {
		return fmt.Errorf("loop range: %w", err)
	}
	to, err := loop.To.Eval(env)
	if err != nil {
		return fmt.Errorf("loop range: %w", err)
	}
	bound := int64(1)
	for _, d := range loop.Decorators {
		if d.Name == "max_in_flight" && len(d.Args) == 1 && d.Args[0].Expr != nil {
			if n, err := d.Args[0].Expr.Eval(env); err == nil && n >= 1 {
				bound = n
			}
		}
	}
	li := &loopInstance{bound: bound, oldest: from, last: to,
		remaining: make(map[int64]int)}
	e.loops = append(e.loops, li)

	for i := from; i <= to; i++ {
		inner := make(map[string]int64, len(env)+1)
		for k, v := range env {
			inner[k] = v
		}
		inner[loop.Var] = i
		iterScope := &buildScope{parent: sc,
			tokens: map[string]Token{}, regions: map[string]*letRT{}}
		iterWindow := append(append([]windowKey{}, window...), windowKey{loop: li, idx: i})
		if err := e.buildBody(loop.Body, inner, iterWindow, iterScope); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildTask(
	stmt *parser.TaskStmt,
	env map[string]int64,
	window []windowKey,
	sc *buildScope,
) error {
	t := &rtTask{
		seq:     len(e.tasks),
		stmt:    stmt,
		window:  append([]windowKey{}, window...),
		memmove: hasDecorator(stmt.Decorators, "memmove"),
	}
	t.deps = append(t.deps, sc.allBarriers()...)

	resolveDeps := func(refs []*parser.TokenRef) error {
		for _, ref := range refs {
			tok, ok := sc.findToken(ref.Name)
			if !ok {
				return fmt.Errorf("token %q is not bound at this point", ref.Name)
			}
			t.deps = append(t.deps, tok)
		}
		return nil
	}

	addRead := func(op *parser.Operand) error {
		rt, wo, err := e.resolveOperand(op, env, sc)
		if err != nil {
			return err
		}
		t.reads = append(t.reads, rt)
		t.readIsWriteonly = append(t.readIsWriteonly, wo)
		return nil
	}
	addWrite := func(op *parser.Operand) error {
		rt, ro, err := e.resolveOperandW(op, env, sc)
		if err != nil {
			return err
		}
		t.writes = append(t.writes, rt)
		t.writeIsReadonly = append(t.writeIsReadonly, ro)
		return nil
	}

	sync := false
	switch call := stmt.Call.(type) {
	case *parser.TransferCall:
		t.kind = taskTransfer
		t.label = "transfer"
		sync = call.Sync
		if err := resolveDeps(call.Deps); err != nil {
			return err
		}
		if err := addRead(call.Src); err != nil {
			return err
		}
		if err := addWrite(call.Dst); err != nil {
			return err
		}
	case *parser.StoreCall:
		t.kind = taskStore
		t.label = "store"
		sync = call.Sync
		if err := resolveDeps(call.Deps); err != nil {
			return err
		}
		if err := addRead(call.Target); err != nil {
			return err
		}
	case *parser.WaitCall:
		t.kind = taskWait
		t.label = "wait"
		if err := resolveDeps(call.Tokens); err != nil {
			return err
		}
	case *parser.ComputeCall:
		t.kind = taskCompute
		t.label = call.Op
		t.opName = call.Op
		sync = call.Sync
		if err := resolveDeps(call.Deps); err != nil {
			return err
		}
		op, ok := e.reg.Lookup(call.Op)
		if !ok {
			return fmt.Errorf("unknown operator %q", call.Op)
		}
		t.op = op
		for _, operand := range call.In {
			if err := addRead(operand); err != nil {
				return err
			}
		}
		for _, operand := range call.Out {
			if err := addWrite(operand); err != nil {
				return err
			}
		}
		attrs, err := e.resolveAttrs(call, op, env)
		if err != nil {
			return err
		}
		t.attrs = attrs
	}

	if t.kind != taskWait {
		t.token = e.tokens.Fresh()
		t.hasToken = true
	} else {
		// Tasks after a wait are ordered behind the waited tokens.
		sc.barrier = append(sc.barrier, t.deps...)
	}

	e.tasks = append(e.tasks, t)
	for _, w := range t.window {
		w.loop.remaining[w.idx]++
	}
	if stmt.Token != "" && t.hasToken {
		sc.tokens[stmt.Token] = t.token
	}
	if sync && t.hasToken {
		sc.barrier = append(sc.barrier, t.token)
	}
	return nil
}

func hasDecorator(decs []*parser.Decorator, name string) bool {
	for _, d := range decs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func operandDecorated(op *parser.Operand, let *parser.LetDecl, name string) bool {
	if op != nil && hasDecorator(op.Decorators, name) {
		return true
	}
	return let != nil && hasDecorator(let.Decorators, name)
}

func (e *Engine) resolveOperand(
	op *parser.Operand,
	env map[string]int64,
	sc *buildScope,
) (*regionRT, bool, error) {
	rt, let, err := e.resolveOperandCommon(op, env, sc)
	if err != nil {
		return nil, false, err
	}
	return rt, operandDecorated(op, let, "writeonly"), nil
}

func (e *Engine) resolveOperandW(
	op *parser.Operand,
	env map[string]int64,
	sc *buildScope,
) (*regionRT, bool, error) {
	rt, let, err := e.resolveOperandCommon(op, env, sc)
	if err != nil {
		return nil, false, err
	}
	return rt, operandDecorated(op, let, "readonly"), nil
}

func (e *Engine) resolveOperandCommon(
	op *parser.Operand,
	env map[string]int64,
	sc *buildScope,
) (*regionRT, *parser.LetDecl, error) {
	if op.Region != nil {
		rt, err := e.resolveRegion(op.Region, env)
		if err != nil {
			return nil, nil, err
		}
		return &rt, nil, nil
	}
	b, ok := sc.findRegion(op.Name)
	if !ok {
		return nil, nil, fmt.Errorf("operand %q is not a region", op.Name)
	}
	rt := b.rt
	return &rt, b.let, nil
}

func (e *Engine) resolveRegion(r *parser.RegionExpr, env map[string]int64) (regionRT, error) {
	off, err := r.Offset.Eval(env)
	if err != nil {
		return regionRT{}, fmt.Errorf("region offset: %w", err)
	}
	ext, err := r.Extent.Eval(env)
	if err != nil {
		return regionRT{}, fmt.Errorf("region extent: %w", err)
	}
	rt := regionRT{
		buffer:  r.Buffer,
		lo:      off,
		hi:      off + ext,
		hasType: r.HasType,
		elem:    r.Type,
		quant:   r.Quant,
	}
	for _, se := range r.Shape {
		d, err := se.Eval(env)
		if err != nil {
			return regionRT{}, fmt.Errorf("region shape: %w", err)
		}
		rt.shape = append(rt.shape, int(d))
	}
	if r.Layout != nil {
		for _, se := range r.Layout.Strides {
			s, err := se.Eval(env)
			if err != nil {
				return regionRT{}, fmt.Errorf("region stride: %w", err)
			}
			rt.strides = append(rt.strides, s)
		}
		if r.Layout.Name == "col_major" && len(rt.shape) > 0 {
			// Column-major is the one canonical non-default layout: stride 1
			// on the first axis.
			strides := make([]int64, len(rt.shape))
			acc := int64(1)
			for d := 0; d < len(rt.shape); d++ {
				strides[d] = acc
				acc *= int64(rt.shape[d])
			}
			rt.strides = strides
		}
	}
	return rt, nil
}

// resolveAttrs converts call attributes to the registry-declared Go values
// and fills defaults.
func (e *Engine) resolveAttrs(
	call *parser.ComputeCall,
	op *opcode.Op,
	env map[string]int64,
) (map[string]any, error) {
	out := map[string]any{}
	for _, a := range call.Attrs {
		spec, ok := op.Attribute(a.Name)
		if !ok {
			return nil, fmt.Errorf("operator %q has no attribute %q", call.Op, a.Name)
		}
		v, err := attrToGo(a.Value, spec, env)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		out[a.Name] = v
	}
	for _, spec := range op.Attributes {
		if _, supplied := out[spec.Name]; supplied || spec.Default == nil {
			continue
		}
		out[spec.Name] = defaultToGo(spec)
	}
	return out, nil
}

func attrToGo(v parser.AttrValue, spec opcode.AttrSpec, env map[string]int64) (any, error) {
	switch spec.Kind {
	case opcode.KindInt:
		return v.Expr.Eval(env)
	case opcode.KindFloat:
		if v.Kind == parser.AttrFloat {
			return v.Float, nil
		}
		n, err := v.Expr.Eval(env)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	case opcode.KindBool:
		return v.Bool, nil
	case opcode.KindElemType:
		return v.Elem, nil
	case opcode.KindIntList:
		return v.IntList, nil
	case opcode.KindString, opcode.KindIdent:
		return v.Str, nil
	}
	return nil, fmt.Errorf("unsupported attribute kind %q", spec.Kind)
}

func defaultToGo(spec opcode.AttrSpec) any {
	switch spec.Kind {
	case opcode.KindInt:
		switch d := spec.Default.(type) {
		case int:
			return int64(d)
		case int64:
			return d
		}
	case opcode.KindFloat:
		switch d := spec.Default.(type) {
		case float64:
			return d
		case int:
			return float64(d)
		}
	case opcode.KindBool:
		if d, ok := spec.Default.(bool); ok {
			return d
		}
	case opcode.KindString, opcode.KindIdent:
		if d, ok := spec.Default.(string); ok {
			return d
		}
	case opcode.KindIntList:
		if list, ok := spec.Default.([]any); ok {
			out := make([]int64, 0, len(list))
			for _, item := range list {
				switch n := item.(type) {
				case int:
					out = append(out, int64(n))
				case int64:
					out = append(out, n)
				}
			}
			return out
		}
	}
	return nil
}
