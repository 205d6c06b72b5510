package validate

import (
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/parser"
)

// maxStaticIterations bounds per-loop expansion during static analysis.
// The execution engine expands any range; analysis of the first window is
// representative because loop bodies are iteration-uniform.
const maxStaticIterations = 1024

// access is one region access of a task instance, with a concrete byte
// interval.
type access struct {
	region   *parser.RegionExpr
	let      *parser.LetDecl
	operand  *parser.Operand
	buffer   string
	lo, hi   int64
	write    bool
	memmove  bool
	level    nem.Level
	engine   int // -1 for device-global levels
	hasType  bool
	elem     nem.ElemType
	hasQuant bool
}

// iterKey identifies one loop iteration on an instance's path.
type iterKey struct {
	loop  *parser.LoopStmt
	index int64
	bound int64
}

// taskInst is one statically expanded task instance.
type taskInst struct {
	seq      int
	stmt     *parser.TaskStmt
	env      map[string]int64
	path     []iterKey
	deps     []int
	isWait   bool
	accesses []access
}

// scopeInst tracks per-scope-instance token and region bindings during
// expansion.
type scopeInst struct {
	parent  *scopeInst
	tokens  map[string]int
	regions map[string]*regionBinding
	// barrier holds instances whose completion orders every later task in
	// this scope: sync tasks and waited tokens.
	barrier []int
}

type regionBinding struct {
	let *parser.LetDecl
	acc access
	ok  bool
}

func (s *scopeInst) findToken(name string) (int, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if seq, ok := cur.tokens[name]; ok {
			return seq, true
		}
	}
	return 0, false
}

func (s *scopeInst) findRegion(name string) (*regionBinding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.regions[name]; ok {
			return b, true
		}
	}
	return nil, false
}

func (s *scopeInst) allBarriers() []int {
	var out []int
	for cur := s; cur != nil; cur = cur.parent {
		out = append(out, cur.barrier...)
	}
	return out
}

// expand walks the program in source order binding loop variables to every
// iteration value, producing the instance list the dependency, hazard, and
// placement passes analyze.
func (c *context) expand() {
	env := make(map[string]int64, len(c.an.Consts))
	for k, v := range c.an.Consts {
		env[k] = v
	}
	root := &scopeInst{tokens: map[string]int{}, regions: map[string]*regionBinding{}}
	c.expandBody(c.prog.Body, env, nil, root)
}

func (c *context) expandBody(
	body []parser.Stmt,
	env map[string]int64,
	path []iterKey,
	sc *scopeInst,
) {
	for _, stmt := range body {
		switch stmt := stmt.(type) {
		case *parser.LetDecl:
			b := &regionBinding{let: stmt}
			b.acc, b.ok = c.evalRegion(stmt.Region, env)
			sc.regions[stmt.Name] = b
			if b.ok {
				// Let bindings validate at declaration even when no task
				// uses them.
				c.letAccesses = append(c.letAccesses, b.acc)
			}
		case *parser.LoopStmt:
			c.expandLoop(stmt, env, path, sc)
		case *parser.TaskStmt:
			c.expandTask(stmt, env, path, sc)
		}
	}
}

func (c *context) expandLoop(
	loop *parser.LoopStmt,
	env map[string]int64,
	path []iterKey,
	sc *scopeInst,
) {
	from, errFrom := loop.From.Eval(env)
	to, errTo := loop.To.Eval(env)
	if errFrom != nil || errTo != nil {
		if c.reportOnce(loop.ID()) {
			if errFrom != nil {
				c.col.Errorf(loop.From.Loc(), "cannot evaluate loop range: %v", errFrom)
			} else {
				c.col.Errorf(loop.To.Loc(), "cannot evaluate loop range: %v", errTo)
			}
		}
		return
	}
	bound := c.loopBound(loop)
	count := int64(0)
	for i := from; i <= to; i++ {
		if count >= maxStaticIterations {
			break
		}
		count++
		inner := make(map[string]int64, len(env)+1)
		for k, v := range env {
			inner[k] = v
		}
		inner[loop.Var] = i
		iterScope := &scopeInst{parent: sc,
			tokens: map[string]int{}, regions: map[string]*regionBinding{}}
		c.expandBody(loop.Body, inner,
			append(append([]iterKey{}, path...), iterKey{loop: loop, index: i, bound: bound}),
			iterScope)
	}
}

// loopBound reads the max_in_flight decorator; absence means sequential.
func (c *context) loopBound(loop *parser.LoopStmt) int64 {
	for _, d := range loop.Decorators {
		if d.Name != "max_in_flight" || len(d.Args) != 1 || d.Args[0].Expr == nil {
			continue
		}
		if n, err := d.Args[0].Expr.Eval(c.an.Consts); err == nil && n >= 1 {
			return n
		}
	}
	return 1
}

func taskHasDecorator(stmt *parser.TaskStmt, name string) bool {
	for _, d := range stmt.Decorators {
		if d.Name == name {
			return true
		}
	}
	return false
}

func operandHasDecorator(op *parser.Operand, name string) bool {
	if op == nil {
		return false
	}
	for _, d := range op.Decorators {
		if d.Name == name {
			return true
		}
	}
	return false
}

func letHasDecorator(let *parser.LetDecl, name string) bool {
	for _, d := range let.Decorators {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (c *context) expandTask(
	stmt *parser.TaskStmt,
	env map[string]int64,
	path []iterKey,
	sc *scopeInst,
) {
	inst := &taskInst{
		seq:  len(c.insts),
		stmt: stmt,
		env:  env,
		path: append([]iterKey{}, path...),
	}
	inst.deps = append(inst.deps, sc.allBarriers()...)

	resolveDeps := func(refs []*parser.TokenRef) {
		for _, ref := range refs {
			if seq, ok := sc.findToken(ref.Name); ok {
				inst.deps = append(inst.deps, seq)
			}
		}
	}

	memmove := taskHasDecorator(stmt, "memmove")
	sync := false

	switch call := stmt.Call.(type) {
	case *parser.TransferCall:
		sync = call.Sync
		resolveDeps(call.Deps)
		if a, ok := c.operandAccess(call.Src, env, sc, false, false); ok {
			inst.accesses = append(inst.accesses, a)
		}
		if a, ok := c.operandAccess(call.Dst, env, sc, true, memmove); ok {
			inst.accesses = append(inst.accesses, a)
		}
	case *parser.StoreCall:
		sync = call.Sync
		resolveDeps(call.Deps)
		if a, ok := c.operandAccess(call.Target, env, sc, false, false); ok {
			inst.accesses = append(inst.accesses, a)
		}
	case *parser.WaitCall:
		inst.isWait = true
		resolveDeps(call.Tokens)
		// Everything after the wait in this scope is ordered behind the
		// waited tokens.
		sc.barrier = append(sc.barrier, inst.deps...)
	case *parser.ComputeCall:
		sync = call.Sync
		resolveDeps(call.Deps)
		for _, op := range call.In {
			if a, ok := c.operandAccess(op, env, sc, false, false); ok {
				inst.accesses = append(inst.accesses, a)
			}
		}
		for _, op := range call.Out {
			if a, ok := c.operandAccess(op, env, sc, true, false); ok {
				inst.accesses = append(inst.accesses, a)
			}
		}
	}

	c.insts = append(c.insts, inst)
	if stmt.Token != "" {
		sc.tokens[stmt.Token] = inst.seq
	}
	if sync {
		// The synchronous form is the asynchronous form followed by a wait
		// on its own token.
		sc.barrier = append(sc.barrier, inst.seq)
	}
}

// operandAccess resolves one operand to a concrete byte interval.
func (c *context) operandAccess(
	op *parser.Operand,
	env map[string]int64,
	sc *scopeInst,
	write bool,
	memmove bool,
) (access, bool) {
	var a access
	var ok bool
	switch {
	case op == nil:
		return access{}, false
	case op.Region != nil:
		a, ok = c.evalRegion(op.Region, env)
	default:
		b, found := sc.findRegion(op.Name)
		if !found {
			// Top-level lets live on the root scope; pass 1 reported truly
			// unknown names.
			return access{}, false
		}
		a, ok = b.acc, b.ok
		a.let = b.let
	}
	if !ok {
		return access{}, false
	}
	a.operand = op
	a.write = write
	a.memmove = memmove
	return a, true
}

// evalRegion computes the byte interval and space of a region expression
// under env. Evaluation failures are reported once per node.
func (c *context) evalRegion(r *parser.RegionExpr, env map[string]int64) (access, bool) {
	buf, ok := c.an.Buffers[r.Buffer]
	if !ok {
		return access{}, false
	}
	off, err := r.Offset.Eval(env)
	if err != nil {
		if c.reportOnce(r.ID()) {
			c.col.Errorf(r.Offset.Loc(), "cannot evaluate region offset: %v", err)
		}
		return access{}, false
	}
	ext, err := r.Extent.Eval(env)
	if err != nil {
		if c.reportOnce(r.ID()) {
			c.col.Errorf(r.Extent.Loc(), "cannot evaluate region extent: %v", err)
		}
		return access{}, false
	}
	a := access{
		region:   r,
		buffer:   r.Buffer,
		lo:       off,
		hi:       off + ext,
		level:    buf.Decl.Level,
		engine:   buf.Engine,
		hasType:  r.HasType,
		elem:     r.Type,
		hasQuant: r.Quant != nil,
	}
	return a, true
}
