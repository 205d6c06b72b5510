package validate

import (
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/parser"
)

// Pass 1: name resolution. Scopes nest program -> loop. Every identifier
// resolves to exactly one kind; duplicates within a scope and unknown
// references are errors. Declarations precede uses in source order.
func (c *context) resolveNames() {
	s := &scope{ctx: c, names: map[string]SymbolKind{}}
	s.walk(c.prog.Body)
}

type scope struct {
	ctx    *context
	parent *scope
	names  map[string]SymbolKind
}

func (s *scope) lookup(name string) SymbolKind {
	for cur := s; cur != nil; cur = cur.parent {
		if k, ok := cur.names[name]; ok {
			return k
		}
	}
	return SymUnknown
}

func (s *scope) declare(node parser.Node, name string, kind SymbolKind) {
	// Constants never shadow region, buffer, or token names, and vice
	// versa; declaring an existing name anywhere in scope is an error.
	if prev := s.lookup(name); prev != SymUnknown {
		s.ctx.col.Errorf(node.Loc(), "duplicate declaration of %q (already a %s)",
			name, prev)
		return
	}
	s.names[name] = kind
	if _, seen := s.ctx.an.Symbols[name]; !seen {
		s.ctx.an.Symbols[name] = kind
	}
}

func (s *scope) walk(body []parser.Stmt) {
	for _, stmt := range body {
		switch stmt := stmt.(type) {
		case *parser.ConstDecl:
			if !s.checkExpr(stmt.Expr) {
				s.ctx.badConst[stmt.Name] = true
			}
			s.declare(stmt, stmt.Name, SymConst)
		case *parser.BufferDecl:
			s.checkExpr(stmt.Size)
			if stmt.EngineExpr != nil {
				s.checkExpr(stmt.EngineExpr)
			}
			s.declare(stmt, stmt.Name, SymBuffer)
		case *parser.LetDecl:
			s.checkRegionNames(stmt.Region)
			s.declare(stmt, stmt.Name, SymRegion)
			s.ctx.an.Lets[stmt.Name] = stmt
		case *parser.LoopStmt:
			s.checkExpr(stmt.From)
			s.checkExpr(stmt.To)
			inner := &scope{ctx: s.ctx, parent: s, names: map[string]SymbolKind{}}
			inner.declare(stmt, stmt.Var, SymLoopVar)
			inner.walk(stmt.Body)
		case *parser.TaskStmt:
			s.walkTask(stmt)
		}
	}
}

func (s *scope) walkTask(stmt *parser.TaskStmt) {
	switch call := stmt.Call.(type) {
	case *parser.TransferCall:
		s.checkOperand(call.Src)
		s.checkOperand(call.Dst)
		s.checkDeps(call.Deps)
	case *parser.StoreCall:
		s.checkOperand(call.Target)
		s.checkDeps(call.Deps)
	case *parser.WaitCall:
		s.checkDeps(call.Tokens)
	case *parser.ComputeCall:
		for _, op := range call.In {
			s.checkOperand(op)
		}
		for _, op := range call.Out {
			s.checkOperand(op)
		}
		for _, a := range call.Attrs {
			if a.Value.Kind == parser.AttrInt {
				s.checkExpr(a.Value.Expr)
			}
		}
		s.checkDeps(call.Deps)
	}
	if stmt.Token != "" {
		s.declare(stmt, stmt.Token, SymToken)
	}
}

func (s *scope) checkOperand(op *parser.Operand) {
	if op.Region != nil {
		s.checkRegionNames(op.Region)
		return
	}
	switch s.lookup(op.Name) {
	case SymRegion:
	case SymUnknown:
		s.ctx.col.Errorf(op.Loc(), "undefined operand %q", op.Name)
	default:
		s.ctx.col.Errorf(op.Loc(), "operand %q is a %s, expected a region",
			op.Name, s.lookup(op.Name))
	}
}

func (s *scope) checkRegionNames(r *parser.RegionExpr) {
	switch s.lookup(r.Buffer) {
	case SymBuffer:
	case SymUnknown:
		s.ctx.col.Errorf(r.BufferLoc, "undefined buffer %q", r.Buffer)
	default:
		s.ctx.col.Errorf(r.BufferLoc, "%q is a %s, expected a buffer",
			r.Buffer, s.lookup(r.Buffer))
	}
	s.checkExpr(r.Offset)
	s.checkExpr(r.Extent)
	for _, e := range r.Shape {
		s.checkExpr(e)
	}
	if r.Layout != nil {
		for _, e := range r.Layout.Strides {
			s.checkExpr(e)
		}
	}
	if q := r.Quant; q != nil {
		if q.Axis != nil {
			s.checkExpr(q.Axis)
		}
		if q.Group != nil {
			s.checkExpr(q.Group)
		}
	}
}

func (s *scope) checkDeps(deps []*parser.TokenRef) {
	for _, d := range deps {
		switch s.lookup(d.Name) {
		case SymToken:
		case SymUnknown:
			s.ctx.col.Errorf(d.Loc(), "undefined token %q", d.Name)
		default:
			s.ctx.col.Errorf(d.Loc(), "%q is a %s, expected a token",
				d.Name, s.lookup(d.Name))
		}
	}
}

// checkExpr verifies every identifier in an expression resolves to a
// constant or a loop variable.
func (s *scope) checkExpr(e nem.Expr) bool {
	switch e := e.(type) {
	case *nem.IntLit:
		return true
	case *nem.Ident:
		switch s.lookup(e.Name) {
		case SymConst, SymLoopVar:
			return true
		case SymUnknown:
			s.ctx.col.Errorf(e.Loc(), "undefined identifier %q", e.Name)
		default:
			s.ctx.col.Errorf(e.Loc(), "%q is a %s and cannot appear in an expression",
				e.Name, s.lookup(e.Name))
		}
		return false
	case *nem.Neg:
		return s.checkExpr(e.Operand)
	case *nem.Binary:
		l := s.checkExpr(e.Left)
		r := s.checkExpr(e.Right)
		return l && r
	}
	return true
}

// Pass 2: constant evaluation in declaration order. Forward references are
// already unknown names in pass 1; division by zero and loop-body placement
// are reported here.
func (c *context) evalConsts() {
	var walk func(body []parser.Stmt, inLoop bool)
	walk = func(body []parser.Stmt, inLoop bool) {
		for _, stmt := range body {
			switch stmt := stmt.(type) {
			case *parser.ConstDecl:
				if inLoop {
					c.col.Errorf(stmt.Loc(),
						"constant %q declared inside a loop body", stmt.Name)
					continue
				}
				if c.badConst[stmt.Name] {
					// Pass 1 already reported the unresolved reference.
					continue
				}
				if _, dup := c.an.Consts[stmt.Name]; dup {
					// Pass 1 already reported the duplicate; first wins.
					continue
				}
				v, err := stmt.Expr.Eval(c.an.Consts)
				if err != nil {
					c.col.Errorf(stmt.Expr.Loc(), "cannot evaluate constant %q: %v",
						stmt.Name, err)
					continue
				}
				c.an.Consts[stmt.Name] = v
			case *parser.LoopStmt:
				walk(stmt.Body, true)
			}
		}
	}
	walk(c.prog.Body, false)
}
