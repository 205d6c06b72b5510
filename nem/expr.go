package nem

import (
	"fmt"
	"strings"

	"github.com/frank-ceva/nem/diag"
)

// Expr is an integer-valued expression tree. Nodes are immutable after
// construction.
type Expr interface {
	// Eval computes the value under env. Identifiers missing from env and
	// division by zero are evaluation errors.
	Eval(env map[string]int64) (int64, error)
	// Loc returns the source span of the expression.
	Loc() diag.Location
	fmt.Stringer
}

// IntLit is an integer literal.
type IntLit struct {
	Value    int64
	Location diag.Location
}

func (e *IntLit) Eval(map[string]int64) (int64, error) { return e.Value, nil }
func (e *IntLit) Loc() diag.Location                   { return e.Location }
func (e *IntLit) String() string                       { return fmt.Sprintf("%d", e.Value) }

// Ident references a constant or loop variable by name.
type Ident struct {
	Name     string
	Location diag.Location
}

func (e *Ident) Eval(env map[string]int64) (int64, error) {
	v, ok := env[e.Name]
	if !ok {
		return 0, fmt.Errorf("undefined identifier %q", e.Name)
	}
	return v, nil
}
func (e *Ident) Loc() diag.Location { return e.Location }
func (e *Ident) String() string     { return e.Name }

// Neg is unary negation.
type Neg struct {
	Operand  Expr
	Location diag.Location
}

func (e *Neg) Eval(env map[string]int64) (int64, error) {
	v, err := e.Operand.Eval(env)
	if err != nil {
		return 0, err
	}
	return -v, nil
}
func (e *Neg) Loc() diag.Location { return e.Location }
func (e *Neg) String() string     { return "-" + e.Operand.String() }

// BinOp enumerates binary operators.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
)

var binOpNames = []string{"+", "-", "*", "/", "mod"}

func (op BinOp) String() string { return binOpNames[op] }

// Binary applies op to two sub-expressions. Division truncates toward zero.
type Binary struct {
	Op       BinOp
	Left     Expr
	Right    Expr
	Location diag.Location
}

func (e *Binary) Eval(env map[string]int64) (int64, error) {
	l, err := e.Left.Eval(env)
	if err != nil {
		return 0, err
	}
	r, err := e.Right.Eval(env)
	if err != nil {
		return 0, err
	}
	switch e.Op {
	case Add:
		return l + r, nil
	case Sub:
		return l - r, nil
	case Mul:
		return l * r, nil
	case Div:
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case Mod:
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l % r, nil
	}
	panic("unknown binary operator")
}
func (e *Binary) Loc() diag.Location { return e.Location }

func (e *Binary) String() string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(e.Left.String())
	b.WriteString(" " + e.Op.String() + " ")
	b.WriteString(e.Right.String())
	b.WriteString(")")
	return b.String()
}
