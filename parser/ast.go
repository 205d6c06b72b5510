package parser

import (
	"strings"

	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/nem"
)

// NodeID is the stable identity of a syntax-tree node. Downstream analyses
// key side tables by NodeID instead of mutating the tree.
type NodeID int32

// Node is implemented by every syntax-tree node.
type Node interface {
	ID() NodeID
	Loc() diag.Location
}

type node struct {
	id  NodeID
	loc diag.Location
}

func (n *node) ID() NodeID         { return n.id }
func (n *node) Loc() diag.Location { return n.loc }

// Document is the top-level form of a parsed file: includes followed by
// either a program or a configuration body.
type Document struct {
	node
	Includes []*Include
	Program  *Program
	Config   *Config
}

// Include is one include "path" directive.
type Include struct {
	node
	Path string
}

// Program is a named program document.
type Program struct {
	node
	Name   string
	Device *DeviceDirective
	Body   []Stmt
}

// DeviceDirective selects the device a program targets: either a referenced
// configuration file or an inline device declaration.
type DeviceDirective struct {
	node
	Path   string
	Inline *DeviceDecl
}

// Stmt is a program statement: declaration, task, or loop.
type Stmt interface{ Node }

// ConstDecl binds an immutable integer constant.
type ConstDecl struct {
	node
	Name string
	Expr nem.Expr
}

// BufferDecl declares a buffer on a memory level.
type BufferDecl struct {
	node
	Name       string
	Level      nem.Level
	EngineExpr nem.Expr // Scratchpad only
	Size       nem.Expr
	Align      int64 // 1 when unspecified
	Decorators []*Decorator
}

// LetDecl binds a named region view.
type LetDecl struct {
	node
	Name       string
	Region     *RegionExpr
	Decorators []*Decorator
}

// QuantKind enumerates quantization descriptor shapes.
type QuantKind int

const (
	PerTensor QuantKind = iota
	PerChannel
	PerGroup
)

// Quant is a quantization descriptor attached to a region.
type Quant struct {
	Kind  QuantKind
	Axis  nem.Expr // PerChannel, PerGroup
	Group nem.Expr // PerGroup
}

// Layout names a canonical layout or lists explicit per-dimension strides in
// elements. Exactly one field is set.
type Layout struct {
	Name    string
	Strides []nem.Expr
}

// RegionExpr is a region(...) expression, either in a let binding or inline
// as a task operand.
type RegionExpr struct {
	node
	Buffer    string
	BufferLoc diag.Location
	Offset    nem.Expr
	Extent    nem.Expr
	HasType   bool
	Type      nem.ElemType
	Shape     []nem.Expr
	Layout    *Layout
	Quant     *Quant
}

// LoopStmt is a named inclusive-range loop.
type LoopStmt struct {
	node
	Var        string
	From, To   nem.Expr
	Decorators []*Decorator
	Body       []Stmt
}

// TaskStmt is one task with an optional token binding and decorators.
type TaskStmt struct {
	node
	Token string // "" when no token is bound
	Call  TaskCall
	Decorators []*Decorator
}

// TaskCall is the call form of a task statement.
type TaskCall interface{ Node }

// TransferCall copies the source region to the destination region.
type TransferCall struct {
	node
	Sync bool
	Src  *Operand
	Dst  *Operand
	Deps []*TokenRef
}

// StoreCall architecturally commits a region's content.
type StoreCall struct {
	node
	Sync   bool
	Target *Operand
	Deps   []*TokenRef
}

// WaitCall consumes tokens and produces none.
type WaitCall struct {
	node
	Tokens []*TokenRef
}

// ComputeCall invokes a registry operator.
type ComputeCall struct {
	node
	Op    string
	OpLoc diag.Location
	Sync  bool
	In    []*Operand
	Out   []*Operand
	Attrs []*AttrArg
	Deps  []*TokenRef
}

// Operand is a task operand: a named region/buffer or an inline region
// expression, with optional decorators.
type Operand struct {
	node
	Name       string
	Region     *RegionExpr
	Decorators []*Decorator
}

// TokenRef references a completion token by name.
type TokenRef struct {
	node
	Name string
}

// AttrValueKind classifies an attribute argument value.
type AttrValueKind int

const (
	AttrInt AttrValueKind = iota
	AttrFloat
	AttrBool
	AttrString
	AttrElemType
	AttrIntList
	AttrIdent
)

// AttrValue is one attribute value. Kind selects the populated field; AttrInt
// carries an expression so attributes may reference constants and loop
// variables.
type AttrValue struct {
	Kind    AttrValueKind
	Expr    nem.Expr
	Float   float64
	Bool    bool
	Str     string
	Elem    nem.ElemType
	IntList []int64
}

// AttrArg is one name=value attribute in a compute call.
type AttrArg struct {
	node
	Name  string
	Value AttrValue
}

// Decorator is an @name(args...) refinement.
type Decorator struct {
	node
	Name string
	Args []*DecoratorArg
}

// DecoratorArg is one decorator argument: an expression, a string, or a
// unit_type[index] reference.
type DecoratorArg struct {
	node
	Expr      nem.Expr
	Str       string
	IsStr     bool
	Unit      string
	UnitIndex nem.Expr
}

// Config is the body of a configuration document.
type Config struct {
	node
	Families []*FamilyDecl
	Devices  []*DeviceDecl
}

// TypeParam is one family type parameter with its allowed instantiations.
type TypeParam struct {
	node
	Name    string
	Allowed []nem.ElemType
}

// OperandBind binds an operand role to a concrete type, a type parameter, or
// "absent".
type OperandBind struct {
	node
	Name     string
	Absent   bool
	ParamRef string       // set when bound to a type parameter
	Type     nem.ElemType // set when bound to a concrete type
}

// AttrConstraint fixes an attribute to a value, requires it, or forbids it.
type AttrConstraint struct {
	node
	Name     string
	Required bool
	Absent   bool
	HasValue bool
	Value    AttrValue
}

// VariantDecl is one named variant with conformance tags per instantiation.
type VariantDecl struct {
	node
	Name     string
	Must     []Instantiation
	May      []Instantiation
	Operands []*OperandBind
	Attrs    []*AttrConstraint
	// QuantRequired lists operand roles whose quantization descriptor must be
	// present.
	QuantRequired []string
}

// Instantiation is one tuple of type arguments, in parameter order.
type Instantiation []nem.ElemType

// Key renders an instantiation for set membership, e.g. "<f16,i8>".
func (in Instantiation) Key() string {
	parts := make([]string, len(in))
	for i, t := range in {
		parts[i] = t.String()
	}
	return "<" + strings.Join(parts, ",") + ">"
}

// FamilyDecl declares one parameterized type family.
type FamilyDecl struct {
	node
	Name     string
	Params   []*TypeParam
	Operands []*OperandBind
	Attrs    []*AttrConstraint
	Variants []*VariantDecl
}

// DeviceDecl declares one device configuration node.
type DeviceDecl struct {
	node
	Name           string
	Extends        string
	ExtendsLoc     diag.Location
	HasSpecVersion bool
	SpecVersion    string
	Topology       *TopologyDecl
	Characteristics []*UnitChar
	Mandatory      []*VariantRef
	Extended       []*VariantRef
}

// UnitCount is one unit_type = count entry.
type UnitCount struct {
	Name     string
	Count    int64
	Location diag.Location
}

// TopologyDecl is a device topology block.
type TopologyDecl struct {
	node
	Engines     int64
	L2SizeBytes int64
	L1SizeBytes int64
	DeviceUnits []UnitCount
	PerEngine   []UnitCount
}

// UnitChar is one unit_characteristics group.
type UnitChar struct {
	node
	Unit string
	Keys []UnitCount
}

// VariantRef is a syntactic family<args>.variant reference.
type VariantRef struct {
	node
	Family  string
	Args    []nem.ElemType
	Variant string
}

// String renders the canonical reference form, e.g. gemm.float<f16>.no_bias.
func (v *VariantRef) String() string {
	var b strings.Builder
	b.WriteString(v.Family)
	if len(v.Args) > 0 {
		parts := make([]string, len(v.Args))
		for i, t := range v.Args {
			parts[i] = t.String()
		}
		b.WriteString("<" + strings.Join(parts, ",") + ">")
	}
	b.WriteString("." + v.Variant)
	return b.String()
}
