// Package family defines parameterized operator type families and the
// matcher that checks operator instances against a device's effective
// variant set.
package family

import (
	"fmt"
	"strings"

	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/parser"
)

// Conformance classifies a variant instantiation.
type Conformance int

const (
	// Must variants are mandatory for every conforming device.
	Must Conformance = iota
	// May variants are device-optional.
	May
)

func (c Conformance) String() string {
	if c == Must {
		return "MUST"
	}
	return "MAY"
}

// Ref is a resolved variant reference: family, optional type arguments, and
// variant name. A Ref without arguments covers every permitted
// instantiation of the family.
type Ref struct {
	Family  string
	Args    []nem.ElemType
	Variant string
}

// Key renders the canonical reference form used for set membership.
func (r Ref) Key() string {
	var b strings.Builder
	b.WriteString(r.Family)
	if len(r.Args) > 0 {
		parts := make([]string, len(r.Args))
		for i, t := range r.Args {
			parts[i] = t.String()
		}
		b.WriteString("<" + strings.Join(parts, ",") + ">")
	}
	b.WriteString("." + r.Variant)
	return b.String()
}

func (r Ref) String() string { return r.Key() }

// bareKey is the reference form without type arguments.
func (r Ref) bareKey() string { return r.Family + "." + r.Variant }

// Value is a resolved attribute value, comparable across constraint and
// query.
type Value struct {
	Kind parser.AttrValueKind
	Int  int64
	Float float64
	Bool bool
	Str  string
	Elem nem.ElemType
	Ints []int64
}

// Resolve evaluates a parsed attribute value under env into a comparable
// Value.
func Resolve(v parser.AttrValue, env map[string]int64) (Value, error) {
	out := Value{Kind: v.Kind, Float: v.Float, Bool: v.Bool, Str: v.Str,
		Elem: v.Elem, Ints: v.IntList}
	if v.Kind == parser.AttrInt {
		n, err := v.Expr.Eval(env)
		if err != nil {
			return Value{}, err
		}
		out.Int = n
	}
	return out, nil
}

// Equal reports whether two values agree. An ident value compares equal to
// a same-spelled ident regardless of how the other side was produced.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case parser.AttrInt:
		return v.Int == o.Int
	case parser.AttrFloat:
		return v.Float == o.Float
	case parser.AttrBool:
		return v.Bool == o.Bool
	case parser.AttrString, parser.AttrIdent:
		return v.Str == o.Str
	case parser.AttrElemType:
		return v.Elem == o.Elem
	case parser.AttrIntList:
		if len(v.Ints) != len(o.Ints) {
			return false
		}
		for i := range v.Ints {
			if v.Ints[i] != o.Ints[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Bind binds one operand role to a concrete type, a type parameter, or
// absence.
type Bind struct {
	Operand string
	Absent  bool
	Param   string
	Type    nem.ElemType
}

// AttrRule constrains one attribute.
type AttrRule struct {
	Name     string
	Required bool
	Absent   bool
	HasValue bool
	Value    Value
}

// Variant is one named variant with per-instantiation conformance tags.
type Variant struct {
	Name          string
	Must          []parser.Instantiation
	May           []parser.Instantiation
	Operands      []Bind
	Attrs         []AttrRule
	QuantRequired []string
}

// Param is one family type parameter.
type Param struct {
	Name    string
	Allowed []nem.ElemType
}

// Family is one parameterized type family.
type Family struct {
	Name     string
	Params   []Param
	Operands []Bind
	Attrs    []AttrRule
	Variants []*Variant
}

// Instantiations enumerates the cartesian product of the parameters'
// allowed types. A parameterless family has exactly one empty
// instantiation.
func (f *Family) Instantiations() []parser.Instantiation {
	out := []parser.Instantiation{{}}
	for _, p := range f.Params {
		var next []parser.Instantiation
		for _, inst := range out {
			for _, t := range p.Allowed {
				grown := append(append(parser.Instantiation{}, inst...), t)
				next = append(next, grown)
			}
		}
		out = next
	}
	return out
}

// conformance looks up the tag of inst in v. A parameterless variant that
// lists no instantiations is MUST by default.
func (v *Variant) conformance(f *Family, inst parser.Instantiation) (Conformance, bool) {
	for _, m := range v.Must {
		if instEqual(m, inst) {
			return Must, true
		}
	}
	for _, m := range v.May {
		if instEqual(m, inst) {
			return May, true
		}
	}
	if len(f.Params) == 0 && len(v.Must) == 0 && len(v.May) == 0 {
		return Must, true
	}
	return 0, false
}

func instEqual(a, b parser.Instantiation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Catalog is the loaded family set of one configuration.
type Catalog struct {
	families map[string]*Family
	order    []string
}

// BuildCatalog converts parsed family declarations. Duplicate names are
// reported through the collector; the first declaration wins.
func BuildCatalog(decls []*parser.FamilyDecl, col *diag.Collector) *Catalog {
	cat := &Catalog{families: make(map[string]*Family)}
	for _, d := range decls {
		if _, dup := cat.families[d.Name]; dup {
			col.Errorf(d.Loc(), "duplicate type family %q", d.Name)
			continue
		}
		f := &Family{Name: d.Name}
		for _, p := range d.Params {
			f.Params = append(f.Params, Param{Name: p.Name, Allowed: p.Allowed})
		}
		f.Operands = convertBinds(d.Operands)
		f.Attrs = convertAttrRules(d.Attrs, col)
		for _, v := range d.Variants {
			f.Variants = append(f.Variants, &Variant{
				Name:          v.Name,
				Must:          v.Must,
				May:           v.May,
				Operands:      convertBinds(v.Operands),
				Attrs:         convertAttrRules(v.Attrs, col),
				QuantRequired: v.QuantRequired,
			})
		}
		cat.families[d.Name] = f
		cat.order = append(cat.order, d.Name)
	}
	return cat
}

func convertBinds(binds []*parser.OperandBind) []Bind {
	out := make([]Bind, 0, len(binds))
	for _, b := range binds {
		out = append(out, Bind{Operand: b.Name, Absent: b.Absent,
			Param: b.ParamRef, Type: b.Type})
	}
	return out
}

func convertAttrRules(rules []*parser.AttrConstraint, col *diag.Collector) []AttrRule {
	out := make([]AttrRule, 0, len(rules))
	for _, r := range rules {
		rule := AttrRule{Name: r.Name, Required: r.Required, Absent: r.Absent}
		if r.HasValue {
			v, err := Resolve(r.Value, nil)
			if err != nil {
				col.Errorf(r.Loc(), "attribute constraint %q: %v", r.Name, err)
				continue
			}
			rule.HasValue = true
			rule.Value = v
		}
		out = append(out, rule)
	}
	return out
}

// Lookup returns the named family.
func (c *Catalog) Lookup(name string) (*Family, bool) {
	f, ok := c.families[name]
	return f, ok
}

// Names returns the family names in declaration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// MustRefs returns every MUST variant instantiation in the catalog as a
// canonical reference. Devices must carry all of them in their mandatory
// set.
func (c *Catalog) MustRefs() []Ref {
	var out []Ref
	for _, name := range c.order {
		f := c.families[name]
		for _, v := range f.Variants {
			if len(f.Params) == 0 && len(v.Must) == 0 && len(v.May) == 0 {
				out = append(out, Ref{Family: f.Name, Variant: v.Name})
				continue
			}
			for _, inst := range v.Must {
				out = append(out, Ref{Family: f.Name,
					Args: append([]nem.ElemType(nil), inst...), Variant: v.Name})
			}
		}
	}
	return out
}

// ResolveRef validates a syntactic variant reference against the catalog:
// the family must exist, the variant must exist, and explicit type
// arguments must be a permitted instantiation.
func (c *Catalog) ResolveRef(ref *parser.VariantRef) (Ref, error) {
	f, ok := c.families[ref.Family]
	if !ok {
		return Ref{}, fmt.Errorf("unknown type family %q", ref.Family)
	}
	var variant *Variant
	for _, v := range f.Variants {
		if v.Name == ref.Variant {
			variant = v
			break
		}
	}
	if variant == nil {
		return Ref{}, fmt.Errorf("family %q has no variant %q", ref.Family, ref.Variant)
	}
	out := Ref{Family: ref.Family, Args: ref.Args, Variant: ref.Variant}
	if len(ref.Args) == 0 {
		return out, nil
	}
	if len(ref.Args) != len(f.Params) {
		return Ref{}, fmt.Errorf("reference %s has %d type arguments, family declares %d parameters",
			out.Key(), len(ref.Args), len(f.Params))
	}
	if _, ok := variant.conformance(f, parser.Instantiation(ref.Args)); !ok {
		return Ref{}, fmt.Errorf("variant %s does not offer instantiation %s",
			out.bareKey(), parser.Instantiation(ref.Args).Key())
	}
	return out, nil
}
