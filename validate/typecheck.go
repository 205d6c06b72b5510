package validate

import (
	"strings"

	"github.com/frank-ceva/nem/family"
	"github.com/frank-ceva/nem/opcode"
	"github.com/frank-ceva/nem/parser"
)

// Pass 5: type checking. Every compute call is matched against the device's
// effective variant set; failures carry the nearest variant as a
// suggestion.
func (c *context) checkTypes() {
	checked := map[parser.NodeID]bool{}
	for _, inst := range c.insts {
		call, ok := inst.stmt.Call.(*parser.ComputeCall)
		if !ok || checked[call.ID()] {
			continue
		}
		checked[call.ID()] = true
		c.checkCompute(inst, call)
	}
}

func (c *context) checkCompute(inst *taskInst, call *parser.ComputeCall) {
	op, known := c.reg.Lookup(call.Op)
	if !known {
		c.col.Errorf(call.OpLoc, "unknown operator %q", call.Op)
		return
	}

	form := "async"
	if call.Sync {
		form = "sync"
	}
	formOK := false
	for _, f := range op.Forms {
		if f == form {
			formOK = true
		}
	}
	if !formOK {
		c.col.Errorf(call.Loc(), "operator %q does not permit the %s form", call.Op, form)
	}

	operands, ok := c.bindOperands(inst, call, op)
	attrs, attrsOK := c.resolveAttrs(inst, call, op)
	if !ok || !attrsOK {
		return
	}

	if c.dev == nil || c.cat == nil {
		return
	}

	res := c.cat.Match(family.Query{
		Families: op.Families,
		Operands: operands,
		Attrs:    attrs,
	}, c.dev.Effective())
	c.an.Matches[call.ID()] = res
	if res.OK {
		return
	}

	d := c.col.Errorf(call.Loc(),
		"no supported variant of %q matches this instance on device %q",
		call.Op, c.dev.Name)
	if res.Nearest != nil {
		d.Notef(call.Loc(), "nearest variant is %s: %s",
			res.Nearest.Key(), strings.Join(res.NearestMismatches, "; "))
	}
}

// bindOperands assigns supplied operands to the registry's ordered roles
// and extracts their element types.
func (c *context) bindOperands(
	inst *taskInst,
	call *parser.ComputeCall,
	op *opcode.Op,
) (map[string]family.OperandInfo, bool) {
	out := map[string]family.OperandInfo{}
	ok := true

	bind := func(supplied []*parser.Operand, roles []opcode.OperandSpec, variadic bool, what string) {
		if len(supplied) > len(roles) && !variadic {
			c.col.Errorf(call.Loc(), "operator %q takes at most %d %s operands, got %d",
				call.Op, len(roles), what, len(supplied))
			ok = false
			return
		}
		required := 0
		for _, r := range roles {
			if r.Required {
				required++
			}
		}
		if len(supplied) < required {
			c.col.Errorf(call.Loc(), "operator %q requires %d %s operands, got %d",
				call.Op, required, what, len(supplied))
			ok = false
			return
		}
		for i, operand := range supplied {
			if i >= len(roles) {
				break
			}
			info, found := c.operandType(inst, operand)
			if !found {
				ok = false
				continue
			}
			out[roles[i].Name] = info
		}
	}

	bind(call.In, op.Inputs(), op.VariadicIn, "input")
	bind(call.Out, op.Outputs(), op.VariadicOut, "output")
	return out, ok
}

func (c *context) operandType(inst *taskInst, op *parser.Operand) (family.OperandInfo, bool) {
	for _, a := range inst.accesses {
		if a.operand == op {
			if !a.hasType {
				if c.reportOnce(op.ID()) {
					c.col.Errorf(op.Loc(),
						"compute operands require a typed region (type and shape attributes)")
				}
				return family.OperandInfo{}, false
			}
			return family.OperandInfo{Type: a.elem, HasQuant: a.hasQuant}, true
		}
	}
	return family.OperandInfo{}, false
}

// resolveAttrs checks names and kinds against the registry, fills defaults,
// and evaluates expressions into comparable values.
func (c *context) resolveAttrs(
	inst *taskInst,
	call *parser.ComputeCall,
	op *opcode.Op,
) (map[string]family.Value, bool) {
	out := map[string]family.Value{}
	ok := true

	for _, a := range call.Attrs {
		spec, known := op.Attribute(a.Name)
		if !known {
			c.col.Errorf(a.Loc(), "operator %q has no attribute %q", call.Op, a.Name)
			ok = false
			continue
		}
		v, err := c.coerceAttr(a, spec, inst.env)
		if err != "" {
			c.col.Errorf(a.Loc(), "attribute %q: %s", a.Name, err)
			ok = false
			continue
		}
		out[a.Name] = v
	}

	for _, spec := range op.Attributes {
		if _, supplied := out[spec.Name]; supplied {
			continue
		}
		if spec.Required {
			c.col.Errorf(call.Loc(), "operator %q requires attribute %q", call.Op, spec.Name)
			ok = false
			continue
		}
		if spec.Default != nil {
			out[spec.Name] = defaultValue(spec)
		}
	}
	return out, ok
}

// coerceAttr converts a parsed attribute value to the registry-declared
// kind. Integer expressions may reference constants and loop variables; a
// bare identifier satisfies either an ident-kind attribute or, when it
// names a constant, an integer one.
func (c *context) coerceAttr(
	a *parser.AttrArg,
	spec opcode.AttrSpec,
	env map[string]int64,
) (family.Value, string) {
	v := a.Value
	switch spec.Kind {
	case opcode.KindInt:
		if v.Kind != parser.AttrInt && v.Kind != parser.AttrIdent {
			return family.Value{}, "expected an integer value"
		}
		n, err := v.Expr.Eval(env)
		if err != nil {
			return family.Value{}, err.Error()
		}
		return family.Value{Kind: parser.AttrInt, Int: n}, ""
	case opcode.KindFloat:
		switch v.Kind {
		case parser.AttrFloat:
			return family.Value{Kind: parser.AttrFloat, Float: v.Float}, ""
		case parser.AttrInt, parser.AttrIdent:
			n, err := v.Expr.Eval(env)
			if err != nil {
				return family.Value{}, err.Error()
			}
			return family.Value{Kind: parser.AttrFloat, Float: float64(n)}, ""
		}
		return family.Value{}, "expected a floating value"
	case opcode.KindBool:
		if v.Kind != parser.AttrBool {
			return family.Value{}, "expected true or false"
		}
		return family.Value{Kind: parser.AttrBool, Bool: v.Bool}, ""
	case opcode.KindElemType:
		if v.Kind != parser.AttrElemType {
			return family.Value{}, "expected an element type"
		}
		return family.Value{Kind: parser.AttrElemType, Elem: v.Elem}, ""
	case opcode.KindIntList:
		if v.Kind != parser.AttrIntList {
			return family.Value{}, "expected an integer list"
		}
		return family.Value{Kind: parser.AttrIntList, Ints: v.IntList}, ""
	case opcode.KindString:
		if v.Kind != parser.AttrString {
			return family.Value{}, "expected a string"
		}
		return family.Value{Kind: parser.AttrString, Str: v.Str}, ""
	case opcode.KindIdent:
		if v.Kind != parser.AttrIdent {
			return family.Value{}, "expected an identifier"
		}
		return family.Value{Kind: parser.AttrIdent, Str: v.Str}, ""
	}
	return family.Value{}, "unknown attribute kind"
}

// defaultValue converts a registry default into a comparable value.
func defaultValue(spec opcode.AttrSpec) family.Value {
	switch spec.Kind {
	case opcode.KindInt:
		switch d := spec.Default.(type) {
		case int:
			return family.Value{Kind: parser.AttrInt, Int: int64(d)}
		case int64:
			return family.Value{Kind: parser.AttrInt, Int: d}
		}
	case opcode.KindFloat:
		switch d := spec.Default.(type) {
		case float64:
			return family.Value{Kind: parser.AttrFloat, Float: d}
		case int:
			return family.Value{Kind: parser.AttrFloat, Float: float64(d)}
		}
	case opcode.KindBool:
		if d, ok := spec.Default.(bool); ok {
			return family.Value{Kind: parser.AttrBool, Bool: d}
		}
	case opcode.KindString, opcode.KindIdent:
		if d, ok := spec.Default.(string); ok {
			return family.Value{Kind: v2Kind(spec.Kind), Str: d}
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
			return family.Value{Kind: parser.AttrIntList, Ints: out}
		}
	}
	return family.Value{}
}

func v2Kind(k opcode.ValueKind) parser.AttrValueKind {
	if k == opcode.KindIdent {
		return parser.AttrIdent
	}
	return parser.AttrString
}
