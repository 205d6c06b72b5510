package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frank-ceva/nem/nem"
)

// Render produces the canonical structural text of a document. Re-parsing the
// rendering yields an equal tree modulo whitespace and source locations.
func Render(doc *Document) string {
	var r renderer
	for _, inc := range doc.Includes {
		r.linef("include %q", inc.Path)
	}
	switch {
	case doc.Program != nil:
		r.program(doc.Program)
	case doc.Config != nil:
		r.config(doc.Config)
	}
	return r.b.String()
}

type renderer struct {
	b      strings.Builder
	indent int
}

func (r *renderer) linef(format string, args ...any) {
	r.b.WriteString(strings.Repeat("    ", r.indent))
	fmt.Fprintf(&r.b, format, args...)
	r.b.WriteByte('\n')
}

func (r *renderer) program(prog *Program) {
	if d := prog.Device; d != nil {
		if d.Inline != nil {
			r.device(d.Inline)
		} else {
			r.linef("device %q", d.Path)
		}
	}
	r.linef("program %s {", prog.Name)
	r.indent++
	for _, s := range prog.Body {
		r.stmt(s)
	}
	r.indent--
	r.linef("}")
}

func (r *renderer) stmt(s Stmt) {
	switch s := s.(type) {
	case *ConstDecl:
		r.linef("const %s = %s", s.Name, exprText(s.Expr))
	case *BufferDecl:
		level := s.Level.String()
		if s.Level == nem.Scratchpad {
			level = "l1[" + exprText(s.EngineExpr) + "]"
		}
		line := fmt.Sprintf("buffer %s : %s, size = %s", s.Name, level, exprText(s.Size))
		if s.Align != 1 {
			line += fmt.Sprintf(", align = %d", s.Align)
		}
		r.linef("%s%s", line, decoratorText(s.Decorators))
	case *LetDecl:
		r.linef("let %s = %s%s", s.Name, regionText(s.Region), decoratorText(s.Decorators))
	case *LoopStmt:
		r.linef("loop %s in [%s .. %s]%s {", s.Var,
			exprText(s.From), exprText(s.To), decoratorText(s.Decorators))
		r.indent++
		for _, inner := range s.Body {
			r.stmt(inner)
		}
		r.indent--
		r.linef("}")
	case *TaskStmt:
		prefix := ""
		if s.Token != "" {
			prefix = s.Token + " = "
		}
		r.linef("%s%s%s", prefix, callText(s.Call), decoratorText(s.Decorators))
	}
}

func callText(c TaskCall) string {
	switch c := c.(type) {
	case *TransferCall:
		form := "transfer.async"
		if c.Sync {
			form = "transfer.sync"
		}
		return form + "(" + operandText(c.Src) + ", " + operandText(c.Dst) + ")" + depsText(c.Deps)
	case *StoreCall:
		form := "store.async"
		if c.Sync {
			form = "store.sync"
		}
		return form + "(" + operandText(c.Target) + ")" + depsText(c.Deps)
	case *WaitCall:
		names := make([]string, len(c.Tokens))
		for i, t := range c.Tokens {
			names[i] = t.Name
		}
		return "wait(" + strings.Join(names, ", ") + ")"
	case *ComputeCall:
		form := ".async"
		if c.Sync {
			form = ".sync"
		}
		out := c.Op + form + " in(" + operandsText(c.In) + ") out(" + operandsText(c.Out) + ")"
		if len(c.Attrs) > 0 {
			parts := make([]string, len(c.Attrs))
			for i, a := range c.Attrs {
				parts[i] = a.Name + " = " + attrValueText(a.Value)
			}
			out += " attrs(" + strings.Join(parts, ", ") + ")"
		}
		return out + depsText(c.Deps)
	}
	return ""
}

func operandsText(ops []*Operand) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = operandText(op)
	}
	return strings.Join(parts, ", ")
}

func operandText(op *Operand) string {
	var out string
	if op.Region != nil {
		out = regionText(op.Region)
	} else {
		out = op.Name
	}
	return out + decoratorText(op.Decorators)
}

func regionText(re *RegionExpr) string {
	parts := []string{re.Buffer, exprText(re.Offset), exprText(re.Extent)}
	if re.HasType {
		parts = append(parts, "type = "+re.Type.String())
	}
	if len(re.Shape) > 0 {
		parts = append(parts, "shape = "+exprListText(re.Shape))
	}
	if re.Layout != nil {
		if re.Layout.Name != "" {
			parts = append(parts, "layout = "+re.Layout.Name)
		} else {
			parts = append(parts, "layout = "+exprListText(re.Layout.Strides))
		}
	}
	if q := re.Quant; q != nil {
		switch q.Kind {
		case PerTensor:
			parts = append(parts, "quant = per_tensor")
		case PerChannel:
			parts = append(parts, "quant = per_channel("+exprText(q.Axis)+")")
		case PerGroup:
			parts = append(parts, "quant = per_group("+exprText(q.Axis)+", "+exprText(q.Group)+")")
		}
	}
	return "region(" + strings.Join(parts, ", ") + ")"
}

func exprListText(exprs []nem.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = exprText(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func depsText(deps []*TokenRef) string {
	if len(deps) == 0 {
		return ""
	}
	names := make([]string, len(deps))
	for i, d := range deps {
		names[i] = d.Name
	}
	return " deps = [" + strings.Join(names, ", ") + "]"
}

func decoratorText(decs []*Decorator) string {
	var b strings.Builder
	for _, d := range decs {
		b.WriteString(" @" + d.Name)
		if len(d.Args) > 0 {
			parts := make([]string, len(d.Args))
			for i, a := range d.Args {
				switch {
				case a.IsStr:
					parts[i] = strconv.Quote(a.Str)
				case a.Unit != "":
					parts[i] = a.Unit + "[" + exprText(a.UnitIndex) + "]"
				default:
					parts[i] = exprText(a.Expr)
				}
			}
			b.WriteString("(" + strings.Join(parts, ", ") + ")")
		}
	}
	return b.String()
}

func attrValueText(v AttrValue) string {
	switch v.Kind {
	case AttrInt:
		return exprText(v.Expr)
	case AttrFloat:
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		// Floating literals carry a mandatory fractional part.
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		} else if i := strings.IndexByte(s, 'e'); i >= 0 && !strings.Contains(s[:i], ".") {
			s = s[:i] + ".0" + s[i:]
		}
		return s
	case AttrBool:
		return strconv.FormatBool(v.Bool)
	case AttrString:
		return strconv.Quote(v.Str)
	case AttrElemType:
		return v.Elem.String()
	case AttrIdent:
		return v.Str
	case AttrIntList:
		parts := make([]string, len(v.IntList))
		for i, n := range v.IntList {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// exprText renders expressions fully parenthesized so precedence survives a
// re-parse.
func exprText(e nem.Expr) string {
	if e == nil {
		return "0"
	}
	return e.String()
}

func (r *renderer) config(cfg *Config) {
	for _, f := range cfg.Families {
		r.family(f)
	}
	for _, d := range cfg.Devices {
		r.device(d)
	}
}

func (r *renderer) family(f *FamilyDecl) {
	head := "family " + f.Name
	if len(f.Params) > 0 {
		parts := make([]string, len(f.Params))
		for i, tp := range f.Params {
			allowed := make([]string, len(tp.Allowed))
			for j, t := range tp.Allowed {
				allowed[j] = t.String()
			}
			parts[i] = tp.Name + " : {" + strings.Join(allowed, ", ") + "}"
		}
		head += "<" + strings.Join(parts, ", ") + ">"
	}
	r.linef("%s {", head)
	r.indent++
	for _, b := range f.Operands {
		r.linef("%s", operandBindText(b))
	}
	for _, a := range f.Attrs {
		r.linef("%s", attrConstraintText(a))
	}
	for _, v := range f.Variants {
		r.linef("variant %s {", v.Name)
		r.indent++
		if len(v.Must) > 0 {
			r.linef("must = [%s]", instListText(v.Must))
		}
		if len(v.May) > 0 {
			r.linef("may = [%s]", instListText(v.May))
		}
		for _, b := range v.Operands {
			r.linef("%s", operandBindText(b))
		}
		for _, a := range v.Attrs {
			r.linef("%s", attrConstraintText(a))
		}
		for _, q := range v.QuantRequired {
			r.linef("quantized %s : required", q)
		}
		r.indent--
		r.linef("}")
	}
	r.indent--
	r.linef("}")
}

func instListText(insts []Instantiation) string {
	parts := make([]string, len(insts))
	for i, inst := range insts {
		if len(inst) == 1 {
			parts[i] = inst[0].String()
			continue
		}
		args := make([]string, len(inst))
		for j, t := range inst {
			args[j] = t.String()
		}
		parts[i] = "<" + strings.Join(args, ", ") + ">"
	}
	return strings.Join(parts, ", ")
}

func operandBindText(b *OperandBind) string {
	switch {
	case b.Absent:
		return "operand " + b.Name + " : absent"
	case b.ParamRef != "":
		return "operand " + b.Name + " : " + b.ParamRef
	}
	return "operand " + b.Name + " : " + b.Type.String()
}

func attrConstraintText(a *AttrConstraint) string {
	switch {
	case a.Required:
		return "attr " + a.Name + " : required"
	case a.Absent:
		return "attr " + a.Name + " : absent"
	}
	return "attr " + a.Name + " = " + attrValueText(a.Value)
}

func (r *renderer) device(d *DeviceDecl) {
	head := "device " + d.Name
	if d.Extends != "" {
		head += " extends " + d.Extends
	}
	r.linef("%s {", head)
	r.indent++
	if d.HasSpecVersion {
		r.linef("spec_version = %q", d.SpecVersion)
	}
	if t := d.Topology; t != nil {
		r.linef("topology {")
		r.indent++
		r.linef("engines = %d", t.Engines)
		r.linef("l2_size_bytes = %d", t.L2SizeBytes)
		if len(t.DeviceUnits) > 0 {
			r.linef("device_units {")
			r.indent++
			for _, u := range t.DeviceUnits {
				r.linef("%s = %d", u.Name, u.Count)
			}
			r.indent--
			r.linef("}")
		}
		r.linef("per_engine {")
		r.indent++
		for _, u := range t.PerEngine {
			r.linef("%s = %d", u.Name, u.Count)
		}
		r.linef("l1_size_bytes = %d", t.L1SizeBytes)
		r.indent--
		r.linef("}")
		r.indent--
		r.linef("}")
	}
	if len(d.Characteristics) > 0 {
		r.linef("unit_characteristics {")
		r.indent++
		for _, u := range d.Characteristics {
			r.linef("%s {", u.Unit)
			r.indent++
			for _, k := range u.Keys {
				r.linef("%s = %d", k.Name, k.Count)
			}
			r.indent--
			r.linef("}")
		}
		r.indent--
		r.linef("}")
	}
	if len(d.Mandatory) > 0 {
		r.linef("opcode.mandatory {")
		r.indent++
		for _, v := range d.Mandatory {
			r.linef("%s", v.String())
		}
		r.indent--
		r.linef("}")
	}
	if len(d.Extended) > 0 {
		r.linef("opcode.extended {")
		r.indent++
		for _, v := range d.Extended {
			r.linef("%s", v.String())
		}
		r.indent--
		r.linef("}")
	}
	r.indent--
	r.linef("}")
}
