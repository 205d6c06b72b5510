package parser

import (
	"strings"

	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/nem"
)

func (p *Parser) parseConfig(first *DeviceDecl) *Config {
	cfg := &Config{node: p.mk(p.cur().Location)}
	if first != nil {
		cfg.Devices = append(cfg.Devices, first)
	}
	for !p.at(EOF) {
		switch {
		case p.atKw("device"):
			if d := p.parseDeviceDecl(); d != nil {
				cfg.Devices = append(cfg.Devices, d)
			}
		case p.atKw("family"):
			if f := p.parseFamilyDecl(); f != nil {
				cfg.Families = append(cfg.Families, f)
			}
		default:
			p.col.Errorf(p.cur().Location,
				"expected device or family declaration, found %s", p.cur())
			p.sync()
		}
	}
	return cfg
}

// parseDottedName parses IDENT ("." IDENT)* and returns the joined name.
func (p *Parser) parseDottedName() (string, diag.Location, bool) {
	first, ok := p.expect(Ident)
	if !ok {
		return "", diag.Location{}, false
	}
	parts := []string{first.Lexeme}
	loc := first.Location
	for p.at(Dot) && p.peek().Kind == Ident {
		p.advance()
		seg := p.advance()
		parts = append(parts, seg.Lexeme)
		loc = diag.Span(loc, seg.Location)
	}
	return strings.Join(parts, "."), loc, true
}

func (p *Parser) parseFamilyDecl() *FamilyDecl {
	loc := p.advance().Location // family
	name, _, ok := p.parseDottedName()
	if !ok {
		p.sync()
		return nil
	}
	f := &FamilyDecl{node: p.mk(loc), Name: name}
	if p.at(Lt) {
		p.advance()
		for {
			tp := p.parseTypeParam()
			if tp == nil {
				p.sync()
				return nil
			}
			f.Params = append(f.Params, tp)
			if !p.at(Comma) {
				break
			}
			p.advance()
		}
		if _, ok := p.expect(Gt); !ok {
			p.sync()
			return nil
		}
	}
	if _, ok := p.expect(LBrace); !ok {
		p.sync()
		return nil
	}
	for !p.at(RBrace) && !p.at(EOF) {
		switch {
		case p.atKw("operand"):
			if b := p.parseOperandBind(f.Params); b != nil {
				f.Operands = append(f.Operands, b)
			} else {
				p.sync()
			}
		case p.atKw("attr"):
			if a := p.parseAttrConstraint(); a != nil {
				f.Attrs = append(f.Attrs, a)
			} else {
				p.sync()
			}
		case p.atKw("variant"):
			if v := p.parseVariantDecl(f.Params); v != nil {
				f.Variants = append(f.Variants, v)
			} else {
				p.sync()
			}
		default:
			p.col.Errorf(p.cur().Location,
				"expected operand, attr, or variant in family body, found %s", p.cur())
			p.sync()
		}
	}
	p.expect(RBrace)
	return f
}

func (p *Parser) parseTypeParam() *TypeParam {
	name, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	if _, ok := p.expect(Colon); !ok {
		return nil
	}
	if _, ok := p.expect(LBrace); !ok {
		return nil
	}
	tp := &TypeParam{node: p.mk(name.Location), Name: name.Lexeme}
	for {
		t, ok := p.parseElemType()
		if !ok {
			return nil
		}
		tp.Allowed = append(tp.Allowed, t)
		if !p.at(Comma) {
			break
		}
		p.advance()
	}
	if _, ok := p.expect(RBrace); !ok {
		return nil
	}
	return tp
}

func (p *Parser) parseElemType() (nem.ElemType, bool) {
	t, ok := p.expect(Ident)
	if !ok {
		return nem.InvalidElem, false
	}
	et := nem.ElemTypeByName(t.Lexeme)
	if et == nem.InvalidElem {
		p.col.Errorf(t.Location, "unknown element type %q", t.Lexeme)
		return nem.InvalidElem, false
	}
	return et, true
}

func (p *Parser) parseOperandBind(params []*TypeParam) *OperandBind {
	p.advance() // operand
	name, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	if _, ok := p.expect(Colon); !ok {
		return nil
	}
	b := &OperandBind{node: p.mk(name.Location), Name: name.Lexeme}
	if p.atKw("absent") {
		p.advance()
		b.Absent = true
		return b
	}
	t, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	for _, tp := range params {
		if tp.Name == t.Lexeme {
			b.ParamRef = t.Lexeme
			return b
		}
	}
	et := nem.ElemTypeByName(t.Lexeme)
	if et == nem.InvalidElem {
		p.col.Errorf(t.Location, "unknown type %q in operand binding", t.Lexeme)
		return nil
	}
	b.Type = et
	return b
}

func (p *Parser) parseAttrConstraint() *AttrConstraint {
	p.advance() // attr
	name, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	a := &AttrConstraint{node: p.mk(name.Location), Name: name.Lexeme}
	switch {
	case p.at(Assign):
		p.advance()
		v, ok := p.parseAttrValue()
		if !ok {
			return nil
		}
		a.HasValue = true
		a.Value = v
	case p.at(Colon):
		p.advance()
		switch {
		case p.atKw("required"):
			p.advance()
			a.Required = true
		case p.atKw("absent"):
			p.advance()
			a.Absent = true
		default:
			p.col.Errorf(p.cur().Location,
				"expected required or absent, found %s", p.cur())
			return nil
		}
	default:
		p.col.Errorf(p.cur().Location, "expected '=' or ':' after attribute name")
		return nil
	}
	return a
}

func (p *Parser) parseVariantDecl(params []*TypeParam) *VariantDecl {
	p.advance() // variant
	name, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	v := &VariantDecl{node: p.mk(name.Location), Name: name.Lexeme}
	if _, ok := p.expect(LBrace); !ok {
		return nil
	}
	for !p.at(RBrace) && !p.at(EOF) {
		switch {
		case p.atKw("must"), p.atKw("may"):
			isMust := p.cur().Lexeme == "must"
			p.advance()
			if _, ok := p.expect(Assign); !ok {
				return nil
			}
			insts, ok := p.parseInstList(len(params))
			if !ok {
				return nil
			}
			if isMust {
				v.Must = append(v.Must, insts...)
			} else {
				v.May = append(v.May, insts...)
			}
		case p.atKw("operand"):
			b := p.parseOperandBind(params)
			if b == nil {
				return nil
			}
			v.Operands = append(v.Operands, b)
		case p.atKw("attr"):
			a := p.parseAttrConstraint()
			if a == nil {
				return nil
			}
			v.Attrs = append(v.Attrs, a)
		case p.atKw("quantized"):
			p.advance()
			op, ok := p.expect(Ident)
			if !ok {
				return nil
			}
			if _, ok := p.expect(Colon); !ok {
				return nil
			}
			if !p.expectKw("required") {
				return nil
			}
			v.QuantRequired = append(v.QuantRequired, op.Lexeme)
		default:
			p.col.Errorf(p.cur().Location,
				"unexpected %s in variant body", p.cur())
			return nil
		}
	}
	p.expect(RBrace)
	return v
}

// parseInstList parses [ inst, inst, ... ] where an inst is a bare element
// type (single-parameter families) or a <t1, t2> tuple.
func (p *Parser) parseInstList(paramCount int) ([]Instantiation, bool) {
	if _, ok := p.expect(LBrack); !ok {
		return nil, false
	}
	var out []Instantiation
	if p.at(RBrack) {
		p.advance()
		return out, true
	}
	for {
		var inst Instantiation
		if p.at(Lt) {
			p.advance()
			for {
				t, ok := p.parseElemType()
				if !ok {
					return nil, false
				}
				inst = append(inst, t)
				if !p.at(Comma) {
					break
				}
				p.advance()
			}
			if _, ok := p.expect(Gt); !ok {
				return nil, false
			}
		} else {
			t, ok := p.parseElemType()
			if !ok {
				return nil, false
			}
			inst = Instantiation{t}
		}
		if paramCount > 0 && len(inst) != paramCount {
			p.col.Errorf(p.cur().Location,
				"instantiation has %d type arguments, family declares %d parameters",
				len(inst), paramCount)
		}
		out = append(out, inst)
		if !p.at(Comma) {
			break
		}
		p.advance()
	}
	if _, ok := p.expect(RBrack); !ok {
		return nil, false
	}
	return out, true
}

func (p *Parser) parseDeviceDecl() *DeviceDecl {
	loc := p.advance().Location // device
	name, ok := p.expect(Ident)
	if !ok {
		p.sync()
		return nil
	}
	d := &DeviceDecl{node: p.mk(loc), Name: name.Lexeme}
	if p.atKw("extends") {
		p.advance()
		parent, ok := p.expect(Ident)
		if !ok {
			p.sync()
			return nil
		}
		d.Extends = parent.Lexeme
		d.ExtendsLoc = parent.Location
	}
	if _, ok := p.expect(LBrace); !ok {
		p.sync()
		return nil
	}
	for !p.at(RBrace) && !p.at(EOF) {
		switch {
		case p.atKw("spec_version"):
			kw := p.advance()
			if _, ok := p.expect(Assign); !ok {
				p.sync()
				continue
			}
			v, ok := p.expect(String)
			if !ok {
				p.sync()
				continue
			}
			if d.HasSpecVersion {
				p.col.Errorf(kw.Location, "duplicate spec_version")
			}
			d.HasSpecVersion = true
			d.SpecVersion = v.Lexeme
		case p.atKw("topology"):
			if t := p.parseTopology(); t != nil {
				if d.Topology != nil {
					p.col.Errorf(t.Loc(), "duplicate topology block")
				}
				d.Topology = t
			}
		case p.atKw("unit_characteristics"):
			p.advance()
			if _, ok := p.expect(LBrace); !ok {
				p.sync()
				continue
			}
			for !p.at(RBrace) && !p.at(EOF) {
				u := p.parseUnitChar()
				if u == nil {
					p.sync()
					break
				}
				d.Characteristics = append(d.Characteristics, u)
			}
			p.expect(RBrace)
		case p.atKw("opcode.mandatory"), p.atKw("opcode.extended"):
			isMandatory := p.cur().Lexeme == "opcode.mandatory"
			p.advance()
			if _, ok := p.expect(LBrace); !ok {
				p.sync()
				continue
			}
			for !p.at(RBrace) && !p.at(EOF) {
				ref := p.parseVariantRef()
				if ref == nil {
					p.sync()
					break
				}
				if isMandatory {
					d.Mandatory = append(d.Mandatory, ref)
				} else {
					d.Extended = append(d.Extended, ref)
				}
			}
			p.expect(RBrace)
		default:
			p.col.Errorf(p.cur().Location, "unexpected %s in device body", p.cur())
			p.sync()
		}
	}
	p.expect(RBrace)
	return d
}

func (p *Parser) parseTopology() *TopologyDecl {
	loc := p.advance().Location // topology
	t := &TopologyDecl{node: p.mk(loc)}
	if _, ok := p.expect(LBrace); !ok {
		return nil
	}
	for !p.at(RBrace) && !p.at(EOF) {
		switch {
		case p.atKw("engines"):
			p.advance()
			if _, ok := p.expect(Assign); !ok {
				return nil
			}
			v, ok := p.parseIntLit()
			if !ok {
				return nil
			}
			t.Engines = v
		case p.atKw("l2_size_bytes"):
			p.advance()
			if _, ok := p.expect(Assign); !ok {
				return nil
			}
			v, ok := p.parseIntLit()
			if !ok {
				return nil
			}
			t.L2SizeBytes = v
		case p.atKw("device_units"):
			p.advance()
			counts, ok := p.parseUnitCounts(nil)
			if !ok {
				return nil
			}
			t.DeviceUnits = counts
		case p.atKw("per_engine"):
			p.advance()
			counts, ok := p.parseUnitCounts(func(name string, v int64) bool {
				if name == "l1_size_bytes" {
					t.L1SizeBytes = v
					return true
				}
				return false
			})
			if !ok {
				return nil
			}
			t.PerEngine = counts
		default:
			p.col.Errorf(p.cur().Location, "unexpected %s in topology block", p.cur())
			return nil
		}
	}
	p.expect(RBrace)
	return t
}

// parseUnitCounts parses { name = int ... }. The special callback intercepts
// reserved names (l1_size_bytes) that are not unit counts.
func (p *Parser) parseUnitCounts(special func(string, int64) bool) ([]UnitCount, bool) {
	if _, ok := p.expect(LBrace); !ok {
		return nil, false
	}
	var out []UnitCount
	for !p.at(RBrace) && !p.at(EOF) {
		var name Token
		if p.at(Ident) || p.at(Keyword) {
			name = p.advance()
		} else {
			p.col.Errorf(p.cur().Location, "expected unit name, found %s", p.cur())
			return nil, false
		}
		if _, ok := p.expect(Assign); !ok {
			return nil, false
		}
		v, ok := p.parseIntLit()
		if !ok {
			return nil, false
		}
		if special != nil && special(name.Lexeme, v) {
			continue
		}
		out = append(out, UnitCount{Name: name.Lexeme, Count: v, Location: name.Location})
	}
	p.expect(RBrace)
	return out, true
}

func (p *Parser) parseUnitChar() *UnitChar {
	name, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	keys, ok := p.parseUnitCounts(nil)
	if !ok {
		return nil
	}
	return &UnitChar{node: p.mk(name.Location), Unit: name.Lexeme, Keys: keys}
}

// parseVariantRef parses family[<args>].variant. The family part is every
// dotted segment before the type-argument list; without arguments it is
// every segment but the last.
func (p *Parser) parseVariantRef() *VariantRef {
	first, ok := p.expect(Ident)
	if !ok {
		return nil
	}
	segs := []string{first.Lexeme}
	loc := first.Location
	var args []nem.ElemType
	for {
		if p.at(Lt) {
			p.advance()
			for {
				t, ok := p.parseElemType()
				if !ok {
					return nil
				}
				args = append(args, t)
				if !p.at(Comma) {
					break
				}
				p.advance()
			}
			if _, ok := p.expect(Gt); !ok {
				return nil
			}
			// After the argument list exactly one .variant segment follows.
			if _, ok := p.expect(Dot); !ok {
				return nil
			}
			v, ok := p.expect(Ident)
			if !ok {
				return nil
			}
			return &VariantRef{node: p.mk(diag.Span(loc, v.Location)),
				Family: strings.Join(segs, "."), Args: args, Variant: v.Lexeme}
		}
		if p.at(Dot) && p.peek().Kind == Ident {
			p.advance()
			seg := p.advance()
			segs = append(segs, seg.Lexeme)
			loc = diag.Span(loc, seg.Location)
			continue
		}
		break
	}
	if len(segs) < 2 {
		p.col.Errorf(loc, "variant reference %q is missing a variant name", segs[0])
		return nil
	}
	return &VariantRef{node: p.mk(loc),
		Family:  strings.Join(segs[:len(segs)-1], "."),
		Variant: segs[len(segs)-1]}
}
