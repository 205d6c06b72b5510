package family

import (
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/parser"
)

// OperandInfo describes one supplied operand of an operator instance.
type OperandInfo struct {
	Type     nem.ElemType
	HasQuant bool
}

// Query is one operator instance to match: the families the operator
// references, its supplied operands by role name, and its resolved
// attributes.
type Query struct {
	Families []string
	Operands map[string]OperandInfo
	Attrs    map[string]Value
}

// EffectiveSet answers membership questions for a device's effective
// variant set.
type EffectiveSet interface {
	// Contains reports whether the set holds the exact reference or its
	// bare (argument-free) form.
	Contains(ref Ref) bool
}

// MatchResult reports the outcome of a match.
type MatchResult struct {
	OK          bool
	Ref         Ref
	Conformance Conformance
	// Nearest is set on failure to the closest non-matching variant for
	// diagnostic suggestion, with its operand mismatch descriptions.
	Nearest          *Ref
	NearestMismatches []string
}

// Match checks a query against the device's effective set. The matcher is
// pure: it never mutates the catalog or the set.
//
// The first matching variant in family declaration order wins; selection
// among multiple legal matches is not the matcher's concern.
func (c *Catalog) Match(q Query, set EffectiveSet) MatchResult {
	best := MatchResult{}
	bestMismatches := -1

	for _, famName := range q.Families {
		f, ok := c.families[famName]
		if !ok {
			continue
		}
		for _, v := range f.Variants {
			for _, inst := range f.Instantiations() {
				if _, offered := v.conformance(f, inst); !offered {
					continue
				}
				ref := Ref{Family: f.Name, Variant: v.Name,
					Args: append([]nem.ElemType(nil), inst...)}
				if len(f.Params) == 0 {
					ref.Args = nil
				}
				if !set.Contains(ref) {
					continue
				}
				mismatches := c.tryVariant(f, v, inst, q)
				if len(mismatches) == 0 {
					conf, _ := v.conformance(f, inst)
					return MatchResult{OK: true, Ref: ref, Conformance: conf}
				}
				if bestMismatches < 0 || len(mismatches) < bestMismatches {
					bestMismatches = len(mismatches)
					refCopy := ref
					best = MatchResult{Nearest: &refCopy, NearestMismatches: mismatches}
				}
			}
		}
	}
	return best
}

// tryVariant returns the mismatch descriptions of matching q against one
// variant instantiation; empty means a full match.
func (c *Catalog) tryVariant(f *Family, v *Variant, inst parser.Instantiation, q Query) []string {
	var mismatches []string

	// Variant binds override family binds per operand role.
	binds := map[string]Bind{}
	for _, b := range f.Operands {
		binds[b.Operand] = b
	}
	for _, b := range v.Operands {
		binds[b.Operand] = b
	}

	paramType := func(name string) nem.ElemType {
		for i, p := range f.Params {
			if p.Name == name && i < len(inst) {
				return inst[i]
			}
		}
		return nem.InvalidElem
	}

	// Ordered walk keeps mismatch reports deterministic.
	ordered := make([]Bind, 0, len(binds))
	appendBind := func(src []Bind) {
		for _, b := range src {
			eff := binds[b.Operand]
			seen := false
			for _, prev := range ordered {
				if prev.Operand == b.Operand {
					seen = true
					break
				}
			}
			if !seen {
				ordered = append(ordered, eff)
			}
		}
	}
	appendBind(f.Operands)
	appendBind(v.Operands)

	for _, b := range ordered {
		supplied, present := q.Operands[b.Operand]
		if b.Absent {
			if present {
				mismatches = append(mismatches,
					"operand "+b.Operand+" must be absent")
			}
			continue
		}
		want := b.Type
		if b.Param != "" {
			want = paramType(b.Param)
		}
		if !present {
			mismatches = append(mismatches, "operand "+b.Operand+" ("+want.String()+") missing")
			continue
		}
		if supplied.Type != want {
			mismatches = append(mismatches,
				"operand "+b.Operand+" has type "+supplied.Type.String()+", variant requires "+want.String())
		}
	}

	// Operands supplied beyond the binding set do not belong to this
	// variant.
	for name := range q.Operands {
		if _, ok := binds[name]; !ok {
			mismatches = append(mismatches, "operand "+name+" is not accepted")
		}
	}

	rules := append(append([]AttrRule{}, f.Attrs...), v.Attrs...)
	for _, r := range rules {
		val, present := q.Attrs[r.Name]
		switch {
		case r.Absent && present:
			mismatches = append(mismatches, "attribute "+r.Name+" must be absent")
		case r.Required && !present:
			mismatches = append(mismatches, "attribute "+r.Name+" is required")
		case r.HasValue:
			if !present || !val.Equal(r.Value) {
				mismatches = append(mismatches, "attribute "+r.Name+" must equal the variant's value")
			}
		}
	}

	for _, role := range v.QuantRequired {
		if info, ok := q.Operands[role]; !ok || !info.HasQuant {
			mismatches = append(mismatches,
				"operand "+role+" requires a quantization descriptor")
		}
	}

	return mismatches
}
