package validate

import (
	"github.com/frank-ceva/nem/nem"
	"github.com/frank-ceva/nem/parser"
)

// Pass 3: buffer validation. Sizes positive, alignments powers of two,
// levels valid for the device, and per-space capacity sums within the
// topology.
func (c *context) checkBuffers() {
	sharedTotal := int64(0)
	scratchTotal := map[int]int64{}

	var walk func(body []parser.Stmt, inLoop bool)
	walk = func(body []parser.Stmt, inLoop bool) {
		for _, stmt := range body {
			switch stmt := stmt.(type) {
			case *parser.BufferDecl:
				if inLoop {
					c.col.Errorf(stmt.Loc(),
						"buffer %q declared inside a loop body; buffers are allocated once and must be program-level",
						stmt.Name)
					continue
				}
				info := c.checkBuffer(stmt)
				if info == nil {
					continue
				}
				c.an.Buffers[stmt.Name] = info
				switch stmt.Level {
				case nem.Shared:
					sharedTotal += info.Size
				case nem.Scratchpad:
					scratchTotal[info.Engine] += info.Size
				}
			case *parser.LoopStmt:
				walk(stmt.Body, true)
			}
		}
	}
	walk(c.prog.Body, false)

	if c.dev == nil || c.dev.Topology == nil {
		return
	}
	t := c.dev.Topology
	if sharedTotal > t.L2SizeBytes {
		c.col.Errorf(c.prog.Loc(),
			"on-chip shared buffers total %d bytes, device capacity is %d",
			sharedTotal, t.L2SizeBytes)
	}
	for engine, total := range scratchTotal {
		if engine >= 0 && total > t.L1SizeBytes {
			c.col.Errorf(c.prog.Loc(),
				"scratchpad buffers on engine %d total %d bytes, capacity is %d",
				engine, total, t.L1SizeBytes)
		}
	}
}

func (c *context) checkBuffer(decl *parser.BufferDecl) *BufferInfo {
	size, err := decl.Size.Eval(c.an.Consts)
	if err != nil {
		c.col.Errorf(decl.Size.Loc(), "cannot evaluate size of buffer %q: %v",
			decl.Name, err)
		return nil
	}
	if size <= 0 {
		c.col.Errorf(decl.Loc(), "buffer %q has non-positive size %d", decl.Name, size)
		return nil
	}
	if decl.Align <= 0 || decl.Align&(decl.Align-1) != 0 {
		c.col.Errorf(decl.Loc(), "buffer %q alignment %d is not a positive power of two",
			decl.Name, decl.Align)
		return nil
	}

	info := &BufferInfo{Decl: decl, Size: size, Align: decl.Align, Engine: -1}
	if decl.Level == nem.Scratchpad {
		engine, err := decl.EngineExpr.Eval(c.an.Consts)
		if err != nil {
			c.col.Errorf(decl.EngineExpr.Loc(),
				"cannot evaluate engine index of buffer %q: %v", decl.Name, err)
			return nil
		}
		info.Engine = int(engine)
		if c.dev != nil && c.dev.Topology != nil {
			if engine < 0 || engine >= int64(c.dev.Topology.Engines) {
				c.col.Errorf(decl.Loc(),
					"buffer %q names engine %d, device has %d engines",
					decl.Name, engine, c.dev.Topology.Engines)
				return nil
			}
		}
	}
	return info
}

// Pass 4: region validation over every expanded instance: bounds inside the
// buffer, byte extent covering the typed shape, positive dimensions,
// stride/shape consistency, quantization axis consistency.
func (c *context) checkRegions() {
	// Named lets validate through their bindings during expansion; operands
	// validate here per instance, deduplicated per node.
	seen := map[parser.NodeID]bool{}
	var checkAccess func(a access)
	checkAccess = func(a access) {
		r := a.region
		if r == nil || seen[r.ID()] {
			return
		}
		buf := c.an.Buffers[a.buffer]
		if buf == nil {
			return
		}
		bad := false
		if a.lo < 0 {
			c.col.Errorf(r.Loc(), "region offset %d is negative", a.lo)
			bad = true
		}
		if a.hi <= a.lo {
			c.col.Errorf(r.Loc(), "region extent %d is not positive", a.hi-a.lo)
			bad = true
		}
		if !bad && a.hi > buf.Size {
			c.col.Errorf(r.Loc(),
				"region [%d, %d) exceeds buffer %q of %d bytes",
				a.lo, a.hi, a.buffer, buf.Size)
			bad = true
		}
		if bad {
			seen[r.ID()] = true
			return
		}
		if r.HasType {
			c.checkTypedRegion(r, a, &bad)
		}
		if bad {
			seen[r.ID()] = true
		}
	}
	for _, a := range c.letAccesses {
		checkAccess(a)
	}
	for _, inst := range c.insts {
		for _, a := range inst.accesses {
			checkAccess(a)

			// Access-intent decorators are structural, not per-iteration.
			readonly := operandHasDecorator(a.operand, "readonly") ||
				(a.let != nil && letHasDecorator(a.let, "readonly"))
			writeonly := operandHasDecorator(a.operand, "writeonly") ||
				(a.let != nil && letHasDecorator(a.let, "writeonly"))
			if a.operand != nil {
				if a.write && readonly && c.reportOnce(a.operand.ID()) {
					c.col.Errorf(a.operand.Loc(), "write access to a readonly region")
				}
				if !a.write && writeonly && c.reportOnce(a.operand.ID()) {
					c.col.Errorf(a.operand.Loc(), "read access to a writeonly region")
				}
			}
		}
	}
}

func (c *context) checkTypedRegion(r *parser.RegionExpr, a access, bad *bool) {
	env := map[string]int64{}
	// Shape and stride expressions may reference constants only; loop
	// variables in shapes would make the element count iteration-dependent.
	for k, v := range c.an.Consts {
		env[k] = v
	}

	elems := int64(1)
	var dims []int64
	for _, e := range r.Shape {
		d, err := e.Eval(env)
		if err != nil {
			c.col.Errorf(e.Loc(), "cannot evaluate shape dimension: %v", err)
			*bad = true
			return
		}
		if d <= 0 {
			c.col.Errorf(e.Loc(), "shape dimension %d is not positive", d)
			*bad = true
			return
		}
		dims = append(dims, d)
		elems *= d
	}

	need := a.elem.ByteExtent(elems)
	if a.hi-a.lo < need {
		c.col.Errorf(r.Loc(),
			"region extent %d bytes cannot hold %d %s elements (%d bytes)",
			a.hi-a.lo, elems, a.elem, need)
		*bad = true
		return
	}

	if r.Layout != nil && len(r.Layout.Strides) > 0 {
		if len(r.Layout.Strides) != len(dims) {
			c.col.Errorf(r.Loc(),
				"layout declares %d strides for %d shape dimensions",
				len(r.Layout.Strides), len(dims))
			*bad = true
			return
		}
		// The farthest element reachable through the strides must stay
		// inside the region's extent.
		maxElem := int64(0)
		for i, se := range r.Layout.Strides {
			s, err := se.Eval(env)
			if err != nil {
				c.col.Errorf(se.Loc(), "cannot evaluate stride: %v", err)
				*bad = true
				return
			}
			if s < 0 {
				c.col.Errorf(se.Loc(), "stride %d is negative", s)
				*bad = true
				return
			}
			maxElem += (dims[i] - 1) * s
		}
		reach := a.elem.ByteExtent(maxElem + 1)
		if reach > a.hi-a.lo {
			c.col.Errorf(r.Loc(),
				"strided layout reaches %d bytes, beyond the region extent %d",
				reach, a.hi-a.lo)
			*bad = true
			return
		}
	} else if r.Layout != nil && r.Layout.Name != "" {
		if r.Layout.Name != "row_major" && r.Layout.Name != "col_major" {
			c.col.Errorf(r.Loc(), "unknown canonical layout %q", r.Layout.Name)
			*bad = true
			return
		}
	}

	if q := r.Quant; q != nil && q.Kind != parser.PerTensor {
		axis, err := q.Axis.Eval(env)
		if err != nil {
			c.col.Errorf(q.Axis.Loc(), "cannot evaluate quantization axis: %v", err)
			*bad = true
			return
		}
		if axis < 0 || axis >= int64(len(dims)) {
			c.col.Errorf(r.Loc(),
				"quantization axis %d outside shape of %d dimensions", axis, len(dims))
			*bad = true
			return
		}
		if q.Kind == parser.PerGroup {
			g, err := q.Group.Eval(env)
			if err != nil {
				c.col.Errorf(q.Group.Loc(), "cannot evaluate quantization group size: %v", err)
				*bad = true
				return
			}
			if g <= 0 || dims[axis]%g != 0 {
				c.col.Errorf(r.Loc(),
					"group size %d does not divide axis extent %d", g, dims[axis])
				*bad = true
			}
		}
	}
}
