package validate

import "github.com/frank-ceva/nem/parser"

// Pass 6: dependency validation. Tokens resolve to earlier tasks in the
// same or an enclosing scope (pass 1 enforces declare-before-use), so the
// token graph is acyclic by construction; this pass re-checks the
// invariant on the expanded instances and builds the reachability relation
// the hazard pass queries.
func (c *context) checkDependencies() {
	n := len(c.insts)
	words := (n + 63) / 64
	c.reach = make([][]uint64, n)

	for _, inst := range c.insts {
		row := make([]uint64, words)
		for _, d := range inst.deps {
			if d >= inst.seq {
				c.col.Errorf(inst.stmt.Loc(),
					"dependency cycle: task depends on a token produced at or after it")
				continue
			}
			row[d/64] |= 1 << (d % 64)
			for w, bits := range c.reach[d] {
				row[w] |= bits
			}
		}
		c.reach[inst.seq] = row
	}
}

// ordered reports whether a dependency path or the loop-pipelining window
// orders two instances.
func (c *context) ordered(a, b *taskInst) bool {
	if a.seq > b.seq {
		a, b = b, a
	}
	if c.reach[b.seq][a.seq/64]&(1<<(a.seq%64)) != 0 {
		return true
	}
	// Iterations of a bounded loop that lie at least the bound apart can
	// never be simultaneously active.
	limit := len(a.path)
	if len(b.path) < limit {
		limit = len(b.path)
	}
	for i := 0; i < limit; i++ {
		ka, kb := a.path[i], b.path[i]
		if ka.loop != kb.loop {
			return false
		}
		if ka.index != kb.index {
			delta := ka.index - kb.index
			if delta < 0 {
				delta = -delta
			}
			return delta >= ka.bound
		}
	}
	return false
}

// maxHazardInstances bounds the quadratic aliasing scan.
const maxHazardInstances = 2048

// Pass 7: aliasing hazards. Two accesses overlapping in the same buffer
// with at least one write must be ordered; a transfer's own source and
// destination may overlap only under the memmove decorator.
func (c *context) checkHazards() {
	insts := c.insts
	if len(insts) > maxHazardInstances {
		insts = insts[:maxHazardInstances]
	}

	// Same-task overlap: a transfer's source and destination.
	for _, inst := range insts {
		if _, isTransfer := inst.stmt.Call.(*parser.TransferCall); !isTransfer {
			continue
		}
		var rd, wr *access
		for i := range inst.accesses {
			a := &inst.accesses[i]
			if a.write {
				wr = a
			} else {
				rd = a
			}
		}
		if rd != nil && wr != nil && rd.buffer == wr.buffer &&
			overlaps(rd, wr) && !wr.memmove {
			if c.reportOnce(inst.stmt.ID()) {
				c.col.Errorf(inst.stmt.Loc(),
					"transfer source and destination overlap in buffer %q; use @memmove to permit overlap",
					wr.buffer)
			}
		}
	}

	for i := 0; i < len(insts); i++ {
		for j := i + 1; j < len(insts); j++ {
			a, b := insts[i], insts[j]
			if a.isWait || b.isWait {
				continue
			}
			pair := c.findHazard(a, b)
			if pair == nil {
				continue
			}
			if c.ordered(a, b) {
				continue
			}
			key := a.stmt.ID()
			if b.stmt.ID() < key {
				key = b.stmt.ID()
			}
			if c.reportOnce(key) {
				c.col.Errorf(b.stmt.Loc(),
					"unordered write hazard on buffer %q bytes [%d, %d): no dependency path separates these tasks",
					pair.buffer, pair.lo, pair.hi).
					Notef(a.stmt.Loc(), "conflicting access here")
			}
		}
	}
}

// findHazard returns the overlapping write access of an unordered pair, or
// nil when the tasks do not conflict.
func (c *context) findHazard(a, b *taskInst) *access {
	for i := range a.accesses {
		for j := range b.accesses {
			x, y := &a.accesses[i], &b.accesses[j]
			if x.buffer != y.buffer || (!x.write && !y.write) {
				continue
			}
			if !overlaps(x, y) {
				continue
			}
			if x.write {
				return x
			}
			return y
		}
	}
	return nil
}

func overlaps(a, b *access) bool {
	return a.lo < b.hi && b.lo < a.hi
}
