// Package validate runs the fixed ten-pass semantic pipeline over a parsed
// program: name resolution, constant evaluation, buffer and region checks,
// type-family matching, dependency and aliasing analysis, engine placement,
// decorator validity, and loop bounds.
package validate

import (
	"github.com/frank-ceva/nem/device"
	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/family"
	"github.com/frank-ceva/nem/opcode"
	"github.com/frank-ceva/nem/parser"
)

// SymbolKind classifies a resolved identifier.
type SymbolKind int

const (
	SymUnknown SymbolKind = iota
	SymConst
	SymBuffer
	SymRegion
	SymToken
	SymLoopVar
)

var symbolKindNames = []string{"unknown", "constant", "buffer", "region", "token", "loop variable"}

func (k SymbolKind) String() string { return symbolKindNames[k] }

// BufferInfo is the resolved form of one buffer declaration.
type BufferInfo struct {
	Decl  *parser.BufferDecl
	Size  int64
	Align int64
	// Engine is the owning engine of a scratchpad buffer, evaluated from
	// constants; -1 for device-global levels.
	Engine int
}

// Analysis holds the side tables the passes produce, keyed by name or by
// stable node identity. The syntax tree itself is never mutated.
type Analysis struct {
	Consts  map[string]int64
	Symbols map[string]SymbolKind
	Buffers map[string]*BufferInfo
	Lets    map[string]*parser.LetDecl
	// Matches records the outcome of type-family matching per compute call
	// node.
	Matches map[parser.NodeID]family.MatchResult
}

type context struct {
	prog *parser.Program
	dev  *device.Config
	cat  *family.Catalog
	reg  *opcode.Registry
	col  *diag.Collector
	an   *Analysis

	// reported dedupes per-iteration diagnostics down to one per node.
	reported map[parser.NodeID]bool
	// badConst marks constants whose expressions failed name resolution.
	badConst map[string]bool

	insts []*taskInst
	// letAccesses holds the evaluated region of every let binding instance.
	letAccesses []access
	// reach[i] is the bitset of instances transitively reachable through
	// the dependency edges of instance i.
	reach [][]uint64
}

func (c *context) reportOnce(id parser.NodeID) bool {
	if c.reported[id] {
		return false
	}
	c.reported[id] = true
	return true
}

// Run executes the pass pipeline. Device and catalog may be nil when the
// program names no device; device-dependent checks are skipped then.
// Consumers query the collector for error presence.
func Run(
	prog *parser.Program,
	dev *device.Config,
	cat *family.Catalog,
	reg *opcode.Registry,
	col *diag.Collector,
) *Analysis {
	c := &context{
		prog: prog,
		dev:  dev,
		cat:  cat,
		reg:  reg,
		col:  col,
		an: &Analysis{
			Consts:  make(map[string]int64),
			Symbols: make(map[string]SymbolKind),
			Buffers: make(map[string]*BufferInfo),
			Lets:    make(map[string]*parser.LetDecl),
			Matches: make(map[parser.NodeID]family.MatchResult),
		},
		reported: make(map[parser.NodeID]bool),
		badConst: make(map[string]bool),
	}

	before := col.ErrorCount()
	c.resolveNames()
	c.evalConsts()
	if col.ErrorCount() > before {
		// Later passes would cascade on unresolved names or constants.
		return c.an
	}

	c.checkBuffers()
	c.expand()
	c.checkRegions()
	c.checkTypes()
	c.checkDependencies()
	c.checkHazards()
	c.checkPlacement()
	c.checkDecorators()
	c.checkLoops()
	return c.an
}
