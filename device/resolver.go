package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/family"
	"github.com/frank-ceva/nem/parser"
)

// Loader reads configuration sources. Include paths are interpreted
// relative to the including file before reaching the loader.
type Loader interface {
	ReadFile(path string) ([]byte, error)
}

// FSLoader reads from the file system.
type FSLoader struct{}

func (FSLoader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// MapLoader serves sources from memory, for tests and embedded catalogs.
type MapLoader map[string]string

func (m MapLoader) ReadFile(path string) ([]byte, error) {
	src, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("no such file %q", path)
	}
	return []byte(src), nil
}

// Resolution is the output of resolving a configuration root: every device
// by name plus the family catalog the documents define.
type Resolution struct {
	Devices map[string]*Config
	Catalog *family.Catalog
}

// Device returns a resolved device by name.
func (r *Resolution) Device(name string) (*Config, bool) {
	d, ok := r.Devices[name]
	return d, ok
}

// Names returns the resolved device names in sorted order.
func (r *Resolution) Names() []string {
	out := make([]string, 0, len(r.Devices))
	for n := range r.Devices {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type resolver struct {
	loader Loader
	col    *diag.Collector

	// parse memoization and include-cycle state per canonical path
	docs    map[string]*parser.Document
	onStack map[string]bool
	stack   []string

	families []*parser.FamilyDecl
	devices  []*parser.DeviceDecl
	declLoc  map[string]diag.Location
}

// Resolve loads the root configuration file, walks its includes, and
// resolves every declared device.
func Resolve(rootPath string, loader Loader, col *diag.Collector) *Resolution {
	rv := &resolver{
		loader:  loader,
		col:     col,
		docs:    make(map[string]*parser.Document),
		onStack: make(map[string]bool),
		declLoc: make(map[string]diag.Location),
	}
	rv.load(rootPath, diag.Location{})
	return rv.finish()
}

// ResolveDocs resolves devices from already-parsed configuration documents,
// for programs carrying inline device declarations.
func ResolveDocs(docs []*parser.Document, col *diag.Collector) *Resolution {
	rv := &resolver{col: col, declLoc: make(map[string]diag.Location)}
	for _, doc := range docs {
		rv.collect(doc)
	}
	return rv.finish()
}

// ResolveProgramEnv resolves the configuration environment of a parsed
// program document: its includes contribute families and devices, and an
// inline device directive contributes one more device.
func ResolveProgramEnv(
	doc *parser.Document,
	path string,
	loader Loader,
	col *diag.Collector,
) *Resolution {
	rv := &resolver{
		loader:  loader,
		col:     col,
		docs:    make(map[string]*parser.Document),
		onStack: make(map[string]bool),
		declLoc: make(map[string]diag.Location),
	}
	rv.docs[path] = doc
	rv.onStack[path] = true
	rv.stack = append(rv.stack, path)
	for _, inc := range doc.Includes {
		rv.load(resolveRelative(path, inc.Path), inc.Loc())
	}
	rv.stack = rv.stack[:len(rv.stack)-1]
	delete(rv.onStack, path)

	if doc.Program != nil && doc.Program.Device != nil && doc.Program.Device.Inline != nil {
		inline := doc.Program.Device.Inline
		if prev, dup := rv.declLoc[inline.Name]; dup {
			col.Errorf(inline.Loc(), "duplicate device %q", inline.Name).
				Notef(prev, "previously declared here")
		} else {
			rv.declLoc[inline.Name] = inline.Loc()
			rv.devices = append(rv.devices, inline)
		}
	}
	return rv.finish()
}

// load parses one file, following includes depth-first with memoization.
func (rv *resolver) load(path string, from diag.Location) {
	if rv.onStack[path] {
		rv.col.Errorf(from, "include cycle: %s", strings.Join(append(rv.stack, path), " -> "))
		return
	}
	if _, done := rv.docs[path]; done {
		return
	}
	src, err := rv.loader.ReadFile(path)
	if err != nil {
		rv.col.Errorf(from, "cannot read %q: %v", path, err)
		rv.docs[path] = nil
		return
	}
	doc := parser.Parse(path, string(src), rv.col)
	rv.docs[path] = doc
	rv.onStack[path] = true
	rv.stack = append(rv.stack, path)
	for _, inc := range doc.Includes {
		rv.load(resolveRelative(path, inc.Path), inc.Loc())
	}
	rv.stack = rv.stack[:len(rv.stack)-1]
	delete(rv.onStack, path)

	rv.collect(doc)
}

func resolveRelative(includer, target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(includer), target))
}

func (rv *resolver) collect(doc *parser.Document) {
	if doc == nil || doc.Config == nil {
		return
	}
	rv.families = append(rv.families, doc.Config.Families...)
	for _, d := range doc.Config.Devices {
		if prev, dup := rv.declLoc[d.Name]; dup {
			rv.col.Errorf(d.Loc(), "duplicate device %q", d.Name).
				Notef(prev, "previously declared here")
			continue
		}
		rv.declLoc[d.Name] = d.Loc()
		rv.devices = append(rv.devices, d)
	}
}

func (rv *resolver) finish() *Resolution {
	catalog := family.BuildCatalog(rv.families, rv.col)
	res := &Resolution{Devices: make(map[string]*Config), Catalog: catalog}

	order, ok := rv.sortByParent()
	if !ok {
		return res
	}

	for _, decl := range order {
		cfg := rv.resolveOne(decl, res.Devices, catalog)
		if cfg != nil {
			res.Devices[cfg.Name] = cfg
		}
	}

	mustRefs := catalog.MustRefs()
	for _, name := range res.Names() {
		rv.validate(res.Devices[name], mustRefs)
	}
	return res
}

// sortByParent orders devices parents-first and rejects inheritance cycles.
func (rv *resolver) sortByParent() ([]*parser.DeviceDecl, bool) {
	byName := map[string]*parser.DeviceDecl{}
	for _, d := range rv.devices {
		byName[d.Name] = d
	}

	const (
		white = iota
		grey
		black
	)
	state := map[string]int{}
	var order []*parser.DeviceDecl
	ok := true

	var visit func(d *parser.DeviceDecl, path []string)
	visit = func(d *parser.DeviceDecl, path []string) {
		switch state[d.Name] {
		case black:
			return
		case grey:
			rv.col.Errorf(d.Loc(), "device inheritance cycle: %s",
				strings.Join(append(path, d.Name), " -> "))
			ok = false
			return
		}
		state[d.Name] = grey
		if d.Extends != "" {
			parent, found := byName[d.Extends]
			if !found {
				rv.col.Errorf(d.ExtendsLoc, "device %q extends unknown device %q",
					d.Name, d.Extends)
			} else {
				visit(parent, append(path, d.Name))
			}
		}
		state[d.Name] = black
		order = append(order, d)
	}

	for _, d := range rv.devices {
		visit(d, nil)
	}
	return order, ok
}

func (rv *resolver) resolveOne(
	decl *parser.DeviceDecl,
	resolved map[string]*Config,
	catalog *family.Catalog,
) *Config {
	cfg := &Config{
		Name:            decl.Name,
		Characteristics: make(map[string]map[string]int64),
		Mandatory:       make(map[string]family.Ref),
		Extended:        make(map[string]family.Ref),
	}

	if decl.Extends != "" {
		parent, ok := resolved[decl.Extends]
		if !ok {
			// Parent failed to resolve; its diagnostics already explain why.
			return nil
		}
		cfg.SpecVersion = parent.SpecVersion
		cfg.Topology = parent.Topology
		for unit, keys := range parent.Characteristics {
			merged := make(map[string]int64, len(keys))
			for k, v := range keys {
				merged[k] = v
			}
			cfg.Characteristics[unit] = merged
		}
		for k, v := range parent.Mandatory {
			cfg.Mandatory[k] = v
		}
		for k, v := range parent.Extended {
			cfg.Extended[k] = v
		}
		if decl.HasSpecVersion {
			rv.col.Errorf(decl.Loc(),
				"device %q inherits from %q and must not declare spec_version",
				decl.Name, decl.Extends)
		}
	} else if decl.HasSpecVersion {
		cfg.SpecVersion = decl.SpecVersion
	}

	// A child topology replaces the parent topology as a whole.
	if t := decl.Topology; t != nil {
		topo := &Topology{
			Engines:        int(t.Engines),
			L2SizeBytes:    t.L2SizeBytes,
			L1SizeBytes:    t.L1SizeBytes,
			DeviceUnits:    make(map[string]int64),
			PerEngineUnits: make(map[string]int64),
		}
		for _, u := range t.DeviceUnits {
			topo.DeviceUnits[u.Name] = u.Count
		}
		for _, u := range t.PerEngine {
			topo.PerEngineUnits[u.Name] = u.Count
		}
		cfg.Topology = topo
	}
	cfg.Abstract = cfg.Topology == nil

	// Characteristics merge: unit-type groups union, child keys override
	// within a unit type.
	for _, uc := range decl.Characteristics {
		group := cfg.Characteristics[uc.Unit]
		if group == nil {
			group = make(map[string]int64)
			cfg.Characteristics[uc.Unit] = group
		}
		for _, kv := range uc.Keys {
			group[kv.Name] = kv.Count
		}
	}

	rv.addRefs(cfg.Mandatory, decl.Mandatory, catalog)
	rv.addRefs(cfg.Extended, decl.Extended, catalog)
	return cfg
}

func (rv *resolver) addRefs(
	set map[string]family.Ref,
	refs []*parser.VariantRef,
	catalog *family.Catalog,
) {
	for _, r := range refs {
		resolved, err := catalog.ResolveRef(r)
		if err != nil {
			rv.col.Errorf(r.Loc(), "%v", err)
			continue
		}
		set[resolved.Key()] = resolved
	}
}

func (rv *resolver) validate(cfg *Config, mustRefs []family.Ref) {
	loc := rv.declLoc[cfg.Name]

	for key := range cfg.Mandatory {
		if _, both := cfg.Extended[key]; both {
			rv.col.Errorf(loc,
				"device %q lists %s in both opcode.mandatory and opcode.extended",
				cfg.Name, key)
		}
	}

	if cfg.Abstract {
		return
	}

	t := cfg.Topology
	if t.Engines < 1 {
		rv.col.Errorf(loc, "device %q topology declares %d engines, need at least 1",
			cfg.Name, t.Engines)
	}
	if t.L2SizeBytes <= 0 {
		rv.col.Errorf(loc, "device %q shared capacity must be positive, got %d",
			cfg.Name, t.L2SizeBytes)
	}
	if t.L1SizeBytes <= 0 {
		rv.col.Errorf(loc, "device %q scratchpad capacity must be positive, got %d",
			cfg.Name, t.L1SizeBytes)
	}
	for unit, count := range t.PerEngineUnits {
		if count < 1 {
			rv.col.Errorf(loc, "device %q per-engine unit %q count %d, need at least 1",
				cfg.Name, unit, count)
		}
	}
	for unit, count := range t.DeviceUnits {
		if count < 0 {
			rv.col.Errorf(loc, "device %q device-level unit %q count %d is negative",
				cfg.Name, unit, count)
		}
	}

	for _, ref := range mustRefs {
		if _, ok := cfg.Mandatory[ref.Key()]; ok {
			continue
		}
		bare := family.Ref{Family: ref.Family, Variant: ref.Variant}
		if _, ok := cfg.Mandatory[bare.Key()]; ok {
			continue
		}
		rv.col.Errorf(loc,
			"device %q is missing mandatory variant %s required by the catalog",
			cfg.Name, ref.Key())
	}
}
