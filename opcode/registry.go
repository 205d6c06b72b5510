// Package opcode loads and queries the static operator catalog: operand
// signatures, attributes, forms, and type-family references for every
// operator the toolkit knows.
package opcode

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed opcodes.yaml
var builtinCatalog []byte

// RegistrySchemaError reports a malformed registry entry.
type RegistrySchemaError struct {
	Entry  string
	Reason string
}

func (e *RegistrySchemaError) Error() string {
	if e.Entry == "" {
		return "registry schema error: " + e.Reason
	}
	return fmt.Sprintf("registry schema error in %q: %s", e.Entry, e.Reason)
}

// RegistryReferenceError reports a dangling type-family reference.
type RegistryReferenceError struct {
	Op     string
	Family string
}

func (e *RegistryReferenceError) Error() string {
	return fmt.Sprintf("operator %q references undefined type family %q", e.Op, e.Family)
}

// Dir is an operand direction.
type Dir string

const (
	In  Dir = "in"
	Out Dir = "out"
)

// ValueKind enumerates attribute value kinds.
type ValueKind string

const (
	KindInt      ValueKind = "int"
	KindFloat    ValueKind = "float"
	KindBool     ValueKind = "bool"
	KindElemType ValueKind = "elem_type"
	KindIntList  ValueKind = "int_list"
	KindString   ValueKind = "string"
	KindIdent    ValueKind = "ident"
)

var valueKinds = map[ValueKind]bool{
	KindInt: true, KindFloat: true, KindBool: true, KindElemType: true,
	KindIntList: true, KindString: true, KindIdent: true,
}

// categories is the closed category enumeration.
var categories = map[string]bool{
	"matrix": true, "convolution": true, "elementwise": true,
	"normalization": true, "quantization": true, "reshape": true,
}

var statuses = map[string]bool{"stable": true, "experimental": true}
var hardwareTags = map[string]bool{"native": true, "emulated": true}

// OperandSpec is one ordered operand of an operator.
type OperandSpec struct {
	Name     string `yaml:"name"`
	Dir      Dir    `yaml:"dir"`
	Required bool   `yaml:"required"`
	Role     string `yaml:"role"`
}

// AttrSpec is one attribute of an operator.
type AttrSpec struct {
	Name     string    `yaml:"name"`
	Kind     ValueKind `yaml:"kind"`
	Required bool      `yaml:"required"`
	Default  any       `yaml:"default"`
}

// Op is the registry entry for one operator.
type Op struct {
	Name        string        `yaml:"name"`
	Category    string        `yaml:"category"`
	Status      string        `yaml:"status"`
	Forms       []string      `yaml:"forms"`
	Unit        string        `yaml:"unit"`
	Hardware    string        `yaml:"hardware"`
	VariadicIn  bool          `yaml:"variadic_in"`
	VariadicOut bool          `yaml:"variadic_out"`
	Operands    []OperandSpec `yaml:"operands"`
	Attributes  []AttrSpec    `yaml:"attributes"`
	Families    []string      `yaml:"families"`
}

// Operand returns the named operand spec.
func (o *Op) Operand(name string) (OperandSpec, bool) {
	for _, s := range o.Operands {
		if s.Name == name {
			return s, true
		}
	}
	return OperandSpec{}, false
}

// Attribute returns the named attribute spec.
func (o *Op) Attribute(name string) (AttrSpec, bool) {
	for _, s := range o.Attributes {
		if s.Name == name {
			return s, true
		}
	}
	return AttrSpec{}, false
}

// Inputs returns the ordered input operand specs.
func (o *Op) Inputs() []OperandSpec {
	var out []OperandSpec
	for _, s := range o.Operands {
		if s.Dir == In {
			out = append(out, s)
		}
	}
	return out
}

// Outputs returns the ordered output operand specs.
func (o *Op) Outputs() []OperandSpec {
	var out []OperandSpec
	for _, s := range o.Operands {
		if s.Dir == Out {
			out = append(out, s)
		}
	}
	return out
}

// Registry is the loaded operator catalog.
type Registry struct {
	ops   map[string]*Op
	order []string
}

type catalogFile struct {
	Opcodes []*Op `yaml:"opcodes"`
}

// Load parses and schema-checks the built-in catalog.
func Load() (*Registry, error) {
	return LoadFrom(builtinCatalog)
}

// LoadFrom parses and schema-checks a catalog document.
func LoadFrom(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &RegistrySchemaError{Reason: err.Error()}
	}
	if len(file.Opcodes) == 0 {
		return nil, &RegistrySchemaError{Reason: "catalog declares no opcodes"}
	}
	r := &Registry{ops: make(map[string]*Op)}
	for _, op := range file.Opcodes {
		if err := checkOp(op); err != nil {
			return nil, err
		}
		if _, dup := r.ops[op.Name]; dup {
			return nil, &RegistrySchemaError{Entry: op.Name, Reason: "duplicate operator"}
		}
		r.ops[op.Name] = op
		r.order = append(r.order, op.Name)
	}
	return r, nil
}

func checkOp(op *Op) error {
	if op.Name == "" {
		return &RegistrySchemaError{Reason: "operator without a name"}
	}
	if !categories[op.Category] {
		return &RegistrySchemaError{Entry: op.Name,
			Reason: fmt.Sprintf("unknown category %q", op.Category)}
	}
	if !statuses[op.Status] {
		return &RegistrySchemaError{Entry: op.Name,
			Reason: fmt.Sprintf("unknown status %q", op.Status)}
	}
	if !hardwareTags[op.Hardware] {
		return &RegistrySchemaError{Entry: op.Name,
			Reason: fmt.Sprintf("unknown hardware tag %q", op.Hardware)}
	}
	if len(op.Forms) == 0 {
		return &RegistrySchemaError{Entry: op.Name, Reason: "no permitted forms"}
	}
	for _, f := range op.Forms {
		if f != "async" && f != "sync" {
			return &RegistrySchemaError{Entry: op.Name,
				Reason: fmt.Sprintf("unknown form %q", f)}
		}
	}
	if op.Unit == "" {
		return &RegistrySchemaError{Entry: op.Name, Reason: "missing execution unit"}
	}
	seen := map[string]bool{}
	outs := 0
	for _, s := range op.Operands {
		if s.Name == "" {
			return &RegistrySchemaError{Entry: op.Name, Reason: "operand without a name"}
		}
		if s.Dir != In && s.Dir != Out {
			return &RegistrySchemaError{Entry: op.Name,
				Reason: fmt.Sprintf("operand %q has direction %q", s.Name, s.Dir)}
		}
		if seen[s.Name] {
			return &RegistrySchemaError{Entry: op.Name,
				Reason: fmt.Sprintf("duplicate operand %q", s.Name)}
		}
		seen[s.Name] = true
		if s.Dir == Out {
			outs++
		}
	}
	if outs == 0 {
		return &RegistrySchemaError{Entry: op.Name, Reason: "operator has no output operand"}
	}
	for _, a := range op.Attributes {
		if a.Name == "" {
			return &RegistrySchemaError{Entry: op.Name, Reason: "attribute without a name"}
		}
		if !valueKinds[a.Kind] {
			return &RegistrySchemaError{Entry: op.Name,
				Reason: fmt.Sprintf("attribute %q has unknown kind %q", a.Name, a.Kind)}
		}
	}
	if len(op.Families) == 0 {
		return &RegistrySchemaError{Entry: op.Name, Reason: "no family references"}
	}
	return nil
}

// CheckFamilies verifies every referenced family against the catalog the
// device configuration defines.
func (r *Registry) CheckFamilies(defined func(string) bool) error {
	for _, name := range r.order {
		for _, fam := range r.ops[name].Families {
			if !defined(fam) {
				return &RegistryReferenceError{Op: name, Family: fam}
			}
		}
	}
	return nil
}

// Lookup returns the entry for an operator name.
func (r *Registry) Lookup(name string) (*Op, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names returns every operator name in catalog order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
