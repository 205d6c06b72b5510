// Package device resolves device-configuration documents: multi-file
// inclusion, single-parent inheritance, topology and characteristics
// merging, and each device's effective variant set.
package device

import (
	"sort"

	"github.com/frank-ceva/nem/family"
)

// Topology is a resolved device topology.
type Topology struct {
	Engines        int
	L2SizeBytes    int64
	L1SizeBytes    int64
	DeviceUnits    map[string]int64
	PerEngineUnits map[string]int64
}

// Config is one frozen, resolved device.
type Config struct {
	Name        string
	SpecVersion string
	// Abstract devices carry no topology and can only serve as inheritance
	// bases.
	Abstract bool
	Topology *Topology
	// Characteristics maps unit type to its key/value map. Unknown keys are
	// preserved untouched.
	Characteristics map[string]map[string]int64
	// Mandatory and Extended are disjoint sets of variant references keyed
	// by their canonical form.
	Mandatory map[string]family.Ref
	Extended  map[string]family.Ref
}

// Effective is the union of the mandatory and extended sets. It implements
// family.EffectiveSet.
func (c *Config) Effective() EffectiveSet {
	return EffectiveSet{c}
}

// EffectiveSet answers membership for a device's union set.
type EffectiveSet struct {
	dev *Config
}

// Contains reports whether the device supports the reference, either
// exactly or through an argument-free reference covering every
// instantiation.
func (s EffectiveSet) Contains(ref family.Ref) bool {
	if _, ok := s.dev.Mandatory[ref.Key()]; ok {
		return true
	}
	if _, ok := s.dev.Extended[ref.Key()]; ok {
		return true
	}
	bare := family.Ref{Family: ref.Family, Variant: ref.Variant}
	if len(ref.Args) > 0 {
		if _, ok := s.dev.Mandatory[bare.Key()]; ok {
			return true
		}
		if _, ok := s.dev.Extended[bare.Key()]; ok {
			return true
		}
	}
	return false
}

// PerEngineUnit reports whether the device declares the unit type per
// engine.
func (c *Config) PerEngineUnit(name string) bool {
	if c.Topology == nil {
		return false
	}
	_, ok := c.Topology.PerEngineUnits[name]
	return ok
}

// SortedRefs returns a set's reference keys in canonical order, for stable
// reporting.
func SortedRefs(set map[string]family.Ref) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
