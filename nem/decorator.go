package nem

// DecoratorKind identifies one of the fixed decorator effects.
type DecoratorKind int

const (
	UnknownDecorator DecoratorKind = iota
	// Materialized forces a value boundary at the decorated element.
	Materialized
	// Deterministic requires bitwise-reproducible selection.
	Deterministic
	// Memmove permits transfer source/destination overlap.
	Memmove
	// ReadOnly marks a region as never written.
	ReadOnly
	// WriteOnly marks a region as never read.
	WriteOnly
	// MaxInFlight bounds the number of concurrently active loop iterations.
	MaxInFlight
	// Resource pins a task to a per-engine unit instance.
	Resource
	// Debug names the decorated element for debug output.
	Debug
	// Profile tags the decorated element for profiling.
	Profile
)

// ArgKind describes one decorator argument position.
type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgString
	ArgUnitRef // unit_type[index]
)

// DecoratorSpec fixes the name and argument shape of a decorator kind.
type DecoratorSpec struct {
	Kind DecoratorKind
	Name string
	Args []ArgKind
}

var decoratorSpecs = []DecoratorSpec{
	{Materialized, "materialized", nil},
	{Deterministic, "deterministic", nil},
	{Memmove, "memmove", nil},
	{ReadOnly, "readonly", nil},
	{WriteOnly, "writeonly", nil},
	{MaxInFlight, "max_in_flight", []ArgKind{ArgInt}},
	{Resource, "resource", []ArgKind{ArgUnitRef}},
	{Debug, "debug", []ArgKind{ArgString}},
	{Profile, "profile", []ArgKind{ArgString}},
}

// DecoratorByName resolves a decorator name. The kind set is closed: unknown
// names return a spec with kind UnknownDecorator.
func DecoratorByName(name string) (DecoratorSpec, bool) {
	for _, s := range decoratorSpecs {
		if s.Name == name {
			return s, true
		}
	}
	return DecoratorSpec{Kind: UnknownDecorator, Name: name}, false
}

// DecoratorSpecs returns the closed decorator registry.
func DecoratorSpecs() []DecoratorSpec {
	return decoratorSpecs
}

func (k DecoratorKind) String() string {
	for _, s := range decoratorSpecs {
		if s.Kind == k {
			return s.Name
		}
	}
	return "unknown"
}
