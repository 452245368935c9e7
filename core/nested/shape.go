// Package nested applies functions over arbitrarily nested values and keeps
// the specific type of each leaf across the call.
//
// A nested value is a leaf or one of a closed set of containers:
//
//	List   []any            sequence
//	Tuple  []any            sequence, kept distinct from List
//	[]any                   sequence
//	Map    map[string]any   mapping
//	map[string]any          mapping
//
// Every other value is a leaf, including typed numeric slices such as
// []float64, which behave like arrays rather than containers.
package nested

// List is a variable-length sequence of nested values.
type List []any

// Tuple is a fixed group of nested values, such as an (input, target) pair.
type Tuple []any

// Map is a keyed group of nested values.
type Map map[string]any

// Kind is the container shape of a value.
type Kind int

const (
	// Leaf is any value that is not a container.
	Leaf Kind = iota
	// Sequence is List, Tuple or []any.
	Sequence
	// Mapping is Map or map[string]any.
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return "leaf"
	}
}

// KindOf reports the container shape of x.
func KindOf(x any) Kind {
	switch x.(type) {
	case List, Tuple, []any:
		return Sequence
	case Map, map[string]any:
		return Mapping
	default:
		return Leaf
	}
}

// Elems returns the children of a sequence and a function that rebuilds a
// sequence of the same concrete type from new children. ok is false when x
// is not a sequence.
func Elems(x any) (elems []any, rebuild func([]any) any, ok bool) {
	switch v := x.(type) {
	case List:
		return v, func(out []any) any { return List(out) }, true
	case Tuple:
		return v, func(out []any) any { return Tuple(out) }, true
	case []any:
		return v, func(out []any) any { return out }, true
	}
	return nil, nil, false
}

// Entries returns the entries of a mapping and a function that rebuilds a
// mapping of the same concrete type. ok is false when x is not a mapping.
func Entries(x any) (entries map[string]any, rebuild func(map[string]any) any, ok bool) {
	switch v := x.(type) {
	case Map:
		return v, func(out map[string]any) any { return Map(out) }, true
	case map[string]any:
		return v, func(out map[string]any) any { return out }, true
	}
	return nil, nil, false
}
