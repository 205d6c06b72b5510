// Package backend defines the pluggable numeric backend interface of the
// execution engine and a reference implementation of every stable
// operator.
package backend

import (
	"fmt"

	"github.com/frank-ceva/nem/nem"
)

// Tensor is a dense view the engine hands to a backend. The engine
// resolves layout, strides, and sub-byte packing before the call; Data is
// row-major with one float64 per element, which holds every supported
// element type exactly.
type Tensor struct {
	Elem  nem.ElemType
	Shape []int
	Data  []float64
}

// NewTensor returns a zero-filled tensor.
func NewTensor(elem nem.ElemType, shape []int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Elem: elem, Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Elems returns the element count.
func (t *Tensor) Elems() int { return len(t.Data) }

// Dim returns the size of axis i, supporting negative indices from the
// end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	if i < 0 || i >= len(t.Shape) {
		return 1
	}
	return t.Shape[i]
}

// Backend executes operator semantics over engine-provided views.
type Backend interface {
	// Supports reports whether the backend implements the operator.
	Supports(op string) bool
	// Execute runs one operator instance. Inputs and outputs follow the
	// registry's operand order; attrs carry resolved attribute values
	// (int64, float64, bool, string, []int64, nem.ElemType).
	Execute(op string, inputs, outputs []*Tensor, attrs map[string]any) error
}

// AttrInt reads an integer attribute with a fallback.
func AttrInt(attrs map[string]any, name string, def int64) int64 {
	if v, ok := attrs[name].(int64); ok {
		return v
	}
	return def
}

// AttrFloat reads a floating attribute with a fallback.
func AttrFloat(attrs map[string]any, name string, def float64) float64 {
	if v, ok := attrs[name].(float64); ok {
		return v
	}
	return def
}

// AttrBool reads a boolean attribute with a fallback.
func AttrBool(attrs map[string]any, name string, def bool) bool {
	if v, ok := attrs[name].(bool); ok {
		return v
	}
	return def
}

// AttrString reads a string or identifier attribute with a fallback.
func AttrString(attrs map[string]any, name string, def string) string {
	if v, ok := attrs[name].(string); ok {
		return v
	}
	return def
}

// AttrIntList reads an integer-list attribute with a fallback.
func AttrIntList(attrs map[string]any, name string, def []int64) []int64 {
	if v, ok := attrs[name].([]int64); ok {
		return v
	}
	return def
}

func shapeError(op string, what string, t *Tensor) error {
	return fmt.Errorf("%s: unsupported %s shape %v", op, what, t.Shape)
}
