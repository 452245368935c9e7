package tensor

import (
	"maps"

	"github.com/mitchellh/copystructure"
)

// TensorImage is an image tensor laid out as (C, H, W) or a batch of them.
// Meta carries per-image attributes such as the source size; it survives
// type retention through SetMeta.
type TensorImage struct {
	*Tensor
	Meta map[string]any
}

// NewTensorImage wraps t as an image tensor.
func NewTensorImage(t *Tensor, meta map[string]any) *TensorImage {
	return &TensorImage{Tensor: t, Meta: meta}
}

// Embedded returns the plain tensor.
func (ti *TensorImage) Embedded() any { return ti.Tensor }

// CastFrom rebuilds an image tensor from any value with a tensor base.
func (*TensorImage) CastFrom(v any) (any, bool) {
	t, ok := Base(v)
	if !ok {
		return nil, false
	}
	return &TensorImage{Tensor: t}, true
}

// SetMeta copies Meta from src when src is an image tensor. With copyMeta the
// map is deep-copied, otherwise both values share it.
func (ti *TensorImage) SetMeta(src any, copyMeta bool) {
	s, ok := src.(*TensorImage)
	if !ok || s == nil || s.Meta == nil {
		return
	}
	if !copyMeta {
		ti.Meta = s.Meta
		return
	}
	cp, err := copystructure.Copy(s.Meta)
	if err != nil {
		ti.Meta = maps.Clone(s.Meta)
		return
	}
	ti.Meta = cp.(map[string]any)
}

func (ti *TensorImage) String() string {
	return "TensorImage" + ti.Tensor.String()
}

// TensorCategory holds class indices produced by a categorize transform.
type TensorCategory struct {
	*Tensor
}

// NewTensorCategory wraps t as a category tensor.
func NewTensorCategory(t *Tensor) *TensorCategory {
	return &TensorCategory{Tensor: t}
}

// Embedded returns the plain tensor.
func (tc *TensorCategory) Embedded() any { return tc.Tensor }

// CastFrom rebuilds a category tensor from any value with a tensor base.
func (*TensorCategory) CastFrom(v any) (any, bool) {
	t, ok := Base(v)
	if !ok {
		return nil, false
	}
	return &TensorCategory{Tensor: t}, true
}

func (tc *TensorCategory) String() string {
	return "TensorCategory" + tc.Tensor.String()
}

// TensorMask holds a segmentation mask of class codes.
type TensorMask struct {
	*Tensor
}

// Embedded returns the plain tensor.
func (tm *TensorMask) Embedded() any { return tm.Tensor }

// CastFrom rebuilds a mask tensor from any value with a tensor base.
func (*TensorMask) CastFrom(v any) (any, bool) {
	t, ok := Base(v)
	if !ok {
		return nil, false
	}
	return &TensorMask{Tensor: t}, true
}
