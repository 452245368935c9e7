package nested

import (
	"reflect"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Embedder is implemented by domain subtypes that wrap a more general value,
// for example an image tensor wrapping a plain tensor. It defines the
// supertype chain used by IsInstance.
type Embedder interface {
	Embedded() any
}

// Caster is implemented by types that can be rebuilt from one of their
// supertypes. RetainType calls CastFrom on a zero value of the target type,
// so implementations must not read the receiver. ok is false when v cannot be
// represented by the receiver's type.
type Caster interface {
	CastFrom(v any) (res any, ok bool)
}

// MetaSetter is implemented by types that carry auxiliary metadata copied
// from the value they were derived from.
type MetaSetter interface {
	SetMeta(src any, copyMeta bool)
}

type none struct{}

// NoneType is the null-type sentinel: retaining to it is a no-op.
var NoneType = reflect.TypeOf(none{})

// IsInstance reports whether v is an instance of typ: its dynamic type is
// typ, implements typ when typ is an interface, or the value it embeds is an
// instance of typ.
func IsInstance(v any, typ reflect.Type) bool {
	if typ == nil {
		return false
	}
	for v != nil {
		t := reflect.TypeOf(v)
		if t == typ {
			return true
		}
		if typ.Kind() == reflect.Interface && t.Implements(typ) {
			return true
		}
		e, ok := v.(Embedder)
		if !ok || IsNil(v) {
			return false
		}
		v = e.Embedded()
	}
	return typ == NoneType
}

// RetainType casts newV to the type of old, or to typ when given, if that
// type is more specific than the type of newV.
//
// With typ nil, old's dynamic type becomes the target only when old is an
// instance of newV's type; otherwise newV is returned unchanged. An old value
// that is itself a reflect.Type is used as the target directly. Either old or
// typ must be provided.
//
// After casting, RetainMeta copies metadata from old onto the result.
func RetainType(newV, old any, typ reflect.Type, copyMeta bool) (any, error) {
	if IsNil(newV) {
		return nil, nil
	}
	if old == nil && typ == nil {
		return nil, errors.NewValueError("RetainType", "either old or typ must be given")
	}
	if typ == nil {
		if !IsInstance(old, reflect.TypeOf(newV)) {
			return newV, nil
		}
		if t, ok := old.(reflect.Type); ok {
			typ = t
		} else {
			typ = reflect.TypeOf(old)
		}
	}
	if typ == NoneType || IsInstance(newV, typ) {
		return newV, nil
	}

	res, err := cast(newV, typ)
	if err != nil {
		return nil, err
	}
	return RetainMeta(old, res, copyMeta), nil
}

// RetainMeta calls res.SetMeta(x, copyMeta) when res supports it and returns res.
func RetainMeta(x, res any, copyMeta bool) any {
	if m, ok := res.(MetaSetter); ok {
		m.SetMeta(x, copyMeta)
	}
	return res
}

func cast(v any, typ reflect.Type) (any, error) {
	var target reflect.Value
	if typ.Kind() == reflect.Pointer {
		target = reflect.New(typ.Elem())
	} else {
		target = reflect.New(typ).Elem()
	}
	c, ok := target.Interface().(Caster)
	if !ok {
		return nil, errors.NewValueError("RetainType", "type "+typ.String()+" does not support casting")
	}
	res, ok := c.CastFrom(v)
	if !ok {
		return nil, errors.NewValueError("RetainType",
			"cannot cast "+reflect.TypeOf(v).String()+" to "+typ.String())
	}
	return res, nil
}

// IsNil reports whether v is nil or a nil pointer, map, slice, interface,
// func or channel.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
