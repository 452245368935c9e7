package nested

// Func is a function applied to every leaf by Apply. args are the extra
// arguments given to Apply, forwarded unchanged.
type Func func(x any, args ...any) (any, error)

// Apply calls f on every leaf of x and returns a value with the same
// container shape, where each container is rebuilt with its original concrete
// type. Results computed from non-nil leaves are passed through RetainType so
// domain subtypes survive f.
//
// The first error returned by f aborts the whole call.
func Apply(f Func, x any, args ...any) (any, error) {
	if elems, rebuild, ok := Elems(x); ok {
		out := make([]any, len(elems))
		for i, o := range elems {
			res, err := Apply(f, o, args...)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return rebuild(out), nil
	}
	if entries, rebuild, ok := Entries(x); ok {
		out := make(map[string]any, len(entries))
		for k, v := range entries {
			res, err := Apply(f, v, args...)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return rebuild(out), nil
	}

	res, err := f(x, args...)
	if err != nil {
		return nil, err
	}
	if IsNil(x) {
		return res, nil
	}
	return RetainType(res, x, nil, false)
}

// Noop returns x unchanged.
func Noop(x any, _ ...any) (any, error) {
	return x, nil
}
