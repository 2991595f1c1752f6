package jnitype

import (
	"context"
	"math"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

func init() {
	register(boolAdapter())
	register(intRangeAdapter("byte", jnienv.TypeByte, 1, -128, 127))
	register(charAdapter())
	register(intRangeAdapter("short", jnienv.TypeShort, 2, -32768, 32767))
	register(intRangeAdapter("int", jnienv.TypeInt, 4, math.MinInt32, math.MaxInt32))
	register(intRangeAdapter("long", jnienv.TypeLong, 8, math.MinInt64, math.MaxInt64))
	register(floatAdapter())
	register(doubleAdapter())
	register(voidAdapter())
}

func boolAdapter() *Adapter {
	return &Adapter{
		Name: "boolean", Wire: jnienv.TypeBoolean, Size: 1,
		IsCompatible: func(v any) bool { _, ok := v.(bool); return ok },
		FromJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v jnienv.Value, _ bool) (any, error) {
			return v.I64 != 0, nil
		},
		ToJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v any) (jnienv.Value, error) {
			b, ok := v.(bool)
			if !ok {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected bool, got %T", v)
			}
			i := int64(0)
			if b {
				i = 1
			}
			return jnienv.Value{Prim: jnienv.TypeBoolean, I64: i}, nil
		},
	}
}

func charAdapter() *Adapter {
	return &Adapter{
		Name: "char", Wire: jnienv.TypeChar, Size: 2,
		IsCompatible: func(v any) bool {
			s, ok := v.(string)
			if ok {
				return len([]rune(s)) == 1
			}
			n, ok := asInt64(v)
			return ok && n >= 0 && n <= 0xFFFF
		},
		FromJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v jnienv.Value, _ bool) (any, error) {
			return string(rune(v.I64 & 0xFFFF)), nil
		},
		ToJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v any) (jnienv.Value, error) {
			if s, ok := v.(string); ok {
				r := []rune(s)
				if len(r) != 1 {
					return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "char requires a single code unit, got %q", s)
				}
				return jnienv.Value{Prim: jnienv.TypeChar, I64: int64(r[0])}, nil
			}
			if n, ok := asInt64(v); ok && n >= 0 && n <= 0xFFFF {
				return jnienv.Value{Prim: jnienv.TypeChar, I64: n}, nil
			}
			return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected char, got %T", v)
		},
	}
}

func intRangeAdapter(name string, wire jnienv.Primitive, size int, min, max int64) *Adapter {
	return &Adapter{
		Name: name, Wire: wire, Size: size,
		IsCompatible: func(v any) bool {
			n, ok := asInt64(v)
			return ok && n >= min && n <= max
		},
		FromJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v jnienv.Value, _ bool) (any, error) {
			return v.I64, nil
		},
		ToJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v any) (jnienv.Value, error) {
			n, ok := asInt64(v)
			if !ok || n < min || n > max {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "%s out of range: %v", name, v)
			}
			return jnienv.Value{Prim: wire, I64: n}, nil
		},
	}
}

func floatAdapter() *Adapter {
	return &Adapter{
		Name: "float", Wire: jnienv.TypeFloat, Size: 4,
		IsCompatible: func(v any) bool { _, ok := asFloat64(v); return ok },
		FromJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v jnienv.Value, _ bool) (any, error) {
			return v.F64, nil
		},
		ToJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v any) (jnienv.Value, error) {
			f, ok := asFloat64(v)
			if !ok {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected float, got %T", v)
			}
			return jnienv.Value{Prim: jnienv.TypeFloat, F64: f}, nil
		},
	}
}

func doubleAdapter() *Adapter {
	return &Adapter{
		Name: "double", Wire: jnienv.TypeDouble, Size: 8,
		IsCompatible: func(v any) bool { _, ok := asFloat64(v); return ok },
		FromJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v jnienv.Value, _ bool) (any, error) {
			return v.F64, nil
		},
		ToJni: func(_ context.Context, _ jnienv.Env, _ Resolver, v any) (jnienv.Value, error) {
			f, ok := asFloat64(v)
			if !ok {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected double, got %T", v)
			}
			return jnienv.Value{Prim: jnienv.TypeDouble, F64: f}, nil
		},
	}
}

func voidAdapter() *Adapter {
	return &Adapter{
		Name: "void", Wire: jnienv.TypeVoid, Size: 0,
		IsCompatible: func(v any) bool { return v == nil },
		FromJni: func(_ context.Context, _ jnienv.Env, _ Resolver, _ jnienv.Value, _ bool) (any, error) {
			return nil, nil
		},
		ToJni: func(_ context.Context, _ jnienv.Env, _ Resolver, _ any) (jnienv.Value, error) {
			return jnienv.Value{Prim: jnienv.TypeVoid}, nil
		},
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
