package jnitype

import (
	"context"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

// newPrimitiveArrayAdapter builds the Adapter for a primitive array type,
// e.g. "int" -> "[I" (spec 4.A "Primitive arrays").
func newPrimitiveArrayAdapter(elem *Adapter) *Adapter {
	name := "[" + primitiveArrayTag(elem.Name)
	return &Adapter{
		Name: name, Wire: jnienv.TypeObject, Size: 8, array: true, elemName: elem.Name,
		IsCompatible: func(v any) bool {
			if v == nil {
				return true
			}
			xs, ok := v.([]any)
			if !ok {
				return false
			}
			for _, x := range xs {
				if !elem.IsCompatible(x) {
					return false
				}
			}
			return true
		},
		FromJni: func(ctx context.Context, env jnienv.Env, res Resolver, v jnienv.Value, unbox bool) (any, error) {
			if v.Ref == 0 {
				return nil, nil
			}
			n, err := env.GetArrayLength(ctx, v.Ref)
			if err != nil {
				return nil, err
			}
			raw, err := env.GetPrimitiveArrayRegion(ctx, v.Ref, elem.Wire, 0, n)
			if err != nil {
				return nil, err
			}
			out := make([]any, n)
			for i, rv := range raw {
				hv, err := elem.FromJni(ctx, env, res, rv, unbox)
				if err != nil {
					return nil, err
				}
				out[i] = hv
			}
			return out, nil
		},
		ToJni: func(ctx context.Context, env jnienv.Env, res Resolver, v any) (jnienv.Value, error) {
			if v == nil {
				return jnienv.Value{Prim: jnienv.TypeObject, Ref: 0}, nil
			}
			xs, ok := v.([]any)
			if !ok {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected array, got %T", v)
			}
			arr, err := env.NewPrimitiveArray(ctx, elem.Wire, len(xs))
			if err != nil {
				return jnienv.Value{}, err
			}
			wire := make([]jnienv.Value, len(xs))
			for i, x := range xs {
				wv, err := elem.ToJni(ctx, env, res, x)
				if err != nil {
					return jnienv.Value{}, err
				}
				wire[i] = wv
			}
			if err := env.SetPrimitiveArrayRegion(ctx, arr, elem.Wire, 0, wire); err != nil {
				return jnienv.Value{}, err
			}
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: arr}, nil
		},
	}
}

// newObjectArrayAdapter builds the Adapter for an object/array-of-array
// type, e.g. "java.lang.String" -> "[Ljava.lang.String;" (spec 4.A "Object
// arrays").
func newObjectArrayAdapter(elem *Adapter, elemJniName string) *Adapter {
	name := "[" + "L" + elemJniName + ";"
	if elem.IsArray() {
		name = "[" + elem.Name
	}
	return &Adapter{
		Name: name, Wire: jnienv.TypeObject, Size: 8, array: true, elemName: elem.Name,
		IsCompatible: func(v any) bool {
			if v == nil {
				return true
			}
			xs, ok := v.([]any)
			if !ok {
				return false
			}
			for _, x := range xs {
				if !elem.IsCompatible(x) {
					return false
				}
			}
			return true
		},
		FromJni: func(ctx context.Context, env jnienv.Env, res Resolver, v jnienv.Value, unbox bool) (any, error) {
			if v.Ref == 0 {
				return nil, nil
			}
			n, err := env.GetArrayLength(ctx, v.Ref)
			if err != nil {
				return nil, err
			}
			out := make([]any, n)
			for i := 0; i < n; i++ {
				eref, err := env.GetObjectArrayElement(ctx, v.Ref, i)
				if err != nil {
					return nil, err
				}
				hv, err := elem.FromJni(ctx, env, res, jnienv.Value{Prim: jnienv.TypeObject, Ref: eref}, unbox)
				if err != nil {
					return nil, err
				}
				out[i] = hv
			}
			return out, nil
		},
		ToJni: func(ctx context.Context, env jnienv.Env, res Resolver, v any) (jnienv.Value, error) {
			if v == nil {
				return jnienv.Value{Prim: jnienv.TypeObject, Ref: 0}, nil
			}
			xs, ok := v.([]any)
			if !ok {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected array, got %T", v)
			}
			elemClass, err := res.ResolveClass(ctx, env, elem.Name)
			if err != nil {
				return jnienv.Value{}, err
			}
			arr, err := env.NewObjectArray(ctx, len(xs), elemClass)
			if err != nil {
				return jnienv.Value{}, err
			}
			for i, x := range xs {
				wv, err := elem.ToJni(ctx, env, res, x)
				if err != nil {
					return jnienv.Value{}, err
				}
				if err := env.SetObjectArrayElement(ctx, arr, i, wv.Ref); err != nil {
					return jnienv.Value{}, err
				}
				if wv.Ref != 0 {
					_ = env.DeleteLocalRef(ctx, wv.Ref)
				}
			}
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: arr}, nil
		},
	}
}

func primitiveArrayTag(name string) string {
	switch name {
	case "boolean":
		return "Z"
	case "byte":
		return "B"
	case "char":
		return "C"
	case "short":
		return "S"
	case "int":
		return "I"
	case "long":
		return "J"
	case "float":
		return "F"
	case "double":
		return "D"
	default:
		return "?"
	}
}
