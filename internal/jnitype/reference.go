package jnitype

import (
	"context"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

const (
	javaLangString       = "java.lang.String"
	javaLangCharSequence = "java.lang.CharSequence"
)

func init() {
	register(newReferenceAdapter(javaLangString), javaLangString, "Ljava.lang.String;")
	register(newReferenceAdapter(javaLangCharSequence), javaLangCharSequence)
	register(newReferenceAdapter("java.lang.Object"), "java.lang.Object")
}

// newReferenceAdapter builds the Adapter for reference type className (spec
// 4.A "Reference types"). String and CharSequence accept raw host strings in
// addition to wrapped instances; every other class accepts null or any
// wrapped instance, without checking the instance's class.
func newReferenceAdapter(className string) *Adapter {
	boxable := className == javaLangString || className == javaLangCharSequence

	return &Adapter{
		Name: className, Wire: jnienv.TypeObject, Size: 8,
		IsCompatible: func(v any) bool {
			if v == nil {
				return true
			}
			if boxable {
				if _, ok := v.(string); ok {
					return true
				}
			}
			_, ok := v.(Instance)
			return ok
		},
		FromJni: func(ctx context.Context, env jnienv.Env, res Resolver, v jnienv.Value, unbox bool) (any, error) {
			if v.Ref == 0 {
				return nil, nil
			}
			if className == javaLangString && unbox {
				return env.GetStringUTF(ctx, v.Ref)
			}
			inst, err := res.Cast(ctx, env, v.Ref, className)
			if err != nil {
				return nil, err
			}
			return inst, nil
		},
		ToJni: func(ctx context.Context, env jnienv.Env, res Resolver, v any) (jnienv.Value, error) {
			if v == nil {
				return jnienv.Value{Prim: jnienv.TypeObject, Ref: 0}, nil
			}
			if s, ok := v.(string); ok {
				if !boxable {
					return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "%s does not accept a raw string", className)
				}
				ref, err := env.NewStringUTF(ctx, s)
				if err != nil {
					return jnienv.Value{}, err
				}
				return jnienv.Value{Prim: jnienv.TypeObject, Ref: ref}, nil
			}
			inst, ok := v.(Instance)
			if !ok {
				return jnienv.Value{}, errs.New(errs.IncompatibleArgument, "expected %s instance, got %T", className, v)
			}
			_ = res
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: inst.Handle()}, nil
		},
	}
}
