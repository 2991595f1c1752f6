// Package jnitype implements the TypeAdapter registry: per-type-name
// marshaling between host Go values and JNI wire values.
package jnitype

import (
	"context"

	"github.com/javabridge/javabridge/internal/jnienv"
)

// Instance is the minimal view of a wrapped Java instance an Adapter needs,
// satisfied by internal/wrapper.ClassInstance. Defined here rather than
// imported to keep jnitype free of a dependency on the wrapper package.
type Instance interface {
	Handle() uint64
	ClassName() string
}

// Resolver bridges reference-type marshaling back into the Class Cache &
// Wrapper Factory without creating an import cycle: wrapper implements this
// and passes itself to every Adapter call.
type Resolver interface {
	// Cast wraps handle as an instance of the named class, preserving
	// identity rules (spec 4.A "preserving identity when the handle equals
	// the receiver's own").
	Cast(ctx context.Context, env jnienv.Env, handle uint64, className string) (Instance, error)
	// ResolveClass returns a Class handle for className, consulting the
	// active class loader if one is installed, else Env.FindClass.
	ResolveClass(ctx context.Context, env jnienv.Env, className string) (uint64, error)
}

// Adapter marshals one JNI type between its wire Value and a host Go
// representation (bool, int64, float64, string, Instance, or []any for
// arrays; nil for a Java null).
type Adapter struct {
	Name     string
	Wire     jnienv.Primitive
	Size     int // bytes on the wire, used for local-frame budgeting
	array    bool
	elemName string // populated for array adapters

	IsCompatible func(v any) bool
	// FromJni marshals a wire Value back to a host value. unbox requests that
	// a boxable reference type (currently java.lang.String) return a raw host
	// value instead of a wrapped Instance; adapters that don't box ignore it
	// (spec 4.A, "TypeAdapter").
	FromJni func(ctx context.Context, env jnienv.Env, res Resolver, v jnienv.Value, unbox bool) (any, error)
	ToJni   func(ctx context.Context, env jnienv.Env, res Resolver, v any) (jnienv.Value, error)
}

// IsArray reports whether this adapter marshals a JNI array type.
func (a *Adapter) IsArray() bool { return a.array }

// ElementName is the element type name for an array adapter.
func (a *Adapter) ElementName() string { return a.elemName }
