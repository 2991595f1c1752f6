// Package jnienv defines the JNI environment and VM-introspection contracts
// the bridge depends on but does not implement (spec §6, "External
// Interfaces"). A production embedder satisfies Env/Api against a live
// Dalvik/ART process (typically via cgo); internal/vm satisfies them against
// an emulator for this repository's own tests.
//
// Every reference-typed value (object, class, method id, field id, string,
// array, throwable) is represented as an opaque uint64 handle. A handle of 0
// denotes the JNI null reference.
package jnienv

import "context"

// RefKind classifies a Ref for release bookkeeping.
type RefKind int

const (
	RefLocal RefKind = iota
	RefGlobal
	RefWeakGlobal
)

// FieldOrMethodID is an opaque jfieldID/jmethodID handle.
type FieldOrMethodID uint64

// Primitive is the set of raw wire types a TypeAdapter can marshal, mirroring
// the JNI primitive type tags plus pointer (object) and void.
type Primitive int

const (
	TypeBoolean Primitive = iota
	TypeByte
	TypeChar
	TypeShort
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeVoid
	TypeObject
)

// Value is a marshaled JNI-call argument or return value. Exactly one field
// is meaningful, selected by Prim.
type Value struct {
	Prim  Primitive
	I64   int64   // boolean/byte/char/short/int/long, zero/sign-extended
	F64   float64 // float/double
	Ref   uint64  // object/array/string/throwable handle
}

// Env is the JNI function-table surface the bridge requires (spec §6).
type Env interface {
	// Class & object lifecycle.
	FindClass(ctx context.Context, slashName string) (uint64, error)
	GetObjectClass(ctx context.Context, obj uint64) (uint64, error)
	GetSuperclass(ctx context.Context, class uint64) (uint64, error)
	IsInstanceOf(ctx context.Context, obj, class uint64) (bool, error)
	IsSameObject(ctx context.Context, a, b uint64) bool
	AllocObject(ctx context.Context, class uint64) (uint64, error)
	NewObject(ctx context.Context, class uint64, ctor FieldOrMethodID, args []Value) (uint64, error)

	// Reference management.
	NewGlobalRef(ctx context.Context, obj uint64) (uint64, error)
	DeleteGlobalRef(ctx context.Context, obj uint64) error
	DeleteLocalRef(ctx context.Context, obj uint64) error
	NewLocalRef(ctx context.Context, obj uint64) (uint64, error)

	// Local frames.
	PushLocalFrame(ctx context.Context, capacity int) error
	PopLocalFrame(ctx context.Context, result uint64) (uint64, error)
	EnsureLocalCapacity(ctx context.Context, capacity int) error

	// Reflective ids.
	GetMethodID(ctx context.Context, class uint64, name, sig string) (FieldOrMethodID, error)
	GetStaticMethodID(ctx context.Context, class uint64, name, sig string) (FieldOrMethodID, error)
	GetFieldID(ctx context.Context, class uint64, name, sig string) (FieldOrMethodID, error)
	GetStaticFieldID(ctx context.Context, class uint64, name, sig string) (FieldOrMethodID, error)
	FromReflectedMethod(ctx context.Context, reflected uint64) (FieldOrMethodID, error)
	FromReflectedField(ctx context.Context, reflected uint64) (FieldOrMethodID, error)

	// Invocation. Virtual dispatches polymorphically; Nonvirtual reaches the
	// exact class's implementation (used for original-impl re-entry, §4.E/§5).
	CallVirtualMethod(ctx context.Context, obj uint64, m FieldOrMethodID, ret Primitive, retClass uint64, args []Value) (Value, error)
	CallNonvirtualMethod(ctx context.Context, obj, class uint64, m FieldOrMethodID, ret Primitive, retClass uint64, args []Value) (Value, error)
	CallStaticMethod(ctx context.Context, class uint64, m FieldOrMethodID, ret Primitive, retClass uint64, args []Value) (Value, error)

	// Fields.
	GetField(ctx context.Context, obj uint64, f FieldOrMethodID, prim Primitive) (Value, error)
	SetField(ctx context.Context, obj uint64, f FieldOrMethodID, v Value) error
	GetStaticField(ctx context.Context, class uint64, f FieldOrMethodID, prim Primitive) (Value, error)
	SetStaticField(ctx context.Context, class uint64, f FieldOrMethodID, v Value) error

	// Strings.
	NewStringUTF(ctx context.Context, s string) (uint64, error)
	GetStringUTF(ctx context.Context, jstr uint64) (string, error)

	// Arrays.
	GetArrayLength(ctx context.Context, array uint64) (int, error)
	NewPrimitiveArray(ctx context.Context, prim Primitive, length int) (uint64, error)
	GetPrimitiveArrayRegion(ctx context.Context, array uint64, prim Primitive, start, length int) ([]Value, error)
	SetPrimitiveArrayRegion(ctx context.Context, array uint64, prim Primitive, start int, values []Value) error
	NewObjectArray(ctx context.Context, length int, elementClass uint64) (uint64, error)
	GetObjectArrayElement(ctx context.Context, array uint64, index int) (uint64, error)
	SetObjectArrayElement(ctx context.Context, array uint64, index int, value uint64) error

	// Exceptions.
	ExceptionCheck(ctx context.Context) (bool, error)
	ExceptionOccurred(ctx context.Context) (uint64, error)
	ExceptionClear(ctx context.Context) error
	Throw(ctx context.Context, throwable uint64) error

	// Reflection support used by the Member Resolver (component C).
	Class() ClassReflection
	Modifier() ModifierReflection

	// CurrentThreadID returns the native thread id of the calling thread, used
	// to key the hooking engine's per-method pending-calls set (spec §5).
	CurrentThreadID() uint64
}

// ClassReflection groups java.lang.Class/.Method/.Field/.Constructor
// reflective calls the Member Resolver needs (spec §4.C, §6).
type ClassReflection interface {
	GetDeclaredMethods(ctx context.Context, class uint64) ([]ReflectedMethod, error)
	GetDeclaredFields(ctx context.Context, class uint64) ([]ReflectedField, error)
	GetDeclaredConstructors(ctx context.Context, class uint64) ([]ReflectedMethod, error)
	GetName(ctx context.Context, class uint64) (string, error)
}

// ModifierReflection exposes java.lang.reflect.Modifier static predicates.
type ModifierReflection interface {
	IsStatic(mods int) bool
}

// ReflectedMethod is what GetDeclaredMethods/Constructors returns per member.
type ReflectedMethod struct {
	Name         string
	ID           FieldOrMethodID
	Modifiers    int
	IsVarArgs    bool
	ReturnType   string // getTypeName() form, e.g. "int", "java.lang.String", "int[]"
	ArgTypes     []string
}

// ReflectedField is what GetDeclaredFields returns per member.
type ReflectedField struct {
	Name      string
	ID        FieldOrMethodID
	Modifiers int
	Type      string
}
