// Package members builds a class's member table from JNI reflection (the
// Member Resolver) and implements overload selection and marshaled
// invocation against it (the Invocation Dispatcher). The two are one
// package because every Method descriptor built during resolution is the
// same object invoked during dispatch (spec 4.C, 4.D).
package members

import (
	"context"
	"fmt"
	"strings"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/hooks"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
)

// Holder is the minimal view of a ClassWrapper a Method needs for its
// `.holder` property, satisfied by internal/wrapper.ClassWrapper. Defined
// here (rather than importing wrapper) to keep the dependency one-directional:
// wrapper depends on members, not the reverse.
type Holder interface {
	ClassName() string
	ClassHandle() uint64
}

// OverloadGroup is the set of Methods sharing a simple name on one class
// (spec Glossary, "Overload group").
type OverloadGroup struct {
	Name      string
	Overloads []*Method
	holder    Holder
}

// Holder returns the owning class wrapper.
func (g *OverloadGroup) Holder() Holder { return g.holder }

// Overload selects exactly one overload by its JNI-style signature-string
// argument type names, e.g. Overload("java.lang.String", "int").
func (g *OverloadGroup) Overload(argTypeNames ...string) (*Method, error) {
	for _, m := range g.Overloads {
		if sameTypes(m.ArgTypes, argTypeNames) {
			return m, nil
		}
	}
	return nil, errs.New(errs.NoSuchOverload, "no overload %s(%s)", g.Name, strings.Join(argTypeNames, ", "))
}

// Implementation returns the single overload's replacement getter/setter.
// Multi-overload groups must resolve an overload first (spec 4.D).
func (g *OverloadGroup) Implementation() (*Method, error) {
	if len(g.Overloads) != 1 {
		return nil, errs.New(errs.AmbiguousOverload, "%s has %d overloads; call .overload(...) first", g.Name, len(g.Overloads))
	}
	return g.Overloads[0], nil
}

// Call selects the first arity-bucket overload whose positional
// isCompatible predicates all hold, and invokes it (spec 4.D "Call
// semantics").
func (g *OverloadGroup) Call(ctx context.Context, env jnienv.Env, res jnitype.Resolver, receiver uint64, args []any) (any, error) {
	if g.Name == "toString" && receiver == 0 {
		return "<" + g.holder.ClassName() + ">", nil
	}

	var bucket []*Method
	for _, m := range g.Overloads {
		if len(m.ArgTypes) == len(args) {
			bucket = append(bucket, m)
		}
	}
	if len(bucket) == 0 {
		return nil, errs.New(errs.NoSuchOverload, "%s: no overload takes %d argument(s)", g.Name, len(args))
	}

	for _, m := range bucket {
		if m.canInvokeWithArgs(args) {
			if !m.IsCtor && !m.Static && receiver == 0 {
				return nil, errs.New(errs.IncompatibleArgument, "%s is an instance method; no receiver handle", g.Name)
			}
			return m.Invoke(ctx, env, res, receiver, args)
		}
	}
	return nil, errs.New(errs.NoSuchOverload, "%s: no overload matches argument types", g.Name)
}

func sameTypes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Method is one resolved method/constructor overload (spec 4.C point 2,
// 4.D).
type Method struct {
	Name       string
	Static     bool
	VarArgs    bool
	ReturnType string
	ArgTypes   []string
	ID         jnienv.FieldOrMethodID
	IsCtor     bool
	RunOnExisting bool // true for $init's parallel ctor list (spec 4.C point 4)
	syntheticValueOf bool // true for the injected valueOf() overload (spec 3, "OverloadGroup")

	holder  Holder
	adapter []*jnitype.Adapter
	retAd   *jnitype.Adapter
	env     jnienv.Env
	res     jnitype.Resolver

	hookEngine *hooks.Engine // nil if hooking is unavailable/disallowed (constructors)
}

// Holder returns the declaring class wrapper.
func (m *Method) Holder() Holder { return m.holder }

// Type classifies the member as "method" or "constructor".
func (m *Method) Type() string {
	if m.IsCtor {
		return "constructor"
	}
	return "method"
}

// CanInvokeWith reports whether args would be accepted by this overload's
// positional isCompatible predicates.
func (m *Method) CanInvokeWith(args []any) bool {
	return len(args) == len(m.ArgTypes) && m.canInvokeWithArgs(args)
}

func (m *Method) canInvokeWithArgs(args []any) bool {
	for i, a := range m.adapter {
		if !a.IsCompatible(args[i]) {
			return false
		}
	}
	return true
}

// IsHooked reports whether a replacement is currently installed.
func (m *Method) IsHooked() bool {
	return m.hookEngine != nil && m.hookEngine.IsInstalled(m.ID)
}

// SetImplementation installs or clears fn as this method's native
// implementation (spec 4.D ".implementation"). fn == nil uninstalls.
// Constructors and multi-overload groups reject this (spec 4.E
// "Constraints"); callers enforce the multi-overload rule via
// OverloadGroup.Implementation, which only returns a *Method for
// single-overload groups.
func (m *Method) SetImplementation(fn func(ctx context.Context, thisOrClass uint64, args []any) (any, error)) error {
	if m.IsCtor {
		return errs.New(errs.AmbiguousOverload, "$new cannot be re-implemented; hook the underlying <init> instead")
	}
	if m.hookEngine == nil {
		return errs.New(errs.TrampolineNotFound, "no hooking engine bound to %s", m.Name)
	}
	if fn == nil {
		return m.hookEngine.Uninstall(m.ID)
	}

	argWire := make([]jnienv.Primitive, len(m.adapter))
	for i, a := range m.adapter {
		argWire[i] = a.Wire
	}
	retWire := jnienv.TypeVoid
	if m.retAd != nil {
		retWire = m.retAd.Wire
	}

	wrapped := func(ctx context.Context, thisOrClass uint64, wireArgs []jnienv.Value) (jnienv.Value, error) {
		hostArgs := make([]any, len(wireArgs))
		for i, wv := range wireArgs {
			hv, err := m.adapter[i].FromJni(ctx, m.env, m.res, wv, true)
			if err != nil {
				return jnienv.Value{}, err
			}
			hostArgs[i] = hv
		}
		result, err := fn(ctx, thisOrClass, hostArgs)
		if err != nil {
			return jnienv.Value{}, err
		}
		if m.retAd == nil {
			return jnienv.Value{Prim: jnienv.TypeVoid}, nil
		}
		return m.retAd.ToJni(ctx, m.env, m.res, result)
	}

	return m.hookEngine.Install(context.Background(), m.holder.ClassHandle(), m.ID, m.Static, argWire, retWire, wrapped)
}

// Invoke marshals args, performs the JNI call, checks for a pending
// exception, and marshals the return value (spec 4.D, steps 1-6).
func (m *Method) Invoke(ctx context.Context, env jnienv.Env, res jnitype.Resolver, receiver uint64, args []any) (any, error) {
	if m.syntheticValueOf {
		return receiver, nil
	}
	if len(args) != len(m.adapter) {
		return nil, errs.New(errs.IncompatibleArgument, "%s: expected %d arguments, got %d", m.Name, len(m.adapter), len(args))
	}

	if err := env.PushLocalFrame(ctx, 2+len(args)+1); err != nil {
		return nil, errs.Wrap(errs.OutOfMemory, err, "push local frame")
	}
	defer env.PopLocalFrame(ctx, 0)

	wire := make([]jnienv.Value, len(args))
	for i, a := range args {
		wv, err := m.adapter[i].ToJni(ctx, env, res, a)
		if err != nil {
			return nil, err
		}
		wire[i] = wv
	}

	var (
		result jnienv.Value
		err    error
	)

	switch {
	case m.IsCtor && m.RunOnExisting:
		result, err = env.CallNonvirtualMethod(ctx, receiver, m.holder.ClassHandle(), m.ID, jnienv.TypeVoid, 0, wire)
		result = jnienv.Value{Prim: jnienv.TypeObject, Ref: receiver}
	case m.IsCtor:
		var obj uint64
		obj, err = env.NewObject(ctx, m.holder.ClassHandle(), m.ID, wire)
		result = jnienv.Value{Prim: jnienv.TypeObject, Ref: obj}
	case m.Static:
		result, err = env.CallStaticMethod(ctx, m.holder.ClassHandle(), m.ID, wireReturnPrim(m.retAd), 0, wire)
	default:
		reentrant := m.hookEngine != nil && m.hookEngine.IsReentrant(m.ID, env.CurrentThreadID())
		if reentrant {
			result, err = env.CallNonvirtualMethod(ctx, receiver, m.holder.ClassHandle(), m.ID, wireReturnPrim(m.retAd), 0, wire)
		} else {
			result, err = env.CallVirtualMethod(ctx, receiver, m.ID, wireReturnPrim(m.retAd), 0, wire)
		}
	}
	if err != nil {
		return nil, err
	}

	if pending, chkErr := env.ExceptionCheck(ctx); chkErr == nil && pending {
		throwable, _ := env.ExceptionOccurred(ctx)
		_ = env.ExceptionClear(ctx)
		return nil, errs.JavaThrow(throwable, fmt.Sprintf("exception from %s", m.Name))
	}

	if m.IsCtor {
		return result.Ref, nil
	}
	if m.retAd == nil {
		return nil, nil
	}
	return m.retAd.FromJni(ctx, env, res, result, true)
}

func wireReturnPrim(a *jnitype.Adapter) jnienv.Primitive {
	if a == nil {
		return jnienv.TypeVoid
	}
	return a.Wire
}
