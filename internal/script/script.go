// Package script hosts the bridge's external surface (spec §6) in a goja JS
// runtime: use(name), cast(handle, wrapper), openClassFile(path),
// choose(name, callbacks), the loader property, and dispose(env), plus the
// per-wrapper ($new, $alloc, $className, class), per-instance ($init,
// $dispose, $isSameObject, $className, $handle), per-dispatcher (overloads,
// overload(...), implementation) and per-overload (holder, type, returnType,
// argumentTypes, canInvokeWith, handle, implementation) surfaces.
package script

import (
	"context"

	"github.com/dop251/goja"

	"github.com/javabridge/javabridge/internal/bridge"
	"github.com/javabridge/javabridge/internal/heap"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/members"
	"github.com/javabridge/javabridge/internal/wrapper"
)

// Host runs one goja.Runtime bound to one bridge.Context, evaluating scripts
// synchronously on the calling goroutine (the JNI env underneath is not
// safe to share across threads).
type Host struct {
	ctx context.Context
	vm  *goja.Runtime
	br  *bridge.Context
}

// New creates a Host wiring br's external surface into a fresh goja.Runtime
// as a global "Bridge" object.
func New(ctx context.Context, br *bridge.Context) *Host {
	h := &Host{ctx: ctx, vm: goja.New(), br: br}
	h.vm.Set("Bridge", h.bridgeObject())
	return h
}

// Runtime returns the underlying goja.Runtime, for embedding additional
// globals (e.g. console.log) before running a script.
func (h *Host) Runtime() *goja.Runtime { return h.vm }

// RunString evaluates src and returns its last expression value exported to
// a Go value, or an error if evaluation or a bridge call failed.
func (h *Host) RunString(src string) (any, error) {
	v, err := h.vm.RunString(src)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

// callable wraps fn as a goja function object, so extra properties (e.g.
// .overloads alongside a dispatcher's call semantics) can be attached via
// Set after construction.
func (h *Host) callable(fn func(goja.FunctionCall) goja.Value) *goja.Object {
	v := h.vm.ToValue(fn)
	obj, _ := v.(*goja.Object)
	return obj
}

func (h *Host) fail(err error) {
	panic(h.vm.ToValue(err.Error()))
}

func (h *Host) bridgeObject() map[string]any {
	return map[string]any{
		"use": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			w, err := h.br.Use(h.ctx, name)
			if err != nil {
				h.fail(err)
			}
			return h.vm.ToValue(h.wrapperObject(w))
		},
		"cast": func(call goja.FunctionCall) goja.Value {
			handle := uint64(call.Argument(0).ToInteger())
			cw := wrapperFromValue(call.Argument(1))
			if cw == nil {
				h.fail(errString("cast: second argument must be a ClassWrapper"))
			}
			inst, err := h.br.Cast(h.ctx, handle, cw)
			if err != nil {
				h.fail(err)
			}
			return h.vm.ToValue(h.instanceObject(inst))
		},
		"openClassFile": func(call goja.FunctionCall) goja.Value {
			path := call.Argument(0).String()
			return h.vm.ToValue(h.dexFileObject(h.br.OpenClassFile(path)))
		},
		"choose": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			cbObj := call.Argument(1).ToObject(h.vm)
			err := h.br.Choose(h.ctx, name, heap.Callbacks{
				OnMatch: func(ctx context.Context, inst jnitype.Instance) (string, error) {
					onMatch, ok := goja.AssertFunction(cbObj.Get("onMatch"))
					if !ok {
						return "", nil
					}
					ci, ok := inst.(*wrapper.ClassInstance)
					if !ok {
						return "", nil
					}
					result, err := onMatch(goja.Undefined(), h.vm.ToValue(h.instanceObject(ci)))
					if err != nil {
						return "", err
					}
					return result.String(), nil
				},
				OnComplete: func(ctx context.Context) {
					if onComplete, ok := goja.AssertFunction(cbObj.Get("onComplete")); ok {
						onComplete(goja.Undefined())
					}
				},
			})
			if err != nil {
				h.fail(err)
			}
			return goja.Undefined()
		},
		"loader": func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				return h.vm.ToValue(h.br.Loader() != nil)
			}
			arg := call.Argument(0)
			if goja.IsNull(arg) || goja.IsUndefined(arg) {
				h.br.SetLoader(nil)
				return goja.Undefined()
			}
			fn, ok := goja.AssertFunction(arg)
			if !ok {
				h.fail(errString("loader: argument must be a function"))
			}
			h.br.SetLoader(func(_ context.Context, _ jnienv.Env, name string) (uint64, error) {
				result, err := fn(goja.Undefined(), h.vm.ToValue(name))
				if err != nil {
					return 0, err
				}
				if cw := wrapperFromValue(result); cw != nil {
					return cw.ClassHandle(), nil
				}
				return uint64(result.ToInteger()), nil
			})
			return goja.Undefined()
		},
		"dispose": func(call goja.FunctionCall) goja.Value {
			if err := h.br.Dispose(h.ctx); err != nil {
				h.fail(err)
			}
			return goja.Undefined()
		},
	}
}

// wrapperFromValue recovers the *wrapper.ClassWrapper a prior
// wrapperObject() call embedded under "__wrapper", for cast()'s second
// argument.
func wrapperFromValue(v goja.Value) *wrapper.ClassWrapper {
	m, ok := v.Export().(map[string]any)
	if !ok {
		return nil
	}
	cw, _ := m["__wrapper"].(*wrapper.ClassWrapper)
	return cw
}

func instanceFromValue(v goja.Value) *wrapper.ClassInstance {
	m, ok := v.Export().(map[string]any)
	if !ok {
		return nil
	}
	ci, _ := m["__instance"].(*wrapper.ClassInstance)
	return ci
}

// wrapperObject renders w as the per-ClassWrapper surface: $new, $alloc,
// $className, class, plus one property per declared member name (spec §6).
func (h *Host) wrapperObject(w *wrapper.ClassWrapper) map[string]any {
	obj := map[string]any{
		"__wrapper":  w,
		"class":      w.Class(),
		"$className": w.ClassName(),
		"$new": func(call goja.FunctionCall) goja.Value {
			inst, err := w.New(h.ctx, exportArgs(call.Arguments)...)
			if err != nil {
				h.fail(err)
			}
			return h.vm.ToValue(h.instanceObject(inst))
		},
		"$alloc": func(call goja.FunctionCall) goja.Value {
			inst, err := w.Alloc(h.ctx)
			if err != nil {
				h.fail(err)
			}
			return h.vm.ToValue(h.instanceObject(inst))
		},
	}

	t, err := w.Members(h.ctx)
	if err == nil {
		for name, p := range t.Properties {
			obj[name] = h.propertyValue(p, 0)
		}
	}
	return obj
}

// instanceObject renders a ClassInstance: $init, $dispose (releases the
// instance's pinned global reference), $isSameObject, $className, $handle,
// plus each property (spec §6).
func (h *Host) instanceObject(inst *wrapper.ClassInstance) map[string]any {
	w := inst.Wrapper()
	obj := map[string]any{
		"__instance": inst,
		"$handle":    inst.Handle(),
		"$className": w.ClassName(),
		"$init": func(call goja.FunctionCall) goja.Value {
			if err := w.Init(h.ctx, inst, exportArgs(call.Arguments)...); err != nil {
				h.fail(err)
			}
			return goja.Undefined()
		},
		"$dispose": func(call goja.FunctionCall) goja.Value {
			if err := inst.Release(h.ctx); err != nil {
				h.fail(err)
			}
			return goja.Undefined()
		},
		"$isSameObject": func(call goja.FunctionCall) goja.Value {
			other := instanceFromValue(call.Argument(0))
			return h.vm.ToValue(inst.IsSameObject(h.ctx, h.br.Env(), other))
		},
	}

	t, err := w.Members(h.ctx)
	if err == nil {
		for name, p := range t.Properties {
			obj[name] = h.propertyValue(p, inst.Handle())
		}
	}
	return obj
}

// propertyValue renders one resolved Property against receiver (0 for a
// class-level/static property). A field-only property is a {get, set}
// accessor pair; a method-only property is a callable dispatcher; a
// property with both is the dispatcher with an added .get/.set pair (spec
// 4.C, "the returned accessor object exposes both .value ... and callable
// semantics").
func (h *Host) propertyValue(p *members.Property, receiver uint64) any {
	var dispatcher *goja.Object
	if p.Group != nil {
		dispatcher = h.dispatcherObject(p.Group, receiver)
	}
	if p.Field == nil {
		return dispatcher
	}

	field := p.Field
	getFn := func(call goja.FunctionCall) goja.Value {
		v, err := field.Get(h.ctx, h.br.Env(), h.br.Factory, receiver)
		if err != nil {
			h.fail(err)
		}
		return h.vm.ToValue(v)
	}
	setFn := func(call goja.FunctionCall) goja.Value {
		if err := field.Set(h.ctx, h.br.Env(), h.br.Factory, receiver, call.Argument(0).Export()); err != nil {
			h.fail(err)
		}
		return goja.Undefined()
	}

	if dispatcher == nil {
		return map[string]any{"get": getFn, "set": setFn}
	}
	dispatcher.Set("get", getFn)
	dispatcher.Set("set", setFn)
	return dispatcher
}

// dispatcherObject renders a Method dispatcher (spec 4.D): callable
// directly (selecting an overload by arity/compatibility), plus .overloads,
// .overload(...), and, for a single-overload group, .implementation. The
// overload objects in .overloads carry .holder, .type, .returnType,
// .argumentTypes, .canInvokeWith and .handle.
func (h *Host) dispatcherObject(g *members.OverloadGroup, receiver uint64) *goja.Object {
	obj := h.callable(func(call goja.FunctionCall) goja.Value {
		result, err := g.Call(h.ctx, h.br.Env(), h.br.Factory, receiver, exportArgs(call.Arguments))
		if err != nil {
			h.fail(err)
		}
		return h.vm.ToValue(result)
	})

	overloads := make([]any, len(g.Overloads))
	for i, m := range g.Overloads {
		overloads[i] = h.methodObject(m)
	}
	obj.Set("overloads", overloads)
	obj.Set("overload", func(call goja.FunctionCall) goja.Value {
		names := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			names[i] = a.String()
		}
		m, err := g.Overload(names...)
		if err != nil {
			h.fail(err)
		}
		return h.vm.ToValue(h.methodObject(m))
	})

	if m, err := g.Implementation(); err == nil {
		obj.Set("implementation", implementationAccessor(h, m))
	}
	return obj
}

func (h *Host) methodObject(m *members.Method) map[string]any {
	obj := map[string]any{
		"holder":        m.Holder().ClassName(),
		"type":          m.Type(),
		"returnType":    m.ReturnType,
		"argumentTypes": m.ArgTypes,
		"handle":        uint64(m.ID),
		"canInvokeWith": func(call goja.FunctionCall) goja.Value {
			return h.vm.ToValue(m.CanInvokeWith(exportArgs(call.Arguments)))
		},
	}
	if !m.IsCtor {
		obj["implementation"] = implementationAccessor(h, m)
	}
	return obj
}

// implementationAccessor renders .implementation as a function: called with
// no arguments it reports whether a replacement is installed; called with a
// JS function it installs that replacement (null/undefined uninstalls),
// mirroring .implementation's get/set role without requiring a true
// accessor property (spec 4.D, 4.E).
func implementationAccessor(h *Host, m *members.Method) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return h.vm.ToValue(m.IsHooked())
		}
		replacement, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			if err := m.SetImplementation(nil); err != nil {
				h.fail(err)
			}
			return goja.Undefined()
		}
		fn := func(ctx context.Context, thisOrClass uint64, args []any) (any, error) {
			jsArgs := make([]goja.Value, len(args))
			for i, a := range args {
				jsArgs[i] = h.vm.ToValue(a)
			}
			result, err := replacement(goja.Undefined(), jsArgs...)
			if err != nil {
				return nil, err
			}
			return result.Export(), nil
		}
		if err := m.SetImplementation(fn); err != nil {
			h.fail(err)
		}
		return goja.Undefined()
	}
}

func (h *Host) dexFileObject(d *wrapper.DexFile) map[string]any {
	return map[string]any{
		"load": func(call goja.FunctionCall) goja.Value {
			if err := d.Load(h.ctx); err != nil {
				h.fail(err)
			}
			return goja.Undefined()
		},
		"getClassNames": func(call goja.FunctionCall) goja.Value {
			names, err := d.GetClassNames(h.ctx)
			if err != nil {
				h.fail(err)
			}
			return h.vm.ToValue(names)
		},
	}
}

func exportArgs(args []goja.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Export()
	}
	return out
}

type errString string

func (e errString) Error() string { return string(e) }
