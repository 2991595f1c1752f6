// Package bridge ties the TypeAdapter registry, Class Cache & Wrapper
// Factory, Member Resolver, Invocation Dispatcher, Hooking Engine, and Heap
// Enumerator together behind the one external surface a scripting host or
// REPL drives (spec §6): use, cast, openClassFile, choose, loader
// get/set, dispose.
package bridge

import (
	"context"

	"github.com/javabridge/javabridge/internal/heap"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/trace"
	"github.com/javabridge/javabridge/internal/wrapper"
)

// Context is the one object a script or REPL session holds: it owns the
// Factory (and through it the hooking engine and class cache) and the Heap
// Enumerator, both bound to the same attached process (spec 4.B "Callers
// create one Factory per attached process").
type Context struct {
	env jnienv.Env
	api jnienv.Api

	Factory *wrapper.Factory
	Heap    *heap.Enumerator
	Trace   *trace.Sink
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithHeapConfig sets the Heap Enumerator's ABI, code-region bounds, and
// addLocalReference fallback signature (spec 4.F). Skip this option on
// builds where addLocalReference is exported and resolvable by name alone.
func WithHeapConfig(abi string, codeBase, codeLimit uint64, addLocalRefSignature string) Option {
	return func(c *Context) {
		c.Heap.ABI = abi
		c.Heap.CodeBase = codeBase
		c.Heap.CodeLimit = codeLimit
		c.Heap.AddLocalReferenceSignature = addLocalRefSignature
	}
}

// WithTraceSink attaches a Sink that Use/Choose/Dispose publish
// trace.Event entries to, for REPL or websocket transport consumption.
func WithTraceSink(sink *trace.Sink) Option {
	return func(c *Context) { c.Trace = sink }
}

// New creates a Context bound to one attached process. reg is the
// TypeAdapter registry to marshal against, normally jnitype.Default().
func New(env jnienv.Env, api jnienv.Api, reg *jnitype.Registry, opts ...Option) *Context {
	factory := wrapper.New(env, api, reg)
	c := &Context{
		env:     env,
		api:     api,
		Factory: factory,
		Heap:    heap.New(env, api, factory),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) publish(tag trace.Tag, name, detail string) {
	if c.Trace == nil {
		return
	}
	c.Trace.Push(trace.NewEvent(tag, name, detail))
}

// Use resolves and caches a ClassWrapper by dotted name (spec 4.B
// "use(name)").
func (c *Context) Use(ctx context.Context, name string) (*wrapper.ClassWrapper, error) {
	w, err := c.Factory.Use(ctx, name)
	if err != nil {
		return nil, err
	}
	c.publish(trace.ClassUse, "use", name)
	return w, nil
}

// Cast wraps handle as an instance of w, failing with BadCast unless
// IsInstanceOf holds (spec 4.B "cast(handle, wrapper)").
func (c *Context) Cast(ctx context.Context, handle uint64, w *wrapper.ClassWrapper) (*wrapper.ClassInstance, error) {
	return c.Factory.CastTo(ctx, handle, w)
}

// OpenClassFile returns a DexFile facade over path, for loading classes out
// of a dex/apk without relying on a system ClassLoader (spec 4.B
// "openClassFile(path)", spec 9 "self-hosted DexFile").
func (c *Context) OpenClassFile(path string) *wrapper.DexFile {
	return c.Factory.OpenClassFile(path)
}

// Choose scans the heap for live instances of className, delivering each to
// cb.OnMatch until it returns heap.StopSentinel or the scan is exhausted
// (spec 4.F "choose(name, callbacks)").
func (c *Context) Choose(ctx context.Context, className string, cb heap.Callbacks) error {
	matches := 0
	wrapped := heap.Callbacks{
		OnMatch: func(ctx context.Context, inst jnitype.Instance) (string, error) {
			matches++
			if cb.OnMatch == nil {
				return "", nil
			}
			return cb.OnMatch(ctx, inst)
		},
		OnComplete: func(ctx context.Context) {
			c.publish(trace.HeapScan, "choose", className)
			if cb.OnComplete != nil {
				cb.OnComplete(ctx)
			}
		},
	}
	return c.Heap.Choose(ctx, className, wrapped)
}

// Env returns the JNI environment this Context is bound to, for callers
// that need to drive the Member Resolver / Invocation Dispatcher directly
// (e.g. the script host's property accessors).
func (c *Context) Env() jnienv.Env { return c.env }

// Loader returns the currently installed class loader, or nil if none
// (spec 6 "loader (gettable/settable)").
func (c *Context) Loader() wrapper.ClassLoaderFunc { return c.Factory.Loader() }

// SetLoader installs fn as the active class loader. A nil fn reverts to
// Env.FindClass.
func (c *Context) SetLoader(fn wrapper.ClassLoaderFunc) { c.Factory.SetLoader(fn) }

// Dispose restores every hooked method, releases every class global
// reference the Factory pinned, and clears the class cache (spec 4.B
// "dispose(env)"). Instance references are not released here; each is
// released by ClassInstance.Release or by its cleanup token.
func (c *Context) Dispose(ctx context.Context) error {
	err := c.Factory.Dispose(ctx)
	c.publish(trace.Dispose, "dispose", "")
	return err
}
