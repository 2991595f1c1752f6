// Package wrapper implements the Class Cache & Wrapper Factory: the
// process-wide name→wrapper cache, the per-class member table materialized
// lazily through internal/members, and the hooking engine every wrapper
// shares (spec 4.B).
package wrapper

import (
	"context"
	"strings"
	"sync"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/hooks"
	"github.com/javabridge/javabridge/internal/jlog"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
)

// ClassLoaderFunc resolves a dotted class name to a Class handle. Installing
// one on a Factory stands in for a user-provided Java ClassLoader's
// loadClass(name) (spec 4.B, "use(name)").
type ClassLoaderFunc func(ctx context.Context, env jnienv.Env, name string) (uint64, error)

// Factory is the single owner of the class cache, the active loader, every
// pinned class global reference, and the hooking engine — the "global mutable
// state" spec 9 calls for modeling as an explicit context rather than
// package-level globals. Callers create one Factory per attached process and
// must Dispose it.
type Factory struct {
	env jnienv.Env
	api jnienv.Api
	reg *jnitype.Registry

	Engine *hooks.Engine

	mu     sync.Mutex
	cache  map[string]*ClassWrapper
	loader ClassLoaderFunc
	pinned []uint64
}

// New creates a Factory bound to env/api for the lifetime of one attached
// process.
func New(env jnienv.Env, api jnienv.Api, reg *jnitype.Registry) *Factory {
	return &Factory{
		env:    env,
		api:    api,
		reg:    reg,
		Engine: hooks.New(env, api),
		cache:  make(map[string]*ClassWrapper),
	}
}

// Loader returns the currently installed class loader, or nil if none.
func (f *Factory) Loader() ClassLoaderFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loader
}

// SetLoader installs fn as the active class loader (spec 6, "loader
// (gettable/settable)"). A nil fn reverts to Env.FindClass.
func (f *Factory) SetLoader(fn ClassLoaderFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loader = fn
}

// Use returns the cached wrapper for name, constructing and caching it (and
// its superclass chain) on first request (spec 4.B, spec 8 "cache
// identity").
func (f *Factory) Use(ctx context.Context, name string) (*ClassWrapper, error) {
	f.mu.Lock()
	if w, ok := f.cache[name]; ok {
		f.mu.Unlock()
		if jlog.L != nil {
			jlog.L.ClassResolved(name, true)
		}
		return w, nil
	}
	f.mu.Unlock()

	class, err := f.resolveClass(ctx, name)
	if err != nil {
		return nil, err
	}
	w, err := f.wrap(ctx, name, class)
	if err != nil {
		return nil, err
	}

	if jlog.L != nil {
		jlog.L.ClassResolved(name, false)
	}
	return w, nil
}

func (f *Factory) resolveClass(ctx context.Context, name string) (uint64, error) {
	f.mu.Lock()
	loader := f.loader
	f.mu.Unlock()

	if loader != nil {
		class, err := loader(ctx, f.env, name)
		if err != nil {
			return 0, errs.Wrap(errs.ClassNotFound, err, "loader: %s", name)
		}
		return class, nil
	}
	class, err := f.env.FindClass(ctx, toSlash(name))
	if err != nil {
		return 0, errs.Wrap(errs.ClassNotFound, err, "FindClass: %s", name)
	}
	return class, nil
}

// wrap materializes and caches a ClassWrapper for an already-resolved class
// handle, recursing to the superclass (stopping at null) so member lookup
// can fall through the parent chain (spec 4.B).
func (f *Factory) wrap(ctx context.Context, name string, class uint64) (*ClassWrapper, error) {
	f.mu.Lock()
	if w, ok := f.cache[name]; ok {
		f.mu.Unlock()
		return w, nil
	}
	f.mu.Unlock()

	classRef, err := f.env.NewGlobalRef(ctx, class)
	if err != nil {
		return nil, errs.Wrap(errs.OutOfMemory, err, "pin class %s", name)
	}

	var parent *ClassWrapper
	if superClass, err := f.env.GetSuperclass(ctx, class); err == nil && superClass != 0 {
		superName, err := f.env.Class().GetName(ctx, superClass)
		if err != nil {
			return nil, err
		}
		parent, err = f.wrap(ctx, superName, superClass)
		if err != nil {
			return nil, err
		}
	}

	w := &ClassWrapper{
		name:     name,
		classRef: classRef,
		parent:   parent,
		factory:  f,
	}

	f.mu.Lock()
	if existing, ok := f.cache[name]; ok {
		f.mu.Unlock()
		_ = f.env.DeleteGlobalRef(ctx, classRef)
		return existing, nil
	}
	f.cache[name] = w
	f.pinned = append(f.pinned, classRef)
	f.mu.Unlock()

	return w, nil
}

// Cast implements jnitype.Resolver: wraps handle as an instance of
// className, failing with BadCast unless IsInstanceOf holds (spec 4.B
// "cast(handle, wrapper)").
func (f *Factory) Cast(ctx context.Context, env jnienv.Env, handle uint64, className string) (jnitype.Instance, error) {
	if handle == 0 {
		return nil, nil
	}
	w, err := f.Use(ctx, className)
	if err != nil {
		return nil, err
	}
	return f.castTo(ctx, handle, w)
}

// CastTo is the script-facing cast(handle, wrapper) operation (spec 4.B).
func (f *Factory) CastTo(ctx context.Context, handle uint64, w *ClassWrapper) (*ClassInstance, error) {
	return f.castTo(ctx, handle, w)
}

func (f *Factory) castTo(ctx context.Context, handle uint64, w *ClassWrapper) (*ClassInstance, error) {
	ok, err := f.env.IsInstanceOf(ctx, handle, w.classRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.BadCast, "handle 0x%x is not an instance of %s", handle, w.name)
	}
	return newClassInstance(ctx, f.env, w, handle)
}

// ResolveClass implements jnitype.Resolver: resolves className to a Class
// handle via Use, consulting the active loader (spec 4.B).
func (f *Factory) ResolveClass(ctx context.Context, env jnienv.Env, className string) (uint64, error) {
	w, err := f.Use(ctx, className)
	if err != nil {
		return 0, err
	}
	return w.classRef, nil
}

// OpenClassFile returns a DexFile facade over path (spec 4.B
// "openClassFile(path)").
func (f *Factory) OpenClassFile(path string) *DexFile {
	return &DexFile{factory: f, path: path}
}

// Dispose restores every hooked method, releases every pinned class global
// reference, and clears all caches (spec 4.B "dispose(env)", spec 8
// "Dispose restores"). ClassInstance references are not tracked by the
// Factory and are not released here; each is released by Release or by its
// cleanup token.
func (f *Factory) Dispose(ctx context.Context) error {
	if err := f.Engine.UninstallAll(); err != nil {
		return err
	}

	f.mu.Lock()
	pinned := f.pinned
	f.pinned = nil
	f.cache = make(map[string]*ClassWrapper)
	f.loader = nil
	f.mu.Unlock()

	for _, ref := range pinned {
		_ = f.env.DeleteGlobalRef(ctx, ref)
	}
	return nil
}

func toSlash(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/")
}
