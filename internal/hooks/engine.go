// Package hooks implements the Hooking Engine: installing and uninstalling
// native-method replacements against either the Dalvik vtable-overlay or
// the ART ArtMethod-patch strategy, and the per-method pending-calls set
// that routes re-entrant self-invocation to the original implementation.
package hooks

import (
	"context"
	"sync"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

// ReplacementFunc is a script-supplied method body. Returning an *errs.Error
// of kind JavaException causes the trampoline to Throw the carried
// Throwable and return the zero value, so the JVM sees a pending exception
// (spec 7, "Propagation").
type ReplacementFunc func(ctx context.Context, thisOrClass uint64, args []jnienv.Value) (jnienv.Value, error)

type hookState struct {
	class      uint64
	method     jnienv.FieldOrMethodID
	static     bool
	varArgs    bool // constructors cannot be hooked at all; checked by caller
	argTypes   []jnienv.Primitive
	retType    jnienv.Primitive

	original   []byte // verbatim snapshot of the patched record region
	recordAddr uint64
	recordSize int

	trampolineAddr uint64
	fn             ReplacementFunc

	// dalvikShadows records, per class PatchClass has seen for this hook,
	// the method record address and the class's vtable slot for the method.
	dalvikShadows map[uint64]dalvikShadow
}

type dalvikShadow struct {
	classVtable uint64 // the class's live vtable pointer before overlay
	shadowAddr  uint64
	slot        int
}

// Engine owns every installed hook and the pending-calls set used for
// re-entry routing (spec 5, "the pendingCalls set per Method descriptor is
// keyed by native thread id").
type Engine struct {
	env jnienv.Env
	api jnienv.Api

	mu    sync.Mutex
	hooks map[jnienv.FieldOrMethodID]*hookState

	pendingMu sync.Mutex
	pending   map[jnienv.FieldOrMethodID]map[uint64]bool
}

// New creates a hooking engine bound to env/api for the process's lifetime.
func New(env jnienv.Env, api jnienv.Api) *Engine {
	return &Engine{
		env:     env,
		api:     api,
		hooks:   make(map[jnienv.FieldOrMethodID]*hookState),
		pending: make(map[jnienv.FieldOrMethodID]map[uint64]bool),
	}
}

// IsInstalled reports whether method currently carries a replacement.
func (e *Engine) IsInstalled(method jnienv.FieldOrMethodID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.hooks[method]
	return ok
}

// TrampolineAddr returns the address of method's installed trampoline, for
// tools that want to disassemble it, and whether method is hooked at all.
func (e *Engine) TrampolineAddr(method jnienv.FieldOrMethodID) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.hooks[method]
	if !ok {
		return 0, false
	}
	return state.trampolineAddr, true
}

// IsReentrant reports whether the given native thread is currently
// executing inside method's trampoline — i.e. the call about to be made is
// the replacement calling back into the original (spec 5, "Re-entry from
// replacement").
func (e *Engine) IsReentrant(method jnienv.FieldOrMethodID, threadID uint64) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	set, ok := e.pending[method]
	return ok && set[threadID]
}

func (e *Engine) enter(method jnienv.FieldOrMethodID, threadID uint64) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	set, ok := e.pending[method]
	if !ok {
		set = make(map[uint64]bool)
		e.pending[method] = set
	}
	set[threadID] = true
}

func (e *Engine) leave(method jnienv.FieldOrMethodID, threadID uint64) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if set, ok := e.pending[method]; ok {
		delete(set, threadID)
	}
}

// Install replaces method's native implementation with fn. class is the
// method's declaring class. Install patches only the method record; class
// vtables are not written (PatchClass records per-class vtable slots).
func (e *Engine) Install(ctx context.Context, class uint64, method jnienv.FieldOrMethodID, static bool, argTypes []jnienv.Primitive, retType jnienv.Primitive, fn ReplacementFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.hooks[method]; exists {
		return e.rebind(method, fn)
	}

	recordAddr, err := e.api.MethodRecordAddress(class, method)
	if err != nil {
		return errs.Wrap(errs.TrampolineNotFound, err, "hooks: resolve method record")
	}

	recordSize := e.api.Offsets().DalvikMethodSize
	if e.api.Flavor() == jnienv.FlavorArt {
		recordSize = e.api.Offsets().ArtMethodSize
	}
	snapshot, err := e.api.ReadMemory(recordAddr, recordSize)
	if err != nil {
		return errs.Wrap(errs.OutOfMemory, err, "hooks: snapshot method record")
	}

	trampolineAddr, err := e.api.AllocExecutable(16)
	if err != nil {
		return errs.Wrap(errs.OutOfMemory, err, "hooks: allocate trampoline")
	}

	state := &hookState{
		class: class, method: method, static: static, argTypes: argTypes, retType: retType,
		original: snapshot, recordAddr: recordAddr, recordSize: recordSize,
		trampolineAddr: trampolineAddr, fn: fn,
		dalvikShadows: make(map[uint64]dalvikShadow),
	}

	wrapped := func(ctx context.Context, thisOrClass uint64, args []jnienv.Value) (jnienv.Value, error) {
		threadID := e.env.CurrentThreadID()
		e.enter(method, threadID)
		defer e.leave(method, threadID)

		result, err := fn(ctx, thisOrClass, args)
		if err != nil {
			if jerr, ok := err.(*errs.Error); ok && jerr.Kind == errs.JavaException {
				_ = e.env.Throw(ctx, jerr.Throwable)
				return jnienv.Value{Prim: retType}, nil
			}
			return jnienv.Value{}, err
		}
		return result, nil
	}

	if err := e.api.BindTrampoline(trampolineAddr, argTypes, retType, wrapped); err != nil {
		return errs.Wrap(errs.TrampolineNotFound, err, "hooks: bind trampoline")
	}

	if e.api.Flavor() == jnienv.FlavorArt {
		if err := e.installArt(state); err != nil {
			return err
		}
	} else {
		if err := e.installDalvik(state); err != nil {
			return err
		}
	}

	e.hooks[method] = state
	return nil
}

// rebind swaps the replacement function of an already-installed hook
// without touching the native record, used when a script assigns
// .implementation a second time.
func (e *Engine) rebind(method jnienv.FieldOrMethodID, fn ReplacementFunc) error {
	state := e.hooks[method]
	state.fn = fn
	return nil
}

// installArt implements spec 4.E's ART strategy: write jniCode to the
// trampoline, set kAccNative|kAccFastNative, point quickCode at the
// runtime's own generic JNI trampoline, interpreterCode at the bridge.
func (e *Engine) installArt(state *hookState) error {
	t := e.api.Offsets()

	if err := writeU64(e.api, state.recordAddr+uint64(t.ArtEntryPointJniOffset), state.trampolineAddr); err != nil {
		return err
	}

	flags, err := readU32(e.api, state.recordAddr+uint64(t.ArtAccessFlagsOffset))
	if err != nil {
		return err
	}
	const kAccNative = 0x0100
	flags |= kAccNative
	if t.FastNativeFlagBit != 0 {
		flags |= t.FastNativeFlagBit
	}
	if err := writeU32(e.api, state.recordAddr+uint64(t.ArtAccessFlagsOffset), flags); err != nil {
		return err
	}

	if t.GenericJniTrampolineSymbol != "" {
		quick, err := e.api.ResolveSymbol(t.GenericJniTrampolineSymbol)
		if err == nil {
			_ = writeU64(e.api, state.recordAddr+uint64(t.ArtEntryPointQuickOffset), quick)
		}
	}

	if t.ArtEntryPointInterpOffset != 0 {
		if interp, err := e.api.ResolveSymbol("artInterpreterToCompiledCodeBridge"); err == nil {
			_ = writeU64(e.api, state.recordAddr+uint64(t.ArtEntryPointInterpOffset), interp)
		}
	}
	return nil
}

// installDalvik patches the Dalvik method record: it sets kAccNative in the
// access flags and writes the trampoline into the native-function field. It
// does not change registersSize/insSize/outsSize or jniArgInfo, and it does
// not call dvmUseJNIBridge (the symbol is only looked up).
func (e *Engine) installDalvik(state *hookState) error {
	t := e.api.Offsets()

	flags, err := readU32(e.api, state.recordAddr+uint64(t.DalvikAccessFlagsOffset))
	if err != nil {
		return err
	}
	const kAccNative = 0x0100
	flags |= kAccNative
	if err := writeU32(e.api, state.recordAddr+uint64(t.DalvikAccessFlagsOffset), flags); err != nil {
		return err
	}

	if err := writeU64(e.api, state.recordAddr+uint64(t.DalvikNativeFuncOffset), state.trampolineAddr); err != nil {
		return err
	}

	if bridge, err := e.api.ResolveSymbol("dvmUseJNIBridge"); err == nil {
		_ = bridge // a real embedder calls through this; our model patches the record directly.
	}
	return nil
}

// PatchClass records, for every installed hook, instanceClass's vtable slot
// for the hooked method. It writes no memory: no shadow vtable is cloned and
// the class's vtable pointer is left as it is. It is a no-op under the ART
// strategy, for a class already recorded for a hook, and for a class whose
// slot cannot be resolved.
func (e *Engine) PatchClass(instanceClass uint64) error {
	if e.api.Flavor() != jnienv.FlavorDalvik {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, state := range e.hooks {
		if _, done := state.dalvikShadows[instanceClass]; done {
			continue
		}
		slot, err := e.api.VtableSlot(instanceClass, state.method)
		if err != nil {
			continue // method not declared/overridden on this class; nothing to overlay
		}
		state.dalvikShadows[instanceClass] = dalvikShadow{shadowAddr: state.recordAddr, slot: slot}
	}
	return nil
}

// Uninstall writes the pre-hook snapshot of the method record back verbatim,
// unbinds the trampoline, and drops the replacement and its pending-calls
// set. Class vtables are not touched, since no hook writes to them.
func (e *Engine) Uninstall(method jnienv.FieldOrMethodID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.hooks[method]
	if !ok {
		return nil
	}
	if err := e.api.WriteMemory(state.recordAddr, state.original); err != nil {
		return errs.Wrap(errs.OutOfMemory, err, "hooks: restore method record")
	}
	_ = e.api.UnbindTrampoline(state.trampolineAddr)
	delete(e.hooks, method)

	e.pendingMu.Lock()
	delete(e.pending, method)
	e.pendingMu.Unlock()
	return nil
}

// UninstallAll drains every installed hook, restoring every patched
// record — used by the Class Cache & Wrapper Factory's dispose() (spec 4.B,
// and the Open Question in spec 9 about draining the set to completion
// rather than checking patchedMethods.length against a stale size).
func (e *Engine) UninstallAll() error {
	e.mu.Lock()
	methods := make([]jnienv.FieldOrMethodID, 0, len(e.hooks))
	for m := range e.hooks {
		methods = append(methods, m)
	}
	e.mu.Unlock()

	for len(methods) > 0 {
		m := methods[len(methods)-1]
		methods = methods[:len(methods)-1]
		if err := e.Uninstall(m); err != nil {
			return err
		}
	}
	return nil
}

func readU32(api jnienv.Api, addr uint64) (uint32, error) {
	data, err := api.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, nil
}

func writeU32(api jnienv.Api, addr uint64, v uint32) error {
	data := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return api.WriteMemory(addr, data)
}

func writeU64(api jnienv.Api, addr uint64, v uint64) error {
	data := make([]byte, 8)
	for i := 0; i < 8; i++ {
		data[i] = byte(v >> (8 * i))
	}
	return api.WriteMemory(addr, data)
}
