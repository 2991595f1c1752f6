// Package heap implements the Heap Enumerator: a Dalvik-only scan of the
// managed heap for live instances of one class (spec 4.F).
package heap

import (
	"context"
	"encoding/binary"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
)

// StopSentinel is the onMatch return value that terminates a scan early
// (spec 4.F, "honor an onMatch return of 'stop'").
const StopSentinel = "stop"

// Callbacks is the {onMatch, onComplete} pair passed to Choose.
type Callbacks struct {
	// OnMatch is invoked for each live instance found, in scan order.
	// Returning StopSentinel ends the scan; a non-nil error aborts it.
	OnMatch func(ctx context.Context, instance jnitype.Instance) (string, error)
	// OnComplete always runs exactly once, whether the scan finished,
	// stopped early, or failed.
	OnComplete func(ctx context.Context)
}

// Enumerator scans the Dalvik heap for instances whose class pointer
// matches a resolved class, synthesizing a local reference for each live
// match via addLocalReference (spec 4.F).
//
// CodeBase/CodeLimit bound the native library region addLocalReference's
// signature is scanned in (libdvm.so's mapped text segment); ABI selects
// the Thumb-bit adjustment applied to the resolved address on 32-bit ARM.
// AddLocalReferenceSignature is the embedder-supplied byte pattern for this
// Android build, following the same "supplied out of band" approach as the
// offset spec (spec 4.G).
type Enumerator struct {
	env jnienv.Env
	api jnienv.Api
	res jnitype.Resolver

	ABI                        string
	CodeBase, CodeLimit        uint64
	AddLocalReferenceSignature string

	addLocalRefAddr uint64
}

// New creates a heap Enumerator. res resolves class names and wraps matched
// handles into instances, exactly as the Class Cache & Wrapper Factory does
// for every other JNI-handle-producing operation.
func New(env jnienv.Env, api jnienv.Api, res jnitype.Resolver) *Enumerator {
	return &Enumerator{env: env, api: api, res: res}
}

// Choose scans the heap for live instances of className, delivering each to
// cb.OnMatch in address order until it returns StopSentinel or the scan is
// exhausted; cb.OnComplete always runs afterward (spec 4.F).
func (e *Enumerator) Choose(ctx context.Context, className string, cb Callbacks) error {
	defer func() {
		if cb.OnComplete != nil {
			cb.OnComplete(ctx)
		}
	}()

	if e.api.Flavor() != jnienv.FlavorDalvik {
		return errs.New(errs.HeapScanUnsupported, "choose: heap enumeration is Dalvik-only, flavor is %s", e.api.Flavor())
	}

	classRef, err := e.res.ResolveClass(ctx, e.env, className)
	if err != nil {
		return err
	}

	decodeIndirectRef, err := e.api.ResolveSymbol("dvmDecodeIndirectRef")
	if err != nil {
		return errs.Wrap(errs.TrampolineNotFound, err, "resolve dvmDecodeIndirectRef")
	}
	classPtr, err := e.api.CallNative(ctx, decodeIndirectRef, []uint64{0, classRef})
	if err != nil {
		return errs.Wrap(errs.TrampolineNotFound, err, "dvmDecodeIndirectRef(%s)", className)
	}

	base, limit, err := e.heapBounds(ctx)
	if err != nil {
		return err
	}

	isValidObject, err := e.api.ResolveSymbol("dvmIsValidObject")
	if err != nil {
		return errs.Wrap(errs.TrampolineNotFound, err, "resolve dvmIsValidObject")
	}
	addLocalRef, err := e.resolveAddLocalReference()
	if err != nil {
		return err
	}

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, classPtr)
	matches, err := scanAll(e.api, base, limit, exactPattern(raw))
	if err != nil {
		return err
	}

	for _, candidate := range matches {
		valid, err := e.api.CallNative(ctx, isValidObject, []uint64{candidate})
		if err != nil || valid == 0 {
			continue
		}
		localRef, err := e.api.CallNative(ctx, addLocalRef, []uint64{0, candidate})
		if err != nil {
			continue
		}
		inst, err := e.res.Cast(ctx, e.env, localRef, className)
		if err != nil {
			continue
		}
		if cb.OnMatch == nil {
			continue
		}
		verdict, err := cb.OnMatch(ctx, inst)
		if err != nil {
			return err
		}
		if verdict == StopSentinel {
			break
		}
	}
	return nil
}

func (e *Enumerator) heapBounds(ctx context.Context) (base, limit uint64, err error) {
	baseFn, err := e.api.ResolveSymbol("dvmHeapSourceGetBase")
	if err != nil {
		return 0, 0, errs.Wrap(errs.TrampolineNotFound, err, "resolve dvmHeapSourceGetBase")
	}
	limitFn, err := e.api.ResolveSymbol("dvmHeapSourceGetLimit")
	if err != nil {
		return 0, 0, errs.Wrap(errs.TrampolineNotFound, err, "resolve dvmHeapSourceGetLimit")
	}
	base, err = e.api.CallNative(ctx, baseFn, nil)
	if err != nil {
		return 0, 0, err
	}
	limit, err = e.api.CallNative(ctx, limitFn, nil)
	if err != nil {
		return 0, 0, err
	}
	return base, limit, nil
}

// resolveAddLocalReference finds addLocalReference's address, trying an
// exported-symbol lookup first and falling back to a code-region signature
// scan (spec 4.F). The result is cached for the Enumerator's lifetime. On
// 32-bit ARM an address found by the signature scan is OR'd with 1 to select
// Thumb mode for BLX-based calls; an exported symbol's address is used as
// resolved, and arm64 has no such interworking bit.
func (e *Enumerator) resolveAddLocalReference() (uint64, error) {
	if e.addLocalRefAddr != 0 {
		return e.addLocalRefAddr, nil
	}

	if addr, err := e.api.ResolveSymbol("addLocalReference"); err == nil {
		e.addLocalRefAddr = addr
		return addr, nil
	}

	if e.AddLocalReferenceSignature == "" {
		return 0, errs.New(errs.TrampolineNotFound, "addLocalReference: not exported and no fallback signature configured")
	}
	pat, err := ParsePattern(e.AddLocalReferenceSignature)
	if err != nil {
		return 0, err
	}
	addr, err := scanFirst(e.api, e.CodeBase, e.CodeLimit, pat)
	if err != nil {
		return 0, errs.Wrap(errs.TrampolineNotFound, err, "addLocalReference signature scan")
	}
	if e.ABI == "armeabi-v7a" {
		addr |= 1
	}
	e.addLocalRefAddr = addr
	return addr, nil
}
