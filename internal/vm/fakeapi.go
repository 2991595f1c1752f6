package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/javabridge/javabridge/internal/jnienv"
)

// FakeApi is an in-memory jnienv.Api backed by Emulator, giving the hooking
// engine real addresses to patch against in tests: each class gets a vtable
// array in the stub region, each method gets a method-record slot holding its
// native function pointer, mirroring Dalvik's per-class Method vtable and
// ART's per-method ArtMethod record closely enough to exercise both
// strategies without a live process.
type FakeApi struct {
	emu    *Emulator
	flavor jnienv.Flavor
	table  *jnienv.OffsetTable

	mu          sync.Mutex
	symbols     map[string]uint64
	vtables     map[uint64]uint64 // class handle -> vtable base address
	slots       map[uint64]int    // class handle -> next free vtable slot
	methodAddrs map[jnienv.FieldOrMethodID]uint64

	callReturnPad uint64
}

// NewFakeApi creates a FakeApi for the given flavor, seeded with a minimal
// offset table sized for this package's synthetic record layout.
func NewFakeApi(emu *Emulator, flavor jnienv.Flavor) *FakeApi {
	table := &jnienv.OffsetTable{
		DalvikMethodSize:        56,
		DalvikNativeFuncOffset:  40,
		DalvikAccessFlagsOffset: 4,
		ArtMethodSize:           48,
		ArtEntryPointQuickOffset:  32,
		ArtEntryPointJniOffset:    40,
		ArtEntryPointInterpOffset: 24,
		ArtAccessFlagsOffset:      4,
		FastNativeFlagBit:         0x4000,
	}
	return &FakeApi{
		emu: emu, flavor: flavor, table: table,
		symbols:     make(map[string]uint64),
		vtables:     make(map[uint64]uint64),
		slots:       make(map[uint64]int),
		methodAddrs: make(map[jnienv.FieldOrMethodID]uint64),
	}
}

// DefineSymbol registers a native-library export address, for
// ResolveSymbol lookups (e.g. a synthetic generic-JNI trampoline entry).
func (a *FakeApi) DefineSymbol(name string, addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.symbols[name] = addr
}

// DefineNativeFunc allocates a stub address running impl whenever
// CallNative reaches it (X0..X7 readable via emu.X(n)) and registers it
// under name for ResolveSymbol, standing in for a real libdvm.so/libart.so
// export or internal function in tests (e.g. dvmHeapSourceGetBase,
// dvmIsValidObject, addLocalReference).
func (a *FakeApi) DefineNativeFunc(name string, impl func(emu *Emulator) uint64) uint64 {
	addr := a.emu.AllocStub(4)
	a.emu.WriteRet(addr)
	a.emu.HookAddress(addr, func(emu *Emulator) bool {
		result := impl(emu)
		emu.SetX(0, result)
		emu.SetPC(emu.LR())
		return false
	})
	a.DefineSymbol(name, addr)
	return addr
}

// RecordMethod allocates a method record for method in class's vtable (or,
// for ART, as a standalone ArtMethod-shaped record) and returns its address.
// originalFunc is written into the record's native-function field.
func (a *FakeApi) RecordMethod(class uint64, method jnienv.FieldOrMethodID, slot int, originalFunc uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	recSize := uint64(a.table.DalvikMethodSize)
	funcOff := uint64(a.table.DalvikNativeFuncOffset)
	if a.flavor == jnienv.FlavorArt {
		recSize = uint64(a.table.ArtMethodSize)
		funcOff = uint64(a.table.ArtEntryPointJniOffset)
	}

	if a.flavor == jnienv.FlavorDalvik {
		vtable, ok := a.vtables[class]
		if !ok {
			vtable = a.emu.AllocStub(recSize * 64)
			a.vtables[class] = vtable
		}
		addr := vtable + uint64(slot)*recSize
		a.emu.MemWriteU64(addr+funcOff, originalFunc)
		a.methodAddrs[method] = addr
		return addr
	}

	addr := a.emu.AllocStub(recSize)
	a.emu.MemWriteU64(addr+funcOff, originalFunc)
	a.methodAddrs[method] = addr
	return addr
}

// --- jnienv.Api ---

func (a *FakeApi) Flavor() jnienv.Flavor { return a.flavor }

func (a *FakeApi) ReadMemory(addr uint64, length int) ([]byte, error) {
	return a.emu.MemRead(addr, uint64(length))
}

func (a *FakeApi) WriteMemory(addr uint64, data []byte) error {
	return a.emu.MemWrite(addr, data)
}

func (a *FakeApi) ResolveSymbol(name string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.symbols[name]
	if !ok {
		return 0, fmt.Errorf("vm: unresolved symbol %q", name)
	}
	return addr, nil
}

func (a *FakeApi) MethodRecordAddress(_ uint64, method jnienv.FieldOrMethodID) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.methodAddrs[method]
	if !ok {
		if a.flavor != jnienv.FlavorArt {
			return 0, fmt.Errorf("vm: no method record for id %d", method)
		}
		// ART records are standalone, so a method RecordMethod never saw
		// gets a zeroed record on first request.
		addr = a.emu.AllocStub(uint64(a.table.ArtMethodSize))
		a.methodAddrs[method] = addr
	}
	return addr, nil
}

func (a *FakeApi) VtableSlot(class uint64, method jnienv.FieldOrMethodID) (int, error) {
	if a.flavor != jnienv.FlavorDalvik {
		return 0, fmt.Errorf("vm: vtable slots not applicable to flavor %s", a.flavor)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	vtable, ok := a.vtables[class]
	if !ok {
		return 0, fmt.Errorf("vm: no vtable for class 0x%x", class)
	}
	addr, ok := a.methodAddrs[method]
	if !ok {
		return 0, fmt.Errorf("vm: no method record for id %d", method)
	}
	return int((addr - vtable) / uint64(a.table.DalvikMethodSize)), nil
}

func (a *FakeApi) Offsets() *jnienv.OffsetTable { return a.table }

func (a *FakeApi) AllocExecutable(length int) (uint64, error) {
	return a.emu.AllocStub(uint64(length)), nil
}

// BindTrampoline writes a RET instruction at addr and hooks it: on arrival,
// X1..X(1+len(argTypes)) are read as the marshaled arguments (X0 carries the
// JNI env pointer by convention and is ignored here), handler runs, and its
// result is written to X0 before execution resumes at the caller (LR),
// mirroring the emulator's own vtable-stub hook pattern.
func (a *FakeApi) BindTrampoline(addr uint64, argTypes []jnienv.Primitive, retType jnienv.Primitive, handler jnienv.TrampolineHandler) error {
	if err := a.emu.WriteRet(addr); err != nil {
		return err
	}
	a.emu.HookAddress(addr, func(emu *Emulator) bool {
		thisOrClass := emu.X(1)
		args := make([]jnienv.Value, len(argTypes))
		for i, t := range argTypes {
			reg := 2 + i
			if reg > 7 {
				break
			}
			args[i] = jnienv.Value{Prim: t, I64: int64(emu.X(reg))}
		}
		result, err := handler(context.Background(), thisOrClass, args)
		if err == nil {
			if retType == jnienv.TypeObject {
				emu.SetX(0, result.Ref)
			} else {
				emu.SetX(0, uint64(result.I64))
			}
		}
		emu.SetPC(emu.LR())
		return false
	})
	return nil
}

// UnbindTrampoline removes a previously bound trampoline hook.
func (a *FakeApi) UnbindTrampoline(addr uint64) error {
	a.emu.RemoveAddressHook(addr)
	return nil
}

// ensureCallReturnPad lazily allocates the landing address CallNative uses
// as a synthetic return address: it holds a single RET and is the address
// at which Emulator.Run stops once the callee RETs back to it.
func (a *FakeApi) ensureCallReturnPad() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.callReturnPad == 0 {
		a.callReturnPad = a.emu.AllocStub(4)
		a.emu.WriteRet(a.callReturnPad)
	}
	return a.callReturnPad
}

// CallNative invokes the function at addr synchronously: X0..X(n-1) carry
// args, LR is set to a sentinel return pad, and the emulator runs from addr
// until it RETs back to that pad. X0 on return is the result.
func (a *FakeApi) CallNative(_ context.Context, addr uint64, args []uint64) (uint64, error) {
	pad := a.ensureCallReturnPad()
	for i, v := range args {
		if i > 7 {
			return 0, fmt.Errorf("vm: CallNative supports at most 8 register args, got %d", len(args))
		}
		if err := a.emu.SetX(i, v); err != nil {
			return 0, err
		}
	}
	savedLR := a.emu.LR()
	savedSP := a.emu.SP()
	if err := a.emu.SetLR(pad); err != nil {
		return 0, err
	}
	if err := a.emu.Run(addr, pad); err != nil {
		return 0, fmt.Errorf("vm: CallNative 0x%x: %w", addr, err)
	}
	result := a.emu.X(0)
	a.emu.SetLR(savedLR)
	a.emu.SetSP(savedSP)
	return result, nil
}
