package jnienv

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/javabridge/javabridge/internal/errs"
)

// TrampolineHandler is invoked when a call reaches a synthesized native
// trampoline (spec 4.E "Build a native trampoline implementation from fn").
// thisOrClass is the receiver for an instance trampoline or the declaring
// class for a static one.
type TrampolineHandler func(ctx context.Context, thisOrClass uint64, args []Value) (Value, error)

// Flavor identifies which managed runtime Api is backed by.
type Flavor int

const (
	FlavorDalvik Flavor = iota
	FlavorArt
)

// String renders the flavor name.
func (f Flavor) String() string {
	switch f {
	case FlavorDalvik:
		return "dalvik"
	case FlavorArt:
		return "art"
	default:
		return "unknown"
	}
}

// Api groups the runtime-introspection operations the Hooking Engine and
// Heap Enumerator need beyond the plain JNI function table: raw memory
// access, symbol resolution against the runtime's own native library, and
// the struct-offset table for the flavor/API-level/ABI combination in play
// (spec §4.E, §4.F, §6).
type Api interface {
	Flavor() Flavor

	// ReadMemory/WriteMemory access the target process's address space.
	// Used to overlay Dalvik vtables and patch ART ArtMethod records.
	ReadMemory(addr uint64, length int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error

	// ResolveSymbol finds the address of an exported native symbol, e.g.
	// "artInterpreterToCompiledCodeBridge" or
	// "dvmPlatformInvoke", used to build trampolines.
	ResolveSymbol(name string) (uint64, error)

	// MethodRecordAddress returns the address of the flavor-specific method
	// record for a resolved jmethodID (Dalvik Method struct entry in the
	// class's vtable array, or the ART ArtMethod record itself).
	MethodRecordAddress(class uint64, method FieldOrMethodID) (uint64, error)

	// VtableSlot returns the vtable slot index a virtual method occupies in
	// its declaring class, for the Dalvik vtable-overlay strategy. ART has
	// no equivalent; callers must check Flavor() first.
	VtableSlot(class uint64, method FieldOrMethodID) (int, error)

	// Offsets returns the struct-offset table selected for this Api's
	// flavor, Android API level, and ABI.
	Offsets() *OffsetTable

	// AllocExecutable reserves length bytes of RWX (or RX after Protect)
	// memory for a synthesized trampoline, returning its address.
	AllocExecutable(length int) (uint64, error)

	// BindTrampoline wires handler to run whenever the native code pointer
	// at addr is reached, translating the platform calling convention into
	// marshaled argTypes/retType values. addr is normally the address
	// returned by a prior AllocExecutable call.
	BindTrampoline(addr uint64, argTypes []Primitive, retType Primitive, handler TrampolineHandler) error

	// UnbindTrampoline removes a previously bound handler.
	UnbindTrampoline(addr uint64) error

	// CallNative synchronously invokes the native function at addr with args
	// loaded into the platform's integer argument registers, returning its
	// single integer/pointer result register. Used by the Heap Enumerator to
	// call dvmHeapSourceGetBase/Limit, dvmIsValidObject, dvmDecodeIndirectRef,
	// and addLocalReference directly, the way the in-process agent itself
	// would (spec 4.F).
	CallNative(ctx context.Context, addr uint64, args []uint64) (uint64, error)
}

// OffsetTable is the set of struct-field byte offsets needed to locate and
// patch a method record for one (flavor, api level, abi) combination.
//
// ArtMethod fields are meaningless when Flavor is Dalvik, and vice versa for
// the Dalvik-only fields; zero-valued fields for the inapplicable flavor are
// expected and ignored.
type OffsetTable struct {
	// Dalvik Method struct (56 bytes total in the reference layout).
	DalvikMethodSize       int `yaml:"dalvik_method_size"`
	DalvikInsnsOffset      int `yaml:"dalvik_insns_offset"`
	DalvikNativeFuncOffset int `yaml:"dalvik_native_func_offset"`
	DalvikAccessFlagsOffset int `yaml:"dalvik_access_flags_offset"`

	// ART ArtMethod record.
	ArtMethodSize              int `yaml:"art_method_size"`
	ArtEntryPointQuickOffset   int `yaml:"art_entry_point_quick_offset"`
	ArtEntryPointJniOffset     int `yaml:"art_entry_point_jni_offset"`
	ArtEntryPointInterpOffset  int `yaml:"art_entry_point_interpreter_offset"`
	ArtAccessFlagsOffset       int `yaml:"art_access_flags_offset"`
	ArtDeclaringClassOffset    int `yaml:"art_declaring_class_offset"`

	// ART runtime/class-linker globals needed to locate per-method records
	// and the generic-JNI trampoline without a live jmethodID in hand (e.g.
	// heap scanning, or resolving a method before it is ever called).
	RuntimeInstanceSymbol     string `yaml:"runtime_instance_symbol"`
	ClassLinkerOffsetInRuntime int   `yaml:"class_linker_offset_in_runtime"`
	GenericJniTrampolineSymbol string `yaml:"generic_jni_trampoline_symbol"`

	// FastNativeFlagBit, when nonzero, is the ArtMethod access-flags bit
	// marking a method @FastNative. Fast-native methods skip the normal
	// JNI prologue/epilogue; the Hooking Engine's ART strategy ORs this bit
	// into a hooked method's access flags together with kAccNative.
	FastNativeFlagBit uint32 `yaml:"fast_native_flag_bit"`
}

// OffsetSpec is a parsed offset-table document, keyed by Android API level
// and ABI (spec §4.G, supplementing the original spec's unstated assumption
// that the embedder supplies these offsets out of band).
type OffsetSpec struct {
	Flavor Flavor
	Levels map[int]map[string]*OffsetTable // apiLevel -> abi -> table
}

// Lookup returns the offset table for an (apiLevel, abi) pair.
func (s *OffsetSpec) Lookup(apiLevel int, abi string) (*OffsetTable, error) {
	byABI, ok := s.Levels[apiLevel]
	if !ok {
		return nil, errs.New(errs.VmSpecMissing, "jnienv: no offset spec for API level %d", apiLevel)
	}
	table, ok := byABI[abi]
	if !ok {
		return nil, errs.New(errs.VmSpecMissing, "jnienv: no offset spec for API level %d abi %q", apiLevel, abi)
	}
	return table, nil
}

type offsetSpecDoc struct {
	Flavor    string                          `yaml:"flavor"`
	APILevels map[string]map[string]*OffsetTable `yaml:"api_levels"`
}

// LoadOffsetSpec parses a YAML offset-table document of the form:
//
//	flavor: art
//	api_levels:
//	  "30":
//	    arm64-v8a:
//	      art_method_size: 60
//	      art_entry_point_quick_offset: 48
//	      ...
func LoadOffsetSpec(r io.Reader) (*OffsetSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("jnienv: read offset spec: %w", err)
	}

	var doc offsetSpecDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jnienv: parse offset spec: %w", err)
	}

	var flavor Flavor
	switch doc.Flavor {
	case "dalvik":
		flavor = FlavorDalvik
	case "art", "":
		flavor = FlavorArt
	default:
		return nil, fmt.Errorf("jnienv: unknown flavor %q", doc.Flavor)
	}

	spec := &OffsetSpec{Flavor: flavor, Levels: make(map[int]map[string]*OffsetTable)}
	for levelStr, byABI := range doc.APILevels {
		var level int
		if _, err := fmt.Sscanf(levelStr, "%d", &level); err != nil {
			return nil, fmt.Errorf("jnienv: invalid api level key %q: %w", levelStr, err)
		}
		spec.Levels[level] = byABI
	}
	return spec, nil
}
