// Package vm provides an ARM64 Unicorn-backed test double for jnienv.Env and
// jnienv.Api, standing in for a live Dalvik/ART process in this repository's
// own tests.
package vm

import (
	"encoding/binary"
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Memory layout. CodeBase/StackBase/HeapBase mirror a typical loaded-library
// address space; StubBase holds the synthesized JNI function table and any
// trampolines the hooking engine builds.
const (
	CodeBase  = 0x00010000
	CodeSize  = 0x01000000
	StackBase = 0x80000000
	StackSize = 0x00100000
	HeapBase  = 0x90000000
	HeapSize  = 0x10000000
	StubBase  = 0xF0000000
	StubSize  = 0x00400000
)

// AddressHookFunc runs when execution reaches a specific address. Returning
// true stops emulation.
type AddressHookFunc func(emu *Emulator) bool

// CodeHookFunc runs for every executed instruction.
type CodeHookFunc func(emu *Emulator, addr uint64, size uint32)

// Emulator wraps Unicorn ARM64 emulation: register/memory access, a bump
// heap allocator, and address-triggered hooks used to implement JNI stub
// functions and method trampolines.
type Emulator struct {
	mu uc.Unicorn

	heapPtr  uint64
	stubPtr  uint64

	codeHooks   []CodeHookFunc
	addrHooks   map[uint64]AddressHookFunc
	addrHooksMu sync.RWMutex

	stopped bool
}

// New creates an emulator with code/stack/heap/stub regions mapped and SP
// initialized.
func New() (*Emulator, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("vm: create unicorn: %w", err)
	}

	emu := &Emulator{
		mu:        mu,
		heapPtr:   HeapBase,
		stubPtr:   StubBase,
		addrHooks: make(map[uint64]AddressHookFunc),
	}

	if err := emu.mapMemory(); err != nil {
		mu.Close()
		return nil, err
	}
	if err := emu.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}
	return emu, nil
}

func (e *Emulator) mapMemory() error {
	regions := []struct {
		base, size uint64
		name       string
	}{
		{CodeBase, CodeSize, "code"},
		{StackBase, StackSize, "stack"},
		{HeapBase, HeapSize, "heap"},
		{StubBase, StubSize, "stubs"},
	}
	for _, r := range regions {
		if err := e.mu.MemMap(r.base, r.size); err != nil {
			return fmt.Errorf("vm: map %s (0x%x): %w", r.name, r.base, err)
		}
	}

	sp := uint64(StackBase + StackSize - 0x1000)
	if err := e.mu.RegWrite(uc.ARM64_REG_SP, sp); err != nil {
		return fmt.Errorf("vm: set SP: %w", err)
	}
	return nil
}

func (e *Emulator) setupHooks() error {
	_, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		if e.stopped {
			e.mu.Stop()
			return
		}

		e.addrHooksMu.RLock()
		hook, ok := e.addrHooks[addr]
		e.addrHooksMu.RUnlock()

		if ok && hook(e) {
			e.Stop()
			return
		}

		for _, h := range e.codeHooks {
			h(e, addr, size)
		}
	}, 1, 0)
	return err
}

// Close releases the underlying Unicorn context.
func (e *Emulator) Close() error {
	return e.mu.Close()
}

// LoadCode writes machine code at CodeBase.
func (e *Emulator) LoadCode(code []byte) error {
	return e.mu.MemWrite(CodeBase, code)
}

// MapRegion maps additional memory, for method bodies loaded outside the
// default code region.
func (e *Emulator) MapRegion(addr, size uint64) error {
	return e.mu.MemMap(addr, size)
}

func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) { return e.mu.MemRead(addr, size) }
func (e *Emulator) MemWrite(addr uint64, data []byte) error   { return e.mu.MemWrite(addr, data) }

func (e *Emulator) MemReadU64(addr uint64) (uint64, error) {
	data, err := e.mu.MemRead(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (e *Emulator) MemWriteU64(addr, val uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, val)
	return e.mu.MemWrite(addr, data)
}

func (e *Emulator) MemReadU32(addr uint64) (uint32, error) {
	data, err := e.mu.MemRead(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (e *Emulator) MemWriteU32(addr uint64, val uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, val)
	return e.mu.MemWrite(addr, data)
}

// MemReadString reads a null-terminated string, capped at maxLen bytes.
func (e *Emulator) MemReadString(addr uint64, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 4096
	}
	data, err := e.mu.MemRead(addr, uint64(maxLen))
	if err != nil {
		return "", err
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}

// MemWriteString writes s followed by a null terminator.
func (e *Emulator) MemWriteString(addr uint64, s string) error {
	data := append([]byte(s), 0)
	return e.mu.MemWrite(addr, data)
}

// X reads general-purpose register X0-X30.
func (e *Emulator) X(n int) uint64 {
	if n < 0 || n > 30 {
		return 0
	}
	val, _ := e.mu.RegRead(uc.ARM64_REG_X0 + n)
	return val
}

// SetX writes general-purpose register X0-X30.
func (e *Emulator) SetX(n int, val uint64) error {
	if n < 0 || n > 30 {
		return fmt.Errorf("vm: invalid register X%d", n)
	}
	return e.mu.RegWrite(uc.ARM64_REG_X0+n, val)
}

func (e *Emulator) PC() uint64             { pc, _ := e.mu.RegRead(uc.ARM64_REG_PC); return pc }
func (e *Emulator) SetPC(val uint64) error { return e.mu.RegWrite(uc.ARM64_REG_PC, val) }
func (e *Emulator) SP() uint64             { sp, _ := e.mu.RegRead(uc.ARM64_REG_SP); return sp }
func (e *Emulator) SetSP(val uint64) error { return e.mu.RegWrite(uc.ARM64_REG_SP, val) }
func (e *Emulator) LR() uint64             { lr, _ := e.mu.RegRead(uc.ARM64_REG_LR); return lr }
func (e *Emulator) SetLR(val uint64) error { return e.mu.RegWrite(uc.ARM64_REG_LR, val) }

// Malloc allocates size bytes from the heap with a 16-byte-aligned bump
// allocator. Panics if the heap region is exhausted.
func (e *Emulator) Malloc(size uint64) uint64 {
	size = (size + 15) &^ 15
	addr := e.heapPtr
	e.heapPtr += size
	if e.heapPtr >= HeapBase+HeapSize {
		panic("vm: heap exhausted")
	}
	return addr
}

// AllocStub reserves length bytes in the stub region for a trampoline or
// JNI function-table entry, returning its address.
func (e *Emulator) AllocStub(length uint64) uint64 {
	length = (length + 15) &^ 15
	addr := e.stubPtr
	e.stubPtr += length
	if e.stubPtr >= StubBase+StubSize {
		panic("vm: stub region exhausted")
	}
	return addr
}

// HookCode adds a hook called for every executed instruction.
func (e *Emulator) HookCode(fn CodeHookFunc) {
	e.codeHooks = append(e.codeHooks, fn)
}

// HookAddress installs a hook triggered when execution reaches addr.
func (e *Emulator) HookAddress(addr uint64, fn AddressHookFunc) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	e.addrHooks[addr] = fn
}

// RemoveAddressHook removes a previously installed address hook.
func (e *Emulator) RemoveAddressHook(addr uint64) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	delete(e.addrHooks, addr)
}

// Run emulates from start until end (exclusive) or Stop is called.
func (e *Emulator) Run(start, end uint64) error {
	e.stopped = false
	return e.mu.Start(start, end)
}

// RunFrom emulates from start until Stop is called.
func (e *Emulator) RunFrom(start uint64) error {
	e.stopped = false
	return e.mu.Start(start, 0)
}

// Stop halts emulation at the next instruction boundary.
func (e *Emulator) Stop() {
	e.stopped = true
	e.mu.Stop()
}

// WriteRet writes an ARM64 RET instruction at addr.
func (e *Emulator) WriteRet(addr uint64) error {
	return e.mu.MemWrite(addr, retInsn)
}

var retInsn = []byte{0xc0, 0x03, 0x5f, 0xd6} // ret

// Register constants re-exported for callers outside this package.
const (
	RegX0  = uc.ARM64_REG_X0
	RegX1  = uc.ARM64_REG_X1
	RegX8  = uc.ARM64_REG_X8
	RegX29 = uc.ARM64_REG_X29
	RegX30 = uc.ARM64_REG_X30
	RegSP  = uc.ARM64_REG_SP
	RegPC  = uc.ARM64_REG_PC
	RegLR  = uc.ARM64_REG_LR
)
