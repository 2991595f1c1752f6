package vm

import "testing"

func TestEmulatorBasic(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	// x0 = 1; x1 = 2; x0 = x0 + x1; ret
	code := []byte{
		0x20, 0x00, 0x80, 0xd2, // mov x0, #1
		0x41, 0x00, 0x80, 0xd2, // mov x1, #2
		0x00, 0x00, 0x01, 0x8b, // add x0, x0, x1
		0xc0, 0x03, 0x5f, 0xd6, // ret
	}
	if err := emu.LoadCode(code); err != nil {
		t.Fatalf("LoadCode: %v", err)
	}

	sentinel := uint64(StubBase)
	if err := emu.SetLR(sentinel); err != nil {
		t.Fatalf("SetLR: %v", err)
	}
	emu.HookAddress(sentinel, func(*Emulator) bool { return true })

	if err := emu.RunFrom(CodeBase); err != nil {
		t.Fatalf("RunFrom: %v", err)
	}

	if got := emu.X(0); got != 3 {
		t.Errorf("X(0) = %d, want 3", got)
	}
	if got := emu.X(1); got != 2 {
		t.Errorf("X(1) = %d, want 2", got)
	}
}

func TestMemoryOperations(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	addr := emu.Malloc(8)
	if err := emu.MemWriteU64(addr, 0xDEADBEEFCAFEBABE); err != nil {
		t.Fatalf("MemWriteU64: %v", err)
	}
	got, err := emu.MemReadU64(addr)
	if err != nil {
		t.Fatalf("MemReadU64: %v", err)
	}
	if got != 0xDEADBEEFCAFEBABE {
		t.Errorf("MemReadU64 = 0x%x, want 0xDEADBEEFCAFEBABE", got)
	}
}

func TestMallocBumpAllocator(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	a := emu.Malloc(3)
	b := emu.Malloc(3)
	if b-a != 16 {
		t.Errorf("second allocation offset = %d, want 16 (aligned up from 3)", b-a)
	}
}

func TestStringRoundTrip(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	addr := emu.Malloc(64)
	if err := emu.MemWriteString(addr, "java.lang.String"); err != nil {
		t.Fatalf("MemWriteString: %v", err)
	}
	got, err := emu.MemReadString(addr, 64)
	if err != nil {
		t.Fatalf("MemReadString: %v", err)
	}
	if got != "java.lang.String" {
		t.Errorf("MemReadString = %q, want %q", got, "java.lang.String")
	}
}
