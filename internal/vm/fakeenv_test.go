package vm

import (
	"context"
	"testing"

	"github.com/javabridge/javabridge/internal/jnienv"
)

func TestFakeEnvFindClassAndMembers(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	env := NewFakeEnv(emu)
	object := env.DefineClass("java.lang.Object")
	str := env.DefineClass("java.lang.String").Extends(object)
	str.Method("length", false, false, "int", nil, func(_ context.Context, obj uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 5}, nil
	})

	ctx := context.Background()
	class, err := env.FindClass(ctx, "java/lang/String")
	if err != nil {
		t.Fatalf("FindClass: %v", err)
	}
	if class != str.Handle() {
		t.Fatalf("FindClass returned %d, want %d", class, str.Handle())
	}

	if _, err := env.FindClass(ctx, "java/lang/DoesNotExist"); err == nil {
		t.Fatal("FindClass for unknown class: expected error")
	}

	mid, err := env.GetMethodID(ctx, class, "length", "()I")
	if err != nil {
		t.Fatalf("GetMethodID: %v", err)
	}

	obj, err := env.AllocObject(ctx, class)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}

	got, err := env.CallVirtualMethod(ctx, obj, mid, jnienv.TypeInt, 0, nil)
	if err != nil {
		t.Fatalf("CallVirtualMethod: %v", err)
	}
	if got.I64 != 5 {
		t.Errorf("length() = %d, want 5", got.I64)
	}

	isInstance, err := env.IsInstanceOf(ctx, obj, object.Handle())
	if err != nil {
		t.Fatalf("IsInstanceOf: %v", err)
	}
	if !isInstance {
		t.Error("expected String instance to be instanceof Object")
	}
}

func TestFakeEnvFieldsAndStrings(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	env := NewFakeEnv(emu)
	counter := env.DefineClass("com.example.Counter").
		Field("count", false, "int", jnienv.TypeInt, jnienv.Value{Prim: jnienv.TypeInt, I64: 0})

	ctx := context.Background()
	obj := counter.NewInstance()
	fid, err := env.GetFieldID(ctx, counter.Handle(), "count", "I")
	if err != nil {
		t.Fatalf("GetFieldID: %v", err)
	}

	if err := env.SetField(ctx, obj, fid, jnienv.Value{Prim: jnienv.TypeInt, I64: 42}); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	got, err := env.GetField(ctx, obj, fid, jnienv.TypeInt)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if got.I64 != 42 {
		t.Errorf("field count = %d, want 42", got.I64)
	}

	jstr, err := env.NewStringUTF(ctx, "hello")
	if err != nil {
		t.Fatalf("NewStringUTF: %v", err)
	}
	back, err := env.GetStringUTF(ctx, jstr)
	if err != nil {
		t.Fatalf("GetStringUTF: %v", err)
	}
	if back != "hello" {
		t.Errorf("GetStringUTF = %q, want %q", back, "hello")
	}
}

func TestFakeApiVtableOverlay(t *testing.T) {
	emu, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer emu.Close()

	env := NewFakeEnv(emu)
	cls := env.DefineClass("com.example.Target")
	cls.Method("greet", false, false, "java.lang.String", nil, nil)

	ctx := context.Background()
	mid, err := env.GetMethodID(ctx, cls.Handle(), "greet", "()Ljava/lang/String;")
	if err != nil {
		t.Fatalf("GetMethodID: %v", err)
	}

	api := NewFakeApi(emu, jnienv.FlavorDalvik)
	original := emu.AllocStub(4)
	addr := api.RecordMethod(cls.Handle(), mid, 0, original)
	if addr == 0 {
		t.Fatal("RecordMethod returned 0")
	}

	slot, err := api.VtableSlot(cls.Handle(), mid)
	if err != nil {
		t.Fatalf("VtableSlot: %v", err)
	}
	if slot != 0 {
		t.Errorf("VtableSlot = %d, want 0", slot)
	}

	recAddr, err := api.MethodRecordAddress(cls.Handle(), mid)
	if err != nil {
		t.Fatalf("MethodRecordAddress: %v", err)
	}
	funcOff := uint64(api.Offsets().DalvikNativeFuncOffset)
	got, err := emu.MemReadU64(recAddr + funcOff)
	if err != nil {
		t.Fatalf("MemReadU64: %v", err)
	}
	if got != original {
		t.Errorf("native func ptr = 0x%x, want 0x%x", got, original)
	}
}
