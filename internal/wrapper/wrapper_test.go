package wrapper

import (
	"context"
	"testing"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/vm"
)

func newTestFactory(t *testing.T) (*Factory, *vm.Emulator, *vm.FakeEnv) {
	t.Helper()
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	env := vm.NewFakeEnv(emu)
	api := vm.NewFakeApi(emu, jnienv.FlavorArt)
	f := New(env, api, jnitype.Default())
	return f, emu, env
}

func TestCacheIdentity(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	env.DefineClass("com.example.Widget")

	ctx := context.Background()
	a, err := f.Use(ctx, "com.example.Widget")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	b, err := f.Use(ctx, "com.example.Widget")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if a != b {
		t.Errorf("Use(\"com.example.Widget\") returned different wrappers: %p != %p", a, b)
	}
}

func TestUseUnknownClassFails(t *testing.T) {
	f, emu, _ := newTestFactory(t)
	defer emu.Close()

	_, err := f.Use(context.Background(), "com.example.DoesNotExist")
	if kind, ok := errs.KindOf(err); !ok || kind != errs.ClassNotFound {
		t.Fatalf("Use(unknown): got %v, want ClassNotFound", err)
	}
}

func TestCastInvariance(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	cls := env.DefineClass("com.example.Widget")
	obj := cls.NewInstance()

	ctx := context.Background()
	w, err := f.Use(ctx, "com.example.Widget")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	inst, err := f.CastTo(ctx, obj, w)
	if err != nil {
		t.Fatalf("CastTo: %v", err)
	}
	if inst.Handle() != obj {
		t.Errorf("cast(i.$handle, C).$handle = 0x%x, want 0x%x", inst.Handle(), obj)
	}
}

func TestCastBadClassFails(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	a := env.DefineClass("com.example.A")
	env.DefineClass("com.example.B")
	objA := a.NewInstance()

	ctx := context.Background()
	wb, err := f.Use(ctx, "com.example.B")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	_, err = f.CastTo(ctx, objA, wb)
	if kind, ok := errs.KindOf(err); !ok || kind != errs.BadCast {
		t.Fatalf("cast A-instance to B: got %v, want BadCast", err)
	}
}

func TestFieldGetSet(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	cls := env.DefineClass("com.example.K")
	cls.Field("f", false, "int", jnienv.TypeInt, jnienv.Value{Prim: jnienv.TypeInt, I64: 0})
	obj := cls.NewInstance()

	ctx := context.Background()
	w, err := f.Use(ctx, "com.example.K")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	inst, err := f.CastTo(ctx, obj, w)
	if err != nil {
		t.Fatalf("CastTo: %v", err)
	}

	if err := inst.Set(ctx, env, f, "f", int64(7)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := inst.Get(ctx, env, f, "f")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != int64(7) {
		t.Errorf("k.f = %v, want 7", got)
	}

	if err := inst.Set(ctx, env, f, "f", "x"); err == nil {
		t.Error("k.f = \"x\": expected IncompatibleArgument")
	}
}

func TestSuperclassMemberFallthrough(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	base := env.DefineClass("com.example.Base")
	base.Method("greet", false, false, "int", nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 1}, nil
	})
	derived := env.DefineClass("com.example.Derived").Extends(base)
	obj := derived.NewInstance()

	ctx := context.Background()
	w, err := f.Use(ctx, "com.example.Derived")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	inst, err := f.CastTo(ctx, obj, w)
	if err != nil {
		t.Fatalf("CastTo: %v", err)
	}
	got, err := inst.Call(ctx, env, f, "greet")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != int64(1) {
		t.Errorf("derived.greet() = %v, want 1 (inherited)", got)
	}
}

func TestInstanceReleaseIsIdempotent(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	cls := env.DefineClass("com.example.Widget")
	obj := cls.NewInstance()

	ctx := context.Background()
	w, err := f.Use(ctx, "com.example.Widget")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	inst, err := f.CastTo(ctx, obj, w)
	if err != nil {
		t.Fatalf("CastTo: %v", err)
	}

	if err := inst.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := inst.Release(ctx); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestDisposeClearsCache(t *testing.T) {
	f, emu, env := newTestFactory(t)
	defer emu.Close()

	env.DefineClass("com.example.Widget")
	ctx := context.Background()
	if _, err := f.Use(ctx, "com.example.Widget"); err != nil {
		t.Fatalf("Use: %v", err)
	}

	if err := f.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	f.mu.Lock()
	n := len(f.cache)
	f.mu.Unlock()
	if n != 0 {
		t.Errorf("cache has %d entries after Dispose, want 0", n)
	}
}
