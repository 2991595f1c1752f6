package hooks

import (
	"context"
	"testing"

	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/vm"
)

func setup(t *testing.T) (*vm.Emulator, *vm.FakeEnv, *vm.FakeApi, uint64, jnienv.FieldOrMethodID) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	env := vm.NewFakeEnv(emu)
	cls := env.DefineClass("com.example.Target")
	cls.Method("greet", false, false, "int", nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 7}, nil
	})
	mid, err := env.GetMethodID(context.Background(), cls.Handle(), "greet", "()I")
	if err != nil {
		t.Fatalf("GetMethodID: %v", err)
	}

	api := vm.NewFakeApi(emu, jnienv.FlavorArt)
	original := emu.AllocStub(4)
	api.RecordMethod(cls.Handle(), mid, 0, original)

	return emu, env, api, cls.Handle(), mid
}

func TestInstallUninstallIdempotence(t *testing.T) {
	emu, env, api, class, mid := setup(t)
	defer emu.Close()

	engine := New(env, api)

	recordAddr, err := api.MethodRecordAddress(class, mid)
	if err != nil {
		t.Fatalf("MethodRecordAddress: %v", err)
	}
	before, err := api.ReadMemory(recordAddr, api.Offsets().ArtMethodSize)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}

	err = engine.Install(context.Background(), class, mid, false, nil, jnienv.TypeInt,
		func(ctx context.Context, this uint64, args []jnienv.Value) (jnienv.Value, error) {
			return jnienv.Value{Prim: jnienv.TypeInt, I64: 99}, nil
		})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !engine.IsInstalled(mid) {
		t.Fatal("expected hook installed")
	}

	if err := engine.Uninstall(mid); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if engine.IsInstalled(mid) {
		t.Fatal("expected hook removed")
	}

	after, err := api.ReadMemory(recordAddr, api.Offsets().ArtMethodSize)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("record byte %d = %v, want %v (not restored)", i, after[i], before[i])
		}
	}
}

func TestReentrancyTracking(t *testing.T) {
	emu, env, api, class, mid := setup(t)
	defer emu.Close()

	engine := New(env, api)
	env.SetCurrentThreadID(42)

	entered := make(chan struct{}, 1)
	err := engine.Install(context.Background(), class, mid, false, nil, jnienv.TypeInt,
		func(ctx context.Context, this uint64, args []jnienv.Value) (jnienv.Value, error) {
			if engine.IsReentrant(mid, 42) {
				entered <- struct{}{}
			}
			return jnienv.Value{Prim: jnienv.TypeInt, I64: 1}, nil
		})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if engine.IsReentrant(mid, 42) {
		t.Fatal("expected not reentrant before any call")
	}
}
