package members

import (
	"context"
	"testing"

	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/vm"
)

type testHolder struct {
	name   string
	handle uint64
}

func (h testHolder) ClassName() string  { return h.name }
func (h testHolder) ClassHandle() uint64 { return h.handle }

type passthroughResolver struct{}

func (passthroughResolver) Cast(_ context.Context, _ jnienv.Env, handle uint64, _ string) (jnitype.Instance, error) {
	return nil, nil
}
func (passthroughResolver) ResolveClass(_ context.Context, _ jnienv.Env, _ string) (uint64, error) {
	return 0, nil
}

func TestOverloadSelection(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	cls := env.DefineClass("com.example.Overloaded")
	cls.Method("m", false, false, "int", []string{"int"}, func(_ context.Context, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 1}, nil
	})
	cls.Method("m", false, false, "int", []string{"java.lang.String"}, func(_ context.Context, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 2}, nil
	})

	holder := testHolder{name: cls.Name(), handle: cls.Handle()}
	table, err := Build(context.Background(), env, passthroughResolver{}, holder, cls.Handle(), jnitype.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	prop, ok := table.Properties["m"]
	if !ok {
		t.Fatal("no property m")
	}

	obj := cls.NewInstance()
	res := passthroughResolver{}

	got, err := prop.Group.Call(context.Background(), env, res, obj, []any{int64(42)})
	if err != nil {
		t.Fatalf("Call(int): %v", err)
	}
	if got != int64(1) {
		t.Errorf("m(42) = %v, want 1 (int overload)", got)
	}

	got, err = prop.Group.Call(context.Background(), env, res, obj, []any{"x"})
	if err != nil {
		t.Fatalf("Call(string): %v", err)
	}
	if got != int64(2) {
		t.Errorf("m(\"x\") = %v, want 2 (String overload)", got)
	}

	_, err = prop.Group.Call(context.Background(), env, res, obj, []any{3.14})
	if err == nil {
		t.Error("m(42.0): expected NoSuchOverload error")
	}
}

func TestSyntheticValueOfInjected(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	cls := env.DefineClass("com.example.Boxed")
	cls.Method("valueOf", false, false, "int", []string{"java.lang.String"},
		func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
			return jnienv.Value{Prim: jnienv.TypeInt, I64: 0}, nil
		})

	holder := testHolder{name: cls.Name(), handle: cls.Handle()}
	table, err := Build(context.Background(), env, passthroughResolver{}, holder, cls.Handle(), jnitype.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	prop, ok := table.Properties["valueOf"]
	if !ok {
		t.Fatal("no property valueOf")
	}
	if len(prop.Group.Overloads) != 2 {
		t.Fatalf("valueOf overloads = %d, want 2 (declared + synthetic)", len(prop.Group.Overloads))
	}

	obj := cls.NewInstance()
	got, err := prop.Group.Call(context.Background(), env, passthroughResolver{}, obj, nil)
	if err != nil {
		t.Fatalf("Call(valueOf, no args): %v", err)
	}
	if got != obj {
		t.Errorf("synthetic valueOf() = %v, want receiver %v", got, obj)
	}
}

func TestSyntheticValueOfNotInjectedWithoutDeclaredMethod(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	cls := env.DefineClass("com.example.NoValueOf")

	holder := testHolder{name: cls.Name(), handle: cls.Handle()}
	table, err := Build(context.Background(), env, passthroughResolver{}, holder, cls.Handle(), jnitype.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := table.Properties["valueOf"]; ok {
		t.Error("valueOf property injected for a class that never declared one")
	}
}

func TestVarargsPromotion(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	cls := env.DefineClass("com.example.VarArgs")
	cls.Method("m", false, true, "void", []string{"int", "java.lang.String"},
		func(_ context.Context, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
			return jnienv.Value{Prim: jnienv.TypeVoid}, nil
		})

	holder := testHolder{name: cls.Name(), handle: cls.Handle()}
	table, err := Build(context.Background(), env, passthroughResolver{}, holder, cls.Handle(), jnitype.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	prop := table.Properties["m"]
	if prop == nil || prop.Group == nil {
		t.Fatal("no method m resolved")
	}
	m := prop.Group.Overloads[0]
	if !m.VarArgs {
		t.Fatal("expected VarArgs = true")
	}
	if m.ArgTypes[1] != "[Ljava.lang.String;" {
		t.Errorf("promoted varargs type = %q, want [Ljava.lang.String;", m.ArgTypes[1])
	}
}
