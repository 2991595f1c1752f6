package wrapper

import (
	"context"
	"testing"

	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/vm"
)

// defineDexFileWorld registers just enough of java.io.File,
// android.app.ActivityThread, dalvik.system.DexClassLoader, and
// dalvik.system.DexFile for DexFile.Load/GetClassNames to drive through
// real reflection-shaped calls, without special-casing dex parsing.
func defineDexFileWorld(env *vm.FakeEnv, entries []string) {
	fileCls := env.DefineClass("java.io.File")
	fileCls.Constructor(false, []string{"java.lang.String"}, func(_ context.Context, obj uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{}, nil
	})
	fileCls.Method("exists", false, false, "boolean", nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeBoolean, I64: 1}, nil
	})

	loaderCls := env.DefineClass("java.lang.ClassLoader")

	appCls := env.DefineClass("android.app.Application")
	appCls.Method("getClassLoader", false, false, "java.lang.ClassLoader", nil,
		func(ctx context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
			loader := loaderCls.NewInstance()
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: loader}, nil
		})

	appInstance := appCls.NewInstance()
	threadCls := env.DefineClass("android.app.ActivityThread")
	threadCls.Method("currentApplication", true, false, "android.app.Application", nil,
		func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: appInstance}, nil
		})

	dexLoaderCls := env.DefineClass("dalvik.system.DexClassLoader").Extends(loaderCls)
	dexLoaderCls.Constructor(false, []string{"java.lang.String", "java.lang.String", "java.lang.String", "java.lang.ClassLoader"},
		func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) { return jnienv.Value{}, nil })
	dexLoaderCls.Method("loadClass", false, false, "java.lang.Class", []string{"java.lang.String"},
		func(ctx context.Context, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
			name, _ := env.GetStringUTF(ctx, args[0].Ref)
			class, err := env.FindClass(ctx, name)
			if err != nil {
				return jnienv.Value{}, err
			}
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: class}, nil
		})

	env.DefineClass("java.lang.Class")

	enumCls := env.DefineClass("java.util.Enumeration")
	idx := 0
	enumCls.Method("hasMoreElements", false, false, "boolean", nil,
		func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
			v := int64(0)
			if idx < len(entries) {
				v = 1
			}
			return jnienv.Value{Prim: jnienv.TypeBoolean, I64: v}, nil
		})
	enumCls.Method("nextElement", false, false, "java.lang.String", nil,
		func(ctx context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
			s, err := env.NewStringUTF(ctx, entries[idx])
			idx++
			if err != nil {
				return jnienv.Value{}, err
			}
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: s}, nil
		})
	enumInstance := enumCls.NewInstance()

	dexFileCls := env.DefineClass("dalvik.system.DexFile")
	dexFileCls.Constructor(false, []string{"java.lang.String"}, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{}, nil
	})
	dexFileCls.Method("entries", false, false, "java.util.Enumeration", nil,
		func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
			return jnienv.Value{Prim: jnienv.TypeObject, Ref: enumInstance}, nil
		})
}

func TestDexFileLoadAndGetClassNames(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	env.DefineClass("com.example.Target")
	defineDexFileWorld(env, []string{"com.example.Target"})

	api := vm.NewFakeApi(emu, jnienv.FlavorArt)
	f := New(env, api, jnitype.Default())
	ctx := context.Background()

	dex := f.OpenClassFile("/data/app/sample.apk")
	names, err := dex.GetClassNames(ctx)
	if err != nil {
		t.Fatalf("GetClassNames: %v", err)
	}
	if len(names) != 1 || names[0] != "com.example.Target" {
		t.Errorf("GetClassNames = %v, want [com.example.Target]", names)
	}

	if err := dex.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, err := f.Use(ctx, "com.example.Target")
	if err != nil {
		t.Fatalf("Use after Load: %v", err)
	}
	if w.ClassName() != "com.example.Target" {
		t.Errorf("wrapper name = %s, want com.example.Target", w.ClassName())
	}
}
