package members

import (
	"context"
	"strings"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/hooks"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
)

// FieldAccessor is a resolved field, exposing both a direct value accessor
// and the merged-property semantics described in spec 4.C ("If a member
// appears as both field and method of the same name...").
type FieldAccessor struct {
	Name     string
	Static   bool
	TypeName string
	ID       jnienv.FieldOrMethodID

	holder  Holder
	adapter *jnitype.Adapter
	prim    jnienv.Primitive
}

// Get reads the field, pushing/popping a local frame sized for the
// retained references fromJni may allocate (spec 4.C point 3).
func (f *FieldAccessor) Get(ctx context.Context, env jnienv.Env, res jnitype.Resolver, receiver uint64) (any, error) {
	frameSize := 2
	if f.adapter.Wire == jnienv.TypeObject {
		frameSize++
	}
	if err := env.PushLocalFrame(ctx, frameSize); err != nil {
		return nil, errs.Wrap(errs.OutOfMemory, err, "push local frame")
	}
	defer env.PopLocalFrame(ctx, 0)

	var (
		v   jnienv.Value
		err error
	)
	if f.Static {
		v, err = env.GetStaticField(ctx, f.holder.ClassHandle(), f.ID, f.prim)
	} else {
		v, err = env.GetField(ctx, receiver, f.ID, f.prim)
	}
	if err != nil {
		return nil, err
	}
	if pending, chkErr := env.ExceptionCheck(ctx); chkErr == nil && pending {
		throwable, _ := env.ExceptionOccurred(ctx)
		_ = env.ExceptionClear(ctx)
		return nil, errs.JavaThrow(throwable, "exception reading field "+f.Name)
	}
	return f.adapter.FromJni(ctx, env, res, v, true)
}

// Set writes the field after checking the new value against the field
// TypeAdapter's isCompatible predicate.
func (f *FieldAccessor) Set(ctx context.Context, env jnienv.Env, res jnitype.Resolver, receiver uint64, value any) error {
	if !f.adapter.IsCompatible(value) {
		return errs.New(errs.IncompatibleArgument, "field %s rejects value of type %T", f.Name, value)
	}

	frameSize := 2
	if f.adapter.Wire == jnienv.TypeObject {
		frameSize++
	}
	if err := env.PushLocalFrame(ctx, frameSize); err != nil {
		return errs.Wrap(errs.OutOfMemory, err, "push local frame")
	}
	defer env.PopLocalFrame(ctx, 0)

	wv, err := f.adapter.ToJni(ctx, env, res, value)
	if err != nil {
		return err
	}
	if f.Static {
		err = env.SetStaticField(ctx, f.holder.ClassHandle(), f.ID, wv)
	} else {
		err = env.SetField(ctx, receiver, f.ID, wv)
	}
	if err != nil {
		return err
	}
	if pending, chkErr := env.ExceptionCheck(ctx); chkErr == nil && pending {
		throwable, _ := env.ExceptionOccurred(ctx)
		_ = env.ExceptionClear(ctx)
		return errs.JavaThrow(throwable, "exception writing field "+f.Name)
	}
	return nil
}

// Property is a named member: a field, a method overload group, or both
// merged together when a class declares a field and a method of the same
// name (spec 4.C, last paragraph).
type Property struct {
	Name  string
	Field *FieldAccessor // nil if no field of this name
	Group *OverloadGroup // nil if no method of this name
}

// Table holds every resolved member of one class, keyed by simple name, plus
// the two parallel constructor lists (spec 4.C point 4: one for $new, one
// for $init).
type Table struct {
	Properties map[string]*Property
	NewCtors   *OverloadGroup // produces a new instance
	InitCtors  *OverloadGroup // runs <init> on an existing instance
}

// Build materializes class's member table via reflection (spec 4.C). res is
// stored on every built Method so a later .implementation hook body can
// marshal reference-typed args/returns without a live call-site Env/Resolver
// (spec 4.D, ".implementation").
func Build(ctx context.Context, env jnienv.Env, res jnitype.Resolver, holder Holder, class uint64, reg *jnitype.Registry, engine *hooks.Engine) (*Table, error) {
	refl := env.Class()

	methods, err := refl.GetDeclaredMethods(ctx, class)
	if err != nil {
		return nil, err
	}
	fields, err := refl.GetDeclaredFields(ctx, class)
	if err != nil {
		return nil, err
	}
	ctors, err := refl.GetDeclaredConstructors(ctx, class)
	if err != nil {
		return nil, err
	}

	t := &Table{Properties: make(map[string]*Property)}

	groups := make(map[string]*OverloadGroup)
	for _, rm := range methods {
		m, err := buildMethod(rm, holder, reg, engine, env, res, env.Modifier())
		if err != nil {
			return nil, err
		}
		g, ok := groups[rm.Name]
		if !ok {
			g = &OverloadGroup{Name: rm.Name, holder: holder}
			groups[rm.Name] = g
		}
		g.Overloads = append(g.Overloads, m)
	}

	injectSyntheticValueOf(groups, holder)

	for name, g := range groups {
		t.Properties[name] = &Property{Name: name, Group: g}
	}

	for _, rf := range fields {
		fa, err := buildField(rf, holder, reg, env.Modifier())
		if err != nil {
			return nil, err
		}
		p, ok := t.Properties[rf.Name]
		if !ok {
			p = &Property{Name: rf.Name}
			t.Properties[rf.Name] = p
		}
		p.Field = fa
	}

	t.NewCtors = &OverloadGroup{Name: "<new>", holder: holder}
	t.InitCtors = &OverloadGroup{Name: "<init>", holder: holder}
	for _, rc := range ctors {
		m, err := buildMethod(rc, holder, reg, nil, env, res, env.Modifier())
		if err != nil {
			return nil, err
		}
		m.IsCtor = true
		mInit := *m // $init runs <init> on an existing instance rather than allocating
		mInit.RunOnExisting = true
		t.NewCtors.Overloads = append(t.NewCtors.Overloads, m)
		t.InitCtors.Overloads = append(t.InitCtors.Overloads, &mInit)
	}

	return t, nil
}

// injectSyntheticValueOf gives a class a zero-argument instance valueOf()
// overload returning the receiver itself, typed "int", when reflection found
// a valueOf group but none of its overloads already covers that shape (spec
// 3, "OverloadGroup").
func injectSyntheticValueOf(groups map[string]*OverloadGroup, holder Holder) {
	g, ok := groups["valueOf"]
	if !ok {
		return
	}
	for _, m := range g.Overloads {
		if !m.Static && len(m.ArgTypes) == 0 {
			return
		}
	}
	g.Overloads = append(g.Overloads, &Method{
		Name: "valueOf", ReturnType: "int", holder: holder, syntheticValueOf: true,
	})
}

func buildMethod(rm jnienv.ReflectedMethod, holder Holder, reg *jnitype.Registry, engine *hooks.Engine, env jnienv.Env, res jnitype.Resolver, modr jnienv.ModifierReflection) (*Method, error) {
	argTypes := append([]string(nil), rm.ArgTypes...)
	adapters := make([]*jnitype.Adapter, len(argTypes))

	for i, tn := range argTypes {
		name := tn
		if rm.IsVarArgs && i == len(argTypes)-1 {
			name = arrayTypeName(tn)
			argTypes[i] = name
		}
		a, err := reg.Lookup(jniStyleName(name))
		if err != nil {
			return nil, err
		}
		adapters[i] = a
	}

	var retAd *jnitype.Adapter
	if rm.ReturnType != "void" {
		a, err := reg.Lookup(jniStyleName(rm.ReturnType))
		if err != nil {
			return nil, err
		}
		retAd = a
	}

	return &Method{
		Name: rm.Name, Static: modr.IsStatic(rm.Modifiers), VarArgs: rm.IsVarArgs,
		ReturnType: rm.ReturnType, ArgTypes: argTypes, ID: rm.ID,
		holder: holder, adapter: adapters, retAd: retAd, hookEngine: engine,
		env: env, res: res,
	}, nil
}

func buildField(rf jnienv.ReflectedField, holder Holder, reg *jnitype.Registry, modr jnienv.ModifierReflection) (*FieldAccessor, error) {
	a, err := reg.Lookup(jniStyleName(rf.Type))
	if err != nil {
		return nil, err
	}
	return &FieldAccessor{
		Name: rf.Name, Static: modr.IsStatic(rf.Modifiers), TypeName: rf.Type, ID: rf.ID,
		holder: holder, adapter: a, prim: a.Wire,
	}, nil
}

// arrayTypeName turns "java.lang.String" into "[Ljava.lang.String;" and
// "int" into "[I", for varargs promotion (spec 4.A, 4.C point 2).
func arrayTypeName(elemTypeName string) string {
	switch elemTypeName {
	case "boolean":
		return "[Z"
	case "byte":
		return "[B"
	case "char":
		return "[C"
	case "short":
		return "[S"
	case "int":
		return "[I"
	case "long":
		return "[J"
	case "float":
		return "[F"
	case "double":
		return "[D"
	default:
		return "[L" + elemTypeName + ";"
	}
}

// jniStyleName normalizes a getTypeName()-form type string to the name the
// jnitype registry expects; array forms (e.g. "int[]") already use "[I"
// form by the time buildMethod calls this for varargs, but plain
// reflection-reported array types use the "[]" suffix form.
func jniStyleName(name string) string {
	if strings.HasSuffix(name, "[]") {
		return arrayTypeName(strings.TrimSuffix(name, "[]"))
	}
	return name
}
