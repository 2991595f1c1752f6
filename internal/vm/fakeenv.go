package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

// FakeEnv is an in-memory jnienv.Env backed by Emulator for memory-shaped
// operations (arrays, strings) and by plain Go maps for the reflective model
// a real JVM would supply via JNI. Tests build a small class graph with
// DefineClass and then exercise the bridge against it exactly as it would
// run against a live process.
type FakeEnv struct {
	emu *Emulator

	mu         sync.Mutex
	nextHandle uint64

	classesByHandle map[uint64]*classDef
	classesByName   map[string]uint64
	objects         map[uint64]*objectDef
	methods         map[jnienv.FieldOrMethodID]*methodDef
	fields          map[jnienv.FieldOrMethodID]*fieldDef
	strings         map[uint64]string
	arrays          map[uint64]*arrayDef

	exception uint64
	threadID  uint64
}

type classDef struct {
	handle  uint64
	name    string // dotted form, e.g. "java.lang.String"
	super   uint64
	methods []*methodDef
	ctors   []*methodDef
	fields  []*fieldDef
}

type methodDef struct {
	id         jnienv.FieldOrMethodID
	class      uint64
	name       string
	static     bool
	varArgs    bool
	retType    string
	argTypes   []string
	vtableSlot int
	impl       func(ctx context.Context, obj uint64, args []jnienv.Value) (jnienv.Value, error)
}

type fieldDef struct {
	id     jnienv.FieldOrMethodID
	class  uint64
	name   string
	static bool
	typ    string
	prim   jnienv.Primitive
	value  jnienv.Value
}

type objectDef struct {
	handle uint64
	class  uint64
	fields map[jnienv.FieldOrMethodID]jnienv.Value
}

type arrayDef struct {
	prim   jnienv.Primitive
	elemCl uint64
	values []jnienv.Value
}

// NewFakeEnv creates an empty FakeEnv over emu.
func NewFakeEnv(emu *Emulator) *FakeEnv {
	return &FakeEnv{
		emu:             emu,
		nextHandle:      1,
		classesByHandle: make(map[uint64]*classDef),
		classesByName:   make(map[string]uint64),
		objects:         make(map[uint64]*objectDef),
		methods:         make(map[jnienv.FieldOrMethodID]*methodDef),
		fields:          make(map[jnienv.FieldOrMethodID]*fieldDef),
		strings:         make(map[uint64]string),
		arrays:          make(map[uint64]*arrayDef),
		threadID:        1,
	}
}

func (f *FakeEnv) alloc() uint64 {
	f.nextHandle++
	return f.nextHandle
}

// ClassDef is the fluent builder handed back by DefineClass.
type ClassDef struct {
	env *FakeEnv
	def *classDef
}

// DefineClass registers a class named name (dotted form) with no superclass
// set. Call Extends to wire up inheritance before defining members that rely
// on it (GetSuperclass, IsInstanceOf).
func (f *FakeEnv) DefineClass(name string) *ClassDef {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := f.alloc()
	def := &classDef{handle: handle, name: name}
	f.classesByHandle[handle] = def
	f.classesByName[name] = handle
	return &ClassDef{env: f, def: def}
}

// Extends records cd's superclass.
func (cd *ClassDef) Extends(super *ClassDef) *ClassDef {
	cd.def.super = super.def.handle
	return cd
}

// Handle returns the class's JNI handle.
func (cd *ClassDef) Handle() uint64 { return cd.def.handle }

// Name returns the class's dotted name.
func (cd *ClassDef) Name() string { return cd.def.name }

// Method registers an instance or static method.
func (cd *ClassDef) Method(name string, static, varArgs bool, retType string, argTypes []string,
	impl func(ctx context.Context, obj uint64, args []jnienv.Value) (jnienv.Value, error)) *ClassDef {
	cd.env.mu.Lock()
	defer cd.env.mu.Unlock()
	id := jnienv.FieldOrMethodID(cd.env.alloc())
	m := &methodDef{
		id: id, class: cd.def.handle, name: name, static: static, varArgs: varArgs,
		retType: retType, argTypes: argTypes, vtableSlot: len(cd.def.methods), impl: impl,
	}
	cd.def.methods = append(cd.def.methods, m)
	cd.env.methods[id] = m
	return cd
}

// Constructor registers a constructor overload.
func (cd *ClassDef) Constructor(varArgs bool, argTypes []string,
	impl func(ctx context.Context, obj uint64, args []jnienv.Value) (jnienv.Value, error)) *ClassDef {
	cd.env.mu.Lock()
	defer cd.env.mu.Unlock()
	id := jnienv.FieldOrMethodID(cd.env.alloc())
	m := &methodDef{id: id, class: cd.def.handle, name: "<init>", varArgs: varArgs, retType: "void", argTypes: argTypes, impl: impl}
	cd.def.ctors = append(cd.def.ctors, m)
	cd.env.methods[id] = m
	return cd
}

// Field registers a field with an initial value.
func (cd *ClassDef) Field(name string, static bool, typ string, prim jnienv.Primitive, initial jnienv.Value) *ClassDef {
	cd.env.mu.Lock()
	defer cd.env.mu.Unlock()
	id := jnienv.FieldOrMethodID(cd.env.alloc())
	fd := &fieldDef{id: id, class: cd.def.handle, name: name, static: static, typ: typ, prim: prim, value: initial}
	cd.def.fields = append(cd.def.fields, fd)
	cd.env.fields[id] = fd
	return cd
}

// NewInstance creates a live object of this class without running a
// constructor, for tests that only need a "this" to call instance methods
// or access fields against.
func (cd *ClassDef) NewInstance() uint64 {
	cd.env.mu.Lock()
	defer cd.env.mu.Unlock()
	handle := cd.env.alloc()
	cd.env.objects[handle] = &objectDef{handle: handle, class: cd.def.handle, fields: make(map[jnienv.FieldOrMethodID]jnienv.Value)}
	return handle
}

// --- jnienv.Env ---

func (f *FakeEnv) FindClass(_ context.Context, slashName string) (uint64, error) {
	dotted := toDotted(slashName)
	f.mu.Lock()
	defer f.mu.Unlock()
	handle, ok := f.classesByName[dotted]
	if !ok {
		return 0, errs.New(errs.ClassNotFound, "class not found: %s", dotted)
	}
	return handle, nil
}

func toDotted(slashName string) string {
	out := make([]byte, len(slashName))
	for i := 0; i < len(slashName); i++ {
		if slashName[i] == '/' {
			out[i] = '.'
		} else {
			out[i] = slashName[i]
		}
	}
	return string(out)
}

func (f *FakeEnv) GetObjectClass(_ context.Context, obj uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[obj]
	if !ok {
		return 0, errs.New(errs.BadCast, "no such object 0x%x", obj)
	}
	return o.class, nil
}

func (f *FakeEnv) GetSuperclass(_ context.Context, class uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classesByHandle[class]
	if !ok {
		return 0, errs.New(errs.ClassNotFound, "no such class 0x%x", class)
	}
	return c.super, nil
}

func (f *FakeEnv) IsInstanceOf(_ context.Context, obj, class uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.objects[obj]; ok {
		for cur := o.class; cur != 0; {
			if cur == class {
				return true, nil
			}
			c, ok := f.classesByHandle[cur]
			if !ok {
				break
			}
			cur = c.super
		}
		return false, nil
	}
	// A jclass is itself a jobject, an instance of java.lang.Class.
	if _, ok := f.classesByHandle[obj]; ok {
		if c, ok := f.classesByHandle[class]; ok && c.name == "java.lang.Class" {
			return true, nil
		}
		return false, nil
	}
	return false, errs.New(errs.BadCast, "no such object 0x%x", obj)
}

func (f *FakeEnv) IsSameObject(_ context.Context, a, b uint64) bool { return a == b }

func (f *FakeEnv) AllocObject(_ context.Context, class uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.classesByHandle[class]; !ok {
		return 0, errs.New(errs.ClassNotFound, "no such class 0x%x", class)
	}
	handle := f.alloc()
	f.objects[handle] = &objectDef{handle: handle, class: class, fields: make(map[jnienv.FieldOrMethodID]jnienv.Value)}
	return handle, nil
}

func (f *FakeEnv) NewObject(ctx context.Context, class uint64, ctor jnienv.FieldOrMethodID, args []jnienv.Value) (uint64, error) {
	obj, err := f.AllocObject(ctx, class)
	if err != nil {
		return 0, err
	}
	m, ok := f.methods[ctor]
	if !ok {
		return 0, errs.New(errs.NoSuchMember, "no such constructor")
	}
	if m.impl != nil {
		if _, err := m.impl(ctx, obj, args); err != nil {
			return 0, err
		}
	}
	return obj, nil
}

func (f *FakeEnv) NewGlobalRef(_ context.Context, obj uint64) (uint64, error)  { return obj, nil }
func (f *FakeEnv) DeleteGlobalRef(_ context.Context, obj uint64) error         { return nil }
func (f *FakeEnv) DeleteLocalRef(_ context.Context, obj uint64) error         { return nil }
func (f *FakeEnv) NewLocalRef(_ context.Context, obj uint64) (uint64, error)  { return obj, nil }

func (f *FakeEnv) PushLocalFrame(_ context.Context, capacity int) error              { return nil }
func (f *FakeEnv) PopLocalFrame(_ context.Context, result uint64) (uint64, error)    { return result, nil }
func (f *FakeEnv) EnsureLocalCapacity(_ context.Context, capacity int) error         { return nil }

func (f *FakeEnv) GetMethodID(_ context.Context, class uint64, name, sig string) (jnienv.FieldOrMethodID, error) {
	return f.findMethodID(class, name, false)
}

func (f *FakeEnv) GetStaticMethodID(_ context.Context, class uint64, name, sig string) (jnienv.FieldOrMethodID, error) {
	return f.findMethodID(class, name, true)
}

func (f *FakeEnv) findMethodID(class uint64, name string, static bool) (jnienv.FieldOrMethodID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for cur := class; cur != 0; {
		c, ok := f.classesByHandle[cur]
		if !ok {
			break
		}
		for _, m := range c.methods {
			if m.name == name && m.static == static {
				return m.id, nil
			}
		}
		cur = c.super
	}
	return 0, errs.New(errs.NoSuchMember, "no such method %s", name)
}

func (f *FakeEnv) GetFieldID(_ context.Context, class uint64, name, sig string) (jnienv.FieldOrMethodID, error) {
	return f.findFieldID(class, name, false)
}

func (f *FakeEnv) GetStaticFieldID(_ context.Context, class uint64, name, sig string) (jnienv.FieldOrMethodID, error) {
	return f.findFieldID(class, name, true)
}

func (f *FakeEnv) findFieldID(class uint64, name string, static bool) (jnienv.FieldOrMethodID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for cur := class; cur != 0; {
		c, ok := f.classesByHandle[cur]
		if !ok {
			break
		}
		for _, fd := range c.fields {
			if fd.name == name && fd.static == static {
				return fd.id, nil
			}
		}
		cur = c.super
	}
	return 0, errs.New(errs.NoSuchMember, "no such field %s", name)
}

func (f *FakeEnv) FromReflectedMethod(_ context.Context, reflected uint64) (jnienv.FieldOrMethodID, error) {
	return jnienv.FieldOrMethodID(reflected), nil
}

func (f *FakeEnv) FromReflectedField(_ context.Context, reflected uint64) (jnienv.FieldOrMethodID, error) {
	return jnienv.FieldOrMethodID(reflected), nil
}

func (f *FakeEnv) call(ctx context.Context, obj uint64, m jnienv.FieldOrMethodID, args []jnienv.Value) (jnienv.Value, error) {
	f.mu.Lock()
	md, ok := f.methods[m]
	f.mu.Unlock()
	if !ok {
		return jnienv.Value{}, errs.New(errs.NoSuchMember, "no such method id %d", m)
	}
	if md.impl == nil {
		return jnienv.Value{}, errs.New(errs.NoSuchMember, "method %s has no implementation", md.name)
	}
	return md.impl(ctx, obj, args)
}

func (f *FakeEnv) CallVirtualMethod(ctx context.Context, obj uint64, m jnienv.FieldOrMethodID, _ jnienv.Primitive, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
	f.mu.Lock()
	md, ok := f.methods[m]
	var resolved jnienv.FieldOrMethodID = m
	if ok {
		if o, oOK := f.objects[obj]; oOK {
			if rm := f.lookupVtableSlot(o.class, md); rm != 0 {
				resolved = rm
			}
		}
	}
	f.mu.Unlock()
	return f.call(ctx, obj, resolved, args)
}

// lookupVtableSlot walks from class up through its superclasses and returns
// the first non-static method with want's name and argument types, i.e. the
// most derived override, mirroring virtual dispatch.
func (f *FakeEnv) lookupVtableSlot(class uint64, want *methodDef) jnienv.FieldOrMethodID {
	c, ok := f.classesByHandle[class]
	if !ok {
		return 0
	}
	for _, m := range c.methods {
		if m.name == want.name && !m.static && sameArgTypes(m.argTypes, want.argTypes) {
			return m.id
		}
	}
	if c.super != 0 {
		return f.lookupVtableSlot(c.super, want)
	}
	return 0
}

func sameArgTypes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f *FakeEnv) CallNonvirtualMethod(ctx context.Context, obj, _ uint64, m jnienv.FieldOrMethodID, _ jnienv.Primitive, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
	return f.call(ctx, obj, m, args)
}

func (f *FakeEnv) CallStaticMethod(ctx context.Context, _ uint64, m jnienv.FieldOrMethodID, _ jnienv.Primitive, _ uint64, args []jnienv.Value) (jnienv.Value, error) {
	return f.call(ctx, 0, m, args)
}

func (f *FakeEnv) GetField(_ context.Context, obj uint64, fld jnienv.FieldOrMethodID, _ jnienv.Primitive) (jnienv.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[obj]
	if !ok {
		return jnienv.Value{}, errs.New(errs.BadCast, "no such object 0x%x", obj)
	}
	if v, ok := o.fields[fld]; ok {
		return v, nil
	}
	if fd, ok := f.fields[fld]; ok {
		return fd.value, nil
	}
	return jnienv.Value{}, nil
}

func (f *FakeEnv) SetField(_ context.Context, obj uint64, fld jnienv.FieldOrMethodID, v jnienv.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[obj]
	if !ok {
		return errs.New(errs.BadCast, "no such object 0x%x", obj)
	}
	o.fields[fld] = v
	return nil
}

func (f *FakeEnv) GetStaticField(_ context.Context, _ uint64, fld jnienv.FieldOrMethodID, _ jnienv.Primitive) (jnienv.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.fields[fld]
	if !ok {
		return jnienv.Value{}, errs.New(errs.NoSuchMember, "no such static field id %d", fld)
	}
	return fd.value, nil
}

func (f *FakeEnv) SetStaticField(_ context.Context, _ uint64, fld jnienv.FieldOrMethodID, v jnienv.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.fields[fld]
	if !ok {
		return errs.New(errs.NoSuchMember, "no such static field id %d", fld)
	}
	fd.value = v
	return nil
}

func (f *FakeEnv) NewStringUTF(_ context.Context, s string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := f.alloc()
	f.strings[handle] = s
	return handle, nil
}

func (f *FakeEnv) GetStringUTF(_ context.Context, jstr uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.strings[jstr]
	if !ok {
		return "", errs.New(errs.BadCast, "no such string 0x%x", jstr)
	}
	return s, nil
}

func (f *FakeEnv) GetArrayLength(_ context.Context, array uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arrays[array]
	if !ok {
		return 0, errs.New(errs.BadCast, "no such array 0x%x", array)
	}
	return len(a.values), nil
}

func (f *FakeEnv) NewPrimitiveArray(_ context.Context, prim jnienv.Primitive, length int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := f.alloc()
	f.arrays[handle] = &arrayDef{prim: prim, values: make([]jnienv.Value, length)}
	return handle, nil
}

func (f *FakeEnv) GetPrimitiveArrayRegion(_ context.Context, array uint64, _ jnienv.Primitive, start, length int) ([]jnienv.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arrays[array]
	if !ok {
		return nil, errs.New(errs.BadCast, "no such array 0x%x", array)
	}
	if start < 0 || start+length > len(a.values) {
		return nil, errs.New(errs.IncompatibleArgument, "array region out of bounds")
	}
	out := make([]jnienv.Value, length)
	copy(out, a.values[start:start+length])
	return out, nil
}

func (f *FakeEnv) SetPrimitiveArrayRegion(_ context.Context, array uint64, _ jnienv.Primitive, start int, values []jnienv.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arrays[array]
	if !ok {
		return errs.New(errs.BadCast, "no such array 0x%x", array)
	}
	if start < 0 || start+len(values) > len(a.values) {
		return errs.New(errs.IncompatibleArgument, "array region out of bounds")
	}
	copy(a.values[start:], values)
	return nil
}

func (f *FakeEnv) NewObjectArray(_ context.Context, length int, elementClass uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := f.alloc()
	f.arrays[handle] = &arrayDef{prim: jnienv.TypeObject, elemCl: elementClass, values: make([]jnienv.Value, length)}
	return handle, nil
}

func (f *FakeEnv) GetObjectArrayElement(_ context.Context, array uint64, index int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arrays[array]
	if !ok || index < 0 || index >= len(a.values) {
		return 0, errs.New(errs.IncompatibleArgument, "array index out of bounds")
	}
	return a.values[index].Ref, nil
}

func (f *FakeEnv) SetObjectArrayElement(_ context.Context, array uint64, index int, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arrays[array]
	if !ok || index < 0 || index >= len(a.values) {
		return errs.New(errs.IncompatibleArgument, "array index out of bounds")
	}
	a.values[index] = jnienv.Value{Prim: jnienv.TypeObject, Ref: value}
	return nil
}

func (f *FakeEnv) ExceptionCheck(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exception != 0, nil
}

func (f *FakeEnv) ExceptionOccurred(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exception, nil
}

func (f *FakeEnv) ExceptionClear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exception = 0
	return nil
}

func (f *FakeEnv) Throw(_ context.Context, throwable uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exception = throwable
	return nil
}

func (f *FakeEnv) Class() jnienv.ClassReflection    { return (*fakeReflection)(f) }
func (f *FakeEnv) Modifier() jnienv.ModifierReflection { return fakeModifier{} }

func (f *FakeEnv) CurrentThreadID() uint64 { return f.threadID }

// SetCurrentThreadID lets a test simulate a call arriving from a different
// native thread, for pending-calls-set re-entry tests.
func (f *FakeEnv) SetCurrentThreadID(id uint64) { f.threadID = id }

type fakeReflection FakeEnv

func (r *fakeReflection) GetDeclaredMethods(_ context.Context, class uint64) ([]jnienv.ReflectedMethod, error) {
	f := (*FakeEnv)(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classesByHandle[class]
	if !ok {
		return nil, errs.New(errs.ClassNotFound, "no such class 0x%x", class)
	}
	out := make([]jnienv.ReflectedMethod, 0, len(c.methods))
	for _, m := range c.methods {
		mods := 0
		if m.static {
			mods = modStatic
		}
		out = append(out, jnienv.ReflectedMethod{
			Name: m.name, ID: m.id, Modifiers: mods, IsVarArgs: m.varArgs,
			ReturnType: m.retType, ArgTypes: m.argTypes,
		})
	}
	return out, nil
}

func (r *fakeReflection) GetDeclaredFields(_ context.Context, class uint64) ([]jnienv.ReflectedField, error) {
	f := (*FakeEnv)(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classesByHandle[class]
	if !ok {
		return nil, errs.New(errs.ClassNotFound, "no such class 0x%x", class)
	}
	out := make([]jnienv.ReflectedField, 0, len(c.fields))
	for _, fd := range c.fields {
		mods := 0
		if fd.static {
			mods = modStatic
		}
		out = append(out, jnienv.ReflectedField{Name: fd.name, ID: fd.id, Modifiers: mods, Type: fd.typ})
	}
	return out, nil
}

func (r *fakeReflection) GetDeclaredConstructors(_ context.Context, class uint64) ([]jnienv.ReflectedMethod, error) {
	f := (*FakeEnv)(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classesByHandle[class]
	if !ok {
		return nil, errs.New(errs.ClassNotFound, "no such class 0x%x", class)
	}
	out := make([]jnienv.ReflectedMethod, 0, len(c.ctors))
	for _, m := range c.ctors {
		out = append(out, jnienv.ReflectedMethod{Name: "<init>", ID: m.id, IsVarArgs: m.varArgs, ReturnType: "void", ArgTypes: m.argTypes})
	}
	return out, nil
}

func (r *fakeReflection) GetName(_ context.Context, class uint64) (string, error) {
	f := (*FakeEnv)(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classesByHandle[class]
	if !ok {
		return "", errs.New(errs.ClassNotFound, "no such class 0x%x", class)
	}
	return c.name, nil
}

const modStatic = 0x8

type fakeModifier struct{}

func (fakeModifier) IsStatic(mods int) bool { return mods&modStatic != 0 }

var _ fmt.Stringer = (*FakeEnv)(nil)

func (f *FakeEnv) String() string { return "vm.FakeEnv" }
