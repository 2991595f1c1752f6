package jnitype

import (
	"context"
	"testing"

	"github.com/javabridge/javabridge/internal/jnienv"
)

func TestPrimitiveBoundaryValues(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		typeName string
		ok       []any
		bad      []any
	}{
		{"byte", []any{int64(-128), int64(0), int64(127)}, []any{int64(-129), int64(128)}},
		{"short", []any{int64(-32768), int64(32767)}, []any{int64(-32769), int64(32768)}},
		{"int", []any{int64(-2147483648), int64(2147483647)}, []any{int64(2147483648)}},
	}

	for _, c := range cases {
		a, err := Default().Lookup(c.typeName)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", c.typeName, err)
		}
		for _, v := range c.ok {
			if !a.IsCompatible(v) {
				t.Errorf("%s: IsCompatible(%v) = false, want true", c.typeName, v)
			}
			wire, err := a.ToJni(ctx, nil, nil, v)
			if err != nil {
				t.Fatalf("%s: ToJni(%v): %v", c.typeName, v, err)
			}
			back, err := a.FromJni(ctx, nil, nil, wire, true)
			if err != nil {
				t.Fatalf("%s: FromJni: %v", c.typeName, err)
			}
			if back != v {
				t.Errorf("%s: round trip %v -> %v", c.typeName, v, back)
			}
		}
		for _, v := range c.bad {
			if a.IsCompatible(v) {
				t.Errorf("%s: IsCompatible(%v) = true, want false", c.typeName, v)
			}
		}
	}
}

func TestCharAdapter(t *testing.T) {
	ctx := context.Background()
	a, err := Default().Lookup("char")
	if err != nil {
		t.Fatalf("Lookup(char): %v", err)
	}
	if !a.IsCompatible("x") {
		t.Error("IsCompatible(\"x\") = false, want true")
	}
	if a.IsCompatible("xy") {
		t.Error("IsCompatible(\"xy\") = true, want false")
	}
	wire, err := a.ToJni(ctx, nil, nil, "x")
	if err != nil {
		t.Fatalf("ToJni: %v", err)
	}
	back, err := a.FromJni(ctx, nil, nil, wire, true)
	if err != nil {
		t.Fatalf("FromJni: %v", err)
	}
	if back != "x" {
		t.Errorf("round trip = %v, want \"x\"", back)
	}
}

func TestUnknownTypeFails(t *testing.T) {
	if _, err := Default().Lookup("!!!not-a-type"); err == nil {
		t.Fatal("Lookup for malformed type: expected error")
	}
}

func TestPrimitiveArrayAdapter(t *testing.T) {
	a, err := Default().Lookup("[I")
	if err != nil {
		t.Fatalf("Lookup([I): %v", err)
	}
	if !a.IsArray() {
		t.Fatal("expected array adapter")
	}
	if a.ElementName() != "int" {
		t.Errorf("ElementName() = %q, want int", a.ElementName())
	}
	if !a.IsCompatible([]any{int64(1), int64(2)}) {
		t.Error("IsCompatible on valid int array = false")
	}
	if a.IsCompatible([]any{int64(1), "not an int"}) {
		t.Error("IsCompatible on mixed array = true, want false")
	}
}

func TestStringAutoBoxing(t *testing.T) {
	a, err := Default().Lookup(javaLangString)
	if err != nil {
		t.Fatalf("Lookup(String): %v", err)
	}
	if !a.IsCompatible("hello") {
		t.Error("IsCompatible(raw string) = false, want true")
	}
	if !a.IsCompatible(nil) {
		t.Error("IsCompatible(nil) = false, want true")
	}
	if a.Wire != jnienv.TypeObject {
		t.Errorf("Wire = %v, want TypeObject", a.Wire)
	}
}
