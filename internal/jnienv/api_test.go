package jnienv

import (
	"strings"
	"testing"
)

func TestLoadOffsetSpecArt(t *testing.T) {
	doc := `
flavor: art
api_levels:
  "30":
    arm64-v8a:
      art_method_size: 60
      art_entry_point_quick_offset: 48
      art_entry_point_jni_offset: 32
      art_access_flags_offset: 4
      fast_native_flag_bit: 16384
`
	spec, err := LoadOffsetSpec(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadOffsetSpec: %v", err)
	}
	if spec.Flavor != FlavorArt {
		t.Fatalf("flavor = %v, want art", spec.Flavor)
	}
	table, err := spec.Lookup(30, "arm64-v8a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if table.ArtMethodSize != 60 {
		t.Errorf("ArtMethodSize = %d, want 60", table.ArtMethodSize)
	}
	if table.ArtEntryPointJniOffset != 32 {
		t.Errorf("ArtEntryPointJniOffset = %d, want 32", table.ArtEntryPointJniOffset)
	}
}

func TestLoadOffsetSpecMissingLevel(t *testing.T) {
	doc := `
flavor: dalvik
api_levels:
  "15":
    armeabi-v7a:
      dalvik_method_size: 56
`
	spec, err := LoadOffsetSpec(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadOffsetSpec: %v", err)
	}
	if _, err := spec.Lookup(30, "arm64-v8a"); err == nil {
		t.Fatal("Lookup for unknown level: expected error, got nil")
	}
	table, err := spec.Lookup(15, "armeabi-v7a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if table.DalvikMethodSize != 56 {
		t.Errorf("DalvikMethodSize = %d, want 56", table.DalvikMethodSize)
	}
}
