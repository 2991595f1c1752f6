package heap

import (
	"strconv"
	"strings"

	"github.com/javabridge/javabridge/internal/errs"
	"github.com/javabridge/javabridge/internal/jnienv"
)

// patternByte is one position of a byte-signature: either a literal value
// or a wildcard that matches anything.
type patternByte struct {
	value    byte
	wildcard bool
}

// Pattern is an IDA/Frida-style byte signature, e.g. "e8 03 00 aa ?? ?? 00
// 94", used to locate a non-exported native function by its code bytes
// (spec 4.F, "resolving that symbol lazily ... by an architecture-
// appropriate byte-signature scan").
type Pattern []patternByte

// ParsePattern parses a whitespace-separated hex byte string where "?" or
// "??" marks a wildcard position.
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errs.New(errs.UnsupportedType, "empty pattern")
	}
	pat := make(Pattern, len(fields))
	for i, f := range fields {
		if f == "?" || f == "??" {
			pat[i] = patternByte{wildcard: true}
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, errs.New(errs.UnsupportedType, "invalid pattern byte %q", f)
		}
		pat[i] = patternByte{value: byte(v)}
	}
	return pat, nil
}

// exactPattern builds a Pattern with no wildcards from raw bytes, for
// scanning the heap for an exact pointer value (spec 4.F, "construct a
// byte-pattern matching that pointer value").
func exactPattern(raw []byte) Pattern {
	pat := make(Pattern, len(raw))
	for i, b := range raw {
		pat[i] = patternByte{value: b}
	}
	return pat
}

func (p Pattern) matchesAt(data []byte, off int) bool {
	if off+len(p) > len(data) {
		return false
	}
	for i, pb := range p {
		if pb.wildcard {
			continue
		}
		if data[off+i] != pb.value {
			return false
		}
	}
	return true
}

// scanChunked walks [start, end) in fixed-size windows (overlapping by
// len(pat)-1 bytes so a match spanning a window boundary isn't missed),
// calling visit for every offset where pat matches. A read failure on one
// window is skipped rather than aborting the whole scan, since real heap
// and code regions routinely contain unmapped guard pages.
func scanChunked(api jnienv.Api, start, end uint64, pat Pattern, visit func(addr uint64) (stop bool)) error {
	if end <= start {
		return errs.New(errs.UnsupportedType, "scan range [0x%x,0x%x) is empty", start, end)
	}
	const window = 4096
	overlap := len(pat) - 1

	for addr := start; addr < end; addr += window {
		readLen := window + overlap
		if addr+uint64(readLen) > end {
			readLen = int(end - addr)
		}
		if readLen < len(pat) {
			break
		}
		data, err := api.ReadMemory(addr, readLen)
		if err != nil {
			continue
		}
		for off := 0; off+len(pat) <= len(data); off++ {
			if !pat.matchesAt(data, off) {
				continue
			}
			if visit(addr + uint64(off)) {
				return nil
			}
		}
	}
	return nil
}

// scanAll returns every address in [start, end) where pat matches.
func scanAll(api jnienv.Api, start, end uint64, pat Pattern) ([]uint64, error) {
	var matches []uint64
	err := scanChunked(api, start, end, pat, func(addr uint64) bool {
		matches = append(matches, addr)
		return false
	})
	return matches, err
}

// scanFirst returns the first address in [start, end) where pat matches.
func scanFirst(api jnienv.Api, start, end uint64, pat Pattern) (uint64, error) {
	var found uint64
	err := scanChunked(api, start, end, pat, func(addr uint64) bool {
		found = addr
		return true
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, errs.New(errs.TrampolineNotFound, "signature scan: pattern not found in [0x%x,0x%x)", start, end)
	}
	return found, nil
}
