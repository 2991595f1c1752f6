package jnitype

import (
	"strings"
	"sync"

	"github.com/javabridge/javabridge/internal/errs"
)

// Registry caches resolved Adapters by type name. Primitive and well-known
// reference adapters self-register via init() in this package; array and
// arbitrary-class reference adapters are synthesized on first lookup and
// cached thereafter (spec 4.A, "All type lookups cache their result").
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]*Adapter
	cache    map[string]*Adapter
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry seeded with every self-registered
// builtin adapter.
func Default() *Registry { return defaultRegistry }

// NewRegistry creates an empty registry with no builtins. Tests that want
// the full builtin set should use Default().
func NewRegistry() *Registry {
	return &Registry{
		builtins: make(map[string]*Adapter),
		cache:    make(map[string]*Adapter),
	}
}

// register is called from init() functions in this package to install a
// builtin adapter under one or more names.
func register(a *Adapter, names ...string) {
	if len(names) == 0 {
		names = []string{a.Name}
	}
	for _, n := range names {
		defaultRegistry.builtins[n] = a
	}
}

// Lookup resolves name to its Adapter, constructing and caching array or
// bare-class-name reference adapters on demand.
func (r *Registry) Lookup(name string) (*Adapter, error) {
	r.mu.RLock()
	if a, ok := r.builtins[name]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	if a, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	a, err := r.synthesize(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[name] = a
	r.mu.Unlock()
	return a, nil
}

func (r *Registry) synthesize(name string) (*Adapter, error) {
	if strings.HasPrefix(name, "[") {
		elemName, err := jniArrayElementName(name)
		if err != nil {
			return nil, err
		}
		elem, err := r.Lookup(elemName)
		if err != nil {
			return nil, err
		}
		if isPrimitiveWire(elem) {
			return newPrimitiveArrayAdapter(elem), nil
		}
		return newObjectArrayAdapter(elem, elem.Name), nil
	}

	if strings.HasPrefix(name, "L") && strings.HasSuffix(name, ";") {
		return r.Lookup(name[1 : len(name)-1])
	}

	// Bare fully-qualified class name: treat as a reference adapter.
	if isValidClassName(name) {
		return newReferenceAdapter(name), nil
	}

	return nil, errs.New(errs.UnsupportedType, "unsupported type name %q", name)
}

func isValidClassName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if c == '.' || c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}

func jniArrayElementName(name string) (string, error) {
	if len(name) < 2 {
		return "", errs.New(errs.UnsupportedType, "malformed array type %q", name)
	}
	rest := name[1:]
	switch rest[0] {
	case 'Z':
		return "boolean", checkSingle(rest)
	case 'B':
		return "byte", checkSingle(rest)
	case 'C':
		return "char", checkSingle(rest)
	case 'S':
		return "short", checkSingle(rest)
	case 'I':
		return "int", checkSingle(rest)
	case 'J':
		return "long", checkSingle(rest)
	case 'F':
		return "float", checkSingle(rest)
	case 'D':
		return "double", checkSingle(rest)
	case 'L':
		if !strings.HasSuffix(rest, ";") {
			return "", errs.New(errs.UnsupportedType, "malformed array type %q", name)
		}
		return rest, nil
	case '[':
		return rest, nil
	default:
		return "", errs.New(errs.UnsupportedType, "malformed array type %q", name)
	}
}

func checkSingle(rest string) error {
	if len(rest) != 1 {
		return errs.New(errs.UnsupportedType, "malformed primitive array element %q", rest)
	}
	return nil
}

func isPrimitiveWire(a *Adapter) bool {
	switch a.Name {
	case "boolean", "byte", "char", "short", "int", "long", "float", "double":
		return true
	default:
		return false
	}
}

