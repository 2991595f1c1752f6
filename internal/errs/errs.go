// Package errs defines the typed error kinds the bridge can surface to a
// scripting agent.
package errs

import "fmt"

// Kind identifies a category of bridge error.
type Kind int

const (
	// ClassNotFound indicates use() or the loader could not resolve a class.
	ClassNotFound Kind = iota
	// NoSuchMember indicates no method/field/constructor of that name exists.
	NoSuchMember
	// NoSuchOverload indicates no overload matched the given arity or signature.
	NoSuchOverload
	// AmbiguousOverload indicates .implementation was touched on a multi-overload group.
	AmbiguousOverload
	// BadCast indicates cast() was attempted with an incompatible handle.
	BadCast
	// IncompatibleArgument indicates a positional argument failed isCompatible.
	IncompatibleArgument
	// IncompatibleReturn indicates a replacement returned a value its return type rejects.
	IncompatibleReturn
	// UnsupportedType indicates a type name has no registered TypeAdapter.
	UnsupportedType
	// JavaException indicates a pending JNI exception was observed.
	JavaException
	// VmSpecMissing indicates the ART offsets for the running VM are unknown.
	VmSpecMissing
	// TrampolineNotFound indicates no quickGenericJniTrampoline could be located.
	TrampolineNotFound
	// OutOfMemory indicates a local-frame push failed.
	OutOfMemory
	// HeapScanUnsupported indicates choose() was called on a non-Dalvik flavor.
	HeapScanUnsupported
)

func (k Kind) String() string {
	switch k {
	case ClassNotFound:
		return "ClassNotFound"
	case NoSuchMember:
		return "NoSuchMember"
	case NoSuchOverload:
		return "NoSuchOverload"
	case AmbiguousOverload:
		return "AmbiguousOverload"
	case BadCast:
		return "BadCast"
	case IncompatibleArgument:
		return "IncompatibleArgument"
	case IncompatibleReturn:
		return "IncompatibleReturn"
	case UnsupportedType:
		return "UnsupportedType"
	case JavaException:
		return "JavaException"
	case VmSpecMissing:
		return "VmSpecMissing"
	case TrampolineNotFound:
		return "TrampolineNotFound"
	case OutOfMemory:
		return "OutOfMemory"
	case HeapScanUnsupported:
		return "HeapScanUnsupported"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the bridge surface.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	Throwable uint64 // pending Throwable handle, set only for JavaException
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// JavaThrow constructs a JavaException error carrying the pending Throwable handle.
func JavaThrow(throwable uint64, message string) *Error {
	return &Error{Kind: JavaException, Message: message, Throwable: throwable}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
