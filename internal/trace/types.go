// Package trace provides types for collecting bridge activity events —
// class resolutions, invocations, hook installs, and heap-scan matches —
// for consumption by the REPL, the websocket transport, or tests.
package trace

import "time"

// Tag represents a trace event category. Tags are stored without the "#"
// prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	ClassUse    Tag = "class-use"
	MemberList  Tag = "member-list"
	Invoke      Tag = "invoke"
	FieldAccess Tag = "field"
	Hook        Tag = "hook"
	HeapScan    Tag = "heap-scan"
	Exception   Tag = "exception"
	Dispose     Tag = "dispose"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with a "#" prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Primary returns the first tag, or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for a trace event.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) { a[k] = v }

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string { return a[k] }

// Event represents a single bridge activity event.
type Event struct {
	Tags        Tags
	Name        string // e.g. "use", "FindClass", "length", "hook-install"
	Detail      string // e.g. "class=java.lang.String"
	Annotations Annotations
	Timestamp   time.Time
}

// NewEvent creates a new trace event with the given category.
func NewEvent(category Tag, name, detail string) *Event {
	return &Event{
		Tags:        Tags{category},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with a "#" prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Sink collects events, bounding retention to the most recent N.
type Sink struct {
	max    int
	events []*Event
}

// NewSink creates an event sink retaining at most max events (0 = unbounded).
func NewSink(max int) *Sink {
	return &Sink{max: max}
}

// Push appends an event, trimming the oldest if over capacity.
func (s *Sink) Push(e *Event) {
	s.events = append(s.events, e)
	if s.max > 0 && len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
}

// All returns a copy of the collected events.
func (s *Sink) All() []*Event {
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}
