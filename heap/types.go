package heap

import (
	"github.com/google/uuid"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventAttached EventType = iota
	EventDetached
	EventLocalCreated
	EventLocalDeleted
	EventGlobalCreated
	EventGlobalDeleted
	EventPinned
	EventUnpinned
	EventViolation

	eventTypeCount
)

func (t EventType) String() string {
	switch t {
	case EventAttached:
		return "attached"
	case EventDetached:
		return "detached"
	case EventLocalCreated:
		return "local-created"
	case EventLocalDeleted:
		return "local-deleted"
	case EventGlobalCreated:
		return "global-created"
	case EventGlobalDeleted:
		return "global-deleted"
	case EventPinned:
		return "pinned"
	case EventUnpinned:
		return "unpinned"
	case EventViolation:
		return "violation"
	default:
		return "unknown"
	}
}

// Event represents a reference lifecycle event.
type Event struct {
	// Err is set for EventViolation.
	Err        error
	Attachment uuid.UUID
	Ref        ffibridge.Ref
	Thread     ffibridge.ThreadID
	Type       EventType
}

// Observer receives notifications about reference lifecycle events.
// Observers run after the VM lock is released and may call back into the VM.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// Stats is a snapshot of VM state and lifetime counters.
type Stats struct {
	Objects    int
	Globals    int
	Locals     int
	Pins       int
	Threads    int
	Violations int

	GlobalsCreated uint64
	GlobalsDeleted uint64
	LocalsCreated  uint64
	LocalsDeleted  uint64
	Pinned         uint64
	Unpinned       uint64
}

type objectKind uint8

const (
	kindString objectKind = iota + 1
	kindByteArray
	kindClass
	kindObject
)

func (k objectKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindByteArray:
		return "byte array"
	case kindClass:
		return "class"
	case kindObject:
		return "object"
	default:
		return "unknown"
	}
}

type object struct {
	value any
	name  string
	ptr   uint32
	size  uint32
	refs  int
	pins  int
	kind  objectKind
	// permanent objects (loaded classes) survive losing all references.
	permanent bool
}
