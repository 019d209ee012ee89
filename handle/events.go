package handle

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/flagcore"
)

// EventType is a handle lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
	EventFreed
)

// Event describes a lifecycle transition of one handle.
type Event struct {
	Ref  flagcore.Ref
	Kind flagcore.Kind
	Type EventType
}

// Observer receives handle lifecycle events. Implementations must not block.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Counters is a snapshot of process-wide handle activity.
type Counters struct {
	Created  uint64
	Released uint64
	Freed    uint64
}

// Live returns the number of handles created but not yet freed.
func (c Counters) Live() uint64 {
	return c.Created - c.Freed
}

var (
	created  atomic.Uint64
	released atomic.Uint64
	freed    atomic.Uint64

	observers []*observerEntry
	obsMu     sync.RWMutex
)

type observerEntry struct {
	o Observer
}

// Stats returns current counters.
func Stats() Counters {
	return Counters{
		Created:  created.Load(),
		Released: released.Load(),
		Freed:    freed.Load(),
	}
}

// Subscribe adds an observer and returns a function that removes it.
func Subscribe(o Observer) (unsubscribe func()) {
	entry := &observerEntry{o: o}
	obsMu.Lock()
	observers = append(observers, entry)
	obsMu.Unlock()

	return func() {
		obsMu.Lock()
		defer obsMu.Unlock()
		for i, e := range observers {
			if e == entry {
				observers = append(observers[:i:i], observers[i+1:]...)
				return
			}
		}
	}
}

func notify(e Event) {
	switch e.Type {
	case EventCreated:
		created.Add(1)
	case EventReleased:
		released.Add(1)
	case EventFreed:
		freed.Add(1)
	}

	obsMu.RLock()
	defer obsMu.RUnlock()
	for _, entry := range observers {
		entry.o.OnHandleEvent(e)
	}
}
