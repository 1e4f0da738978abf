package odem

import (
	"slices"
	"sync"
)

// EventType tells change notifications from removals.
type EventType int

const (
	// EventChange reports a record written by any client of the store.
	EventChange EventType = iota + 1
	// EventDelete reports a removed record.
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventChange:
		return "change"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a remote change of a record. Value is nil for deletions and for
// changes whose payload could not be decoded; Raw keeps the stored bytes.
type Event struct {
	Type  EventType
	Key   string
	Value any
	Raw   []byte
}

// Subscription represents a cancelable event subscription.
type Subscription interface {
	Close() error
}

// observers is the adapter's list of event handlers.
type observers struct {
	mu       sync.RWMutex
	handlers map[uint64]func(Event)
	nextID   uint64
}

func (o *observers) subscribe(handler func(Event)) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handlers == nil {
		o.handlers = make(map[uint64]func(Event))
	}
	o.nextID++
	id := o.nextID
	o.handlers[id] = handler
	return &subscription{
		closeFn: func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.handlers, id)
		},
	}
}

// publish calls every handler in registration order outside the lock.
func (o *observers) publish(event Event) {
	o.mu.RLock()
	ids := make([]uint64, 0, len(o.handlers))
	for id := range o.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	copied := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		copied = append(copied, o.handlers[id])
	}
	o.mu.RUnlock()

	for _, h := range copied {
		h(event)
	}
}

type subscription struct {
	once    sync.Once
	closeFn func()
}

func (s *subscription) Close() error {
	s.once.Do(s.closeFn)
	return nil
}
