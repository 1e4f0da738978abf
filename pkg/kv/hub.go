package kv

import (
	"context"
	"strings"
	"sync"
)

// Hub fans local changes out to watchers. Embedded drivers (bolt, memory)
// publish into a Hub after every committed write; each watcher owns an
// unbounded queue so publishers never wait for slow consumers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*hubSubscriber
	nextID uint64
	closed bool
}

type hubSubscriber struct {
	prefix string
	mu     sync.Mutex
	queue  []WatchEvent
	signal chan struct{}
	done   chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*hubSubscriber)}
}

// Publish queues events for every watcher whose prefix matches.
func (h *Hub) Publish(events ...WatchEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		for _, event := range events {
			if strings.HasPrefix(event.Key, sub.prefix) {
				sub.push(event)
			}
		}
	}
}

// Subscribe registers a watcher for keys starting with prefix. The returned
// channel is closed when ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, kvError(ErrClosed, "change feed closed")
	}
	h.nextID++
	id := h.nextID
	sub := &hubSubscriber{
		prefix: prefix,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.subs[id] = sub
	h.mu.Unlock()

	out := make(chan WatchEvent)
	go func() {
		defer close(out)
		defer h.remove(id)
		for {
			for _, event := range sub.drain() {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				case <-sub.done:
					return
				}
			}
			select {
			case <-sub.signal:
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
	}()
	return out, nil
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.done)
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (s *hubSubscriber) push(event WatchEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *hubSubscriber) drain() []WatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}
