package odem

import (
	"context"
	"sync"
	"sync/atomic"
)

// KeyStreamOptions selects the keys produced by KeyStream.
type KeyStreamOptions struct {
	// Prefix limits the stream to keys below Prefix + "/". Surrounding
	// whitespace and trailing slashes are ignored.
	Prefix string

	// MaxDepth truncates keys relative to Prefix to this many segments.
	// Zero or less means unlimited.
	MaxDepth int

	// Separator splits keys into segments. Defaults to "/".
	Separator string
}

// KeyStream is a forward-only sequence of keys.
//
//	stream := adapter.KeyStream(ctx, odem.KeyStreamOptions{Prefix: "users", MaxDepth: 1})
//	defer stream.Close()
//	for stream.Next() {
//		fmt.Println(stream.Key())
//	}
//	if err := stream.Err(); err != nil {
//		...
//	}
//
// Keys are produced in the background into a bounded buffer; production
// pauses while the buffer is full.
type KeyStream struct {
	keys    chan string
	cancel  context.CancelFunc
	done    chan struct{}
	closed  atomic.Bool
	current string

	mu  sync.Mutex
	err error
}

type produceFunc func(ctx context.Context, emit func(key string) error) error

func newKeyStream(parent context.Context, buffer int, produce produceFunc) *KeyStream {
	if buffer <= 0 {
		buffer = DefaultHighWaterMark
	}
	ctx, cancel := context.WithCancel(parent)
	s := &KeyStream{
		keys:   make(chan string, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.keys)
		defer cancel()

		err := produce(ctx, func(key string) error {
			select {
			case s.keys <- key:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !s.closed.Load() {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

// Next advances to the next key. It returns false once the stream is
// exhausted, failed or closed.
func (s *KeyStream) Next() bool {
	key, ok := <-s.keys
	if !ok {
		return false
	}
	s.current = key
	return true
}

// Key returns the key Next advanced to.
func (s *KeyStream) Key() string {
	return s.current
}

// Err returns the error that ended the stream, if any. Closing the stream
// early is not an error.
func (s *KeyStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops production and releases the stream. It is safe to call more
// than once.
func (s *KeyStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
	}
	for range s.keys {
	}
	<-s.done
	return nil
}

// CollectKeys drains stream into a slice and closes it.
func CollectKeys(stream *KeyStream) ([]string, error) {
	defer stream.Close()

	var keys []string
	for stream.Next() {
		keys = append(keys, stream.Key())
	}
	return keys, stream.Err()
}
