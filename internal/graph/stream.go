package graph

import (
	"iter"
	"sync"
)

// Stream is a pull-based sequence flowing along a stream edge. The producer
// only advances when Next is called. A Stream has a single consumer.
type Stream[T any] struct {
	next func() (T, error, bool)
	stop func()

	mu   sync.Mutex
	done bool
}

// NewStream wraps seq. seq does not start until the first Next.
func NewStream[T any](seq iter.Seq2[T, error]) *Stream[T] {
	next, stop := iter.Pull2(seq)
	return &Stream[T]{next: next, stop: stop}
}

// FromSlice is a Stream over fixed values.
func FromSlice[T any](values []T) *Stream[T] {
	return NewStream(func(yield func(T, error) bool) {
		for _, v := range values {
			if !yield(v, nil) {
				return
			}
		}
	})
}

// Next returns the next value. ok is false once the stream is exhausted or
// closed. A producer error ends the stream.
func (s *Stream[T]) Next() (value T, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return value, false, nil
	}
	v, err, ok := s.next()
	if !ok {
		s.done = true
		s.stop()
		return value, false, nil
	}
	if err != nil {
		s.done = true
		s.stop()
		return value, false, err
	}
	return v, true, nil
}

// All ranges over the remaining values. Iteration stops at the first error,
// which is yielded with a zero value.
func (s *Stream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, ok, err := s.Next()
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// Close stops the producer. Further Next calls report exhaustion.
func (s *Stream[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		s.stop()
	}
	return nil
}
