// Package queue provides a multi-producer multi-consumer handoff queue with
// paired sender and receiver handles.
//
// A queue is created with New, which returns one Sender and one Receiver over
// the same buffer. Handles can be cloned to add producers or consumers. When
// every Receiver has been closed, sends fail with ErrDisconnected. When every
// Sender has been closed and the buffer is drained, receives fail with
// ErrDisconnected.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

var (
	// ErrEmpty is returned by TryRecv when no item is buffered.
	ErrEmpty = errors.New("queue empty")

	// ErrFull is returned by Send on a bounded queue at capacity.
	ErrFull = errors.New("queue full")

	// ErrDisconnected is returned when the opposite side has no open handles
	// left, or when the handle itself has been closed.
	ErrDisconnected = errors.New("queue disconnected")
)

// shared is the buffer and handle accounting behind a Sender/Receiver pair.
type shared[T any] struct {
	mu        sync.Mutex
	buf       *queue.Queue
	capacity  int
	senders   int
	receivers int

	// wake is closed and replaced whenever an item is added or the last
	// sender goes away.
	wake chan struct{}
}

// New creates a queue and returns its first sender and receiver handles.
// A capacity of zero or less makes the queue unbounded.
func New[T any](capacity int) (*Sender[T], *Receiver[T]) {
	s := &shared[T]{
		buf:       queue.New(),
		capacity:  capacity,
		senders:   1,
		receivers: 1,
		wake:      make(chan struct{}),
	}
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// broadcast wakes every waiting receiver. Caller must hold mu.
func (s *shared[T]) broadcast() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *shared[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Length()
}

// Sender is the producing end of a queue.
type Sender[T any] struct {
	s      *shared[T]
	closed atomic.Bool
}

// Send appends item to the queue without blocking.
func (tx *Sender[T]) Send(item T) error {
	if tx.closed.Load() {
		return ErrDisconnected
	}

	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receivers == 0 {
		return ErrDisconnected
	}
	if s.capacity > 0 && s.buf.Length() >= s.capacity {
		return ErrFull
	}

	s.buf.Add(item)
	s.broadcast()
	return nil
}

// Clone returns a new sender handle for the same queue.
func (tx *Sender[T]) Clone() *Sender[T] {
	s := tx.s
	s.mu.Lock()
	s.senders++
	s.mu.Unlock()

	return &Sender[T]{s: s}
}

// Close releases this handle. Closing twice is a no-op.
func (tx *Sender[T]) Close() {
	if !tx.closed.CompareAndSwap(false, true) {
		return
	}

	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.senders--
	if s.senders == 0 {
		s.broadcast()
	}
}

// Len returns the number of buffered items.
func (tx *Sender[T]) Len() int {
	return tx.s.len()
}

// Receiver is the consuming end of a queue.
type Receiver[T any] struct {
	s      *shared[T]
	closed atomic.Bool
}

// TryRecv returns the oldest buffered item without blocking.
func (rx *Receiver[T]) TryRecv() (T, error) {
	item, _, err := rx.poll()
	return item, err
}

// Recv waits until an item is available, every sender has been closed, or
// ctx is done.
func (rx *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		item, wake, err := rx.poll()
		if !errors.Is(err, ErrEmpty) {
			return item, err
		}

		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// poll takes one item, or returns ErrEmpty along with the channel that will be
// closed on the next state change.
func (rx *Receiver[T]) poll() (T, <-chan struct{}, error) {
	var zero T
	if rx.closed.Load() {
		return zero, nil, ErrDisconnected
	}

	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Length() > 0 {
		return s.buf.Remove().(T), nil, nil
	}
	if s.senders == 0 {
		return zero, nil, ErrDisconnected
	}
	return zero, s.wake, ErrEmpty
}

// Clone returns a new receiver handle for the same queue.
func (rx *Receiver[T]) Clone() *Receiver[T] {
	s := rx.s
	s.mu.Lock()
	s.receivers++
	s.mu.Unlock()

	return &Receiver[T]{s: s}
}

// Close releases this handle. When the last receiver is closed the buffered
// items are discarded and further sends fail.
func (rx *Receiver[T]) Close() {
	if !rx.closed.CompareAndSwap(false, true) {
		return
	}

	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receivers--
	if s.receivers == 0 {
		s.buf = queue.New()
	}
}

// Len returns the number of buffered items.
func (rx *Receiver[T]) Len() int {
	return rx.s.len()
}
