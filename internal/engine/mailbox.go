package engine

import "sync"

// mailbox is a thread-safe, unbounded FIFO of messages for one consumer.
//
// It backs the monitor-to-administrator channels. Producers are fsnotify
// callbacks that must never block on a busy administrator, so the buffer is
// unbounded.
//
// The mailbox uses a channel for signaling to enable context-aware waiting
// in the consumer's loop.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the mailbox.
// Thread-safe: may be called from any goroutine.
// Returns false if the mailbox is closed.
func (m *mailbox[T]) Enqueue(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.items = append(m.items, item)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case m.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front message without blocking.
func (m *mailbox[T]) TryDequeue() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if len(m.items) == 0 {
		return zero, false
	}

	item := m.items[0]

	// Clear the slot so the backing array does not pin the message.
	m.items[0] = zero

	if len(m.items) == 1 {
		m.items = m.items[:0]
	} else {
		m.items = m.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when messages may be available.
// The channel is closed when the mailbox is closed.
func (m *mailbox[T]) Wait() <-chan struct{} {
	return m.signal
}

// Len returns the number of buffered messages.
func (m *mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops accepting messages and wakes any waiter.
func (m *mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	close(m.signal)
}
