package tracker

import (
	"sync"

	"github.com/tabwarden/tabwarden/internal/tab"
)

// signalKind distinguishes tab lifecycle signals.
type signalKind int

const (
	signalCreated signalKind = iota + 1
	signalActivated
	signalUpdated
	signalRemoved
	signalSessionStart
)

// signal wraps one tab lifecycle callback for the tracker loop.
type signal struct {
	Kind signalKind

	Tab tab.Tab // created

	TabID    int
	WindowID int

	URL    string // updated: new URL, "" when unchanged
	Title  string
	Status string // updated: load status ("loading", "complete")

	WindowClosing bool // removed
}

// signalQueue is a thread-safe FIFO for lifecycle signals.
//
// Unbounded so bursts of browser callbacks never block the channel reader.
// A buffered signal channel (size 1) coalesces wakeups for the Run loop so
// waiting is context-aware.
type signalQueue struct {
	mu      sync.Mutex
	signals []signal
	closed  bool
	wake    chan struct{}
}

func newSignalQueue() *signalQueue {
	return &signalQueue{
		signals: make([]signal, 0, 64),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds a signal to the back of the queue.
// Thread-safe; returns false if the queue is closed.
func (q *signalQueue) Enqueue(s signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.signals = append(q.signals, s)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *signalQueue) TryDequeue() (signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.signals) == 0 {
		return signal{}, false
	}

	s := q.signals[0]
	q.signals[0] = signal{}
	if len(q.signals) == 1 {
		q.signals = q.signals[:0]
	} else {
		q.signals = q.signals[1:]
	}

	return s, true
}

// Wait returns a channel that signals when signals may be available.
// The channel closes when the queue closes, waking all waiters.
func (q *signalQueue) Wait() <-chan struct{} {
	return q.wake
}

// Closed reports whether the queue has been closed. Signals enqueued
// before the close are still drainable.
func (q *signalQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the current queue length.
func (q *signalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

// Close signals that no more signals will be enqueued.
func (q *signalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.wake)
}
