package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/compose-network/pdp-relay/x/tracker"
)

var (
	ErrFull   = errors.New("status queue is full")
	ErrClosed = errors.New("status queue is closed")
)

// Source names the producer of a message.
const (
	SourceIngress    = "ingress"
	SourceReconciler = "reconciler"
)

// StatusMessage is one line destined for the device.
type StatusMessage struct {
	File       string
	Status     tracker.Status
	Source     string
	EnqueuedAt time.Time
}

// Line renders the message in the device wire format.
func (m StatusMessage) Line() string {
	return m.File + "," + string(m.Status) + "\n"
}

// Queue is a bounded multi-producer single-consumer FIFO.
// Producers never block: a full or closed queue is reported as an error.
type Queue struct {
	mu     sync.RWMutex
	ch     chan StatusMessage
	closed bool
}

// New returns a queue holding at most capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan StatusMessage, capacity)}
}

// Enqueue appends msg without blocking.
func (q *Queue) Enqueue(msg StatusMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until a message is available, the queue is closed and
// drained, or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (StatusMessage, error) {
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return StatusMessage{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return StatusMessage{}, ctx.Err()
	}
}

// Close stops accepting messages. Already queued messages can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
