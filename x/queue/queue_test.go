package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/compose-network/pdp-relay/x/tracker"
)

func TestQueue_FIFO(t *testing.T) {
	q := New(8)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(StatusMessage{File: fmt.Sprintf("f%d", i), Status: tracker.StatusStored}))
	}
	require.Equal(t, 5, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		msg, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("f%d", i), msg.File)
		require.False(t, msg.EnqueuedAt.IsZero())
	}
}

func TestQueue_FullDoesNotBlock(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(StatusMessage{File: "a"}))
	require.NoError(t, q.Enqueue(StatusMessage{File: "b"}))
	require.ErrorIs(t, q.Enqueue(StatusMessage{File: "c"}), ErrFull)
	require.Equal(t, 2, q.Cap())
}

func TestQueue_Closed(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(StatusMessage{File: "a"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(StatusMessage{File: "b"}), ErrClosed)

	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", msg.File)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_TotalOrderAcrossProducers(t *testing.T) {
	q := New(1000)
	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)

	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				name := fmt.Sprintf("p%d-%d", p, i)
				// Record and enqueue under one lock so the recorded order is the enqueue order.
				mu.Lock()
				if err := q.Enqueue(StatusMessage{File: name}); err == nil {
					order = append(order, name)
				}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	for _, want := range order {
		msg, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, msg.File)
	}
}

func TestStatusMessage_Line(t *testing.T) {
	msg := StatusMessage{File: "x.jpg", Status: tracker.StatusProven}
	require.Equal(t, "x.jpg,stored & proven\n", msg.Line())
}
