package ingress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/pdp-relay/x/queue"
	"github.com/compose-network/pdp-relay/x/tracker"
)

type fakeRequest struct {
	body   []byte
	acks   *[]string
	mu     *sync.Mutex
	ackErr error
}

func (r *fakeRequest) Body() []byte { return r.body }

func (r *fakeRequest) Ack(context.Context) error {
	if r.ackErr != nil {
		return r.ackErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.acks = append(*r.acks, AckToken)
	return nil
}

type fakeReceiver struct {
	reqs    chan []byte
	recvErr error
	ackErr  error

	mu   sync.Mutex
	acks []string
}

func newFakeReceiver(bodies ...string) *fakeReceiver {
	r := &fakeReceiver{reqs: make(chan []byte, len(bodies))}
	for _, b := range bodies {
		r.reqs <- []byte(b)
	}
	close(r.reqs)
	return r
}

func (r *fakeReceiver) Recv(ctx context.Context) (Request, error) {
	if r.recvErr != nil {
		return nil, r.recvErr
	}
	select {
	case body, ok := <-r.reqs:
		if !ok {
			return nil, ErrReceiverClosed
		}
		return &fakeRequest{body: body, acks: &r.acks, mu: &r.mu, ackErr: r.ackErr}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeReceiver) Addr() string { return "fake" }
func (r *fakeReceiver) Close() error { return nil }

func (r *fakeReceiver) ackCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acks)
}

func drain(q *queue.Queue) []queue.StatusMessage {
	var out []queue.StatusMessage
	for q.Len() > 0 {
		msg, err := q.Dequeue(context.Background())
		if err != nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

const (
	uploadedX    = `{"stage":"UPLOADED","data":{"file":"x.jpg","file_id":"abc:def"}}`
	rootsAddedX  = `{"stage":"ROOTS_ADDED","data":{"file":"x.jpg","file_id":"abc:def","proofset_id":"51"}}`
	uploadedY    = `{"stage":"UPLOADED","data":{"file":"y.jpg","file_id":"ghi:jkl"}}`
	malformedReq = `{"stage":"UPLOADED","data":{}}`
)

func TestListener_ScenarioA_NewUpload(t *testing.T) {
	recv := newFakeReceiver(uploadedX)
	store := tracker.NewStore()
	q := queue.New(8)

	err := NewListener(recv, store, q, Config{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recv.ackCount())

	state, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, tracker.StageUploaded, state.Stage)
	require.Equal(t, "x.jpg", state.File)

	msgs := drain(q)
	require.Len(t, msgs, 1)
	require.Equal(t, "x.jpg,uploaded\n", msgs[0].Line())
	require.Equal(t, queue.SourceIngress, msgs[0].Source)
}

func TestListener_ScenarioB_RootsAdded(t *testing.T) {
	recv := newFakeReceiver(uploadedX, rootsAddedX)
	store := tracker.NewStore()
	q := queue.New(8)

	require.NoError(t, NewListener(recv, store, q, Config{}, zerolog.Nop()).Run(context.Background()))

	state, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, tracker.StageRootsAdded, state.Stage)
	proof, ok := state.ProofSet()
	require.True(t, ok)
	require.Equal(t, "51", proof)

	msgs := drain(q)
	require.Len(t, msgs, 2)
	require.Equal(t, tracker.StatusUploaded, msgs[0].Status)
	require.Equal(t, tracker.StatusStored, msgs[1].Status)
}

func TestListener_DuplicateIsAcknowledgedButNotEmitted(t *testing.T) {
	recv := newFakeReceiver(uploadedX, uploadedX, uploadedX)
	q := queue.New(8)

	require.NoError(t, NewListener(recv, tracker.NewStore(), q, Config{}, zerolog.Nop()).Run(context.Background()))
	require.Equal(t, 3, recv.ackCount())
	require.Len(t, drain(q), 1)
}

func TestListener_NewFileReplacesTracked(t *testing.T) {
	recv := newFakeReceiver(rootsAddedX, uploadedY)
	store := tracker.NewStore()
	q := queue.New(8)

	require.NoError(t, NewListener(recv, store, q, Config{}, zerolog.Nop()).Run(context.Background()))

	state, _ := store.Read()
	require.Equal(t, "y.jpg", state.File)
	require.Equal(t, tracker.StageUploaded, state.Stage)
	require.Len(t, drain(q), 2)
}

func TestListener_MalformedIsFatalByDefault(t *testing.T) {
	recv := newFakeReceiver(uploadedX, malformedReq, uploadedY)
	store := tracker.NewStore()
	q := queue.New(8)

	err := NewListener(recv, store, q, Config{}, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, ErrMalformedPayload)

	// The malformed request was acknowledged before the loop stopped.
	require.Equal(t, 2, recv.ackCount())
	state, _ := store.Read()
	require.Equal(t, "x.jpg", state.File)
	require.Len(t, drain(q), 1)
}

func TestListener_RejectMalformedContinues(t *testing.T) {
	recv := newFakeReceiver(uploadedX, malformedReq, uploadedY)
	store := tracker.NewStore()
	q := queue.New(8)

	err := NewListener(recv, store, q, Config{RejectMalformed: true}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, recv.ackCount())

	state, _ := store.Read()
	require.Equal(t, "y.jpg", state.File)
	require.Len(t, drain(q), 2)
}

func TestListener_QueueFullKeepsServing(t *testing.T) {
	recv := newFakeReceiver(uploadedX, rootsAddedX)
	store := tracker.NewStore()
	q := queue.New(1)
	require.NoError(t, q.Enqueue(queue.StatusMessage{File: "busy", Status: tracker.StatusStored}))

	require.NoError(t, NewListener(recv, store, q, Config{}, zerolog.Nop()).Run(context.Background()))
	require.Equal(t, 2, recv.ackCount())

	// State still advances even though both statuses were dropped.
	state, _ := store.Read()
	require.Equal(t, tracker.StageRootsAdded, state.Stage)
	msgs := drain(q)
	require.Len(t, msgs, 1)
	require.Equal(t, "busy", msgs[0].File)
}

func TestListener_ReceiveErrorIsFatal(t *testing.T) {
	recv := newFakeReceiver()
	recv.recvErr = errors.New("socket broken")

	err := NewListener(recv, tracker.NewStore(), queue.New(1), Config{}, zerolog.Nop()).Run(context.Background())
	require.ErrorContains(t, err, "socket broken")
}

func TestListener_AckErrorIsFatal(t *testing.T) {
	recv := newFakeReceiver(uploadedX)
	recv.ackErr = errors.New("peer gone")
	store := tracker.NewStore()

	err := NewListener(recv, store, queue.New(1), Config{}, zerolog.Nop()).Run(context.Background())
	require.ErrorContains(t, err, "peer gone")

	_, ok := store.Read()
	require.False(t, ok)
}

func TestListener_StopsOnContextCancel(t *testing.T) {
	recv := &fakeReceiver{reqs: make(chan []byte)}
	l := NewListener(recv, tracker.NewStore(), queue.New(1), Config{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
