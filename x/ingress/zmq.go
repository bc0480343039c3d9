package ingress

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// DefaultBindAddress is where the uploader's REQ socket connects.
const DefaultBindAddress = "tcp://127.0.0.1:5555"

// ZMQReceiver is a ZeroMQ REP socket. REP enforces the strict
// one-request-one-reply alternation of the protocol.
type ZMQReceiver struct {
	addr   string
	sock   zmq4.Socket
	cancel context.CancelFunc
	log    zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewZMQReceiver binds a REP socket on addr.
func NewZMQReceiver(ctx context.Context, addr string, log zerolog.Logger) (*ZMQReceiver, error) {
	sockCtx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewRep(sockCtx)
	if err := sock.Listen(addr); err != nil {
		cancel()
		_ = sock.Close()
		return nil, fmt.Errorf("bind zmq socket on %s: %w", addr, err)
	}

	r := &ZMQReceiver{
		addr:   addr,
		sock:   sock,
		cancel: cancel,
		log:    log.With().Str("component", "zmq-receiver").Str("addr", addr).Logger(),
	}
	r.log.Info().Msg("ZeroMQ REP socket bound")
	return r, nil
}

// Recv blocks until the next request arrives.
func (r *ZMQReceiver) Recv(ctx context.Context) (Request, error) {
	if r.isClosed() {
		return nil, ErrReceiverClosed
	}

	type result struct {
		msg zmq4.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := r.sock.Recv()
		ch <- result{msg: msg, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if r.isClosed() {
				return nil, ErrReceiverClosed
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("zmq recv: %w", res.err)
		}
		return &zmqRequest{sock: r.sock, body: joinFrames(res.msg.Frames)}, nil
	case <-ctx.Done():
		// The pending Recv is released when the socket is closed.
		return nil, ctx.Err()
	}
}

// Addr returns the bound endpoint.
func (r *ZMQReceiver) Addr() string { return r.addr }

// Close unbinds the socket and releases a pending Recv.
func (r *ZMQReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.cancel()
		err = r.sock.Close()
		r.log.Info().Msg("ZeroMQ REP socket closed")
	})
	return err
}

func (r *ZMQReceiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type zmqRequest struct {
	sock zmq4.Socket
	body []byte
}

func (q *zmqRequest) Body() []byte { return q.body }

func (q *zmqRequest) Ack(context.Context) error {
	if err := q.sock.Send(zmq4.NewMsgString(AckToken)); err != nil {
		return fmt.Errorf("zmq send ack: %w", err)
	}
	return nil
}

func joinFrames(frames [][]byte) []byte {
	if len(frames) == 1 {
		return frames[0]
	}
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

var _ Receiver = (*ZMQReceiver)(nil)
