package ingress

import (
	"context"
	"errors"
)

// AckToken is the fixed reply sent for every request.
const AckToken = "ACK"

// ErrReceiverClosed is returned by Recv after Close.
var ErrReceiverClosed = errors.New("ingress receiver closed")

// Request is one received message awaiting its acknowledgement.
type Request interface {
	Body() []byte
	// Ack sends AckToken back to the requester. It must be called exactly once
	// before the next Recv.
	Ack(ctx context.Context) error
}

// Receiver delivers request/acknowledge turns one at a time.
type Receiver interface {
	Recv(ctx context.Context) (Request, error)
	Addr() string
	Close() error
}
