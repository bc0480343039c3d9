package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/compose-network/pdp-relay/x/ingress"
)

// StageChange mirrors the request the uploader sends to the relay.
type StageChange struct {
	Stage string    `json:"stage"`
	Data  StageData `json:"data"`
}

type StageData struct {
	File       string  `json:"file"`
	FileID     string  `json:"file_id"`
	ProofSetID *string `json:"proofset_id,omitempty"`
}

// Sender delivers one request and waits for the acknowledgement.
type Sender interface {
	Send(ctx context.Context, body []byte) (string, error)
	Close() error
}

// zmqSender is a REQ socket, the counterpart of the relay's REP socket.
type zmqSender struct {
	sock zmq4.Socket
}

func newZMQSender(ctx context.Context, addr string) (*zmqSender, error) {
	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &zmqSender{sock: sock}, nil
}

func (s *zmqSender) Send(ctx context.Context, body []byte) (string, error) {
	if err := s.sock.Send(zmq4.NewMsg(body)); err != nil {
		return "", fmt.Errorf("zmq send: %w", err)
	}

	type result struct {
		msg zmq4.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := s.sock.Recv()
		ch <- result{msg: msg, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("zmq recv: %w", res.err)
		}
		return string(res.msg.Bytes()), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *zmqSender) Close() error { return s.sock.Close() }

type natsSender struct {
	conn    *nats.Conn
	subject string
}

func newNATSSender(url, subject string) (*natsSender, error) {
	conn, err := nats.Connect(url, nats.Name("pdp-relay-test-app"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &natsSender{conn: conn, subject: subject}, nil
}

func (s *natsSender) Send(ctx context.Context, body []byte) (string, error) {
	msg, err := s.conn.RequestWithContext(ctx, s.subject, body)
	if err != nil {
		return "", fmt.Errorf("nats request: %w", err)
	}
	return string(msg.Data), nil
}

func (s *natsSender) Close() error {
	s.conn.Close()
	return nil
}

// Producer simulates the uploader walking a file through its stages.
type Producer struct {
	sender Sender
	log    zerolog.Logger
}

func NewProducer(sender Sender, log zerolog.Logger) *Producer {
	return &Producer{sender: sender, log: log.With().Str("component", "producer").Logger()}
}

// Announce sends one stage change and checks the acknowledgement.
func (p *Producer) Announce(ctx context.Context, change StageChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode stage change: %w", err)
	}

	start := time.Now()
	reply, err := p.sender.Send(ctx, body)
	if err != nil {
		return err
	}
	if reply != ingress.AckToken {
		return fmt.Errorf("unexpected reply %q", reply)
	}

	p.log.Info().
		Str("stage", change.Stage).
		Str("file", change.Data.File).
		Dur("latency", time.Since(start)).
		Msg("Stage change acknowledged")
	return nil
}

// Walk announces UPLOADED and, after delay, ROOTS_ADDED for the same file.
func (p *Producer) Walk(ctx context.Context, file, fileID, proofSetID string, delay time.Duration) error {
	if err := p.Announce(ctx, StageChange{
		Stage: "UPLOADED",
		Data:  StageData{File: file, FileID: fileID},
	}); err != nil {
		return fmt.Errorf("announce UPLOADED: %w", err)
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.Announce(ctx, StageChange{
		Stage: "ROOTS_ADDED",
		Data:  StageData{File: file, FileID: fileID, ProofSetID: &proofSetID},
	}); err != nil {
		return fmt.Errorf("announce ROOTS_ADDED: %w", err)
	}
	return nil
}
