package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultNATSSubject is the request subject when NATS ingress is enabled.
const DefaultNATSSubject = "pdp.relay.stage"

// NATSConfig configures a NATSReceiver.
type NATSConfig struct {
	URL           string
	Subject       string
	ClientName    string
	ReconnectWait time.Duration
}

// NATSReceiver receives stage changes as NATS requests and acknowledges by
// responding to the request inbox.
type NATSReceiver struct {
	cfg  NATSConfig
	conn *nats.Conn
	sub  *nats.Subscription
	log  zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewNATSReceiver connects to cfg.URL and subscribes to cfg.Subject.
func NewNATSReceiver(cfg NATSConfig, log zerolog.Logger) (*NATSReceiver, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSSubject
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "pdp-relay"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	logger := log.With().Str("component", "nats-receiver").Str("subject", cfg.Subject).Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}

	sub, err := conn.SubscribeSync(cfg.Subject)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.Subject, err)
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("flush subscription to %s: %w", cfg.Subject, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS subscription ready")

	return &NATSReceiver{cfg: cfg, conn: conn, sub: sub, log: logger}, nil
}

// Recv waits for the next request on the subject.
func (r *NATSReceiver) Recv(ctx context.Context) (Request, error) {
	if r.isClosed() {
		return nil, ErrReceiverClosed
	}

	msg, err := r.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.isClosed() || errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, ErrReceiverClosed
		}
		return nil, fmt.Errorf("nats next msg: %w", err)
	}

	return &natsRequest{msg: msg}, nil
}

// Addr returns the subscribed subject.
func (r *NATSReceiver) Addr() string { return r.cfg.Subject }

// Close unsubscribes and closes the connection.
func (r *NATSReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		if uerr := r.sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("unsubscribe: %w", uerr)
		}
		r.conn.Close()
		r.log.Info().Msg("NATS receiver closed")
	})
	return err
}

func (r *NATSReceiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type natsRequest struct {
	msg *nats.Msg
}

func (q *natsRequest) Body() []byte { return q.msg.Data }

// Ack responds to the request inbox. Plain publishes carry no reply subject
// and are acknowledged implicitly.
func (q *natsRequest) Ack(context.Context) error {
	if q.msg.Reply == "" {
		return nil
	}
	if err := q.msg.Respond([]byte(AckToken)); err != nil {
		return fmt.Errorf("nats respond: %w", err)
	}
	return nil
}

var _ Receiver = (*NATSReceiver)(nil)
