package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
	"github.com/cyra/logan/internal/parser"
)

// NATS publishes one JSON message per record. With JetStream enabled a
// batch succeeds only once every message is acknowledged; core NATS
// publishes are confirmed with a flush round trip.
type NATS struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	timeout time.Duration
	logger  *logging.Logger

	now  func() time.Time
	send func(ctx context.Context, msgs [][]byte) error
}

// NewNATS connects to the configured server.
func NewNATS(cfg *config.NATSConfig, logger *logging.Logger) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("logan"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATS{
		conn:    conn,
		subject: cfg.Subject,
		timeout: cfg.Timeout,
		logger:  logger,
		now:     time.Now,
	}
	n.send = n.sendCore

	if cfg.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		n.js = js
		n.send = n.sendJetStream
	}
	return n, nil
}

func (n *NATS) Name() string {
	if n.js != nil {
		return "jetstream"
	}
	return "nats"
}

func (n *NATS) Insert(ctx context.Context, batch []parser.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}

	now := n.now()
	msgs := make([][]byte, 0, len(batch))
	for i := range batch {
		data, err := json.Marshal(NewRow(&batch[i], now))
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i+1, err)
		}
		msgs = append(msgs, data)
	}
	return n.send(ctx, msgs)
}

func (n *NATS) sendCore(ctx context.Context, msgs [][]byte) error {
	for _, m := range msgs {
		if err := n.conn.Publish(n.subject, m); err != nil {
			return fmt.Errorf("publish %s: %w", n.subject, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) sendJetStream(ctx context.Context, msgs [][]byte) error {
	futures := make([]nats.PubAckFuture, 0, len(msgs))
	for _, m := range msgs {
		f, err := n.js.PublishAsync(n.subject, m)
		if err != nil {
			return fmt.Errorf("publish %s: %w", n.subject, err)
		}
		futures = append(futures, f)
	}

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()
	select {
	case <-n.js.PublishAsyncComplete():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish %s: no ack within %s", n.subject, n.timeout)
	}

	for i, f := range futures {
		select {
		case err := <-f.Err():
			return fmt.Errorf("publish %s message %d: %w", n.subject, i+1, err)
		default:
		}
	}
	return nil
}

func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
