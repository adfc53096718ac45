package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dmitrijs2005/medvault/internal/logging"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject.
const DefaultSubjectPrefix = "medvault.events"

type natsPublisher interface {
	Publish(subj string, data []byte) error
}

// NATSBridge forwards bus events to NATS subjects "<prefix>.<type>".
type NATSBridge struct {
	nc     natsPublisher
	conn   *nats.Conn
	prefix string
	log    logging.Logger
}

// ConnectNATS dials url and returns a bridge that owns the connection.
func ConnectNATS(url, prefix string, log logging.Logger) (*NATSBridge, error) {
	ctx := context.Background()
	opts := []nats.Option{
		nats.Name("medvault"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn(ctx, "NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(ctx, "NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := newNATSBridge(conn, prefix, log)
	b.conn = conn
	return b, nil
}

func newNATSBridge(nc natsPublisher, prefix string, log logging.Logger) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSBridge{nc: nc, prefix: prefix, log: log}
}

func (b *NATSBridge) Subject(t Type) string {
	return b.prefix + "." + string(t)
}

// Publish sends one event. Failures are logged; events are best effort.
func (b *NATSBridge) Publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.log.Error(ctx, "failed to encode event", "type", e.Type, "error", err)
		return
	}
	if err := b.nc.Publish(b.Subject(e.Type), data); err != nil {
		b.log.Warn(ctx, "failed to publish event to NATS", "type", e.Type, "error", err)
	}
}

// Run forwards every event of bus until ctx is done or the bus is closed.
func (b *NATSBridge) Run(ctx context.Context, bus *Bus) {
	ch, cancel := bus.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b.Publish(ctx, e)
		}
	}
}

// Close drains and closes the owned connection, if any.
func (b *NATSBridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
