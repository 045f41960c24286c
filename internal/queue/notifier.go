package queue

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// jobsSubject carries wake-up pings. The message body is empty; workers
// treat any publication as "poll now" and still fall back to interval
// polling, so lost messages only cost latency, never correctness.
const jobsSubject = "docforge.jobs.ready"

// Notifier wakes idle workers when new work is enqueued.
type Notifier interface {
	NotifyJobReady() error
	// Subscribe registers a wake-up callback and returns an unsubscribe.
	Subscribe(fn func()) (func(), error)
	Close()
}

// NATSNotifier publishes and subscribes wake-up pings over NATS.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("docforge"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

func (n *NATSNotifier) NotifyJobReady() error {
	if err := n.conn.Publish(jobsSubject, nil); err != nil {
		return fmt.Errorf("publish job notification: %w", err)
	}
	return nil
}

func (n *NATSNotifier) Subscribe(fn func()) (func(), error) {
	sub, err := n.conn.Subscribe(jobsSubject, func(*nats.Msg) { fn() })
	if err != nil {
		return nil, fmt.Errorf("subscribe job notifications: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (n *NATSNotifier) Close() {
	n.conn.Close()
}

// NoopNotifier is used when NATS is not configured; workers rely on
// interval polling alone.
type NoopNotifier struct{}

func (NoopNotifier) NotifyJobReady() error            { return nil }
func (NoopNotifier) Subscribe(func()) (func(), error) { return func() {}, nil }
func (NoopNotifier) Close()                           {}
