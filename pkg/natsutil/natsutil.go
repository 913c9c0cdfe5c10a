// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation and a delivery attempt header.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// AttemptHeader counts how many times a message has been handled.
const AttemptHeader = "Forumlens-Attempt"

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Delivery is a decoded message.
type Delivery[T any] struct {
	Value T
	// Attempt is 1 for a first delivery.
	Attempt int
	Subject string
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return publish(ctx, nc, subject, v, 0)
}

// Redeliver publishes v again with the attempt counter of d incremented.
func Redeliver[T any](ctx context.Context, nc *nats.Conn, d Delivery[T]) error {
	return publish(ctx, nc, d.Subject, d.Value, d.Attempt)
}

func publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T, attempt int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if attempt > 0 {
		msg.Header.Set(AttemptHeader, strconv.Itoa(attempt))
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the
// handler. Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, Delivery[T])) (*nats.Subscription, error) {
	return nc.Subscribe(subject, dispatch(subject, handler))
}

// QueueSubscribe is Subscribe with a queue group, so each message reaches
// one member of the group.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, Delivery[T])) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, dispatch(subject, handler))
}

func dispatch[T any](subject string, handler func(context.Context, Delivery[T])) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Warn("natsutil: dropping malformed message", "subject", subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, Delivery[T]{Value: v, Attempt: attempt(msg), Subject: msg.Subject})
	}
}

func attempt(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	n, err := strconv.Atoi(msg.Header.Get(AttemptHeader))
	if err != nil || n < 1 {
		return 1
	}
	return n + 1
}
