// Package bus carries mutation commands from the gateway to the domain
// service and mutation results back.
//
// Delivery is ordered and at-least-once per routing key. A Handler returning
// an error asks for redelivery; handlers must therefore be idempotent.
package bus

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("bus: closed")

const (
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeText     = "text/plain"
)

// Message is one bus delivery.
type Message struct {
	ID          string
	RoutingKey  string
	ContentType string
	Body        []byte
}

// Handler processes one message. Returning nil acknowledges it.
type Handler func(ctx context.Context, m Message) error

type Bus interface {
	// Publish hands m to the bus and returns; it does not wait for consumers.
	Publish(ctx context.Context, m Message) error
	// Subscribe consumes routingKey sequentially until ctx is done or the bus
	// fails. It returns ctx.Err() on cancellation.
	Subscribe(ctx context.Context, routingKey string, h Handler) error
	Close(ctx context.Context) error
}
