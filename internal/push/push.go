package push

import (
	"context"
	"errors"

	"github.com/chrisdamba/foodcart/internal/models"
)

var (
	ErrNotConnected = errors.New("push transport is not connected")
	ErrDisconnected = errors.New("push connection lost")
)

type Handler func(models.StatusEvent)

// Transport is one client connection to the push server.
type Transport interface {
	Connect(ctx context.Context) error
	Join(ctx context.Context, orderID string) error
	Leave(ctx context.Context, orderID string) error
	// Run delivers events to handler until the connection drops or ctx is
	// cancelled.
	Run(ctx context.Context, handler Handler) error
	Close() error
}

// Publisher is the server side of the channel.
type Publisher interface {
	Publish(ctx context.Context, event models.StatusEvent) error
}
