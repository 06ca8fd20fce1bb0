// Package nats wraps the NATS connection used by the broadcast layer.
package nats

import (
	"context"
	"fmt"
	"time"

	natspkg "github.com/nats-io/nats.go"
)

// Client owns a single NATS connection.
type Client struct {
	nc *natspkg.Conn
}

// NewClient dials url with reconnects enabled.
func NewClient(url string) (*Client, error) {
	nc, err := natspkg.Connect(url,
		natspkg.Name("relay"),
		natspkg.MaxReconnects(-1),
		natspkg.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Client{nc: nc}, nil
}

// Conn exposes the raw connection for publish/subscribe callers.
func (c *Client) Conn() *natspkg.Conn {
	return c.nc
}

func (c *Client) Close() {
	if c == nil || c.nc == nil {
		return
	}
	c.nc.Close()
}

func (c *Client) IsConnected() bool {
	return c != nil && c.nc != nil && c.nc.Status() == natspkg.CONNECTED
}

// Health reports an error when the connection is not usable.
func (c *Client) Health(_ context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}
