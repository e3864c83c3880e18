// Package messaging publishes domain activity to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS configuration
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns connection settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "mariscope",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 5 * time.Second,
	}
}

// Client wraps a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu         sync.RWMutex
	connected  bool
	reconnects int
	subs       []*nats.Subscription
}

// NewClient connects to NATS.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{logger: logger}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			client.mu.Lock()
			client.reconnects++
			client.connected = true
			client.mu.Unlock()
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			client.mu.Lock()
			client.connected = false
			client.mu.Unlock()
			logger.Warn("nats disconnected", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client.mu.Lock()
	client.conn = conn
	client.connected = true
	client.mu.Unlock()

	return client, nil
}

// Publish marshals data as JSON and publishes it on subject.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers JSON messages on subject to handler.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// IsConnected reports the last observed connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.connected = false
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}
