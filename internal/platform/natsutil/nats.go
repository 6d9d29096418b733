package natsutil

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syncteam/project/internal/messaging"
	"github.com/syncteam/project/internal/platform/logger"
)

type Client struct {
	Conn *nats.Conn
	JS   jetstream.JetStream
}

func ConnectJetStream(ctx context.Context, url, name string, log *logger.Logger) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}
	if err := messaging.EnsureStreams(ctx, js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectJetStreamWithRetry(ctx context.Context, url, name string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := ConnectJetStream(attemptCtx, url, name, log)
		cancel()
		if err == nil {
			return client, nil
		}
		lastErr = err
		log.Warn("waiting for jetstream", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

// Ready reports whether the connection can currently reach the server.
func (c *Client) Ready() error {
	if c == nil || c.Conn == nil {
		return fmt.Errorf("nats connection is nil")
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", status.String())
	}
	return nil
}

// Close drains the connection: pending publishes are flushed and
// subscriptions are released before the socket closes.
func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}
