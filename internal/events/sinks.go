package events

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on Redis pub/sub channels.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink connects to addr and verifies the connection.
func NewRedisSink(ctx context.Context, opts *redis.Options) (*RedisSink, error) {
	if opts == nil || opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisSink{client: client}, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, subject string, data []byte) error {
	return s.client.Publish(ctx, subject, data).Err()
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// NATSSink publishes events on NATS subjects.
type NATSSink struct {
	Conn *nats.Conn
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("modelwatch"))
	if err != nil {
		return nil, err
	}
	return &NATSSink{Conn: conn}, nil
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Send implements Sink.
func (s *NATSSink) Send(_ context.Context, subject string, data []byte) error {
	return s.Conn.Publish(subject, data)
}

// Close implements Sink.
func (s *NATSSink) Close() error {
	if s.Conn == nil {
		return nil
	}
	err := s.Conn.Drain()
	s.Conn.Close()
	return err
}
