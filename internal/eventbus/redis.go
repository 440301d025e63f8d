package eventbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seenimoa/papertrader/internal/ledger"
)

// streamMaxLen caps the event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// publishTimeout bounds each Redis round trip.
const publishTimeout = 2 * time.Second

// RedisConfig holds connection parameters for the Redis client.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
}

// Bus is the transport a Publisher writes to. *RedisBus implements it.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RedisBus implements Bus with Redis pub/sub and streams.
type RedisBus struct {
	rdb *redis.Client
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to Redis and verifies the connection with PING.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisBus{rdb: rdb}, nil
}

// Publish sends payload to a pub/sub channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends payload to a stream trimmed to about streamMaxLen
// entries.
func (b *RedisBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count payloads from stream after lastID ("0"
// reads from the beginning).
func (b *RedisBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([][]byte, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out [][]byte
	for _, s := range res {
		for _, msg := range s.Messages {
			switch v := msg.Values["payload"].(type) {
			case string:
				out = append(out, []byte(v))
			case []byte:
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// Close closes the connection pool.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

// Publisher is a ledger observer that writes every event as JSON to the
// channel "<prefix>:<type>" and, when stream is set, also appends it to
// that stream.
// Publishing blocks on the network, so it should sit behind Async.
type Publisher struct {
	bus    Bus
	prefix string
	stream string
	logger *slog.Logger
}

var _ ledger.Observer = (*Publisher)(nil)

// NewPublisher returns a publisher over bus.
func NewPublisher(bus Bus, prefix, stream string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "papertrader"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, prefix: prefix, stream: stream, logger: logger.With("component", "redis_publisher")}
}

// Channel returns the pub/sub channel for events of type t.
func (p *Publisher) Channel(t ledger.EventType) string {
	return p.prefix + ":" + string(t)
}

// OnEvent publishes ev. Failures are logged.
func (p *Publisher) OnEvent(ev ledger.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode event", "type", ev.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.bus.Publish(ctx, p.Channel(ev.Type), payload); err != nil {
		p.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
	if p.stream == "" {
		return
	}
	if err := p.bus.StreamAppend(ctx, p.stream, payload); err != nil {
		p.logger.Warn("stream append failed", "type", ev.Type, "error", err)
	}
}
