// Package bus implements an optional message-bus contract over Redis
// Streams: XADD for publish, consumer groups (XREADGROUP/XACK) for
// at-least-once delivery, and XAUTOCLAIM to reclaim messages a consumer
// abandoned mid-flight. Nothing in the core transaction path depends on
// it; plugins use it for outbox projection and hot-account fan-out
// notifications.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/summa-ledger/summa/common/mlog"
	"github.com/summa-ledger/summa/common/mredis"
)

// PublishOptions controls stream trimming on publish.
type PublishOptions struct {
	// MaxLen approximately caps the stream length via XADD's "~" trim
	// modifier. Zero means no trimming.
	MaxLen int64
}

// Bus wraps a Redis client with the publish/subscribe/ensureGroup/ping
// operations that make up the message-bus contract.
type Bus struct {
	conn   *mredis.RedisConnection
	logger mlog.Logger
}

// New builds a Bus over an already-configured RedisConnection.
func New(conn *mredis.RedisConnection, logger mlog.Logger) *Bus {
	return &Bus{conn: conn, logger: logger}
}

// Publish appends payload, marshaled to JSON, to topic via XADD. Approximate
// trimming keeps the stream bounded when opts.MaxLen is set.
func (b *Bus) Publish(ctx context.Context, topic string, payload any, opts PublishOptions) (string, error) {
	rdb, err := b.conn.GetDB(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"payload": body},
	}

	if opts.MaxLen > 0 {
		args.MaxLen = opts.MaxLen
		args.Approx = true
	}

	return rdb.XAdd(ctx, args).Result()
}

// EnsureGroup creates the consumer group on topic starting from the
// beginning of the stream, creating the stream itself if absent. It is
// idempotent: an existing group is not an error.
func (b *Bus) EnsureGroup(ctx context.Context, topic, group string) error {
	rdb, err := b.conn.GetDB(ctx)
	if err != nil {
		return err
	}

	err = rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}

	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Ping verifies connectivity to the backing Redis instance.
func (b *Bus) Ping(ctx context.Context) error {
	rdb, err := b.conn.GetDB(ctx)
	if err != nil {
		return err
	}

	return rdb.Ping(ctx).Err()
}

// SubscribeOptions configures a consumer group reader.
type SubscribeOptions struct {
	Group               string
	Consumer            string
	BatchSize           int64
	BlockMs             time.Duration
	PendingClaimAfterMs time.Duration
}

func (o SubscribeOptions) withDefaults() SubscribeOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}

	if o.BlockMs <= 0 {
		o.BlockMs = 5 * time.Second
	}

	if o.PendingClaimAfterMs <= 0 {
		o.PendingClaimAfterMs = time.Minute
	}

	return o
}

// Handle stops a running Subscribe loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the subscription and waits for its goroutine to exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Message is one delivered stream entry.
type Message struct {
	ID      string
	Payload json.RawMessage
}

// Subscribe starts a goroutine that reads topic via a consumer group,
// periodically reclaims messages idle past PendingClaimAfterMs (XAUTOCLAIM),
// and invokes handler for every delivered message, ACKing on success. A
// handler error leaves the message pending for the next claim cycle, giving
// at-least-once delivery.
func (b *Bus) Subscribe(ctx context.Context, topic string, opts SubscribeOptions, handler func(context.Context, Message) error) (*Handle, error) {
	opts = opts.withDefaults()

	if err := b.EnsureGroup(ctx, topic, opts.Group); err != nil {
		return nil, err
	}

	rdb, err := b.conn.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		b.loop(ctx, rdb, topic, opts, handler)
	}()

	return &Handle{cancel: cancel, done: done}, nil
}

func (b *Bus) loop(ctx context.Context, rdb *redis.Client, topic string, opts SubscribeOptions, handler func(context.Context, Message) error) {
	claimTicker := time.NewTicker(opts.PendingClaimAfterMs)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-claimTicker.C:
			b.reclaim(ctx, rdb, topic, opts, handler)
		default:
		}

		streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    opts.Group,
			Consumer: opts.Consumer,
			Streams:  []string{topic, ">"},
			Count:    opts.BatchSize,
			Block:    opts.BlockMs,
		}).Result()

		switch {
		case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled):
			continue
		case err != nil:
			b.logf("bus: subscribe %s: %v", topic, err)
			continue
		}

		for _, stream := range streams {
			b.deliver(ctx, rdb, topic, opts.Group, stream.Messages, handler)
		}
	}
}

func (b *Bus) reclaim(ctx context.Context, rdb *redis.Client, topic string, opts SubscribeOptions, handler func(context.Context, Message) error) {
	msgs, _, err := rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    opts.Group,
		Consumer: opts.Consumer,
		MinIdle:  opts.PendingClaimAfterMs,
		Start:    "0",
		Count:    opts.BatchSize,
	}).Result()
	if err != nil {
		b.logf("bus: reclaim %s: %v", topic, err)
		return
	}

	b.deliver(ctx, rdb, topic, opts.Group, msgs, handler)
}

func (b *Bus) deliver(ctx context.Context, rdb *redis.Client, topic, group string, msgs []redis.XMessage, handler func(context.Context, Message) error) {
	for _, m := range msgs {
		raw, _ := m.Values["payload"].(string)

		if err := handler(ctx, Message{ID: m.ID, Payload: json.RawMessage(raw)}); err != nil {
			b.logf("bus: handler failed for %s %s: %v", topic, m.ID, err)
			continue
		}

		if err := rdb.XAck(ctx, topic, group, m.ID).Err(); err != nil {
			b.logf("bus: ack failed for %s %s: %v", topic, m.ID, err)
		}
	}
}

func (b *Bus) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Errorf(format, args...)
	}
}
