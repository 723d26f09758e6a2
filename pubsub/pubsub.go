// Package pubsub carries messages over Redis publish/subscribe, packed with
// msgpack or sent as raw payloads.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tablecache/codec"
	"tablecache/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotSubscribed is returned by Listen before any Subscribe call.
var ErrNotSubscribed = errors.New("no active subscription")

// Message types reported by Listen.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessage     = "message"
	TypePong        = "pong"
)

// Message is one event received from a subscription. For TypeMessage, Data is
// the unpacked payload, or the raw text when unpacking was not requested or
// failed; for subscription events it is the number of active subscriptions.
type Message struct {
	Type    string
	Channel string
	Data    any
}

// PubSub publishes and receives packed messages on one Redis connection.
type PubSub struct {
	client redis.UniversalClient
	logger *zap.Logger

	mu  sync.Mutex
	sub *redis.PubSub
}

// New creates a PubSub on client. A nil logger uses the global logger.
func New(client redis.UniversalClient, logger *zap.Logger) *PubSub {
	return &PubSub{
		client: client,
		logger: core.LoggerOrDefault(logger),
	}
}

// Subscribe adds channels to the subscription, opening it on first use.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		p.sub = p.client.Subscribe(ctx)
	}
	if err := p.sub.Subscribe(ctx, channels...); err != nil {
		p.logger.Error("failed to subscribe",
			zap.Strings("channels", channels),
			zap.Error(err))
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes channels from the subscription.
func (p *PubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		return nil
	}
	if err := p.sub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// Publish publishes payload on channel and returns the number of receivers.
// With pack the payload is msgpack-encoded, otherwise it is sent as is and must
// be a string, a []byte or a number.
func (p *PubSub) Publish(ctx context.Context, channel string, payload any, pack bool) (int64, error) {
	data := payload
	if pack {
		packed, err := codec.Pack(payload)
		if err != nil {
			return 0, err
		}
		data = packed
	}

	n, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		p.logger.Error("failed to publish",
			zap.String("channel", channel),
			zap.Error(err))
		return 0, fmt.Errorf("failed to publish: %w", err)
	}
	return n, nil
}

// Listen blocks until the next event arrives on the subscription or ctx is done.
// With pack, message payloads are unpacked.
func (p *PubSub) Listen(ctx context.Context, pack bool) (*Message, error) {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()

	if sub == nil {
		return nil, ErrNotSubscribed
	}

	msg, err := sub.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive: %w", err)
	}

	switch m := msg.(type) {
	case *redis.Subscription:
		return &Message{Type: m.Kind, Channel: m.Channel, Data: int64(m.Count)}, nil
	case *redis.Message:
		if !pack {
			return &Message{Type: TypeMessage, Channel: m.Channel, Data: m.Payload}, nil
		}
		return &Message{Type: TypeMessage, Channel: m.Channel, Data: p.unpack(m)}, nil
	case *redis.Pong:
		return &Message{Type: TypePong, Data: m.Payload}, nil
	default:
		return nil, fmt.Errorf("unexpected pubsub event %T", msg)
	}
}

func (p *PubSub) unpack(m *redis.Message) any {
	value, err := codec.Unpack([]byte(m.Payload))
	if err != nil {
		p.logger.Error("failed to unpack pubsub payload",
			zap.String("channel", m.Channel),
			zap.Error(err))
		return m.Payload
	}
	return value
}

// Close closes the subscription.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		return nil
	}
	err := p.sub.Close()
	p.sub = nil
	return err
}
