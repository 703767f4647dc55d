package stimulus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	backend "github.com/redis/go-redis/v9"

	"github.com/roach88/statenet/internal/fsm"
)

// DefaultTextChannel is the channel whose messages become text events.
const DefaultTextChannel = "statenet:text"

// Bridge turns Redis pub/sub messages into events on a runtime.
//
// Messages on the text channel become text events carrying the message
// body; messages on the tap channel, when one is set, become tap events
// whose payload is the tapped object id.
type Bridge struct {
	client      *backend.Client
	rt          *fsm.Runtime
	logger      *slog.Logger
	textChannel string
	tapChannel  string

	pubsub    *backend.PubSub
	forwarded int
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithTextChannel sets the channel for text messages.
func WithTextChannel(name string) BridgeOption {
	return func(b *Bridge) {
		b.textChannel = name
	}
}

// WithTapChannel also subscribes to name and turns its messages into taps.
func WithTapChannel(name string) BridgeOption {
	return func(b *Bridge) {
		b.tapChannel = name
	}
}

// WithBridgeLogger sets the bridge's logger.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge feeding rt from client.
func NewBridge(client *backend.Client, rt *fsm.Runtime, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		client:      client,
		rt:          rt,
		logger:      slog.Default(),
		textChannel: DefaultTextChannel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Channels returns the channels the bridge subscribes to.
func (b *Bridge) Channels() []string {
	if b.tapChannel == "" {
		return []string{b.textChannel}
	}
	return []string{b.textChannel, b.tapChannel}
}

// Subscribe subscribes to the bridge's channels and waits for Redis to
// confirm, so no message published afterwards is missed.
func (b *Bridge) Subscribe(ctx context.Context) error {
	if b.pubsub != nil {
		return errors.New("bridge already subscribed")
	}
	channels := b.Channels()
	ps := b.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return fmt.Errorf("subscribe %v: %w", channels, err)
		}
	}
	b.pubsub = ps
	b.logger.Info("stimulus bridge subscribed", "channels", channels)
	return nil
}

// Forward injects every received message until ctx is done, the
// subscription is closed, or the run stops accepting events. Returns nil
// in the last two cases.
//
// Must follow a successful Subscribe.
func (b *Bridge) Forward(ctx context.Context) error {
	if b.pubsub == nil {
		return errors.New("bridge not subscribed")
	}
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev := b.event(msg)
			if !b.rt.Inject(ev) {
				b.logger.Info("stimulus bridge stopping: run is over", "forwarded", b.forwarded)
				return nil
			}
			b.forwarded++
			b.logger.Debug("stimulus forwarded", "channel", msg.Channel, "event", ev.String())
		}
	}
}

// Run subscribes and forwards until ctx is done or the run is over.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Subscribe(ctx); err != nil {
		return err
	}
	return b.Forward(ctx)
}

// Forwarded returns how many messages were injected. Only meaningful once
// Forward has returned.
func (b *Bridge) Forwarded() int { return b.forwarded }

func (b *Bridge) event(msg *backend.Message) fsm.Event {
	if b.tapChannel != "" && msg.Channel == b.tapChannel {
		return fsm.NewEvent(fsm.KindTap, nil, msg.Payload)
	}
	return fsm.NewEvent(fsm.KindText, nil, msg.Payload)
}
