// Package event provides a pub/sub event bus for server lifecycle and tool
// invocation notifications, built on watermill's gochannel transport.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/telnet2/mcpchat/internal/logging"
)

// Type identifies the kind of event.
type Type string

const (
	ServerConnecting   Type = "server.connecting"
	ServerReady        Type = "server.ready"
	ServerFailed       Type = "server.failed"
	ServerDisconnected Type = "server.disconnected"
	RegistryRefreshed  Type = "registry.refreshed"
	ToolInvoked        Type = "tool.invoked"
	ConfigChanged      Type = "config.changed"
)

// AllTypes returns every defined event type, for subscribers that want the
// whole stream.
func AllTypes() []Type {
	return []Type{
		ServerConnecting,
		ServerReady,
		ServerFailed,
		ServerDisconnected,
		RegistryRefreshed,
		ToolInvoked,
		ConfigChanged,
	}
}

// Event is a single notification published on the bus. Data carries an
// event-specific JSON payload; subscribers decode what they care about.
type Event struct {
	Type   Type            `json:"type"`
	Server string          `json:"server,omitempty"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// New builds an Event, marshaling data into the payload. A nil data leaves
// the payload empty. Marshal failures are logged and produce an empty payload
// rather than blocking the publisher.
func New(t Type, server string, data any) Event {
	evt := Event{Type: t, Server: server, Time: time.Now()}
	if data == nil {
		return evt
	}
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Warn().Err(err).Str("event", string(t)).Msg("failed to marshal event payload")
		return evt
	}
	evt.Data = raw
	return evt
}

// Bus is a topic-per-event-type pub/sub bus. Publishing never blocks on slow
// subscribers beyond the configured channel buffer.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 64,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends an event to all subscribers of its type. Events published
// after Close are dropped.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		logging.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to marshal event")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(string(evt.Type), msg); err != nil {
		logging.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to publish event")
	}
}

// Subscribe returns a channel delivering events of the given types until ctx
// is canceled or the bus is closed. The returned channel is closed once all
// underlying subscriptions end.
func (b *Bus) Subscribe(ctx context.Context, types ...Type) (<-chan Event, error) {
	out := make(chan Event, 16)
	var wg sync.WaitGroup

	for _, t := range types {
		msgs, err := b.pubsub.Subscribe(ctx, string(t))
		if err != nil {
			return nil, err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				var evt Event
				if err := json.Unmarshal(msg.Payload, &evt); err != nil {
					logging.Warn().Err(err).Msg("dropping undecodable event")
					msg.Ack()
					continue
				}
				msg.Ack()
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// Close shuts down the bus. All subscriber channels are closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.pubsub.Close()
}
