// Package bus is the optional cluster control-plane channel: node
// lifecycle and name-registration events fanned out over AMQP via
// watermill, distinct from the wire protocol's direct peer-to-peer TCP
// sessions (internal/cluster/network). Where the wire protocol carries
// actor traffic between two specific nodes, the bus broadcasts
// cluster-wide facts ("node X joined", "node X is down") to every
// subscriber regardless of whether it holds a direct TCP session to X — a
// Watermill publisher/subscriber pair plus a NoPublishHandler router wired
// through fx.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	controlExchange = "actorcore.cluster.control"
	controlTopic    = "node.lifecycle"
)

// EventKind enumerates the facts broadcast over the bus.
type EventKind string

const (
	NodeJoined EventKind = "node_joined"
	NodeLeft   EventKind = "node_left"
	NameBound  EventKind = "name_bound"
)

// Event is the JSON payload carried by every bus message.
type Event struct {
	Kind      EventKind `json:"kind"`
	NodeName  string    `json:"node_name"`
	Addr      string    `json:"addr,omitempty"`
	Name      string    `json:"name,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Handler processes an inbound Event.
type Handler func(Event)

// Bus wraps a Watermill AMQP publisher/subscriber pair bound to the
// cluster control exchange.
type Bus struct {
	nodeName  string
	publisher message.Publisher
	router    *message.Router
	logger    *slog.Logger
}

// New dials amqpURL and builds the publisher/subscriber/router triple.
// The router is started in Start and torn down in Close, not at
// construction time.
func New(amqpURL, nodeName string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)

	pubConfig := amqp.NewDurablePubSubConfig(amqpURL, func(topic string) string {
		return controlExchange
	})
	publisher, err := amqp.NewPublisher(pubConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("bus: new publisher: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("bus: new router: %w", err)
	}

	return &Bus{nodeName: nodeName, publisher: publisher, router: router, logger: logger}, nil
}

// Subscribe registers fn against every control-plane message delivered to
// this node's own queue (one queue per node, so every node sees every
// event via per-node fan-out queue naming).
func (b *Bus) Subscribe(amqpURL string, fn Handler) error {
	subConfig := amqp.NewDurablePubSubConfig(amqpURL, func(topic string) string {
		return fmt.Sprintf("%s.%s", controlExchange, b.nodeName)
	})
	sub, err := amqp.NewSubscriber(subConfig, watermill.NewSlogLogger(b.logger))
	if err != nil {
		return fmt.Errorf("bus: new subscriber: %w", err)
	}

	b.router.AddNoPublisherHandler(
		"cluster_control_"+b.nodeName,
		controlTopic,
		sub,
		bind(b.logger, fn),
	)
	return nil
}

// bind wraps fn with panic recovery and JSON decoding.
func bind(logger *slog.Logger, fn Handler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("cluster bus handler panic recovered",
					slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			}
		}()
		var ev Event
		if jerr := json.Unmarshal(msg.Payload, &ev); jerr != nil {
			logger.Warn("cluster bus decode failed", slog.Any("err", jerr))
			return nil
		}
		fn(ev)
		return nil
	}
}

// Start runs the router in the background until ctx is cancelled.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		if err := b.router.Run(ctx); err != nil {
			b.logger.Error("cluster bus router stopped", slog.Any("err", err))
		}
	}()
}

// Publish broadcasts ev to the control exchange.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	ev.NodeName = b.nodeName
	ev.Timestamp = time.Now().UnixNano()
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	return b.publisher.Publish(controlTopic, msg)
}

// Close shuts the router and publisher down.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return err
	}
	return b.publisher.Close()
}
