// Package eventbus implements the subscription-based push channel of design
// §4.6: it tracks subscribers, fans out status and membership changes, and
// handles liveness pings.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/orchestrator"
)

// OutboundKind discriminates the outbound tagged union (design §4.6).
type OutboundKind string

const (
	KindServerStatus OutboundKind = "server_status"
	KindServerUpdate OutboundKind = "server_update"
	KindError        OutboundKind = "error"
	KindPong         OutboundKind = "pong"
)

// Outbound is one message sent to a subscriber.
type Outbound struct {
	Type        OutboundKind           `json:"type"`
	ServerID    string                 `json:"serverId,omitempty"`
	Status      orchestrator.Status   `json:"status,omitempty"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	UpdateStage orchestrator.UpdateStage `json:"updateStage,omitempty"`
	Action      string                 `json:"action,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Code        string                 `json:"code,omitempty"`
}

// InboundKind discriminates the inbound tagged union (design §4.6).
type InboundKind string

const (
	InSubscribe   InboundKind = "subscribe"
	InUnsubscribe InboundKind = "unsubscribe"
	InPing        InboundKind = "ping"
)

// Inbound is one message received from a subscriber.
type Inbound struct {
	Type     InboundKind `json:"type"`
	ServerID string      `json:"serverId,omitempty"`
}

// Sink is the per-subscriber outbound transport: no ordering guarantee
// across subscribers, in-order per subscriber (design §4.6).
type Sink interface {
	Send(Outbound) error
}

type subscriber struct {
	id      string
	sink    Sink
	mu      sync.Mutex
	all     bool
	servers map[string]bool
}

// Bus is the in-process event fan-out implementing orchestrator.Publisher.
type Bus struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// New constructs an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:         log.With().Str("component", "eventbus").Logger(),
		subscribers: make(map[string]*subscriber),
	}
}

// Register adds a new subscriber bound to sink and returns its id plus a
// function to remove it (call on disconnect).
func (b *Bus) Register(sink Sink) (string, func()) {
	id := uuid.NewString()
	sub := &subscriber{id: id, sink: sink, servers: make(map[string]bool)}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// HandleInbound applies a client message's effect on its own subscriber
// state, or returns a pong/error to send back (design §4.6).
func (b *Bus) HandleInbound(subscriberID string, msg Inbound) *Outbound {
	b.mu.RLock()
	sub, ok := b.subscribers[subscriberID]
	b.mu.RUnlock()
	if !ok {
		return &Outbound{Type: KindError, Message: "unknown subscriber"}
	}

	switch msg.Type {
	case InSubscribe:
		sub.mu.Lock()
		if msg.ServerID == "" {
			sub.all = true
		} else {
			sub.servers[msg.ServerID] = true
		}
		sub.mu.Unlock()
		return nil
	case InUnsubscribe:
		sub.mu.Lock()
		if msg.ServerID == "" {
			sub.all = false
		} else {
			delete(sub.servers, msg.ServerID)
		}
		sub.mu.Unlock()
		return nil
	case InPing:
		return &Outbound{Type: KindPong}
	default:
		return &Outbound{Type: KindError, Message: "unknown message type"}
	}
}

// publish delivers msg to every subscriber targeting serverID. Delivery
// failures to one subscriber are logged and never block others (design
// §4.6).
func (b *Bus) publish(serverID string, msg Outbound) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		sub.mu.Lock()
		interested := sub.all || sub.servers[serverID]
		sub.mu.Unlock()
		if interested {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.sink.Send(msg); err != nil {
			b.log.Warn().Err(err).Str("subscriber_id", sub.id).Msg("failed to deliver event, keeping subscriber")
		}
	}
}

// PublishStatus implements orchestrator.Publisher.
func (b *Bus) PublishStatus(serverID string, status orchestrator.Status, startedAt *time.Time, stage orchestrator.UpdateStage) {
	b.publish(serverID, Outbound{
		Type:        KindServerStatus,
		ServerID:    serverID,
		Status:      status,
		StartedAt:   startedAt,
		UpdateStage: stage,
	})
}

// PublishMembership implements orchestrator.Publisher.
func (b *Bus) PublishMembership(serverID string, action string) {
	b.publish(serverID, Outbound{
		Type:     KindServerUpdate,
		ServerID: serverID,
		Action:   action,
	})
}
