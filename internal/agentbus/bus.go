// Package agentbus carries messages between the platform and external
// trading agents over NATS. Directed traffic flows on
// tradefleet.agents.<agent>.<topic>; the platform answers tool calls on
// tradefleet.platform.tools via request/reply.
package agentbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Agent addresses used across the platform.
const (
	// AgentDecision is the LLM decision agent, the only agent allowed to
	// spawn autonomous bots.
	AgentDecision = "decision_agent"

	// AgentPlatform identifies the platform itself as a message source.
	AgentPlatform = "platform"
)

// Topics carried on the agent namespace. The platform sends activation
// and news; agents send heartbeats back.
const (
	TopicActivation = "activation"
	TopicNews       = "news"
	TopicTools      = "tools"
	TopicHeartbeat  = "heartbeat"
)

// DefaultPrefix namespaces per-agent subjects.
const DefaultPrefix = "tradefleet.agents."

// ToolsSubject is the request/reply channel where the platform serves
// tool calls.
const ToolsSubject = "tradefleet.platform.tools"

// Type tags the delivery semantics of a message.
type Type string

const (
	TypeNotification Type = "notification"
	TypeRequest      Type = "request"
	TypeReply        Type = "reply"
	TypeBroadcast    Type = "broadcast"
)

// Message is the envelope exchanged between agents and the platform.
type Message struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Type    Type            `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ts      time.Time       `json:"ts"`
	ReplyTo string          `json:"reply_to,omitempty"`
}

// NewMessage builds a directed message, marshalling payload to JSON.
func NewMessage(from, to, topic string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Message{
		ID:      uuid.New().String(),
		From:    from,
		To:      to,
		Topic:   topic,
		Payload: raw,
		Ts:      time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals the message payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s carries no payload", m.ID)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// RemoteError returns the error a responder attached to a reply, or nil
// when the payload carries none.
func (m *Message) RemoteError() error {
	var p struct {
		Error string `json:"error"`
	}
	if len(m.Payload) == 0 || json.Unmarshal(m.Payload, &p) != nil || p.Error == "" {
		return nil
	}
	return errors.New(p.Error)
}

// Handler consumes one delivered message. An error returned from a
// request handler is sent back to the requester as an error reply.
type Handler func(msg *Message) error

// Config selects the NATS endpoint and subject namespace.
type Config struct {
	URL    string
	Name   string // connection name shown in NATS monitoring
	Prefix string // subject prefix, DefaultPrefix when empty
}

// Bus is the NATS-backed agent messaging fabric.
type Bus struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials NATS and wraps the connection. Reconnects are unbounded
// and transparent to callers.
func Connect(cfg Config, logger zerolog.Logger) (*Bus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Name == "" {
		cfg.Name = "tradefleet"
	}
	busLog := logger.With().Str("component", "agentbus").Logger()

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				busLog.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			busLog.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	busLog.Info().Str("url", cfg.URL).Str("prefix", cfg.Prefix).Msg("Agent bus connected")
	return &Bus{nc: nc, prefix: cfg.Prefix, logger: busLog}, nil
}

// Connected reports whether the underlying connection is live.
func (b *Bus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains the connection. Safe to call more than once.
func (b *Bus) Close() {
	if b.nc != nil && !b.nc.IsClosed() {
		b.nc.Close()
		b.logger.Info().Msg("Agent bus closed")
	}
}

// Send delivers msg to its addressee on prefix.<to>.<topic>. Missing
// identity fields are stamped here.
func (b *Bus) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Type == "" {
		msg.Type = TypeNotification
	}
	return b.publish(b.subject(msg.To, msg.Topic), msg)
}

// Broadcast delivers msg to every agent listening on the topic.
func (b *Bus) Broadcast(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.To = "*"
	msg.Type = TypeBroadcast
	return b.publish(b.subject("*", msg.Topic), msg)
}

// Request sends msg and waits for a reply. The deadline comes from ctx.
func (b *Bus) Request(ctx context.Context, msg *Message) (*Message, error) {
	msg.Type = TypeRequest
	return b.request(ctx, b.subject(msg.To, msg.Topic), msg)
}

// RequestSubject is Request on an explicit subject, bypassing the agent
// namespace. The tool gateway uses it for ToolsSubject.
func (b *Bus) RequestSubject(ctx context.Context, subject string, msg *Message) (*Message, error) {
	msg.Type = TypeRequest
	return b.request(ctx, subject, msg)
}

// Reply answers a request, addressing the reply to its NATS reply inbox.
func (b *Bus) Reply(ctx context.Context, req *Message, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.ReplyTo == "" {
		return fmt.Errorf("message %s has no reply address", req.ID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reply payload: %w", err)
	}
	reply := &Message{
		ID:      uuid.New().String(),
		From:    req.To,
		To:      req.From,
		Type:    TypeReply,
		Topic:   req.Topic,
		Payload: raw,
		Ts:      time.Now().UTC(),
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	if err := b.nc.Publish(req.ReplyTo, data); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// Subscribe receives directed messages for one agent and topic.
func (b *Bus) Subscribe(agent, topic string, handler Handler) (*Subscription, error) {
	return b.subscribe(b.subject(agent, topic), handler)
}

// SubscribeAll receives every directed message addressed to the agent.
func (b *Bus) SubscribeAll(agent string, handler Handler) (*Subscription, error) {
	return b.subscribe(b.prefix+agent+".>", handler)
}

// SubscribeBroadcasts receives broadcast messages on a topic regardless
// of addressee.
func (b *Bus) SubscribeBroadcasts(topic string, handler Handler) (*Subscription, error) {
	return b.subscribe(b.subject("*", topic), handler)
}

// SubscribeSubject subscribes on an explicit subject, bypassing the agent
// namespace. The tool dispatcher serves ToolsSubject through it.
func (b *Bus) SubscribeSubject(subject string, handler Handler) (*Subscription, error) {
	return b.subscribe(subject, handler)
}

func (b *Bus) subject(to, topic string) string {
	return b.prefix + to + "." + topic
}

func (b *Bus) publish(subject string, msg *Message) error {
	if !b.Connected() {
		return fmt.Errorf("agent bus is not connected")
	}
	b.stamp(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	b.logger.Debug().
		Str("message_id", msg.ID).
		Str("from", msg.From).
		Str("to", msg.To).
		Str("topic", msg.Topic).
		Str("subject", subject).
		Msg("Message sent")
	return nil
}

func (b *Bus) request(ctx context.Context, subject string, msg *Message) (*Message, error) {
	if !b.Connected() {
		return nil, fmt.Errorf("agent bus is not connected")
	}
	b.stamp(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	natsMsg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request on %s failed: %w", subject, err)
	}

	var reply Message
	if err := json.Unmarshal(natsMsg.Data, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	b.logger.Debug().
		Str("request_id", msg.ID).
		Str("reply_id", reply.ID).
		Str("to", msg.To).
		Str("topic", msg.Topic).
		Dur("took", time.Since(msg.Ts)).
		Msg("Request answered")
	return &reply, nil
}

func (b *Bus) stamp(msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Ts.IsZero() {
		msg.Ts = time.Now().UTC()
	}
}

func (b *Bus) subscribe(subject string, handler Handler) (*Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(natsMsg *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			b.logger.Warn().Err(err).Str("subject", natsMsg.Subject).Msg("Dropping undecodable message")
			return
		}
		if natsMsg.Reply != "" {
			msg.ReplyTo = natsMsg.Reply
		}

		if err := handler(&msg); err != nil {
			b.logger.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("from", msg.From).
				Str("topic", msg.Topic).
				Msg("Message handler failed")
			// A requester is waiting: turn the handler error into an
			// error reply instead of letting the request time out.
			if msg.Type == TypeRequest && msg.ReplyTo != "" {
				if replyErr := b.Reply(context.Background(), &msg, map[string]string{"error": err.Error()}); replyErr != nil {
					b.logger.Error().Err(replyErr).Msg("Failed to send error reply")
				}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.logger.Info().Str("subject", subject).Msg("Subscribed")
	return &Subscription{sub: sub, subject: subject}, nil
}

// Subscription is one active NATS subscription.
type Subscription struct {
	sub     *nats.Subscription
	subject string
}

// Subject returns the NATS subject the subscription listens on.
func (s *Subscription) Subject() string {
	return s.subject
}

// Unsubscribe detaches the subscription.
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", s.subject, err)
	}
	return nil
}
