package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/diagnosis/pawstay-bookings/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	return n.conn.PublishMsg(msg)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(toMessage(msg))
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(toMessage(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func toMessage(msg *nats.Msg) *Message {
	id := msg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        id,
	}
}

// NopBus drops every event. Used when NATS is not configured.
type NopBus struct{}

func (NopBus) Publish(context.Context, string, interface{}) error  { return nil }
func (NopBus) Subscribe(string, func(*Message)) error              { return nil }
func (NopBus) QueueSubscribe(string, string, func(*Message)) error { return nil }
func (NopBus) Close() error                                        { return nil }

// Event subjects
const (
	HoldCreated   = "hold.created"
	HoldConfirmed = "hold.confirmed"
	HoldReleased  = "hold.released"
	HoldExpired   = "hold.expired"
	HoldCancelled = "hold.cancelled"

	BookingConfirmed = "booking.confirmed"
	BookingCanceled  = "booking.canceled"

	CapacityOverrideSet     = "capacity.override.set"
	CapacityOverrideCleared = "capacity.override.cleared"
	CapacityDefaultsUpdated = "capacity.defaults.updated"

	PaymentIntentCreated = "payment.intent.created"
	PaymentCaptured      = "payment.captured"
	PaymentFailed        = "payment.failed"
	PaymentRefunded      = "payment.refunded"
)

// Event payloads
type HoldEvent struct {
	HoldID     string    `json:"hold_id"`
	ServiceKey string    `json:"service_key"`
	Date       string    `json:"date"`
	Slot       string    `json:"slot"`
	UserEmail  string    `json:"user_email"`
	DogID      string    `json:"dog_id,omitempty"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingEvent struct {
	BookingID  string    `json:"booking_id"`
	HoldID     string    `json:"hold_id"`
	ServiceKey string    `json:"service_key"`
	Date       string    `json:"date"`
	Slot       string    `json:"slot"`
	UserEmail  string    `json:"user_email"`
	Total      string    `json:"total"`
	Currency   string    `json:"currency"`
	Model      string    `json:"model"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type CapacityOverrideEvent struct {
	ServiceKey string    `json:"service_key"`
	DateStart  string    `json:"date_start"`
	DateEnd    string    `json:"date_end"`
	Slot       string    `json:"slot"`
	Capacity   *int      `json:"capacity,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type CapacityDefaultsEvent struct {
	Defaults   map[string]int `json:"defaults"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type PaymentEvent struct {
	BookingID string `json:"booking_id"`
	HoldID    string `json:"hold_id"`
	IntentID  string `json:"intent_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}
