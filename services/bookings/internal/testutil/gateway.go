package testutil

import (
	"context"
	"sync"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
)

var _ payments.Gateway = (*FakeGateway)(nil)

// FakeGateway mimics a payment provider that honours idempotency keys.
type FakeGateway struct {
	mu      sync.Mutex
	intents map[string]payments.Intent
	byKey   map[string]string
	Created []payments.IntentRequest
	Refunds []string

	RefundErr error
	// Webhook is returned by ParseWebhook when non-nil.
	Webhook    *payments.WebhookEvent
	WebhookErr error
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{intents: make(map[string]payments.Intent), byKey: make(map[string]string)}
}

func (g *FakeGateway) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		return g.intents[id], nil
	}
	id := "pi_" + req.IdempotencyKey
	in := payments.Intent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}
	g.intents[id] = in
	g.byKey[req.IdempotencyKey] = id
	g.Created = append(g.Created, req)
	return in, nil
}

func (g *FakeGateway) GetIntent(_ context.Context, id string) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents[id], nil
}

func (g *FakeGateway) Refund(_ context.Context, intentID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RefundErr != nil {
		return "", g.RefundErr
	}
	g.Refunds = append(g.Refunds, intentID)
	return "re_" + intentID, nil
}

func (g *FakeGateway) ParseWebhook([]byte, string) (*payments.WebhookEvent, error) {
	if g.WebhookErr != nil {
		return nil, g.WebhookErr
	}
	return g.Webhook, nil
}
