// Package payments talks to the payment provider.
package payments

import (
	"context"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrEventIgnored     = errors.New("webhook event ignored")
	ErrNotConfigured    = errors.New("payment gateway not configured")
)

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	Refund(ctx context.Context, intentID string) (string, error)
	// ParseWebhook verifies and decodes a provider callback.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type IntentRequest struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Email          string
	Metadata       map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

type WebhookEventType string

const (
	EventPaymentSucceeded WebhookEventType = "payment_succeeded"
	EventPaymentFailed    WebhookEventType = "payment_failed"
)

type WebhookEvent struct {
	ID       string
	Type     WebhookEventType
	IntentID string
	Reason   string
}
