package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookEventKind enumerates the PSP notifications the order lifecycle reacts to.
type WebhookEventKind string

const (
	// WebhookPaymentSucceeded reports a completed payment for a checkout session.
	WebhookPaymentSucceeded WebhookEventKind = "payment_succeeded"
	// WebhookSessionExpired reports a checkout session that lapsed unpaid.
	WebhookSessionExpired WebhookEventKind = "session_expired"
)

var (
	// ErrWebhookSignature indicates the payload signature did not verify.
	ErrWebhookSignature = errors.New("payments: webhook signature verification failed")
	// ErrWebhookUnhandled indicates an event type the order lifecycle ignores.
	ErrWebhookUnhandled = errors.New("payments: unhandled webhook event")
)

// WebhookEvent is the verified, provider-neutral view of a PSP notification.
type WebhookEvent struct {
	ID        string
	Kind      WebhookEventKind
	SessionID string
	PaidAt    time.Time
}

// WebhookVerifier authenticates raw webhook payloads before any state change.
type WebhookVerifier interface {
	Parse(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// StripeWebhookVerifier verifies Stripe webhook signatures and maps the events
// the order lifecycle consumes.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the given endpoint secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// Parse checks the signature and extracts the session reference. Verification
// happens before the payload is even decoded; a bad signature never reaches
// order state.
func (v *StripeWebhookVerifier) Parse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("stripe: verifier is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, v.secret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	var kind WebhookEventKind
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		kind = WebhookPaymentSucceeded
	case "checkout.session.expired":
		kind = WebhookSessionExpired
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrWebhookUnhandled, event.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode webhook session: %w", err)
	}
	if strings.TrimSpace(session.ID) == "" {
		return WebhookEvent{}, errors.New("stripe: webhook session id is missing")
	}

	// Unpaid completion events (e.g. delayed bank transfers) are settled later
	// by the async success event.
	if kind == WebhookPaymentSucceeded && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return WebhookEvent{}, fmt.Errorf("%w: %s awaiting payment", ErrWebhookUnhandled, event.Type)
	}

	return WebhookEvent{
		ID:        event.ID,
		Kind:      kind,
		SessionID: session.ID,
		PaidAt:    time.Unix(event.Created, 0).UTC(),
	}, nil
}
