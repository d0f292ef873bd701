package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/platform/textutil"
	"github.com/northwear/api/internal/services"
)

// PubSubEventPublisher fans order and stock lifecycle events out to Pub/Sub
// topics for downstream consumers (fulfilment, analytics, cache warmers).
type PubSubEventPublisher struct {
	orderTopic *pubsub.Topic
	stockTopic *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Either
// topic may be nil, in which case events of that kind are dropped.
func NewPubSubEventPublisher(orderTopic, stockTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil && stockTopic == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic: orderTopic,
		stockTopic: stockTopic,
		marshal:    json.Marshal,
	}, nil
}

var _ services.OrderEventPublisher = (*PubSubEventPublisher)(nil)
var _ services.StockEventPublisher = (*PubSubEventPublisher)(nil)

// PublishOrderEvent enqueues an order lifecycle message on the order topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if p == nil || p.orderTopic == nil {
		return nil
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", string(event.CurrentStatus))

	result := p.orderTopic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishStockEvent enqueues a per-size stock change message on the stock topic.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) error {
	if p == nil || p.stockTopic == nil {
		return nil
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "size", event.Size)

	result := p.stockTopic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish stock event: %w", err)
	}
	return nil
}

// MailMessage is the payload delivered to the mail worker via Pub/Sub.
type MailMessage struct {
	Template    string            `json:"template"`
	Recipient   string            `json:"recipient"`
	OrderID     string            `json:"orderId"`
	OrderNumber string            `json:"orderNumber"`
	Locale      string            `json:"locale,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// PubSubOrderMailer hands customer and operator emails to the mail worker
// queue. Delivery is asynchronous; the worker owns templating and the SMTP hop.
type PubSubOrderMailer struct {
	topic         *pubsub.Topic
	operatorEmail string
	marshal       func(any) ([]byte, error)
}

// NewPubSubOrderMailer constructs a Pub/Sub backed mailer. operatorEmail is the
// staff inbox for new-order alerts and may be empty when alerts are disabled.
func NewPubSubOrderMailer(topic *pubsub.Topic, operatorEmail string) (*PubSubOrderMailer, error) {
	if topic == nil {
		return nil, errors.New("pubsub order mailer: topic is required")
	}
	return &PubSubOrderMailer{
		topic:         topic,
		operatorEmail: strings.TrimSpace(operatorEmail),
		marshal:       json.Marshal,
	}, nil
}

var _ services.OrderMailer = (*PubSubOrderMailer)(nil)

// OrderConfirmation queues the payment confirmation email.
func (m *PubSubOrderMailer) OrderConfirmation(ctx context.Context, order domain.Order) error {
	return m.publish(ctx, "order_confirmation", strings.TrimSpace(order.Customer.Email), order)
}

// OrderCancelled queues the cancellation notice.
func (m *PubSubOrderMailer) OrderCancelled(ctx context.Context, order domain.Order) error {
	return m.publish(ctx, "order_cancelled", strings.TrimSpace(order.Customer.Email), order)
}

// OperatorNotification queues the new-paid-order alert for the shop staff.
func (m *PubSubOrderMailer) OperatorNotification(ctx context.Context, order domain.Order) error {
	if m == nil || m.operatorEmail == "" {
		return errors.New("pubsub order mailer: operator email is not configured")
	}
	return m.publish(ctx, "order_operator_alert", m.operatorEmail, order)
}

func (m *PubSubOrderMailer) publish(ctx context.Context, template string, recipient string, order domain.Order) error {
	if m == nil || m.topic == nil {
		return errors.New("pubsub order mailer: not initialised")
	}
	if recipient == "" {
		return fmt.Errorf("pubsub order mailer: order %s has no recipient email", order.ID)
	}

	msg := MailMessage{
		Template:    template,
		Recipient:   recipient,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Variables: textutil.NormalizeStringMap(map[string]string{
			"customerName": order.Customer.Name,
			"total":        fmt.Sprintf("%d", order.TotalAmount),
			"currency":     order.Currency,
		}),
	}
	data, err := m.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail message: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", template)
	setAttr(attrs, "orderId", order.ID)

	result := m.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish mail message: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
