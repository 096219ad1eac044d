package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/maplewear/api/internal/services"
)

// PubSubEventPublisher publishes order, return, and stock lifecycle events to
// their Pub/Sub topics. Any topic may be nil; publishing to a missing topic
// returns an error which callers log and swallow, it never fails the
// originating operation.
type PubSubEventPublisher struct {
	orderTopic  *pubsub.Topic
	returnTopic *pubsub.Topic
	stockTopic  *pubsub.Topic
	marshal     func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(orderTopic, returnTopic, stockTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil && returnTopic == nil && stockTopic == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic:  orderTopic,
		returnTopic: returnTopic,
		stockTopic:  stockTopic,
		marshal:     json.Marshal,
	}, nil
}

// PublishOrderEvent emits an order lifecycle event.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orderTopic == nil {
		return errors.New("pubsub event publisher: order topic not configured")
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderCode", event.OrderCode)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "fromStatus", string(event.FromStatus))
	setAttr(attrs, "toStatus", string(event.ToStatus))

	return p.publish(ctx, p.orderTopic, "order event", event, attrs)
}

// PublishReturnEvent emits a return lifecycle event.
func (p *PubSubEventPublisher) PublishReturnEvent(ctx context.Context, event services.ReturnEvent) error {
	if p == nil || p.returnTopic == nil {
		return errors.New("pubsub event publisher: return topic not configured")
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "returnId", event.ReturnID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderItemId", event.OrderItemID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", string(event.Status))

	return p.publish(ctx, p.returnTopic, "return event", event, attrs)
}

// PublishStockEvent emits a stock adjustment event.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	if p == nil || p.stockTopic == nil {
		return errors.New("pubsub event publisher: stock topic not configured")
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "variantId", event.VariantID)
	setAttr(attrs, "sku", event.SKU)
	setAttr(attrs, "orderId", event.OrderID)
	attrs["delta"] = strconv.FormatInt(event.Delta, 10)

	return p.publish(ctx, p.stockTopic, "stock event", event, attrs)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic *pubsub.Topic, kind string, payload any, attrs map[string]string) error {
	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var (
	_ services.OrderEventPublisher  = (*PubSubEventPublisher)(nil)
	_ services.ReturnEventPublisher = (*PubSubEventPublisher)(nil)
	_ services.StockEventPublisher  = (*PubSubEventPublisher)(nil)
)
