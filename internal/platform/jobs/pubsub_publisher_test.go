package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/maplewear/api/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "order-events")

	publisher, err := NewPubSubEventPublisher(topic, nil, nil)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:       "order.placed",
		OrderID:    "ord_1",
		OrderCode:  "MW-2025-000042",
		UserID:     "user_7",
		ToStatus:   "processing",
		OccurredAt: occurredAt.Unix(),
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.OrderCode != event.OrderCode {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.placed" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["toStatus"]; attr != "processing" {
		t.Fatalf("expected toStatus attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["fromStatus"]; ok {
		t.Fatal("empty fromStatus attribute should not be present")
	}
}

func TestPubSubEventPublisherPublishesStockEvent(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, "stock-events")

	publisher, err := NewPubSubEventPublisher(nil, nil, topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.StockEvent{
		Type:      "stock.adjusted",
		VariantID: "var_1",
		SKU:       "TEE-S-RED",
		Delta:     -2,
		Remaining: 3,
		OrderID:   "ord_1",
	}

	if err := publisher.PublishStockEvent(ctx, event); err != nil {
		t.Fatalf("PublishStockEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["delta"]; attr != "-2" {
		t.Fatalf("expected delta attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["sku"]; attr != "TEE-S-RED" {
		t.Fatalf("expected sku attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherMissingTopic(t *testing.T) {
	_, topic := newTestTopic(t, "order-events")

	publisher, err := NewPubSubEventPublisher(topic, nil, nil)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	if err := publisher.PublishReturnEvent(context.Background(), services.ReturnEvent{Type: "return.requested"}); err == nil {
		t.Fatal("expected error publishing to unconfigured return topic")
	}

	if _, err := NewPubSubEventPublisher(nil, nil, nil); err == nil {
		t.Fatal("expected error constructing publisher without topics")
	}
}
