package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn           func(context.Context, domain.Order) error
	updateWithStatusFn func(context.Context, domain.Order, domain.OrderStatus) (domain.Order, error)
	findFn             func(context.Context, string) (domain.Order, error)
	findCodeFn         func(context.Context, string) (domain.Order, error)
	listFn             func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) UpdateWithStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	if s.updateWithStatusFn != nil {
		return s.updateWithStatusFn(ctx, order, expected)
	}
	return order, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, notFoundErr("order not found")
}

func (s *stubOrderRepo) FindByCode(ctx context.Context, orderCode string) (domain.Order, error) {
	if s.findCodeFn != nil {
		return s.findCodeFn(ctx, orderCode)
	}
	return domain.Order{}, notFoundErr("order not found")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubCartService struct {
	snapshotFn func(context.Context, string) (CartSnapshot, error)
	clearFn    func(context.Context, string) error
}

func (s *stubCartService) GetOrCreateCart(context.Context, string) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) AddItem(context.Context, AddCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) UpdateItemQuantity(context.Context, UpdateCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveItem(context.Context, RemoveCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) Snapshot(ctx context.Context, userID string) (CartSnapshot, error) {
	if s.snapshotFn != nil {
		return s.snapshotFn(ctx, userID)
	}
	return CartSnapshot{}, nil
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type captureStockEvents struct {
	events []StockEvent
}

func (c *captureStockEvents) PublishStockEvent(_ context.Context, event StockEvent) error {
	c.events = append(c.events, event)
	return nil
}

func testSnapshot(now time.Time) CartSnapshot {
	return CartSnapshot{
		UserID: "user_1",
		Items: []CartSnapshotItem{
			{VariantID: "var_1", ProductID: "prod_tee", SKU: "TEE-S-RED", Name: "Maple Tee", Quantity: 2, UnitPrice: 2000, OriginalPrice: 2500, LineTotal: 4000},
			{VariantID: "var_2", ProductID: "prod_tee", SKU: "TEE-M-BLUE", Name: "Maple Tee", Quantity: 1, UnitPrice: 2500, OriginalPrice: 2500, LineTotal: 2500},
		},
		Count:       3,
		Subtotal:    6500,
		EvaluatedAt: now,
	}
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	var decremented repositories.StockAdjustmentRequest
	var inserted domain.Order
	cleared := false
	events := &captureOrderEvents{}
	stockEvents := &captureStockEvents{}

	orders := &stubOrderRepo{insertFn: func(_ context.Context, order domain.Order) error {
		inserted = order
		return nil
	}}
	variants := &stubVariantRepo{decrementFn: func(_ context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
		decremented = req
		return repositories.StockAdjustmentResult{Remaining: map[string]int64{"var_1": 8, "var_2": 2}}, nil
	}}
	counters := &stubCounterRepo{nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
		if counterID != "orders" {
			t.Fatalf("unexpected counter id %s", counterID)
		}
		if step != 1 {
			t.Fatalf("unexpected step %d", step)
		}
		return 42, nil
	}}
	cart := &stubCartService{
		snapshotFn: func(context.Context, string) (CartSnapshot, error) { return testSnapshot(now), nil },
		clearFn: func(context.Context, string) error {
			cleared = true
			return nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Variants:    variants,
		Counters:    counters,
		Cart:        cart,
		Clock:       func() time.Time { return now },
		IDGenerator: sequentialIDs("id"),
		Events:      events,
		StockEvents: stockEvents,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "addr_1"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if order.OrderCode != "MW-2025-000042" {
		t.Fatalf("unexpected order code %s", order.OrderCode)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	if order.Subtotal != 6500 {
		t.Fatalf("expected subtotal 6500, got %d", order.Subtotal)
	}
	if len(order.Items) != 2 || order.Items[0].PriceAtOrder != 2000 || order.Items[0].OriginalPrice != 2500 {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if len(decremented.Lines) != 2 || decremented.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected stock request %+v", decremented)
	}
	if inserted.ID != order.ID {
		t.Fatalf("order not persisted")
	}
	if !cleared {
		t.Fatalf("cart was not cleared")
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventPlaced {
		t.Fatalf("unexpected events %+v", events.events)
	}
	if len(stockEvents.events) != 2 || stockEvents.events[0].Delta != -2 {
		t.Fatalf("unexpected stock events %+v", stockEvents.events)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	cart := &stubCartService{snapshotFn: func(context.Context, string) (CartSnapshot, error) {
		return CartSnapshot{UserID: "user_1", EvaluatedAt: now}, nil
	}}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Variants: &stubVariantRepo{},
		Counters: &stubCounterRepo{},
		Cart:     cart,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "addr_1"})
	if !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected ErrOrderEmptyCart, got %v", err)
	}
}

func TestPlaceOrderBlankAddress(t *testing.T) {
	ctx := context.Background()

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Variants: &stubVariantRepo{},
		Counters: &stubCounterRepo{},
		Cart:     &stubCartService{},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "   "})
	if !errors.Is(err, ErrOrderAddressInvalid) {
		t.Fatalf("expected ErrOrderAddressInvalid, got %v", err)
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	variants := &stubVariantRepo{decrementFn: func(context.Context, repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
		return repositories.StockAdjustmentResult{}, &repositories.StockError{
			Op:      "variants.decrement",
			Code:    repositories.StockErrorInsufficient,
			Message: "insufficient stock",
			SKUs:    []string{"TEE-M-BLUE"},
		}
	}}
	cart := &stubCartService{snapshotFn: func(context.Context, string) (CartSnapshot, error) {
		return testSnapshot(now), nil
	}}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Variants: variants,
		Counters: &stubCounterRepo{},
		Cart:     cart,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "addr_1"})
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("expected ErrOrderOutOfStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "TEE-M-BLUE") {
		t.Fatalf("expected offending SKU in error, got %v", err)
	}
}

func TestPlaceOrderLastUnitAdmitsOneBuyer(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	var mu sync.Mutex
	stock := int64(1)
	variants := &stubVariantRepo{decrementFn: func(_ context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
		mu.Lock()
		defer mu.Unlock()
		line := req.Lines[0]
		if stock < line.Quantity {
			return repositories.StockAdjustmentResult{}, &repositories.StockError{
				Op:      "variants.decrement",
				Code:    repositories.StockErrorInsufficient,
				Message: "insufficient stock",
				SKUs:    []string{line.SKU},
			}
		}
		stock -= line.Quantity
		return repositories.StockAdjustmentResult{Remaining: map[string]int64{line.VariantID: stock}}, nil
	}}
	cart := &stubCartService{snapshotFn: func(context.Context, string) (CartSnapshot, error) {
		return CartSnapshot{
			UserID:      "user_1",
			Items:       []CartSnapshotItem{{VariantID: "var_1", ProductID: "prod_tee", SKU: "TEE-S-RED", Quantity: 1, UnitPrice: 2500, OriginalPrice: 2500, LineTotal: 2500}},
			Count:       1,
			Subtotal:    2500,
			EvaluatedAt: now,
		}, nil
	}}

	var idMu sync.Mutex
	idSeq := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Variants: variants,
		Counters: &stubCounterRepo{},
		Cart:     cart,
		Clock:    func() time.Time { return now },
		IDGenerator: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			idSeq++
			return fmt.Sprintf("race%d", idSeq)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "addr_1"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var placed, outOfStock int
	for err := range results {
		switch {
		case err == nil:
			placed++
		case errors.Is(err, ErrOrderOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if placed != 1 || outOfStock != 1 {
		t.Fatalf("expected exactly one winner for the last unit, got %d placed and %d out of stock", placed, outOfStock)
	}
	mu.Lock()
	defer mu.Unlock()
	if stock != 0 {
		t.Fatalf("expected stock drained to 0, got %d", stock)
	}
}

func TestPlaceOrderMapsDecrementConflictToOutOfStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	variants := &stubVariantRepo{decrementFn: func(context.Context, repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
		return repositories.StockAdjustmentResult{}, conflictErr("stock version changed")
	}}
	cart := &stubCartService{snapshotFn: func(context.Context, string) (CartSnapshot, error) {
		return testSnapshot(now), nil
	}}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   &stubOrderRepo{},
		Variants: variants,
		Counters: &stubCounterRepo{},
		Cart:     cart,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "addr_1"})
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("expected exhausted stock contention to read as ErrOrderOutOfStock, got %v", err)
	}
}

func TestPlaceOrderInsertFailureRestoresStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	restored := false
	orders := &stubOrderRepo{insertFn: func(context.Context, domain.Order) error {
		return conflictErr("duplicate order")
	}}
	variants := &stubVariantRepo{
		decrementFn: func(context.Context, repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
			return repositories.StockAdjustmentResult{Remaining: map[string]int64{}}, nil
		},
		restoreFn: func(_ context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
			restored = true
			if len(req.Lines) != 2 {
				t.Fatalf("expected full compensation, got %+v", req.Lines)
			}
			return repositories.StockAdjustmentResult{Remaining: map[string]int64{}}, nil
		},
	}
	cart := &stubCartService{snapshotFn: func(context.Context, string) (CartSnapshot, error) {
		return testSnapshot(now), nil
	}}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Variants: variants,
		Counters: &stubCounterRepo{},
		Cart:     cart,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user_1", AddressID: "addr_1"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
	if !restored {
		t.Fatalf("expected stock compensation after failed insert")
	}
}

func deliveredTestOrder(now time.Time) domain.Order {
	return domain.Order{
		ID: "ord_1", UserID: "user_1", OrderCode: "MW-2025-000001",
		Status: domain.OrderStatusOutForDelivery,
		Items: []domain.OrderItem{
			{ID: "itm_1", OrderID: "ord_1", VariantID: "var_1", SKU: "TEE-S-RED", Quantity: 2, PriceAtOrder: 2000, ReturnWindowDays: 14},
			{ID: "itm_2", OrderID: "ord_1", VariantID: "var_2", SKU: "TEE-M-BLUE", Quantity: 1, PriceAtOrder: 2500},
		},
		Subtotal:  6500,
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-24 * time.Hour),
	}
}

func TestTransitionToDeliveredStampsDeadlines(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)

	stored := deliveredTestOrder(now)
	var written domain.Order
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateWithStatusFn: func(_ context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
			if expected != domain.OrderStatusOutForDelivery {
				t.Fatalf("expected CAS on out_for_delivery, got %s", expected)
			}
			written = order
			return order, nil
		},
	}
	events := &captureOrderEvents{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:                   orders,
		Variants:                 &stubVariantRepo{},
		Counters:                 &stubCounterRepo{},
		Cart:                     &stubCartService{},
		ReturnWindowFallbackDays: 30,
		Clock:                    func() time.Time { return now },
		Events:                   events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusDelivered})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.DeliveredAt == nil || !order.DeliveredAt.Equal(now) {
		t.Fatalf("expected DeliveredAt %v, got %v", now, order.DeliveredAt)
	}

	wantFirst := now.Add(14 * 24 * time.Hour)
	if order.Items[0].ReturnDeadline == nil || !order.Items[0].ReturnDeadline.Equal(wantFirst) {
		t.Fatalf("expected deadline %v, got %v", wantFirst, order.Items[0].ReturnDeadline)
	}
	wantFallback := now.Add(30 * 24 * time.Hour)
	if order.Items[1].ReturnDeadline == nil || !order.Items[1].ReturnDeadline.Equal(wantFallback) {
		t.Fatalf("expected fallback deadline %v, got %v", wantFallback, order.Items[1].ReturnDeadline)
	}
	if written.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected persisted delivered status, got %s", written.Status)
	}
	if len(events.events) != 2 || events.events[1].Type != orderEventDelivered {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestTransitionAcceptsLegacyShippedSpelling(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	stored := deliveredTestOrder(now)
	stored.Status = domain.OrderStatusProcessing

	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Variants: &stubVariantRepo{},
		Counters: &stubCounterRepo{},
		Cart:     &stubCartService{},
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatus("shipped")})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusOutForDelivery {
		t.Fatalf("expected normalization to out_for_delivery, got %s", order.Status)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	stored := deliveredTestOrder(now)
	stored.Status = domain.OrderStatusDelivered

	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Variants: &stubVariantRepo{},
		Counters: &stubCounterRepo{},
		Cart:     &stubCartService{},
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusProcessing})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}

	// A duplicate deliver callback is a self-transition, which has no edge.
	_, err = svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_1", Target: domain.OrderStatusDelivered})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for delivered to delivered, got %v", err)
	}
}

func TestCancelFromProcessingRestoresStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	stored := deliveredTestOrder(now)
	stored.Status = domain.OrderStatusProcessing

	restored := false
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	variants := &stubVariantRepo{restoreFn: func(_ context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
		restored = true
		if req.OrderRef != "ord_1" {
			t.Fatalf("unexpected order ref %s", req.OrderRef)
		}
		return repositories.StockAdjustmentResult{Remaining: map[string]int64{}}, nil
	}}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Variants: variants,
		Counters: &stubCounterRepo{},
		Cart:     &stubCartService{},
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord_1", UserID: "user_1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}
	if order.CanceledAt == nil || order.CancelReason != "changed my mind" {
		t.Fatalf("cancellation metadata missing: %+v", order)
	}
	if !restored {
		t.Fatalf("expected stock restore on cancellation")
	}
}

func TestCancelOutForDeliveryGatedByConfig(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	stored := deliveredTestOrder(now)

	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }}

	disabled := false
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:               orders,
		Variants:             &stubVariantRepo{},
		Counters:             &stubCounterRepo{},
		Cart:                 &stubCartService{},
		CancelOutForDelivery: &disabled,
		Clock:                func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord_1", UserID: "user_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState with gate closed, got %v", err)
	}

	svcOpen, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Variants: &stubVariantRepo{},
		Counters: &stubCounterRepo{},
		Cart:     &stubCartService{},
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := svcOpen.Cancel(ctx, CancelOrderCommand{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("Cancel with default gate: %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}
}

func TestGetOrderHidesForeignOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	stored := deliveredTestOrder(now)
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Variants: &stubVariantRepo{},
		Counters: &stubCounterRepo{},
		Cart:     &stubCartService{},
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	if _, err := svc.GetOrder(ctx, "ord_1", OrderReadOptions{UserID: "user_2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign user, got %v", err)
	}
	if _, err := svc.GetOrder(ctx, "ord_1", OrderReadOptions{Admin: true}); err != nil {
		t.Fatalf("admin read failed: %v", err)
	}
}
