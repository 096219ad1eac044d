package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
)

const (
	orderEventPlaced        = "order.placed"
	orderEventStatusChanged = "order.status_changed"
	orderEventDelivered     = "order.delivered"
	orderEventCanceled      = "order.canceled"

	stockEventDecremented = "stock.decremented"
	stockEventRestored    = "stock.restored"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	defaultReturnWindowDays = 30
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderEmptyCart is returned when checkout starts from an empty cart.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderAddressInvalid is returned when the shipping address reference is unusable.
	ErrOrderAddressInvalid = errors.New("order: invalid address")
	// ErrOrderOutOfStock is returned when any cart line exceeds available stock.
	ErrOrderOutOfStock = errors.New("order: out of stock")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// orderStateTransitions maps each status to the targets reachable from it.
// The out_for_delivery to canceled edge is gated separately by configuration.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusProcessing:     {domain.OrderStatusOutForDelivery, domain.OrderStatusCanceled},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      {},
	domain.OrderStatusCanceled:       {},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Variants repositories.VariantRepository
	Products repositories.ProductRepository
	Counters repositories.CounterRepository
	Cart     CartService
	// CancelOutForDelivery permits canceling orders already handed to a
	// carrier. Defaults to enabled when nil.
	CancelOutForDelivery *bool
	// ReturnWindowFallbackDays applies when a product carries no return
	// window of its own.
	ReturnWindowFallbackDays int
	UnitOfWork               repositories.UnitOfWork
	Clock                    func() time.Time
	IDGenerator              func() string
	Events                   OrderEventPublisher
	StockEvents              StockEventPublisher
	Logger                   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders               repositories.OrderRepository
	variants             repositories.VariantRepository
	products             repositories.ProductRepository
	counters             repositories.CounterRepository
	cart                 CartService
	cancelOutForDelivery bool
	returnWindowFallback int
	unitOfWork           repositories.UnitOfWork
	clock                func() time.Time
	newID                func() string
	events               OrderEventPublisher
	stockEvents          StockEventPublisher
	logger               func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("order service: variant repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("order service: cart service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	cancelOFD := true
	if deps.CancelOutForDelivery != nil {
		cancelOFD = *deps.CancelOutForDelivery
	}

	fallback := deps.ReturnWindowFallbackDays
	if fallback <= 0 {
		fallback = defaultReturnWindowDays
	}

	return &orderService{
		orders:               deps.Orders,
		variants:             deps.Variants,
		products:             deps.Products,
		counters:             deps.Counters,
		cart:                 deps.Cart,
		cancelOutForDelivery: cancelOFD,
		returnWindowFallback: fallback,
		unitOfWork:           unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		events:      deps.Events,
		stockEvents: deps.StockEvents,
		logger:      logger,
	}, nil
}

// PlaceOrder turns the user's cart into an order. Stock for every line is
// decremented in one storage transaction before the order is written; if the
// order write fails the decrement is compensated, so two buyers racing for
// the last unit resolve to exactly one order.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return Order{}, fmt.Errorf("%w: address id is required", ErrOrderAddressInvalid)
	}

	snapshot, err := s.cart.Snapshot(ctx, userID)
	if err != nil {
		return Order{}, fmt.Errorf("order: snapshot cart: %w", err)
	}
	if len(snapshot.Items) == 0 {
		return Order{}, fmt.Errorf("%w: user %s", ErrOrderEmptyCart, userID)
	}

	now := s.now()
	orderID := s.nextOrderID()

	lines := make([]repositories.StockLine, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		lines = append(lines, repositories.StockLine{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}

	adjustment, err := s.variants.DecrementStock(ctx, repositories.StockAdjustmentRequest{
		Lines:    lines,
		OrderRef: orderID,
		Now:      now,
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			switch stockErr.Code {
			case repositories.StockErrorInsufficient:
				return Order{}, fmt.Errorf("%w: %s", ErrOrderOutOfStock, strings.Join(stockErr.SKUs, ", "))
			case repositories.StockErrorVariantNotFound:
				return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, stockErr)
			}
		}
		if isRepoConflict(err) {
			// The decrement exhausted its optimistic retries under
			// contention; the buyer sees that as losing the last unit.
			return Order{}, fmt.Errorf("%w: %v", ErrOrderOutOfStock, err)
		}
		return Order{}, s.mapRepositoryError(err)
	}

	order := Order{
		ID:        orderID,
		UserID:    userID,
		AddressID: addressID,
		Status:    domain.OrderStatusProcessing,
		Items:     s.buildOrderItems(ctx, orderID, snapshot),
		Subtotal:  snapshot.Subtotal,
		Metadata:  cloneMap(cmd.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	code, err := s.generateOrderCode(ctx, now)
	if err != nil {
		s.compensateStock(ctx, lines, orderID, now)
		return Order{}, err
	}
	order.OrderCode = code

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		s.compensateStock(ctx, lines, orderID, now)
		return Order{}, err
	}

	if err := s.cart.ClearCart(ctx, userID); err != nil {
		// The order is already placed; a lingering cart is an annoyance,
		// not a correctness problem.
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"order_id": order.ID,
			"user_id":  userID,
			"error":    err.Error(),
		})
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventPlaced,
		OrderID:    order.ID,
		OrderCode:  order.OrderCode,
		UserID:     order.UserID,
		ToStatus:   order.Status,
		OccurredAt: now.Unix(),
		Metadata:   cloneMap(order.Metadata),
	})
	s.publishStockEvents(ctx, stockEventDecremented, lines, adjustment, orderID, now)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !opts.Admin && order.UserID != strings.TrimSpace(opts.UserID) {
		// Hide foreign orders rather than confirming their existence.
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus advances the order lifecycle. The write is a
// compare-and-set on the previous status, so concurrent transitions for the
// same order serialize and losers surface a conflict.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.NormalizeOrderStatus(domain.OrderStatus(strings.TrimSpace(string(cmd.Target))))
	if !isKnownOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	prevStatus := domain.NormalizeOrderStatus(order.Status)
	// Self-transitions are not in the edge table and fail like any other
	// illegal move, so a duplicate deliver callback surfaces loudly.
	if !s.canTransition(prevStatus, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, prevStatus, target)
	}

	now := s.now()
	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(&order, target, now)
	if target == domain.OrderStatusCanceled {
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			order.CancelReason = reason
		}
	}

	updated, err := s.orders.UpdateWithStatus(ctx, order, prevStatus)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if target == domain.OrderStatusCanceled {
		s.restoreStockForOrder(ctx, updated, now)
	}

	metadata := cloneMap(cmd.Metadata)
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventStatusChanged,
		OrderID:    updated.ID,
		OrderCode:  updated.OrderCode,
		UserID:     updated.UserID,
		FromStatus: prevStatus,
		ToStatus:   updated.Status,
		OccurredAt: now.Unix(),
		Metadata:   metadata,
	})
	switch target {
	case domain.OrderStatusDelivered:
		s.publishEvent(ctx, OrderEvent{
			Type:       orderEventDelivered,
			OrderID:    updated.ID,
			OrderCode:  updated.OrderCode,
			UserID:     updated.UserID,
			FromStatus: prevStatus,
			ToStatus:   updated.Status,
			OccurredAt: now.Unix(),
		})
	case domain.OrderStatusCanceled:
		s.publishEvent(ctx, OrderEvent{
			Type:       orderEventCanceled,
			OrderID:    updated.ID,
			OrderCode:  updated.OrderCode,
			UserID:     updated.UserID,
			FromStatus: prevStatus,
			ToStatus:   updated.Status,
			OccurredAt: now.Unix(),
			Metadata:   metadata,
		})
	}

	return updated, nil
}

// Cancel cancels the order on behalf of its owner or an operator. It is an
// ownership gate over the canceled transition.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.Admin && order.UserID != strings.TrimSpace(cmd.UserID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}

	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusCanceled,
		ActorID: cmd.UserID,
		Reason:  cmd.Reason,
	})
}

// canTransition reports whether the lifecycle permits moving from current to
// target, honouring the out_for_delivery cancellation gate.
func (s *orderService) canTransition(current, target domain.OrderStatus) bool {
	if current == domain.OrderStatusOutForDelivery && target == domain.OrderStatusCanceled {
		return s.cancelOutForDelivery
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// updateTimestamps stamps status-specific fields. Delivery additionally fixes
// each item's return deadline from its product return window.
func (s *orderService) updateTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		for i := range order.Items {
			days := order.Items[i].ReturnWindowDays
			if days <= 0 {
				days = s.returnWindowFallback
			}
			deadline := now.Add(time.Duration(days) * 24 * time.Hour)
			order.Items[i].ReturnDeadline = &deadline
		}
	case domain.OrderStatusCanceled:
		if order.CanceledAt == nil {
			order.CanceledAt = &now
		}
	}
}

// restoreStockForOrder returns the order's units to the shelf after a
// cancellation. Failures are logged, not surfaced; the cancellation already
// committed and operators reconcile the ledger from the log.
func (s *orderService) restoreStockForOrder(ctx context.Context, order Order, now time.Time) {
	lines := make([]repositories.StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, repositories.StockLine{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}
	result, err := s.variants.RestoreStock(ctx, repositories.StockAdjustmentRequest{
		Lines:    lines,
		OrderRef: order.ID,
		Now:      now,
	})
	if err != nil {
		s.logger(ctx, "order.stock_restore_failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return
	}
	s.publishStockEvents(ctx, stockEventRestored, lines, result, order.ID, now)
}

// compensateStock undoes a decrement whose order never materialised.
func (s *orderService) compensateStock(ctx context.Context, lines []repositories.StockLine, orderID string, now time.Time) {
	result, err := s.variants.RestoreStock(ctx, repositories.StockAdjustmentRequest{
		Lines:    lines,
		OrderRef: orderID,
		Now:      now,
	})
	if err != nil {
		s.logger(ctx, "order.stock_compensation_failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return
	}
	s.publishStockEvents(ctx, stockEventRestored, lines, result, orderID, now)
}

// buildOrderItems freezes the priced snapshot lines into order items.
func (s *orderService) buildOrderItems(ctx context.Context, orderID string, snapshot CartSnapshot) []OrderItem {
	windows := s.returnWindows(ctx, snapshot)
	items := make([]OrderItem, 0, len(snapshot.Items))
	for _, line := range snapshot.Items {
		items = append(items, OrderItem{
			ID:               orderItemIDPrefix + s.newID(),
			OrderID:          orderID,
			VariantID:        line.VariantID,
			ProductID:        line.ProductID,
			SKU:              line.SKU,
			Name:             line.Name,
			Quantity:         line.Quantity,
			PriceAtOrder:     line.UnitPrice,
			OriginalPrice:    line.OriginalPrice,
			ReturnWindowDays: windows[line.ProductID],
		})
	}
	return items
}

// returnWindows resolves the per-product return window for every snapshot
// line, falling back to the configured default when the product is gone or
// carries none.
func (s *orderService) returnWindows(ctx context.Context, snapshot CartSnapshot) map[string]int {
	windows := make(map[string]int)
	for _, line := range snapshot.Items {
		if _, done := windows[line.ProductID]; done {
			continue
		}
		days := s.returnWindowFallback
		if s.products != nil {
			if product, err := s.products.FindByID(ctx, line.ProductID); err == nil && product.ReturnWindowDays > 0 {
				days = product.ReturnWindowDays
			}
		}
		windows[line.ProductID] = days
	}
	return windows
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderCode(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", fmt.Errorf("order: next order sequence: %w", err)
	}
	return fmt.Sprintf("MW-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.ToStatus),
		})
	}
}

func (s *orderService) publishStockEvents(ctx context.Context, eventType string, lines []repositories.StockLine, result repositories.StockAdjustmentResult, orderID string, now time.Time) {
	if s.stockEvents == nil {
		return
	}
	for _, line := range lines {
		delta := -line.Quantity
		if eventType == stockEventRestored {
			delta = line.Quantity
		}
		event := StockEvent{
			Type:       eventType,
			VariantID:  line.VariantID,
			SKU:        line.SKU,
			Delta:      delta,
			Remaining:  result.Remaining[line.VariantID],
			OrderID:    orderID,
			OccurredAt: now.Unix(),
		}
		if err := s.stockEvents.PublishStockEvent(ctx, event); err != nil {
			s.logger(ctx, "order.stock_event.publish.failed", map[string]any{
				"type":       eventType,
				"variant_id": line.VariantID,
				"error":      err.Error(),
			})
		}
	}
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusProcessing, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, domain.OrderStatusCanceled:
		return true
	}
	return false
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func valuePtr[T any](v T) *T {
	return &v
}
